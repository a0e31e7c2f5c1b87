package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is wrapped by Run when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Timer is the wait primitive used between attempts.
type Timer = backoff.Timer

// TimerFunc creates a fresh Timer for one wait sequence.
type TimerFunc func() Timer

// NewTimer returns a Timer backed by time.Timer.
func NewTimer() Timer {
	return &stdTimer{}
}

type stdTimer struct {
	timer *time.Timer
}

func (t *stdTimer) C() <-chan time.Time {
	return t.timer.C
}

func (t *stdTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = time.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *stdTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Sleep blocks for d or until ctx is done. The timer is always stopped.
func Sleep(ctx context.Context, newTimer TimerFunc, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if newTimer == nil {
		newTimer = NewTimer
	}
	t := newTimer()
	t.Start(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

// Permanent marks err as non-retryable. Run returns it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs an operation on a Policy ladder.
type Retry struct {
	ctx      context.Context
	policy   Policy
	timer    TimerFunc
	onError  func(err error, attempt int, next time.Duration)
	attempts int
}

func NewRetry() *Retry {
	return &Retry{
		ctx:    context.Background(),
		policy: Store,
	}
}

func (r *Retry) WithContext(ctx context.Context) *Retry {
	r.ctx = ctx
	return r
}

func (r *Retry) WithPolicy(p Policy) *Retry {
	r.policy = p
	return r
}

// WithMaxAttempts overrides the policy's attempt limit.
func (r *Retry) WithMaxAttempts(n int) *Retry {
	r.policy.MaxAttempts = n
	return r
}

func (r *Retry) WithTimer(f TimerFunc) *Retry {
	r.timer = f
	return r
}

// WithOnError is called after every failed attempt that will be retried.
func (r *Retry) WithOnError(f func(err error, attempt int, next time.Duration)) *Retry {
	r.onError = f
	return r
}

// Attempts reports how many times the operation ran in the last Run.
func (r *Retry) Attempts() int {
	return r.attempts
}

// Run calls f until it succeeds, returns a Permanent error, the context is
// done, or the attempt limit is reached. In the last case the returned error
// wraps both ErrExhausted and the final failure.
func (r *Retry) Run(f func() error) error {
	r.attempts = 0
	permanent := false

	op := func() error {
		r.attempts++
		err := f()
		var perr *backoff.PermanentError
		if errors.As(err, &perr) {
			permanent = true
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		if r.onError != nil {
			r.onError(err, r.attempts, next)
		}
	}

	var timer Timer
	if r.timer != nil {
		timer = r.timer()
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(r.policy.NewBackOff(), uint64(r.policy.Attempts()-1)),
		r.ctx,
	)
	err := backoff.RetryNotifyWithTimer(op, b, notify, timer)
	if err == nil || permanent || r.ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, r.attempts, err)
}
