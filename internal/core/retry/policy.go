// Package retry provides the escalating backoff ladder shared by every
// retry loop in the keeper.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Delay returns min(base * 2^(attempt-1), cap).
// Attempts below 1 are treated as the first attempt. The result saturates at
// cap instead of overflowing for large attempt numbers.
func Delay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 || cap <= 0 {
		return 0
	}
	if base >= cap {
		return cap
	}

	d := base
	for i := 1; i < attempt; i++ {
		if d > cap-d {
			return cap
		}
		d *= 2
	}
	return d
}

// Policy describes one retry ladder: the wait before retry n is
// Delay(n, Base, Cap) and the operation runs at most MaxAttempts times.
type Policy struct {
	Base        time.Duration `yaml:"base"`
	Cap         time.Duration `yaml:"cap"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Ladders used across the keeper.
var (
	// Store covers every persistence gateway call.
	Store = Policy{Base: time.Second, Cap: 15 * time.Second, MaxAttempts: 5}
	// FundingRead covers reads of lastFundingTime.
	FundingRead = Policy{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 10}
	// FundingExecution covers submission and verification of a funding round.
	FundingExecution = Policy{Base: 15 * time.Second, Cap: 90 * time.Second, MaxAttempts: 10}
	// Connect covers websocket dial plus liveness probe.
	Connect = Policy{Base: 5 * time.Second, Cap: 60 * time.Second, MaxAttempts: 10}
	// Backfill covers one whole backfill pass.
	Backfill = Policy{Base: 10 * time.Second, Cap: 90 * time.Second, MaxAttempts: 10}
)

// Delay returns the wait before the given retry.
func (p Policy) Delay(attempt int) time.Duration {
	return Delay(attempt, p.Base, p.Cap)
}

// Attempts returns MaxAttempts, treating anything below 1 as a single attempt.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// NewBackOff returns a fresh stateful backoff.BackOff walking this ladder.
// It never stops on its own; attempt limits are applied by Retry.
func (p Policy) NewBackOff() backoff.BackOff {
	return &ladder{policy: p}
}

type ladder struct {
	policy  Policy
	attempt int
}

func (l *ladder) NextBackOff() time.Duration {
	l.attempt++
	return l.policy.Delay(l.attempt)
}

func (l *ladder) Reset() {
	l.attempt = 0
}
