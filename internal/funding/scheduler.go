// Package funding drives the periodic executeFundingRateMechanism call.
//
// The scheduler never trusts its own clock for the round boundary: every
// wake-up is derived from the lastFundingTime stored on chain. One
// incarnation reads lastFundingTime, waits until the round is due, submits
// the execution and verifies that lastFundingTime advanced. When a retry
// ladder is exhausted the incarnation is torn down and, within the restart
// budget, started again after a quiet period.
package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/perpkeeper/internal/core/domain"
	"github.com/vietddude/perpkeeper/internal/core/lifecycle"
	"github.com/vietddude/perpkeeper/internal/core/retry"
	"github.com/vietddude/perpkeeper/internal/indexing/metrics"
	"github.com/vietddude/perpkeeper/internal/infra/notify"
)

const component = "funding"

// Scheduler states.
const (
	StateIdle      lifecycle.State = "idle"
	StateWaiting   lifecycle.State = "waiting"
	StateExecuting lifecycle.State = "executing"
	StateVerifying lifecycle.State = "verifying"
)

var transitions = lifecycle.Transitions{
	StateIdle:      {StateWaiting, StateExecuting, lifecycle.StateRestarting},
	StateWaiting:   {StateExecuting, lifecycle.StateRestarting},
	StateExecuting: {StateVerifying, StateWaiting, lifecycle.StateRestarting},
	StateVerifying: {StateExecuting, StateWaiting, lifecycle.StateRestarting},
	lifecycle.StateRestarting: {
		StateIdle,
		lifecycle.StateTerminated,
	},
}

var (
	// ErrTerminated is returned by Run once the restart budget is spent.
	ErrTerminated = errors.New("funding scheduler terminated")

	// ErrRoundInFlight is returned when an execution is already running.
	ErrRoundInFlight = errors.New("funding round already executing")

	// ErrEscalated marks an incarnation that gave up and needs a restart.
	ErrEscalated = errors.New("funding round escalated")

	errSubmissionFailed       = errors.New("funding submission failed")
	errReverted               = errors.New("funding transaction reverted")
	errNotAdvanced            = errors.New("lastFundingTime did not advance")
	errFundingTimeUnavailable = errors.New("lastFundingTime unavailable")
)

const (
	msgFundingTimeRead     = "Tried fetching lastFundingTime 10 times over HTTP, but could not fetch it."
	msgFundingTimeUnusable = "Tried multiple times, but not able to fetch lastFundingTime. Please check."
	msgExecutionCalled     = "executeFundingRateMechanism function called."
	msgRoundAdvanced       = "Funding rate mechanism executed. lastFundingTime updated."
	msgNotAdvanced         = "executeFundingRateMechanism is confirming on chain, but lastFundingTime is not being updated. Either the funding precondition is failing or fundingRateMechanism is broken. Kindly check."
	msgReverted            = "Transaction calling executeFundingRateMechanism reaches the chain but is not successful (receipt status 0)."
	msgSubmissionFailed    = "Tried calling executeFundingRateMechanism but the transaction is failing. Possible reasons: low wallet balance, network issue."
	msgRestartCap          = "The funding scheduler reached its maximum restart count and is terminating. Please resolve the issue manually and restart the process."
)

// Ledger is the contract surface the scheduler needs.
type Ledger interface {
	LastFundingTime(ctx context.Context) (*big.Int, error)
	SubmitFundingExecution(ctx context.Context) (domain.FundingReceipt, error)
}

// Config tunes the scheduler.
type Config struct {
	RoundPeriod     time.Duration `yaml:"round_period"`
	MaxRestarts     int           `yaml:"max_restarts"` // 0 uses the default, negative disables restarts
	QuietPeriod     time.Duration `yaml:"quiet_period"`
	RedispatchDelay time.Duration `yaml:"redispatch_delay"`
	Read            retry.Policy  `yaml:"read"`
	Execution       retry.Policy  `yaml:"execution"`
}

// DefaultConfig returns the production schedule.
func DefaultConfig() Config {
	return Config{
		RoundPeriod:     8 * time.Hour,
		MaxRestarts:     5,
		QuietPeriod:     10 * time.Second,
		RedispatchDelay: 100 * time.Millisecond,
		Read:            retry.FundingRead,
		Execution:       retry.FundingExecution,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RoundPeriod <= 0 {
		c.RoundPeriod = d.RoundPeriod
	}
	switch {
	case c.MaxRestarts == 0:
		c.MaxRestarts = d.MaxRestarts
	case c.MaxRestarts < 0:
		c.MaxRestarts = 0
	}
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = d.QuietPeriod
	}
	if c.RedispatchDelay <= 0 {
		c.RedispatchDelay = d.RedispatchDelay
	}
	if c.Read.MaxAttempts == 0 {
		c.Read = d.Read
	}
	if c.Execution.MaxAttempts == 0 {
		c.Execution = d.Execution
	}
	return c
}

// Scheduler owns the funding round loop.
type Scheduler struct {
	cfg      Config
	ledger   Ledger
	notifier notify.Notifier
	log      *slog.Logger
	now      func() time.Time
	newTimer retry.TimerFunc
	machine  *lifecycle.Machine

	executing atomic.Bool
	restarts  atomic.Int32
	nextRound atomic.Int64

	mu    sync.RWMutex
	runID string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the local clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTimer overrides the timer used for every wait.
func WithTimer(f retry.TimerFunc) Option {
	return func(s *Scheduler) { s.newTimer = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New creates a scheduler. Zero config fields fall back to DefaultConfig.
func New(cfg Config, ledger Ledger, notifier notify.Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:      cfg.withDefaults(),
		ledger:   ledger,
		notifier: notifier,
		log:      slog.Default(),
		now:      time.Now,
		newTimer: retry.NewTimer,
		machine:  lifecycle.NewMachine(component, StateIdle, transitions),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", component)
	return s
}

// Run drives incarnations until ctx is done or the restart budget is spent.
func (s *Scheduler) Run(ctx context.Context) error {
	metrics.ComponentTerminated.WithLabelValues(component).Set(0)

	for {
		incCtx, cancel := context.WithCancel(ctx)
		s.setRunID(uuid.NewString())
		s.log.Info("Funding scheduler started", "run_id", s.RunID(), "restarts", s.Restarts())

		err := s.runIncarnation(incCtx)
		// drops every wait armed by this incarnation
		cancel()

		if ctx.Err() != nil {
			s.transition(lifecycle.StateStopped, "shutdown")
			return ctx.Err()
		}

		if int(s.restarts.Load()) >= s.cfg.MaxRestarts {
			s.transition(lifecycle.StateRestarting, err.Error())
			s.transition(lifecycle.StateTerminated, "restart budget spent")
			metrics.ComponentTerminated.WithLabelValues(component).Set(1)
			s.log.Error("Funding scheduler terminating", "restarts", s.Restarts(), "error", err)
			s.notify(ctx, msgRestartCap)
			return fmt.Errorf("%w: %w", ErrTerminated, err)
		}

		n := s.restarts.Add(1)
		metrics.ComponentRestarts.WithLabelValues(component).Inc()
		s.transition(lifecycle.StateRestarting, err.Error())
		s.log.Warn("Restarting funding scheduler",
			"restart", n, "max", s.cfg.MaxRestarts, "quiet_period", s.cfg.QuietPeriod, "error", err)

		if err := retry.Sleep(ctx, s.newTimer, s.cfg.QuietPeriod); err != nil {
			s.transition(lifecycle.StateStopped, "shutdown")
			return err
		}
		s.transition(StateIdle, "restart")
	}
}

func (s *Scheduler) runIncarnation(ctx context.Context) error {
	last, err := s.readLastFundingTime(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		last = big.NewInt(s.now().Unix())
		s.log.Warn("Falling back to local clock for lastFundingTime", "now", last)
	}

	timeLeft := s.timeLeft(last)
	for {
		if timeLeft > 0 {
			s.setNextRound(s.now().Add(timeLeft))
			s.transition(StateWaiting, fmt.Sprintf("next round in %s", timeLeft))
			if err := retry.Sleep(ctx, s.newTimer, timeLeft); err != nil {
				return err
			}
		}

		next, err := s.ExecuteRound(ctx)
		if err != nil {
			return err
		}

		timeLeft = next
		if timeLeft <= 0 {
			timeLeft = s.cfg.RedispatchDelay
		}
	}
}

// ExecuteRound submits one funding execution and verifies lastFundingTime
// advanced. It returns the time left until the following round. Only one
// execution runs at a time; a concurrent call gets ErrRoundInFlight.
func (s *Scheduler) ExecuteRound(ctx context.Context) (time.Duration, error) {
	if !s.executing.CompareAndSwap(false, true) {
		return 0, ErrRoundInFlight
	}
	defer s.executing.Store(false)

	s.transition(StateExecuting, "round due")

	r := retry.NewRetry().
		WithContext(ctx).
		WithPolicy(s.cfg.Execution).
		WithTimer(s.newTimer).
		WithOnError(func(err error, attempt int, next time.Duration) {
			s.log.Warn("Funding attempt failed", "attempt", attempt, "next", next, "error", err)
			s.transition(StateExecuting, "retry")
		})

	err := r.Run(func() error {
		return s.attempt(ctx)
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		s.log.Error("Funding round failed", "attempts", r.Attempts(), "error", err)
		s.notify(ctx, escalationMessage(err))
		return 0, fmt.Errorf("%w: %w", ErrEscalated, err)
	}

	metrics.FundingRounds.Inc()
	s.log.Info("Funding round confirmed", "attempts", r.Attempts())
	s.notify(ctx, msgRoundAdvanced)

	last, err := s.readLastFundingTime(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		s.notify(ctx, msgFundingTimeUnusable)
		return 0, fmt.Errorf("%w: %w: %w", ErrEscalated, errFundingTimeUnavailable, err)
	}
	return s.timeLeft(last), nil
}

// attempt is one submission plus verification.
func (s *Scheduler) attempt(ctx context.Context) error {
	receipt, err := s.ledger.SubmitFundingExecution(ctx)
	if err != nil {
		metrics.FundingAttempts.WithLabelValues("submission_failed").Inc()
		return fmt.Errorf("%w: %w", errSubmissionFailed, err)
	}

	switch receipt.Status {
	case domain.ReceiptConfirmed:
	case domain.ReceiptReverted:
		metrics.FundingAttempts.WithLabelValues("reverted").Inc()
		return fmt.Errorf("%w: tx %s", errReverted, receipt.TxHash)
	default:
		metrics.FundingAttempts.WithLabelValues("submission_failed").Inc()
		return fmt.Errorf("%w: status %q", errSubmissionFailed, receipt.Status)
	}

	metrics.FundingAttempts.WithLabelValues("confirmed").Inc()
	s.log.Info("Funding transaction confirmed", "tx", receipt.TxHash, "block", receipt.BlockNumber)
	s.notify(ctx, msgExecutionCalled)

	s.transition(StateVerifying, "receipt confirmed")
	last, err := s.readLastFundingTime(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		return retry.Permanent(fmt.Errorf("%w: %w", errFundingTimeUnavailable, err))
	}
	if s.timeLeft(last) <= 0 {
		metrics.FundingAttempts.WithLabelValues("not_advanced").Inc()
		return fmt.Errorf("%w: lastFundingTime=%s", errNotAdvanced, last)
	}
	return nil
}

// readLastFundingTime reads lastFundingTime on the read ladder and notifies
// when every attempt failed.
func (s *Scheduler) readLastFundingTime(ctx context.Context) (*big.Int, error) {
	var last *big.Int
	err := retry.NewRetry().
		WithContext(ctx).
		WithPolicy(s.cfg.Read).
		WithTimer(s.newTimer).
		WithOnError(func(err error, attempt int, next time.Duration) {
			s.log.Debug("lastFundingTime read failed", "attempt", attempt, "next", next, "error", err)
		}).
		Run(func() error {
			v, err := s.ledger.LastFundingTime(ctx)
			if err != nil {
				return err
			}
			last = v
			return nil
		})
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("lastFundingTime unavailable", "error", err)
			s.notify(ctx, msgFundingTimeRead)
		}
		return nil, err
	}
	return last, nil
}

// timeLeft returns lastFundingTime + RoundPeriod - now, saturated to the
// time.Duration range.
func (s *Scheduler) timeLeft(lastFundingTime *big.Int) time.Duration {
	period := big.NewInt(int64(s.cfg.RoundPeriod / time.Second))
	left := new(big.Int).Add(lastFundingTime, period)
	left.Sub(left, big.NewInt(s.now().Unix()))
	return secondsToDuration(left)
}

var maxSeconds = big.NewInt(math.MaxInt64 / int64(time.Second))

func secondsToDuration(sec *big.Int) time.Duration {
	if sec.Cmp(maxSeconds) > 0 {
		return time.Duration(math.MaxInt64)
	}
	if new(big.Int).Neg(sec).Cmp(maxSeconds) > 0 {
		return time.Duration(math.MinInt64)
	}
	return time.Duration(sec.Int64()) * time.Second
}

func escalationMessage(err error) string {
	switch {
	case errors.Is(err, errFundingTimeUnavailable):
		return msgFundingTimeUnusable
	case errors.Is(err, errNotAdvanced):
		return msgNotAdvanced
	case errors.Is(err, errReverted):
		return msgReverted
	default:
		return msgSubmissionFailed
	}
}

func (s *Scheduler) notify(ctx context.Context, msg string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, msg)
	}
}

func (s *Scheduler) transition(to lifecycle.State, reason string) {
	if err := s.machine.Transition(to, reason); err != nil {
		s.log.Debug("Ignoring state change", "error", err)
	}
}

func (s *Scheduler) setRunID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = id
}

func (s *Scheduler) setNextRound(t time.Time) {
	s.nextRound.Store(t.Unix())
	metrics.FundingNextRound.Set(float64(t.Unix()))
}

// RunID identifies the current incarnation.
func (s *Scheduler) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// State returns the current lifecycle state.
func (s *Scheduler) State() lifecycle.State {
	return s.machine.Current()
}

// Machine exposes the state machine for health reporting.
func (s *Scheduler) Machine() *lifecycle.Machine {
	return s.machine
}

// Restarts returns how many restarts happened so far.
func (s *Scheduler) Restarts() int {
	return int(s.restarts.Load())
}

// NextRound returns when the scheduler expects the next round, or the zero
// time if none was scheduled yet.
func (s *Scheduler) NextRound() time.Time {
	v := s.nextRound.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}
