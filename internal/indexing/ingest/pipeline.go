// Package ingest keeps the price store in sync with PerpPriceUpdated events.
//
// Each incarnation of the pipeline runs three phases:
//
//  1. connect: dial the websocket, probe the head and subscribe
//  2. backfill: persist everything between the stored cursor and the head
//  3. stream: persist live events above the backfilled head
//
// Subscribing before backfilling means no event can fall between the two
// phases; live events at or below the backfilled head are dropped because
// backfill already covered them. A disconnect or an exhausted ladder tears
// the incarnation down and, within the restart budget, starts a new one.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/google/uuid"

	"github.com/vietddude/perpkeeper/internal/core/domain"
	"github.com/vietddude/perpkeeper/internal/core/lifecycle"
	"github.com/vietddude/perpkeeper/internal/core/retry"
	"github.com/vietddude/perpkeeper/internal/indexing/backfill"
	"github.com/vietddude/perpkeeper/internal/indexing/metrics"
	"github.com/vietddude/perpkeeper/internal/infra/notify"
)

const component = "ingest"

// Pipeline states.
const (
	StateDisconnected lifecycle.State = "disconnected"
	StateConnecting   lifecycle.State = "connecting"
	StateBackfilling  lifecycle.State = "backfilling"
	StateLive         lifecycle.State = "live"
)

var transitions = lifecycle.Transitions{
	StateDisconnected:         {StateConnecting, lifecycle.StateRestarting},
	StateConnecting:           {StateBackfilling, lifecycle.StateRestarting},
	StateBackfilling:          {StateLive, lifecycle.StateRestarting},
	StateLive:                 {lifecycle.StateRestarting},
	lifecycle.StateRestarting: {StateDisconnected, lifecycle.StateTerminated},
}

var (
	// ErrTerminated is returned by Run once the restart budget is spent.
	ErrTerminated = errors.New("ingest pipeline terminated")

	// ErrEscalated marks an incarnation that exhausted a retry ladder.
	ErrEscalated = errors.New("ingest pipeline escalated")

	// ErrDisconnected is returned when the live subscription dropped.
	ErrDisconnected = errors.New("event stream disconnected")
)

const (
	msgConnectFailed  = "Tried connecting websocket multiple times, but failed. Need manual intervention."
	msgBackfillFailed = "Tried fetching and updating database with previous missed perp price update events multiple times, but failed. Need manual intervention."
	msgRestartCap     = "The server portion that listens for and saves perp price updates is going down. It has reached its maximum restart count."
)

// Stream is one websocket connection to the node.
type Stream interface {
	backfill.Source
	Subscribe(ctx context.Context, sink chan<- domain.PricePoint) (ethereum.Subscription, error)
	Close()
}

// Dialer opens a new Stream.
type Dialer func(ctx context.Context) (Stream, error)

// Config tunes the pipeline.
type Config struct {
	Backfill      backfill.Config `yaml:",inline"`
	MaxRestarts   int             `yaml:"max_restarts"` // 0 uses the default, negative disables restarts
	QuietPeriod   time.Duration   `yaml:"quiet_period"`
	Buffer        int             `yaml:"buffer"`
	Connect       retry.Policy    `yaml:"connect"`
	BackfillRetry retry.Policy    `yaml:"backfill_retry"`
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Backfill:      backfill.DefaultConfig(),
		MaxRestarts:   10,
		QuietPeriod:   10 * time.Second,
		Buffer:        1024,
		Connect:       retry.Connect,
		BackfillRetry: retry.Backfill,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	switch {
	case c.MaxRestarts == 0:
		c.MaxRestarts = d.MaxRestarts
	case c.MaxRestarts < 0:
		c.MaxRestarts = 0
	}
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = d.QuietPeriod
	}
	if c.Buffer <= 0 {
		c.Buffer = d.Buffer
	}
	if c.Connect.MaxAttempts == 0 {
		c.Connect = d.Connect
	}
	if c.BackfillRetry.MaxAttempts == 0 {
		c.BackfillRetry = d.BackfillRetry
	}
	return c
}

// Pipeline is the restartable event ingestion loop.
type Pipeline struct {
	cfg       Config
	dial      Dialer
	store     backfill.Sink
	notifier  notify.Notifier
	processor *backfill.Processor
	newTimer  retry.TimerFunc
	log       *slog.Logger
	machine   *lifecycle.Machine

	restarts       atomic.Int32
	backfilledHead atomic.Uint64
	lastEvent      atomic.Int64

	mu    sync.RWMutex
	runID string
}

type Option func(*Pipeline)

// WithTimer overrides the timer used for every wait.
func WithTimer(f retry.TimerFunc) Option {
	return func(p *Pipeline) { p.newTimer = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New creates a pipeline persisting through store.
func New(cfg Config, dial Dialer, store backfill.Sink, notifier notify.Notifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg.withDefaults(),
		dial:     dial,
		store:    store,
		notifier: notifier,
		newTimer: retry.NewTimer,
		log:      slog.Default(),
		machine:  lifecycle.NewMachine(component, StateDisconnected, transitions),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", component)
	p.processor = backfill.NewProcessor(p.cfg.Backfill, store, backfill.WithLogger(p.log))
	return p
}

// Run drives incarnations until ctx is done or the restart budget is spent.
func (p *Pipeline) Run(ctx context.Context) error {
	metrics.ComponentTerminated.WithLabelValues(component).Set(0)

	for {
		incCtx, cancel := context.WithCancel(ctx)
		p.setRunID(uuid.NewString())
		p.log.Info("Ingest pipeline started", "run_id", p.RunID(), "restarts", p.Restarts())

		err := p.runIncarnation(incCtx)
		cancel()

		if ctx.Err() != nil {
			p.transition(lifecycle.StateStopped, "shutdown")
			return ctx.Err()
		}

		if int(p.restarts.Load()) >= p.cfg.MaxRestarts {
			p.transition(lifecycle.StateRestarting, err.Error())
			p.transition(lifecycle.StateTerminated, "restart budget spent")
			metrics.ComponentTerminated.WithLabelValues(component).Set(1)
			p.log.Error("Ingest pipeline terminating", "restarts", p.Restarts(), "error", err)
			p.notify(ctx, msgRestartCap)
			return fmt.Errorf("%w: %w", ErrTerminated, err)
		}

		n := p.restarts.Add(1)
		metrics.ComponentRestarts.WithLabelValues(component).Inc()
		p.transition(lifecycle.StateRestarting, err.Error())
		p.log.Warn("Restarting ingest pipeline",
			"restart", n, "max", p.cfg.MaxRestarts, "quiet_period", p.cfg.QuietPeriod, "error", err)

		if err := retry.Sleep(ctx, p.newTimer, p.cfg.QuietPeriod); err != nil {
			p.transition(lifecycle.StateStopped, "shutdown")
			return err
		}
		p.transition(StateDisconnected, "restart")
	}
}

type connection struct {
	stream Stream
	sub    ethereum.Subscription
}

// close releases the subscription and the socket. Run only reads the
// subscription's error channel before close, so a deliberate teardown is
// never reported as a disconnect.
func (c *connection) close() {
	c.sub.Unsubscribe()
	c.stream.Close()
}

func (p *Pipeline) runIncarnation(ctx context.Context) error {
	events := make(chan domain.PricePoint, p.cfg.Buffer)

	conn, err := p.connect(ctx, events)
	if err != nil {
		return err
	}
	defer conn.close()

	head, err := p.backfill(ctx, conn.stream)
	if err != nil {
		return err
	}

	p.transition(StateLive, fmt.Sprintf("backfilled to %d", head))
	p.log.Info("Listening for price events", "backfilled_head", head)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-conn.sub.Err():
			metrics.StreamDisconnects.Inc()
			p.log.Warn("Event stream disconnected", "error", err)
			if err == nil {
				return ErrDisconnected
			}
			return fmt.Errorf("%w: %w", ErrDisconnected, err)
		case ev := <-events:
			p.handleLive(ctx, ev, head)
		}
	}
}

// connect dials, probes the head and subscribes on the connect ladder.
func (p *Pipeline) connect(ctx context.Context, events chan<- domain.PricePoint) (*connection, error) {
	p.transition(StateConnecting, "dial")

	var conn *connection
	err := retry.NewRetry().
		WithContext(ctx).
		WithPolicy(p.cfg.Connect).
		WithTimer(p.newTimer).
		WithOnError(func(err error, attempt int, next time.Duration) {
			p.log.Warn("Websocket connect failed", "attempt", attempt, "next", next, "error", err)
		}).
		Run(func() error {
			s, err := p.dial(ctx)
			if err != nil {
				return err
			}
			head, err := s.BlockNumber(ctx)
			if err != nil {
				s.Close()
				return fmt.Errorf("liveness probe: %w", err)
			}
			sub, err := s.Subscribe(ctx, events)
			if err != nil {
				s.Close()
				return err
			}
			metrics.ChainHead.Set(float64(head))
			conn = &connection{stream: s, sub: sub}
			return nil
		})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.Error("Websocket unavailable", "error", err)
		p.notify(ctx, msgConnectFailed)
		return nil, fmt.Errorf("%w: %w", ErrEscalated, err)
	}
	return conn, nil
}

// backfill runs backfill passes on the backfill ladder.
func (p *Pipeline) backfill(ctx context.Context, s backfill.Source) (uint64, error) {
	p.transition(StateBackfilling, "connected")

	var head uint64
	err := retry.NewRetry().
		WithContext(ctx).
		WithPolicy(p.cfg.BackfillRetry).
		WithTimer(p.newTimer).
		WithOnError(func(err error, attempt int, next time.Duration) {
			p.log.Warn("Backfill pass failed", "attempt", attempt, "next", next, "error", err)
		}).
		Run(func() error {
			h, err := p.processor.Pass(ctx, s)
			if err != nil {
				return err
			}
			head = h
			return nil
		})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		p.log.Error("Backfill failed", "error", err)
		p.notify(ctx, msgBackfillFailed)
		return 0, fmt.Errorf("%w: %w", ErrEscalated, err)
	}
	p.backfilledHead.Store(head)
	return head, nil
}

func (p *Pipeline) handleLive(ctx context.Context, ev domain.PricePoint, head uint64) {
	metrics.EventsReceived.Inc()
	if ev.BlockNumber == nil {
		p.log.Warn("Dropping event without block number", "event", ev)
		return
	}
	if ev.BlockNumber.IsUint64() && ev.BlockNumber.Uint64() <= head {
		metrics.EventsSkipped.Inc()
		return
	}

	p.lastEvent.Store(time.Now().Unix())
	if p.store.Insert(ctx, ev) {
		metrics.PricePointsStored.WithLabelValues("live").Inc()
		metrics.IndexedBlock.Set(float64(ev.BlockNumber.Uint64()))
		p.log.Debug("Stored price event", "event", ev)
	}
}

// BackfillOnce dials a single connection and runs backfill on the backfill
// ladder without subscribing. It returns the head it covered.
func (p *Pipeline) BackfillOnce(ctx context.Context) (uint64, error) {
	s, err := p.dial(ctx)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer s.Close()
	return p.backfill(ctx, s)
}

func (p *Pipeline) notify(ctx context.Context, msg string) {
	if p.notifier != nil {
		p.notifier.Notify(ctx, msg)
	}
}

func (p *Pipeline) transition(to lifecycle.State, reason string) {
	if err := p.machine.Transition(to, reason); err != nil {
		p.log.Debug("Ignoring state change", "error", err)
	}
}

func (p *Pipeline) setRunID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runID = id
}

// RunID identifies the current incarnation.
func (p *Pipeline) RunID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.runID
}

func (p *Pipeline) State() lifecycle.State {
	return p.machine.Current()
}

func (p *Pipeline) Machine() *lifecycle.Machine {
	return p.machine
}

func (p *Pipeline) Restarts() int {
	return int(p.restarts.Load())
}

// Head returns the head covered by the last successful backfill.
func (p *Pipeline) Head() uint64 {
	return p.backfilledHead.Load()
}

// LastEventAt returns when the last live event above the backfilled head
// arrived, or the zero time.
func (p *Pipeline) LastEventAt() time.Time {
	v := p.lastEvent.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}

// BackfillStats exposes the backfill processor statistics.
func (p *Pipeline) BackfillStats() backfill.Stats {
	return p.processor.Stats()
}
