// Package gateway wraps the price store with bounded retries and operator
// notification. It is the only path the keeper uses to reach the store.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/vietddude/perpkeeper/internal/core/domain"
	"github.com/vietddude/perpkeeper/internal/core/retry"
	"github.com/vietddude/perpkeeper/internal/indexing/metrics"
	"github.com/vietddude/perpkeeper/internal/infra/notify"
	"github.com/vietddude/perpkeeper/internal/infra/storage"
)

var (
	// ErrInvalidRange is returned for a non-positive count or a negative
	// skip multiplier. It is never retried.
	ErrInvalidRange = errors.New("count must be positive and skipMultiplier non-negative")

	// ErrCursorUnavailable is returned when the latest block lookup failed,
	// as opposed to the store being empty.
	ErrCursorUnavailable = errors.New("latest block number unavailable")

	// ErrRangeUnavailable is returned when a range read exhausted its retries.
	ErrRangeUnavailable = errors.New("price range unavailable")
)

const (
	msgInsertFailed = "Error encountered multiple times while trying to insert a perp price update into the database. Please check."
	msgCursorFailed = "Tried getting the latest block number, but encountered a problem. Note: an empty database is not the problem."
	msgRangeFailed  = "Error encountered multiple times while trying to fetch required data from the database. Please check."
)

// Gateway is the retrying persistence gateway.
type Gateway struct {
	store    storage.PriceStore
	cache    storage.LatestCache
	notifier notify.Notifier
	policy   retry.Policy
	newTimer retry.TimerFunc
	log      *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCache mirrors every successful insert into a latest-price cache.
func WithCache(c storage.LatestCache) Option {
	return func(g *Gateway) { g.cache = c }
}

// WithPolicy overrides the retry ladder.
func WithPolicy(p retry.Policy) Option {
	return func(g *Gateway) { g.policy = p }
}

// WithTimer overrides the timer used between attempts.
func WithTimer(f retry.TimerFunc) Option {
	return func(g *Gateway) { g.newTimer = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// New creates a Gateway over store.
func New(store storage.PriceStore, notifier notify.Notifier, opts ...Option) *Gateway {
	g := &Gateway{
		store:    store,
		notifier: notifier,
		policy:   retry.Store,
		newTimer: retry.NewTimer,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With("component", "gateway")
	return g
}

func (g *Gateway) retrier(ctx context.Context, op string) *retry.Retry {
	return retry.NewRetry().
		WithContext(ctx).
		WithPolicy(g.policy).
		WithTimer(g.newTimer).
		WithOnError(func(err error, attempt int, next time.Duration) {
			metrics.StoreRetries.WithLabelValues(op).Inc()
			g.log.Warn("Store call failed, retrying",
				"op", op, "attempt", attempt, "next", next, "error", err)
		})
}

func (g *Gateway) notify(ctx context.Context, msg string) {
	if g.notifier != nil {
		g.notifier.Notify(ctx, msg)
	}
}

// Insert persists p. It never returns an error: after the last failed
// attempt the operator is notified once and false is returned.
func (g *Gateway) Insert(ctx context.Context, p domain.PricePoint) bool {
	err := g.retrier(ctx, "insert").Run(func() error {
		if err := p.Validate(); err != nil {
			return retry.Permanent(err)
		}
		return g.store.InsertRow(ctx, p)
	})
	if err != nil {
		metrics.StoreOperations.WithLabelValues("insert", "failed").Inc()
		if ctx.Err() != nil {
			g.log.Warn("Insert abandoned on shutdown", "point", p, "error", err)
			return false
		}
		g.log.Error("Insert failed", "point", p, "error", err)
		g.notify(ctx, msgInsertFailed)
		return false
	}
	metrics.StoreOperations.WithLabelValues("insert", "ok").Inc()

	if g.cache != nil {
		if err := g.cache.SetLatest(ctx, p); err != nil {
			g.log.Warn("Failed to update latest price cache", "error", err)
		}
	}
	return true
}

// LatestBlockNumber returns the cursor of the most recent row. An empty store
// yields an empty cursor; a failed lookup yields ErrCursorUnavailable.
func (g *Gateway) LatestBlockNumber(ctx context.Context) (domain.Cursor, error) {
	var (
		block *big.Int
		found bool
	)
	err := g.retrier(ctx, "latest_block").Run(func() error {
		b, ok, err := g.store.SelectMostRecentBlockNumber(ctx)
		if err != nil {
			return err
		}
		block, found = b, ok
		return nil
	})
	if err != nil {
		metrics.StoreOperations.WithLabelValues("latest_block", "failed").Inc()
		if ctx.Err() != nil {
			return domain.Cursor{}, ctx.Err()
		}
		g.log.Error("Latest block lookup failed", "error", err)
		g.notify(ctx, msgCursorFailed)
		return domain.Cursor{}, fmt.Errorf("%w: %w", ErrCursorUnavailable, err)
	}
	metrics.StoreOperations.WithLabelValues("latest_block", "ok").Inc()

	if !found {
		return domain.EmptyCursor(), nil
	}
	return domain.CursorAt(block), nil
}

// PeekCursor reads the cursor once, without retrying or notifying. It is
// meant for health checks, which must stay cheap during a store outage.
func (g *Gateway) PeekCursor(ctx context.Context) (domain.Cursor, error) {
	block, found, err := g.store.SelectMostRecentBlockNumber(ctx)
	if err != nil {
		return domain.Cursor{}, fmt.Errorf("%w: %w", ErrCursorUnavailable, err)
	}
	if !found {
		return domain.EmptyCursor(), nil
	}
	return domain.CursorAt(block), nil
}

// RangeQuery returns up to count newest rows after skipping
// count*skipMultiplier newest rows. Failures propagate to the caller.
func (g *Gateway) RangeQuery(ctx context.Context, count, skipMultiplier int64) ([]domain.PricePoint, error) {
	if count <= 0 || skipMultiplier < 0 {
		return nil, ErrInvalidRange
	}
	if skipMultiplier > 0 && count > math.MaxInt64/skipMultiplier {
		return nil, fmt.Errorf("%w: skip overflows", ErrInvalidRange)
	}
	skip := count * skipMultiplier

	var rows []domain.PricePoint
	err := g.retrier(ctx, "range").Run(func() error {
		page, err := g.store.SelectPage(ctx, skip, count)
		if errors.Is(err, storage.ErrInvalidPage) {
			return retry.Permanent(fmt.Errorf("%w: %w", ErrInvalidRange, err))
		}
		if err != nil {
			return err
		}
		rows = page
		return nil
	})
	if err != nil {
		metrics.StoreOperations.WithLabelValues("range", "failed").Inc()
		if errors.Is(err, ErrInvalidRange) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.log.Error("Range query failed", "count", count, "skip", skip, "error", err)
		g.notify(ctx, msgRangeFailed)
		return nil, fmt.Errorf("%w: %w", ErrRangeUnavailable, err)
	}
	metrics.StoreOperations.WithLabelValues("range", "ok").Inc()

	if rows == nil {
		rows = []domain.PricePoint{}
	}
	return rows, nil
}

// Latest returns the newest price point, preferring the cache.
func (g *Gateway) Latest(ctx context.Context) (domain.PricePoint, bool, error) {
	if g.cache != nil {
		p, ok, err := g.cache.GetLatest(ctx)
		if err == nil && ok {
			return p, true, nil
		}
		if err != nil {
			g.log.Debug("Latest price cache miss", "error", err)
		}
	}

	rows, err := g.RangeQuery(ctx, 1, 0)
	if err != nil {
		return domain.PricePoint{}, false, err
	}
	if len(rows) == 0 {
		return domain.PricePoint{}, false, nil
	}
	return rows[0], true, nil
}

// Count returns the number of stored rows without retrying.
func (g *Gateway) Count(ctx context.Context) (int64, error) {
	return g.store.Count(ctx)
}
