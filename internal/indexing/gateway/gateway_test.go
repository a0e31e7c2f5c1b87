package gateway

import (
	"context"
	"errors"
	"math"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/perpkeeper/internal/core/domain"
	"github.com/vietddude/perpkeeper/internal/core/retry"
	"github.com/vietddude/perpkeeper/internal/indexing/health"
	"github.com/vietddude/perpkeeper/internal/infra/storage/memory"
)

// =============================================================================
// Fakes
// =============================================================================

type instantTimer struct {
	mu     *sync.Mutex
	delays *[]time.Duration
	c      chan time.Time
}

func (t instantTimer) C() <-chan time.Time { return t.c }
func (t instantTimer) Start(d time.Duration) {
	t.mu.Lock()
	*t.delays = append(*t.delays, d)
	t.mu.Unlock()
	t.c <- time.Now()
}
func (t instantTimer) Stop() {}

type timerLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (l *timerLog) factory() retry.TimerFunc {
	return func() retry.Timer {
		return instantTimer{mu: &l.mu, delays: &l.delays, c: make(chan time.Time, 1)}
	}
}

type recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *recorder) Notify(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// flakyStore fails the first failN calls of each operation, then delegates.
type flakyStore struct {
	*memory.PriceStore
	failN  int
	calls  map[string]int
	broken error
}

func newFlakyStore(failN int) *flakyStore {
	return &flakyStore{
		PriceStore: memory.NewPriceStore(),
		failN:      failN,
		calls:      make(map[string]int),
		broken:     errors.New("connection reset"),
	}
}

func (s *flakyStore) fail(op string) error {
	s.calls[op]++
	if s.calls[op] <= s.failN {
		return s.broken
	}
	return nil
}

func (s *flakyStore) InsertRow(ctx context.Context, p domain.PricePoint) error {
	if err := s.fail("insert"); err != nil {
		return err
	}
	return s.PriceStore.InsertRow(ctx, p)
}

func (s *flakyStore) SelectMostRecentBlockNumber(ctx context.Context) (*big.Int, bool, error) {
	if err := s.fail("latest"); err != nil {
		return nil, false, err
	}
	return s.PriceStore.SelectMostRecentBlockNumber(ctx)
}

func (s *flakyStore) SelectPage(ctx context.Context, skip, size int64) ([]domain.PricePoint, error) {
	if err := s.fail("page"); err != nil {
		return nil, err
	}
	return s.PriceStore.SelectPage(ctx, skip, size)
}

type mapCache struct {
	latest *domain.PricePoint
}

func (c *mapCache) SetLatest(ctx context.Context, p domain.PricePoint) error {
	c.latest = &p
	return nil
}

func (c *mapCache) GetLatest(ctx context.Context) (domain.PricePoint, bool, error) {
	if c.latest == nil {
		return domain.PricePoint{}, false, nil
	}
	return *c.latest, true, nil
}

func point(i int) domain.PricePoint {
	return domain.NewPricePoint(big.NewInt(int64(i)), big.NewInt(int64(1_700_000_000+i)), uint64(8591308+i))
}

func newTestGateway(store *flakyStore, rec *recorder, timers *timerLog, opts ...Option) *Gateway {
	opts = append([]Option{WithTimer(timers.factory())}, opts...)
	return New(store, rec, opts...)
}

// =============================================================================
// Insert
// =============================================================================

func TestInsert_ExhaustedNotifiesOnce(t *testing.T) {
	store := newFlakyStore(math.MaxInt)
	rec := &recorder{}
	timers := &timerLog{}
	g := newTestGateway(store, rec, timers)

	ok := g.Insert(context.Background(), point(1))

	assert.False(t, ok)
	assert.Equal(t, 5, store.calls["insert"])
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, msgInsertFailed, rec.messages[0])
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	}, timers.delays)
}

func TestInsert_RecoversWithinBudget(t *testing.T) {
	store := newFlakyStore(4)
	rec := &recorder{}
	cache := &mapCache{}
	g := newTestGateway(store, rec, &timerLog{}, WithCache(cache))

	ok := g.Insert(context.Background(), point(7))

	assert.True(t, ok)
	assert.Equal(t, 0, rec.count())
	n, _ := store.Count(context.Background())
	assert.Equal(t, int64(1), n)
	require.NotNil(t, cache.latest)
	assert.Equal(t, "7", cache.latest.Price.String())
}

func TestInsert_InvalidPointNotRetried(t *testing.T) {
	store := newFlakyStore(0)
	rec := &recorder{}
	g := newTestGateway(store, rec, &timerLog{})

	ok := g.Insert(context.Background(), domain.PricePoint{})

	assert.False(t, ok)
	assert.Equal(t, 0, store.calls["insert"])
	assert.Equal(t, 1, rec.count())
}

func TestInsert_ShutdownDoesNotNotify(t *testing.T) {
	store := newFlakyStore(math.MaxInt)
	rec := &recorder{}
	g := newTestGateway(store, rec, &timerLog{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, g.Insert(ctx, point(1)))
	assert.Equal(t, 0, rec.count())
}

// =============================================================================
// LatestBlockNumber
// =============================================================================

func TestLatestBlockNumber(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		g := newTestGateway(newFlakyStore(0), &recorder{}, &timerLog{})
		c, err := g.LatestBlockNumber(ctx)
		require.NoError(t, err)
		assert.True(t, c.Empty)
	})

	t.Run("populated store", func(t *testing.T) {
		store := newFlakyStore(2)
		_ = store.PriceStore.InsertRow(ctx, point(1))
		_ = store.PriceStore.InsertRow(ctx, point(5))
		rec := &recorder{}
		g := newTestGateway(store, rec, &timerLog{})

		c, err := g.LatestBlockNumber(ctx)
		require.NoError(t, err)
		assert.False(t, c.Empty)
		assert.Equal(t, uint64(8591313), c.BlockNumber.Uint64())
		assert.Equal(t, 0, rec.count())
	})

	t.Run("failure is not empty", func(t *testing.T) {
		store := newFlakyStore(math.MaxInt)
		rec := &recorder{}
		g := newTestGateway(store, rec, &timerLog{})

		c, err := g.LatestBlockNumber(ctx)
		assert.ErrorIs(t, err, ErrCursorUnavailable)
		assert.False(t, c.Empty)
		assert.Equal(t, 5, store.calls["latest"])
		assert.Equal(t, []string{msgCursorFailed}, rec.messages)
	})
}

func TestPeekCursor(t *testing.T) {
	store := newFlakyStore(0)
	g := newTestGateway(store, &recorder{}, &timerLog{})
	ctx := context.Background()

	c, err := g.PeekCursor(ctx)
	require.NoError(t, err)
	assert.True(t, c.Empty)

	require.True(t, g.Insert(ctx, point(4)))
	c, err = g.PeekCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "8591312", c.String())
}

func TestPeekCursor_HealthChecksDuringOutage(t *testing.T) {
	store := newFlakyStore(math.MaxInt)
	rec := &recorder{}
	timers := &timerLog{}
	g := newTestGateway(store, rec, timers)
	monitor := health.NewMonitor(g, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		monitor.Invalidate()
		report := monitor.CheckHealth(ctx)
		assert.Equal(t, health.StatusCritical, report.SystemStatus)
		assert.Contains(t, report.Store.Error, ErrCursorUnavailable.Error())
	}

	assert.Equal(t, 3, store.calls["latest"])
	assert.Zero(t, rec.count())
	assert.Empty(t, timers.delays)
}

// =============================================================================
// RangeQuery
// =============================================================================

func TestRangeQuery_PaginationLaw(t *testing.T) {
	ctx := context.Background()

	for size := 0; size <= 12; size++ {
		store := newFlakyStore(0)
		for i := 1; i <= size; i++ {
			_ = store.PriceStore.InsertRow(ctx, point(i))
		}
		g := newTestGateway(store, &recorder{}, &timerLog{})

		for x := int64(1); x <= 5; x++ {
			for y := int64(0); y <= 4; y++ {
				rows, err := g.RangeQuery(ctx, x, y)
				require.NoError(t, err)
				require.NotNil(t, rows)

				want := min(x, max(0, int64(size)-x*y))
				if int64(len(rows)) != want {
					t.Fatalf("S=%d x=%d y=%d: got %d rows, want %d", size, x, y, len(rows), want)
				}
				// newest first, starting right after the skipped rows
				for i, p := range rows {
					wantPrice := int64(size) - x*y - int64(i)
					if p.Price.Int64() != wantPrice {
						t.Fatalf("S=%d x=%d y=%d row %d: price %s, want %d", size, x, y, i, p.Price, wantPrice)
					}
				}
			}
		}
	}
}

func TestRangeQuery_InvalidInput(t *testing.T) {
	tests := []struct {
		name           string
		count          int64
		skipMultiplier int64
	}{
		{"zero count", 0, 1},
		{"negative count", -3, 0},
		{"negative multiplier", 10, -1},
		{"overflow", math.MaxInt64 / 2, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFlakyStore(0)
			rec := &recorder{}
			g := newTestGateway(store, rec, &timerLog{})

			_, err := g.RangeQuery(context.Background(), tt.count, tt.skipMultiplier)
			assert.ErrorIs(t, err, ErrInvalidRange)
			assert.Equal(t, 0, store.calls["page"])
			assert.Equal(t, 0, rec.count())
		})
	}
}

func TestRangeQuery_FailurePropagates(t *testing.T) {
	store := newFlakyStore(math.MaxInt)
	rec := &recorder{}
	g := newTestGateway(store, rec, &timerLog{})

	rows, err := g.RangeQuery(context.Background(), 10, 0)

	assert.Nil(t, rows)
	assert.ErrorIs(t, err, ErrRangeUnavailable)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, 5, store.calls["page"])
	assert.Equal(t, []string{msgRangeFailed}, rec.messages)
}

func TestLatest_PrefersCache(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore(0)
	cache := &mapCache{}
	g := newTestGateway(store, &recorder{}, &timerLog{}, WithCache(cache))

	_, ok, err := g.Latest(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.True(t, g.Insert(ctx, point(3)))
	store.calls["page"] = 0

	p, ok, err := g.Latest(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", p.Price.String())
	assert.Equal(t, 0, store.calls["page"])
}
