package backfill

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/perpkeeper/internal/core/cursor"
	"github.com/vietddude/perpkeeper/internal/core/domain"
)

type mockSource struct {
	head    uint64
	headErr error
	events  []domain.PricePoint
	failAt  int

	mu      sync.Mutex
	queries [][2]uint64
}

func (s *mockSource) BlockNumber(ctx context.Context) (uint64, error) {
	return s.head, s.headErr
}

func (s *mockSource) QueryEvents(ctx context.Context, from, to uint64) ([]domain.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, [2]uint64{from, to})
	if s.failAt > 0 && len(s.queries) == s.failAt {
		return nil, errors.New("log query failed")
	}

	var out []domain.PricePoint
	// newest first to prove the pass sorts
	for i := len(s.events) - 1; i >= 0; i-- {
		b := s.events[i].BlockNumber.Uint64()
		if b >= from && b <= to {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

type mockSink struct {
	cursor    domain.Cursor
	cursorErr error
	reject    map[uint64]bool

	mu       sync.Mutex
	inserted []domain.PricePoint
}

func (s *mockSink) LatestBlockNumber(ctx context.Context) (domain.Cursor, error) {
	return s.cursor, s.cursorErr
}

func (s *mockSink) Insert(ctx context.Context, p domain.PricePoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject[p.BlockNumber.Uint64()] {
		return false
	}
	s.inserted = append(s.inserted, p)
	return true
}

func point(block uint64) domain.PricePoint {
	return domain.NewPricePoint(big.NewInt(int64(block)*10), big.NewInt(1700000000+int64(block)), block)
}

func TestPass_EmptyStoreQueriesFromStartBlock(t *testing.T) {
	start := cursor.DefaultStartBlock
	src := &mockSource{
		head: start + 250,
		events: []domain.PricePoint{
			point(start + 5), point(start + 120), point(start + 249),
		},
	}
	sink := &mockSink{cursor: domain.EmptyCursor()}
	p := NewProcessor(DefaultConfig(), sink)

	head, err := p.Pass(context.Background(), src)

	require.NoError(t, err)
	assert.Equal(t, start+250, head)
	assert.Equal(t, [][2]uint64{
		{start, start + 99},
		{start + 100, start + 199},
		{start + 200, start + 250},
	}, src.queries)

	require.Len(t, sink.inserted, 3)
	for i := 1; i < len(sink.inserted); i++ {
		assert.True(t, sink.inserted[i-1].Less(sink.inserted[i]), "rows must be stored in ascending block order")
	}

	stats := p.Stats()
	assert.Equal(t, 1, stats.Passes)
	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, 3, stats.Stored)
}

func TestPass_ResumesAfterCursor(t *testing.T) {
	src := &mockSource{head: 10_050}
	sink := &mockSink{cursor: domain.CursorAt(big.NewInt(10_000))}
	p := NewProcessor(Config{Window: 100}, sink)

	_, err := p.Pass(context.Background(), src)

	require.NoError(t, err)
	assert.Equal(t, [][2]uint64{{10_001, 10_050}}, src.queries)
}

func TestPass_UpToDate(t *testing.T) {
	src := &mockSource{head: 500}
	sink := &mockSink{cursor: domain.CursorAt(big.NewInt(500))}
	p := NewProcessor(DefaultConfig(), sink)

	head, err := p.Pass(context.Background(), src)

	require.NoError(t, err)
	assert.Equal(t, uint64(500), head)
	assert.Empty(t, src.queries)
}

func TestPass_CursorFailureFailsPass(t *testing.T) {
	src := &mockSource{head: 100}
	sink := &mockSink{cursorErr: errors.New("store down")}
	p := NewProcessor(DefaultConfig(), sink)

	_, err := p.Pass(context.Background(), src)

	require.Error(t, err)
	assert.Empty(t, src.queries)
	assert.Equal(t, 1, p.Stats().FailedPasses)
}

func TestPass_HeadFailureFailsPass(t *testing.T) {
	src := &mockSource{headErr: errors.New("ws closed")}
	p := NewProcessor(DefaultConfig(), &mockSink{cursor: domain.EmptyCursor()})

	_, err := p.Pass(context.Background(), src)

	assert.Error(t, err)
}

func TestPass_QueryFailureStoresNothing(t *testing.T) {
	start := cursor.DefaultStartBlock
	src := &mockSource{
		head:   start + 250,
		events: []domain.PricePoint{point(start + 1)},
		failAt: 2,
	}
	sink := &mockSink{cursor: domain.EmptyCursor()}
	p := NewProcessor(DefaultConfig(), sink)

	_, err := p.Pass(context.Background(), src)

	require.Error(t, err)
	assert.Len(t, src.queries, 2)
	assert.Empty(t, sink.inserted)
}

func TestPass_RejectedInsertDoesNotFailPass(t *testing.T) {
	start := cursor.DefaultStartBlock
	src := &mockSource{
		head:   start + 10,
		events: []domain.PricePoint{point(start + 1), point(start + 2), point(start + 3)},
	}
	sink := &mockSink{cursor: domain.EmptyCursor(), reject: map[uint64]bool{start + 2: true}}
	p := NewProcessor(DefaultConfig(), sink)

	_, err := p.Pass(context.Background(), src)

	require.NoError(t, err)
	assert.Len(t, sink.inserted, 2)
	assert.Equal(t, 1, p.Stats().Rejected)
}
