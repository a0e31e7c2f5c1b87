package memory

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/vietddude/perpkeeper/internal/core/domain"
	"github.com/vietddude/perpkeeper/internal/infra/storage"
)

// PriceStore is an in-process storage.PriceStore used when no database is
// configured.
type PriceStore struct {
	mu     sync.RWMutex
	rows   []domain.PricePoint
	events map[string]struct{}
}

func NewPriceStore() *PriceStore {
	return &PriceStore{
		events: make(map[string]struct{}),
	}
}

func eventKey(p domain.PricePoint) string {
	return fmt.Sprintf("%s:%d", p.TxHash, p.LogIndex)
}

func (s *PriceStore) InsertRow(ctx context.Context, p domain.PricePoint) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.HasIdentity() {
		key := eventKey(p)
		if _, ok := s.events[key]; ok {
			return nil
		}
		s.events[key] = struct{}{}
	}
	s.rows = append(s.rows, p)
	return nil
}

func (s *PriceStore) SelectMostRecentBlockNumber(ctx context.Context) (*big.Int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.rows) == 0 {
		return nil, false, nil
	}
	last := s.rows[len(s.rows)-1]
	return new(big.Int).Set(last.BlockNumber), true, nil
}

func (s *PriceStore) SelectPage(ctx context.Context, skip, size int64) ([]domain.PricePoint, error) {
	if err := storage.ValidatePage(skip, size); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := int64(len(s.rows))
	if skip >= total {
		return []domain.PricePoint{}, nil
	}

	// newest first
	start := total - 1 - skip
	out := make([]domain.PricePoint, 0, min(size, start+1))
	for i := start; i >= 0 && int64(len(out)) < size; i-- {
		out = append(out, s.rows[i])
	}
	return out, nil
}

func (s *PriceStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rows)), nil
}
