package storage

import (
	"context"
	"errors"
	"math/big"

	"github.com/vietddude/perpkeeper/internal/core/domain"
)

var (
	// ErrInvalidPage is returned for a negative skip or non-positive page size.
	ErrInvalidPage = errors.New("invalid page")
)

// PriceStore is the append-only store of price points.
type PriceStore interface {
	// InsertRow appends one price point. A point whose event identity is
	// already stored is accepted without creating a second row.
	InsertRow(ctx context.Context, p domain.PricePoint) error

	// SelectMostRecentBlockNumber returns the block number of the most
	// recently inserted row. found is false when the store is empty.
	SelectMostRecentBlockNumber(ctx context.Context) (block *big.Int, found bool, err error)

	// SelectPage returns up to size rows after skipping skip rows,
	// ordered by insertion descending.
	SelectPage(ctx context.Context, skip, size int64) ([]domain.PricePoint, error)

	// Count returns the number of stored rows.
	Count(ctx context.Context) (int64, error)
}

// LatestCache holds the most recent price point for cheap reads.
type LatestCache interface {
	SetLatest(ctx context.Context, p domain.PricePoint) error
	GetLatest(ctx context.Context) (domain.PricePoint, bool, error)
}

// ValidatePage checks SelectPage arguments.
func ValidatePage(skip, size int64) error {
	if skip < 0 || size <= 0 {
		return ErrInvalidPage
	}
	return nil
}
