// Package backfill recovers PerpPriceUpdated events emitted while the
// pipeline was not listening.
//
// A pass reads the persisted cursor, splits the gap up to the chain head
// into fixed windows and persists every event in ascending block order.
// Only the cursor read and the range queries fail a pass; persistence
// failures are already escalated by the store gateway.
//
//	p := backfill.NewProcessor(backfill.DefaultConfig(), gw)
//	head, err := p.Pass(ctx, stream)
package backfill

import (
	"context"

	"github.com/vietddude/perpkeeper/internal/core/cursor"
	"github.com/vietddude/perpkeeper/internal/core/domain"
)

// Source is the chain side of a pass.
type Source interface {
	BlockNumber(ctx context.Context) (uint64, error)
	QueryEvents(ctx context.Context, from, to uint64) ([]domain.PricePoint, error)
}

// Sink is the store side of a pass.
type Sink interface {
	LatestBlockNumber(ctx context.Context) (domain.Cursor, error)
	Insert(ctx context.Context, p domain.PricePoint) bool
}

// Config bounds a pass.
type Config struct {
	StartBlock uint64 `yaml:"start_block"`
	Window     uint64 `yaml:"window"`
}

// DefaultConfig returns the production start block and window.
func DefaultConfig() Config {
	return Config{
		StartBlock: cursor.DefaultStartBlock,
		Window:     cursor.DefaultWindow,
	}
}

// NewProcessor creates a processor. Zero fields fall back to DefaultConfig.
func NewProcessor(config Config, sink Sink, opts ...Option) *Processor {
	if config.StartBlock == 0 {
		config.StartBlock = cursor.DefaultStartBlock
	}
	if config.Window == 0 {
		config.Window = cursor.DefaultWindow
	}
	p := &Processor{
		config: config,
		sink:   sink,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}
