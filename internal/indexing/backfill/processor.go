package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/perpkeeper/internal/core/cursor"
	"github.com/vietddude/perpkeeper/internal/core/domain"
	"github.com/vietddude/perpkeeper/internal/indexing/metrics"
)

// Processor runs backfill passes.
type Processor struct {
	config Config
	sink   Sink
	log    *slog.Logger

	mu    sync.RWMutex
	stats Stats
}

// Stats summarizes the passes run so far.
type Stats struct {
	Passes        int
	FailedPasses  int
	Chunks        int
	Stored        int
	Rejected      int
	LastHead      uint64
	LastCompleted time.Time
}

type Option func(*Processor)

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.log = l }
}

func (p *Processor) logger() *slog.Logger {
	if p.log == nil {
		return slog.Default()
	}
	return p.log
}

// Pass backfills [cursor+1, head] once and returns the head it covered.
// A pass that returns an error may be retried as a whole; rows it already
// stored are not duplicated because the store ignores repeated events.
func (p *Processor) Pass(ctx context.Context, src Source) (uint64, error) {
	head, err := p.pass(ctx, src)
	p.mu.Lock()
	p.stats.Passes++
	if err != nil {
		p.stats.FailedPasses++
	} else {
		p.stats.LastHead = head
		p.stats.LastCompleted = time.Now()
	}
	p.mu.Unlock()

	if err != nil {
		metrics.BackfillPasses.WithLabelValues("failed").Inc()
		return 0, err
	}
	metrics.BackfillPasses.WithLabelValues("ok").Inc()
	return head, nil
}

func (p *Processor) pass(ctx context.Context, src Source) (uint64, error) {
	c, err := p.sink.LatestBlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}

	head, err := src.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("read chain head: %w", err)
	}
	metrics.ChainHead.Set(float64(head))

	from := cursor.ResumeFrom(c, p.config.StartBlock)
	windows, err := cursor.Windows(from, head, p.config.Window)
	if err != nil {
		return 0, err
	}
	if len(windows) == 0 {
		p.logger().Debug("Backfill up to date", "cursor", c, "head", head)
		return head, nil
	}

	p.logger().Info("Backfilling missed price events",
		"cursor", c, "from", from, "head", head, "chunks", len(windows))

	var events []domain.PricePoint
	for _, w := range windows {
		chunk, err := src.QueryEvents(ctx, w.From, w.To)
		if err != nil {
			return 0, fmt.Errorf("query events %d-%d: %w", w.From, w.To, err)
		}
		metrics.BackfillChunks.Inc()
		p.addChunk()
		events = append(events, chunk...)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Less(events[j])
	})

	stored := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if p.sink.Insert(ctx, ev) {
			stored++
			metrics.PricePointsStored.WithLabelValues("backfill").Inc()
		}
	}
	p.addStored(stored, len(events)-stored)
	metrics.IndexedBlock.Set(float64(head))

	p.logger().Info("Backfill pass complete",
		"events", len(events), "stored", stored, "head", head)
	return head, nil
}

func (p *Processor) addChunk() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Chunks++
}

func (p *Processor) addStored(stored, rejected int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Stored += stored
	p.stats.Rejected += rejected
}

// Stats returns a snapshot of processing statistics.
func (p *Processor) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}
