package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/perpkeeper/internal/indexing/metrics"
)

// HeadSource reports the latest block height.
type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// HeadTracker polls the chain head in the background and serves cached
// reads to the health monitor, so health checks never hit the node directly.
type HeadTracker struct {
	source   HeadSource
	interval time.Duration
	ttl      time.Duration
	log      *slog.Logger

	mu       sync.RWMutex
	cached   uint64
	cachedAt time.Time
	lastErr  error
}

// NewHeadTracker creates a tracker. Zero interval defaults to 30s; cached
// values older than two intervals are refreshed on read.
func NewHeadTracker(source HeadSource, interval time.Duration, log *slog.Logger) *HeadTracker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &HeadTracker{
		source:   source,
		interval: interval,
		ttl:      2 * interval,
		log:      log.With("component", "head_tracker"),
	}
}

// Start runs the polling loop until ctx is done.
func (h *HeadTracker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.refresh(ctx)
		}
	}
}

func (h *HeadTracker) refresh(ctx context.Context) (uint64, error) {
	head, err := h.source.BlockNumber(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastErr = err
	if err != nil {
		h.log.Warn("Failed to refresh chain head", "error", err)
		return 0, err
	}
	h.cached = head
	h.cachedAt = time.Now()
	metrics.ChainHead.Set(float64(head))
	return head, nil
}

// BlockNumber returns the cached head if fresh, otherwise fetches it.
func (h *HeadTracker) BlockNumber(ctx context.Context) (uint64, error) {
	h.mu.RLock()
	if time.Since(h.cachedAt) < h.ttl && h.cached > 0 {
		cached := h.cached
		h.mu.RUnlock()
		return cached, nil
	}
	h.mu.RUnlock()

	return h.refresh(ctx)
}

// Invalidate forces the next read to hit the source.
func (h *HeadTracker) Invalidate() {
	h.mu.Lock()
	h.cachedAt = time.Time{}
	h.mu.Unlock()
}

// LastError returns the error of the last refresh, if any.
func (h *HeadTracker) LastError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}
