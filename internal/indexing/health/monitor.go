package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/perpkeeper/internal/core/domain"
	"github.com/vietddude/perpkeeper/internal/core/lifecycle"
)

// Component is a supervised long-running component.
type Component interface {
	Machine() *lifecycle.Machine
	Restarts() int
}

// StoreReader reads the persisted cursor and row count. Both reads are
// single attempts.
type StoreReader interface {
	PeekCursor(ctx context.Context) (domain.Cursor, error)
	Count(ctx context.Context) (int64, error)
}

// Stream is implemented by components fed by a live event stream.
type Stream interface {
	LastEventAt() time.Time
}

// HeadFetcher fetches the latest chain height.
type HeadFetcher interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Monitor aggregates health status from the keeper components.
type Monitor struct {
	components []Component
	store      StoreReader
	heads      HeadFetcher
	interval   time.Duration

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// NewMonitor creates a new health monitor. heads may be nil.
func NewMonitor(store StoreReader, heads HeadFetcher, components ...Component) *Monitor {
	return &Monitor{
		components: components,
		store:      store,
		heads:      heads,
		interval:   10 * time.Second,
	}
}

// CheckHealth builds a report. Results are reused for a few seconds so
// health probes do not hammer the store.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.interval {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth, len(m.components)),
		CheckedAt:    time.Now(),
	}

	for _, c := range m.components {
		h := componentHealth(c)
		report.Components[h.Name] = h
		report.SystemStatus = report.SystemStatus.Worse(h.Status)
	}

	report.Store = m.storeHealth(ctx)
	report.SystemStatus = report.SystemStatus.Worse(report.Store.Status)

	m.lastCheck = report.CheckedAt
	m.lastReport = &report
	return report
}

func componentHealth(c Component) ComponentHealth {
	machine := c.Machine()
	h := ComponentHealth{
		Name:     machine.Name(),
		Status:   StatusHealthy,
		State:    machine.Current(),
		Restarts: c.Restarts(),
		History:  machine.History(),
	}
	if s, ok := c.(Stream); ok {
		if at := s.LastEventAt(); !at.IsZero() {
			h.LastEventAt = &at
		}
	}

	switch h.State {
	case lifecycle.StateTerminated:
		h.Status = StatusCritical
	case lifecycle.StateRestarting:
		h.Status = StatusDegraded
	}
	return h
}

func (m *Monitor) storeHealth(ctx context.Context) StoreHealth {
	h := StoreHealth{Status: StatusHealthy}

	c, err := m.store.PeekCursor(ctx)
	if err != nil {
		h.Status = StatusCritical
		h.Error = err.Error()
		return h
	}
	h.LatestBlock = c.String()

	rows, err := m.store.Count(ctx)
	if err != nil {
		h.Status = StatusDegraded
		h.Error = err.Error()
	}
	h.Rows = rows

	if m.heads == nil {
		return h
	}
	head, err := m.heads.BlockNumber(ctx)
	if err != nil {
		h.Status = h.Status.Worse(StatusDegraded)
		h.Error = err.Error()
		return h
	}
	h.ChainHead = head
	if !c.Empty && c.BlockNumber.IsUint64() && head > c.BlockNumber.Uint64() {
		h.BlockLag = head - c.BlockNumber.Uint64()
	}
	return h
}

// Invalidate drops the cached report.
func (m *Monitor) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReport = nil
}
