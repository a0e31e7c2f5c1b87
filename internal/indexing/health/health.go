// Package health provides system health monitoring and status reporting.
package health

import (
	"time"

	"github.com/vietddude/perpkeeper/internal/core/lifecycle"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// rank orders statuses so the worst one wins.
func (s SystemStatus) rank() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Worse returns the more severe of s and o.
func (s SystemStatus) Worse(o SystemStatus) SystemStatus {
	if o.rank() > s.rank() {
		return o
	}
	return s
}

// ComponentHealth describes one supervised component.
type ComponentHealth struct {
	Name        string                 `json:"name"`
	Status      SystemStatus           `json:"status"`
	State       lifecycle.State        `json:"state"`
	Restarts    int                    `json:"restarts"`
	LastEventAt *time.Time             `json:"last_event_at,omitempty"` // streaming components only
	History     []lifecycle.Transition `json:"history,omitempty"`
}

// StoreHealth describes the persisted price history.
type StoreHealth struct {
	Status      SystemStatus `json:"status"`
	Rows        int64        `json:"rows"`
	LatestBlock string       `json:"latest_block"`
	ChainHead   uint64       `json:"chain_head"`
	BlockLag    uint64       `json:"block_lag"`
	Error       string       `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Components   map[string]ComponentHealth `json:"components"`
	Store        StoreHealth                `json:"store"`
	CheckedAt    time.Time                  `json:"checked_at"`
}
