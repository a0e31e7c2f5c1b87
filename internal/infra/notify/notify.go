// Package notify delivers operator notifications. Delivery is best effort:
// a failed notification is logged and never blocks or fails the caller.
package notify

import (
	"context"
	"log/slog"

	"github.com/vietddude/perpkeeper/internal/indexing/metrics"
)

// Notifier sends a message to the operator.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, message string)

func (f Func) Notify(ctx context.Context, message string) {
	f(ctx, message)
}

// Log writes notifications to a logger. Used when no mail transport is configured.
type Log struct {
	log *slog.Logger
}

func NewLog(log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{log: log.With("component", "notify")}
}

func (l *Log) Notify(ctx context.Context, message string) {
	metrics.Notifications.WithLabelValues("logged").Inc()
	l.log.Warn("Operator notification", "message", message)
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, message)
		}
	}
}
