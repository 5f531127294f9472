package sink

import (
	"context"
	"log/slog"

	"github.com/vietddude/rpcsla/internal/core/domain"
)

// Log writes metrics, episodes and alert events to the structured logger.
type Log struct {
	log *slog.Logger
}

// NewLog creates a logging sink.
func NewLog() *Log {
	return &Log{log: slog.Default().With("component", "sink", "sink", "log")}
}

func (l *Log) Name() string { return "log" }

func (l *Log) WriteMetric(ctx context.Context, m domain.SLAMetric) error {
	l.log.Debug("SLA metric",
		"key", m.Key().String(),
		"metric", m.Type,
		"value", m.Value,
		"compliance", m.Compliance,
		"status", m.Status,
	)
	return nil
}

func (l *Log) WriteEpisode(ctx context.Context, ep domain.BreachEpisode) error {
	l.log.Info("Breach episode",
		"id", ep.ID,
		"key", ep.Key().String(),
		"metric", ep.Type,
		"severity", ep.Severity,
		"duration_minutes", ep.Duration,
	)
	return nil
}

func (l *Log) Deliver(ctx context.Context, event domain.AlertEvent) error {
	l.log.Info("Alert event",
		"event", event.Type,
		"alert", event.Alert.ID,
		"key", event.Alert.Key().String(),
		"severity", event.Alert.Severity,
		"message", event.Alert.Message,
	)
	return nil
}
