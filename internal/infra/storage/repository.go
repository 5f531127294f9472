package storage

import (
	"context"
	"time"

	"github.com/vietddude/rpcsla/internal/core/domain"
)

// DefaultHistorySize is the number of metrics retained per key.
const DefaultHistorySize = 1000

// MetricStore holds the bounded SLA metric history per key.
// Keys are domain.Key strings ("org/endpoint", "org/*").
type MetricStore interface {
	// Append adds a metric to the ring for key, evicting the oldest beyond the store's cap.
	// It returns the number of evicted entries.
	Append(ctx context.Context, key string, metric domain.SLAMetric) (int, error)

	// Get returns the retained metrics for key, oldest first.
	Get(ctx context.Context, key string) ([]domain.SLAMetric, error)

	// Scan returns every key with the given prefix ("" for all keys).
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Evict removes all history for key.
	Evict(ctx context.Context, key string) error
}

// MetricSink receives metric and breach-episode transitions for durable storage.
type MetricSink interface {
	// WriteMetric persists one SLA metric.
	WriteMetric(ctx context.Context, metric domain.SLAMetric) error

	// WriteEpisode persists a breach episode; repeated writes of the same ID update it.
	WriteEpisode(ctx context.Context, episode domain.BreachEpisode) error
}

// AlertSink receives alert lifecycle events for delivery.
type AlertSink interface {
	// Name identifies the sink in logs and routing rules.
	Name() string

	// Deliver sends one alert event.
	Deliver(ctx context.Context, event domain.AlertEvent) error
}

// EndpointRepository is the config source for endpoint configurations.
type EndpointRepository interface {
	// List returns every stored endpoint.
	List(ctx context.Context) ([]domain.Endpoint, error)

	// Save inserts or updates an endpoint.
	Save(ctx context.Context, ep domain.Endpoint) error

	// Delete removes an endpoint.
	Delete(ctx context.Context, id string) error
}

// HistoryReader reads persisted metrics and episodes back for offline reporting.
type HistoryReader interface {
	// Metrics returns metrics for org recorded in [from, to).
	Metrics(ctx context.Context, orgID string, from, to time.Time) ([]domain.SLAMetric, error)

	// Episodes returns breach episodes for org that started in [from, to).
	Episodes(ctx context.Context, orgID string, from, to time.Time) ([]domain.BreachEpisode, error)
}

// RetentionRepository deletes rows that fell out of the retention window.
type RetentionRepository interface {
	// DeleteOlderThan removes rows older than before and returns how many were removed.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
