package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/rpcsla/internal/core/domain"
)

// MetricRepo stores SLA metrics and breach episodes. It implements
// storage.MetricSink and storage.HistoryReader.
type MetricRepo struct {
	db *DB
}

// NewMetricRepo creates a new PostgreSQL metric repository.
func NewMetricRepo(db *DB) *MetricRepo {
	return &MetricRepo{db: db}
}

// WriteMetric appends one metric.
func (r *MetricRepo) WriteMetric(ctx context.Context, m domain.SLAMetric) error {
	query := `
		INSERT INTO sla_metrics (
			org_id, endpoint_id, metric_type, value, threshold, compliance, status,
			recorded_at, window_start, window_end
		) VALUES (
			:org_id, :endpoint_id, :metric_type, :value, :threshold, :compliance, :status,
			:recorded_at, :window_start, :window_end
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("failed to insert metric: %w", err)
	}
	return nil
}

// WriteEpisode inserts a breach episode or updates its end, duration and compliance.
func (r *MetricRepo) WriteEpisode(ctx context.Context, ep domain.BreachEpisode) error {
	query := `
		INSERT INTO breach_episodes (
			id, org_id, endpoint_id, metric_type, started_at, ended_at,
			duration_minutes, severity, compliance
		) VALUES (
			:id, :org_id, :endpoint_id, :metric_type, :started_at, :ended_at,
			:duration_minutes, :severity, :compliance
		)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			duration_minutes = EXCLUDED.duration_minutes,
			compliance = EXCLUDED.compliance
	`
	if _, err := r.db.NamedExecContext(ctx, query, ep); err != nil {
		return fmt.Errorf("failed to upsert breach episode: %w", err)
	}
	return nil
}

// Metrics returns metrics for an organization recorded in [from, to).
func (r *MetricRepo) Metrics(ctx context.Context, orgID string, from, to time.Time) ([]domain.SLAMetric, error) {
	var out []domain.SLAMetric
	query := `
		SELECT org_id, endpoint_id, metric_type, value, threshold, compliance, status,
			recorded_at, window_start, window_end
		FROM sla_metrics
		WHERE org_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at
	`
	if err := r.db.SelectContext(ctx, &out, query, orgID, from, to); err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	return out, nil
}

// Episodes returns breach episodes for an organization that started in [from, to).
func (r *MetricRepo) Episodes(ctx context.Context, orgID string, from, to time.Time) ([]domain.BreachEpisode, error) {
	var out []domain.BreachEpisode
	query := `
		SELECT id, org_id, endpoint_id, metric_type, started_at, ended_at,
			duration_minutes, severity, compliance
		FROM breach_episodes
		WHERE org_id = $1 AND started_at >= $2 AND started_at < $3
		ORDER BY started_at DESC
	`
	if err := r.db.SelectContext(ctx, &out, query, orgID, from, to); err != nil {
		return nil, fmt.Errorf("failed to query breach episodes: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes metrics recorded before the cutoff and episodes that ended
// before it.
func (r *MetricRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sla_metrics WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune metrics: %w", err)
	}
	metrics, _ := res.RowsAffected()

	res, err = r.db.ExecContext(ctx, `DELETE FROM breach_episodes WHERE ended_at < $1`, before)
	if err != nil {
		return metrics, fmt.Errorf("failed to prune breach episodes: %w", err)
	}
	episodes, _ := res.RowsAffected()
	return metrics + episodes, nil
}
