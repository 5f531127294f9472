package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/rpcsla/internal/core/domain"
)

// AlertRepo persists alert lifecycle events. It implements storage.AlertSink.
type AlertRepo struct {
	db *DB
}

// NewAlertRepo creates a new PostgreSQL alert repository.
func NewAlertRepo(db *DB) *AlertRepo {
	return &AlertRepo{db: db}
}

func (r *AlertRepo) Name() string { return "postgres" }

// Deliver upserts the alert carried by the event.
func (r *AlertRepo) Deliver(ctx context.Context, ev domain.AlertEvent) error {
	query := `
		INSERT INTO sla_alerts (
			id, org_id, endpoint_id, metric_type, current_value, threshold, compliance,
			severity, message, created_at, updated_at, acknowledged, acknowledged_by, acknowledged_at
		) VALUES (
			:id, :org_id, :endpoint_id, :metric_type, :current_value, :threshold, :compliance,
			:severity, :message, :created_at, :updated_at, :acknowledged, :acknowledged_by, :acknowledged_at
		)
		ON CONFLICT (id) DO UPDATE SET
			current_value = EXCLUDED.current_value,
			threshold = EXCLUDED.threshold,
			compliance = EXCLUDED.compliance,
			severity = EXCLUDED.severity,
			message = EXCLUDED.message,
			updated_at = EXCLUDED.updated_at,
			acknowledged = EXCLUDED.acknowledged,
			acknowledged_by = EXCLUDED.acknowledged_by,
			acknowledged_at = EXCLUDED.acknowledged_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, ev.Alert); err != nil {
		return fmt.Errorf("failed to upsert alert: %w", err)
	}
	return nil
}

// List returns alerts for an organization, newest first.
func (r *AlertRepo) List(ctx context.Context, orgID string, all bool) ([]domain.SLAAlert, error) {
	var out []domain.SLAAlert
	query := `
		SELECT id, org_id, endpoint_id, metric_type, current_value, threshold, compliance,
			severity, message, created_at, updated_at, acknowledged, acknowledged_by, acknowledged_at
		FROM sla_alerts
		WHERE org_id = $1 AND ($2 OR NOT acknowledged)
		ORDER BY created_at DESC
	`
	if err := r.db.SelectContext(ctx, &out, query, orgID, all); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes acknowledged alerts last updated before the cutoff.
func (r *AlertRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sla_alerts WHERE acknowledged AND updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
