package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/rpcsla/internal/core/domain"
)

// endpointRow is the endpoints table layout. Timeouts are stored in milliseconds.
type endpointRow struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Name      string    `db:"name"`
	URL       string    `db:"url"`
	Network   string    `db:"network"`
	ChainID   int64     `db:"chain_id"`
	TimeoutMS int64     `db:"timeout_ms"`
	Enabled   bool      `db:"enabled"`
	Priority  int       `db:"priority"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func toEndpointRow(ep domain.Endpoint) endpointRow {
	return endpointRow{
		ID:        ep.ID,
		OwnerID:   ep.OwnerID,
		Name:      ep.Name,
		URL:       ep.URL,
		Network:   ep.Network,
		ChainID:   int64(ep.ChainID),
		TimeoutMS: ep.Timeout.Milliseconds(),
		Enabled:   ep.Enabled,
		Priority:  ep.Priority,
		CreatedAt: ep.CreatedAt,
		UpdatedAt: ep.UpdatedAt,
	}
}

func (r endpointRow) toDomain() domain.Endpoint {
	return domain.Endpoint{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Name:      r.Name,
		URL:       r.URL,
		Network:   r.Network,
		ChainID:   uint64(r.ChainID),
		Timeout:   time.Duration(r.TimeoutMS) * time.Millisecond,
		Enabled:   r.Enabled,
		Priority:  r.Priority,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

const endpointColumns = `id, owner_id, name, url, network, chain_id, timeout_ms, enabled, priority, created_at, updated_at`

// EndpointRepo implements storage.EndpointRepository using PostgreSQL.
type EndpointRepo struct {
	db *DB
}

// NewEndpointRepo creates a new PostgreSQL endpoint repository.
func NewEndpointRepo(db *DB) *EndpointRepo {
	return &EndpointRepo{db: db}
}

// List retrieves all endpoints.
func (r *EndpointRepo) List(ctx context.Context) ([]domain.Endpoint, error) {
	var rows []endpointRow
	query := `SELECT ` + endpointColumns + ` FROM endpoints ORDER BY priority, id`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	return toEndpoints(rows), nil
}

// ListByIDs retrieves the endpoints with the given ids.
func (r *EndpointRepo) ListByIDs(ctx context.Context, ids []string) ([]domain.Endpoint, error) {
	var rows []endpointRow
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE id = ANY($1) ORDER BY priority, id`
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to list endpoints by id: %w", err)
	}
	return toEndpoints(rows), nil
}

// Save inserts or updates an endpoint.
func (r *EndpointRepo) Save(ctx context.Context, ep domain.Endpoint) error {
	query := `
		INSERT INTO endpoints (` + endpointColumns + `)
		VALUES (:id, :owner_id, :name, :url, :network, :chain_id, :timeout_ms, :enabled, :priority, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			network = EXCLUDED.network,
			chain_id = EXCLUDED.chain_id,
			timeout_ms = EXCLUDED.timeout_ms,
			enabled = EXCLUDED.enabled,
			priority = EXCLUDED.priority,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, toEndpointRow(ep)); err != nil {
		return fmt.Errorf("failed to save endpoint: %w", err)
	}
	return nil
}

// Delete removes an endpoint.
func (r *EndpointRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete endpoint: %w", err)
	}
	return nil
}

func toEndpoints(rows []endpointRow) []domain.Endpoint {
	out := make([]domain.Endpoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out
}
