package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/vietddude/rpcsla/internal/core/clock"
	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/infra/storage"
)

// ConnectionTester performs the one-shot chain id check used to validate endpoints.
type ConnectionTester interface {
	TestConnection(ctx context.Context, url string, chainID uint64) bool
}

// Registry owns endpoint configurations. Reads are concurrent; writes are applied
// whole under the write lock and written through to the repository.
type Registry struct {
	tester ConnectionTester
	repo   storage.EndpointRepository
	clock  clock.Clock
	log    *slog.Logger

	mu        sync.RWMutex
	endpoints map[string]domain.Endpoint
}

// New creates a registry. repo may be nil for a purely in-memory registry.
func New(tester ConnectionTester, repo storage.EndpointRepository, clk clock.Clock) *Registry {
	return &Registry{
		tester:    tester,
		repo:      repo,
		clock:     clk,
		log:       slog.Default().With("component", "registry"),
		endpoints: make(map[string]domain.Endpoint),
	}
}

// Load reads stored endpoints and adds seed endpoints that are not stored yet.
// Seeds come from static configuration and are not connection-tested.
func (r *Registry) Load(ctx context.Context, seeds []domain.Endpoint) error {
	var stored []domain.Endpoint
	if r.repo != nil {
		var err error
		stored, err = r.repo.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to load endpoints: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ep := range stored {
		r.endpoints[ep.ID] = ep
	}

	now := r.clock.Now()
	for _, ep := range seeds {
		if ep.ID == "" {
			return fmt.Errorf("%w: seed endpoint %q has no id", domain.ErrConfiguration, ep.Name)
		}
		if _, ok := r.endpoints[ep.ID]; ok {
			continue
		}
		if err := validate(ep); err != nil {
			return fmt.Errorf("seed endpoint %s: %w", ep.ID, err)
		}
		ep.CreatedAt = now
		ep.UpdatedAt = now
		if err := r.save(ctx, ep); err != nil {
			return err
		}
		r.endpoints[ep.ID] = ep
	}

	r.log.Info("Endpoints loaded", "stored", len(stored), "total", len(r.endpoints))
	return nil
}

// Create validates connectivity and stores a new endpoint. Nothing is stored when
// the connection test fails.
func (r *Registry) Create(ctx context.Context, ep domain.Endpoint) (domain.Endpoint, error) {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.Name == "" {
		ep.Name = ep.ID
	}
	if err := validate(ep); err != nil {
		return domain.Endpoint{}, err
	}

	r.mu.RLock()
	_, exists := r.endpoints[ep.ID]
	r.mu.RUnlock()
	if exists {
		return domain.Endpoint{}, fmt.Errorf("%w: endpoint %s already exists", domain.ErrConflict, ep.ID)
	}

	if err := r.test(ctx, ep); err != nil {
		return domain.Endpoint{}, err
	}

	now := r.clock.Now()
	ep.CreatedAt = now
	ep.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[ep.ID]; ok {
		return domain.Endpoint{}, fmt.Errorf("%w: endpoint %s already exists", domain.ErrConflict, ep.ID)
	}
	if err := r.save(ctx, ep); err != nil {
		return domain.Endpoint{}, err
	}
	r.endpoints[ep.ID] = ep

	r.log.Info("Endpoint registered", "endpoint", ep.ID, "owner", ep.OwnerID, "chain_id", ep.ChainID)
	return ep, nil
}

// Get returns the endpoint with the given id.
func (r *Registry) Get(id string) (domain.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return domain.Endpoint{}, fmt.Errorf("%w: endpoint %s", domain.ErrNotFound, id)
	}
	return ep, nil
}

// List returns endpoints owned by ownerID ("" for all), ordered by priority then id.
func (r *Registry) List(ownerID string) []domain.Endpoint {
	r.mu.RLock()
	out := make([]domain.Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		if ownerID == "" || ep.OwnerID == ownerID {
			out = append(out, ep)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Enabled returns every enabled endpoint.
func (r *Registry) Enabled() []domain.Endpoint {
	all := r.List("")
	out := all[:0]
	for _, ep := range all {
		if ep.Enabled {
			out = append(out, ep)
		}
	}
	return out
}

// Update replaces an endpoint's configuration. The connection is re-tested only
// when the URL changes; on failure the prior configuration is kept.
func (r *Registry) Update(ctx context.Context, ep domain.Endpoint) (domain.Endpoint, error) {
	prior, err := r.Get(ep.ID)
	if err != nil {
		return domain.Endpoint{}, err
	}
	if ep.OwnerID == "" {
		ep.OwnerID = prior.OwnerID
	}
	if ep.OwnerID != prior.OwnerID {
		return domain.Endpoint{}, fmt.Errorf("%w: endpoint %s", domain.ErrNotFound, ep.ID)
	}
	if ep.Name == "" {
		ep.Name = prior.Name
	}
	if err := validate(ep); err != nil {
		return domain.Endpoint{}, err
	}

	if ep.URL != prior.URL {
		if err := r.test(ctx, ep); err != nil {
			return domain.Endpoint{}, err
		}
	}

	ep.CreatedAt = prior.CreatedAt
	ep.UpdatedAt = r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[ep.ID]; !ok {
		return domain.Endpoint{}, fmt.Errorf("%w: endpoint %s", domain.ErrNotFound, ep.ID)
	}
	if err := r.save(ctx, ep); err != nil {
		return domain.Endpoint{}, err
	}
	r.endpoints[ep.ID] = ep

	r.log.Info("Endpoint updated", "endpoint", ep.ID, "url_changed", ep.URL != prior.URL)
	return ep, nil
}

// Delete removes an endpoint.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[id]; !ok {
		return fmt.Errorf("%w: endpoint %s", domain.ErrNotFound, id)
	}
	if r.repo != nil {
		if err := r.repo.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete endpoint: %w", err)
		}
	}
	delete(r.endpoints, id)

	r.log.Info("Endpoint deleted", "endpoint", id)
	return nil
}

func (r *Registry) test(ctx context.Context, ep domain.Endpoint) error {
	ctx, cancel := context.WithTimeout(ctx, ep.ProbeTimeout())
	defer cancel()
	if !r.tester.TestConnection(ctx, ep.URL, ep.ChainID) {
		return fmt.Errorf("%w: cannot reach %s or chain id is not %d", domain.ErrConnectivity, ep.URL, ep.ChainID)
	}
	return nil
}

// save must be called with r.mu held.
func (r *Registry) save(ctx context.Context, ep domain.Endpoint) error {
	if r.repo == nil {
		return nil
	}
	if err := r.repo.Save(ctx, ep); err != nil {
		return fmt.Errorf("failed to save endpoint: %w", err)
	}
	return nil
}

func validate(ep domain.Endpoint) error {
	if ep.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", domain.ErrConfiguration)
	}
	if ep.ChainID == 0 {
		return fmt.Errorf("%w: chain id is required", domain.ErrConfiguration)
	}
	if ep.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", domain.ErrConfiguration)
	}
	u, err := url.Parse(ep.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: invalid endpoint url %q", domain.ErrConfiguration, ep.URL)
	}
	return nil
}
