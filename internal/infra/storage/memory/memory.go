package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/infra/storage"
)

type MemoryStorage struct {
	metrics   map[string]*ring
	endpoints map[string]domain.Endpoint
	capacity  int
	mu        sync.RWMutex
}

// NewMemoryStorage creates an in-process store retaining capacity metrics per key.
func NewMemoryStorage(capacity int) *MemoryStorage {
	if capacity <= 0 {
		capacity = storage.DefaultHistorySize
	}
	return &MemoryStorage{
		metrics:   make(map[string]*ring),
		endpoints: make(map[string]domain.Endpoint),
		capacity:  capacity,
	}
}

// -----------------------------------------------------------------------------
// Metric Store
// -----------------------------------------------------------------------------

// ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
type ring struct {
	buf   []domain.SLAMetric
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]domain.SLAMetric, capacity)}
}

func (r *ring) push(m domain.SLAMetric) (evicted bool) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = m
		r.size++
		return false
	}
	r.buf[r.start] = m
	r.start = (r.start + 1) % len(r.buf)
	return true
}

func (r *ring) items() []domain.SLAMetric {
	out := make([]domain.SLAMetric, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

type MetricStore struct {
	store *MemoryStorage
}

func NewMetricStore(store *MemoryStorage) *MetricStore {
	return &MetricStore{store: store}
}

func (s *MetricStore) Append(ctx context.Context, key string, m domain.SLAMetric) (int, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	r, ok := s.store.metrics[key]
	if !ok {
		r = newRing(s.store.capacity)
		s.store.metrics[key] = r
	}
	if r.push(m) {
		return 1, nil
	}
	return 0, nil
}

func (s *MetricStore) Get(ctx context.Context, key string) ([]domain.SLAMetric, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	r, ok := s.store.metrics[key]
	if !ok {
		return nil, nil
	}
	return r.items(), nil
}

func (s *MetricStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	keys := make([]string, 0, len(s.store.metrics))
	for k := range s.store.metrics {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MetricStore) Evict(ctx context.Context, key string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	delete(s.store.metrics, key)
	return nil
}

// -----------------------------------------------------------------------------
// Endpoint Repository
// -----------------------------------------------------------------------------

type EndpointRepo struct {
	store *MemoryStorage
}

func NewEndpointRepo(store *MemoryStorage) *EndpointRepo {
	return &EndpointRepo{store: store}
}

func (r *EndpointRepo) List(ctx context.Context) ([]domain.Endpoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.Endpoint, 0, len(r.store.endpoints))
	for _, ep := range r.store.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *EndpointRepo) Save(ctx context.Context, ep domain.Endpoint) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.endpoints[ep.ID] = ep
	return nil
}

func (r *EndpointRepo) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.endpoints, id)
	return nil
}
