package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/rpcsla/internal/core/domain"
)

func TestMetricStore_RingEvictsOldest(t *testing.T) {
	store := NewMetricStore(NewMemoryStorage(3))
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	evicted := 0
	for i := 0; i < 5; i++ {
		n, err := store.Append(ctx, "org/ep", domain.SLAMetric{Value: float64(i), Timestamp: base.Add(time.Duration(i) * time.Minute)})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		evicted += n
	}

	if evicted != 2 {
		t.Errorf("expected 2 evictions, got %d", evicted)
	}

	got, _ := store.Get(ctx, "org/ep")
	if len(got) != 3 {
		t.Fatalf("expected 3 retained metrics, got %d", len(got))
	}
	for i, m := range got {
		if m.Value != float64(i+2) {
			t.Errorf("position %d: expected value %d, got %v", i, i+2, m.Value)
		}
	}
}

func TestMetricStore_ScanAndEvict(t *testing.T) {
	store := NewMetricStore(NewMemoryStorage(10))
	ctx := context.Background()

	store.Append(ctx, "org-a/ep1", domain.SLAMetric{})
	store.Append(ctx, "org-a/*", domain.SLAMetric{})
	store.Append(ctx, "org-b/ep2", domain.SLAMetric{})

	keys, _ := store.Scan(ctx, "org-a/")
	if len(keys) != 2 {
		t.Errorf("expected 2 keys for org-a, got %v", keys)
	}

	all, _ := store.Scan(ctx, "")
	if len(all) != 3 {
		t.Errorf("expected 3 keys, got %v", all)
	}

	store.Evict(ctx, "org-a/ep1")
	if got, _ := store.Get(ctx, "org-a/ep1"); len(got) != 0 {
		t.Errorf("expected evicted key to be empty, got %d", len(got))
	}
}

func TestEndpointRepo_SaveListDelete(t *testing.T) {
	repo := NewEndpointRepo(NewMemoryStorage(0))
	ctx := context.Background()

	repo.Save(ctx, domain.Endpoint{ID: "b", Name: "second"})
	repo.Save(ctx, domain.Endpoint{ID: "a", Name: "first"})
	repo.Save(ctx, domain.Endpoint{ID: "a", Name: "first-renamed"})

	list, _ := repo.List(ctx)
	if len(list) != 2 || list[0].Name != "first-renamed" {
		t.Errorf("unexpected list: %+v", list)
	}

	repo.Delete(ctx, "a")
	list, _ = repo.List(ctx)
	if len(list) != 1 || list[0].ID != "b" {
		t.Errorf("unexpected list after delete: %+v", list)
	}
}
