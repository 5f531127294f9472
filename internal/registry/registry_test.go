package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/rpcsla/internal/core/clock"
	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/infra/storage/memory"
)

type stubTester struct {
	mu    sync.Mutex
	ok    bool
	calls []string
}

func (s *stubTester) TestConnection(ctx context.Context, url string, chainID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, url)
	return s.ok
}

func newRegistry(ok bool) (*Registry, *stubTester, *memory.EndpointRepo) {
	tester := &stubTester{ok: ok}
	repo := memory.NewEndpointRepo(memory.NewMemoryStorage(10))
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(tester, repo, clk), tester, repo
}

func endpoint(id string) domain.Endpoint {
	return domain.Endpoint{
		ID:      id,
		OwnerID: "org-1",
		Name:    "mainnet",
		URL:     "https://rpc.example.com",
		Network: "ethereum",
		ChainID: 1,
		Enabled: true,
	}
}

func TestCreate_StoresOnSuccess(t *testing.T) {
	r, tester, repo := newRegistry(true)
	ctx := context.Background()

	ep, err := r.Create(ctx, endpoint(""))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ep.ID == "" {
		t.Fatal("expected generated id")
	}
	if ep.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if len(tester.calls) != 1 {
		t.Errorf("expected one connection test, got %d", len(tester.calls))
	}

	got, err := r.Get(ep.ID)
	if err != nil || got.URL != ep.URL {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	stored, _ := repo.List(ctx)
	if len(stored) != 1 {
		t.Errorf("expected write-through, repo has %d", len(stored))
	}
}

func TestCreate_RejectsUnreachable(t *testing.T) {
	r, _, repo := newRegistry(false)
	ctx := context.Background()

	_, err := r.Create(ctx, endpoint("ep-1"))
	if !errors.Is(err, domain.ErrConnectivity) {
		t.Fatalf("expected ErrConnectivity, got %v", err)
	}
	if _, err := r.Get("ep-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("endpoint should not be stored: %v", err)
	}
	stored, _ := repo.List(ctx)
	if len(stored) != 0 {
		t.Errorf("repo should be empty, has %d", len(stored))
	}
}

func TestCreate_Validation(t *testing.T) {
	r, tester, _ := newRegistry(true)
	ctx := context.Background()

	bad := []domain.Endpoint{
		func() domain.Endpoint { e := endpoint("a"); e.OwnerID = ""; return e }(),
		func() domain.Endpoint { e := endpoint("b"); e.ChainID = 0; return e }(),
		func() domain.Endpoint { e := endpoint("c"); e.URL = "ftp://host"; return e }(),
		func() domain.Endpoint { e := endpoint("d"); e.URL = "not a url"; return e }(),
	}
	for _, ep := range bad {
		if _, err := r.Create(ctx, ep); !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("endpoint %s: expected ErrConfiguration, got %v", ep.ID, err)
		}
	}
	if len(tester.calls) != 0 {
		t.Errorf("invalid endpoints must not be tested, got %d calls", len(tester.calls))
	}
}

func TestCreate_Conflict(t *testing.T) {
	r, _, _ := newRegistry(true)
	ctx := context.Background()

	if _, err := r.Create(ctx, endpoint("ep-1")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(ctx, endpoint("ep-1")); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestUpdate_RevalidatesOnlyOnURLChange(t *testing.T) {
	r, tester, _ := newRegistry(true)
	ctx := context.Background()

	ep, err := r.Create(ctx, endpoint("ep-1"))
	if err != nil {
		t.Fatal(err)
	}

	ep.Name = "renamed"
	ep.Priority = 3
	if _, err := r.Update(ctx, ep); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(tester.calls) != 1 {
		t.Errorf("rename must not re-test, got %d calls", len(tester.calls))
	}

	tester.ok = false
	ep.URL = "https://other.example.com"
	if _, err := r.Update(ctx, ep); !errors.Is(err, domain.ErrConnectivity) {
		t.Fatalf("expected ErrConnectivity, got %v", err)
	}

	got, _ := r.Get("ep-1")
	if got.URL != "https://rpc.example.com" || got.Name != "renamed" {
		t.Errorf("prior config should be retained, got %+v", got)
	}
}

func TestUpdate_UnknownAndForeignOwner(t *testing.T) {
	r, _, _ := newRegistry(true)
	ctx := context.Background()

	if _, err := r.Update(ctx, endpoint("missing")); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := r.Create(ctx, endpoint("ep-1")); err != nil {
		t.Fatal(err)
	}
	foreign := endpoint("ep-1")
	foreign.OwnerID = "org-2"
	if _, err := r.Update(ctx, foreign); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign owner, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	r, _, repo := newRegistry(true)
	ctx := context.Background()

	if _, err := r.Create(ctx, endpoint("ep-1")); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete(ctx, "ep-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := r.Get("ep-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := r.Delete(ctx, "ep-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	stored, _ := repo.List(ctx)
	if len(stored) != 0 {
		t.Errorf("repo should be empty, has %d", len(stored))
	}
}

func TestListScopedByOwner(t *testing.T) {
	r, _, _ := newRegistry(true)
	ctx := context.Background()

	a := endpoint("b")
	a.Priority = 2
	b := endpoint("a")
	b.Priority = 1
	c := endpoint("c")
	c.OwnerID = "org-2"
	c.Enabled = false
	for _, ep := range []domain.Endpoint{a, b, c} {
		if _, err := r.Create(ctx, ep); err != nil {
			t.Fatal(err)
		}
	}

	list := r.List("org-1")
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Errorf("unexpected org-1 list: %+v", list)
	}
	if len(r.List("")) != 3 {
		t.Errorf("expected 3 endpoints overall")
	}
	if len(r.Enabled()) != 2 {
		t.Errorf("expected 2 enabled endpoints")
	}
}

func TestLoad_StoredAndSeeds(t *testing.T) {
	r, tester, repo := newRegistry(true)
	ctx := context.Background()

	stored := endpoint("stored")
	if err := repo.Save(ctx, stored); err != nil {
		t.Fatal(err)
	}

	seedDup := endpoint("stored")
	seedDup.Name = "seed-version"
	if err := r.Load(ctx, []domain.Endpoint{seedDup, endpoint("seed")}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got, _ := r.Get("stored"); got.Name != "mainnet" {
		t.Errorf("stored endpoint should win over seed, got %q", got.Name)
	}
	if _, err := r.Get("seed"); err != nil {
		t.Errorf("seed should be loaded: %v", err)
	}
	if len(tester.calls) != 0 {
		t.Errorf("seeds are not connection-tested")
	}
	all, _ := repo.List(ctx)
	if len(all) != 2 {
		t.Errorf("seed should be written through, repo has %d", len(all))
	}

	if err := r.Load(ctx, []domain.Endpoint{{Name: "no-id"}}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for seed without id, got %v", err)
	}
}
