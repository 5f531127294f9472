package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/rpcsla/internal/core/clock"
	"github.com/vietddude/rpcsla/internal/core/config"
	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/core/scheduler"
	"github.com/vietddude/rpcsla/internal/notify"
	"github.com/vietddude/rpcsla/internal/sla"
)

func polygonNode(t *testing.T) *httptest.Server {
	t.Helper()
	results := map[string]any{
		"eth_chainId":     "0x89",
		"eth_blockNumber": "0x3e8",
		"net_peerCount":   "0x5",
		"eth_gasPrice":    "0x3b9aca00",
		"eth_syncing":     false,
	}
	answer := func(req map[string]any) map[string]any {
		return map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": results[req["method"].(string)]}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw json.RawMessage
		json.NewDecoder(r.Body).Decode(&raw)
		if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
			var reqs []map[string]any
			json.Unmarshal(raw, &reqs)
			out := make([]map[string]any, 0, len(reqs))
			for _, req := range reqs {
				out = append(out, answer(req))
			}
			json.NewEncoder(w).Encode(out)
			return
		}
		var req map[string]any
		json.Unmarshal(raw, &req)
		json.NewEncoder(w).Encode(answer(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(clk clock.Clock, sched scheduler.Scheduler, seeds ...domain.Endpoint) Config {
	cfg := &config.AppConfig{}
	cfg.ApplyDefaults()
	c := ConfigFrom(cfg)
	c.Port = 0
	c.Clock = clk
	c.Scheduler = sched
	c.Seeds = seeds
	return c
}

func TestEngine_ProbeToMetrics(t *testing.T) {
	node := polygonNode(t)
	clk := clock.NewFake(time.Date(2026, 5, 4, 10, 0, 5, 0, time.UTC))
	sched := scheduler.NewManual()

	seed := domain.Endpoint{
		ID:      "polygon-main",
		OwnerID: "org-1",
		Name:    "polygon",
		URL:     node.URL,
		Network: "polygon",
		ChainID: 137,
		Timeout: 2 * time.Second,
		Enabled: true,
	}

	e, err := NewEngine(context.Background(), testConfig(clk, sched, seed))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if got := sched.Interval("probe"); got != 30*time.Second {
		t.Errorf("expected 30s probe interval, got %v", got)
	}
	if got := sched.Interval("sla-evaluate"); got != time.Minute {
		t.Errorf("expected 1m evaluation interval, got %v", got)
	}

	if !sched.Fire("probe") {
		t.Fatal("probe job not registered")
	}
	e.Prober.Wait()

	h, ok := e.Prober.Health("polygon-main")
	if !ok || !h.IsHealthy {
		t.Fatalf("expected healthy endpoint, got %+v (known=%v)", h, ok)
	}

	// Close the minute bucket and evaluate.
	clk.Advance(2 * time.Minute)
	if !sched.Fire("sla-evaluate") {
		t.Fatal("evaluation job not registered")
	}

	metrics, err := e.Tracker.Metrics(ctx, "org-1")
	if err != nil {
		t.Fatalf("Metrics failed: %v", err)
	}
	byType := make(map[domain.MetricType]domain.SLAMetric)
	for _, m := range metrics {
		byType[m.Type] = m
	}
	for _, mt := range []domain.MetricType{domain.MetricUptime, domain.MetricAvailability, domain.MetricErrorRate, domain.MetricResponseTime} {
		if _, ok := byType[mt]; !ok {
			t.Errorf("missing %s metric", mt)
		}
	}
	if up := byType[domain.MetricUptime]; up.Status != domain.StatusCompliant {
		t.Errorf("expected compliant uptime, got %+v", up)
	}
	if alerts := e.Tracker.Manager().Alerts("org-1", true); len(alerts) != 0 {
		t.Errorf("expected no alerts for a healthy endpoint, got %d", len(alerts))
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if sched.Fire("probe") {
		t.Error("probe job should be stopped after Stop")
	}
}

func TestEngine_InvalidWebhookCondition(t *testing.T) {
	cfg := testConfig(clock.NewFake(time.Now()), scheduler.NewManual())
	cfg.Alerting.Webhooks = []config.WebhookConfig{{
		Name: "ops",
		URL:  "http://localhost:9/hook",
		Conditions: []notify.ConditionConfig{
			{Field: "severity", Op: "between", Value: "x"},
		},
	}}

	_, err := NewEngine(context.Background(), cfg)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestEngine_InvalidSeed(t *testing.T) {
	cfg := testConfig(clock.NewFake(time.Now()), scheduler.NewManual(), domain.Endpoint{OwnerID: "org-1", URL: "http://localhost:1"})

	_, err := NewEngine(context.Background(), cfg)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestConfigFrom(t *testing.T) {
	enabled := false
	app := &config.AppConfig{
		Endpoints: []config.EndpointConfig{
			{ID: "a", OwnerID: "org-1", URL: "https://a.example", ChainID: 1},
			{ID: "b", OwnerID: "org-1", URL: "https://b.example", ChainID: 1, Enabled: &enabled},
		},
	}
	app.ApplyDefaults()
	app.SLA.OrgTargets = map[string]sla.Targets{"org-1": {Uptime: 99}}

	cfg := ConfigFrom(app)
	if cfg.Port != 8080 || cfg.Prober.Interval != 30*time.Second {
		t.Errorf("unexpected defaults: port=%d interval=%v", cfg.Port, cfg.Prober.Interval)
	}
	if len(cfg.Seeds) != 2 || !cfg.Seeds[0].Enabled || cfg.Seeds[1].Enabled {
		t.Errorf("unexpected seeds: %+v", cfg.Seeds)
	}
	if cfg.SLA.OrgTargets["org-1"].Uptime != 99 {
		t.Error("org target overrides not carried over")
	}
}
