package sla

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/rpcsla/internal/core/clock"
	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/core/scheduler"
	"github.com/vietddude/rpcsla/internal/infra/storage"
	"github.com/vietddude/rpcsla/internal/metrics"
)

const (
	// EvaluationWindow is the trailing span averaged by each evaluation.
	EvaluationWindow = 60 * time.Minute
	// EvaluationInterval is how often the evaluation job runs.
	EvaluationInterval = time.Minute
	// MetricWindow is the span a single recorded metric summarizes.
	MetricWindow = time.Minute
	// AlertRetention bounds how long acknowledged alerts are kept in memory.
	AlertRetention = 24 * time.Hour
)

// Tracker records SLA metrics per key and periodically evaluates rolling compliance.
type Tracker struct {
	store       storage.MetricStore
	sink        storage.MetricSink
	manager     *Manager
	clock       clock.Clock
	historySize int
	log         *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	beforeEvaluate []func(ctx context.Context)
}

// NewTracker creates a tracker storing history in store and forwarding non-compliant
// results to manager. sink may be nil.
func NewTracker(store storage.MetricStore, sink storage.MetricSink, manager *Manager, clk clock.Clock) *Tracker {
	return &Tracker{
		store:       store,
		sink:        sink,
		manager:     manager,
		clock:       clk,
		historySize: storage.DefaultHistorySize,
		log:         slog.Default().With("component", "sla-tracker"),
		locks:       make(map[string]*sync.Mutex),
	}
}

// SetHistorySize tells the tracker the per-key capacity of its store, used to detect
// when eviction truncates the evaluation window.
func (t *Tracker) SetHistorySize(n int) {
	if n > 0 {
		t.historySize = n
	}
}

// BeforeEvaluate registers a hook run at the start of every evaluation.
func (t *Tracker) BeforeEvaluate(fn func(ctx context.Context)) {
	t.beforeEvaluate = append(t.beforeEvaluate, fn)
}

// Manager returns the breach and alert manager.
func (t *Tracker) Manager() *Manager {
	return t.manager
}

func (t *Tracker) lock(key string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	return l
}

// RecordMetric scores a caller-supplied value against its threshold and appends the
// result to the key's history. Non-compliant results go straight to the alert manager.
func (t *Tracker) RecordMetric(ctx context.Context, orgID, endpointID string, mt domain.MetricType, value, threshold float64) (domain.SLAMetric, error) {
	now := t.clock.Now()
	return t.record(ctx, orgID, endpointID, mt, value, threshold, now.Add(-MetricWindow), now)
}

func (t *Tracker) record(ctx context.Context, orgID, endpointID string, mt domain.MetricType, value, threshold float64, windowStart, windowEnd time.Time) (domain.SLAMetric, error) {
	if orgID == "" {
		return domain.SLAMetric{}, fmt.Errorf("%w: org id is required", domain.ErrConfiguration)
	}
	compliance, err := Compliance(mt, value, threshold)
	if err != nil {
		return domain.SLAMetric{}, err
	}

	m := domain.SLAMetric{
		OrgID:       orgID,
		EndpointID:  endpointID,
		Type:        mt,
		Value:       value,
		Threshold:   threshold,
		Compliance:  compliance,
		Status:      Classify(compliance),
		Timestamp:   t.clock.Now(),
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}
	key := m.Key()

	l := t.lock(key.String())
	l.Lock()
	defer l.Unlock()

	if _, err := t.store.Append(ctx, key.String(), m); err != nil {
		return domain.SLAMetric{}, fmt.Errorf("failed to append metric: %w", err)
	}
	if t.sink != nil {
		if err := t.sink.WriteMetric(ctx, m); err != nil {
			t.log.Warn("Failed to write metric", "key", key.String(), "error", err)
		}
	}

	if m.Status != domain.StatusCompliant {
		t.manager.Handle(ctx, Rollup{
			Key:        key,
			Type:       mt,
			Value:      value,
			Threshold:  threshold,
			Compliance: compliance,
			Status:     m.Status,
		})
	}
	return m, nil
}

// Evaluate averages the trailing window for every tracked key and applies the rollups.
func (t *Tracker) Evaluate(ctx context.Context) error {
	for _, fn := range t.beforeEvaluate {
		fn(ctx)
	}

	keys, err := t.store.Scan(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to scan metric keys: %w", err)
	}

	now := t.clock.Now()
	seen := make(map[series]bool)
	for _, k := range keys {
		key, err := domain.ParseKey(k)
		if err != nil {
			t.log.Warn("Skipping malformed metric key", "key", k, "error", err)
			continue
		}
		if err := t.evaluateKey(ctx, key, now, seen); err != nil {
			t.log.Error("Failed to evaluate key", "key", k, "error", err)
			for _, mt := range domain.MetricTypes {
				seen[series{key: key, typ: mt}] = true
			}
		}
	}

	t.manager.resolveSilent(ctx, seen, now)
	t.manager.Prune(now.Add(-AlertRetention))
	return nil
}

// evaluateKey marks every series with a rollup in seen.
func (t *Tracker) evaluateKey(ctx context.Context, key domain.Key, now time.Time, seen map[series]bool) error {
	l := t.lock(key.String())
	l.Lock()
	defer l.Unlock()

	history, err := t.store.Get(ctx, key.String())
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}

	cutoff := now.Add(-EvaluationWindow)
	if len(history) >= t.historySize && history[0].Timestamp.After(cutoff) {
		metrics.WindowTruncated.WithLabelValues(key.OrgID).Inc()
		t.log.Warn("Evaluation window truncated by history eviction",
			"key", key.String(),
			"oldest", history[0].Timestamp,
			"window_start", cutoff,
		)
	}

	rollups := Rollups(key, history, cutoff)
	for _, r := range rollups {
		seen[series{key: key, typ: r.Type}] = true
		metrics.SLACompliance.WithLabelValues(key.OrgID, key.EndpointID, string(r.Type)).Set(r.Compliance)
		t.manager.Handle(ctx, r)
	}
	return nil
}

// Rollups averages compliance per metric type over metrics recorded after cutoff.
// Value and threshold carry the latest observation.
func Rollups(key domain.Key, history []domain.SLAMetric, cutoff time.Time) []Rollup {
	type acc struct {
		sum    float64
		n      int
		latest domain.SLAMetric
	}
	byType := make(map[domain.MetricType]*acc)
	for _, m := range history {
		if m.Timestamp.Before(cutoff) {
			continue
		}
		a, ok := byType[m.Type]
		if !ok {
			a = &acc{}
			byType[m.Type] = a
		}
		a.sum += m.Compliance
		a.n++
		if !m.Timestamp.Before(a.latest.Timestamp) {
			a.latest = m
		}
	}

	var out []Rollup
	for _, mt := range domain.MetricTypes {
		a, ok := byType[mt]
		if !ok {
			continue
		}
		avg := a.sum / float64(a.n)
		out = append(out, Rollup{
			Key:        key,
			Type:       mt,
			Value:      a.latest.Value,
			Threshold:  a.latest.Threshold,
			Compliance: avg,
			Status:     Classify(avg),
		})
	}
	return out
}

// Forget evicts a key's metric history and resolves its open alerts.
func (t *Tracker) Forget(ctx context.Context, key domain.Key) error {
	l := t.lock(key.String())
	l.Lock()
	err := t.store.Evict(ctx, key.String())
	l.Unlock()

	t.manager.ResolveKey(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to evict metrics for %s: %w", key.String(), err)
	}
	return nil
}

// Metrics returns every retained metric for an organization across its keys.
func (t *Tracker) Metrics(ctx context.Context, orgID string) ([]domain.SLAMetric, error) {
	keys, err := t.store.Scan(ctx, orgID+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to scan metric keys: %w", err)
	}

	var out []domain.SLAMetric
	for _, k := range keys {
		history, err := t.store.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("failed to read metrics for %s: %w", k, err)
		}
		out = append(out, history...)
	}
	return out, nil
}

// GenerateReport summarizes an organization's compliance over the period. Read
// failures degrade to an empty-state report.
func (t *Tracker) GenerateReport(ctx context.Context, orgID string, period domain.Period) domain.Report {
	history, err := t.Metrics(ctx, orgID)
	if err != nil {
		t.log.Warn("Report built without metric history", "org", orgID, "error", err)
		history = nil
	}
	return BuildReport(orgID, period, history, t.manager.Episodes(orgID), t.clock.Now())
}

// Start schedules the evaluation job.
func (t *Tracker) Start(ctx context.Context, s scheduler.Scheduler, interval time.Duration) (scheduler.Job, error) {
	if interval <= 0 {
		interval = EvaluationInterval
	}
	return s.Every(ctx, "sla-evaluate", interval, func(ctx context.Context) {
		if err := t.Evaluate(ctx); err != nil {
			t.log.Error("SLA evaluation failed", "error", err)
		}
	})
}
