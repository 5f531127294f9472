package sla

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/rpcsla/internal/core/clock"
	"github.com/vietddude/rpcsla/internal/core/domain"
)

// Targets are the SLA thresholds applied to probe-derived metrics.
type Targets struct {
	Uptime       float64 `yaml:"uptime"           json:"uptime"`
	Availability float64 `yaml:"availability"     json:"availability"`
	ErrorRate    float64 `yaml:"error_rate"       json:"error_rate"`
	ResponseTime float64 `yaml:"response_time_ms" json:"response_time_ms"`
}

// DefaultTargets returns the standard tier thresholds.
func DefaultTargets() Targets {
	return Targets{
		Uptime:       99.9,
		Availability: 99.5,
		ErrorRate:    1.0,
		ResponseTime: 1000,
	}
}

// WithDefaults fills unset thresholds from DefaultTargets.
func (t Targets) WithDefaults() Targets {
	d := DefaultTargets()
	if t.Uptime <= 0 {
		t.Uptime = d.Uptime
	}
	if t.Availability <= 0 {
		t.Availability = d.Availability
	}
	if t.ErrorRate <= 0 {
		t.ErrorRate = d.ErrorRate
	}
	if t.ResponseTime <= 0 {
		t.ResponseTime = d.ResponseTime
	}
	return t
}

// For returns the threshold for a metric type.
func (t Targets) For(mt domain.MetricType) float64 {
	switch mt {
	case domain.MetricUptime:
		return t.Uptime
	case domain.MetricAvailability:
		return t.Availability
	case domain.MetricErrorRate:
		return t.ErrorRate
	case domain.MetricResponseTime:
		return t.ResponseTime
	}
	return 0
}

type bucket struct {
	owner       string
	minute      time.Time
	total       int
	online      int
	available   int
	responseSum int64
}

// Recorder folds health samples into one-minute buckets per endpoint and records
// uptime, availability, error rate and response time when a bucket closes.
type Recorder struct {
	tracker   *Tracker
	clock     clock.Clock
	targets   Targets
	overrides map[string]Targets
	log       *slog.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRecorder creates a recorder. overrides are keyed by organization id.
func NewRecorder(tracker *Tracker, clk clock.Clock, targets Targets, overrides map[string]Targets) *Recorder {
	resolved := make(map[string]Targets, len(overrides))
	for org, t := range overrides {
		resolved[org] = t.WithDefaults()
	}
	return &Recorder{
		tracker:   tracker,
		clock:     clk,
		targets:   targets.WithDefaults(),
		overrides: resolved,
		log:       slog.Default().With("component", "sla-recorder"),
		buckets:   make(map[string]*bucket),
	}
}

// TargetsFor returns the thresholds for an organization.
func (r *Recorder) TargetsFor(orgID string) Targets {
	if t, ok := r.overrides[orgID]; ok {
		return t
	}
	return r.targets
}

// Consume adds a sample to its endpoint's current bucket, closing the previous
// bucket when the sample starts a new minute.
func (r *Recorder) Consume(ctx context.Context, ep domain.Endpoint, s domain.HealthSample) {
	if ep.OwnerID == "" {
		return
	}
	minute := s.Timestamp.Truncate(time.Minute)

	r.mu.Lock()
	var closed *bucket
	b, ok := r.buckets[ep.ID]
	if ok && minute.After(b.minute) {
		closed = b
		ok = false
	}
	if !ok {
		b = &bucket{owner: ep.OwnerID, minute: minute}
		r.buckets[ep.ID] = b
	}
	b.add(s)
	r.mu.Unlock()

	if closed != nil {
		r.record(ctx, ep.ID, closed)
	}
}

// Flush records every bucket whose minute has ended.
func (r *Recorder) Flush(ctx context.Context) {
	now := r.clock.Now()

	r.mu.Lock()
	closed := make(map[string]*bucket)
	for id, b := range r.buckets {
		if !b.minute.Add(MetricWindow).After(now) {
			closed[id] = b
			delete(r.buckets, id)
		}
	}
	r.mu.Unlock()

	for id, b := range closed {
		r.record(ctx, id, b)
	}
}

// Forget drops the open bucket for a removed endpoint.
func (r *Recorder) Forget(endpointID string) {
	r.mu.Lock()
	delete(r.buckets, endpointID)
	r.mu.Unlock()
}

func (b *bucket) add(s domain.HealthSample) {
	b.total++
	if s.Online {
		b.online++
		b.responseSum += s.ResponseTime
		if !s.Syncing {
			b.available++
		}
	}
}

func (r *Recorder) record(ctx context.Context, endpointID string, b *bucket) {
	if b.total == 0 {
		return
	}
	targets := r.TargetsFor(b.owner)
	total := float64(b.total)

	values := map[domain.MetricType]float64{
		domain.MetricUptime:       float64(b.online) / total * 100,
		domain.MetricAvailability: float64(b.available) / total * 100,
		domain.MetricErrorRate:    float64(b.total-b.online) / total * 100,
	}
	if b.online > 0 {
		values[domain.MetricResponseTime] = float64(b.responseSum) / float64(b.online)
	}

	start := b.minute
	end := b.minute.Add(MetricWindow)
	for _, mt := range domain.MetricTypes {
		v, ok := values[mt]
		if !ok {
			continue
		}
		if _, err := r.tracker.record(ctx, b.owner, endpointID, mt, v, targets.For(mt), start, end); err != nil {
			r.log.Error("Failed to record probe metric",
				"endpoint", endpointID,
				"metric", mt,
				"error", err,
			)
		}
	}
}
