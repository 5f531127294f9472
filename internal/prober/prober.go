package prober

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/core/scheduler"
	"github.com/vietddude/rpcsla/internal/metrics"
)

// DefaultInterval is the probe cadence when none is configured.
const DefaultInterval = 30 * time.Second

// Source supplies endpoint configurations.
type Source interface {
	Enabled() []domain.Endpoint
	Get(id string) (domain.Endpoint, error)
}

// ProbeClient checks one endpoint.
type ProbeClient interface {
	Probe(ctx context.Context, ep domain.Endpoint) domain.HealthSample
}

// Consumer receives every applied health sample together with the endpoint's
// current configuration.
type Consumer interface {
	Consume(ctx context.Context, ep domain.Endpoint, s domain.HealthSample)
}

// Prober periodically probes enabled endpoints and maintains their health fields.
type Prober struct {
	source    Source
	client    ProbeClient
	consumers []Consumer
	log       *slog.Logger

	mu     sync.Mutex
	health map[string]*domain.EndpointHealth
	busy   map[string]bool

	wg sync.WaitGroup
}

// New creates a prober.
func New(source Source, client ProbeClient, consumers ...Consumer) *Prober {
	return &Prober{
		source:    source,
		client:    client,
		consumers: consumers,
		log:       slog.Default().With("component", "prober"),
		health:    make(map[string]*domain.EndpointHealth),
		busy:      make(map[string]bool),
	}
}

// Subscribe adds a downstream consumer. It must be called before Start.
func (p *Prober) Subscribe(c Consumer) {
	p.consumers = append(p.consumers, c)
}

// Tick starts one probe per enabled endpoint. Endpoints whose previous probe is
// still running are skipped.
func (p *Prober) Tick(ctx context.Context) {
	for _, ep := range p.source.Enabled() {
		if !p.acquire(ep.ID) {
			metrics.ProbesSkipped.WithLabelValues(ep.ID).Inc()
			p.log.Debug("Probe still in flight, skipping tick", "endpoint", ep.ID)
			continue
		}

		p.wg.Add(1)
		go func(ep domain.Endpoint) {
			defer p.wg.Done()
			defer p.release(ep.ID)
			// Shutdown stops scheduling; probes already issued run to their own timeout.
			probeCtx := context.WithoutCancel(ctx)
			sample := p.client.Probe(probeCtx, ep)
			p.apply(probeCtx, ep, sample)
		}(ep)
	}
}

// ProbeNow probes one endpoint synchronously, whether or not it is enabled.
func (p *Prober) ProbeNow(ctx context.Context, id string) (domain.HealthSample, error) {
	ep, err := p.source.Get(id)
	if err != nil {
		return domain.HealthSample{}, err
	}
	if !p.acquire(id) {
		return domain.HealthSample{}, fmt.Errorf("%w: probe already in flight for endpoint %s", domain.ErrConflict, id)
	}
	defer p.release(id)

	sample := p.client.Probe(ctx, ep)
	if !p.apply(ctx, ep, sample) {
		return sample, fmt.Errorf("%w: endpoint %s", domain.ErrNotFound, id)
	}
	return sample, nil
}

func (p *Prober) acquire(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy[id] {
		return false
	}
	p.busy[id] = true
	return true
}

func (p *Prober) release(id string) {
	p.mu.Lock()
	delete(p.busy, id)
	p.mu.Unlock()
}

// apply records the sample against the endpoint's health and emits it downstream.
// It returns false when the endpoint was deleted while the probe ran.
func (p *Prober) apply(ctx context.Context, probed domain.Endpoint, s domain.HealthSample) bool {
	ep, err := p.source.Get(probed.ID)
	if errors.Is(err, domain.ErrNotFound) {
		p.mu.Lock()
		delete(p.health, probed.ID)
		p.mu.Unlock()
		p.log.Debug("Discarding sample for deleted endpoint", "endpoint", probed.ID)
		return false
	}
	if err != nil {
		p.log.Error("Failed to look up endpoint", "endpoint", probed.ID, "error", err)
		return false
	}

	p.mu.Lock()
	h, ok := p.health[ep.ID]
	if !ok {
		h = &domain.EndpointHealth{EndpointID: ep.ID}
		p.health[ep.ID] = h
	}
	stale := s.Timestamp.Before(h.LastCheckedAt)
	if !stale {
		h.LastCheckedAt = s.Timestamp
		h.IsHealthy = s.Online
		h.ResponseTime = s.ResponseTime
		if s.Online {
			h.ErrorCount = 0
			h.LastError = ""
		} else {
			h.ErrorCount++
			h.LastError = s.Error
		}
	}
	p.mu.Unlock()

	result := "success"
	if !s.Online {
		result = "failure"
	}
	metrics.ProbesTotal.WithLabelValues(ep.ID, result).Inc()
	metrics.ProbeLatency.WithLabelValues(ep.ID).Observe(float64(s.ResponseTime) / 1000)

	if stale {
		p.log.Debug("Stale sample not applied", "endpoint", ep.ID, "sample_at", s.Timestamp)
	} else {
		healthy := 0.0
		if s.Online {
			healthy = 1
			metrics.EndpointBlockHeight.WithLabelValues(ep.ID).Set(float64(s.BlockNumber))
		}
		metrics.EndpointHealthy.WithLabelValues(ep.ID).Set(healthy)
	}

	if s.Online {
		p.log.Debug("Probe succeeded", "endpoint", ep.ID, "latency_ms", s.ResponseTime, "block", s.BlockNumber)
	} else {
		p.log.Warn("Probe failed", "endpoint", ep.ID, "kind", s.ErrorKind, "error", s.Error)
	}

	for _, c := range p.consumers {
		c.Consume(ctx, ep, s)
	}
	return true
}

// Health returns a copy of the endpoint's health fields.
func (p *Prober) Health(id string) (domain.EndpointHealth, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.health[id]
	if !ok {
		return domain.EndpointHealth{}, false
	}
	return *h, true
}

// Status joins an endpoint with its current health.
func (p *Prober) Status(ep domain.Endpoint) domain.EndpointStatus {
	st := domain.EndpointStatus{Endpoint: ep}
	if h, ok := p.Health(ep.ID); ok {
		st.Health = &h
	}
	return st
}

// Forget drops health for a removed endpoint.
func (p *Prober) Forget(id string) {
	p.mu.Lock()
	delete(p.health, id)
	p.mu.Unlock()
}

// Start schedules the probe loop.
func (p *Prober) Start(ctx context.Context, s scheduler.Scheduler, interval time.Duration) (scheduler.Job, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p.log.Info("Starting prober", "interval", interval)
	return s.Every(ctx, "probe", interval, p.Tick)
}

// Wait blocks until every in-flight probe has completed.
func (p *Prober) Wait() {
	p.wg.Wait()
}
