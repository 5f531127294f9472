package sla

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/rpcsla/internal/core/clock"
	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/infra/storage/memory"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type captureSink struct {
	mu     sync.Mutex
	events []domain.AlertEvent
	err    error
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Deliver(ctx context.Context, event domain.AlertEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *captureSink) types() []domain.AlertEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.AlertEventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

type episodeRecorder struct {
	mu       sync.Mutex
	metrics  []domain.SLAMetric
	episodes map[string]domain.BreachEpisode
}

func (r *episodeRecorder) WriteMetric(ctx context.Context, m domain.SLAMetric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
	return nil
}

func (r *episodeRecorder) WriteEpisode(ctx context.Context, ep domain.BreachEpisode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.episodes == nil {
		r.episodes = make(map[string]domain.BreachEpisode)
	}
	r.episodes[ep.ID] = ep
	return nil
}

type fixture struct {
	clock   *clock.Fake
	alerts  *captureSink
	sink    *episodeRecorder
	manager *Manager
	tracker *Tracker
}

func newFixture(capacity int) *fixture {
	clk := clock.NewFake(epoch)
	alerts := &captureSink{}
	sink := &episodeRecorder{}
	manager := NewManager(clk, sink, alerts)
	store := memory.NewMetricStore(memory.NewMemoryStorage(capacity))
	tracker := NewTracker(store, sink, manager, clk)
	tracker.SetHistorySize(capacity)
	return &fixture{
		clock:   clk,
		alerts:  alerts,
		sink:    sink,
		manager: manager,
		tracker: tracker,
	}
}
