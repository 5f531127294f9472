package sla

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/rpcsla/internal/core/clock"
	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/infra/storage"
	"github.com/vietddude/rpcsla/internal/metrics"
)

// EpisodeGap is the longest silence after which a breach still extends the open episode.
const EpisodeGap = 5 * time.Minute

// maxTombstones bounds how many pruned alert ids are remembered.
const maxTombstones = 10000

// Rollup is one evaluated compliance result for a key and metric type.
type Rollup struct {
	Key        domain.Key
	Type       domain.MetricType
	Value      float64
	Threshold  float64
	Compliance float64
	Status     domain.ComplianceStatus
}

type series struct {
	key domain.Key
	typ domain.MetricType
}

// Manager owns breach episodes and alerts.
type Manager struct {
	clock       clock.Clock
	episodeSink storage.MetricSink
	alertSink   storage.AlertSink
	historySize int
	log         *slog.Logger

	mu       sync.Mutex
	episodes map[domain.Key][]*domain.BreachEpisode
	open     map[series]*domain.BreachEpisode
	alerts   map[string]*domain.SLAAlert
	active   map[series]string

	// ids of pruned alerts, all acknowledged
	pruned     map[string]struct{}
	prunedFIFO []string
}

// NewManager creates a breach and alert manager. Either sink may be nil.
func NewManager(clk clock.Clock, episodeSink storage.MetricSink, alertSink storage.AlertSink) *Manager {
	return &Manager{
		clock:       clk,
		episodeSink: episodeSink,
		alertSink:   alertSink,
		historySize: storage.DefaultHistorySize,
		log:         slog.Default().With("component", "alert-manager"),
		episodes:    make(map[domain.Key][]*domain.BreachEpisode),
		open:        make(map[series]*domain.BreachEpisode),
		alerts:      make(map[string]*domain.SLAAlert),
		active:      make(map[series]string),
		pruned:      make(map[string]struct{}),
	}
}

// Handle applies a rollup: non-compliant results open or extend a breach episode and
// raise the alert for the series; compliant results resolve any open alert.
func (m *Manager) Handle(ctx context.Context, r Rollup) {
	if r.Status == domain.StatusCompliant {
		m.Resolve(ctx, r.Key, r.Type)
		return
	}

	now := m.clock.Now()
	s := series{key: r.Key, typ: r.Type}

	m.mu.Lock()
	episode := m.trackEpisode(s, r, now)
	event := m.raiseAlert(s, r, now)
	m.mu.Unlock()

	m.writeEpisode(ctx, episode)
	m.deliver(ctx, event)
}

// trackEpisode must be called with m.mu held.
func (m *Manager) trackEpisode(s series, r Rollup, now time.Time) domain.BreachEpisode {
	if ep, ok := m.open[s]; ok && now.Sub(ep.End) <= EpisodeGap {
		if now.After(ep.End) {
			ep.End = now
		}
		ep.Duration = ep.End.Sub(ep.Start).Minutes()
		ep.Compliance = math.Min(ep.Compliance, r.Compliance)
		return *ep
	}

	ep := &domain.BreachEpisode{
		ID:         uuid.NewString(),
		OrgID:      r.Key.OrgID,
		EndpointID: r.Key.EndpointID,
		Type:       r.Type,
		Start:      now,
		End:        now,
		Severity:   EpisodeSeverity(r.Compliance),
		Compliance: r.Compliance,
	}
	m.open[s] = ep

	history := append(m.episodes[r.Key], ep)
	if over := len(history) - m.historySize; over > 0 {
		history = append([]*domain.BreachEpisode(nil), history[over:]...)
	}
	m.episodes[r.Key] = history

	metrics.BreachEpisodesTotal.WithLabelValues(string(r.Type), string(ep.Severity)).Inc()
	m.log.Warn("Breach episode opened",
		"key", r.Key.String(),
		"metric", r.Type,
		"severity", ep.Severity,
		"compliance", r.Compliance,
	)
	return *ep
}

// raiseAlert must be called with m.mu held.
func (m *Manager) raiseAlert(s series, r Rollup, now time.Time) domain.AlertEvent {
	severity := AlertSeverity(r.Status)
	message := alertMessage(r)

	if id, ok := m.active[s]; ok {
		a := m.alerts[id]
		a.Value = r.Value
		a.Threshold = r.Threshold
		a.Compliance = r.Compliance
		a.Severity = severity
		a.Message = message
		a.UpdatedAt = now
		return domain.AlertEvent{Type: domain.AlertUpdated, Alert: *a}
	}

	a := &domain.SLAAlert{
		ID:         uuid.NewString(),
		OrgID:      r.Key.OrgID,
		EndpointID: r.Key.EndpointID,
		Type:       r.Type,
		Value:      r.Value,
		Threshold:  r.Threshold,
		Compliance: r.Compliance,
		Severity:   severity,
		Message:    message,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.alerts[a.ID] = a
	m.active[s] = a.ID
	metrics.AlertsActive.WithLabelValues(a.OrgID).Inc()

	return domain.AlertEvent{Type: domain.AlertCreated, Alert: *a}
}

// Resolve auto-acknowledges the open alert for the series, if any.
func (m *Manager) Resolve(ctx context.Context, key domain.Key, t domain.MetricType) bool {
	target := series{key: key, typ: t}
	return m.resolveWhere(ctx, "recovered", func(s series, _ *domain.SLAAlert) bool {
		return s == target
	}) > 0
}

// ResolveKey auto-acknowledges every open alert for the key and closes its open
// episodes. Used when the key stops existing, such as a deleted endpoint.
func (m *Manager) ResolveKey(ctx context.Context, key domain.Key) int {
	m.mu.Lock()
	for s := range m.open {
		if s.key == key {
			delete(m.open, s)
		}
	}
	m.mu.Unlock()

	return m.resolveWhere(ctx, "removed", func(s series, _ *domain.SLAAlert) bool {
		return s.key == key
	})
}

// resolveSilent auto-acknowledges open alerts whose series produced no rollup in an
// evaluation that started at started. Alerts raised after the start are kept.
func (m *Manager) resolveSilent(ctx context.Context, seen map[series]bool, started time.Time) int {
	return m.resolveWhere(ctx, "no metrics in window", func(s series, a *domain.SLAAlert) bool {
		return !seen[s] && a.UpdatedAt.Before(started)
	})
}

func (m *Manager) resolveWhere(ctx context.Context, reason string, match func(series, *domain.SLAAlert) bool) int {
	now := m.clock.Now()

	m.mu.Lock()
	var events []domain.AlertEvent
	for s, id := range m.active {
		a := m.alerts[id]
		if !match(s, a) {
			continue
		}
		m.acknowledge(s, a, "", now)
		events = append(events, domain.AlertEvent{Type: domain.AlertAcknowledged, Alert: *a})
	}
	m.mu.Unlock()

	for _, event := range events {
		m.log.Info("Alert resolved",
			"alert", event.Alert.ID,
			"key", event.Alert.Key().String(),
			"metric", event.Alert.Type,
			"reason", reason,
		)
		m.deliver(ctx, event)
	}
	return len(events)
}

// AcknowledgeAlert marks an alert acknowledged by a user. It returns false when the
// alert was already acknowledged, including alerts since pruned, and ErrNotFound
// for unknown ids.
func (m *Manager) AcknowledgeAlert(ctx context.Context, id, by string) (bool, error) {
	now := m.clock.Now()

	m.mu.Lock()
	a, ok := m.alerts[id]
	if !ok {
		_, pruned := m.pruned[id]
		m.mu.Unlock()
		if pruned {
			return false, nil
		}
		return false, fmt.Errorf("%w: alert %s", domain.ErrNotFound, id)
	}
	if a.Acknowledged {
		m.mu.Unlock()
		return false, nil
	}
	m.acknowledge(series{key: a.Key(), typ: a.Type}, a, by, now)
	event := domain.AlertEvent{Type: domain.AlertAcknowledged, Alert: *a}
	m.mu.Unlock()

	m.log.Info("Alert acknowledged", "alert", id, "by", by)
	m.deliver(ctx, event)
	return true, nil
}

// acknowledge must be called with m.mu held.
func (m *Manager) acknowledge(s series, a *domain.SLAAlert, by string, now time.Time) {
	at := now
	a.Acknowledged = true
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &at
	a.UpdatedAt = now
	if m.active[s] == a.ID {
		delete(m.active, s)
	}
	metrics.AlertsActive.WithLabelValues(a.OrgID).Dec()
}

// Alert returns a copy of the alert with the given id.
func (m *Manager) Alert(id string) (domain.SLAAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return domain.SLAAlert{}, fmt.Errorf("%w: alert %s", domain.ErrNotFound, id)
	}
	return *a, nil
}

// Alerts returns alerts for an organization, newest first. Acknowledged alerts are
// included only when all is true.
func (m *Manager) Alerts(orgID string, all bool) []domain.SLAAlert {
	m.mu.Lock()
	out := make([]domain.SLAAlert, 0)
	for _, a := range m.alerts {
		if a.OrgID != orgID || (a.Acknowledged && !all) {
			continue
		}
		out = append(out, *a)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Episodes returns copies of every retained breach episode for an organization.
func (m *Manager) Episodes(orgID string) []domain.BreachEpisode {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.BreachEpisode
	for key, history := range m.episodes {
		if key.OrgID != orgID {
			continue
		}
		for _, ep := range history {
			out = append(out, *ep)
		}
	}
	return out
}

// Prune drops acknowledged alerts last updated before the cutoff.
func (m *Manager) Prune(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, a := range m.alerts {
		if a.Acknowledged && a.UpdatedAt.Before(before) {
			delete(m.alerts, id)
			m.tombstone(id)
			removed++
		}
	}
	return removed
}

// tombstone must be called with m.mu held.
func (m *Manager) tombstone(id string) {
	m.pruned[id] = struct{}{}
	m.prunedFIFO = append(m.prunedFIFO, id)
	if over := len(m.prunedFIFO) - maxTombstones; over > 0 {
		for _, old := range m.prunedFIFO[:over] {
			delete(m.pruned, old)
		}
		m.prunedFIFO = append([]string(nil), m.prunedFIFO[over:]...)
	}
}

func (m *Manager) writeEpisode(ctx context.Context, ep domain.BreachEpisode) {
	if m.episodeSink == nil {
		return
	}
	if err := m.episodeSink.WriteEpisode(ctx, ep); err != nil {
		m.log.Warn("Failed to write breach episode", "episode", ep.ID, "error", err)
	}
}

func (m *Manager) deliver(ctx context.Context, event domain.AlertEvent) {
	if m.alertSink == nil {
		return
	}
	if err := m.alertSink.Deliver(ctx, event); err != nil {
		metrics.SinkErrors.WithLabelValues(m.alertSink.Name()).Inc()
		m.log.Warn("Failed to deliver alert event",
			"alert", event.Alert.ID,
			"event", event.Type,
			"sink", m.alertSink.Name(),
			"error", err,
		)
	}
}

func alertMessage(r Rollup) string {
	scope := "organization"
	if r.Key.EndpointID != "" {
		scope = "endpoint " + r.Key.EndpointID
	}
	return fmt.Sprintf("%s SLA %s for %s: compliance %.2f%% (value %.2f, threshold %.2f)",
		r.Type, r.Status, scope, r.Compliance, r.Value, r.Threshold)
}
