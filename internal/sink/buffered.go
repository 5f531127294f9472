package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/core/scheduler"
	"github.com/vietddude/rpcsla/internal/infra/storage"
	"github.com/vietddude/rpcsla/internal/metrics"
)

// DefaultFlushInterval is how often buffered entries are retried.
const DefaultFlushInterval = 15 * time.Second

type entry struct {
	metric  *domain.SLAMetric
	episode *domain.BreachEpisode
}

// Buffered wraps a MetricSink and queues writes per key while the sink fails.
// Each key holds at most limit entries; on overflow the oldest entry is dropped,
// counted in rpcsla_sink_dropped_total and logged. Entries for one key are
// delivered in write order. Sends for one key never wait on another key.
type Buffered struct {
	next  storage.MetricSink
	name  string
	limit int
	log   *slog.Logger

	pending atomic.Int64

	mu     sync.Mutex
	queues map[string]*keyQueue
}

// keyQueue serializes sends for one key. A removed queue has been dropped from
// the map and must not take new entries.
type keyQueue struct {
	mu      sync.Mutex
	entries []entry
	removed bool
}

// NewBuffered creates a buffering wrapper around next.
func NewBuffered(name string, next storage.MetricSink, limit int) *Buffered {
	if limit <= 0 {
		limit = storage.DefaultHistorySize
	}
	return &Buffered{
		next:   next,
		name:   name,
		limit:  limit,
		log:    slog.Default().With("component", "sink", "sink", name),
		queues: make(map[string]*keyQueue),
	}
}

// WriteMetric writes through when nothing is queued for the key, and queues otherwise.
// It never returns an error.
func (b *Buffered) WriteMetric(ctx context.Context, m domain.SLAMetric) error {
	return b.write(ctx, m.Key().String(), entry{metric: &m})
}

// WriteEpisode behaves like WriteMetric for breach episodes.
func (b *Buffered) WriteEpisode(ctx context.Context, ep domain.BreachEpisode) error {
	return b.write(ctx, ep.Key().String(), entry{episode: &ep})
}

func (b *Buffered) queue(key string) *keyQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[key]
	if !ok {
		q = &keyQueue{}
		b.queues[key] = q
	}
	return q
}

func (b *Buffered) write(ctx context.Context, key string, e entry) error {
	for {
		q := b.queue(key)
		q.mu.Lock()
		if q.removed {
			q.mu.Unlock()
			continue
		}

		if len(q.entries) == 0 {
			err := b.send(ctx, e)
			if err == nil {
				q.mu.Unlock()
				return nil
			}
			metrics.SinkErrors.WithLabelValues(b.name).Inc()
			b.log.Warn("Sink write failed, buffering", "key", key, "error", err)
		}
		b.enqueue(key, q, e)
		q.mu.Unlock()
		return nil
	}
}

// enqueue must be called with q.mu held.
func (b *Buffered) enqueue(key string, q *keyQueue, e entry) {
	q.entries = append(q.entries, e)
	b.pending.Add(1)
	if over := len(q.entries) - b.limit; over > 0 {
		q.entries = append([]entry(nil), q.entries[over:]...)
		b.pending.Add(-int64(over))
		metrics.SinkDropped.WithLabelValues(b.name).Add(float64(over))
		b.log.Warn("Sink buffer full, dropped oldest entries", "key", key, "dropped", over, "limit", b.limit)
	}
}

func (b *Buffered) send(ctx context.Context, e entry) error {
	if e.metric != nil {
		return b.next.WriteMetric(ctx, *e.metric)
	}
	return b.next.WriteEpisode(ctx, *e.episode)
}

// Flush retries queued entries in order. A key stops at its first failure.
func (b *Buffered) Flush(ctx context.Context) error {
	b.mu.Lock()
	keys := make([]string, 0, len(b.queues))
	for k := range b.queues {
		keys = append(keys, k)
	}
	b.mu.Unlock()
	sort.Strings(keys)

	var firstErr error
	for _, key := range keys {
		if err := b.flushKey(ctx, key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to flush %s: %w", key, err)
		}
	}
	return firstErr
}

func (b *Buffered) flushKey(ctx context.Context, key string) error {
	b.mu.Lock()
	q, ok := b.queues[key]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	sent := 0
	var err error
	for _, e := range q.entries {
		if err = b.send(ctx, e); err != nil {
			break
		}
		sent++
	}
	q.entries = q.entries[sent:]
	b.pending.Add(-int64(sent))

	if len(q.entries) == 0 && !q.removed {
		q.removed = true
		b.mu.Lock()
		if b.queues[key] == q {
			delete(b.queues, key)
		}
		b.mu.Unlock()
	}
	return err
}

// Pending returns the number of queued entries across all keys.
func (b *Buffered) Pending() int {
	return int(b.pending.Load())
}

// Start schedules periodic flushes.
func (b *Buffered) Start(ctx context.Context, s scheduler.Scheduler, interval time.Duration) (scheduler.Job, error) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return s.Every(ctx, "sink-flush-"+b.name, interval, func(ctx context.Context) {
		if err := b.Flush(ctx); err != nil {
			b.log.Warn("Sink flush incomplete", "pending", b.Pending(), "error", err)
		}
	})
}
