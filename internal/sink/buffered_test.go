package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/metrics"
)

type flakySink struct {
	mu       sync.Mutex
	down     bool
	metrics  []domain.SLAMetric
	episodes []domain.BreachEpisode
}

func (f *flakySink) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flakySink) WriteMetric(ctx context.Context, m domain.SLAMetric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errors.New("connection refused")
	}
	f.metrics = append(f.metrics, m)
	return nil
}

func (f *flakySink) WriteEpisode(ctx context.Context, ep domain.BreachEpisode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errors.New("connection refused")
	}
	f.episodes = append(f.episodes, ep)
	return nil
}

func metric(org string, v float64) domain.SLAMetric {
	return domain.SLAMetric{OrgID: org, EndpointID: "ep-1", Type: domain.MetricUptime, Value: v, Timestamp: time.Unix(int64(v), 0)}
}

func TestBuffered_WritesThrough(t *testing.T) {
	next := &flakySink{}
	b := NewBuffered("through", next, 10)
	ctx := context.Background()

	require.NoError(t, b.WriteMetric(ctx, metric("org-1", 1)))
	require.NoError(t, b.WriteEpisode(ctx, domain.BreachEpisode{ID: "e1", OrgID: "org-1"}))

	assert.Len(t, next.metrics, 1)
	assert.Len(t, next.episodes, 1)
	assert.Equal(t, 0, b.Pending())
}

func TestBuffered_QueuesAndFlushesInOrder(t *testing.T) {
	next := &flakySink{down: true}
	b := NewBuffered("order", next, 10)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, b.WriteMetric(ctx, metric("org-1", float64(i))))
	}
	assert.Equal(t, 3, b.Pending())

	require.Error(t, b.Flush(ctx))
	assert.Equal(t, 3, b.Pending())

	next.setDown(false)
	require.NoError(t, b.WriteMetric(ctx, metric("org-1", 4)))
	assert.Empty(t, next.metrics, "new writes queue behind pending ones")

	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, 0, b.Pending())
	require.Len(t, next.metrics, 4)
	for i, m := range next.metrics {
		assert.Equal(t, float64(i+1), m.Value)
	}
}

func TestBuffered_DropsOldestOnOverflow(t *testing.T) {
	next := &flakySink{down: true}
	b := NewBuffered("overflow", next, 3)
	ctx := context.Background()

	before := testutil.ToFloat64(metrics.SinkDropped.WithLabelValues("overflow"))
	for i := 1; i <= 5; i++ {
		require.NoError(t, b.WriteMetric(ctx, metric("org-1", float64(i))))
	}
	require.NoError(t, b.WriteMetric(ctx, metric("org-2", 9)))

	assert.Equal(t, 4, b.Pending(), "limit applies per key")
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.SinkDropped.WithLabelValues("overflow")))

	next.setDown(false)
	require.NoError(t, b.Flush(ctx))
	var org1 []float64
	for _, m := range next.metrics {
		if m.OrgID == "org-1" {
			org1 = append(org1, m.Value)
		}
	}
	assert.Equal(t, []float64{3, 4, 5}, org1)
}

// hangingSink blocks writes for one organization until released.
type hangingSink struct {
	flakySink
	stuckOrg string
	release  chan struct{}
	entered  chan struct{}
}

func (h *hangingSink) WriteMetric(ctx context.Context, m domain.SLAMetric) error {
	if m.OrgID == h.stuckOrg {
		h.entered <- struct{}{}
		<-h.release
	}
	return h.flakySink.WriteMetric(ctx, m)
}

func TestBuffered_SlowKeyDoesNotBlockOtherKeys(t *testing.T) {
	next := &hangingSink{stuckOrg: "slow", release: make(chan struct{}), entered: make(chan struct{}, 1)}
	b := NewBuffered("isolation", next, 10)
	ctx := context.Background()

	slowDone := make(chan struct{})
	go func() {
		_ = b.WriteMetric(ctx, metric("slow", 1))
		close(slowDone)
	}()
	<-next.entered

	fastDone := make(chan struct{})
	go func() {
		_ = b.WriteMetric(ctx, metric("fast", 2))
		close(fastDone)
	}()
	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("write for another key waited on the stuck send")
	}

	flushed := make(chan error, 1)
	go func() { flushed <- b.Flush(ctx) }()
	assert.Equal(t, 0, b.Pending())

	close(next.release)
	<-slowDone
	require.NoError(t, <-flushed)

	next.mu.Lock()
	defer next.mu.Unlock()
	require.Len(t, next.metrics, 2)
	assert.Equal(t, "fast", next.metrics[0].OrgID)
	assert.Equal(t, "slow", next.metrics[1].OrgID)
}
