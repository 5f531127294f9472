package sla

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietddude/rpcsla/internal/core/domain"
)

func TestGenerateReport_Empty(t *testing.T) {
	f := newFixture(100)
	period := domain.Period{Start: epoch.Add(-24 * time.Hour), End: epoch}

	r := f.tracker.GenerateReport(context.Background(), "org-empty", period)

	assert.Equal(t, 100.0, r.OverallCompliance)
	require.Len(t, r.Metrics, 4)
	for _, mt := range domain.MetricTypes {
		m := r.Metrics[mt]
		assert.Equal(t, 100.0, m.Compliance, "%s", mt)
		assert.Equal(t, domain.StatusCompliant, m.Status, "%s", mt)
	}
	assert.Empty(t, r.Breaches)
	assert.NotNil(t, r.Breaches)
	assert.Empty(t, r.Recommendations)
	assert.Equal(t, epoch.Add(ReviewInterval), r.NextReviewDate)
}

func TestGenerateReport_AggregatesPeriod(t *testing.T) {
	f := newFixture(100)
	ctx := context.Background()

	// outside the period
	_, err := f.tracker.RecordMetric(ctx, "org-1", "ep-1", domain.MetricUptime, 0, 100)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	start := f.clock.Now()
	_, err = f.tracker.RecordMetric(ctx, "org-1", "ep-1", domain.MetricUptime, 100, 100)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.tracker.RecordMetric(ctx, "org-1", "ep-1", domain.MetricUptime, 50, 100)
	require.NoError(t, err)
	_, err = f.tracker.RecordMetric(ctx, "org-1", "", domain.MetricResponseTime, 100, 1000)
	require.NoError(t, err)
	_, err = f.tracker.RecordMetric(ctx, "org-2", "ep-9", domain.MetricUptime, 0, 100)
	require.NoError(t, err)

	period := domain.Period{Start: start, End: start.Add(time.Hour)}
	r := f.tracker.GenerateReport(ctx, "org-1", period)

	assert.InDelta(t, (100.0+50+100)/3, r.OverallCompliance, 1e-9)
	assert.Equal(t, 50.0, r.Metrics[domain.MetricUptime].Value)
	assert.Equal(t, 100.0, r.Metrics[domain.MetricResponseTime].Value)
	assert.Equal(t, 100.0, r.Metrics[domain.MetricErrorRate].Compliance)

	require.Len(t, r.Breaches, 1)
	assert.Equal(t, start.Add(time.Minute), r.Breaches[0].Start)
	require.Len(t, r.Recommendations, 1)
	assert.Contains(t, r.Recommendations[0], "Uptime")
}

func TestBuildReport_BreachOrderingAndUpsell(t *testing.T) {
	period := domain.Period{Start: epoch, End: epoch.Add(24 * time.Hour)}
	var episodes []domain.BreachEpisode
	for i := 0; i < 6; i++ {
		mt := domain.MetricUptime
		if i%2 == 1 {
			mt = domain.MetricErrorRate
		}
		episodes = append(episodes, domain.BreachEpisode{
			ID:    string(rune('a' + i)),
			OrgID: "org-1",
			Type:  mt,
			Start: epoch.Add(time.Duration(i) * time.Hour),
		})
	}
	episodes = append(episodes, domain.BreachEpisode{
		ID:    "late",
		OrgID: "org-1",
		Type:  domain.MetricUptime,
		Start: period.End,
	})

	r := BuildReport("org-1", period, nil, episodes, epoch)

	require.Len(t, r.Breaches, 6)
	for i := 1; i < len(r.Breaches); i++ {
		assert.True(t, r.Breaches[i-1].Start.After(r.Breaches[i].Start))
	}
	require.Len(t, r.Recommendations, 3)
	assert.Contains(t, r.Recommendations[0], "Uptime breached 3")
	assert.Contains(t, r.Recommendations[1], "Error rate breached 3")
	assert.Contains(t, r.Recommendations[2], "upgrading the service plan")
}

func TestBuildReport_FiveBreachesNoUpsell(t *testing.T) {
	period := domain.Period{Start: epoch, End: epoch.Add(time.Hour)}
	var episodes []domain.BreachEpisode
	for i := 0; i < 5; i++ {
		episodes = append(episodes, domain.BreachEpisode{
			OrgID: "org-1",
			Type:  domain.MetricAvailability,
			Start: epoch.Add(time.Duration(i) * time.Minute),
		})
	}

	r := BuildReport("org-1", period, nil, episodes, epoch)
	require.Len(t, r.Recommendations, 1)
	assert.Contains(t, r.Recommendations[0], "Availability breached 5")
}
