package sla

import (
	"fmt"
	"sort"
	"time"

	"github.com/vietddude/rpcsla/internal/core/domain"
)

// ReviewInterval is the gap between a report and its suggested next review.
const ReviewInterval = 7 * 24 * time.Hour

// upsellBreaches is the breach count above which the report suggests a plan upgrade.
const upsellBreaches = 5

var recommendationByType = map[domain.MetricType]string{
	domain.MetricUptime:       "Uptime breached %d time(s): add a failover endpoint or move to a provider with a higher uptime guarantee.",
	domain.MetricResponseTime: "Response time breached %d time(s): route traffic to a closer region or a dedicated node.",
	domain.MetricErrorRate:    "Error rate breached %d time(s): review rate limits and failing methods on the affected endpoints.",
	domain.MetricAvailability: "Availability breached %d time(s): endpoints were unreachable or syncing; keep a fully synced backup endpoint.",
}

const upsellRecommendation = "More than %d SLA breaches this period: consider upgrading the service plan and enabling enhanced monitoring."

// BuildReport aggregates metrics and episodes into a report. It has no side effects
// and falls back to neutral defaults when no data falls inside the period.
func BuildReport(orgID string, period domain.Period, history []domain.SLAMetric, episodes []domain.BreachEpisode, now time.Time) domain.Report {
	report := domain.Report{
		OrgID:             orgID,
		Period:            period,
		OverallCompliance: 100,
		Metrics:           make(map[domain.MetricType]domain.SLAMetric, len(domain.MetricTypes)),
		Breaches:          []domain.BreachEpisode{},
		Recommendations:   []string{},
		GeneratedAt:       now,
		NextReviewDate:    now.Add(ReviewInterval),
	}

	var sum float64
	var n int
	for _, m := range history {
		if m.OrgID != orgID || !period.Contains(m.Timestamp) {
			continue
		}
		sum += m.Compliance
		n++
		if latest, ok := report.Metrics[m.Type]; !ok || !m.Timestamp.Before(latest.Timestamp) {
			report.Metrics[m.Type] = m
		}
	}
	if n > 0 {
		report.OverallCompliance = sum / float64(n)
	}
	for _, mt := range domain.MetricTypes {
		if _, ok := report.Metrics[mt]; !ok {
			report.Metrics[mt] = defaultMetric(orgID, mt, period)
		}
	}

	for _, ep := range episodes {
		if ep.OrgID == orgID && period.Contains(ep.Start) {
			report.Breaches = append(report.Breaches, ep)
		}
	}
	sort.SliceStable(report.Breaches, func(i, j int) bool {
		return report.Breaches[i].Start.After(report.Breaches[j].Start)
	})

	report.Recommendations = recommendations(report.Breaches)
	return report
}

func defaultMetric(orgID string, mt domain.MetricType, period domain.Period) domain.SLAMetric {
	value := 100.0
	if mt == domain.MetricResponseTime || mt == domain.MetricErrorRate {
		value = 0
	}
	return domain.SLAMetric{
		OrgID:       orgID,
		Type:        mt,
		Value:       value,
		Compliance:  100,
		Status:      domain.StatusCompliant,
		Timestamp:   period.End,
		WindowStart: period.Start,
		WindowEnd:   period.End,
	}
}

func recommendations(breaches []domain.BreachEpisode) []string {
	counts := make(map[domain.MetricType]int)
	for _, b := range breaches {
		counts[b.Type]++
	}

	out := []string{}
	for _, mt := range domain.MetricTypes {
		if c := counts[mt]; c > 0 {
			out = append(out, fmt.Sprintf(recommendationByType[mt], c))
		}
	}
	if len(breaches) > upsellBreaches {
		out = append(out, fmt.Sprintf(upsellRecommendation, upsellBreaches))
	}
	return out
}
