package sla

import (
	"fmt"
	"math"

	"github.com/vietddude/rpcsla/internal/core/domain"
)

// statusRule maps a minimum compliance to a status. Rules are checked in order.
type statusRule struct {
	min    float64
	status domain.ComplianceStatus
}

var statusPolicy = []statusRule{
	{min: 99, status: domain.StatusCompliant},
	{min: 95, status: domain.StatusWarning},
	{min: math.Inf(-1), status: domain.StatusBreach},
}

// severityRule maps a compliance ceiling to a breach severity.
type severityRule struct {
	below float64
	level domain.BreachSeverity
}

var severityPolicy = []severityRule{
	{below: 90, level: domain.SeverityCritical},
	{below: math.Inf(1), level: domain.SeverityMajor},
}

var alertSeverityPolicy = map[domain.ComplianceStatus]domain.AlertSeverity{
	domain.StatusWarning: domain.AlertWarning,
	domain.StatusBreach:  domain.AlertCritical,
}

// Compliance converts a measured value and its target into a 0-100 score.
// Uptime and availability are higher-is-better; response time and error rate are lower-is-better.
func Compliance(t domain.MetricType, value, threshold float64) (float64, error) {
	if threshold <= 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return 0, fmt.Errorf("%w: threshold must be positive, got %v", domain.ErrConfiguration, threshold)
	}
	if math.IsNaN(value) {
		return 0, fmt.Errorf("%w: value is NaN", domain.ErrConfiguration)
	}

	var c float64
	switch t {
	case domain.MetricUptime, domain.MetricAvailability:
		c = value / threshold * 100
	case domain.MetricResponseTime:
		c = 100 - (value-threshold)/threshold*100
	case domain.MetricErrorRate:
		c = 100 - value/threshold*100
	default:
		return 0, fmt.Errorf("%w: unknown metric type %q", domain.ErrConfiguration, t)
	}
	return clamp(c), nil
}

// Classify derives the status for a compliance score.
func Classify(compliance float64) domain.ComplianceStatus {
	for _, r := range statusPolicy {
		if compliance >= r.min {
			return r.status
		}
	}
	return domain.StatusBreach
}

// EpisodeSeverity grades a newly opened breach episode. Warning and breach
// rollups share the same scale.
func EpisodeSeverity(compliance float64) domain.BreachSeverity {
	for _, r := range severityPolicy {
		if compliance < r.below {
			return r.level
		}
	}
	return domain.SeverityMajor
}

// AlertSeverity maps a non-compliant status to an alert severity.
func AlertSeverity(status domain.ComplianceStatus) domain.AlertSeverity {
	if s, ok := alertSeverityPolicy[status]; ok {
		return s
	}
	return domain.AlertWarning
}

func clamp(c float64) float64 {
	return math.Max(0, math.Min(100, c))
}
