package domain

import (
	"fmt"
	"strings"
	"time"
)

// MetricType is the kind of SLA measurement.
type MetricType string

const (
	MetricUptime       MetricType = "uptime"
	MetricResponseTime MetricType = "response_time"
	MetricErrorRate    MetricType = "error_rate"
	MetricAvailability MetricType = "availability"
)

// MetricTypes lists every metric type in report order.
var MetricTypes = []MetricType{
	MetricUptime,
	MetricResponseTime,
	MetricErrorRate,
	MetricAvailability,
}

// Valid reports whether t is a known metric type.
func (t MetricType) Valid() bool {
	switch t {
	case MetricUptime, MetricResponseTime, MetricErrorRate, MetricAvailability:
		return true
	}
	return false
}

// ComplianceStatus classifies a compliance percentage.
type ComplianceStatus string

const (
	StatusCompliant ComplianceStatus = "compliant"
	StatusWarning   ComplianceStatus = "warning"
	StatusBreach    ComplianceStatus = "breach"
)

// BreachSeverity grades a breach episode.
type BreachSeverity string

const (
	SeverityMinor    BreachSeverity = "minor"
	SeverityMajor    BreachSeverity = "major"
	SeverityCritical BreachSeverity = "critical"
)

// AlertSeverity grades an alert.
type AlertSeverity string

const (
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// Key buckets metrics, alerts and breach history by organization and endpoint.
// An empty EndpointID means the organization-wide key.
type Key struct {
	OrgID      string `json:"org_id"`
	EndpointID string `json:"endpoint_id,omitempty"`
}

// GlobalEndpoint is the endpoint segment used for organization-wide keys.
const GlobalEndpoint = "*"

// String renders the key as "org/endpoint", using "*" for the organization-wide key.
func (k Key) String() string {
	ep := k.EndpointID
	if ep == "" {
		ep = GlobalEndpoint
	}
	return fmt.Sprintf("%s/%s", k.OrgID, ep)
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	org, ep, ok := strings.Cut(s, "/")
	if !ok || org == "" || ep == "" {
		return Key{}, fmt.Errorf("invalid key: %q", s)
	}
	if ep == GlobalEndpoint {
		ep = ""
	}
	return Key{OrgID: org, EndpointID: ep}, nil
}

// SLAMetric is one compliance observation summarizing a one-minute window.
type SLAMetric struct {
	OrgID       string           `json:"org_id"                db:"org_id"`
	EndpointID  string           `json:"endpoint_id,omitempty" db:"endpoint_id"`
	Type        MetricType       `json:"metric_type"           db:"metric_type"`
	Value       float64          `json:"value"                 db:"value"`
	Threshold   float64          `json:"threshold"             db:"threshold"`
	Compliance  float64          `json:"compliance"            db:"compliance"`
	Status      ComplianceStatus `json:"status"                db:"status"`
	Timestamp   time.Time        `json:"timestamp"             db:"recorded_at"`
	WindowStart time.Time        `json:"window_start"          db:"window_start"`
	WindowEnd   time.Time        `json:"window_end"            db:"window_end"`
}

// Key returns the bucket this metric belongs to.
func (m SLAMetric) Key() Key {
	return Key{OrgID: m.OrgID, EndpointID: m.EndpointID}
}

// BreachEpisode is a merged span of non-compliant observations for one metric on one key.
type BreachEpisode struct {
	ID         string         `json:"id"                    db:"id"`
	OrgID      string         `json:"org_id"                db:"org_id"`
	EndpointID string         `json:"endpoint_id,omitempty" db:"endpoint_id"`
	Type       MetricType     `json:"metric_type"           db:"metric_type"`
	Start      time.Time      `json:"start"                 db:"started_at"`
	End        time.Time      `json:"end"                   db:"ended_at"`
	Duration   float64        `json:"duration_minutes"      db:"duration_minutes"`
	Severity   BreachSeverity `json:"severity"              db:"severity"`
	Compliance float64        `json:"compliance"            db:"compliance"`
}

// Key returns the bucket this episode belongs to.
func (e BreachEpisode) Key() Key {
	return Key{OrgID: e.OrgID, EndpointID: e.EndpointID}
}

// SLAAlert is an active or resolved SLA notification.
type SLAAlert struct {
	ID             string        `json:"id"                        db:"id"`
	OrgID          string        `json:"org_id"                    db:"org_id"`
	EndpointID     string        `json:"endpoint_id,omitempty"     db:"endpoint_id"`
	Type           MetricType    `json:"metric_type"               db:"metric_type"`
	Value          float64       `json:"current_value"             db:"current_value"`
	Threshold      float64       `json:"threshold"                 db:"threshold"`
	Compliance     float64       `json:"compliance"                db:"compliance"`
	Severity       AlertSeverity `json:"severity"                  db:"severity"`
	Message        string        `json:"message"                   db:"message"`
	CreatedAt      time.Time     `json:"created_at"                db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"                db:"updated_at"`
	Acknowledged   bool          `json:"acknowledged"              db:"acknowledged"`
	AcknowledgedBy string        `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
}

// Key returns the bucket this alert belongs to.
func (a SLAAlert) Key() Key {
	return Key{OrgID: a.OrgID, EndpointID: a.EndpointID}
}

// AlertEventType names an alert lifecycle transition delivered to sinks.
type AlertEventType string

const (
	AlertCreated      AlertEventType = "created"
	AlertUpdated      AlertEventType = "updated"
	AlertAcknowledged AlertEventType = "acknowledged"
)

// AlertEvent is one alert transition.
type AlertEvent struct {
	Type  AlertEventType `json:"type"`
	Alert SLAAlert       `json:"alert"`
}

// Period is a half-open reporting interval [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Report is the compliance summary for one organization over a period.
type Report struct {
	OrgID             string                   `json:"org_id"`
	Period            Period                   `json:"period"`
	OverallCompliance float64                  `json:"overall_compliance"`
	Metrics           map[MetricType]SLAMetric `json:"metrics"`
	Breaches          []BreachEpisode          `json:"breaches"`
	Recommendations   []string                 `json:"recommendations"`
	GeneratedAt       time.Time                `json:"generated_at"`
	NextReviewDate    time.Time                `json:"next_review_date"`
}
