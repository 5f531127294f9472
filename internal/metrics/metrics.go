package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProbesTotal tracks probes per endpoint and outcome
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpcsla_probes_total",
			Help: "Total number of endpoint probes",
		},
		[]string{"endpoint", "result"},
	)

	// ProbeLatency tracks probe round-trip latency
	ProbeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpcsla_probe_latency_seconds",
			Help:    "Probe latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// ProbesSkipped counts ticks skipped because the previous probe was still running
	ProbesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpcsla_probes_skipped_total",
			Help: "Total number of probe ticks skipped while a probe was in flight",
		},
		[]string{"endpoint"},
	)

	// EndpointHealthy is 1 when the last probe succeeded
	EndpointHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcsla_endpoint_healthy",
			Help: "Whether the endpoint passed its last probe",
		},
		[]string{"endpoint"},
	)

	// EndpointBlockHeight tracks the latest block reported by the endpoint
	EndpointBlockHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcsla_endpoint_block_height",
			Help: "Latest block height reported by the endpoint",
		},
		[]string{"endpoint"},
	)

	// SLACompliance tracks the last rollup compliance per key and metric type
	SLACompliance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcsla_compliance_percent",
			Help: "Rolling SLA compliance percentage",
		},
		[]string{"org", "endpoint", "metric"},
	)

	// AlertsActive tracks unacknowledged alerts per organization
	AlertsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcsla_alerts_active",
			Help: "Number of unacknowledged SLA alerts",
		},
		[]string{"org"},
	)

	// BreachEpisodesTotal counts opened breach episodes
	BreachEpisodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpcsla_breach_episodes_total",
			Help: "Total number of breach episodes opened",
		},
		[]string{"metric", "severity"},
	)

	// WindowTruncated counts evaluations whose trailing window was cut short by eviction
	WindowTruncated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpcsla_window_truncated_total",
			Help: "Evaluations where history eviction truncated the trailing window",
		},
		[]string{"org"},
	)

	// SinkDropped counts entries dropped by buffered sinks on overflow
	SinkDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpcsla_sink_dropped_total",
			Help: "Total number of sink entries dropped on buffer overflow",
		},
		[]string{"sink"},
	)

	// SinkErrors counts failed sink deliveries
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpcsla_sink_errors_total",
			Help: "Total number of failed sink writes or deliveries",
		},
		[]string{"sink"},
	)

	// DBConnectionPoolUsage tracks the percentage of open database connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpcsla_db_pool_usage_percent",
			Help: "Open database connections as a percentage of the pool limit",
		},
	)
)
