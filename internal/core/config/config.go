package config

import (
	"time"

	"github.com/vietddude/rpcsla/internal/core/domain"
	redisclient "github.com/vietddude/rpcsla/internal/infra/redis"
	"github.com/vietddude/rpcsla/internal/infra/storage/postgres"
	"github.com/vietddude/rpcsla/internal/notify"
	"github.com/vietddude/rpcsla/internal/sla"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Database  postgres.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
	Prober    ProberConfig       `yaml:"prober"`
	SLA       SLAConfig          `yaml:"sla"`
	Alerting  AlertingConfig     `yaml:"alerting"`
	Endpoints []EndpointConfig   `yaml:"endpoints"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReportCacheTTL time.Duration `yaml:"report_cache_ttl"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ProberConfig holds health probing settings.
type ProberConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Scheduler string        `yaml:"scheduler"` // ticker, cron
}

// SLAConfig holds compliance tracking settings.
type SLAConfig struct {
	EvaluationInterval time.Duration          `yaml:"evaluation_interval"`
	HistorySize        int                    `yaml:"history_size"`
	SinkBuffer         int                    `yaml:"sink_buffer"`
	FlushInterval      time.Duration          `yaml:"flush_interval"`
	Retention          time.Duration          `yaml:"retention"` // 0 keeps persisted history forever
	Targets            sla.Targets            `yaml:"targets"`
	OrgTargets         map[string]sla.Targets `yaml:"org_targets"`
}

// AlertingConfig selects alert sinks.
type AlertingConfig struct {
	Log       bool            `yaml:"log"`
	WebSocket bool            `yaml:"websocket"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is one webhook destination with optional routing conditions.
type WebhookConfig struct {
	Name       string                   `yaml:"name"`
	URL        string                   `yaml:"url"`
	Headers    map[string]string        `yaml:"headers"`
	Timeout    time.Duration            `yaml:"timeout"`
	Attempts   int                      `yaml:"attempts"` // default 3
	Conditions []notify.ConditionConfig `yaml:"conditions"`
}

// EndpointConfig is a statically configured endpoint seeded at startup.
type EndpointConfig struct {
	ID       string        `yaml:"id"`
	OwnerID  string        `yaml:"owner_id"`
	Name     string        `yaml:"name"`
	URL      string        `yaml:"url"`
	Network  string        `yaml:"network"`
	ChainID  uint64        `yaml:"chain_id"`
	Timeout  time.Duration `yaml:"timeout"`
	Enabled  *bool         `yaml:"enabled"` // default true
	Priority int           `yaml:"priority"`
}

// Endpoint converts the config entry to a domain endpoint.
func (c EndpointConfig) Endpoint() domain.Endpoint {
	enabled := true
	if c.Enabled != nil {
		enabled = *c.Enabled
	}
	name := c.Name
	if name == "" {
		name = c.ID
	}
	return domain.Endpoint{
		ID:       c.ID,
		OwnerID:  c.OwnerID,
		Name:     name,
		URL:      c.URL,
		Network:  c.Network,
		ChainID:  c.ChainID,
		Timeout:  c.Timeout,
		Enabled:  enabled,
		Priority: c.Priority,
	}
}

// SeedEndpoints returns the configured static endpoints.
func (c *AppConfig) SeedEndpoints() []domain.Endpoint {
	out := make([]domain.Endpoint, 0, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		out = append(out, ep.Endpoint())
	}
	return out
}
