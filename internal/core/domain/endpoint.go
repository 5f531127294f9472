package domain

import "time"

// Endpoint is a monitored JSON-RPC endpoint configuration.
// ChainID and Network are the declared values every probe result is checked against.
type Endpoint struct {
	ID       string        `json:"id"       yaml:"id"       db:"id"`
	OwnerID  string        `json:"owner_id" yaml:"owner_id" db:"owner_id"`
	Name     string        `json:"name"     yaml:"name"     db:"name"`
	URL      string        `json:"url"      yaml:"url"      db:"url"`
	Network  string        `json:"network"  yaml:"network"  db:"network"`
	ChainID  uint64        `json:"chain_id" yaml:"chain_id" db:"chain_id"`
	Timeout  time.Duration `json:"-"        yaml:"timeout"  db:"-"`
	Enabled  bool          `json:"enabled"  yaml:"enabled"  db:"enabled"`
	Priority int           `json:"priority" yaml:"priority" db:"priority"`

	CreatedAt time.Time `json:"created_at" yaml:"-" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-" db:"updated_at"`
}

// DefaultProbeTimeout applies when an endpoint declares no timeout.
const DefaultProbeTimeout = 10 * time.Second

// ProbeTimeout returns the per-call timeout, falling back to DefaultProbeTimeout.
func (e Endpoint) ProbeTimeout() time.Duration {
	if e.Timeout <= 0 {
		return DefaultProbeTimeout
	}
	return e.Timeout
}

// Key is the metric key for the endpoint's probe-derived SLA history.
func (e Endpoint) Key() Key {
	return Key{OrgID: e.OwnerID, EndpointID: e.ID}
}

// EndpointHealth holds the rolling health fields maintained by the prober.
type EndpointHealth struct {
	EndpointID    string    `json:"endpoint_id"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	IsHealthy     bool      `json:"is_healthy"`
	ResponseTime  int64     `json:"response_time_ms"`
	ErrorCount    int       `json:"error_count"`
	LastError     string    `json:"last_error,omitempty"`
}

// EndpointStatus is an endpoint configuration joined with its current health.
type EndpointStatus struct {
	Endpoint
	Health *EndpointHealth `json:"health,omitempty"`
}
