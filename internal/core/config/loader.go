package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/rpcsla/internal/infra/storage"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (cfg *AppConfig) ApplyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReportCacheTTL == 0 {
		cfg.Server.ReportCacheTTL = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Prober.Interval == 0 {
		cfg.Prober.Interval = 30 * time.Second
	}
	if cfg.Prober.Scheduler == "" {
		cfg.Prober.Scheduler = "ticker"
	}

	if cfg.SLA.EvaluationInterval == 0 {
		cfg.SLA.EvaluationInterval = time.Minute
	}
	if cfg.SLA.HistorySize == 0 {
		cfg.SLA.HistorySize = storage.DefaultHistorySize
	}
	if cfg.SLA.SinkBuffer == 0 {
		cfg.SLA.SinkBuffer = storage.DefaultHistorySize
	}
	if cfg.SLA.FlushInterval == 0 {
		cfg.SLA.FlushInterval = 15 * time.Second
	}
	cfg.SLA.Targets = cfg.SLA.Targets.WithDefaults()
}
