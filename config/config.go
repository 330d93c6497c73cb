// Package config defines the TenantSync application configuration: NATS
// connection, per-stage concurrency, aggregation windows, and the ops
// surface. Files may be JSON or YAML; a handful of environment variables
// override the file for containerized deployments.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/tenantsync/errors"
)

// Config is the complete application configuration.
type Config struct {
	NATS       NATSConfig       `json:"nats" yaml:"nats"`
	Ops        OpsConfig        `json:"ops" yaml:"ops"`
	Stages     StagesConfig     `json:"stages" yaml:"stages"`
	JobQueue   JobQueueConfig   `json:"job_queue" yaml:"job_queue"`
	Aggregator AggregatorConfig `json:"aggregator" yaml:"aggregator"`
	Analysis   AnalysisConfig   `json:"analysis" yaml:"analysis"`
}

// NATSConfig defines NATS connection settings.
type NATSConfig struct {
	URL           string   `json:"url" yaml:"url"`
	MaxReconnects int      `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Timeout       Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OpsConfig defines the operational HTTP surface.
type OpsConfig struct {
	ListenAddr  string `json:"listen_addr" yaml:"listen_addr"`
	MetricsPath string `json:"metrics_path,omitempty" yaml:"metrics_path,omitempty"`
	HealthPath  string `json:"health_path,omitempty" yaml:"health_path,omitempty"`
}

// StageConfig bounds one stage's worker pool.
type StageConfig struct {
	Workers   int `json:"workers" yaml:"workers"`
	QueueSize int `json:"queue_size" yaml:"queue_size"`
}

// StagesConfig holds per-stage concurrency bounds. Fetch concurrency is the
// job queue's, not a stage runner's.
type StagesConfig struct {
	Process StageConfig `json:"process" yaml:"process"`
	Link    StageConfig `json:"link" yaml:"link"`
	Analyze StageConfig `json:"analyze" yaml:"analyze"`
}

// JobQueueConfig defines the durable job queue.
type JobQueueConfig struct {
	StreamName  string   `json:"stream_name,omitempty" yaml:"stream_name,omitempty"`
	MaxDeliver  int      `json:"max_deliver,omitempty" yaml:"max_deliver,omitempty"`
	AckWait     Duration `json:"ack_wait,omitempty" yaml:"ack_wait,omitempty"`
	Concurrency int      `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

// AggregatorConfig defines debounce windows for alert/tag reconciliation.
type AggregatorConfig struct {
	AlertWindow Duration `json:"alert_window,omitempty" yaml:"alert_window,omitempty"`
	TagWindow   Duration `json:"tag_window,omitempty" yaml:"tag_window,omitempty"`
}

// AnalysisConfig tunes the analyzer set.
type AnalysisConfig struct {
	StaleThresholdDays int     `json:"stale_threshold_days,omitempty" yaml:"stale_threshold_days,omitempty"`
	ProviderRateLimit  float64 `json:"provider_rate_limit,omitempty" yaml:"provider_rate_limit,omitempty"`
	ProviderBurst      int     `json:"provider_burst,omitempty" yaml:"provider_burst,omitempty"`
}

// Default returns the standard configuration.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			Timeout:       Duration(5 * time.Second),
		},
		Ops: OpsConfig{
			ListenAddr:  ":9090",
			MetricsPath: "/metrics",
			HealthPath:  "/healthz",
		},
		Stages: StagesConfig{
			Process: StageConfig{Workers: 8, QueueSize: 1024},
			Link:    StageConfig{Workers: 4, QueueSize: 512},
			Analyze: StageConfig{Workers: 4, QueueSize: 256},
		},
		JobQueue: JobQueueConfig{
			StreamName:  "JOBS",
			MaxDeliver:  5,
			AckWait:     Duration(2 * time.Minute),
			Concurrency: 4,
		},
		Aggregator: AggregatorConfig{
			AlertWindow: Duration(30 * time.Second),
			TagWindow:   Duration(30 * time.Second),
		},
		Analysis: AnalysisConfig{
			StaleThresholdDays: 91,
			ProviderRateLimit:  10,
			ProviderBurst:      5,
		},
	}
}

// Load reads a configuration file (JSON or YAML by extension), merges it over
// defaults, applies environment overrides and validates the result. An empty
// path returns defaults with env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
		}

		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			err = yaml.Unmarshal(data, cfg)
		} else {
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides select fields from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("TENANTSYNC_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("TENANTSYNC_OPS_ADDR"); v != "" {
		c.Ops.ListenAddr = v
	}
	if v := os.Getenv("TENANTSYNC_ALERT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Aggregator.AlertWindow = Duration(d)
		}
	}
	if v := os.Getenv("TENANTSYNC_STALE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Analysis.StaleThresholdDays = n
		}
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats.url")
	}
	if c.Aggregator.AlertWindow <= 0 || c.Aggregator.TagWindow <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("aggregator windows must be positive, got alert=%v tag=%v",
				c.Aggregator.AlertWindow, c.Aggregator.TagWindow),
			"Config", "Validate", "aggregator windows")
	}
	if c.Analysis.StaleThresholdDays <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("stale threshold must be positive, got %d", c.Analysis.StaleThresholdDays),
			"Config", "Validate", "analysis.stale_threshold_days")
	}
	for name, sc := range map[string]StageConfig{
		"process": c.Stages.Process,
		"link":    c.Stages.Link,
		"analyze": c.Stages.Analyze,
	} {
		if sc.Workers < 0 || sc.QueueSize < 0 {
			return errors.WrapInvalid(
				fmt.Errorf("stage %s has negative bounds", name),
				"Config", "Validate", "stage concurrency")
		}
	}
	return nil
}
