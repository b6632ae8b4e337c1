package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shardkit/shardkit/pkg/sharding"
)

// Config holds everything needed to stand up a running set of
// Connection Managers and Shard Sets: the server surface, logging,
// named endpoints, named resilience policies, and named shard sets
// built from them.
type Config struct {
	Server        ServerConfig              `json:"server"`
	Logging       LoggingConfig             `json:"logging"`
	Endpoints     map[string]EndpointSpec   `json:"endpoints"`
	Resilience    map[string]ResilienceSpec `json:"resilience"`
	ShardSets     map[string]ShardSetSpec   `json:"shard_sets"`
	Observability ObservabilityConfig       `json:"observability"`
	Housekeeping  HousekeepingConfig        `json:"housekeeping"`
}

// ServerConfig holds the diagnostics HTTP surface's listen settings.
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"-"`
	WriteTimeout    time.Duration `json:"-"`
	IdleTimeout     time.Duration `json:"-"`
	ReadTimeoutStr  string        `json:"read_timeout"`
	WriteTimeoutStr string        `json:"write_timeout"`
	IdleTimeoutStr  string        `json:"idle_timeout"`
}

// LoggingConfig mirrors pkg/logging.LogConfig in JSON-friendly form.
type LoggingConfig struct {
	Level        string `json:"level"`
	Format        string `json:"format"`
	EnableCaller bool   `json:"enable_caller"`
	EnableStack  bool   `json:"enable_stack"`
}

// EndpointSpec describes one connection endpoint: a credential source
// plus the resilience policy it should use (spec.md §3 Endpoint).
// Exactly one of StaticConnectionString or CredentialEnv should be set;
// StaticConnectionString is for tests and local development.
type EndpointSpec struct {
	Description           string `json:"description"`
	ResilienceKey         string `json:"resilience_key"`
	Driver                string `json:"driver"` // "postgres" or "mysql"
	StaticConnectionString string `json:"static_connection_string,omitempty"`
	CredentialEnv          string `json:"credential_env,omitempty"`
}

// ResilienceSpec is the JSON-friendly form of sharding.Policy.
type ResilienceSpec struct {
	RetryCount             int    `json:"retry_count"`
	RetryIntervalStr       string `json:"retry_interval"`
	RetryInterval          time.Duration `json:"-"`
	Lengthening            string `json:"lengthening"`
	BreakerFailureCount    int    `json:"breaker_failure_count"`
	BreakerTestIntervalStr string `json:"breaker_test_interval"`
	BreakerTestInterval    time.Duration `json:"-"`
}

// ToPolicy converts a ResilienceSpec into a sharding.Policy.
func (r ResilienceSpec) ToPolicy() sharding.Policy {
	lengthening := sharding.LengtheningFibonacci
	switch r.Lengthening {
	case "linear":
		lengthening = sharding.LengtheningLinear
	case "half_square":
		lengthening = sharding.LengtheningHalfSquare
	case "squaring":
		lengthening = sharding.LengtheningSquaring
	}
	return sharding.Policy{
		RetryCount:          r.RetryCount,
		RetryInterval:       r.RetryInterval,
		Lengthening:         lengthening,
		BreakerFailureCount: r.BreakerFailureCount,
		BreakerTestInterval: r.BreakerTestInterval,
	}
}

// ShardMemberSpec is one entry of a ShardSetSpec: a shard id and the
// named Endpoints its read and write Connection Managers should use.
type ShardMemberSpec struct {
	Id            string `json:"id"`
	ReadEndpoint  string `json:"read_endpoint"`
	WriteEndpoint string `json:"write_endpoint,omitempty"`
}

// ShardSetSpec is the declarative form of a sharding.ShardSet (spec.md
// §3/§6): an ordered member list plus an optional default shard.
type ShardSetSpec struct {
	Shards       []ShardMemberSpec `json:"shards"`
	DefaultShard string            `json:"default_shard,omitempty"`
}

// ObservabilityConfig holds metrics/tracing surface configuration.
type ObservabilityConfig struct {
	MetricsPort     int    `json:"metrics_port"`
	EnableTracing   bool   `json:"enable_tracing"`
	TracingEndpoint string `json:"tracing_endpoint"`
}

// HousekeepingConfig schedules pkg/housekeeping's two background jobs:
// the breaker-stale probe and the OAuth2 credential pre-refresh.
type HousekeepingConfig struct {
	BreakerProbeSchedule          string        `json:"breaker_probe_schedule"`
	BreakerProbeTestIntervalStr   string        `json:"breaker_probe_test_interval"`
	BreakerProbeTestInterval      time.Duration `json:"-"`
	CredentialRefreshSchedule     string        `json:"credential_refresh_schedule"`
	CredentialRefreshThresholdStr string        `json:"credential_refresh_threshold"`
	CredentialRefreshThreshold    time.Duration `json:"-"`
}

// LoadConfig loads configuration from a JSON file, parses duration
// strings, and fills in defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse durations: %w", err)
	}
	setDefaults(&cfg)

	return &cfg, nil
}

func parseDurations(c *Config) error {
	var err error
	if c.Server.ReadTimeoutStr != "" {
		if c.Server.ReadTimeout, err = time.ParseDuration(c.Server.ReadTimeoutStr); err != nil {
			return fmt.Errorf("invalid read_timeout: %w", err)
		}
	}
	if c.Server.WriteTimeoutStr != "" {
		if c.Server.WriteTimeout, err = time.ParseDuration(c.Server.WriteTimeoutStr); err != nil {
			return fmt.Errorf("invalid write_timeout: %w", err)
		}
	}
	if c.Server.IdleTimeoutStr != "" {
		if c.Server.IdleTimeout, err = time.ParseDuration(c.Server.IdleTimeoutStr); err != nil {
			return fmt.Errorf("invalid idle_timeout: %w", err)
		}
	}
	for key, r := range c.Resilience {
		if r.RetryIntervalStr != "" {
			if r.RetryInterval, err = time.ParseDuration(r.RetryIntervalStr); err != nil {
				return fmt.Errorf("resilience %q: invalid retry_interval: %w", key, err)
			}
		}
		if r.BreakerTestIntervalStr != "" {
			if r.BreakerTestInterval, err = time.ParseDuration(r.BreakerTestIntervalStr); err != nil {
				return fmt.Errorf("resilience %q: invalid breaker_test_interval: %w", key, err)
			}
		}
		c.Resilience[key] = r
	}
	if c.Housekeeping.BreakerProbeTestIntervalStr != "" {
		if c.Housekeeping.BreakerProbeTestInterval, err = time.ParseDuration(c.Housekeeping.BreakerProbeTestIntervalStr); err != nil {
			return fmt.Errorf("housekeeping: invalid breaker_probe_test_interval: %w", err)
		}
	}
	if c.Housekeeping.CredentialRefreshThresholdStr != "" {
		if c.Housekeeping.CredentialRefreshThreshold, err = time.ParseDuration(c.Housekeeping.CredentialRefreshThresholdStr); err != nil {
			return fmt.Errorf("housekeeping: invalid credential_refresh_threshold: %w", err)
		}
	}
	return nil
}

func setDefaults(c *Config) {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	for key, r := range c.Resilience {
		if r.RetryInterval == 0 {
			r.RetryInterval = 250 * time.Millisecond
		}
		c.Resilience[key] = r
	}
	if c.Observability.MetricsPort == 0 {
		c.Observability.MetricsPort = 9090
	}
	if c.Housekeeping.BreakerProbeSchedule == "" {
		c.Housekeeping.BreakerProbeSchedule = "@every 30s"
	}
	if c.Housekeeping.BreakerProbeTestInterval == 0 {
		c.Housekeeping.BreakerProbeTestInterval = 30 * time.Second
	}
	if c.Housekeeping.CredentialRefreshSchedule == "" {
		c.Housekeeping.CredentialRefreshSchedule = "@every 1m"
	}
	if c.Housekeeping.CredentialRefreshThreshold == 0 {
		c.Housekeeping.CredentialRefreshThreshold = 30 * time.Second
	}
}
