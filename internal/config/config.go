// Package config loads and validates the core's configuration: a YAML base
// file overridden by environment variables, with an optional fsnotify watch
// that swaps in a freshly validated Config atomically so in-flight requests
// never observe a half-applied reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageConfig configures C1's blob and structured stores.
type StorageConfig struct {
	Root              string `yaml:"root"`
	StructuredStoreURL string `yaml:"structured_store_url"`
	MaxFileSizeBytes  int64  `yaml:"max_file_size_bytes"`
	ResultTTLSeconds  int64  `yaml:"result_ttl_seconds"`
}

// JobsConfig configures C3.
type JobsConfig struct {
	WorkerCount      int   `yaml:"worker_count"`
	LeaseSeconds     int64 `yaml:"job_lease_seconds"`
	MaxAttempts      int   `yaml:"max_attempts"`
	JanitorIntervalS int64 `yaml:"janitor_interval_seconds"`
}

// RateLimitConfig configures C2.
type RateLimitConfig struct {
	RedisURL      string               `yaml:"redis_url"`
	WindowSeconds int64                `yaml:"window_seconds"`
	Tiers         map[string]TierLimit `yaml:"tiers"`
}

// TierLimit is one subscription tier's ceilings.
type TierLimit struct {
	MaxJobsPerWindow    int     `yaml:"max_jobs_per_window"`
	MaxPendingJobs       int     `yaml:"max_pending_jobs"`
	DailyCostCeilingUSD  float64 `yaml:"daily_cost_ceiling_usd"`
}

// ProviderConfig describes one configured LLM provider instance (C5/C6).
type ProviderConfig struct {
	ID           string        `yaml:"id"`
	Kind         string        `yaml:"kind"` // openai_compatible|anthropic|gemini|ollama|bedrock
	BaseURL      string        `yaml:"base_url,omitempty"`
	APIKeyEnv    string        `yaml:"api_key_env,omitempty"`
	Model        string        `yaml:"model"`
	Priority     int           `yaml:"priority"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	CapabilitiesOverride []string `yaml:"capabilities,omitempty"`
	// DailyBudgetUSD and MonthlyBudgetUSD are the per-provider ceilings
	// §4.2's reserve_budget check enforces; zero means unlimited.
	DailyBudgetUSD   float64 `yaml:"daily_budget_usd"`
	MonthlyBudgetUSD float64 `yaml:"monthly_budget_usd"`
}

// BreakerConfig configures C10.
type BreakerConfig struct {
	MaxRequestsHalfOpen uint32        `yaml:"max_requests_half_open"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures_to_trip"`
}

// PipelineConfig configures C8's fan-out and partial-failure threshold.
type PipelineConfig struct {
	DefaultMaxConcurrency int     `yaml:"default_max_concurrency"`
	DefaultMaxFunctions   int     `yaml:"default_max_functions"`
	PartialFailureThreshold float64 `yaml:"partial_failure_threshold"`
}

// EngineConfig configures C4's subprocess session.
type EngineConfig struct {
	BinaryPath      string        `yaml:"binary_path"`
	SessionTimeout  time.Duration `yaml:"session_timeout"`
	AddressFieldPath string       `yaml:"address_field_path"` // gojq expression, e.g. ".address"
	MaxConcurrentSessions int     `yaml:"max_concurrent_sessions"`
}

// LoggingConfig is the ambient logging setup.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// TelemetryConfig enables the optional prometheus/otel surfaces.
type TelemetryConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsPort    string `yaml:"metrics_port"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// NotifyConfig is the supplemental, disabled-by-default Slack notifier.
type NotifyConfig struct {
	SlackEnabled    bool   `yaml:"slack_enabled"`
	SlackWebhookEnv string `yaml:"slack_webhook_env"`
	SlackChannel    string `yaml:"slack_channel"`
}

// PolicyConfig points at the Rego bundle used for admission decisions.
type PolicyConfig struct {
	BundlePath string `yaml:"bundle_path"`
}

// Config is the core's full, validated configuration tree.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Jobs      JobsConfig      `yaml:"jobs"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Providers []ProviderConfig `yaml:"providers"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Engine    EngineConfig    `yaml:"engine"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Notify    NotifyConfig    `yaml:"notify"`
	Policy    PolicyConfig    `yaml:"policy"`
}

// defaults applies zero-value fallbacks before validation, mirroring the
// teacher's load-then-default-then-validate ordering.
func (c *Config) defaults() {
	if c.Storage.MaxFileSizeBytes == 0 {
		c.Storage.MaxFileSizeBytes = 500 * 1024 * 1024
	}
	if c.Storage.ResultTTLSeconds == 0 {
		c.Storage.ResultTTLSeconds = 7 * 24 * 3600
	}
	if c.Jobs.WorkerCount == 0 {
		c.Jobs.WorkerCount = 4
	}
	if c.Jobs.LeaseSeconds == 0 {
		c.Jobs.LeaseSeconds = 300
	}
	if c.Jobs.MaxAttempts == 0 {
		c.Jobs.MaxAttempts = 3
	}
	if c.Jobs.JanitorIntervalS == 0 {
		c.Jobs.JanitorIntervalS = 30
	}
	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.Breaker.MaxRequestsHalfOpen == 0 {
		c.Breaker.MaxRequestsHalfOpen = 1
	}
	if c.Breaker.Interval == 0 {
		c.Breaker.Interval = 60 * time.Second
	}
	if c.Breaker.Timeout == 0 {
		c.Breaker.Timeout = 30 * time.Second
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		c.Breaker.ConsecutiveFailures = 5
	}
	if c.Pipeline.DefaultMaxConcurrency == 0 {
		c.Pipeline.DefaultMaxConcurrency = 8
	}
	if c.Pipeline.PartialFailureThreshold == 0 {
		c.Pipeline.PartialFailureThreshold = 0.8
	}
	if c.Engine.SessionTimeout == 0 {
		c.Engine.SessionTimeout = 5 * time.Minute
	}
	if c.Engine.AddressFieldPath == "" {
		c.Engine.AddressFieldPath = ".address"
	}
	if c.Engine.MaxConcurrentSessions == 0 {
		c.Engine.MaxConcurrentSessions = c.Jobs.WorkerCount
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}
	if c.Telemetry.MetricsPort == "" {
		c.Telemetry.MetricsPort = "9090"
	}
	for i := range c.Providers {
		if c.Providers[i].Timeout == 0 {
			c.Providers[i].Timeout = 30 * time.Second
		}
	}
}

// Load reads and parses the YAML file at path, applies env var overrides,
// fills defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	cfg.defaults()
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// loadFromEnv overrides cfg fields from well-known environment variables,
// leaving cfg untouched for any variable that isn't set.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("STORAGE_ROOT"); v != "" {
		cfg.Storage.Root = v
	}
	if v := os.Getenv("STRUCTURED_STORE_URL"); v != "" {
		cfg.Storage.StructuredStoreURL = v
	}
	if v := os.Getenv("RATE_LIMIT_REDIS_URL"); v != "" {
		cfg.RateLimit.RedisURL = v
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WORKER_COUNT: %w", err)
		}
		cfg.Jobs.WorkerCount = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("METRICS_ENABLED: %w", err)
		}
		cfg.Telemetry.MetricsEnabled = b
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Telemetry.MetricsPort = v
	}
	if v := os.Getenv("ENGINE_BINARY_PATH"); v != "" {
		cfg.Engine.BinaryPath = v
	}
	if v := os.Getenv("POLICY_BUNDLE_PATH"); v != "" {
		cfg.Policy.BundlePath = v
	}
	return nil
}

// validate checks required fields and internal consistency after defaults
// have been applied.
func validate(cfg *Config) error {
	if cfg.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if cfg.Storage.StructuredStoreURL == "" {
		return fmt.Errorf("storage.structured_store_url is required")
	}
	if cfg.Jobs.WorkerCount < 1 {
		return fmt.Errorf("jobs.worker_count must be >= 1")
	}
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider entry missing id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		switch p.Kind {
		case "openai_compatible", "anthropic", "gemini", "ollama", "bedrock":
		default:
			return fmt.Errorf("provider %q: unknown kind %q", p.ID, p.Kind)
		}
	}
	if cfg.Pipeline.PartialFailureThreshold <= 0 || cfg.Pipeline.PartialFailureThreshold > 1 {
		return fmt.Errorf("pipeline.partial_failure_threshold must be in (0, 1]")
	}
	return nil
}
