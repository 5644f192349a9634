package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the module-wide runtime configuration.
//
// Configuration priority (highest wins):
//  1. Explicit options (WithXxx)
//  2. Environment variables (COGNIGATE_*)
//  3. Configuration file (WithConfigFile)
//  4. Defaults
//
// Usage:
//
//	cfg, err := core.NewConfig(
//	    core.WithRedisURL("redis://localhost:6379"),
//	    core.WithDefaultTier("pro"),
//	)
type Config struct {
	// ServiceName identifies this runtime instance in logs and telemetry.
	ServiceName string `json:"service_name" yaml:"service_name" env:"COGNIGATE_SERVICE_NAME" default:"cognigate"`

	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	RateLimit  RateLimitConfig  `json:"rate_limit" yaml:"rate_limit"`
	Escalation EscalationConfig `json:"escalation" yaml:"escalation"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"COGNIGATE_LOG_LEVEL" default:"info"`
	Format string `json:"format" yaml:"format" env:"COGNIGATE_LOG_FORMAT" default:"json"`
	Output string `json:"output" yaml:"output" env:"COGNIGATE_LOG_OUTPUT" default:"stdout"`
}

// RateLimitConfig controls tenant admission defaults.
type RateLimitConfig struct {
	// DefaultTier is used when a tenant's tier is unknown.
	DefaultTier string `json:"default_tier" yaml:"default_tier" env:"COGNIGATE_DEFAULT_TIER" default:"free"`
}

// EscalationConfig controls the escalation engine.
type EscalationConfig struct {
	// CheckInterval is how often the timeout scanner sweeps active
	// escalations.
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval" env:"COGNIGATE_ESCALATION_CHECK_INTERVAL" default:"30s"`

	// RulesFile optionally points at a YAML rule file loaded at startup.
	RulesFile string `json:"rules_file" yaml:"rules_file" env:"COGNIGATE_ESCALATION_RULES_FILE"`
}

// StorageConfig selects and tunes the repository backend.
type StorageConfig struct {
	// Provider chooses the repository: "memory" or "redis".
	Provider string `json:"provider" yaml:"provider" env:"COGNIGATE_STORAGE_PROVIDER" default:"memory"`

	// RedisURL is required when Provider is "redis",
	// e.g. "redis://localhost:6379".
	RedisURL string `json:"redis_url" yaml:"redis_url" env:"COGNIGATE_REDIS_URL"`

	// KeyPrefix namespaces all Redis keys.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"COGNIGATE_KEY_PREFIX" default:"cognigate"`

	// CircuitBreaker wraps the repository in a circuit breaker.
	CircuitBreaker bool `json:"circuit_breaker" yaml:"circuit_breaker" env:"COGNIGATE_STORAGE_BREAKER" default:"true"`

	// Retention is how long soft-deleted executions are kept before the
	// retention sweeper hard-deletes them.
	Retention time.Duration `json:"retention" yaml:"retention" env:"COGNIGATE_RETENTION" default:"720h"`

	// SweepInterval is how often the retention sweeper runs.
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval" env:"COGNIGATE_SWEEP_INTERVAL" default:"1h"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" env:"COGNIGATE_TELEMETRY_ENABLED" default:"false"`

	// Endpoint is the OTLP gRPC collector address. Falls back to the
	// standard OTEL_EXPORTER_OTLP_ENDPOINT variable.
	Endpoint string `json:"endpoint" yaml:"endpoint" env:"COGNIGATE_OTEL_ENDPOINT"`

	// ServiceName overrides Config.ServiceName for telemetry resources.
	ServiceName string `json:"service_name" yaml:"service_name" env:"COGNIGATE_OTEL_SERVICE_NAME"`

	Insecure bool `json:"insecure" yaml:"insecure" env:"COGNIGATE_OTEL_INSECURE" default:"true"`

	// Development routes traces to stdout instead of a collector.
	Development bool `json:"development" yaml:"development" env:"COGNIGATE_TELEMETRY_DEV" default:"false"`
}

// Option is a functional option for configuring the runtime.
// Options are applied in order and can return an error if the
// configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with documented defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "cognigate",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		RateLimit: RateLimitConfig{
			DefaultTier: "free",
		},
		Escalation: EscalationConfig{
			CheckInterval: 30 * time.Second,
		},
		Storage: StorageConfig{
			Provider:       "memory",
			KeyPrefix:      "cognigate",
			CircuitBreaker: true,
			Retention:      720 * time.Hour,
			SweepInterval:  time.Hour,
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Insecure: true,
		},
	}
}

// LoadFromEnv overlays COGNIGATE_* environment variables onto the config.
// Unset variables leave the current values untouched.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("COGNIGATE_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}

	// Logging
	if v := os.Getenv("COGNIGATE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("COGNIGATE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("COGNIGATE_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}

	// Rate limiting
	if v := os.Getenv("COGNIGATE_DEFAULT_TIER"); v != "" {
		c.RateLimit.DefaultTier = v
	}

	// Escalation
	if v := os.Getenv("COGNIGATE_ESCALATION_CHECK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid COGNIGATE_ESCALATION_CHECK_INTERVAL %q: %w", v, ErrInvalidConfiguration)
		}
		c.Escalation.CheckInterval = d
	}
	if v := os.Getenv("COGNIGATE_ESCALATION_RULES_FILE"); v != "" {
		c.Escalation.RulesFile = v
	}

	// Storage
	if v := os.Getenv("COGNIGATE_STORAGE_PROVIDER"); v != "" {
		c.Storage.Provider = v
	}
	if v := os.Getenv("COGNIGATE_REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	}
	if v := os.Getenv("COGNIGATE_KEY_PREFIX"); v != "" {
		c.Storage.KeyPrefix = v
	}
	if v := os.Getenv("COGNIGATE_STORAGE_BREAKER"); v != "" {
		c.Storage.CircuitBreaker = parseBool(v)
	}
	if v := os.Getenv("COGNIGATE_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid COGNIGATE_RETENTION %q: %w", v, ErrInvalidConfiguration)
		}
		c.Storage.Retention = d
	}
	if v := os.Getenv("COGNIGATE_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid COGNIGATE_SWEEP_INTERVAL %q: %w", v, ErrInvalidConfiguration)
		}
		c.Storage.SweepInterval = d
	}

	// Telemetry
	if v := os.Getenv("COGNIGATE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("COGNIGATE_OTEL_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	} else if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v := os.Getenv("COGNIGATE_OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	}
	if v := os.Getenv("COGNIGATE_OTEL_INSECURE"); v != "" {
		c.Telemetry.Insecure = parseBool(v)
	}
	if v := os.Getenv("COGNIGATE_TELEMETRY_DEV"); v != "" {
		c.Telemetry.Development = parseBool(v)
	}

	return nil
}

// LoadFromFile overlays configuration from a JSON or YAML file.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	if !filepath.IsAbs(cleanPath) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cleanPath = filepath.Join(wd, cleanPath)
	}

	data, err := os.ReadFile(filepath.Clean(cleanPath))
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %w", ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %w", ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks the configuration and returns an error if it cannot be
// used to construct a runtime.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required: %w", ErrMissingConfiguration)
	}

	switch c.Storage.Provider {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown storage provider %q: %w", c.Storage.Provider, ErrInvalidConfiguration)
	}

	if c.Storage.Provider == "redis" && c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required for the redis storage provider: %w", ErrMissingConfiguration)
	}

	if c.Escalation.CheckInterval <= 0 {
		return fmt.Errorf("escalation check interval must be positive: %w", ErrInvalidConfiguration)
	}

	if c.Storage.SweepInterval <= 0 {
		return fmt.Errorf("storage sweep interval must be positive: %w", ErrInvalidConfiguration)
	}

	if c.Telemetry.Enabled && !c.Telemetry.Development && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint is required when telemetry is enabled: %w", ErrMissingConfiguration)
	}

	return nil
}

// NewConfig builds a validated configuration from defaults, environment
// variables, and options, in that order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// parseBool converts a string to a boolean value.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional options

// WithServiceName sets the service name used in logs and telemetry.
func WithServiceName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("service name cannot be empty: %w", ErrInvalidConfiguration)
		}
		c.ServiceName = name
		return nil
	}
}

// WithLogLevel sets the log level: debug, info, warn, or error.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets the log format: json or text.
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithDefaultTier sets the tier assumed for tenants with no known tier.
func WithDefaultTier(tier string) Option {
	return func(c *Config) error {
		if tier == "" {
			return fmt.Errorf("default tier cannot be empty: %w", ErrInvalidConfiguration)
		}
		c.RateLimit.DefaultTier = tier
		return nil
	}
}

// WithEscalationInterval sets the escalation timeout scan interval.
func WithEscalationInterval(interval time.Duration) Option {
	return func(c *Config) error {
		if interval <= 0 {
			return fmt.Errorf("escalation check interval must be positive: %w", ErrInvalidConfiguration)
		}
		c.Escalation.CheckInterval = interval
		return nil
	}
}

// WithRulesFile points the escalation engine at a YAML rule file.
func WithRulesFile(path string) Option {
	return func(c *Config) error {
		c.Escalation.RulesFile = path
		return nil
	}
}

// WithStorageProvider selects the repository backend: memory or redis.
func WithStorageProvider(provider string) Option {
	return func(c *Config) error {
		c.Storage.Provider = provider
		return nil
	}
}

// WithRedisURL sets the Redis connection URL and selects the redis
// storage provider.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		if url == "" {
			return fmt.Errorf("redis URL cannot be empty: %w", ErrInvalidConfiguration)
		}
		c.Storage.Provider = "redis"
		c.Storage.RedisURL = url
		return nil
	}
}

// WithKeyPrefix namespaces all storage keys.
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) error {
		c.Storage.KeyPrefix = prefix
		return nil
	}
}

// WithCircuitBreaker toggles the storage circuit breaker.
func WithCircuitBreaker(enabled bool) Option {
	return func(c *Config) error {
		c.Storage.CircuitBreaker = enabled
		return nil
	}
}

// WithRetention sets how long soft-deleted executions are retained.
func WithRetention(retention time.Duration) Option {
	return func(c *Config) error {
		if retention <= 0 {
			return fmt.Errorf("retention must be positive: %w", ErrInvalidConfiguration)
		}
		c.Storage.Retention = retention
		return nil
	}
}

// WithSweepInterval sets the retention sweeper interval.
func WithSweepInterval(interval time.Duration) Option {
	return func(c *Config) error {
		if interval <= 0 {
			return fmt.Errorf("sweep interval must be positive: %w", ErrInvalidConfiguration)
		}
		c.Storage.SweepInterval = interval
		return nil
	}
}

// WithTelemetry enables OpenTelemetry export to the given OTLP endpoint.
func WithTelemetry(endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = true
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

// WithDevelopmentTelemetry enables stdout trace export for local work.
func WithDevelopmentTelemetry() Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = true
		c.Telemetry.Development = true
		return nil
	}
}

// WithConfigFile loads configuration from a JSON or YAML file.
// File configuration is applied when the option runs, so later options
// override file settings.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}
