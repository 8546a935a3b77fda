// Package config loads process configuration from the environment.
// Variables carry the SAVINGS_BATCH_ prefix, e.g. SAVINGS_BATCH_REDIS_ADDR.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/savings-batch/pkg/logging"
	"github.com/Sternrassler/savings-batch/pkg/settings"
	"github.com/Sternrassler/savings-batch/pkg/store"
	"github.com/Sternrassler/savings-batch/pkg/tenant"
)

// Prefix is the environment variable prefix.
const Prefix = "SAVINGS_BATCH"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the configuration of the savings batch process.
type Config struct {
	// Redis
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Tenant identity
	TenantID       string `envconfig:"TENANT_ID" default:"default"`
	TenantName     string `envconfig:"TENANT_NAME" default:"Default"`
	TenantLocale   string `envconfig:"TENANT_LOCALE" default:"en"`
	TenantTimezone string `envconfig:"TENANT_TIMEZONE" default:"UTC"`

	// Job settings defaults; per-tenant overrides live in Redis.
	ThreadCount      int           `envconfig:"THREAD_COUNT" default:"1"`
	PageSize         int           `envconfig:"PAGE_SIZE" default:"500"`
	MaxAdmissionWait time.Duration `envconfig:"MAX_ADMISSION_WAIT" default:"23h"`

	// Page fetch retry
	FetchMaxAttempts    int           `envconfig:"FETCH_MAX_ATTEMPTS" default:"3"`
	FetchInitialBackoff time.Duration `envconfig:"FETCH_INITIAL_BACKOFF" default:"500ms"`
	FetchMaxBackoff     time.Duration `envconfig:"FETCH_MAX_BACKOFF" default:"10s"`

	// Scheduling
	Interval     time.Duration `envconfig:"INTERVAL" default:"24h"`
	InitialDelay time.Duration `envconfig:"INITIAL_DELAY" default:"5s"`
	LockTTL      time.Duration `envconfig:"LOCK_TTL" default:"1m"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`

	// HTTP (metrics and health)
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and resolvable values.
func (c *Config) Validate() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("%w: REDIS_ADDR is required", ErrInvalidConfig)
	}
	if c.TenantID == "" {
		return fmt.Errorf("%w: TENANT_ID is required", ErrInvalidConfig)
	}
	if _, err := time.LoadLocation(c.TenantTimezone); err != nil {
		return fmt.Errorf("%w: TENANT_TIMEZONE %q: %v", ErrInvalidConfig, c.TenantTimezone, err)
	}
	if err := c.JobSettings().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.FetchMaxAttempts < 1 {
		return fmt.Errorf("%w: FETCH_MAX_ATTEMPTS must be at least 1 (got %d)", ErrInvalidConfig, c.FetchMaxAttempts)
	}
	if c.FetchInitialBackoff <= 0 || c.FetchMaxBackoff < c.FetchInitialBackoff {
		return fmt.Errorf("%w: fetch backoff must satisfy 0 < initial <= max (got %s, %s)",
			ErrInvalidConfig, c.FetchInitialBackoff, c.FetchMaxBackoff)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: INTERVAL must be positive", ErrInvalidConfig)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("%w: LOCK_TTL must be positive", ErrInvalidConfig)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Tenant builds the tenant context for job runs.
func (c *Config) Tenant() (tenant.Context, error) {
	return tenant.New(c.TenantID, c.TenantName, c.TenantLocale, c.TenantTimezone)
}

// JobSettings returns the default job settings.
func (c *Config) JobSettings() settings.Settings {
	return settings.Settings{
		ThreadCount:      c.ThreadCount,
		PageSize:         c.PageSize,
		MaxAdmissionWait: c.MaxAdmissionWait,
	}
}

// Retry returns the page fetch retry configuration.
func (c *Config) Retry() store.RetryConfig {
	return store.RetryConfig{
		MaxAttempts:    c.FetchMaxAttempts,
		InitialBackoff: c.FetchInitialBackoff,
		MaxBackoff:     c.FetchMaxBackoff,
	}
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.LogLevel)
	cfg.Pretty = c.LogPretty
	return cfg
}

// Log writes the effective configuration, without secrets.
func (c *Config) Log(logger zerolog.Logger) {
	logger.Info().
		Str("redis_addr", c.RedisAddr).
		Bool("redis_password_present", c.RedisPassword != "").
		Str("tenant", c.TenantID).
		Str("timezone", c.TenantTimezone).
		Int("thread_count", c.ThreadCount).
		Int("page_size", c.PageSize).
		Dur("max_admission_wait", c.MaxAdmissionWait).
		Dur("interval", c.Interval).
		Str("metrics_addr", c.MetricsAddr).
		Msg("Configuration loaded")
}
