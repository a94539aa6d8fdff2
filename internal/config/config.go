package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application. Keys are the
// environment variable names; a .env file or an explicit config file may
// supply the same keys.
type Config struct {
	Port            string        `mapstructure:"PORT"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	RunMigrations   bool          `mapstructure:"RUN_MIGRATIONS"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `mapstructure:"ALLOWED_ORIGINS"`

	WebhookCache    string        `mapstructure:"WEBHOOK_CACHE"`
	WebhookCacheTTL time.Duration `mapstructure:"WEBHOOK_CACHE_TTL"`
	EventCacheTTL   time.Duration `mapstructure:"EVENT_CACHE_TTL"`

	DeliveryTimeout    time.Duration `mapstructure:"DELIVERY_TIMEOUT"`
	NumWorkers         int           `mapstructure:"NUM_WORKERS"`
	WorkerBlockTimeout time.Duration `mapstructure:"WORKER_BLOCK_TIMEOUT"`
	WorkerPollInterval time.Duration `mapstructure:"WORKER_POLL_INTERVAL"`

	MaxRetries      int           `mapstructure:"MAX_RETRIES"`
	RetryBaseDelay  time.Duration `mapstructure:"RETRY_BASE_DELAY"`
	RetryMultiplier float64       `mapstructure:"RETRY_MULTIPLIER"`
	RetryTick       time.Duration `mapstructure:"RETRY_TICK"`
	RetryWorkers    int           `mapstructure:"RETRY_WORKERS"`
	RetryLease      time.Duration `mapstructure:"RETRY_LEASE"`

	SweepSchedule   string        `mapstructure:"SWEEP_SCHEDULE"`
	SweepGrace      time.Duration `mapstructure:"SWEEP_GRACE"`
	PurgeSchedule   string        `mapstructure:"PURGE_SCHEDULE"`
	LedgerRetention time.Duration `mapstructure:"LEDGER_RETENTION"`
}

var defaults = map[string]any{
	"PORT":             "8080",
	"LOG_LEVEL":        "info",
	"RUN_MIGRATIONS":   true,
	"SHUTDOWN_TIMEOUT": "30s",
	"ALLOWED_ORIGINS":  []string{},

	"WEBHOOK_CACHE":     "redis",
	"WEBHOOK_CACHE_TTL": "10m",
	"EVENT_CACHE_TTL":   "30m",

	"DELIVERY_TIMEOUT":     "5s",
	"NUM_WORKERS":          50,
	"WORKER_BLOCK_TIMEOUT": "5s",
	"WORKER_POLL_INTERVAL": "2s",

	"MAX_RETRIES":      3,
	"RETRY_BASE_DELAY": "1m",
	"RETRY_MULTIPLIER": 2.0,
	"RETRY_TICK":       "1s",
	"RETRY_WORKERS":    4,
	"RETRY_LEASE":      "5m",

	"SWEEP_SCHEDULE":   "@every 5m",
	"SWEEP_GRACE":      "10m",
	"PURGE_SCHEDULE":   "0 3 * * *",
	"LEDGER_RETENTION": "2160h",
}

// Load reads configuration from the environment, then from path if given,
// otherwise from an optional .env file in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// Required keys have no default, so bind them explicitly.
	for _, k := range []string{"DATABASE_URL", "REDIS_URL"} {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("binding %s: %w", k, err)
		}
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.SetConfigName(".env")
		v.SetConfigType("env")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading .env: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required and enumerated settings.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	c.WebhookCache = strings.ToLower(strings.TrimSpace(c.WebhookCache))
	switch c.WebhookCache {
	case "redis", "memory":
	default:
		return fmt.Errorf("WEBHOOK_CACHE must be redis or memory, got %q", c.WebhookCache)
	}

	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("DELIVERY_TIMEOUT must be positive")
	}
	if c.RetryLease <= c.DeliveryTimeout {
		return fmt.Errorf("RETRY_LEASE (%s) must exceed DELIVERY_TIMEOUT (%s)", c.RetryLease, c.DeliveryTimeout)
	}
	return nil
}
