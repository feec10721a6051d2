package config

import (
	"time"
)

// Config represents the complete gateway configuration. Values are layered:
// built-in defaults, then an optional YAML config file, then MODELGATE_*
// environment variables.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Store     StoreConfig     `mapstructure:"store"`
	Usage     UsageConfig     `mapstructure:"usage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RequestTimeout is the end-to-end budget set when a request is received.
	// Provider attempt timeouts are derived from what remains of it.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig contains credential verification configuration.
type AuthConfig struct {
	// PublicKeyPath points at the PEM-encoded RSA public key used to verify
	// bearer tokens.
	PublicKeyPath string `mapstructure:"public_key_path"`
	Issuer        string `mapstructure:"issuer"`
}

// RateLimitConfig contains limiter configuration.
type RateLimitConfig struct {
	// Store selects the bucket store: "redis" (shared, multi-instance) or
	// "memory" (single process).
	Store         string  `mapstructure:"store"`
	RedisAddr     string  `mapstructure:"redis_addr"`
	RedisPassword string  `mapstructure:"redis_password"`
	RedisDB       int     `mapstructure:"redis_db"`
	TierFile      string  `mapstructure:"tier_file"`
	Cost          float64 `mapstructure:"cost"`
}

// ProviderConfig contains the upstream provider endpoint configuration.
// The endpoint URL, credential, and retry policy are injected here; the
// wire schema is owned by the driver.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
}

// StoreConfig contains usage persistence configuration for libsql/Turso.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// UsageConfig contains usage recorder configuration.
type UsageConfig struct {
	// BufferSize bounds the fire-and-forget queue; records beyond it are
	// dropped rather than blocking request handling.
	BufferSize int `mapstructure:"buffer_size"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level controls the minimum log level.
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}
