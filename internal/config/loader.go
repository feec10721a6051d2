// Package config provides centralized configuration management for the
// gateway: built-in defaults, an optional YAML file, and MODELGATE_*
// environment overrides, decoded through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const envPrefix = "MODELGATE"

// SetDefaults installs the built-in defaults on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 90*time.Second)

	v.SetDefault("auth.issuer", "modelgate")

	v.SetDefault("rate_limit.store", "redis")
	v.SetDefault("rate_limit.redis_addr", "localhost:6379")
	v.SetDefault("rate_limit.redis_db", 0)
	v.SetDefault("rate_limit.cost", 1)

	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.attempt_timeout", 30*time.Second)
	v.SetDefault("provider.max_retries", 2)
	v.SetDefault("provider.backoff_base", 200*time.Millisecond)

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "modelgate.db")

	v.SetDefault("usage.buffer_size", 1024)

	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
}

// Load reads configuration from the optional file path and the environment
// into a Config. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	v := viper.GetViper()
	return load(v, path)
}

// LoadIsolated loads into a fresh viper instance; used by tests so they do
// not disturb the process-global viper.
func LoadIsolated(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the gateway cannot run with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive")
	}

	switch cfg.RateLimit.Store {
	case "redis", "memory":
	default:
		return fmt.Errorf("rate_limit.store must be redis or memory, got %q", cfg.RateLimit.Store)
	}
	if cfg.RateLimit.Cost <= 0 {
		return fmt.Errorf("rate_limit.cost must be positive")
	}

	if cfg.Provider.AttemptTimeout >= cfg.Server.RequestTimeout {
		return fmt.Errorf("provider.attempt_timeout (%s) must be smaller than server.request_timeout (%s)",
			cfg.Provider.AttemptTimeout, cfg.Server.RequestTimeout)
	}
	if cfg.Provider.MaxRetries < 0 {
		return fmt.Errorf("provider.max_retries must not be negative")
	}

	return nil
}
