// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// RadiusAddr is the UDP address the RADIUS gateway listens on (e.g. :1812).
	RadiusAddr string `mapstructure:"RADIUS_ADDR"`
	// RadiusSecret is the shared secret between this proxy and the network access server.
	RadiusSecret string `mapstructure:"RADIUS_SECRET"`
	// DatabaseURL is the backend/MFA store DSN. postgres:// DSNs use pgx; sqlite: DSNs use modernc sqlite.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// CacheTTL is how long a successful authentication stays cached (e.g. "5m").
	CacheTTL string `mapstructure:"CACHE_TTL"`
	// CacheSize is the maximum number of cached authentications; 0 disables the cache.
	CacheSize int `mapstructure:"CACHE_SIZE"`
	// AdapterTimeout bounds each backend adapter call (e.g. "5s").
	AdapterTimeout string `mapstructure:"ADAPTER_TIMEOUT"`
	// TOTPSkew is the number of adjacent 30s steps accepted around the current one.
	TOTPSkew int `mapstructure:"TOTP_SKEW"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables telemetry export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("RADIUS_ADDR", ":1812")
	v.SetDefault("RADIUS_SECRET", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("CACHE_SIZE", 1000)
	v.SetDefault("ADAPTER_TIMEOUT", "5s")
	v.SetDefault("TOTP_SKEW", 1)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.RadiusAddr == "" {
		return nil, errors.New("config: RADIUS_ADDR must be set")
	}
	if _, err := cfg.CacheTTLDuration(); err != nil {
		return nil, fmt.Errorf("config: CACHE_TTL: %w", err)
	}
	if _, err := cfg.AdapterTimeoutDuration(); err != nil {
		return nil, fmt.Errorf("config: ADAPTER_TIMEOUT: %w", err)
	}
	if cfg.CacheSize < 0 {
		return nil, errors.New("config: CACHE_SIZE must not be negative")
	}
	if cfg.TOTPSkew < 0 || cfg.TOTPSkew > 10 {
		return nil, errors.New("config: TOTP_SKEW must be between 0 and 10")
	}

	return &cfg, nil
}

// CacheTTLDuration parses CacheTTL as a time.Duration.
func (c *Config) CacheTTLDuration() (time.Duration, error) {
	return time.ParseDuration(c.CacheTTL)
}

// AdapterTimeoutDuration parses AdapterTimeout as a time.Duration.
func (c *Config) AdapterTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.AdapterTimeout)
}
