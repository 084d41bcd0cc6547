// Package config loads the application's runtime configuration (venue
// credentials, rate limits, persistence DSN, retention windows) via
// viper, and the declarative policy document (risk rules) via yaml.v3.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// VenueConfig is one venue's endpoint and credentials.
type VenueConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// RateLimitConfig parameterizes a single venue's token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// RetentionConfig mirrors persistence.RetentionPolicy in config-file form.
type RetentionConfig struct {
	MetricsDays   int `mapstructure:"metrics_days"`
	OrdersDays    int `mapstructure:"orders_days"`
	FillsDays     int `mapstructure:"fills_days"`
	PositionsDays int `mapstructure:"positions_days"`
	CompressAfterDays int `mapstructure:"compress_after_days"`
}

// Config is the top-level application configuration.
type Config struct {
	PolicyFile     string                     `mapstructure:"policy_file"`
	PersistenceDSN string                     `mapstructure:"persistence_dsn"`
	Venues         map[string]VenueConfig     `mapstructure:"venues"`
	RateLimits     map[string]RateLimitConfig `mapstructure:"rate_limits"`
	Retention      RetentionConfig            `mapstructure:"retention"`
	AdapterTimeout time.Duration              `mapstructure:"adapter_timeout"`
}

// Default returns a Config with conservative defaults, suitable as the
// viper baseline before a config file or environment overrides apply.
func Default() Config {
	return Config{
		PolicyFile:     "policies.yaml",
		PersistenceDSN: "trading.db",
		Venues:         map[string]VenueConfig{},
		RateLimits:     map[string]RateLimitConfig{},
		Retention: RetentionConfig{
			MetricsDays:       30,
			OrdersDays:        90,
			FillsDays:         90,
			PositionsDays:     90,
			CompressAfterDays: 7,
		},
		AdapterTimeout: 30 * time.Second,
	}
}

// Load reads configPath (if non-empty) plus TRADING_-prefixed
// environment variables into a Config, viper.Config style: explicit
// defaults first, then file, then environment, mirroring the
// teacher's own flag-then-config wiring order in cmd/server/main.go.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TRADING")
	v.AutomaticEnv()

	v.SetDefault("policy_file", cfg.PolicyFile)
	v.SetDefault("persistence_dsn", cfg.PersistenceDSN)
	v.SetDefault("retention.metrics_days", cfg.Retention.MetricsDays)
	v.SetDefault("retention.orders_days", cfg.Retention.OrdersDays)
	v.SetDefault("retention.fills_days", cfg.Retention.FillsDays)
	v.SetDefault("retention.positions_days", cfg.Retention.PositionsDays)
	v.SetDefault("retention.compress_after_days", cfg.Retention.CompressAfterDays)
	v.SetDefault("adapter_timeout", cfg.AdapterTimeout)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
