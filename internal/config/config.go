// Package config loads the gateway's YAML configuration and reads the
// credential environment variables (which cmd/gateway fills from a .env
// file) that supplement the out-of-scope CLI.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Venue      VenueConfig      `yaml:"venue"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Latency    LatencyConfig    `yaml:"latency"`
	Logging    LoggingConfig    `yaml:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

// VenueConfig selects the Deribit environment and holds the default
// subscription list the coordinator joins on startup.
type VenueConfig struct {
	TestMode    bool     `yaml:"test_mode"`
	Instruments []string `yaml:"instruments"`
}

// BroadcastConfig configures the downstream broadcast server.
type BroadcastConfig struct {
	Port int `yaml:"port"`
}

// LatencyConfig holds sample-storage settings for the latency registry.
// Nothing in the gateway reads them yet at run time: each tracker's
// settings are fixed at its GetTracker call site.
type LatencyConfig struct {
	StoreSamples bool `yaml:"store_samples"`
	MaxSamples   int  `yaml:"max_samples"`
}

// LoggingConfig configures the logger package.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age_days"`
}

// RateLimitConfig bounds one-shot HTTPS calls to the venue.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// CloudWatchConfig optionally enables latency-registry export to
// CloudWatch. Empty Namespace disables the export.
type CloudWatchConfig struct {
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

// Defaults mirrors the defaults a fresh deployment should run with.
func Defaults() Config {
	return Config{
		Venue:     VenueConfig{TestMode: true},
		Broadcast: BroadcastConfig{Port: 9000},
		Latency:   LatencyConfig{StoreSamples: true, MaxSamples: 1000},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 10},
	}
}

// Load reads and parses the YAML document at path, filling any unset
// fields from Defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	if cfg.Broadcast.Port == 0 {
		cfg.Broadcast.Port = 9000
	}
	if cfg.Latency.MaxSamples == 0 {
		cfg.Latency.MaxSamples = 1000
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 10
	}
	return cfg, nil
}

// Credentials is the (api_key, api_secret) pair the out-of-scope CLI or
// the environment supplies.
type Credentials struct {
	APIKey    string
	APISecret string
}

// CredentialsFromEnv reads DERIBIT_API_KEY / DERIBIT_API_SECRET, the
// fallback path when the CLI does not pass them as positional
// arguments.
func CredentialsFromEnv() Credentials {
	return Credentials{
		APIKey:    os.Getenv("DERIBIT_API_KEY"),
		APISecret: os.Getenv("DERIBIT_API_SECRET"),
	}
}
