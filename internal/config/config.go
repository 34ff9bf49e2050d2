// Package config defines the single typed configuration record for the
// coordination server. Unknown keys are rejected at load time; duration
// fields are strings in the file and parsed on access.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all marcus configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Assignment  AssignmentConfig  `yaml:"assignment"`
	Lease       LeaseConfig       `yaml:"lease"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Provider    ProviderConfig    `yaml:"provider"`
	Store       StoreConfig       `yaml:"store"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AssignmentConfig governs the assigner's reservation loop and the
// progress monotonicity policy.
type AssignmentConfig struct {
	RetryBound      int      `yaml:"retry_bound"`      // reserve re-check attempts
	MonotonicPolicy string   `yaml:"monotonic_policy"` // reject or clamp
	ExcludedLabels  []string `yaml:"excluded_labels"`  // labels that keep a task off the agent pool
}

// LeaseConfig governs lease duration and the sweeper.
type LeaseConfig struct {
	Duration        string `yaml:"duration"`
	SweeperInterval string `yaml:"sweeper_interval"`
}

// OracleConfig configures the AI oracle.
type OracleConfig struct {
	Enabled             bool    `yaml:"enabled"`
	Model               string  `yaml:"model"`
	APIKey              string  `yaml:"api_key"`
	Deadline            string  `yaml:"deadline"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"` // inferred-edge acceptance
}

// DiagnosticsConfig tunes diagnostic detectors.
type DiagnosticsConfig struct {
	BottleneckThreshold int `yaml:"bottleneck_threshold"` // dependents gated by one task
	LongChainDepth      int `yaml:"long_chain_depth"`
}

// ProviderConfig selects and configures the kanban backend.
type ProviderConfig struct {
	Backend                string `yaml:"backend"` // planka, github, linear, in-memory
	BaseURL                string `yaml:"base_url"`
	Token                  string `yaml:"token"`
	BoardID                string `yaml:"board_id"`
	Timeout                string `yaml:"timeout"`
	ReconciliationInterval string `yaml:"reconciliation_interval"`
	RetryAttempts          int    `yaml:"retry_attempts"`   // total tries per provider call
	RetryBaseDelay         string `yaml:"retry_base_delay"` // first backoff step
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // embedded-kv or sql
	Path    string `yaml:"path"`    // directory (embedded-kv) or db file (sql)
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "marcus",
		Version: "1.0.0",

		Assignment: AssignmentConfig{
			RetryBound:      3,
			MonotonicPolicy: "reject",
			ExcludedLabels:  []string{"human-only"},
		},
		Lease: LeaseConfig{
			Duration:        "5m",
			SweeperInterval: "10s",
		},
		Oracle: OracleConfig{
			Enabled:             false,
			Model:               "gemini-2.0-flash",
			Deadline:            "2s",
			ConfidenceThreshold: 0.6,
		},
		Diagnostics: DiagnosticsConfig{
			BottleneckThreshold: 3,
			LongChainDepth:      6,
		},
		Provider: ProviderConfig{
			Backend:                "in-memory",
			Timeout:                "10s",
			ReconciliationInterval: "5m",
			RetryAttempts:          3,
			RetryBaseDelay:         "200ms",
		},
		Store: StoreConfig{
			Backend: "embedded-kv",
			Path:    ".marcus/state",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, layered over defaults and finished
// with environment overrides. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays secrets and the log level from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("MARCUS_ORACLE_API_KEY"); v != "" {
		c.Oracle.APIKey = v
	}
	if v := os.Getenv("MARCUS_PROVIDER_TOKEN"); v != "" {
		c.Provider.Token = v
	}
	if v := os.Getenv("MARCUS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks enum fields and numeric ranges.
func (c *Config) Validate() error {
	switch c.Assignment.MonotonicPolicy {
	case "reject", "clamp":
	default:
		return fmt.Errorf("invalid monotonic_policy %q (want reject or clamp)", c.Assignment.MonotonicPolicy)
	}
	switch c.Provider.Backend {
	case "planka", "github", "linear", "in-memory":
	default:
		return fmt.Errorf("invalid provider backend %q", c.Provider.Backend)
	}
	switch c.Store.Backend {
	case "embedded-kv", "sql":
	default:
		return fmt.Errorf("invalid store backend %q", c.Store.Backend)
	}
	if c.Oracle.ConfidenceThreshold < 0 || c.Oracle.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %v out of range [0,1]", c.Oracle.ConfidenceThreshold)
	}
	if c.Assignment.RetryBound < 1 {
		return fmt.Errorf("retry_bound must be >= 1")
	}
	if c.Diagnostics.BottleneckThreshold < 1 {
		return fmt.Errorf("bottleneck_threshold must be >= 1")
	}
	return nil
}

// parseDuration parses a duration string with a fallback for empty or
// malformed values.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// LeaseDuration returns the parsed lease duration (default 5m).
func (c *LeaseConfig) LeaseDuration() time.Duration {
	return parseDuration(c.Duration, 5*time.Minute)
}

// SweepInterval returns the parsed sweeper period (default 10s).
func (c *LeaseConfig) SweepInterval() time.Duration {
	return parseDuration(c.SweeperInterval, 10*time.Second)
}

// OracleDeadline returns the oracle call budget (default 2s).
func (c *OracleConfig) OracleDeadline() time.Duration {
	return parseDuration(c.Deadline, 2*time.Second)
}

// CallTimeout returns the provider HTTP timeout (default 10s).
func (c *ProviderConfig) CallTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

// ReconcileInterval returns the reconciliation period (default 5m).
func (c *ProviderConfig) ReconcileInterval() time.Duration {
	return parseDuration(c.ReconciliationInterval, 5*time.Minute)
}

// RetryBase returns the first backoff step for provider retries
// (default 200ms).
func (c *ProviderConfig) RetryBase() time.Duration {
	return parseDuration(c.RetryBaseDelay, 200*time.Millisecond)
}
