// Package config loads and validates the flarewatch configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the full engine configuration.
type Config struct {
	Detector   DetectorConfig   `yaml:"detector"`
	Correlator CorrelatorConfig `yaml:"correlator"`
	Responder  ResponderConfig  `yaml:"responder"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
	Verbose    bool             `yaml:"-"` // set via CLI flag
}

// DetectorConfig contains detection settings.
type DetectorConfig struct {
	Interval  time.Duration `yaml:"interval"`   // evaluation cadence (default: 10s)
	Retention time.Duration `yaml:"retention"`  // event window retention (default: 1h)
	RulesFile string        `yaml:"rules_file"` // optional YAML rules file; empty uses built-ins
	WatchRules bool         `yaml:"watch_rules"` // hot-reload rules_file on change
}

// CorrelatorConfig contains correlation settings.
type CorrelatorConfig struct {
	ProximityWindow time.Duration `yaml:"proximity_window"` // temporal grouping gap (default: 2m)
	RootCauseGrace  time.Duration `yaml:"root_cause_grace"` // higher-severity grace (default: 30s)
}

// ResponderConfig contains remediation settings.
type ResponderConfig struct {
	ApprovalTimeout time.Duration `yaml:"approval_timeout"` // gated-action deadline (default: 15m)
	ActionTimeout   time.Duration `yaml:"action_timeout"`   // per-executor bound (default: 30s)
}

// NotifierConfig contains notification settings.
type NotifierConfig struct {
	Routes        map[string][]string `yaml:"routes"`          // severity -> channel names; empty keeps defaults
	SendTimeout   time.Duration       `yaml:"send_timeout"`    // per-channel send bound (default: 10s)
	RatePerSecond float64             `yaml:"rate_per_second"` // external channel throttle (default: 1)
	Burst         int                 `yaml:"burst"`           // throttle burst (default: 20)
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	Path string `yaml:"path"` // SQLite database path; empty uses in-memory storage
}

// ServerConfig contains HTTP surface settings.
type ServerConfig struct {
	APIAddress     string `yaml:"api_address"`     // REST API listen address (default: :8080)
	MetricsAddress string `yaml:"metrics_address"` // Prometheus listen address (default: :9090)
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Detector.Interval <= 0 {
		c.Detector.Interval = 10 * time.Second
	}
	if c.Detector.Retention <= 0 {
		c.Detector.Retention = time.Hour
	}
	if c.Correlator.ProximityWindow <= 0 {
		c.Correlator.ProximityWindow = 2 * time.Minute
	}
	if c.Correlator.RootCauseGrace <= 0 {
		c.Correlator.RootCauseGrace = 30 * time.Second
	}
	if c.Responder.ApprovalTimeout <= 0 {
		c.Responder.ApprovalTimeout = 15 * time.Minute
	}
	if c.Responder.ActionTimeout <= 0 {
		c.Responder.ActionTimeout = 30 * time.Second
	}
	if c.Notifier.SendTimeout <= 0 {
		c.Notifier.SendTimeout = 10 * time.Second
	}
	if c.Notifier.RatePerSecond <= 0 {
		c.Notifier.RatePerSecond = 1
	}
	if c.Notifier.Burst <= 0 {
		c.Notifier.Burst = 20
	}
	if c.Server.APIAddress == "" {
		c.Server.APIAddress = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9090"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Detector.Interval < time.Second {
		return fmt.Errorf("detector.interval must be at least 1s")
	}
	if c.Detector.WatchRules && c.Detector.RulesFile == "" {
		return fmt.Errorf("detector.rules_file is required when watch_rules is enabled")
	}
	if c.Detector.RulesFile != "" {
		if _, err := os.Stat(c.Detector.RulesFile); err != nil {
			return fmt.Errorf("detector.rules_file: %w", err)
		}
	}
	for severity, channels := range c.Notifier.Routes {
		switch severity {
		case "low", "medium", "high", "critical", "LOW", "MEDIUM", "HIGH", "CRITICAL":
		default:
			return fmt.Errorf("notifier.routes: unknown severity %q", severity)
		}
		if len(channels) == 0 {
			return fmt.Errorf("notifier.routes: severity %q has no channels", severity)
		}
	}
	return nil
}
