// Package config provides engine assembly configuration.
//
// This covers only what the infrastructure itself needs to come up: logging,
// message dispatch policy, state machine tracing, and observability
// endpoints. Game-specific configuration belongs to the game, typically
// carried through the context.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/playforge-studio/gamecore/gamecore/statemachine"
	"github.com/playforge-studio/gamecore/gamecore/typeutil"
)

// Dispatcher kinds accepted by Config.Dispatcher.
const (
	DispatcherImmediate = "immediate"
	DispatcherPolling   = "polling"
	DispatcherThreaded  = "threaded"
)

// Config holds engine assembly configuration.
type Config struct {
	// Logging
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// Message dispatch policy: immediate, polling, or threaded.
	Dispatcher string `yaml:"dispatcher"`

	// State machine tracing: none, error, info, or verbose.
	TraceLevel string `yaml:"trace_level"`

	// Update loop
	UpdateIntervalMs int `yaml:"update_interval_ms"`

	// Observability
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsAddr     string `yaml:"metrics_addr"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	ServiceName     string `yaml:"service_name"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		LogLevel:         "info",
		LogJSON:          false,
		Dispatcher:       DispatcherPolling,
		TraceLevel:       "error",
		UpdateIntervalMs: 16,
		MetricsEnabled:   false,
		MetricsAddr:      ":9100",
		TracingEnabled:   false,
		TracingEndpoint:  "localhost:4317",
		ServiceName:      "gamecore",
	}
}

// FromMap creates a Config from a loosely-typed map. Unknown keys are
// ignored.
func FromMap(values map[string]any) *Config {
	c := Default()
	c.LogLevel = typeutil.SafeStringDefault(values["log_level"], c.LogLevel)
	c.LogJSON = typeutil.SafeBoolDefault(values["log_json"], c.LogJSON)
	c.Dispatcher = typeutil.SafeStringDefault(values["dispatcher"], c.Dispatcher)
	c.TraceLevel = typeutil.SafeStringDefault(values["trace_level"], c.TraceLevel)
	c.UpdateIntervalMs = typeutil.SafeIntDefault(values["update_interval_ms"], c.UpdateIntervalMs)
	c.MetricsEnabled = typeutil.SafeBoolDefault(values["metrics_enabled"], c.MetricsEnabled)
	c.MetricsAddr = typeutil.SafeStringDefault(values["metrics_addr"], c.MetricsAddr)
	c.TracingEnabled = typeutil.SafeBoolDefault(values["tracing_enabled"], c.TracingEnabled)
	c.TracingEndpoint = typeutil.SafeStringDefault(values["tracing_endpoint"], c.TracingEndpoint)
	c.ServiceName = typeutil.SafeStringDefault(values["service_name"], c.ServiceName)
	return c
}

// FromYAML parses a Config from YAML, applying defaults for absent fields.
func FromYAML(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile reads and parses a Config from a YAML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return FromYAML(data)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Dispatcher {
	case DispatcherImmediate, DispatcherPolling, DispatcherThreaded:
	default:
		return fmt.Errorf("invalid dispatcher %q (want immediate, polling, or threaded)", c.Dispatcher)
	}
	switch c.TraceLevel {
	case "none", "error", "info", "verbose":
	default:
		return fmt.Errorf("invalid trace_level %q (want none, error, info, or verbose)", c.TraceLevel)
	}
	if c.UpdateIntervalMs <= 0 {
		return fmt.Errorf("update_interval_ms must be positive, got %d", c.UpdateIntervalMs)
	}
	if c.MetricsEnabled && c.MetricsAddr == "" {
		return fmt.Errorf("metrics_addr is required when metrics are enabled")
	}
	if c.TracingEnabled && c.TracingEndpoint == "" {
		return fmt.Errorf("tracing_endpoint is required when tracing is enabled")
	}
	return nil
}

// UpdateInterval returns the update loop period.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalMs) * time.Millisecond
}

// StateTraceLevel returns the configured state machine trace level.
func (c *Config) StateTraceLevel() statemachine.TraceLevel {
	switch c.TraceLevel {
	case "none":
		return statemachine.TraceLevelNone
	case "info":
		return statemachine.TraceLevelInfo
	case "verbose":
		return statemachine.TraceLevelVerbose
	default:
		return statemachine.TraceLevelError
	}
}
