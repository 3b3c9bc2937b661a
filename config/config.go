package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Defaults applied when a value is left empty.
const (
	DefaultCapacity            = 4
	DefaultReconcileDelay      = 100 * time.Millisecond
	DefaultSettleDelay         = 100 * time.Millisecond
	DefaultAutoRetryDelay      = time.Second
	DefaultDiagnosticsInterval = time.Second
	DefaultLiveViewListen      = ":18080"
)

// TimingConfig groups the delays of the recovery machinery.
type TimingConfig struct {
	// ReconcileDelay is the pause between a context loss and the capacity check.
	ReconcileDelay Duration `yaml:"reconcile_delay,omitempty"`
	// SettleDelay is the pause between a global cleanup and the recovery broadcast.
	SettleDelay Duration `yaml:"settle_delay,omitempty"`
	// AutoRetryDelay is the pause before a boundary retries a context-loss failure.
	AutoRetryDelay Duration `yaml:"auto_retry_delay,omitempty"`
	// DiagnosticsInterval is how often the live view polls the pool.
	DiagnosticsInterval Duration `yaml:"diagnostics_interval,omitempty"`
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
}

// LiveViewConfig configures the diagnostics web interface.
type LiveViewConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// SimulationConfig drives the built-in widget simulation.
type SimulationConfig struct {
	Widgets         int      `yaml:"widgets,omitempty"`
	FrameInterval   Duration `yaml:"frame_interval,omitempty"`
	LossInterval    Duration `yaml:"loss_interval,omitempty"`
	RestoreAfter    Duration `yaml:"restore_after,omitempty"`
	RemountInterval Duration `yaml:"remount_interval,omitempty"`
	Seed            int64    `yaml:"seed,omitempty"`
}

// Config is the root configuration structure for the service.
type Config struct {
	Capacity   int              `yaml:"capacity"`
	Timing     TimingConfig     `yaml:"timing"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	LiveView   LiveViewConfig   `yaml:"live_view"`
	HotReload  bool             `yaml:"hot_reload,omitempty"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Capacity: DefaultCapacity,
		Timing: TimingConfig{
			ReconcileDelay:      Duration{DefaultReconcileDelay},
			SettleDelay:         Duration{DefaultSettleDelay},
			AutoRetryDelay:      Duration{DefaultAutoRetryDelay},
			DiagnosticsInterval: Duration{DefaultDiagnosticsInterval},
		},
		Logging:  LoggingConfig{Level: "info"},
		LiveView: LiveViewConfig{Listen: DefaultLiveViewListen},
	}
}

// Load reads, decodes and validates the configuration file from disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var errNilConfig = errors.New("configuration must not be nil")

// ContextCapacity returns the maximum number of simultaneously active contexts.
func (c *Config) ContextCapacity() int {
	if c == nil || c.Capacity <= 0 {
		return DefaultCapacity
	}
	return c.Capacity
}

// ReconcileDelay returns the loss reconciliation delay.
func (c *Config) ReconcileDelay() time.Duration {
	if c == nil || c.Timing.ReconcileDelay.Duration <= 0 {
		return DefaultReconcileDelay
	}
	return c.Timing.ReconcileDelay.Duration
}

// SettleDelay returns the delay between a global cleanup and its broadcast.
func (c *Config) SettleDelay() time.Duration {
	if c == nil || c.Timing.SettleDelay.Duration <= 0 {
		return DefaultSettleDelay
	}
	return c.Timing.SettleDelay.Duration
}

// AutoRetryDelay returns the boundary's automatic retry delay.
func (c *Config) AutoRetryDelay() time.Duration {
	if c == nil || c.Timing.AutoRetryDelay.Duration <= 0 {
		return DefaultAutoRetryDelay
	}
	return c.Timing.AutoRetryDelay.Duration
}

// DiagnosticsInterval returns the live view polling interval.
func (c *Config) DiagnosticsInterval() time.Duration {
	if c == nil || c.Timing.DiagnosticsInterval.Duration <= 0 {
		return DefaultDiagnosticsInterval
	}
	return c.Timing.DiagnosticsInterval.Duration
}

// LiveViewListen returns the live view listen address.
func (c *Config) LiveViewListen() string {
	if c == nil || c.LiveView.Listen == "" {
		return DefaultLiveViewListen
	}
	return c.LiveView.Listen
}
