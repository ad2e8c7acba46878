// Package config loads and validates the rekindle configuration file.
//
// The configuration is a single YAML document covering the status
// server, the filesystem watcher, the transition history store, and
// telemetry. Loading applies defaults first, so a minimal or absent
// file yields a runnable configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rekindle/rekindle/pkg/telemetry"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "30s". Plain integers are taken as nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler. The integer decode runs
// first: an integer scalar also decodes into a string, which would
// send "1000000" into ParseDuration and fail on the missing unit.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration: %s", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the root configuration for a rekindle process.
type Config struct {
	// Server configures the embedded status-broadcast HTTP server.
	Server ServerConfig `yaml:"server"`

	// Watcher configures the filesystem watcher that triggers resets.
	Watcher WatcherConfig `yaml:"watcher"`

	// History configures the transition history store.
	History HistoryConfig `yaml:"history"`

	// Telemetry configures logging, tracing, and metrics.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	// Enabled controls whether the status server runs.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address the server binds to.
	ListenAddress string `yaml:"listen_address" validate:"required_with=Enabled"`

	// ReadTimeout bounds request reads. There is deliberately no write
	// timeout: the stream endpoint holds its response open indefinitely.
	ReadTimeout Duration `yaml:"read_timeout" validate:"min=0"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

// WatcherConfig configures the reset-triggering filesystem watcher.
type WatcherConfig struct {
	// Enabled controls whether the watcher runs.
	Enabled bool `yaml:"enabled"`

	// Paths are the files or directories to watch.
	Paths []string `yaml:"paths" validate:"required_with=Enabled,dive,required"`

	// Debounce is how long to coalesce bursts of filesystem events
	// before triggering one reset.
	Debounce Duration `yaml:"debounce" validate:"min=0"`
}

// HistoryConfig configures the transition history store.
type HistoryConfig struct {
	// Enabled controls whether transitions are recorded.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file path.
	Path string `yaml:"path" validate:"required_with=Enabled"`

	// Keep is how many transition records to retain; older records are
	// pruned. Zero keeps everything.
	Keep int `yaml:"keep" validate:"min=0"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:         true,
			ListenAddress:   ":8484",
			ReadTimeout:     Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Watcher: WatcherConfig{
			Enabled:  false,
			Debounce: Duration(500 * time.Millisecond),
		},
		History: HistoryConfig{
			Enabled: false,
			Keep:    1000,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads the YAML file at path over the defaults and validates the
// result. An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural and semantic errors.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Watcher.Enabled && len(c.Watcher.Paths) == 0 {
		return fmt.Errorf("config validation failed: watcher enabled with no paths")
	}
	return nil
}
