// Package config loads the YAML configuration for the injection subsystem
// and its collaborators.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/LittleNewton/zfs/core"
)

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Output is "stdout", "stderr" or "none".
	Output string `yaml:"output"`
}

// InjectionConfig holds fault-injection engine configurations.
type InjectionConfig struct {
	// MaxLanes caps a delay rule's lane table allocation; 0 keeps the
	// engine default.
	MaxLanes uint32 `yaml:"max_lanes"`
	// Seed makes the probabilistic paths deterministic; 0 derives a
	// seed from the clock at startup.
	Seed int64 `yaml:"seed"`
}

// CacheConfig holds block-cache configurations.
type CacheConfig struct {
	Capacity    int    `yaml:"capacity"`
	Shards      int    `yaml:"shards"`
	Compression string `yaml:"compression"`
}

// Config is the root configuration document.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Injection InjectionConfig `yaml:"injection"`
	Cache     CacheConfig     `yaml:"cache"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
		},
		Injection: InjectionConfig{},
		Cache: CacheConfig{
			Capacity:    1024,
			Shards:      8,
			Compression: "snappy",
		},
	}
}

// Load reads and validates a YAML configuration file, applying defaults
// for absent fields.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot be applied.
func (c *Config) Validate() error {
	if _, err := c.ParseLevel(); err != nil {
		return err
	}
	if _, err := c.CompressionType(); err != nil {
		return err
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("cache capacity must not be negative: %w", core.ErrInvalid)
	}
	if c.Cache.Shards < 0 {
		return fmt.Errorf("cache shards must not be negative: %w", core.ErrInvalid)
	}
	return nil
}

// ParseLevel converts the configured logging level to a slog.Level.
func (c *Config) ParseLevel() (slog.Level, error) {
	switch c.Logging.Level {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q: %w", c.Logging.Level, core.ErrInvalid)
	}
}

// CompressionType converts the configured cache compression name.
func (c *Config) CompressionType() (core.CompressionType, error) {
	switch c.Cache.Compression {
	case "", "snappy":
		return core.CompressionSnappy, nil
	case "none":
		return core.CompressionNone, nil
	case "lz4":
		return core.CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q: %w", c.Cache.Compression, core.ErrInvalid)
	}
}

// NewLogger builds a slog.Logger from the logging configuration.
func (c *Config) NewLogger() (*slog.Logger, error) {
	level, err := c.ParseLevel()
	if err != nil {
		return nil, err
	}
	var w io.Writer
	switch c.Logging.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	case "none":
		w = io.Discard
	default:
		return nil, fmt.Errorf("unknown log output %q: %w", c.Logging.Output, core.ErrInvalid)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}
