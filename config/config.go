// Package config loads the YAML configuration of the bridge harness.
//
// Configuration comes from a single file, named by the --config flag or the
// TFBRIDGE_CONFIG environment variable. Unknown keys are rejected so that a
// misspelled option never silently falls back to its default.
//
//	bridge:
//	  construction: anonymous
//	  detach_policy: owned
//	sink:
//	  status: 0
//	  memory_limit_pages: 32
//	log:
//	  level: debug
//	  development: true
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/clearcut-bridge/bridge"
	"github.com/wippyai/clearcut-bridge/errors"
	"github.com/wippyai/clearcut-bridge/sink"
)

// EnvVar names the environment variable Load reads the file path from.
const EnvVar = "TFBRIDGE_CONFIG"

// maxMemoryPages is the 4GiB ceiling of a 32-bit wasm memory.
const maxMemoryPages = 65536

// Config is the complete harness configuration.
type Config struct {
	Bridge bridge.Config `yaml:"bridge"`
	Sink   sink.Config   `yaml:"sink"`
	Log    LogConfig     `yaml:"log"`
}

// LogConfig selects the zap logger the harness builds.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn or error.
	Level string `yaml:"level"`

	// Development switches to the console encoder with caller and stack
	// traces on warnings.
	Development bool `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Bridge: bridge.DefaultConfig(),
		Sink:   sink.DefaultConfig(),
		Log:    LogConfig{Level: "info"},
	}
}

// Load loads the file named by EnvVar, or the defaults when it is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return LoadFile(path)
}

// LoadFile loads and validates the configuration in path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read config")
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, fills fields left empty and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode config")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Bridge = c.Bridge.WithDefaults()
	if c.Sink.MemoryLimitPages == 0 {
		c.Sink.MemoryLimitPages = sink.DefaultConfig().MemoryLimitPages
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Bridge.Validate(); err != nil {
		return err
	}
	if c.Sink.MemoryLimitPages > maxMemoryPages {
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("sink.memory_limit_pages %d exceeds %d", c.Sink.MemoryLimitPages, maxMemoryPages))
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}
	return nil
}

// Logger builds the zap logger described by the log section.
func (l LogConfig) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}

	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
