// Copyright 2025 Appherd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the appherd YAML configuration file.
// Unknown keys are rejected so typos surface at startup instead of silently
// falling back to defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/appherd/appherd/pkg/logger"
)

// Duration wraps time.Duration with YAML support for strings like "150ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// AsDuration returns the wrapped time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// Logging configures the zap logger.
type Logging struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format"`
}

// Metrics configures the prometheus/debug HTTP endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Scheduler configures the polling worker pool.
type Scheduler struct {
	// PoolLimit caps the worker pool; zero derives it from the processor
	// count.
	PoolLimit int `yaml:"poolLimit"`

	PollInterval        Duration `yaml:"pollInterval"`
	UpdateTimeout       Duration `yaml:"updateTimeout"`
	StarvationThreshold Duration `yaml:"starvationThreshold"`
}

// Scanner configures the shared handle cache.
type Scanner struct {
	// TTL is the cache lifetime between full process enumerations.
	TTL Duration `yaml:"ttl"`
}

// Resource declares one supervised application.
type Resource struct {
	// Name uniquely identifies the resource.
	Name string `yaml:"name"`

	// ProcessName is the executable name the resource is recognized by.
	ProcessName string `yaml:"processName"`

	// ExecutablePath is the launch path handed to RunProcess.
	ExecutablePath string `yaml:"executablePath"`

	// OperationTimeout bounds start/exit confirmation waits. Omitted
	// selects the core default; negative waits without bound.
	OperationTimeout Duration `yaml:"operationTimeout"`

	// Characters and AllowBlankSave flag optional driver capabilities.
	Characters     bool `yaml:"characters"`
	AllowBlankSave bool `yaml:"allowBlankSave"`
}

// Config is the root of the appherd configuration file.
type Config struct {
	Logging   Logging    `yaml:"logging"`
	Metrics   Metrics    `yaml:"metrics"`
	Scheduler Scheduler  `yaml:"scheduler"`
	Scanner   Scanner    `yaml:"scanner"`
	Resources []Resource `yaml:"resources"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logging: Logging{Level: "info", Format: "json"},
		Metrics: Metrics{Enabled: true, Address: ":8081"},
	}
}

// Load reads and validates the configuration at path. A missing file is an
// error; use Default for file-less startup.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, err
	}

	logger.For(logger.ComponentConfig).Infof("Loaded configuration from %s with %d resources", path, len(cfg.Resources))

	return cfg, nil
}

// Parse decodes and validates raw YAML configuration bytes. Empty input
// yields the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c Config) Validate() error {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics are enabled but no address is configured")
	}

	if c.Scheduler.PoolLimit < 0 {
		return fmt.Errorf("scheduler pool limit must not be negative, got %d", c.Scheduler.PoolLimit)
	}

	seen := make(map[string]struct{}, len(c.Resources))
	for i, res := range c.Resources {
		if res.Name == "" {
			return fmt.Errorf("resource %d has no name", i)
		}
		if _, dup := seen[res.Name]; dup {
			return fmt.Errorf("duplicate resource name %q", res.Name)
		}
		seen[res.Name] = struct{}{}

		if res.ProcessName == "" {
			return fmt.Errorf("resource %q has no process name", res.Name)
		}
	}

	return nil
}
