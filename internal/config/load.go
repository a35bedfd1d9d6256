// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "ROTATION_"

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "ROTATION_CONFIG"

// DefaultConfigPaths lists where the config file is searched, in order.
var DefaultConfigPaths = []string{
	"rotation.yaml",
	"rotation.yml",
	"/etc/rotation/rotation.yaml",
}

// Load builds the configuration from layered sources:
//
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. ROTATION_-prefixed environment variables (highest priority)
//
// ROTATION_SCORING_NEW_RELEASE_DAYS overrides scoring.new_release_days,
// ROTATION_SERVER_PORT overrides server.port, and so on.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.Replace(key, "_", ".", 1)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate checks option ranges. The time-slot partition invariant is
// checked separately by the resolver at construction, which also sees the
// parsed ranges.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return &ConfigurationError{
				Field:   first.Namespace(),
				Message: fmt.Sprintf("failed %q constraint", first.Tag()),
			}
		}
		return &ConfigurationError{Field: "config", Message: err.Error()}
	}

	if c.Exploration.RateLoyal > c.Exploration.RateDefault {
		return &ConfigurationError{
			Field:   "exploration.rate_loyal",
			Message: "loyal audiences must not be explored more than the default rate",
		}
	}
	return nil
}
