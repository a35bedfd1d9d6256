// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestValidateRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"zero learning rate", func(c *Config) { c.Feedback.LearningRate = 0 }},
		{"ceiling below floor", func(c *Config) { c.Feedback.ScoreFloor, c.Feedback.ScoreCeiling = 50, 10 }},
		{"max factor below min", func(c *Config) { c.Slots.MinFactor, c.Slots.MaxFactor = 2, 1 }},
		{"loyal rate above default rate", func(c *Config) { c.Exploration.RateLoyal = 0.5 }},
		{"no slot definitions", func(c *Config) { c.Slots.Definitions = nil }},
		{"max queue size below default", func(c *Config) { c.Queue.MaxSize = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("Validate() = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestLoadLayersEnvOverFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rotation.yaml")
	yaml := []byte("scoring:\n  new_release_days: 21\nserver:\n  port: 9000\n")
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("ROTATION_SERVER_PORT", "9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}

	if cfg.Scoring.NewReleaseDays != 21 {
		t.Errorf("NewReleaseDays = %d, want file value 21", cfg.Scoring.NewReleaseDays)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want env value 9999", cfg.Server.Port)
	}
	// Untouched options keep their defaults.
	if cfg.Feedback.RetryInterval != 30*time.Second {
		t.Errorf("RetryInterval = %v, want default 30s", cfg.Feedback.RetryInterval)
	}
}

func TestLoadRejectsInvalidFileValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rotation.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	_, err := Load()
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("Load() = %v, want ConfigurationError", err)
	}
}
