// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

// Package config loads and validates Rotation's configuration.
//
// Configuration is layered with koanf: built-in defaults, then an optional
// YAML file, then ROTATION_-prefixed environment variables. All tunable
// scoring, feedback, and exploration parameters live here so no component
// reads ambient global state.
package config

import (
	"fmt"
	"time"
)

// ConfigurationError reports an invalid option or time-slot layout detected
// at startup. It is fatal; no recovery is attempted.
type ConfigurationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// Config is the root configuration for the rotationd daemon.
type Config struct {
	Logging     LoggingConfig     `koanf:"logging"`
	Store       StoreConfig       `koanf:"store"`
	Server      ServerConfig      `koanf:"server"`
	Scoring     ScoringConfig     `koanf:"scoring"`
	Feedback    FeedbackConfig    `koanf:"feedback"`
	Exploration ExplorationConfig `koanf:"exploration"`
	Queue       QueueConfig       `koanf:"queue"`
	Slots       SlotsConfig       `koanf:"slots"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level" validate:"oneof=trace debug info warn error"`

	// Format is json or console.
	Format string `koanf:"format" validate:"oneof=json console"`

	// Caller includes file:line in log output.
	Caller bool `koanf:"caller"`
}

// StoreConfig controls the persistence collaborator.
type StoreConfig struct {
	// Path is the BadgerDB directory. Empty selects an in-memory store.
	Path string `koanf:"path"`

	// MaxRetries is the retry budget for transient store failures.
	MaxRetries uint64 `koanf:"max_retries" validate:"max=20"`

	// RetryInitialInterval is the first backoff delay.
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval" validate:"gt=0"`

	// RetryMaxInterval caps the backoff delay.
	RetryMaxInterval time.Duration `koanf:"retry_max_interval" validate:"gt=0"`
}

// ServerConfig controls the HTTP inspection API.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`

	// RequestTimeout bounds each API request.
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`

	// RateLimitRequests per RateLimitWindow per client IP.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
}

// ScoringConfig holds the score model parameters.
type ScoringConfig struct {
	// NewReleaseDays is the age below which content counts as a new release.
	NewReleaseDays int `koanf:"new_release_days" validate:"min=1"`

	// NewReleaseScoreFloor is the minimum base score granted to low-view
	// new releases.
	NewReleaseScoreFloor float64 `koanf:"new_release_score_floor" validate:"gte=0"`

	// NewReleaseMaxViews caps the view count at which the floor applies.
	NewReleaseMaxViews int64 `koanf:"new_release_max_views" validate:"gt=0"`

	// FreshnessBonusPerDay is the linear bonus per remaining new-release day.
	FreshnessBonusPerDay float64 `koanf:"freshness_bonus_per_day" validate:"gte=0"`

	// LoyaltyWeight scales the returning-viewer percentage into the
	// loyalty boost multiplier.
	LoyaltyWeight float64 `koanf:"loyalty_weight" validate:"gte=0"`

	// EngagementCommentWeight and EngagementChatWeight blend the two
	// engagement terms. They should sum to 1.
	EngagementCommentWeight float64 `koanf:"engagement_comment_weight" validate:"gte=0,lte=1"`
	EngagementChatWeight    float64 `koanf:"engagement_chat_weight" validate:"gte=0,lte=1"`

	// RetentionWindow bounds each record's retention history.
	RetentionWindow int `koanf:"retention_window" validate:"min=2"`
}

// FeedbackConfig holds the learning-loop parameters.
type FeedbackConfig struct {
	// LearningRate scales the prediction error into a score delta.
	LearningRate float64 `koanf:"learning_rate" validate:"gt=0,lte=1"`

	// ReturningPctWeight and ReturningRetentionWeight blend the
	// loyalty adjustment applied after the error term.
	ReturningPctWeight       float64 `koanf:"returning_pct_weight" validate:"gte=0"`
	ReturningRetentionWeight float64 `koanf:"returning_retention_weight" validate:"gte=0"`

	// ScoreFloor and ScoreCeiling clamp learned scores so repeated large
	// deltas cannot run away.
	ScoreFloor   float64 `koanf:"score_floor" validate:"gte=0"`
	ScoreCeiling float64 `koanf:"score_ceiling" validate:"gtfield=ScoreFloor"`

	// DriftWindow is the number of feedback events per slot between
	// performance-factor adjustments.
	DriftWindow int `koanf:"drift_window" validate:"min=1"`

	// DriftRate scales the mean observed delta into a factor adjustment.
	DriftRate float64 `koanf:"drift_rate" validate:"gte=0,lte=1"`

	// RetryInterval is how often failed registry writes are retried.
	RetryInterval time.Duration `koanf:"retry_interval" validate:"gt=0"`
}

// ExplorationConfig holds the exploration-policy parameters.
type ExplorationConfig struct {
	// RateDefault is the exploration rate for a general audience.
	RateDefault float64 `koanf:"rate_default" validate:"gte=0,lte=1"`

	// RateLoyal is the reduced rate when the audience is loyal.
	RateLoyal float64 `koanf:"rate_loyal" validate:"gte=0,lte=1"`

	// LoyalThreshold is the returning-viewer percentage above which the
	// loyal rate applies.
	LoyalThreshold float64 `koanf:"loyal_threshold" validate:"gte=0,lte=1"`

	// NewThreshold is the play count below which content is exploratory.
	NewThreshold int `koanf:"new_threshold" validate:"min=1"`

	// ExpectedDrop is the assumed retention multiplier of an exploratory
	// pick, used only for logging.
	ExpectedDrop float64 `koanf:"expected_drop" validate:"gt=0,lte=1"`

	// Seed fixes the exploration RNG for reproducible queues. Zero selects
	// a fixed default.
	Seed int64 `koanf:"seed"`
}

// QueueConfig holds queue-construction parameters.
type QueueConfig struct {
	// DefaultSize is the queue length when a request does not specify one.
	DefaultSize int `koanf:"default_size" validate:"min=1"`

	// MaxSize caps requested queue lengths.
	MaxSize int `koanf:"max_size" validate:"gtefield=DefaultSize"`

	// DiversityWindow is the number of most recent plays a content item
	// must clear before it is eligible again.
	DiversityWindow int `koanf:"diversity_window" validate:"min=0"`

	// HistoryLimit bounds the persisted play history.
	HistoryLimit int `koanf:"history_limit" validate:"min=1"`
}

// SlotsConfig holds the audience time-slot layout.
type SlotsConfig struct {
	// MinFactor and MaxFactor clamp performance factors against drift.
	MinFactor float64 `koanf:"min_factor" validate:"gte=0"`
	MaxFactor float64 `koanf:"max_factor" validate:"gtfield=MinFactor"`

	// Definitions list the slot ranges. A slot may appear more than once
	// when its coverage is split across the day; together the ranges must
	// partition all 1440 minutes (validated by the resolver at startup).
	Definitions []SlotDef `koanf:"definitions" validate:"min=1,dive"`
}

// SlotDef is one named UTC range with a starting performance factor.
// Ranges are half-open [start, end) and may wrap across midnight.
type SlotDef struct {
	Name   string  `koanf:"name" validate:"required"`
	Start  string  `koanf:"start" validate:"required"`
	End    string  `koanf:"end" validate:"required"`
	Factor float64 `koanf:"factor" validate:"gte=0"`
}

// Default returns the built-in configuration. Slot layout and factors
// follow the broadcast's historical audience windows; the 16:00-18:00
// stretch belongs to Low_Traffic so the four slots cover the whole day.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Path:                 "/data/rotation",
			MaxRetries:           4,
			RetryInitialInterval: 50 * time.Millisecond,
			RetryMaxInterval:     2 * time.Second,
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8374,
			RequestTimeout:    30 * time.Second,
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Scoring: ScoringConfig{
			NewReleaseDays:          14,
			NewReleaseScoreFloor:    3.5,
			NewReleaseMaxViews:      10000,
			FreshnessBonusPerDay:    0.1,
			LoyaltyWeight:           0.5,
			EngagementCommentWeight: 0.6,
			EngagementChatWeight:    0.4,
			RetentionWindow:         50,
		},
		Feedback: FeedbackConfig{
			LearningRate:             0.01,
			ReturningPctWeight:       0.8,
			ReturningRetentionWeight: 0.2,
			ScoreFloor:               0,
			ScoreCeiling:             100,
			DriftWindow:              20,
			DriftRate:                0.05,
			RetryInterval:            30 * time.Second,
		},
		Exploration: ExplorationConfig{
			RateDefault:    0.10,
			RateLoyal:      0.08,
			LoyalThreshold: 0.6,
			NewThreshold:   3,
			ExpectedDrop:   0.85,
		},
		Queue: QueueConfig{
			DefaultSize:     10,
			MaxSize:         50,
			DiversityWindow: 5,
			HistoryLimit:    1000,
		},
		Slots: SlotsConfig{
			MinFactor: 0.1,
			MaxFactor: 3.0,
			Definitions: []SlotDef{
				{Name: "US_PrimeTime", Start: "22:00", End: "03:00", Factor: 1.3},
				{Name: "Low_Traffic", Start: "03:00", End: "10:00", Factor: 0.7},
				{Name: "PH_Evening", Start: "10:00", End: "16:00", Factor: 0.9},
				{Name: "Low_Traffic", Start: "16:00", End: "18:00", Factor: 0.7},
				{Name: "UK_Evening", Start: "18:00", End: "22:00", Factor: 1.1},
			},
		},
	}
}
