// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

// Package metrics exposes Prometheus instrumentation for the engine:
// queue construction, the feedback loop, store resilience, and the HTTP
// surface. Collectors are registered on the default registry and served
// from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue construction.
	QueueBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotation_queue_builds_total",
			Help: "Total number of queue build attempts",
		},
		[]string{"slot", "outcome"}, // outcome: ok, insufficient, error
	)

	QueueBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rotation_queue_build_duration_seconds",
			Help:    "Duration of queue builds in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ExplorationSubstitutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotation_exploration_substitutions_total",
			Help: "Total number of exploratory queue substitutions",
		},
		[]string{"slot"},
	)

	// Feedback loop.
	FeedbackApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotation_feedback_applied_total",
			Help: "Total number of feedback events applied to the registry",
		},
		[]string{"slot"},
	)

	FeedbackPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rotation_feedback_pending",
			Help: "Feedback events awaiting a registry write retry",
		},
	)

	FeedbackReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rotation_feedback_replays_total",
			Help: "Total number of feedback retry attempts after a failed registry write",
		},
	)

	SlotFactor = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rotation_slot_performance_factor",
			Help: "Current performance factor per time slot",
		},
		[]string{"slot"},
	)

	// Content registry.
	ContentRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rotation_content_records",
			Help: "Number of content records in active rotation",
		},
	)

	// Store resilience.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotation_store_operations_total",
			Help: "Total number of store operations by outcome",
		},
		[]string{"operation", "outcome"}, // outcome: ok, not_found, transient, stale, error
	)

	// HTTP surface.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotation_http_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rotation_http_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
