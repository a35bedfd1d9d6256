// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

// Package events defines the playback events the Player collaborator emits
// and the in-process bus they travel over.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeSegmentStarted = "segment_started"
	TypeSegmentEnded   = "segment_ended"
)

// Topic is the bus topic carrying all playback events.
const Topic = "playback"

// PlaybackMetrics is the outcome payload of a finished segment.
type PlaybackMetrics struct {
	// ActualViewerChange is the observed viewer delta over the segment.
	ActualViewerChange float64 `json:"actual_viewer_change"`

	// Retention is the fraction of the segment the audience stayed for.
	Retention float64 `json:"retention"`

	ChatMessages int64 `json:"chat_messages"`
	AvgViewers   int64 `json:"avg_viewers"`

	ReturningViewerCount     int64   `json:"returning_viewer_count"`
	ReturningViewerPct       float64 `json:"returning_viewer_percentage"`
	ReturningViewerRetention float64 `json:"returning_viewer_retention"`
}

// PlaybackEvent is the canonical event format for both segment lifecycle
// notifications. Metrics is set only on segment_ended.
type PlaybackEvent struct {
	EventID   string    `json:"event_id"`
	Type      string    `json:"type"`
	ContentID string    `json:"content_id"`
	SlotLabel string    `json:"slot_label,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Metrics *PlaybackMetrics `json:"metrics,omitempty"`
}

// NewSegmentStarted builds a segment_started event with a fresh ID.
func NewSegmentStarted(contentID string) *PlaybackEvent {
	return &PlaybackEvent{
		EventID:   uuid.New().String(),
		Type:      TypeSegmentStarted,
		ContentID: contentID,
		Timestamp: time.Now().UTC(),
	}
}

// NewSegmentEnded builds a segment_ended event with a fresh ID.
func NewSegmentEnded(contentID string, metrics PlaybackMetrics) *PlaybackEvent {
	return &PlaybackEvent{
		EventID:   uuid.New().String(),
		Type:      TypeSegmentEnded,
		ContentID: contentID,
		Timestamp: time.Now().UTC(),
		Metrics:   &metrics,
	}
}

// Validate checks required fields on ingest.
func (e *PlaybackEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("playback event: missing event_id")
	}
	if e.ContentID == "" {
		return fmt.Errorf("playback event %s: missing content_id", e.EventID)
	}
	switch e.Type {
	case TypeSegmentStarted:
		return nil
	case TypeSegmentEnded:
		if e.Metrics == nil {
			return fmt.Errorf("playback event %s: segment_ended without metrics", e.EventID)
		}
		if e.Metrics.Retention < 0 || e.Metrics.Retention > 1 {
			return fmt.Errorf("playback event %s: retention %g outside [0, 1]",
				e.EventID, e.Metrics.Retention)
		}
		return nil
	default:
		return fmt.Errorf("playback event %s: unknown type %q", e.EventID, e.Type)
	}
}
