// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

package registry

import (
	"errors"
	"time"
)

// ErrUnknownContent is returned for content IDs the registry has never seen.
var ErrUnknownContent = errors.New("unknown content id")

// Metadata is the tuple the Content Source collaborator supplies. The
// registry copies it into a ContentRecord and never hands back a reference
// to it.
type Metadata struct {
	ContentID       string    `json:"content_id"`
	Title           string    `json:"title"`
	PlaylistID      string    `json:"playlist_id,omitempty"`
	SourceViews     int64     `json:"source_views"`
	SourceComments  int64     `json:"source_comments"`
	DurationSeconds int       `json:"duration_seconds"`
	UploadTimestamp time.Time `json:"upload_timestamp"`
}

// ContentRecord is the authoritative mutable state for one content item.
// All mutation goes through the registry; callers receive copies.
type ContentRecord struct {
	// ContentID is unique and immutable.
	ContentID string `json:"content_id"`

	// Static metadata, refreshed on every upsert.
	Title           string    `json:"title"`
	PlaylistID      string    `json:"playlist_id,omitempty"`
	SourceViews     int64     `json:"source_views"`
	SourceComments  int64     `json:"source_comments"`
	DurationSeconds int       `json:"duration_seconds"`
	UploadTimestamp time.Time `json:"upload_timestamp"`

	// Derived release flags, recomputed on upsert.
	IsNewRelease     bool `json:"is_new_release"`
	DaysSinceRelease int  `json:"days_since_release"`

	// Mutable performance state.
	TimesPlayed              int       `json:"times_played"`
	RetentionHistory         []float64 `json:"retention_history,omitempty"`
	ReturningViewerPct       float64   `json:"returning_viewer_percentage"`
	ReturningViewerRetention float64   `json:"returning_viewer_retention"`

	// Score fields. EnhancedScore is base times loyalty as of the last
	// recomputation; stale-but-present between recomputations.
	BaseScore       float64 `json:"base_score"`
	EnhancedScore   float64 `json:"enhanced_score"`
	EngagementScore float64 `json:"engagement_score"`
	RetentionTrend  float64 `json:"retention_trend"`

	// Archived removes the record from active rotation without deleting
	// it, so play history stays resolvable.
	Archived bool `json:"archived"`

	// LastFeedbackID makes feedback application idempotent under replay.
	LastFeedbackID string `json:"last_feedback_id,omitempty"`
}

// clone returns a deep copy safe to hand to callers or to mutate before a
// commit.
func (r *ContentRecord) clone() *ContentRecord {
	cp := *r
	if r.RetentionHistory != nil {
		cp.RetentionHistory = make([]float64, len(r.RetentionHistory))
		copy(cp.RetentionHistory, r.RetentionHistory)
	}
	return &cp
}

// PlaylistAggregate tracks how a named playlist performs overall and per
// slot. Affinities weight the playlist's contribution when several
// playlists compete for queue positions.
type PlaylistAggregate struct {
	PlaylistID string `json:"playlist_id"`

	// PlayCount and HistoricalAvgChange form a running average over every
	// observed play of the playlist's content.
	PlayCount           int     `json:"play_count"`
	HistoricalAvgChange float64 `json:"historical_avg_change"`

	// SlotStats holds the same running average split by slot label.
	SlotStats map[string]*SlotStat `json:"slot_stats,omitempty"`
}

// SlotStat is a running average of observed viewer change within one slot.
type SlotStat struct {
	PlayCount int     `json:"play_count"`
	AvgChange float64 `json:"avg_change"`
}

func (p *PlaylistAggregate) clone() *PlaylistAggregate {
	cp := *p
	if p.SlotStats != nil {
		cp.SlotStats = make(map[string]*SlotStat, len(p.SlotStats))
		for slot, stat := range p.SlotStats {
			s := *stat
			cp.SlotStats[slot] = &s
		}
	}
	return &cp
}

// Filter restricts GetRanked results.
type Filter struct {
	// PlaylistID limits results to one playlist when non-empty.
	PlaylistID string

	// IncludeArchived also returns archived records.
	IncludeArchived bool
}
