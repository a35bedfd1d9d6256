// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

// Package registry owns the authoritative mutable record per content item
// and the per-playlist aggregates.
//
// The registry is the single writer for ContentRecord state. Mutations to
// one content ID are serialized through striped locks; mutations to
// different IDs proceed in parallel. Every committed mutation is persisted
// through the Store contract before it becomes visible to readers, and
// readers always receive detached copies, never live pointers.
package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/rotationfm/rotation/internal/config"
	"github.com/rotationfm/rotation/internal/logging"
	"github.com/rotationfm/rotation/internal/scoring"
	"github.com/rotationfm/rotation/internal/store"
)

const (
	contentKeyPrefix  = "content/"
	playlistKeyPrefix = "playlist/"

	lockStripes = 64

	// Affinity multipliers are clamped so one hot or cold slot cannot
	// dominate queue predictions.
	minAffinity = 0.5
	maxAffinity = 2.0
)

// Registry is the ContentRecord and PlaylistAggregate store-of-record.
type Registry struct {
	store  store.Store
	model  scoring.Model
	cfg    config.ScoringConfig
	logger zerolog.Logger

	// now is swappable for deterministic release-age tests.
	now func() time.Time

	mu        sync.RWMutex
	records   map[string]*ContentRecord
	playlists map[string]*PlaylistAggregate

	stripes [lockStripes]sync.Mutex
}

// New builds a registry and hydrates it from the Store.
func New(ctx context.Context, st store.Store, model scoring.Model, cfg config.ScoringConfig) (*Registry, error) {
	r := &Registry{
		store:     st,
		model:     model,
		cfg:       cfg,
		logger:    logging.With().Str("component", "registry").Logger(),
		now:       time.Now,
		records:   make(map[string]*ContentRecord),
		playlists: make(map[string]*PlaylistAggregate),
	}
	if err := r.hydrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// hydrate loads every persisted record and aggregate.
func (r *Registry) hydrate(ctx context.Context) error {
	docs, err := r.store.List(ctx, contentKeyPrefix)
	if err != nil {
		return fmt.Errorf("hydrate content records: %w", err)
	}
	for key, doc := range docs {
		rec := &ContentRecord{}
		if err := json.Unmarshal(doc, rec); err != nil {
			return fmt.Errorf("decode record %s: %w", key, err)
		}
		r.records[rec.ContentID] = rec
	}

	docs, err = r.store.List(ctx, playlistKeyPrefix)
	if err != nil {
		return fmt.Errorf("hydrate playlists: %w", err)
	}
	for key, doc := range docs {
		agg := &PlaylistAggregate{}
		if err := json.Unmarshal(doc, agg); err != nil {
			return fmt.Errorf("decode playlist %s: %w", key, err)
		}
		r.playlists[agg.PlaylistID] = agg
	}

	r.logger.Info().
		Int("records", len(r.records)).
		Int("playlists", len(r.playlists)).
		Msg("registry hydrated")
	return nil
}

// stripe returns the lock serializing writes to one content ID.
func (r *Registry) stripe(contentID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(contentID)) //nolint:errcheck // fnv never fails
	return &r.stripes[h.Sum32()%lockStripes]
}

// UpsertMetadata merges fresh source metadata into the record for
// meta.ContentID, creating it on first sight, and recomputes the base and
// enhanced scores. Calling twice with identical input yields identical
// state.
func (r *Registry) UpsertMetadata(ctx context.Context, meta Metadata) (ContentRecord, error) {
	if meta.ContentID == "" {
		return ContentRecord{}, fmt.Errorf("upsert: empty content id")
	}

	mu := r.stripe(meta.ContentID)
	mu.Lock()
	defer mu.Unlock()

	rec := r.snapshot(meta.ContentID)
	if rec == nil {
		rec = &ContentRecord{ContentID: meta.ContentID}
	}

	rec.Title = meta.Title
	rec.PlaylistID = meta.PlaylistID
	rec.SourceViews = meta.SourceViews
	rec.SourceComments = meta.SourceComments
	rec.DurationSeconds = meta.DurationSeconds
	rec.UploadTimestamp = meta.UploadTimestamp

	age := r.now().UTC().Sub(meta.UploadTimestamp.UTC())
	rec.DaysSinceRelease = int(age.Hours() / 24)
	if rec.DaysSinceRelease < 0 {
		rec.DaysSinceRelease = 0
	}
	rec.IsNewRelease = rec.DaysSinceRelease < r.cfg.NewReleaseDays

	r.rescore(rec)

	if err := r.commitRecord(ctx, rec); err != nil {
		return ContentRecord{}, err
	}
	return *rec.clone(), nil
}

// rescore recomputes the derived score fields in place.
func (r *Registry) rescore(rec *ContentRecord) {
	base := r.model.BaseScore(rec.SourceViews, rec.SourceComments)
	base = r.model.ApplyNewReleaseFloor(base, rec.SourceViews, rec.IsNewRelease, rec.DaysSinceRelease)
	rec.BaseScore = base
	rec.EnhancedScore = scoring.EnhancedScore(base, r.model.LoyaltyBoost(rec.ReturningViewerPct))
}

// RecordRetention appends one retention sample in [0, 1], trims the history
// to the configured window, and recomputes the retention trend.
func (r *Registry) RecordRetention(ctx context.Context, contentID string, retention float64) error {
	if retention < 0 {
		retention = 0
	} else if retention > 1 {
		retention = 1
	}

	mu := r.stripe(contentID)
	mu.Lock()
	defer mu.Unlock()

	rec := r.snapshot(contentID)
	if rec == nil {
		return fmt.Errorf("record retention for %q: %w", contentID, ErrUnknownContent)
	}

	rec.RetentionHistory = append(rec.RetentionHistory, retention)
	if excess := len(rec.RetentionHistory) - r.cfg.RetentionWindow; excess > 0 {
		rec.RetentionHistory = rec.RetentionHistory[excess:]
	}
	rec.RetentionTrend = retentionTrend(rec.RetentionHistory)

	return r.commitRecord(ctx, rec)
}

// retentionTrend compares the latest sample against the mean of all
// previous ones. Fewer than two samples, or a zero mean, yield 0.
func retentionTrend(history []float64) float64 {
	if len(history) < 2 {
		return 0
	}
	prev := history[:len(history)-1]
	var sum float64
	for _, v := range prev {
		sum += v
	}
	mean := sum / float64(len(prev))
	if mean == 0 {
		return 0
	}
	return (history[len(history)-1] - mean) / mean
}

// RecordPlay increments the play counter for a started segment.
func (r *Registry) RecordPlay(ctx context.Context, contentID string) error {
	mu := r.stripe(contentID)
	mu.Lock()
	defer mu.Unlock()

	rec := r.snapshot(contentID)
	if rec == nil {
		return fmt.Errorf("record play for %q: %w", contentID, ErrUnknownContent)
	}
	rec.TimesPlayed++
	return r.commitRecord(ctx, rec)
}

// ApplyFeedback runs fn against a copy of the record under the single-writer
// lock and commits the result. A feedback ID already applied is skipped and
// reported as not applied, so replays after a StaleWriteError recovery never
// double-count.
func (r *Registry) ApplyFeedback(ctx context.Context, contentID, feedbackID string, fn func(*ContentRecord)) (bool, error) {
	mu := r.stripe(contentID)
	mu.Lock()
	defer mu.Unlock()

	rec := r.snapshot(contentID)
	if rec == nil {
		return false, fmt.Errorf("apply feedback for %q: %w", contentID, ErrUnknownContent)
	}
	if feedbackID != "" && rec.LastFeedbackID == feedbackID {
		r.logger.Debug().
			Str("content_id", contentID).
			Str("feedback_id", feedbackID).
			Msg("feedback already applied, skipping replay")
		return false, nil
	}

	fn(rec)
	rec.LastFeedbackID = feedbackID
	if err := r.commitRecord(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// Archive removes a record from active rotation. The record itself is kept
// so historical plays remain resolvable.
func (r *Registry) Archive(ctx context.Context, contentID string) error {
	mu := r.stripe(contentID)
	mu.Lock()
	defer mu.Unlock()

	rec := r.snapshot(contentID)
	if rec == nil {
		return fmt.Errorf("archive %q: %w", contentID, ErrUnknownContent)
	}
	if rec.Archived {
		return nil
	}
	rec.Archived = true
	return r.commitRecord(ctx, rec)
}

// Get returns a copy of one record.
func (r *Registry) Get(contentID string) (ContentRecord, error) {
	r.mu.RLock()
	rec, ok := r.records[contentID]
	r.mu.RUnlock()
	if !ok {
		return ContentRecord{}, fmt.Errorf("get %q: %w", contentID, ErrUnknownContent)
	}
	return *rec.clone(), nil
}

// GetRanked returns copies of the matching records sorted by enhanced score
// descending, ties broken by content ID ascending so ranking is
// deterministic.
func (r *Registry) GetRanked(f Filter) []ContentRecord {
	r.mu.RLock()
	out := make([]ContentRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.Archived && !f.IncludeArchived {
			continue
		}
		if f.PlaylistID != "" && rec.PlaylistID != f.PlaylistID {
			continue
		}
		out = append(out, *rec.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].EnhancedScore != out[j].EnhancedScore {
			return out[i].EnhancedScore > out[j].EnhancedScore
		}
		return out[i].ContentID < out[j].ContentID
	})
	return out
}

// UpsertPlaylist ensures an aggregate exists for the playlist.
func (r *Registry) UpsertPlaylist(ctx context.Context, playlistID string) error {
	if playlistID == "" {
		return fmt.Errorf("upsert playlist: empty playlist id")
	}

	mu := r.stripe(playlistKeyPrefix + playlistID)
	mu.Lock()
	defer mu.Unlock()

	r.mu.RLock()
	_, ok := r.playlists[playlistID]
	r.mu.RUnlock()
	if ok {
		return nil
	}
	return r.commitPlaylist(ctx, &PlaylistAggregate{PlaylistID: playlistID})
}

// RecordPlaylistPerformance folds one observed viewer change into the
// playlist's running averages, overall and for the slot it played in.
func (r *Registry) RecordPlaylistPerformance(ctx context.Context, playlistID, slot string, actualChange float64) error {
	mu := r.stripe(playlistKeyPrefix + playlistID)
	mu.Lock()
	defer mu.Unlock()

	r.mu.RLock()
	agg, ok := r.playlists[playlistID]
	r.mu.RUnlock()

	var cp *PlaylistAggregate
	if ok {
		cp = agg.clone()
	} else {
		cp = &PlaylistAggregate{PlaylistID: playlistID}
	}

	cp.PlayCount++
	cp.HistoricalAvgChange += (actualChange - cp.HistoricalAvgChange) / float64(cp.PlayCount)

	if cp.SlotStats == nil {
		cp.SlotStats = make(map[string]*SlotStat)
	}
	stat, ok := cp.SlotStats[slot]
	if !ok {
		stat = &SlotStat{}
		cp.SlotStats[slot] = stat
	}
	stat.PlayCount++
	stat.AvgChange += (actualChange - stat.AvgChange) / float64(stat.PlayCount)

	return r.commitPlaylist(ctx, cp)
}

// SlotAffinity returns the playlist's multiplier for a slot: how the slot's
// average change compares to the playlist's overall average, clamped to
// [0.5, 2.0]. Unknown playlists or insufficient data are neutral.
func (r *Registry) SlotAffinity(playlistID, slot string) float64 {
	r.mu.RLock()
	agg, ok := r.playlists[playlistID]
	r.mu.RUnlock()
	if !ok || agg.HistoricalAvgChange <= 0 {
		return 1
	}
	stat, ok := agg.SlotStats[slot]
	if !ok || stat.PlayCount == 0 || stat.AvgChange <= 0 {
		return 1
	}

	affinity := stat.AvgChange / agg.HistoricalAvgChange
	if affinity < minAffinity {
		return minAffinity
	}
	if affinity > maxAffinity {
		return maxAffinity
	}
	return affinity
}

// Playlists returns copies of all aggregates, sorted by playlist ID.
func (r *Registry) Playlists() []PlaylistAggregate {
	r.mu.RLock()
	out := make([]PlaylistAggregate, 0, len(r.playlists))
	for _, agg := range r.playlists {
		out = append(out, *agg.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].PlaylistID, out[j].PlaylistID) < 0
	})
	return out
}

// commitRecord persists the mutated copy and, only on success, makes it
// visible to readers. Callers hold the record's stripe lock.
func (r *Registry) commitRecord(ctx context.Context, rec *ContentRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ContentID, err)
	}
	if err := r.store.Put(ctx, contentKeyPrefix+rec.ContentID, doc); err != nil {
		return fmt.Errorf("persist record %s: %w", rec.ContentID, err)
	}

	r.mu.Lock()
	r.records[rec.ContentID] = rec
	r.mu.Unlock()
	return nil
}

// commitPlaylist mirrors commitRecord for aggregates.
func (r *Registry) commitPlaylist(ctx context.Context, agg *PlaylistAggregate) error {
	doc, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode playlist %s: %w", agg.PlaylistID, err)
	}
	if err := r.store.Put(ctx, playlistKeyPrefix+agg.PlaylistID, doc); err != nil {
		return fmt.Errorf("persist playlist %s: %w", agg.PlaylistID, err)
	}

	r.mu.Lock()
	r.playlists[agg.PlaylistID] = agg
	r.mu.Unlock()
	return nil
}

// snapshot returns a detached copy of the live record, or nil.
func (r *Registry) snapshot(contentID string) *ContentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[contentID]
	if !ok {
		return nil
	}
	return rec.clone()
}
