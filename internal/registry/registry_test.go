// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

package registry

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/rotationfm/rotation/internal/config"
	"github.com/rotationfm/rotation/internal/scoring"
	"github.com/rotationfm/rotation/internal/store"
)

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*Registry, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	cfg := config.Default().Scoring
	r, err := New(context.Background(), mem, scoring.NewModel(cfg), cfg)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	r.now = func() time.Time { return testNow }
	return r, mem
}

func seed(t *testing.T, r *Registry, meta Metadata) ContentRecord {
	t.Helper()
	rec, err := r.UpsertMetadata(context.Background(), meta)
	if err != nil {
		t.Fatalf("UpsertMetadata(%s) = %v", meta.ContentID, err)
	}
	return rec
}

func TestRegistry_UpsertMetadataComputesScores(t *testing.T) {
	r, _ := newTestRegistry(t)

	rec := seed(t, r, Metadata{
		ContentID:       "popular",
		Title:           "Popular Upload",
		SourceViews:     500000,
		SourceComments:  1200,
		UploadTimestamp: testNow.AddDate(0, 0, -90),
	})

	if rec.IsNewRelease {
		t.Error("90-day-old content flagged as new release")
	}
	if rec.DaysSinceRelease != 90 {
		t.Errorf("DaysSinceRelease = %d, want 90", rec.DaysSinceRelease)
	}
	if math.Abs(rec.BaseScore-5.7126475) > 1e-6 {
		t.Errorf("BaseScore = %g, want 5.7126475", rec.BaseScore)
	}
	// No returning viewers yet, so loyalty is neutral.
	if rec.EnhancedScore != rec.BaseScore {
		t.Errorf("EnhancedScore = %g, want BaseScore %g", rec.EnhancedScore, rec.BaseScore)
	}
}

func TestRegistry_UpsertMetadataAppliesNewReleaseFloor(t *testing.T) {
	r, _ := newTestRegistry(t)

	rec := seed(t, r, Metadata{
		ContentID:       "fresh",
		SourceViews:     500,
		UploadTimestamp: testNow, // released today
	})

	if !rec.IsNewRelease {
		t.Fatal("same-day release not flagged as new")
	}
	if rec.BaseScore < 3.5+1.4 {
		t.Errorf("BaseScore = %g, want at least floor plus full freshness bonus 4.9", rec.BaseScore)
	}
}

func TestRegistry_UpsertMetadataIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)

	meta := Metadata{
		ContentID:       "idem",
		Title:           "Same Input",
		SourceViews:     42000,
		SourceComments:  90,
		DurationSeconds: 213,
		UploadTimestamp: testNow.AddDate(0, 0, -30),
	}
	first := seed(t, r, meta)
	second := seed(t, r, meta)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated upsert changed state:\nfirst  %+v\nsecond %+v", first, second)
	}
}

func TestRegistry_UpsertMetadataPreservesPerformanceState(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	meta := Metadata{ContentID: "keep", SourceViews: 1000, UploadTimestamp: testNow.AddDate(0, 0, -60)}
	seed(t, r, meta)

	if err := r.RecordPlay(ctx, "keep"); err != nil {
		t.Fatalf("RecordPlay() = %v", err)
	}
	if err := r.RecordRetention(ctx, "keep", 0.8); err != nil {
		t.Fatalf("RecordRetention() = %v", err)
	}

	meta.SourceViews = 2000 // metadata refresh
	rec := seed(t, r, meta)

	if rec.TimesPlayed != 1 {
		t.Errorf("TimesPlayed = %d after refresh, want 1", rec.TimesPlayed)
	}
	if len(rec.RetentionHistory) != 1 {
		t.Errorf("RetentionHistory length = %d after refresh, want 1", len(rec.RetentionHistory))
	}
}

func TestRegistry_RecordRetention(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	seed(t, r, Metadata{ContentID: "ret", SourceViews: 1000, UploadTimestamp: testNow.AddDate(0, 0, -60)})

	// One sample: no trend yet.
	if err := r.RecordRetention(ctx, "ret", 0.5); err != nil {
		t.Fatalf("RecordRetention() = %v", err)
	}
	rec, _ := r.Get("ret")
	if rec.RetentionTrend != 0 {
		t.Errorf("RetentionTrend with one sample = %g, want 0", rec.RetentionTrend)
	}

	// Latest 0.75 against mean(0.5) of previous samples.
	if err := r.RecordRetention(ctx, "ret", 0.75); err != nil {
		t.Fatalf("RecordRetention() = %v", err)
	}
	rec, _ = r.Get("ret")
	if math.Abs(rec.RetentionTrend-0.5) > 1e-9 {
		t.Errorf("RetentionTrend = %g, want 0.5", rec.RetentionTrend)
	}
}

func TestRegistry_RecordRetentionTrimsWindow(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	seed(t, r, Metadata{ContentID: "win", SourceViews: 1000, UploadTimestamp: testNow.AddDate(0, 0, -60)})

	window := config.Default().Scoring.RetentionWindow
	for i := 0; i < window+10; i++ {
		if err := r.RecordRetention(ctx, "win", 0.5); err != nil {
			t.Fatalf("RecordRetention() = %v", err)
		}
	}

	rec, _ := r.Get("win")
	if len(rec.RetentionHistory) != window {
		t.Errorf("RetentionHistory length = %d, want window %d", len(rec.RetentionHistory), window)
	}
}

func TestRegistry_RecordRetentionUnknownContent(t *testing.T) {
	r, _ := newTestRegistry(t)
	err := r.RecordRetention(context.Background(), "ghost", 0.5)
	if !errors.Is(err, ErrUnknownContent) {
		t.Errorf("RecordRetention(ghost) = %v, want ErrUnknownContent", err)
	}
}

func TestRegistry_GetRanked(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	old := testNow.AddDate(0, 0, -60)
	seed(t, r, Metadata{ContentID: "mid", SourceViews: 10000, UploadTimestamp: old})
	seed(t, r, Metadata{ContentID: "top", SourceViews: 9000000, UploadTimestamp: old})
	seed(t, r, Metadata{ContentID: "low", SourceViews: 100, UploadTimestamp: old})
	// Identical metrics to "mid": the tie breaks on content ID.
	seed(t, r, Metadata{ContentID: "aid", SourceViews: 10000, UploadTimestamp: old})
	seed(t, r, Metadata{ContentID: "gone", SourceViews: 5000000, UploadTimestamp: old})
	if err := r.Archive(ctx, "gone"); err != nil {
		t.Fatalf("Archive() = %v", err)
	}

	got := r.GetRanked(Filter{})
	wantOrder := []string{"top", "aid", "mid", "low"}
	if len(got) != len(wantOrder) {
		t.Fatalf("GetRanked() returned %d records, want %d", len(got), len(wantOrder))
	}
	for i, id := range wantOrder {
		if got[i].ContentID != id {
			t.Errorf("GetRanked()[%d] = %s, want %s", i, got[i].ContentID, id)
		}
	}

	withArchived := r.GetRanked(Filter{IncludeArchived: true})
	if len(withArchived) != 5 {
		t.Errorf("GetRanked(IncludeArchived) returned %d records, want 5", len(withArchived))
	}
}

func TestRegistry_GetRankedFiltersByPlaylist(t *testing.T) {
	r, _ := newTestRegistry(t)
	old := testNow.AddDate(0, 0, -60)
	seed(t, r, Metadata{ContentID: "a", PlaylistID: "anthems", SourceViews: 1000, UploadTimestamp: old})
	seed(t, r, Metadata{ContentID: "b", PlaylistID: "ballads", SourceViews: 1000, UploadTimestamp: old})

	got := r.GetRanked(Filter{PlaylistID: "anthems"})
	if len(got) != 1 || got[0].ContentID != "a" {
		t.Errorf("GetRanked(anthems) = %v, want just content a", got)
	}
}

func TestRegistry_ApplyFeedbackIsIdempotentPerFeedbackID(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	seed(t, r, Metadata{ContentID: "fb", SourceViews: 1000, UploadTimestamp: testNow.AddDate(0, 0, -60)})

	bump := func(rec *ContentRecord) { rec.EnhancedScore += 1 }

	before, _ := r.Get("fb")
	applied, err := r.ApplyFeedback(ctx, "fb", "event-1", bump)
	if err != nil || !applied {
		t.Fatalf("ApplyFeedback() = (%v, %v), want applied", applied, err)
	}
	// Replay after a simulated recovery.
	applied, err = r.ApplyFeedback(ctx, "fb", "event-1", bump)
	if err != nil {
		t.Fatalf("ApplyFeedback() replay = %v", err)
	}
	if applied {
		t.Error("ApplyFeedback() replay reported as applied")
	}

	after, _ := r.Get("fb")
	if math.Abs(after.EnhancedScore-(before.EnhancedScore+1)) > 1e-9 {
		t.Errorf("EnhancedScore = %g after replay, want %g (delta applied once)",
			after.EnhancedScore, before.EnhancedScore+1)
	}

	// A fresh feedback ID applies normally.
	if _, err := r.ApplyFeedback(ctx, "fb", "event-2", bump); err != nil {
		t.Fatalf("ApplyFeedback() = %v", err)
	}
	final, _ := r.Get("fb")
	if math.Abs(final.EnhancedScore-(before.EnhancedScore+2)) > 1e-9 {
		t.Errorf("EnhancedScore = %g after second event, want %g", final.EnhancedScore, before.EnhancedScore+2)
	}
}

func TestRegistry_PlaylistPerformanceAndAffinity(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if got := r.SlotAffinity("nope", "US_PrimeTime"); got != 1 {
		t.Errorf("SlotAffinity(unknown) = %g, want neutral 1", got)
	}

	// Prime time does twice as well as the overall average.
	for _, obs := range []struct {
		slot   string
		change float64
	}{
		{"US_PrimeTime", 40},
		{"Low_Traffic", 10},
		{"US_PrimeTime", 40},
		{"Low_Traffic", 10},
	} {
		if err := r.RecordPlaylistPerformance(ctx, "anthems", obs.slot, obs.change); err != nil {
			t.Fatalf("RecordPlaylistPerformance() = %v", err)
		}
	}

	aggs := r.Playlists()
	if len(aggs) != 1 {
		t.Fatalf("Playlists() returned %d aggregates, want 1", len(aggs))
	}
	if aggs[0].PlayCount != 4 {
		t.Errorf("PlayCount = %d, want 4", aggs[0].PlayCount)
	}
	if math.Abs(aggs[0].HistoricalAvgChange-25) > 1e-9 {
		t.Errorf("HistoricalAvgChange = %g, want 25", aggs[0].HistoricalAvgChange)
	}

	if got := r.SlotAffinity("anthems", "US_PrimeTime"); math.Abs(got-1.6) > 1e-9 {
		t.Errorf("SlotAffinity(US_PrimeTime) = %g, want 40/25 = 1.6", got)
	}
	if got := r.SlotAffinity("anthems", "Low_Traffic"); got != minAffinity {
		t.Errorf("SlotAffinity(Low_Traffic) = %g, want clamped to %g", got, minAffinity)
	}
	if got := r.SlotAffinity("anthems", "UK_Evening"); got != 1 {
		t.Errorf("SlotAffinity(slot with no data) = %g, want neutral 1", got)
	}
}

func TestRegistry_HydratesFromStore(t *testing.T) {
	r, mem := newTestRegistry(t)
	ctx := context.Background()

	seed(t, r, Metadata{ContentID: "persisted", SourceViews: 1000, UploadTimestamp: testNow.AddDate(0, 0, -60)})
	if err := r.RecordPlaylistPerformance(ctx, "anthems", "US_PrimeTime", 12); err != nil {
		t.Fatalf("RecordPlaylistPerformance() = %v", err)
	}

	cfg := config.Default().Scoring
	fresh, err := New(ctx, mem, scoring.NewModel(cfg), cfg)
	if err != nil {
		t.Fatalf("New() over populated store = %v", err)
	}

	rec, err := fresh.Get("persisted")
	if err != nil {
		t.Fatalf("Get(persisted) after rehydrate = %v", err)
	}
	if rec.SourceViews != 1000 {
		t.Errorf("rehydrated SourceViews = %d, want 1000", rec.SourceViews)
	}
	if got := len(fresh.Playlists()); got != 1 {
		t.Errorf("rehydrated Playlists() = %d aggregates, want 1", got)
	}
}

func TestRegistry_FailedPutDoesNotCommit(t *testing.T) {
	r, mem := newTestRegistry(t)
	ctx := context.Background()
	seed(t, r, Metadata{ContentID: "safe", SourceViews: 1000, UploadTimestamp: testNow.AddDate(0, 0, -60)})

	mem.FailNextPuts(1)
	if err := r.RecordPlay(ctx, "safe"); err == nil {
		t.Fatal("RecordPlay() with failing store = nil, want error")
	}

	rec, _ := r.Get("safe")
	if rec.TimesPlayed != 0 {
		t.Errorf("TimesPlayed = %d after failed commit, want 0", rec.TimesPlayed)
	}
}
