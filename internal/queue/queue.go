// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

// Package queue builds ordered play queues from ranked content.
//
// A build combines the current slot's performance factor, playlist
// affinities, a diversity filter against the actual play history, and
// exploratory substitutions. Building never mutates registry state; the
// returned queue is a view, not a source of truth. The builder does own the
// play history, appended to when the Player starts a segment.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/rotationfm/rotation/internal/config"
	"github.com/rotationfm/rotation/internal/exploration"
	"github.com/rotationfm/rotation/internal/logging"
	"github.com/rotationfm/rotation/internal/metrics"
	"github.com/rotationfm/rotation/internal/registry"
	"github.com/rotationfm/rotation/internal/scoring"
	"github.com/rotationfm/rotation/internal/store"
	"github.com/rotationfm/rotation/internal/timeslot"
)

const historyKey = "history/plays"

// InsufficientCandidatesError reports a pool too small to satisfy the
// requested queue size. The caller decides whether to relax filters or
// shorten the queue; the builder never silently truncates.
type InsufficientCandidatesError struct {
	Requested int
	Eligible  int
}

// Error implements the error interface.
func (e *InsufficientCandidatesError) Error() string {
	return fmt.Sprintf("insufficient candidates: requested %d, eligible %d", e.Requested, e.Eligible)
}

// Entry is one queue position. Ephemeral; produced fresh per build.
type Entry struct {
	ContentID      string  `json:"content_id"`
	PredictedScore float64 `json:"predicted_score"`
	SlotLabel      string  `json:"slot_label"`
	IsExploratory  bool    `json:"is_exploratory"`
}

// Request parameterizes one build.
type Request struct {
	// Size is the number of entries wanted. Zero selects the configured
	// default; values above the configured maximum are capped.
	Size int

	// PlaylistID restricts candidates to one playlist when non-empty.
	PlaylistID string

	// At is the instant the queue is built for. Zero means now.
	At time.Time

	// ReturningViewerPct is the current audience loyalty, which sets the
	// exploration rate.
	ReturningViewerPct float64
}

// Builder assembles play queues and keeps the bounded play history.
type Builder struct {
	reg      *registry.Registry
	resolver *timeslot.Resolver
	policy   *exploration.Policy
	store    store.Store
	cfg      config.QueueConfig
	logger   zerolog.Logger

	mu      sync.Mutex
	history []string // oldest first
}

// NewBuilder builds a queue builder, restoring the play history from the
// Store.
func NewBuilder(ctx context.Context, reg *registry.Registry, resolver *timeslot.Resolver, policy *exploration.Policy, st store.Store, cfg config.QueueConfig) (*Builder, error) {
	b := &Builder{
		reg:      reg,
		resolver: resolver,
		policy:   policy,
		store:    st,
		cfg:      cfg,
		logger:   logging.With().Str("component", "queue").Logger(),
	}

	doc, err := st.Get(ctx, historyKey)
	switch {
	case err == nil:
		if err := json.Unmarshal(doc, &b.history); err != nil {
			return nil, fmt.Errorf("decode play history: %w", err)
		}
	case store.IsNotFound(err):
		// First run.
	default:
		return nil, fmt.Errorf("load play history: %w", err)
	}
	return b, nil
}

// Build returns exactly req.Size entries or fails. The request context can
// abandon the build at any point; no state is touched either way.
func (b *Builder) Build(ctx context.Context, req Request) ([]Entry, error) {
	started := time.Now()
	size := req.Size
	if size <= 0 {
		size = b.cfg.DefaultSize
	}
	if size > b.cfg.MaxSize {
		size = b.cfg.MaxSize
	}
	at := req.At
	if at.IsZero() {
		at = time.Now()
	}

	slot := b.resolver.Resolve(at)
	factor := b.resolver.Factor(slot)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pool := b.reg.GetRanked(registry.Filter{PlaylistID: req.PlaylistID})
	recent := b.recentSet()

	type candidate struct {
		rec       registry.ContentRecord
		predicted float64
	}
	eligible := make([]candidate, 0, len(pool))
	for _, rec := range pool {
		if recent[rec.ContentID] {
			continue
		}
		affinity := b.reg.SlotAffinity(rec.PlaylistID, string(slot))
		eligible = append(eligible, candidate{
			rec:       rec,
			predicted: scoring.PredictedChange(rec.EnhancedScore, factor) * affinity,
		})
	}
	if len(eligible) < size {
		metrics.QueueBuilds.WithLabelValues(string(slot), "insufficient").Inc()
		return nil, &InsufficientCandidatesError{Requested: size, Eligible: len(eligible)}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].predicted != eligible[j].predicted {
			return eligible[i].predicted > eligible[j].predicted
		}
		return eligible[i].rec.ContentID < eligible[j].rec.ContentID
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queued := make(map[string]bool, size)
	for _, c := range eligible[:size] {
		queued[c.rec.ContentID] = true
	}

	out := make([]Entry, 0, size)
	for _, c := range eligible[:size] {
		entry := Entry{
			ContentID:      c.rec.ContentID,
			PredictedScore: c.predicted,
			SlotLabel:      string(slot),
		}

		if b.policy.ShouldExplore(req.ReturningViewerPct) {
			used := make(map[string]bool, len(recent)+len(queued))
			for id := range recent {
				used[id] = true
			}
			for id := range queued {
				used[id] = true
			}

			if pick := b.policy.SelectCandidate(pool, used); pick != nil {
				delete(queued, entry.ContentID)
				queued[pick.ContentID] = true
				affinity := b.reg.SlotAffinity(pick.PlaylistID, string(slot))
				entry = Entry{
					ContentID:      pick.ContentID,
					PredictedScore: scoring.PredictedChange(pick.EnhancedScore, factor) * affinity,
					SlotLabel:      string(slot),
					IsExploratory:  true,
				}
				metrics.ExplorationSubstitutions.WithLabelValues(string(slot)).Inc()
				b.logger.Debug().
					Str("content_id", pick.ContentID).
					Str("slot", string(slot)).
					Float64("expected_drop", b.policy.ExpectedDrop()).
					Msg("exploratory substitution")
			}
			// No eligible exploratory candidate keeps the ranked item; the
			// queue never shrinks.
		}
		out = append(out, entry)
	}

	metrics.QueueBuilds.WithLabelValues(string(slot), "ok").Inc()
	metrics.QueueBuildDuration.Observe(time.Since(started).Seconds())
	return out, nil
}

// RecordPlayed appends a started segment to the play history, trims it to
// the configured bound, and persists it.
func (b *Builder) RecordPlayed(ctx context.Context, contentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, contentID)
	if excess := len(b.history) - b.cfg.HistoryLimit; excess > 0 {
		b.history = b.history[excess:]
	}

	doc, err := json.Marshal(b.history)
	if err != nil {
		return fmt.Errorf("encode play history: %w", err)
	}
	if err := b.store.Put(ctx, historyKey, doc); err != nil {
		return fmt.Errorf("persist play history: %w", err)
	}
	return nil
}

// History returns a copy of the play history, oldest first.
func (b *Builder) History() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.history))
	copy(out, b.history)
	return out
}

// recentSet returns the content IDs inside the diversity window.
func (b *Builder) recentSet() map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	window := b.cfg.DiversityWindow
	if window > len(b.history) {
		window = len(b.history)
	}
	recent := make(map[string]bool, window)
	for _, id := range b.history[len(b.history)-window:] {
		recent[id] = true
	}
	return recent
}
