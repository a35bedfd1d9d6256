// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

// Package feedback closes the learning loop: it turns observed playback
// outcomes into score updates and slot-factor drift.
//
// Each play event moves through three stages. The predicted score is
// recorded at queue-build time, the Player reports the observed outcome on
// segment_ended, and the processor applies the prediction error to the
// content record through the registry's single-writer path. The audit
// record is written before the registry write, so an observation survives
// even when the write fails; failed writes are queued and replayed, and
// replays are idempotent by feedback ID.
package feedback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rotationfm/rotation/internal/config"
	"github.com/rotationfm/rotation/internal/events"
	"github.com/rotationfm/rotation/internal/logging"
	"github.com/rotationfm/rotation/internal/metrics"
	"github.com/rotationfm/rotation/internal/registry"
	"github.com/rotationfm/rotation/internal/scoring"
	"github.com/rotationfm/rotation/internal/store"
	"github.com/rotationfm/rotation/internal/timeslot"
)

const auditKeyPrefix = "feedback/"

// Record is the write-once audit entry for one completed play.
type Record struct {
	FeedbackID string    `json:"feedback_id"`
	ContentID  string    `json:"content_id"`
	SlotLabel  string    `json:"slot_label"`
	CreatedAt  time.Time `json:"created_at"`

	PredictedScore     float64 `json:"predicted_score"`
	ActualViewerChange float64 `json:"actual_viewer_change"`
	Retention          float64 `json:"retention"`

	ChatMessages             int64   `json:"chat_messages"`
	AvgViewers               int64   `json:"avg_viewers"`
	ReturningViewerCount     int64   `json:"returning_viewer_count"`
	ReturningViewerPct       float64 `json:"returning_viewer_percentage"`
	ReturningViewerRetention float64 `json:"returning_viewer_retention"`
}

// prediction is a score recorded at queue-build time, awaiting its outcome.
type prediction struct {
	score float64
	slot  timeslot.Slot
}

// slotDrift accumulates prediction error per slot between factor
// adjustments.
type slotDrift struct {
	count    int
	deltaSum float64
}

// Processor applies playback feedback to the registry and the resolver.
type Processor struct {
	reg      *registry.Registry
	resolver *timeslot.Resolver
	model    scoring.Model
	store    store.Store
	cfg      config.FeedbackConfig
	logger   zerolog.Logger

	now func() time.Time

	mu          sync.Mutex
	predictions map[string]prediction
	pending     []Record
	drift       map[timeslot.Slot]*slotDrift
}

// New builds a processor.
func New(reg *registry.Registry, resolver *timeslot.Resolver, model scoring.Model, st store.Store, cfg config.FeedbackConfig) *Processor {
	return &Processor{
		reg:         reg,
		resolver:    resolver,
		model:       model,
		store:       st,
		cfg:         cfg,
		logger:      logging.With().Str("component", "feedback").Logger(),
		now:         time.Now,
		predictions: make(map[string]prediction),
		drift:       make(map[timeslot.Slot]*slotDrift),
	}
}

// RecordPrediction stores the score predicted for a queued item. The next
// segment_ended for that content consumes it.
func (p *Processor) RecordPrediction(contentID string, score float64, slot timeslot.Slot) {
	p.mu.Lock()
	p.predictions[contentID] = prediction{score: score, slot: slot}
	p.mu.Unlock()
}

// HandleSegmentEnded processes one observed outcome. The audit record is
// persisted first; if the registry write then fails, the observation is
// queued for replay and the error is returned for logging, not loss.
func (p *Processor) HandleSegmentEnded(ctx context.Context, event *events.PlaybackEvent) error {
	if event.Metrics == nil {
		return fmt.Errorf("segment_ended %s without metrics", event.EventID)
	}

	pred, slot := p.takePrediction(event)
	rec := Record{
		FeedbackID:               uuid.New().String(),
		ContentID:                event.ContentID,
		SlotLabel:                string(slot),
		CreatedAt:                p.now().UTC(),
		PredictedScore:           pred,
		ActualViewerChange:       event.Metrics.ActualViewerChange,
		Retention:                event.Metrics.Retention,
		ChatMessages:             event.Metrics.ChatMessages,
		AvgViewers:               event.Metrics.AvgViewers,
		ReturningViewerCount:     event.Metrics.ReturningViewerCount,
		ReturningViewerPct:       event.Metrics.ReturningViewerPct,
		ReturningViewerRetention: event.Metrics.ReturningViewerRetention,
	}

	if err := p.appendAudit(ctx, rec); err != nil {
		// The audit trail is the ground truth for replays. Without it the
		// observation cannot be recovered, so this failure is terminal for
		// the event.
		return fmt.Errorf("append audit record: %w", err)
	}

	if err := p.apply(ctx, rec); err != nil {
		p.enqueue(rec)
		p.logger.Warn().Err(err).
			Str("content_id", rec.ContentID).
			Str("feedback_id", rec.FeedbackID).
			Msg("registry write failed, feedback queued for replay")
		return err
	}
	return nil
}

// takePrediction consumes the recorded prediction for the event's content,
// falling back to a prediction computed from current state when the queue
// entry predates a restart.
func (p *Processor) takePrediction(event *events.PlaybackEvent) (float64, timeslot.Slot) {
	p.mu.Lock()
	pred, ok := p.predictions[event.ContentID]
	if ok {
		delete(p.predictions, event.ContentID)
	}
	p.mu.Unlock()
	if ok {
		return pred.score, pred.slot
	}

	slot := timeslot.Slot(event.SlotLabel)
	if slot == "" {
		slot = p.resolver.Resolve(event.Timestamp)
	}
	score := 0.0
	if rec, err := p.reg.Get(event.ContentID); err == nil {
		score = scoring.PredictedChange(rec.EnhancedScore, p.resolver.Factor(slot))
	}
	return score, slot
}

// apply runs the learning update through the registry's single-writer path
// and folds the prediction error into slot drift. Side effects beyond the
// score update only happen when the feedback ID was actually applied, so a
// replay never double-counts retention, playlist stats, or drift.
func (p *Processor) apply(ctx context.Context, rec Record) error {
	delta := rec.ActualViewerChange - rec.PredictedScore

	applied, err := p.reg.ApplyFeedback(ctx, rec.ContentID, rec.FeedbackID, func(c *registry.ContentRecord) {
		lr := p.cfg.LearningRate
		score := c.EnhancedScore + lr*delta
		score += lr * (p.cfg.ReturningPctWeight*rec.ReturningViewerPct +
			p.cfg.ReturningRetentionWeight*rec.ReturningViewerRetention)
		if score < p.cfg.ScoreFloor {
			score = p.cfg.ScoreFloor
		} else if score > p.cfg.ScoreCeiling {
			score = p.cfg.ScoreCeiling
		}
		c.EnhancedScore = score
		c.ReturningViewerPct = rec.ReturningViewerPct
		c.ReturningViewerRetention = rec.ReturningViewerRetention
		c.EngagementScore = p.model.EngagementScore(
			c.SourceComments, c.SourceViews, rec.ChatMessages, rec.AvgViewers)
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if err := p.reg.RecordRetention(ctx, rec.ContentID, rec.Retention); err != nil {
		p.logger.Warn().Err(err).Str("content_id", rec.ContentID).Msg("retention update failed")
	}
	if c, err := p.reg.Get(rec.ContentID); err == nil && c.PlaylistID != "" {
		if err := p.reg.RecordPlaylistPerformance(ctx, c.PlaylistID, rec.SlotLabel, rec.ActualViewerChange); err != nil {
			p.logger.Warn().Err(err).Str("playlist_id", c.PlaylistID).Msg("playlist aggregate update failed")
		}
	}

	p.recordDrift(timeslot.Slot(rec.SlotLabel), delta)
	metrics.FeedbackApplied.WithLabelValues(rec.SlotLabel).Inc()

	p.logger.Debug().
		Str("content_id", rec.ContentID).
		Str("slot", rec.SlotLabel).
		Float64("predicted", rec.PredictedScore).
		Float64("actual", rec.ActualViewerChange).
		Float64("delta", delta).
		Msg("feedback applied")
	return nil
}

// recordDrift folds one prediction error into the slot's window and, when
// the window fills, nudges the slot factor by the mean error.
func (p *Processor) recordDrift(slot timeslot.Slot, delta float64) {
	p.mu.Lock()
	d, ok := p.drift[slot]
	if !ok {
		d = &slotDrift{}
		p.drift[slot] = d
	}
	d.count++
	d.deltaSum += delta

	var adjust float64
	ready := d.count >= p.cfg.DriftWindow
	if ready {
		adjust = p.cfg.DriftRate * (d.deltaSum / float64(d.count))
		d.count = 0
		d.deltaSum = 0
	}
	p.mu.Unlock()

	if !ready {
		return
	}
	factor, err := p.resolver.AdjustFactor(slot, adjust)
	if err != nil {
		p.logger.Warn().Err(err).Str("slot", string(slot)).Msg("slot drift skipped")
		return
	}
	metrics.SlotFactor.WithLabelValues(string(slot)).Set(factor)
	p.logger.Info().
		Str("slot", string(slot)).
		Float64("adjustment", adjust).
		Float64("factor", factor).
		Msg("slot factor drifted")
}

// appendAudit writes the immutable audit entry.
func (p *Processor) appendAudit(ctx context.Context, rec Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode feedback %s: %w", rec.FeedbackID, err)
	}
	key := fmt.Sprintf("%s%d-%s", auditKeyPrefix, rec.CreatedAt.UnixNano(), rec.FeedbackID)
	return p.store.Put(ctx, key, doc)
}

// enqueue holds a feedback record whose registry write failed.
func (p *Processor) enqueue(rec Record) {
	p.mu.Lock()
	p.pending = append(p.pending, rec)
	n := len(p.pending)
	p.mu.Unlock()
	metrics.FeedbackPending.Set(float64(n))
}

// PendingCount reports how many feedback events await replay.
func (p *Processor) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// RetryPending replays queued feedback. Records that fail again stay
// queued; successful replays cannot double-count because application is
// idempotent by feedback ID.
func (p *Processor) RetryPending(ctx context.Context) {
	p.mu.Lock()
	queued := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(queued) == 0 {
		return
	}

	var failed []Record
	for _, rec := range queued {
		metrics.FeedbackReplays.Inc()
		if err := p.apply(ctx, rec); err != nil {
			failed = append(failed, rec)
			p.logger.Warn().Err(err).
				Str("feedback_id", rec.FeedbackID).
				Msg("feedback replay failed, will retry")
		}
	}

	p.mu.Lock()
	p.pending = append(failed, p.pending...)
	n := len(p.pending)
	p.mu.Unlock()
	metrics.FeedbackPending.Set(float64(n))

	if applied := len(queued) - len(failed); applied > 0 {
		p.logger.Info().Int("applied", applied).Int("pending", n).Msg("replayed queued feedback")
	}
}
