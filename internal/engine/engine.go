// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

// Package engine wires the scoring pipeline together and runs its
// long-lived loops: the playback event loop and the feedback retry ticker.
//
// The engine is the only component that touches more than one collaborator
// per operation. A segment_started event becomes a play-history append and
// a play-count increment; a segment_ended event is routed to the feedback
// processor; a queue build records its predictions so the processor can
// later compute the error.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/rotationfm/rotation/internal/config"
	"github.com/rotationfm/rotation/internal/events"
	"github.com/rotationfm/rotation/internal/feedback"
	"github.com/rotationfm/rotation/internal/logging"
	"github.com/rotationfm/rotation/internal/metrics"
	"github.com/rotationfm/rotation/internal/queue"
	"github.com/rotationfm/rotation/internal/registry"
	"github.com/rotationfm/rotation/internal/store"
	"github.com/rotationfm/rotation/internal/timeslot"
)

const factorsKey = "slots/factors"

// Engine orchestrates queue builds and the feedback loop.
type Engine struct {
	reg      *registry.Registry
	builder  *queue.Builder
	proc     *feedback.Processor
	resolver *timeslot.Resolver
	bus      *events.Bus
	store    store.Store
	cfg      config.FeedbackConfig
	logger   zerolog.Logger
}

// New wires an engine and restores persisted slot factors.
func New(ctx context.Context, reg *registry.Registry, builder *queue.Builder, proc *feedback.Processor, resolver *timeslot.Resolver, bus *events.Bus, st store.Store, cfg config.FeedbackConfig) (*Engine, error) {
	e := &Engine{
		reg:      reg,
		builder:  builder,
		proc:     proc,
		resolver: resolver,
		bus:      bus,
		store:    st,
		cfg:      cfg,
		logger:   logging.With().Str("component", "engine").Logger(),
	}
	if err := e.restoreFactors(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// BuildQueue builds a queue and records each entry's prediction so the
// feedback processor can score the outcome.
func (e *Engine) BuildQueue(ctx context.Context, req queue.Request) ([]queue.Entry, error) {
	entries, err := e.builder.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		e.proc.RecordPrediction(entry.ContentID, entry.PredictedScore, timeslot.Slot(entry.SlotLabel))
	}
	return entries, nil
}

// EventLoop returns the service consuming the playback bus.
func (e *Engine) EventLoop() *eventLoop { return &eventLoop{engine: e} }

// RetryLoop returns the service replaying failed feedback writes and
// checkpointing slot factors.
func (e *Engine) RetryLoop() *retryLoop { return &retryLoop{engine: e} }

// handleEvent routes one playback event.
func (e *Engine) handleEvent(ctx context.Context, event *events.PlaybackEvent) {
	switch event.Type {
	case events.TypeSegmentStarted:
		if err := e.builder.RecordPlayed(ctx, event.ContentID); err != nil {
			e.logger.Error().Err(err).Str("content_id", event.ContentID).Msg("play history append failed")
		}
		if err := e.reg.RecordPlay(ctx, event.ContentID); err != nil {
			e.logger.Error().Err(err).Str("content_id", event.ContentID).Msg("play count update failed")
		}
	case events.TypeSegmentEnded:
		if err := e.proc.HandleSegmentEnded(ctx, event); err != nil {
			e.logger.Error().Err(err).Str("content_id", event.ContentID).Msg("feedback processing failed")
		}
	}
	metrics.ContentRecords.Set(float64(len(e.reg.GetRanked(registry.Filter{}))))
}

// persistFactors checkpoints the current slot factors.
func (e *Engine) persistFactors(ctx context.Context) error {
	factors := e.resolver.Factors()
	out := make(map[string]float64, len(factors))
	for slot, factor := range factors {
		out[string(slot)] = factor
	}
	doc, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode slot factors: %w", err)
	}
	if err := e.store.Put(ctx, factorsKey, doc); err != nil {
		return fmt.Errorf("persist slot factors: %w", err)
	}
	return nil
}

// restoreFactors loads checkpointed slot factors over the configured
// defaults. Missing checkpoint means first run.
func (e *Engine) restoreFactors(ctx context.Context) error {
	doc, err := e.store.Get(ctx, factorsKey)
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load slot factors: %w", err)
	}

	var factors map[string]float64
	if err := json.Unmarshal(doc, &factors); err != nil {
		return fmt.Errorf("decode slot factors: %w", err)
	}
	for slot, factor := range factors {
		if err := e.resolver.SetFactor(timeslot.Slot(slot), factor); err != nil {
			e.logger.Warn().Str("slot", slot).Msg("checkpointed factor for unconfigured slot ignored")
			continue
		}
		metrics.SlotFactor.WithLabelValues(slot).Set(factor)
	}
	e.logger.Info().Int("slots", len(factors)).Msg("slot factors restored")
	return nil
}

// eventLoop consumes the playback bus until cancelled.
type eventLoop struct {
	engine *Engine
}

// Serve implements the supervisor's service contract.
func (l *eventLoop) Serve(ctx context.Context) error {
	evs, err := l.engine.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	l.engine.logger.Info().Msg("event loop started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-evs:
			if !ok {
				return fmt.Errorf("event bus closed")
			}
			l.engine.handleEvent(ctx, event)
		}
	}
}

func (l *eventLoop) String() string { return "event-loop" }

// retryLoop drains queued feedback and checkpoints slot factors on a fixed
// interval.
type retryLoop struct {
	engine *Engine
}

// Serve implements the supervisor's service contract.
func (l *retryLoop) Serve(ctx context.Context) error {
	ticker := time.NewTicker(l.engine.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final checkpoint so drifted factors survive a restart.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := l.engine.persistFactors(shutdownCtx); err != nil {
				l.engine.logger.Warn().Err(err).Msg("final factor checkpoint failed")
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			l.engine.proc.RetryPending(ctx)
			if err := l.engine.persistFactors(ctx); err != nil {
				l.engine.logger.Warn().Err(err).Msg("factor checkpoint failed")
			}
		}
	}
}

func (l *retryLoop) String() string { return "feedback-retry" }
