// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

// Package main is the entry point for the rotationd daemon.
//
// Rotation scores every piece of content in a live audio broadcast's
// library, builds the ordered play queue, and learns from playback
// outcomes. rotationd wires the pieces together in this order:
//
//  1. Configuration: layered defaults, YAML file, ROTATION_ env vars
//  2. Store: BadgerDB behind a retry and circuit-breaker decorator
//  3. Time slots: layout validated, factors restored from checkpoint
//  4. Registry: content records and playlist aggregates hydrated
//  5. Engine: queue builder, feedback processor, playback event bus
//  6. Supervision: event loop, feedback retry, and HTTP API under suture
//
// Shutdown is graceful on SIGINT and SIGTERM: the supervisor drains its
// services, the retry loop takes a final slot-factor checkpoint, and the
// store is closed last.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rotationfm/rotation/internal/api"
	"github.com/rotationfm/rotation/internal/config"
	"github.com/rotationfm/rotation/internal/engine"
	"github.com/rotationfm/rotation/internal/events"
	"github.com/rotationfm/rotation/internal/exploration"
	"github.com/rotationfm/rotation/internal/feedback"
	"github.com/rotationfm/rotation/internal/logging"
	"github.com/rotationfm/rotation/internal/queue"
	"github.com/rotationfm/rotation/internal/registry"
	"github.com/rotationfm/rotation/internal/scoring"
	"github.com/rotationfm/rotation/internal/store"
	"github.com/rotationfm/rotation/internal/supervisor"
	"github.com/rotationfm/rotation/internal/timeslot"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("rotationd failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logger := logging.With().Str("component", "main").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeLogger := logging.With().Str("component", "store").Logger()
	badger, err := store.OpenBadger(cfg.Store.Path, storeLogger)
	if err != nil {
		return err
	}
	defer badger.Close() //nolint:errcheck
	st := store.NewResilient(badger, store.RetryConfig{
		MaxRetries:      cfg.Store.MaxRetries,
		InitialInterval: cfg.Store.RetryInitialInterval,
		MaxInterval:     cfg.Store.RetryMaxInterval,
	}, storeLogger)

	resolver, err := timeslot.NewResolver(cfg.Slots)
	if err != nil {
		return err
	}

	model := scoring.NewModel(cfg.Scoring)
	reg, err := registry.New(ctx, st, model, cfg.Scoring)
	if err != nil {
		return err
	}

	policy := exploration.NewPolicy(cfg.Exploration)
	builder, err := queue.NewBuilder(ctx, reg, resolver, policy, st, cfg.Queue)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close() //nolint:errcheck

	proc := feedback.New(reg, resolver, model, st, cfg.Feedback)
	eng, err := engine.New(ctx, reg, builder, proc, resolver, bus, st, cfg.Feedback)
	if err != nil {
		return err
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddEngineService(eng.EventLoop())
	tree.AddEngineService(eng.RetryLoop())
	tree.AddAPIService(api.NewServer(cfg.Server, eng, reg, resolver, bus))

	logger.Info().
		Str("store", cfg.Store.Path).
		Int("port", cfg.Server.Port).
		Msg("rotationd starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("rotationd stopped")
	return nil
}
