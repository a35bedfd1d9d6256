// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

// Package api serves the inspection and collaborator surface over HTTP:
// queue builds, content metadata upserts, the Player's feedback callback,
// slot factors, playlist aggregates, health, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rotationfm/rotation/internal/config"
	"github.com/rotationfm/rotation/internal/events"
	"github.com/rotationfm/rotation/internal/logging"
	"github.com/rotationfm/rotation/internal/metrics"
	"github.com/rotationfm/rotation/internal/queue"
	"github.com/rotationfm/rotation/internal/registry"
	"github.com/rotationfm/rotation/internal/timeslot"
)

// QueueBuilder is the engine surface the API needs for queue requests.
type QueueBuilder interface {
	BuildQueue(ctx context.Context, req queue.Request) ([]queue.Entry, error)
}

// Server is the HTTP front of the engine.
type Server struct {
	cfg      config.ServerConfig
	builder  QueueBuilder
	reg      *registry.Registry
	resolver *timeslot.Resolver
	bus      *events.Bus
	logger   zerolog.Logger
}

// NewServer wires the HTTP surface.
func NewServer(cfg config.ServerConfig, builder QueueBuilder, reg *registry.Registry, resolver *timeslot.Resolver, bus *events.Bus) *Server {
	return &Server{
		cfg:      cfg,
		builder:  builder,
		reg:      reg,
		resolver: resolver,
		bus:      bus,
		logger:   logging.With().Str("component", "api").Logger(),
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow))

		r.Get("/queue", s.handleQueue)
		r.Get("/content", s.handleListContent)
		r.Post("/content", s.handleUpsertContent)
		r.Get("/content/{contentID}", s.handleGetContent)
		r.Post("/content/{contentID}/archive", s.handleArchiveContent)
		r.Post("/feedback", s.handleFeedback)
		r.Get("/slots", s.handleSlots)
		r.Get("/playlists", s.handlePlaylists)
	})
	return r
}

// Serve runs the HTTP server until ctx is cancelled. It satisfies the
// supervisor's service contract.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

func (s *Server) String() string { return "api" }

// instrument records request counts and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(started).Seconds())
	})
}
