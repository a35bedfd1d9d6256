// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/rotationfm/rotation/internal/events"
	"github.com/rotationfm/rotation/internal/queue"
	"github.com/rotationfm/rotation/internal/registry"
)

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleQueue builds a fresh queue. Query params: size, playlist,
// returning_pct.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	req := queue.Request{
		PlaylistID: r.URL.Query().Get("playlist"),
		At:         time.Now(),
	}
	if raw := r.URL.Query().Get("size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			s.writeError(w, http.StatusBadRequest, "size must be a positive integer")
			return
		}
		req.Size = size
	}
	if raw := r.URL.Query().Get("returning_pct"); raw != "" {
		pct, err := strconv.ParseFloat(raw, 64)
		if err != nil || pct < 0 || pct > 1 {
			s.writeError(w, http.StatusBadRequest, "returning_pct must be in [0, 1]")
			return
		}
		req.ReturningViewerPct = pct
	}

	entries, err := s.builder.BuildQueue(r.Context(), req)
	if err != nil {
		var ice *queue.InsufficientCandidatesError
		if errors.As(err, &ice) {
			s.writeError(w, http.StatusConflict, ice.Error())
			return
		}
		s.logger.Error().Err(err).Msg("queue build failed")
		s.writeError(w, http.StatusInternalServerError, "queue build failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"queue": entries})
}

func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{
		PlaylistID:      r.URL.Query().Get("playlist"),
		IncludeArchived: r.URL.Query().Get("include_archived") == "true",
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"content": s.reg.GetRanked(filter)})
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.reg.Get(chi.URLParam(r, "contentID"))
	if err != nil {
		if errors.Is(err, registry.ErrUnknownContent) {
			s.writeError(w, http.StatusNotFound, "unknown content id")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleUpsertContent ingests a metadata tuple from the Content Source.
func (s *Server) handleUpsertContent(w http.ResponseWriter, r *http.Request) {
	var meta registry.Metadata
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&meta); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed metadata: "+err.Error())
		return
	}
	if meta.ContentID == "" {
		s.writeError(w, http.StatusBadRequest, "content_id is required")
		return
	}

	rec, err := s.reg.UpsertMetadata(r.Context(), meta)
	if err != nil {
		s.logger.Error().Err(err).Str("content_id", meta.ContentID).Msg("upsert failed")
		s.writeError(w, http.StatusInternalServerError, "upsert failed")
		return
	}
	if meta.PlaylistID != "" {
		if err := s.reg.UpsertPlaylist(r.Context(), meta.PlaylistID); err != nil {
			s.logger.Warn().Err(err).Str("playlist_id", meta.PlaylistID).Msg("playlist upsert failed")
		}
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleArchiveContent(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")
	if err := s.reg.Archive(r.Context(), contentID); err != nil {
		if errors.Is(err, registry.ErrUnknownContent) {
			s.writeError(w, http.StatusNotFound, "unknown content id")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "archive failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"content_id": contentID, "status": "archived"})
}

// handleFeedback is the Player's alternate callback: it publishes a
// segment_ended event onto the same bus the native Player integration uses.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ContentID string                 `json:"content_id"`
		Metrics   events.PlaybackMetrics `json:"metrics"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed feedback: "+err.Error())
		return
	}

	event := events.NewSegmentEnded(payload.ContentID, payload.Metrics)
	if err := s.bus.Publish(event); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"event_id": event.EventID})
}

func (s *Server) handleSlots(w http.ResponseWriter, _ *http.Request) {
	factors := s.resolver.Factors()
	out := make(map[string]float64, len(factors))
	for slot, factor := range factors {
		out[string(slot)] = factor
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"slots": out})
}

func (s *Server) handlePlaylists(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"playlists": s.reg.Playlists()})
}
