// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/rotationfm/rotation/internal/config"
	"github.com/rotationfm/rotation/internal/events"
	"github.com/rotationfm/rotation/internal/queue"
	"github.com/rotationfm/rotation/internal/registry"
	"github.com/rotationfm/rotation/internal/scoring"
	"github.com/rotationfm/rotation/internal/store"
	"github.com/rotationfm/rotation/internal/timeslot"
)

// stubBuilder returns canned queue results.
type stubBuilder struct {
	entries []queue.Entry
	err     error
}

func (s *stubBuilder) BuildQueue(_ context.Context, _ queue.Request) ([]queue.Entry, error) {
	return s.entries, s.err
}

type harness struct {
	server *httptest.Server
	reg    *registry.Registry
	bus    *events.Bus
	stub   *stubBuilder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	defaults := config.Default()

	reg, err := registry.New(context.Background(), store.NewMemory(), scoring.NewModel(defaults.Scoring), defaults.Scoring)
	if err != nil {
		t.Fatalf("registry.New() = %v", err)
	}
	resolver, err := timeslot.NewResolver(defaults.Slots)
	if err != nil {
		t.Fatalf("timeslot.NewResolver() = %v", err)
	}
	bus := events.NewBus()
	t.Cleanup(func() { bus.Close() }) //nolint:errcheck

	stub := &stubBuilder{}
	srv := httptest.NewServer(NewServer(defaults.Server, stub, reg, resolver, bus).Router())
	t.Cleanup(srv.Close)

	return &harness{server: srv, reg: reg, bus: bus, stub: stub}
}

func (h *harness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(h.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func (h *harness) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(h.server.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestServer_Health(t *testing.T) {
	h := newHarness(t)
	resp := h.get(t, "/healthz")
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz = %d, want 200", resp.StatusCode)
	}
}

func TestServer_Queue(t *testing.T) {
	h := newHarness(t)
	h.stub.entries = []queue.Entry{
		{ContentID: "clip-1", PredictedScore: 9.8, SlotLabel: "US_PrimeTime"},
		{ContentID: "clip-2", PredictedScore: 7.1, SlotLabel: "US_PrimeTime", IsExploratory: true},
	}

	resp := h.get(t, "/api/v1/queue?size=2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/v1/queue = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Queue []queue.Entry `json:"queue"`
	}
	decode(t, resp, &body)
	if len(body.Queue) != 2 || body.Queue[0].ContentID != "clip-1" {
		t.Errorf("queue body = %+v, want the stubbed entries", body.Queue)
	}
}

func TestServer_QueueRejectsBadParams(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{
		"/api/v1/queue?size=zero",
		"/api/v1/queue?size=-3",
		"/api/v1/queue?returning_pct=1.5",
	} {
		resp := h.get(t, path)
		resp.Body.Close() //nolint:errcheck
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", path, resp.StatusCode)
		}
	}
}

func TestServer_QueueReportsInsufficientCandidates(t *testing.T) {
	h := newHarness(t)
	h.stub.err = &queue.InsufficientCandidatesError{Requested: 10, Eligible: 2}

	resp := h.get(t, "/api/v1/queue")
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("GET /api/v1/queue = %d, want 409", resp.StatusCode)
	}
}

func TestServer_ContentLifecycle(t *testing.T) {
	h := newHarness(t)

	upload := time.Now().UTC().AddDate(0, 0, -30).Format(time.RFC3339)
	resp := h.post(t, "/api/v1/content", `{
		"content_id": "clip-9",
		"title": "Ninth Clip",
		"playlist_id": "anthems",
		"source_views": 120000,
		"source_comments": 300,
		"duration_seconds": 240,
		"upload_timestamp": "`+upload+`"
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/v1/content = %d, want 200", resp.StatusCode)
	}
	var rec registry.ContentRecord
	decode(t, resp, &rec)
	if rec.BaseScore <= 0 {
		t.Errorf("upserted record BaseScore = %g, want > 0", rec.BaseScore)
	}

	resp = h.get(t, "/api/v1/content/clip-9")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/v1/content/clip-9 = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close() //nolint:errcheck

	resp = h.post(t, "/api/v1/content/clip-9/archive", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST archive = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close() //nolint:errcheck

	resp = h.get(t, "/api/v1/content")
	var list struct {
		Content []registry.ContentRecord `json:"content"`
	}
	decode(t, resp, &list)
	if len(list.Content) != 0 {
		t.Errorf("archived content still listed: %+v", list.Content)
	}

	resp = h.get(t, "/api/v1/content?include_archived=true")
	decode(t, resp, &list)
	if len(list.Content) != 1 {
		t.Errorf("include_archived listing has %d records, want 1", len(list.Content))
	}
}

func TestServer_ContentValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing content id", `{"title": "No ID"}`},
		{"unknown field", `{"content_id": "x", "codec": "opus"}`},
		{"malformed json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.post(t, "/api/v1/content", tt.body)
			resp.Body.Close() //nolint:errcheck
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("POST /api/v1/content = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestServer_ContentNotFound(t *testing.T) {
	h := newHarness(t)
	resp := h.get(t, "/api/v1/content/ghost")
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /api/v1/content/ghost = %d, want 404", resp.StatusCode)
	}
}

func TestServer_FeedbackPublishesToBus(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received, err := h.bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}

	resp := h.post(t, "/api/v1/feedback", `{
		"content_id": "clip-1",
		"metrics": {"actual_viewer_change": 42, "retention": 0.8}
	}`)
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /api/v1/feedback = %d, want 202", resp.StatusCode)
	}

	select {
	case event := <-received:
		if event.Type != events.TypeSegmentEnded || event.ContentID != "clip-1" {
			t.Errorf("bus delivered %+v, want segment_ended for clip-1", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feedback event never reached the bus")
	}
}

func TestServer_FeedbackValidation(t *testing.T) {
	h := newHarness(t)
	resp := h.post(t, "/api/v1/feedback", `{"metrics": {"retention": 0.5}}`)
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST feedback without content_id = %d, want 400", resp.StatusCode)
	}
}

func TestServer_Slots(t *testing.T) {
	h := newHarness(t)
	resp := h.get(t, "/api/v1/slots")
	var body struct {
		Slots map[string]float64 `json:"slots"`
	}
	decode(t, resp, &body)
	if len(body.Slots) != 4 {
		t.Fatalf("GET /api/v1/slots returned %d slots, want 4", len(body.Slots))
	}
	if body.Slots["US_PrimeTime"] != 1.3 {
		t.Errorf("US_PrimeTime factor = %g, want 1.3", body.Slots["US_PrimeTime"])
	}
}
