// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// countingService counts how often it is started.
type countingService struct {
	starts atomic.Int64
	fail   bool
}

func (s *countingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	if s.fail {
		s.fail = false
		return errors.New("transient startup failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestTree_RunsAndStopsServices(t *testing.T) {
	tree := NewTree(slog.Default(), DefaultTreeConfig())
	svc := &countingService{}
	tree.AddEngineService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tree.Serve(ctx) }()

	waitFor(t, func() bool { return svc.starts.Load() == 1 })
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop on cancellation")
	}
}

func TestTree_RestartsFailedService(t *testing.T) {
	tree := NewTree(slog.Default(), DefaultTreeConfig())
	svc := &countingService{fail: true}
	tree.AddAPIService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tree.Serve(ctx) //nolint:errcheck

	// First run fails, the supervisor must start it again.
	waitFor(t, func() bool { return svc.starts.Load() >= 2 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition never became true")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
