// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

package exploration

import (
	"testing"

	"github.com/rotationfm/rotation/internal/config"
	"github.com/rotationfm/rotation/internal/registry"
)

func newTestPolicy(seed int64) *Policy {
	cfg := config.Default().Exploration
	cfg.Seed = seed
	return NewPolicy(cfg)
}

func TestPolicy_Rate(t *testing.T) {
	p := newTestPolicy(0)

	tests := []struct {
		name string
		pct  float64
		want float64
	}{
		{"casual audience", 0.2, 0.10},
		{"exactly at threshold", 0.6, 0.10},
		{"loyal audience", 0.61, 0.08},
		{"fully returning", 1.0, 0.08},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Rate(tt.pct); got != tt.want {
				t.Errorf("Rate(%g) = %g, want %g", tt.pct, got, tt.want)
			}
		})
	}
}

func TestPolicy_SelectCandidate(t *testing.T) {
	pool := []registry.ContentRecord{
		{ContentID: "veteran", TimesPlayed: 20},
		{ContentID: "fresh", TimesPlayed: 0},
		{ContentID: "recent", TimesPlayed: 1},
		{ContentID: "shelved", TimesPlayed: 0, Archived: true},
	}
	recent := map[string]bool{"recent": true}

	p := newTestPolicy(7)
	for i := 0; i < 10; i++ {
		got := p.SelectCandidate(pool, recent)
		if got == nil {
			t.Fatal("SelectCandidate() = nil with an eligible item in the pool")
		}
		if got.ContentID != "fresh" {
			t.Fatalf("SelectCandidate() = %s, want the only eligible item fresh", got.ContentID)
		}
	}
}

func TestPolicy_SelectCandidateReturnsNilWhenNoneEligible(t *testing.T) {
	p := newTestPolicy(7)
	pool := []registry.ContentRecord{
		{ContentID: "veteran", TimesPlayed: 100},
	}
	if got := p.SelectCandidate(pool, nil); got != nil {
		t.Errorf("SelectCandidate() = %v, want nil", got)
	}
	if got := p.SelectCandidate(nil, nil); got != nil {
		t.Errorf("SelectCandidate(empty pool) = %v, want nil", got)
	}
}

func TestPolicy_SelectCandidateIsDeterministicForASeed(t *testing.T) {
	pool := make([]registry.ContentRecord, 0, 10)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		pool = append(pool, registry.ContentRecord{ContentID: id})
	}

	a := newTestPolicy(99)
	b := newTestPolicy(99)
	for i := 0; i < 20; i++ {
		ca, cb := a.SelectCandidate(pool, nil), b.SelectCandidate(pool, nil)
		if ca.ContentID != cb.ContentID {
			t.Fatalf("draw %d diverged: %s vs %s", i, ca.ContentID, cb.ContentID)
		}
	}
}

func TestPolicy_SelectCandidateReturnsACopy(t *testing.T) {
	p := newTestPolicy(7)
	pool := []registry.ContentRecord{{ContentID: "only"}}

	got := p.SelectCandidate(pool, nil)
	got.TimesPlayed = 99
	if pool[0].TimesPlayed != 0 {
		t.Error("mutating the selected candidate leaked into the pool")
	}
}

func TestPolicy_ExpectedDrop(t *testing.T) {
	p := newTestPolicy(0)
	if got := p.ExpectedDrop(); got != 0.85 {
		t.Errorf("ExpectedDrop() = %g, want 0.85", got)
	}
}
