// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

// Package exploration decides when and how low-data content is substituted
// into the play queue so new material gathers feedback.
package exploration

import (
	"math/rand"
	"sync"

	"github.com/rotationfm/rotation/internal/config"
	"github.com/rotationfm/rotation/internal/registry"
)

// defaultSeed keeps queue builds reproducible when no seed is configured.
const defaultSeed = 1

// Policy chooses exploratory substitutions. Safe for concurrent use; the
// RNG is serialized so a fixed seed yields one deterministic draw sequence.
type Policy struct {
	cfg config.ExplorationConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPolicy builds a policy. A zero configured seed falls back to a fixed
// default rather than wall-clock seeding.
func NewPolicy(cfg config.ExplorationConfig) *Policy {
	seed := cfg.Seed
	if seed == 0 {
		seed = defaultSeed
	}
	return &Policy{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)), //nolint:gosec // reproducibility matters here, not secrecy
	}
}

// Rate returns the fraction of queue positions eligible for substitution.
// Loyal audiences get less disruption.
func (p *Policy) Rate(returningViewerPct float64) float64 {
	if returningViewerPct > p.cfg.LoyalThreshold {
		return p.cfg.RateLoyal
	}
	return p.cfg.RateDefault
}

// SelectCandidate picks uniformly at random among pool items that are still
// "new" (played fewer than the configured threshold) and not in the recent
// play window. Returns nil when no item qualifies.
func (p *Policy) SelectCandidate(pool []registry.ContentRecord, recent map[string]bool) *registry.ContentRecord {
	eligible := make([]int, 0, len(pool))
	for i := range pool {
		rec := &pool[i]
		if rec.Archived || rec.TimesPlayed >= p.cfg.NewThreshold || recent[rec.ContentID] {
			continue
		}
		eligible = append(eligible, i)
	}
	if len(eligible) == 0 {
		return nil
	}

	p.mu.Lock()
	pick := eligible[p.rng.Intn(len(eligible))]
	p.mu.Unlock()

	candidate := pool[pick]
	return &candidate
}

// ShouldExplore draws once against the rate for this audience.
func (p *Policy) ShouldExplore(returningViewerPct float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() < p.Rate(returningViewerPct)
}

// ExpectedDrop is the assumed retention multiplier of an exploratory pick.
// It is recorded alongside substitutions for later analysis and never
// filters candidates.
func (p *Policy) ExpectedDrop() float64 {
	return p.cfg.ExpectedDrop
}
