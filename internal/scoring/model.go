// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

// Package scoring computes content desirability scores.
//
// Every function here is pure and total over its documented domain: zero
// view counts, zero denominators, and out-of-range percentages are clamped
// or floored, never rejected. This keeps the formulas testable without a
// storage backend and makes score recomputation safe to repeat.
package scoring

import (
	"math"

	"github.com/rotationfm/rotation/internal/config"
)

// Model evaluates the scoring formulas with a fixed parameter set.
// The zero value is not usable; construct with NewModel.
type Model struct {
	cfg config.ScoringConfig
}

// NewModel creates a model with the given parameters.
func NewModel(cfg config.ScoringConfig) Model {
	return Model{cfg: cfg}
}

// BaseScore computes the popularity-derived score from source metrics:
//
//	log10(max(views, 1)) * (1 + comments/max(views, 1))
//
// Views of zero are floored to one to keep the logarithm in domain; that
// floor is part of the contract, not an error case.
func (m Model) BaseScore(views, comments int64) float64 {
	v := float64(views)
	if v < 1 {
		v = 1
	}
	engagementBoost := 1 + float64(comments)/v
	return math.Log10(v) * engagementBoost
}

// ApplyNewReleaseFloor raises the score of a low-view new release to the
// configured floor and adds a linear freshness bonus that decays to zero
// over the new-release window. Content with enough views, or past the
// window, passes through unchanged.
func (m Model) ApplyNewReleaseFloor(score float64, views int64, isNewRelease bool, daysSinceRelease int) float64 {
	if views >= m.cfg.NewReleaseMaxViews || !isNewRelease {
		return score
	}
	if score < m.cfg.NewReleaseScoreFloor {
		score = m.cfg.NewReleaseScoreFloor
	}
	bonus := float64(m.cfg.NewReleaseDays-daysSinceRelease) * m.cfg.FreshnessBonusPerDay
	if bonus > 0 {
		score += bonus
	}
	return score
}

// LoyaltyBoost converts the returning-viewer percentage into a score
// multiplier. Input is clamped to [0, 1] before use.
func (m Model) LoyaltyBoost(returningViewerPct float64) float64 {
	return 1 + clamp01(returningViewerPct)*m.cfg.LoyaltyWeight
}

// EnhancedScore is the base score after the loyalty multiplier.
func EnhancedScore(base, loyaltyBoost float64) float64 {
	return base * loyaltyBoost
}

// PredictedChange is the expected viewer change for a play in a slot with
// the given performance factor.
func PredictedChange(enhanced, performanceFactor float64) float64 {
	return enhanced * performanceFactor
}

// EngagementScore blends source-platform engagement with live-chat
// engagement. A zero denominator zeroes that term's contribution.
func (m Model) EngagementScore(comments, views, chatMessages, avgViewers int64) float64 {
	var commentRate, chatRate float64
	if views > 0 {
		commentRate = float64(comments) / float64(views)
	}
	if avgViewers > 0 {
		chatRate = float64(chatMessages) / float64(avgViewers)
	}
	return m.cfg.EngagementCommentWeight*commentRate + m.cfg.EngagementChatWeight*chatRate
}

// clamp01 bounds v to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
