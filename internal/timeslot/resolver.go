// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

// Package timeslot maps UTC instants to named audience time slots and owns
// each slot's mutable performance factor.
//
// The slot layout is validated once at construction: the configured ranges
// must cover all 1440 minutes of the UTC day exactly once. Resolve is then
// a total function over all instants and never fails per call.
package timeslot

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rotationfm/rotation/internal/config"
)

// Slot names an audience time slot.
type Slot string

// The four audience windows of the broadcast.
const (
	USPrimeTime Slot = "US_PrimeTime"
	UKEvening   Slot = "UK_Evening"
	PHEvening   Slot = "PH_Evening"
	LowTraffic  Slot = "Low_Traffic"
)

const minutesPerDay = 24 * 60

// Resolver resolves UTC instants to slots and manages performance factors.
// Resolve is lock-free; factor access is serialized per slot.
type Resolver struct {
	minuteMap [minutesPerDay]Slot
	slots     map[Slot]*slotState
	minFactor float64
	maxFactor float64
}

// slotState guards one slot's factor. Adjustments to different slots
// proceed in parallel.
type slotState struct {
	mu     sync.Mutex
	factor float64
}

// NewResolver validates the slot layout and builds a resolver. A layout
// that leaves gaps, overlaps ranges, or assigns conflicting factors to one
// slot name is a ConfigurationError.
func NewResolver(cfg config.SlotsConfig) (*Resolver, error) {
	r := &Resolver{
		slots:     make(map[Slot]*slotState),
		minFactor: cfg.MinFactor,
		maxFactor: cfg.MaxFactor,
	}

	var covered [minutesPerDay]bool
	for i, def := range cfg.Definitions {
		field := fmt.Sprintf("slots.definitions[%d]", i)

		start, err := parseClock(def.Start)
		if err != nil {
			return nil, &config.ConfigurationError{Field: field + ".start", Message: err.Error()}
		}
		end, err := parseClock(def.End)
		if err != nil {
			return nil, &config.ConfigurationError{Field: field + ".end", Message: err.Error()}
		}
		if start == end {
			return nil, &config.ConfigurationError{Field: field, Message: "range is empty"}
		}

		name := Slot(def.Name)
		if state, ok := r.slots[name]; ok {
			if state.factor != def.Factor {
				return nil, &config.ConfigurationError{
					Field:   field + ".factor",
					Message: fmt.Sprintf("slot %q configured with conflicting factors", def.Name),
				}
			}
		} else {
			if def.Factor < cfg.MinFactor || def.Factor > cfg.MaxFactor {
				return nil, &config.ConfigurationError{
					Field:   field + ".factor",
					Message: fmt.Sprintf("factor %g outside [%g, %g]", def.Factor, cfg.MinFactor, cfg.MaxFactor),
				}
			}
			r.slots[name] = &slotState{factor: def.Factor}
		}

		for m := start; m != end; m = (m + 1) % minutesPerDay {
			if covered[m] {
				return nil, &config.ConfigurationError{
					Field:   field,
					Message: fmt.Sprintf("minute %02d:%02d covered twice", m/60, m%60),
				}
			}
			covered[m] = true
			r.minuteMap[m] = name
		}
	}

	for m, ok := range covered {
		if !ok {
			return nil, &config.ConfigurationError{
				Field:   "slots.definitions",
				Message: fmt.Sprintf("minute %02d:%02d not covered by any slot", m/60, m%60),
			}
		}
	}
	return r, nil
}

// Resolve returns the slot active at t. Total over all instants.
func (r *Resolver) Resolve(t time.Time) Slot {
	utc := t.UTC()
	return r.minuteMap[utc.Hour()*60+utc.Minute()]
}

// Factor returns the slot's current performance factor, always >= 0.
// Unknown slots resolve to the neutral factor 1.
func (r *Resolver) Factor(slot Slot) float64 {
	state, ok := r.slots[slot]
	if !ok {
		return 1
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.factor
}

// AdjustFactor applies delta to the slot's factor, clamped to the
// configured bounds, and returns the new factor. Adjustments to the same
// slot are serialized.
func (r *Resolver) AdjustFactor(slot Slot, delta float64) (float64, error) {
	state, ok := r.slots[slot]
	if !ok {
		return 0, fmt.Errorf("unknown slot %q", slot)
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	state.factor = clamp(state.factor+delta, r.minFactor, r.maxFactor)
	return state.factor, nil
}

// SetFactor restores a persisted factor, clamped to the configured bounds.
func (r *Resolver) SetFactor(slot Slot, factor float64) error {
	state, ok := r.slots[slot]
	if !ok {
		return fmt.Errorf("unknown slot %q", slot)
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	state.factor = clamp(factor, r.minFactor, r.maxFactor)
	return nil
}

// Factors returns a snapshot of all slot factors, for persistence.
func (r *Resolver) Factors() map[Slot]float64 {
	snapshot := make(map[Slot]float64, len(r.slots))
	for name, state := range r.slots {
		state.mu.Lock()
		snapshot[name] = state.factor
		state.mu.Unlock()
	}
	return snapshot
}

// Slots returns the configured slot names in stable order.
func (r *Resolver) Slots() []Slot {
	names := make([]Slot, 0, len(r.slots))
	for name := range r.slots {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// parseClock parses "HH:MM" into minutes from UTC midnight.
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value %q out of range", s)
	}
	return h*60 + m, nil
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
