// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package abuse gates paint attempts before they reach the board.
//
// # Description
//
// Every attempt runs through a fixed pipeline:
//  1. Record the attempt in the session's rolling window (always).
//  2. Bot heuristic on inter-arrival timing variance (silent drop).
//  3. Cooldown since the last accepted paint (explicit rate-limit notice).
//  4. Accept and advance the session's last paint time.
//
// The bot check runs before the cooldown so a slow scripted client that
// respects the cooldown is still caught by its timing regularity.
package abuse

import (
	"fmt"
	"sync/atomic"
	"time"
)

// =============================================================================
// Policy
// =============================================================================

// Policy holds the tunable thresholds of the gate.
//
// # Fields
//
//   - Cooldown: Minimum time between two accepted paints. Default: 200ms.
//   - MinSamples: Window size below which the bot check is skipped. Default: 10.
//   - VarianceThreshold: Interval stddev below which a session is bot-like. Default: 30ms.
//   - WindowSize: Number of recent attempts kept per session. Default: 20.
type Policy struct {
	Cooldown          time.Duration
	MinSamples        int
	VarianceThreshold time.Duration
	WindowSize        int
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		Cooldown:          200 * time.Millisecond,
		MinSamples:        10,
		VarianceThreshold: 30 * time.Millisecond,
		WindowSize:        20,
	}
}

// normalize fills zero fields with defaults.
func (p Policy) normalize() Policy {
	def := DefaultPolicy()
	if p.Cooldown < 0 {
		p.Cooldown = 0
	}
	if p.MinSamples <= 0 {
		p.MinSamples = def.MinSamples
	}
	if p.VarianceThreshold <= 0 {
		p.VarianceThreshold = def.VarianceThreshold
	}
	if p.WindowSize <= 0 {
		p.WindowSize = def.WindowSize
	}
	return p
}

// =============================================================================
// Per-session state
// =============================================================================

// Attempt is one offered paint, accepted or not.
type Attempt struct {
	Timestamp int64 // epoch ms
	X         int
	Y         int
	Color     string
}

// Tracker is the gate state of a single session.
//
// A Tracker is owned by exactly one session and must only be evaluated from
// one goroutine at a time. No cross-session locking is involved.
type Tracker struct {
	lastPaint int64
	painted   bool
	recent    []Attempt
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// record appends a to the window, evicting the oldest beyond window entries.
func (t *Tracker) record(a Attempt, window int) {
	t.recent = append(t.recent, a)
	if over := len(t.recent) - window; over > 0 {
		t.recent = append(t.recent[:0], t.recent[over:]...)
	}
}

// Recent returns a copy of the attempt window, oldest first.
func (t *Tracker) Recent() []Attempt {
	return append([]Attempt(nil), t.recent...)
}

// LastPaint returns the time of the last accepted paint, if any.
func (t *Tracker) LastPaint() (int64, bool) {
	return t.lastPaint, t.painted
}

// =============================================================================
// Gate
// =============================================================================

// Verdict is the gate's classification of an attempt.
type Verdict int

const (
	// VerdictAccept lets the attempt through to the board.
	VerdictAccept Verdict = iota
	// VerdictBot drops the attempt without telling the client.
	VerdictBot
	// VerdictRateLimited rejects the attempt with a wait time.
	VerdictRateLimited
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccept:
		return "accepted"
	case VerdictBot:
		return "bot"
	case VerdictRateLimited:
		return "rate_limited"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Decision is the result of evaluating one attempt.
type Decision struct {
	Verdict Verdict

	// Wait is the remaining cooldown. Set only for VerdictRateLimited.
	Wait time.Duration

	// Reason describes a bot classification. Empty otherwise.
	Reason string
}

// Gate evaluates attempts against a Policy that can be swapped at runtime.
//
// # Thread Safety
//
// Policy reads and writes are atomic. Evaluate mutates the supplied Tracker,
// which the caller must not share across goroutines.
type Gate struct {
	policy atomic.Pointer[Policy]
}

// NewGate creates a gate with the given policy.
func NewGate(policy Policy) *Gate {
	g := &Gate{}
	g.SetPolicy(policy)
	return g
}

// Policy returns the active policy.
func (g *Gate) Policy() Policy {
	return *g.policy.Load()
}

// SetPolicy replaces the active policy. Existing trackers keep their windows;
// a smaller WindowSize takes effect on their next attempt.
func (g *Gate) SetPolicy(policy Policy) {
	p := policy.normalize()
	g.policy.Store(&p)
}

// Evaluate runs one attempt through the gate.
//
// # Description
//
// Records the attempt, then applies the bot heuristic, then the cooldown.
// On acceptance the tracker's last paint time becomes a.Timestamp. Rejected
// attempts never advance it.
//
// # Inputs
//
//   - t: The session's tracker.
//   - a: The attempt. a.Timestamp is the session's "now" in epoch ms.
//
// # Outputs
//
//   - Decision: Verdict plus wait time for rate-limited attempts.
func (g *Gate) Evaluate(t *Tracker, a Attempt) Decision {
	policy := g.Policy()

	t.record(a, policy.WindowSize)

	if check := CheckBotBehavior(t.recent, policy); check.IsBot {
		return Decision{Verdict: VerdictBot, Reason: check.Reason}
	}

	if t.painted {
		elapsed := time.Duration(a.Timestamp-t.lastPaint) * time.Millisecond
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed < policy.Cooldown {
			return Decision{
				Verdict: VerdictRateLimited,
				Wait:    policy.Cooldown - elapsed,
			}
		}
	}

	t.lastPaint = a.Timestamp
	t.painted = true
	return Decision{Verdict: VerdictAccept}
}
