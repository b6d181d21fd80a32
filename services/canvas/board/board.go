// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package board

import (
	"sync"
	"time"
)

// State is a copied view of the canvas.
type State struct {
	Width  int  `json:"width"`
	Height int  `json:"height"`
	Grid   Grid `json:"board"`
}

// History is a consistent copy of the history log.
type History struct {
	Segments     []Segment `json:"segments"`
	TotalChanges int       `json:"totalChanges"`
	Stats        Stats     `json:"stats"`
}

// Board couples a Canvas with its HistoryLog behind one lock.
//
// # Description
//
// Paint applies setPixel and append as a single critical section, so two
// writes can never interleave and the history order always matches the
// order writes were applied. Readers take the read lock only long enough to
// copy what they need; I/O on the copies happens outside the lock.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Board struct {
	mu     sync.RWMutex
	canvas *Canvas
	log    *HistoryLog
}

// New creates a fresh board.
func New(width, height int, defaultColor string, snapshotInterval int, now time.Time) (*Board, error) {
	canvas, err := NewCanvas(width, height, defaultColor)
	if err != nil {
		return nil, err
	}
	return &Board{
		canvas: canvas,
		log:    NewHistoryLog(canvas, snapshotInterval, now.UnixMilli()),
	}, nil
}

// FromPersisted restores a board from a persisted record. See Restore.
func FromPersisted(p Persisted, defaultColor string, snapshotInterval int) (*Board, error) {
	canvas, log, err := Restore(p, defaultColor, snapshotInterval)
	if err != nil {
		return nil, err
	}
	return &Board{canvas: canvas, log: log}, nil
}

// Paint writes one pixel and records it in the history.
//
// # Inputs
//
//   - x, y: Cell coordinates.
//   - color: Any accepted color form.
//   - timestamp: Epoch milliseconds of acceptance.
//
// # Outputs
//
//   - Change: The recorded change with the canonical color.
//   - error: ErrOutOfBounds or ErrInvalidColorFormat; nothing is recorded.
func (b *Board) Paint(x, y int, color string, timestamp int64) (Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	canonical, err := b.canvas.SetPixel(x, y, color)
	if err != nil {
		return Change{}, err
	}
	return b.log.Append(x, y, canonical, timestamp), nil
}

// Pixel returns the current color at (x, y).
func (b *Board) Pixel(x, y int) (Color, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.canvas.GetPixel(x, y)
}

// InBounds reports whether (x, y) addresses a cell. Dimensions never change,
// so no lock is needed.
func (b *Board) InBounds(x, y int) bool {
	return b.canvas.InBounds(x, y)
}

// Width returns the board width.
func (b *Board) Width() int { return b.canvas.Width() }

// Height returns the board height.
func (b *Board) Height() int { return b.canvas.Height() }

// State returns a deep copy of the current grid.
func (b *Board) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return State{
		Width:  b.canvas.Width(),
		Height: b.canvas.Height(),
		Grid:   b.canvas.State(),
	}
}

// History returns a consistent copy of the segment log.
func (b *Board) History() History {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return History{
		Segments:     b.log.Segments(),
		TotalChanges: b.log.TotalChanges(),
		Stats:        b.log.Stats(),
	}
}

// Stats returns the history summary.
func (b *Board) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.log.Stats()
}

// Snapshot returns the grid and the history read under one lock, so the
// grid always equals the replayed history.
func (b *Board) Snapshot() (State, History) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	state := State{
		Width:  b.canvas.Width(),
		Height: b.canvas.Height(),
		Grid:   b.canvas.State(),
	}
	history := History{
		Segments:     b.log.Segments(),
		TotalChanges: b.log.TotalChanges(),
		Stats:        b.log.Stats(),
	}
	return state, history
}
