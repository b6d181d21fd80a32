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
	"fmt"
)

// DefaultSnapshotInterval is the number of changes per segment.
const DefaultSnapshotInterval = 200

// Change is one accepted write. Immutable once created.
type Change struct {
	X         int   `json:"x"`
	Y         int   `json:"y"`
	Color     Color `json:"color"`
	Timestamp int64 `json:"timestamp"`
}

// Segment is a full grid snapshot plus the ordered changes applied after it.
//
// Index equals the total change count at the moment the segment was opened.
// Snapshot is never mutated after the segment is created.
type Segment struct {
	Index     int      `json:"index"`
	Timestamp int64    `json:"timestamp"`
	Snapshot  Grid     `json:"snapshot"`
	Changes   []Change `json:"changes"`
}

// Stats is a read-only summary of a HistoryLog.
type Stats struct {
	TotalChanges     int `json:"totalChanges"`
	SegmentCount     int `json:"segmentCount"`
	SnapshotInterval int `json:"snapshotInterval"`
}

// Persisted is the durable record written for one session identity.
type Persisted struct {
	SessionName  string    `json:"sessionName"`
	SavedAt      int64     `json:"savedAt"`
	TotalChanges int       `json:"totalChanges"`
	Segments     []Segment `json:"segments"`
}

// HistoryLog is the append-only, segmented change log of a Canvas.
//
// # Description
//
// The live grid always equals the last segment's snapshot with its changes
// replayed in order. When the open segment reaches snapshotInterval changes,
// a new segment is opened from a fresh copy of the canvas. Replay cost is
// therefore bounded by snapshotInterval regardless of total history length.
//
// # Thread Safety
//
// Not safe for concurrent use. Board provides the lock.
type HistoryLog struct {
	canvas           *Canvas
	segments         []Segment
	totalChanges     int
	snapshotInterval int
}

// NewHistoryLog starts a log for canvas with a single segment snapshotting
// its current state.
func NewHistoryLog(canvas *Canvas, snapshotInterval int, now int64) *HistoryLog {
	if snapshotInterval <= 0 {
		snapshotInterval = DefaultSnapshotInterval
	}
	return &HistoryLog{
		canvas: canvas,
		segments: []Segment{{
			Index:     0,
			Timestamp: now,
			Snapshot:  canvas.State(),
			Changes:   []Change{},
		}},
		snapshotInterval: snapshotInterval,
	}
}

// Append records a change that has already been applied to the canvas.
//
// # Description
//
// Adds the change to the open segment and increments the total. If the open
// segment now holds snapshotInterval changes, a new segment is opened whose
// snapshot is the canvas state after this change and whose change list is
// empty.
//
// # Outputs
//
//   - Change: The recorded change.
func (h *HistoryLog) Append(x, y int, color Color, timestamp int64) Change {
	change := Change{X: x, Y: y, Color: color, Timestamp: timestamp}

	open := &h.segments[len(h.segments)-1]
	open.Changes = append(open.Changes, change)
	h.totalChanges++

	if len(open.Changes) >= h.snapshotInterval {
		h.segments = append(h.segments, Segment{
			Index:     h.totalChanges,
			Timestamp: timestamp,
			Snapshot:  h.canvas.State(),
			Changes:   []Change{},
		})
	}
	return change
}

// Segments returns a consistent copy of the segment list.
//
// Closed segments share their (immutable) snapshot and change slices with
// the log. The open segment's change list is copied because it still grows.
func (h *HistoryLog) Segments() []Segment {
	out := make([]Segment, len(h.segments))
	copy(out, h.segments)
	last := &out[len(out)-1]
	changes := make([]Change, len(last.Changes))
	copy(changes, last.Changes)
	last.Changes = changes
	return out
}

// TotalChanges returns the number of changes ever appended.
func (h *HistoryLog) TotalChanges() int {
	return h.totalChanges
}

// Stats returns a summary of the log.
func (h *HistoryLog) Stats() Stats {
	return Stats{
		TotalChanges:     h.totalChanges,
		SegmentCount:     len(h.segments),
		SnapshotInterval: h.snapshotInterval,
	}
}

// Restore rebuilds a Canvas and HistoryLog from persisted form.
//
// # Description
//
// Validates that at least one segment exists and that the first segment's
// snapshot is a well-formed rectangular grid. The live grid is the last
// segment's snapshot with its changes replayed in order, so that snapshot and
// those changes are checked as well. Interior segments are taken as-is.
// Segments and totalChanges are adopted directly from p.
//
// # Inputs
//
//   - p: Persisted record. Ownership of p.Segments passes to the log.
//   - defaultColor: Fill color recorded on the restored canvas.
//   - snapshotInterval: Rollover threshold for future appends.
//
// # Outputs
//
//   - *Canvas, *HistoryLog: Restored state.
//   - error: ErrCorruptHistory (wrapped) when validation fails.
func Restore(p Persisted, defaultColor string, snapshotInterval int) (*Canvas, *HistoryLog, error) {
	if len(p.Segments) == 0 {
		return nil, nil, fmt.Errorf("%w: no segments", ErrCorruptHistory)
	}
	if p.TotalChanges < 0 {
		return nil, nil, fmt.Errorf("%w: negative totalChanges %d", ErrCorruptHistory, p.TotalChanges)
	}
	def, err := ParseColor(defaultColor)
	if err != nil {
		return nil, nil, fmt.Errorf("default color: %w", err)
	}

	if err := p.Segments[0].Snapshot.validate(); err != nil {
		return nil, nil, fmt.Errorf("first segment: %w", err)
	}
	last := p.Segments[len(p.Segments)-1]
	if len(p.Segments) > 1 {
		if err := last.Snapshot.validate(); err != nil {
			return nil, nil, fmt.Errorf("last segment: %w", err)
		}
	}

	grid := last.Snapshot.Clone()
	width, height := grid.Dimensions()
	for i, ch := range last.Changes {
		if ch.X < 0 || ch.X >= width || ch.Y < 0 || ch.Y >= height {
			return nil, nil, fmt.Errorf("%w: change %d at (%d,%d) outside %dx%d",
				ErrCorruptHistory, i, ch.X, ch.Y, width, height)
		}
		c, err := ParseColor(string(ch.Color))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: change %d: %v", ErrCorruptHistory, i, err)
		}
		grid[ch.Y][ch.X] = c
	}

	if snapshotInterval <= 0 {
		snapshotInterval = DefaultSnapshotInterval
	}

	segments := make([]Segment, len(p.Segments))
	copy(segments, p.Segments)
	if segments[len(segments)-1].Changes == nil {
		segments[len(segments)-1].Changes = []Change{}
	}

	canvas := canvasFromGrid(grid, def)
	log := &HistoryLog{
		canvas:           canvas,
		segments:         segments,
		totalChanges:     p.TotalChanges,
		snapshotInterval: snapshotInterval,
	}
	return canvas, log, nil
}
