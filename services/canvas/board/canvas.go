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

// =============================================================================
// Grid
// =============================================================================

// Grid is a row-major color grid: grid[y][x].
type Grid [][]Color

// NewGrid returns a width x height grid filled with fill.
func NewGrid(width, height int, fill Color) Grid {
	g := make(Grid, height)
	for y := range g {
		row := make([]Color, width)
		for x := range row {
			row[x] = fill
		}
		g[y] = row
	}
	return g
}

// Clone returns a deep copy of the grid.
func (g Grid) Clone() Grid {
	if g == nil {
		return nil
	}
	out := make(Grid, len(g))
	for y, row := range g {
		out[y] = append([]Color(nil), row...)
	}
	return out
}

// Dimensions returns (width, height). Width is taken from the first row.
func (g Grid) Dimensions() (int, int) {
	if len(g) == 0 {
		return 0, 0
	}
	return len(g[0]), len(g)
}

// Equal reports whether two grids hold identical cells.
func (g Grid) Equal(other Grid) bool {
	if len(g) != len(other) {
		return false
	}
	for y := range g {
		if len(g[y]) != len(other[y]) {
			return false
		}
		for x := range g[y] {
			if g[y][x] != other[y][x] {
				return false
			}
		}
	}
	return true
}

// validate checks that the grid is a non-empty rectangle of valid colors.
// Cells are canonicalized in place.
func (g Grid) validate() error {
	width, height := g.Dimensions()
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: empty snapshot", ErrCorruptHistory)
	}
	for y, row := range g {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d cells, want %d", ErrCorruptHistory, y, len(row), width)
		}
		for x, cell := range row {
			c, err := ParseColor(string(cell))
			if err != nil {
				return fmt.Errorf("%w: cell (%d,%d): %v", ErrCorruptHistory, x, y, err)
			}
			row[x] = c
		}
	}
	return nil
}

// =============================================================================
// Canvas
// =============================================================================

// Canvas is the authoritative width x height grid of current cell colors.
//
// # Description
//
// Dimensions and default color are fixed at construction. Every stored
// color is canonical. Canvas performs its own bounds and format checks so a
// direct caller cannot corrupt it, even though the message pipeline validates
// before calling.
//
// # Thread Safety
//
// Not safe for concurrent use. Board provides the lock.
type Canvas struct {
	width        int
	height       int
	defaultColor Color
	grid         Grid
}

// NewCanvas creates a canvas with every cell set to defaultColor.
//
// # Inputs
//
//   - width, height: Positive dimensions.
//   - defaultColor: Any accepted color form; stored canonically.
//
// # Outputs
//
//   - *Canvas: Fresh canvas.
//   - error: Non-nil for non-positive dimensions or an invalid color.
func NewCanvas(width, height int, defaultColor string) (*Canvas, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("canvas dimensions must be positive, got %dx%d", width, height)
	}
	def, err := ParseColor(defaultColor)
	if err != nil {
		return nil, fmt.Errorf("default color: %w", err)
	}
	return &Canvas{
		width:        width,
		height:       height,
		defaultColor: def,
		grid:         NewGrid(width, height, def),
	}, nil
}

// canvasFromGrid adopts grid as live state. The grid must already be validated.
func canvasFromGrid(grid Grid, defaultColor Color) *Canvas {
	width, height := grid.Dimensions()
	return &Canvas{
		width:        width,
		height:       height,
		defaultColor: defaultColor,
		grid:         grid,
	}
}

// Width returns the canvas width.
func (c *Canvas) Width() int { return c.width }

// Height returns the canvas height.
func (c *Canvas) Height() int { return c.height }

// DefaultColor returns the canonical fill color used at construction.
func (c *Canvas) DefaultColor() Color { return c.defaultColor }

// InBounds reports whether (x, y) addresses a cell.
func (c *Canvas) InBounds(x, y int) bool {
	return x >= 0 && x < c.width && y >= 0 && y < c.height
}

// SetPixel stores color at (x, y) and returns the canonical form stored.
//
// # Outputs
//
//   - Color: Canonical color written.
//   - error: ErrOutOfBounds or ErrInvalidColorFormat (wrapped).
func (c *Canvas) SetPixel(x, y int, color string) (Color, error) {
	if !c.InBounds(x, y) {
		return "", fmt.Errorf("%w: (%d,%d) on %dx%d", ErrOutOfBounds, x, y, c.width, c.height)
	}
	canonical, err := ParseColor(color)
	if err != nil {
		return "", err
	}
	c.grid[y][x] = canonical
	return canonical, nil
}

// GetPixel returns the color at (x, y).
func (c *Canvas) GetPixel(x, y int) (Color, error) {
	if !c.InBounds(x, y) {
		return "", fmt.Errorf("%w: (%d,%d) on %dx%d", ErrOutOfBounds, x, y, c.width, c.height)
	}
	return c.grid[y][x], nil
}

// State returns a deep copy of the grid. Mutating it does not affect the canvas.
func (c *Canvas) State() Grid {
	return c.grid.Clone()
}
