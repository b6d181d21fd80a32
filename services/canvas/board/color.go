// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package board holds the authoritative canvas state and its segmented
// snapshot+delta history.
//
// # Description
//
// The package contains three layers:
//   - Canvas: a fixed width x height grid of canonical colors.
//   - HistoryLog: an append-only log of changes, cut into segments that each
//     start from a full grid snapshot.
//   - Board: Canvas + HistoryLog behind a single lock. This is the one
//     serialization point for every accepted write.
//
// Canvas and HistoryLog are not safe for concurrent use on their own. Callers
// outside this package should go through Board.
package board

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the board package.
var (
	// ErrOutOfBounds is returned when a coordinate falls outside the canvas.
	ErrOutOfBounds = errors.New("coordinates out of bounds")

	// ErrInvalidColorFormat is returned for anything that is not a 6-digit hex color.
	ErrInvalidColorFormat = errors.New("invalid color format")

	// ErrCorruptHistory is returned when persisted history cannot be restored.
	ErrCorruptHistory = errors.New("corrupt history")
)

// Color is a canonical RGB color of the form "#RRGGBB" (uppercase).
type Color string

// ParseColor validates and canonicalizes a color string.
//
// # Description
//
// Accepts "#rrggbb" or "rrggbb" in any letter case and returns the canonical
// uppercase form with a leading '#'.
//
// # Inputs
//
//   - s: Candidate color string.
//
// # Outputs
//
//   - Color: Canonical color.
//   - error: ErrInvalidColorFormat (wrapped) if s is not a 6-digit hex color.
//
// # Examples
//
//	c, _ := ParseColor("#ff00aa") // "#FF00AA"
//	c, _ = ParseColor("00ff00")   // "#00FF00"
func ParseColor(s string) (Color, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidColorFormat, s)
	}
	for i := 0; i < len(hex); i++ {
		if !isHexDigit(hex[i]) {
			return "", fmt.Errorf("%w: %q", ErrInvalidColorFormat, s)
		}
	}
	return Color("#" + strings.ToUpper(hex)), nil
}

// IsValidColor reports whether s would be accepted by ParseColor.
func IsValidColor(s string) bool {
	_, err := ParseColor(s)
	return err == nil
}

// IsCanonical reports whether c is already in "#RRGGBB" uppercase form.
func (c Color) IsCanonical() bool {
	parsed, err := ParseColor(string(c))
	return err == nil && parsed == c
}

func (c Color) String() string {
	return string(c)
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}
