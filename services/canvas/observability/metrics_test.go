// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper: Create isolated metrics for testing
// ============================================================================

// newTestMetrics registers the canvas metrics on a private registry so tests
// do not collide with each other or with the default registry.
func newTestMetrics(t *testing.T) (*CanvasMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCanvasMetrics(reg), reg
}

// ============================================================================
// CanvasMetrics Tests
// ============================================================================

func TestCanvasMetrics_RecordPaint(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordPaint(PaintAccepted)
	m.RecordPaint(PaintAccepted)
	m.RecordPaint(PaintRateLimited)
	m.RecordPaint(PaintBot)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PaintAttemptsTotal.WithLabelValues(PaintAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PaintAttemptsTotal.WithLabelValues(PaintRateLimited)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PaintAttemptsTotal.WithLabelValues(PaintBot)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PaintAttemptsTotal.WithLabelValues(PaintInvalid)))
}

func TestCanvasMetrics_RecordSave_ObservesDurationOnlyOnSuccess(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordSave(SaveSuccess, 20*time.Millisecond)
	m.RecordSave(SaveError, time.Second)
	m.RecordSave(SaveSkipped, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SavesTotal.WithLabelValues(SaveSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SavesTotal.WithLabelValues(SaveError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SavesTotal.WithLabelValues(SaveSkipped)))

	expected := `
# HELP aleutian_canvas_save_duration_seconds Duration of successful history saves in seconds
# TYPE aleutian_canvas_save_duration_seconds histogram
aleutian_canvas_save_duration_seconds_bucket{le="0.005"} 0
aleutian_canvas_save_duration_seconds_bucket{le="0.01"} 0
aleutian_canvas_save_duration_seconds_bucket{le="0.05"} 1
aleutian_canvas_save_duration_seconds_bucket{le="0.1"} 1
aleutian_canvas_save_duration_seconds_bucket{le="0.25"} 1
aleutian_canvas_save_duration_seconds_bucket{le="0.5"} 1
aleutian_canvas_save_duration_seconds_bucket{le="1"} 1
aleutian_canvas_save_duration_seconds_bucket{le="2.5"} 1
aleutian_canvas_save_duration_seconds_bucket{le="5"} 1
aleutian_canvas_save_duration_seconds_bucket{le="+Inf"} 1
aleutian_canvas_save_duration_seconds_sum 0.02
aleutian_canvas_save_duration_seconds_count 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"aleutian_canvas_save_duration_seconds"))
}

func TestCanvasMetrics_Gauges(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetActiveSessions(4)
	m.SetActiveSessions(3)
	m.SetHistoryTotalChanges(1200)
	m.RecordBroadcastDrop()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1200.0, testutil.ToFloat64(m.HistoryTotalChanges))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BroadcastDropsTotal))
}

func TestCanvasMetrics_NilIsNoop(t *testing.T) {
	var m *CanvasMetrics

	assert.NotPanics(t, func() {
		m.RecordPaint(PaintAccepted)
		m.RecordBroadcastDrop()
		m.SetActiveSessions(1)
		m.RecordSave(SaveSuccess, time.Millisecond)
		m.SetHistoryTotalChanges(1)
	})
}

func TestNewCanvasMetrics_DuplicateRegistrationPanics(t *testing.T) {
	_, reg := newTestMetrics(t)
	assert.Panics(t, func() { NewCanvasMetrics(reg) })
}

// ============================================================================
// Tracing Tests
// ============================================================================

func TestInitTracer_EmptyEndpointIsNoop(t *testing.T) {
	cleanup, err := InitTracer(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, cleanup)
	cleanup(context.Background())
}

func TestInitTracer_Stdout(t *testing.T) {
	cleanup, err := InitTracer(context.Background(), StdoutEndpoint)
	require.NoError(t, err)
	cleanup(context.Background())
}
