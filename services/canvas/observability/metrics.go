// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing for the canvas service.
//
// # Description
//
// Prometheus metrics cover the live path (paint verdicts, sessions,
// broadcast drops) and persistence (save outcomes and latency). Metrics are
// exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method on *CanvasMetrics is safe to call on a nil receiver, which
// disables recording.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for canvas metrics
const canvasSubsystem = "canvas"

// Paint results used as the "result" label.
const (
	PaintAccepted    = "accepted"
	PaintRateLimited = "rate_limited"
	PaintBot         = "bot"
	PaintInvalid     = "invalid"
)

// Reasons an inbound frame was dropped before reaching the hub, used as the
// "reason" label. Paint frames that fail validation count as PaintInvalid
// instead.
const (
	FrameMalformed   = "malformed"
	FrameUnknownType = "unknown_type"
)

// Save outcomes used as the "status" label.
const (
	SaveSuccess = "success"
	SaveError   = "error"
	SaveSkipped = "skipped"
)

// CanvasMetrics holds all Prometheus metrics for the canvas service.
//
// # Fields
//
//   - PaintAttemptsTotal: Paint attempts by gate result.
//   - FramesDroppedTotal: Non-paint inbound frames dropped by reason.
//   - BroadcastDropsTotal: Sessions dropped because their send queue overflowed.
//   - ActiveSessions: Currently registered sessions.
//   - SavesTotal: Persistence saves by status.
//   - SaveDurationSeconds: Wall time of successful saves.
//   - HistoryTotalChanges: Total changes in the history log.
type CanvasMetrics struct {
	PaintAttemptsTotal  *prometheus.CounterVec
	FramesDroppedTotal  *prometheus.CounterVec
	BroadcastDropsTotal prometheus.Counter
	ActiveSessions      prometheus.Gauge
	SavesTotal          *prometheus.CounterVec
	SaveDurationSeconds prometheus.Histogram
	HistoryTotalChanges prometheus.Gauge
}

// NewCanvasMetrics creates and registers all metrics on reg.
//
// # Inputs
//
//   - reg: Registry to register on. Use prometheus.DefaultRegisterer in
//     production and prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewCanvasMetrics(reg prometheus.Registerer) *CanvasMetrics {
	factory := promauto.With(reg)

	return &CanvasMetrics{
		PaintAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: canvasSubsystem,
				Name:      "paint_attempts_total",
				Help:      "Total paint attempts by gate result",
			},
			[]string{"result"},
		),

		FramesDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: canvasSubsystem,
				Name:      "frames_dropped_total",
				Help:      "Inbound non-paint frames dropped without a reply, by reason",
			},
			[]string{"reason"},
		),

		BroadcastDropsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: canvasSubsystem,
				Name:      "broadcast_drops_total",
				Help:      "Sessions disconnected because their outbound queue was full or over its byte budget",
			},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: canvasSubsystem,
				Name:      "active_sessions",
				Help:      "Number of currently connected sessions",
			},
		),

		SavesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: canvasSubsystem,
				Name:      "saves_total",
				Help:      "Total history saves by status",
			},
			[]string{"status"},
		),

		SaveDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: canvasSubsystem,
				Name:      "save_duration_seconds",
				Help:      "Duration of successful history saves in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),

		HistoryTotalChanges: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: canvasSubsystem,
				Name:      "history_total_changes",
				Help:      "Total changes recorded in the history log",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordPaint counts one paint attempt with the given result label.
func (m *CanvasMetrics) RecordPaint(result string) {
	if m == nil {
		return
	}
	m.PaintAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordFrameDropped counts one undecodable non-paint frame.
func (m *CanvasMetrics) RecordFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordBroadcastDrop counts one session dropped for backpressure.
func (m *CanvasMetrics) RecordBroadcastDrop() {
	if m == nil {
		return
	}
	m.BroadcastDropsTotal.Inc()
}

// SetActiveSessions sets the session gauge.
func (m *CanvasMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// RecordSave counts one save attempt. Duration is observed only on success.
func (m *CanvasMetrics) RecordSave(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SavesTotal.WithLabelValues(status).Inc()
	if status == SaveSuccess {
		m.SaveDurationSeconds.Observe(duration.Seconds())
	}
}

// SetHistoryTotalChanges sets the history gauge.
func (m *CanvasMetrics) SetHistoryTotalChanges(n int) {
	if m == nil {
		return
	}
	m.HistoryTotalChanges.Set(float64(n))
}
