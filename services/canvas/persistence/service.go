// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/board"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// CorruptPolicy decides what InitializeBoard does with a corrupt record.
type CorruptPolicy string

const (
	// CorruptFail aborts startup.
	CorruptFail CorruptPolicy = "fail"
	// CorruptFresh logs a warning and starts from an empty board. The
	// corrupt record is overwritten by the next save.
	CorruptFresh CorruptPolicy = "fresh"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Service.
//
// # Fields
//
//   - SessionName: Identity under which the history is stored.
//   - Width, Height, DefaultColor: Geometry of a fresh board.
//   - SnapshotInterval: Segment size. Default: board.DefaultSnapshotInterval.
//   - AutosaveInterval: Period of RunAutosave. Default: 2 minutes.
//   - ShutdownTimeout: Bound on SaveOnShutdown. Default: 10 seconds.
//   - OnCorrupt: Policy for corrupt records. Default: CorruptFail.
//   - Clock: Time source for savedAt and fresh boards. Default: time.Now.
//   - Metrics: Optional metrics sink.
type Config struct {
	SessionName      string
	Width            int
	Height           int
	DefaultColor     string
	SnapshotInterval int
	AutosaveInterval time.Duration
	ShutdownTimeout  time.Duration
	OnCorrupt        CorruptPolicy
	Clock            func() time.Time
	Metrics          *observability.CanvasMetrics
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = board.DefaultSnapshotInterval
	}
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = 2 * time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.OnCorrupt == "" {
		cfg.OnCorrupt = CorruptFail
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return cfg
}

// =============================================================================
// Service
// =============================================================================

// Service owns the persistence lifecycle of one board.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Concurrent saves are coalesced.
type Service struct {
	store  Store
	cfg    Config
	tracer trace.Tracer

	saves singleflight.Group

	// totalChanges covered by the last successful save, -1 before any.
	lastSaved atomic.Int64
}

// NewService creates a Service over store. The caller keeps ownership of
// store and must close it after the last save.
func NewService(store Store, cfg Config) *Service {
	s := &Service{
		store:  store,
		cfg:    applyConfigDefaults(cfg),
		tracer: otel.Tracer("github.com/AleutianAI/AleutianCanvas/services/canvas/persistence"),
	}
	s.lastSaved.Store(-1)
	return s
}

// Load reads the persisted record for the configured session.
//
// # Outputs
//
//   - *board.Persisted: The record, or nil if none exists yet.
//   - error: ErrCorruptPersistedState (wrapped) if the record cannot be
//     decoded; other errors if the store itself fails.
func (s *Service) Load(ctx context.Context) (*board.Persisted, error) {
	ctx, span := s.tracer.Start(ctx, "persistence.Load",
		trace.WithAttributes(attribute.String("canvas.session", s.cfg.SessionName)))
	defer span.End()

	data, err := s.store.Load(ctx, s.cfg.SessionName)
	if errors.Is(err, ErrNotFound) {
		span.SetAttributes(attribute.Bool("canvas.found", false))
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store load failed")
		return nil, fmt.Errorf("load %s from %s: %w", s.cfg.SessionName, s.store, err)
	}

	var p board.Persisted
	if err := json.Unmarshal(data, &p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, fmt.Errorf("%w: %v", ErrCorruptPersistedState, err)
	}
	span.SetAttributes(
		attribute.Bool("canvas.found", true),
		attribute.Int("canvas.total_changes", p.TotalChanges))
	return &p, nil
}

// InitializeBoard loads prior state or creates a fresh board.
//
// # Description
//
// This is the one place where the corrupt-state policy is applied. With
// CorruptFail any undecodable or unrestorable record is returned as an
// error wrapping ErrCorruptPersistedState. With CorruptFresh a warning is
// logged and a fresh board is returned instead.
//
// When the restored geometry differs from the configured one, the restored
// geometry wins and a warning is logged.
func (s *Service) InitializeBoard(ctx context.Context) (*board.Board, error) {
	p, err := s.Load(ctx)
	if err != nil && !errors.Is(err, ErrCorruptPersistedState) {
		return nil, err
	}

	if err == nil && p != nil {
		b, restoreErr := board.FromPersisted(*p, s.cfg.DefaultColor, s.cfg.SnapshotInterval)
		if restoreErr == nil {
			if b.Width() != s.cfg.Width || b.Height() != s.cfg.Height {
				slog.Warn("persisted board geometry differs from configuration, using persisted",
					"persisted_width", b.Width(), "persisted_height", b.Height(),
					"configured_width", s.cfg.Width, "configured_height", s.cfg.Height)
			}
			s.lastSaved.Store(int64(p.TotalChanges))
			s.cfg.Metrics.SetHistoryTotalChanges(p.TotalChanges)
			slog.Info("restored board from storage",
				"session", s.cfg.SessionName,
				"store", s.store.String(),
				"total_changes", p.TotalChanges,
				"segments", len(p.Segments))
			return b, nil
		}
		err = fmt.Errorf("%w: %w", ErrCorruptPersistedState, restoreErr)
	}

	if err != nil {
		if s.cfg.OnCorrupt != CorruptFresh {
			return nil, err
		}
		slog.Warn("persisted state is corrupt, starting a fresh board",
			"session", s.cfg.SessionName, "store", s.store.String(), "error", err)
	} else {
		slog.Info("no saved state, starting a fresh board",
			"session", s.cfg.SessionName, "store", s.store.String())
	}

	return board.New(s.cfg.Width, s.cfg.Height, s.cfg.DefaultColor, s.cfg.SnapshotInterval, s.cfg.Clock())
}

// Save writes the full history of b.
//
// # Description
//
// The history is copied under the board's read lock; encoding and I/O run
// outside it. Concurrent calls share one write. A caller that joined a
// write which started before its own view of the board saves again, so a
// returned nil always covers every change visible at call time.
//
// # Outputs
//
//   - error: The store error, also logged and counted. Never fatal.
func (s *Service) Save(ctx context.Context, b *board.Board) error {
	want := b.Stats().TotalChanges
	for {
		v, err, _ := s.saves.Do("save", func() (interface{}, error) {
			return s.save(ctx, b)
		})
		if err != nil {
			return err
		}
		if v.(int) >= want {
			return nil
		}
	}
}

// SaveIfChanged saves only when changes were accepted since the last
// successful save.
func (s *Service) SaveIfChanged(ctx context.Context, b *board.Board) (bool, error) {
	if int64(b.Stats().TotalChanges) == s.lastSaved.Load() {
		s.cfg.Metrics.RecordSave(observability.SaveSkipped, 0)
		return false, nil
	}
	if err := s.Save(ctx, b); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) save(ctx context.Context, b *board.Board) (int, error) {
	ctx, span := s.tracer.Start(ctx, "persistence.Save",
		trace.WithAttributes(attribute.String("canvas.session", s.cfg.SessionName)))
	defer span.End()

	start := time.Now()
	history := b.History()
	record := board.Persisted{
		SessionName:  s.cfg.SessionName,
		SavedAt:      s.cfg.Clock().UnixMilli(),
		TotalChanges: history.TotalChanges,
		Segments:     history.Segments,
	}
	span.SetAttributes(
		attribute.Int("canvas.total_changes", record.TotalChanges),
		attribute.Int("canvas.segments", len(record.Segments)))

	data, err := json.Marshal(record)
	if err == nil {
		err = s.store.Save(ctx, s.cfg.SessionName, data)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		s.cfg.Metrics.RecordSave(observability.SaveError, 0)
		slog.Error("failed to save history",
			"session", s.cfg.SessionName, "store", s.store.String(), "error", err)
		return 0, fmt.Errorf("save %s: %w", s.cfg.SessionName, err)
	}

	s.lastSaved.Store(int64(record.TotalChanges))
	s.cfg.Metrics.RecordSave(observability.SaveSuccess, time.Since(start))
	slog.Debug("saved history",
		"session", s.cfg.SessionName,
		"total_changes", record.TotalChanges,
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds())
	return record.TotalChanges, nil
}

// RunAutosave saves b every AutosaveInterval until ctx is cancelled.
//
// # Description
//
// Cycles with no new changes are skipped. A failed save is logged and
// retried on the next tick. Uses the ticker + done pattern; the only stop
// signal is ctx.
//
// # Outputs
//
//   - error: Always nil.
func (s *Service) RunAutosave(ctx context.Context, b *board.Board) error {
	ticker := time.NewTicker(s.cfg.AutosaveInterval)
	defer ticker.Stop()

	slog.Info("autosave scheduler starting",
		"interval", s.cfg.AutosaveInterval.String(),
		"session", s.cfg.SessionName)

	for {
		select {
		case <-ctx.Done():
			slog.Info("autosave scheduler stopped")
			return nil
		case <-ticker.C:
			s.executeAutosave(ctx, b)
		}
	}
}

func (s *Service) executeAutosave(ctx context.Context, b *board.Board) {
	saved, err := s.SaveIfChanged(ctx, b)
	if err != nil {
		// Already logged by save; the next tick retries.
		return
	}
	if saved {
		slog.Info("autosave completed", "total_changes", s.lastSaved.Load())
	}
}

// SaveOnShutdown performs the final save, bounded by ShutdownTimeout.
//
// # Description
//
// Runs detached from ctx's cancellation (shutdown usually starts because
// ctx was cancelled) but keeps its values. Returns when the save completes
// or the timeout elapses, whichever is first.
func (s *Service) SaveOnShutdown(ctx context.Context, b *board.Board) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Save(ctx, b) }()

	select {
	case err := <-done:
		if err == nil {
			slog.Info("final save completed",
				"session", s.cfg.SessionName, "total_changes", s.lastSaved.Load())
		}
		return err
	case <-ctx.Done():
		slog.Error("final save timed out", "timeout", s.cfg.ShutdownTimeout.String())
		return fmt.Errorf("final save: %w", ctx.Err())
	}
}

// =============================================================================
// Inspection
// =============================================================================

// Summary describes a persisted record without starting the service.
type Summary struct {
	SessionName  string `json:"sessionName"`
	Store        string `json:"store"`
	Found        bool   `json:"found"`
	SavedAt      int64  `json:"savedAt,omitempty"`
	TotalChanges int    `json:"totalChanges"`
	SegmentCount int    `json:"segmentCount"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

// Inspect loads and summarizes the stored record.
//
// # Outputs
//
//   - Summary: Found is false when nothing is stored.
//   - error: Corrupt records and store failures.
func (s *Service) Inspect(ctx context.Context) (Summary, error) {
	summary := Summary{SessionName: s.cfg.SessionName, Store: s.store.String()}

	p, err := s.Load(ctx)
	if err != nil || p == nil {
		return summary, err
	}

	b, err := board.FromPersisted(*p, s.cfg.DefaultColor, s.cfg.SnapshotInterval)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrCorruptPersistedState, err)
	}

	summary.Found = true
	summary.SavedAt = p.SavedAt
	summary.TotalChanges = p.TotalChanges
	summary.SegmentCount = len(p.Segments)
	summary.Width = b.Width()
	summary.Height = b.Height()
	return summary, nil
}
