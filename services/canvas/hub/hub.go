// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hub keeps connected sessions synchronized with the board.
//
// # Description
//
// A single coordinator goroutine (Run) owns the session registry and every
// session's abuse-gate state. Connection goroutines hand it decoded messages
// over a bounded channel; it evaluates the gate, applies accepted paints to
// the board, and fans updates out through per-session bounded queues. A
// session whose queue is full, in frames or in bytes, is dropped instead of
// stalling the others.
//
// History responses are the one frame whose size grows with the board. The
// coordinator only copies the history and hands the encoding to a worker
// goroutine, so a session requesting history cannot delay paints for
// everyone else. Each session has at most one history request in flight.
//
// Because registration, the init snapshot and every broadcast happen on the
// coordinator, a new session can never miss an update between its init
// frame and its first broadcast.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/abuse"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/board"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/datatypes"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/observability"
	"github.com/google/uuid"
)

// ErrHubClosed is returned by Connect and Submit once Run has returned.
var ErrHubClosed = errors.New("hub closed")

// DefaultMaxQueueBytes bounds the bytes buffered for one session.
const DefaultMaxQueueBytes int64 = 32 << 20

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Hub.
//
// # Fields
//
//   - SendQueueSize: Outbound frames buffered per session. Default: 256.
//   - MaxQueueBytes: Outbound bytes buffered per session. A single frame
//     into an empty queue is always accepted. Default: 32 MiB.
//   - InboundQueueSize: Decoded messages buffered for the coordinator. Default: 1024.
//   - Clock: Time source for paint timestamps. Default: time.Now.
//   - Metrics: Optional metrics sink. Nil disables recording.
type Config struct {
	SendQueueSize    int
	MaxQueueBytes    int64
	InboundQueueSize int
	Clock            func() time.Time
	Metrics          *observability.CanvasMetrics
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 256
	}
	if cfg.MaxQueueBytes <= 0 {
		cfg.MaxQueueBytes = DefaultMaxQueueBytes
	}
	if cfg.InboundQueueSize <= 0 {
		cfg.InboundQueueSize = 1024
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return cfg
}

// =============================================================================
// Hub
// =============================================================================

type inbound struct {
	session *Session
	msg     datatypes.ClientMessage
}

// Hub is the session registry and write coordinator.
type Hub struct {
	board *board.Board
	gate  *abuse.Gate
	cfg   Config

	// Owned by the coordinator goroutine.
	sessions map[uuid.UUID]*Session

	clients atomic.Int64

	register   chan *Session
	unregister chan *Session
	inbound    chan inbound
	replies    chan historyReply

	history historyEncoder

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a hub over b gated by g. Call Run to start coordinating.
func New(b *board.Board, g *abuse.Gate, cfg Config) *Hub {
	cfg = applyConfigDefaults(cfg)
	return &Hub{
		board:      b,
		gate:       g,
		cfg:        cfg,
		sessions:   make(map[uuid.UUID]*Session),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		inbound:    make(chan inbound, cfg.InboundQueueSize),
		replies:    make(chan historyReply),
		done:       make(chan struct{}),
	}
}

// Clients returns the number of registered sessions.
func (h *Hub) Clients() int {
	return int(h.clients.Load())
}

// Run coordinates sessions until ctx is cancelled.
//
// # Description
//
// On return every remaining session is deregistered (its Send channel is
// closed) and further Connect/Submit calls fail with ErrHubClosed.
//
// # Outputs
//
//   - error: Always nil. Cancellation is the normal way to stop the hub.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil

		case s := <-h.register:
			h.sessions[s.ID] = s
			h.updateClientCount()
			slog.Debug("session registered", "session_id", s.ID, "clients", len(h.sessions))
			h.enqueue(s, datatypes.NewInitMessage(h.board.State(), h.gate.Policy().Cooldown))

		case s := <-h.unregister:
			if _, ok := h.sessions[s.ID]; ok {
				h.remove(s)
				slog.Debug("session deregistered", "session_id", s.ID, "clients", len(h.sessions))
			}

		case in := <-h.inbound:
			h.handle(in.session, in.msg)

		case r := <-h.replies:
			h.handleHistoryReply(r)
		}
	}
}

func (h *Hub) shutdown() {
	h.doneOnce.Do(func() { close(h.done) })
	for _, s := range h.sessions {
		h.remove(s)
	}
}

// Connect registers a new session. The session's first frame is init.
func (h *Hub) Connect(ctx context.Context) (*Session, error) {
	s := newSession(h.cfg.SendQueueSize)
	select {
	case h.register <- s:
		return s, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Disconnect deregisters s and discards its gate state. Safe to call more
// than once and after the hub has stopped.
func (h *Hub) Disconnect(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Submit queues a decoded message from s for the coordinator.
func (h *Hub) Submit(ctx context.Context, s *Session, msg datatypes.ClientMessage) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	select {
	case h.inbound <- inbound{session: s, msg: msg}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// Coordinator internals
// =============================================================================

func (h *Hub) handle(s *Session, msg datatypes.ClientMessage) {
	// Messages queued before a disconnect are dropped.
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}

	switch m := msg.(type) {
	case datatypes.PingRequest:
		h.enqueue(s, datatypes.NewPongMessage(len(h.sessions)))
	case datatypes.HistoryRequest:
		h.handleHistory(s)
	case datatypes.PaintRequest:
		h.handlePaint(s, m)
	default:
		slog.Debug("ignoring unknown message", "session_id", s.ID, "type", msg.MessageType())
	}
}

func (h *Hub) handlePaint(s *Session, req datatypes.PaintRequest) {
	x, y := req.Coords()
	now := h.cfg.Clock().UnixMilli()

	decision := h.gate.Evaluate(s.tracker, abuse.Attempt{
		Timestamp: now,
		X:         x,
		Y:         y,
		Color:     req.Color,
	})

	switch decision.Verdict {
	case abuse.VerdictBot:
		h.cfg.Metrics.RecordPaint(observability.PaintBot)
		slog.Debug("dropping bot-like paint", "session_id", s.ID, "reason", decision.Reason)
		return

	case abuse.VerdictRateLimited:
		h.cfg.Metrics.RecordPaint(observability.PaintRateLimited)
		h.enqueue(s, datatypes.NewRateLimitMessage(decision.Wait))
		return
	}

	change, err := h.board.Paint(x, y, req.Color, now)
	if err != nil {
		h.cfg.Metrics.RecordPaint(observability.PaintInvalid)
		slog.Debug("dropping invalid paint", "session_id", s.ID, "error", err)
		return
	}
	h.cfg.Metrics.RecordPaint(observability.PaintAccepted)
	h.cfg.Metrics.SetHistoryTotalChanges(h.board.Stats().TotalChanges)

	h.broadcast(datatypes.NewUpdateMessage(change))
}

// handleHistory starts encoding a history_response for s on a worker.
func (h *Hub) handleHistory(s *Session) {
	if s.historyPending {
		slog.Debug("history request already in flight, dropping", "session_id", s.ID)
		return
	}
	s.historyPending = true

	snapshot := h.board.History()
	go func() {
		data, err := h.history.encode(snapshot)
		select {
		case h.replies <- historyReply{session: s, data: data, err: err}:
		case <-h.done:
		}
	}()
}

func (h *Hub) handleHistoryReply(r historyReply) {
	r.session.historyPending = false
	if _, ok := h.sessions[r.session.ID]; !ok {
		return
	}
	if r.err != nil {
		slog.Error("failed to encode history", "session_id", r.session.ID, "error", r.err)
		return
	}
	h.deliver(r.session, r.data)
}

// broadcast sends v to every registered session without blocking.
func (h *Hub) broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode broadcast", "error", err)
		return
	}
	for _, s := range h.sessions {
		h.deliver(s, data)
	}
}

// enqueue sends v to a single session without blocking.
func (h *Hub) enqueue(s *Session, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode message", "session_id", s.ID, "error", err)
		return
	}
	h.deliver(s, data)
}

func (h *Hub) deliver(s *Session, data []byte) {
	size := int64(len(data))
	if queued := s.queued.Load(); queued > 0 && queued+size > h.cfg.MaxQueueBytes {
		h.dropSlow(s, "queued_bytes", queued)
		return
	}

	s.queued.Add(size)
	select {
	case s.send <- data:
	default:
		s.queued.Add(-size)
		h.dropSlow(s, "queued_frames", int64(len(s.send)))
	}
}

func (h *Hub) dropSlow(s *Session, limit string, queued int64) {
	slog.Warn("dropping slow session", "session_id", s.ID, "limit", limit, "queued", queued)
	h.cfg.Metrics.RecordBroadcastDrop()
	h.remove(s)
}

func (h *Hub) remove(s *Session) {
	delete(h.sessions, s.ID)
	close(s.send)
	h.updateClientCount()
}

func (h *Hub) updateClientCount() {
	h.clients.Store(int64(len(h.sessions)))
	h.cfg.Metrics.SetActiveSessions(len(h.sessions))
}
