// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers adapts the canvas core to HTTP and WebSocket.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/datatypes"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/hub"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/observability"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// SessionHub is the part of the hub the transport needs.
type SessionHub interface {
	Connect(ctx context.Context) (*hub.Session, error)
	Disconnect(s *hub.Session)
	Submit(ctx context.Context, s *hub.Session, msg datatypes.ClientMessage) error
	Clients() int
}

// =============================================================================
// Configuration
// =============================================================================

// WebSocketConfig holds per-connection transport limits.
//
// # Fields
//
//   - MaxMessageBytes: Largest inbound frame. Larger frames close the connection.
//   - PingInterval: How often the server pings. Must be below PongWait.
//   - PongWait: Read deadline, refreshed by every pong.
//   - WriteWait: Deadline for a single write.
//   - FrameRate, FrameBurst: Inbound frame flood guard. Exceeding it closes
//     the connection. Paint pacing is the abuse gate's job, not this one.
//   - Metrics: Optional; counts invalid paints and other dropped frames.
type WebSocketConfig struct {
	MaxMessageBytes int64
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	FrameRate       rate.Limit
	FrameBurst      int
	Metrics         *observability.CanvasMetrics
}

// DefaultWebSocketConfig returns production limits.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		MaxMessageBytes: 4096,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		FrameRate:       100,
		FrameBurst:      200,
	}
}

var upgrader = websocket.Upgrader{
	// Sessions are anonymous; any origin may connect.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
}

// =============================================================================
// Handler
// =============================================================================

// HandleCanvasWebSocket upgrades the request and runs one session.
//
// # Description
//
// One goroutine reads, decodes and submits frames to the hub; another
// drains the session's outbound queue to the socket and keeps the
// connection alive with pings. Frames that fail decoding are dropped
// without a reply. The session is deregistered when either side fails.
func HandleCanvasWebSocket(h SessionHub, decoder datatypes.Decoder, cfg WebSocketConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("failed to upgrade the websocket", "error", err)
			return
		}

		ctx := c.Request.Context()
		session, err := h.Connect(ctx)
		if err != nil {
			slog.Warn("rejecting websocket session", "error", err)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"),
				time.Now().Add(cfg.WriteWait))
			ws.Close()
			return
		}
		slog.Info("websocket session connected",
			"session_id", session.ID, "remote", c.ClientIP(), "clients", h.Clients())

		writerDone := make(chan struct{})
		go writePump(ws, session, cfg, writerDone)

		readPump(ctx, ws, h, session, decoder, cfg)

		h.Disconnect(session)
		<-writerDone
		slog.Info("websocket session disconnected", "session_id", session.ID)
	}
}

// readPump returns when the connection fails, the flood guard trips, or
// the hub stops accepting messages.
func readPump(ctx context.Context, ws *websocket.Conn, h SessionHub, session *hub.Session,
	decoder datatypes.Decoder, cfg WebSocketConfig) {

	ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	limiter := rate.NewLimiter(cfg.FrameRate, cfg.FrameBurst)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read failed", "session_id", session.ID, "error", err)
			}
			return
		}

		if !limiter.Allow() {
			slog.Warn("inbound frame flood, closing session", "session_id", session.ID)
			return
		}

		msg, err := decoder.Decode(raw)
		if err != nil {
			switch {
			case errors.Is(err, datatypes.ErrInvalidPaint):
				cfg.Metrics.RecordPaint(observability.PaintInvalid)
			case errors.Is(err, datatypes.ErrUnknownMessageType):
				cfg.Metrics.RecordFrameDropped(observability.FrameUnknownType)
			default:
				cfg.Metrics.RecordFrameDropped(observability.FrameMalformed)
			}
			slog.Debug("dropping inbound frame", "session_id", session.ID, "error", err)
			continue
		}

		if err := h.Submit(ctx, session, msg); err != nil {
			return
		}
	}
}

// writePump owns all writes to ws. It closes ws on exit.
func writePump(ws *websocket.Conn, session *hub.Session, cfg WebSocketConfig, done chan<- struct{}) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
		close(done)
	}()

	for {
		select {
		case data, ok := <-session.Send():
			_ = ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				// Deregistered by the hub.
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			session.Release(len(data))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("websocket write failed", "session_id", session.ID, "error", err)
				return
			}

		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
