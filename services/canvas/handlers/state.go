// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/board"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/datatypes"
	"github.com/gin-gonic/gin"
)

// ClientCounter reports the number of connected sessions.
type ClientCounter interface {
	Clients() int
}

// HandleGetState serves the full board and history as read-only JSON.
func HandleGetState(b *board.Board) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, history := b.Snapshot()
		c.JSON(http.StatusOK, datatypes.StateResponse{
			Width:    state.Width,
			Height:   state.Height,
			Board:    state.Grid,
			Segments: history.Segments,
			Stats:    history.Stats,
		})
	}
}

// HandleGetStats serves the history summary and client count.
func HandleGetStats(b *board.Board, clients ClientCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.StatsResponse{
			Clients: clients.Clients(),
			Stats:   b.Stats(),
		})
	}
}

// HealthCheck reports liveness.
func HealthCheck(clients ClientCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": clients.Clients()})
	}
}
