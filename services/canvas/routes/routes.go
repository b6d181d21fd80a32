// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/AleutianCanvas/services/canvas/board"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/datatypes"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/handlers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the components the routes are wired to.
type Dependencies struct {
	Board     *board.Board
	Hub       handlers.SessionHub
	WebSocket handlers.WebSocketConfig
	Gatherer  prometheus.Gatherer
}

// SetupRoutes registers every endpoint on router.
//
// The WebSocket session is served on both / and /ws.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	decoder := datatypes.Decoder{Width: deps.Board.Width(), Height: deps.Board.Height()}
	ws := handlers.HandleCanvasWebSocket(deps.Hub, decoder, deps.WebSocket)

	router.GET("/", ws)
	router.GET("/ws", ws)
	router.GET("/health", handlers.HealthCheck(deps.Hub))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.GET("/state", handlers.HandleGetState(deps.Board))
		v1.GET("/stats", handlers.HandleGetStats(deps.Board, deps.Hub))
	}
}
