// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the session protocol exchanged over WebSocket and
// the read-only payloads of the HTTP side channel.
//
// # Description
//
// Every frame is a JSON object with a "type" discriminator. Inbound frames
// decode into one of a closed set of ClientMessage variants and are validated
// against an explicit schema before dispatch. Anything that fails decoding or
// validation is reported as an error the caller is expected to drop silently.
package datatypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/board"
	"github.com/go-playground/validator/v10"
)

// Message type discriminators.
const (
	TypePing    = "ping"
	TypePaint   = "paint"
	TypeHistory = "history"

	TypeInit            = "init"
	TypePong            = "pong"
	TypeUpdate          = "update"
	TypeRateLimit       = "rate_limit"
	TypeHistoryResponse = "history_response"
)

// Decoding errors. All are dropped without a reply.
var (
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrInvalidPaint marks a frame whose type was paint but whose body
	// failed validation. It wraps ErrMalformedMessage.
	ErrInvalidPaint = fmt.Errorf("%w: invalid paint", ErrMalformedMessage)
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// messageValidate is the validator instance for protocol messages.
var messageValidate *validator.Validate

func init() {
	messageValidate = validator.New()
	_ = messageValidate.RegisterValidation("rgbcolor", validateRGBColor)
}

// validateRGBColor accepts 6-digit hex colors with or without a leading '#'.
func validateRGBColor(fl validator.FieldLevel) bool {
	return board.IsValidColor(fl.Field().String())
}

// =============================================================================
// Client -> Server
// =============================================================================

// ClientMessage is one decoded inbound frame.
type ClientMessage interface {
	MessageType() string
}

// PingRequest asks for the current client count.
type PingRequest struct{}

// MessageType implements ClientMessage.
func (PingRequest) MessageType() string { return TypePing }

// HistoryRequest asks for the full segment history.
type HistoryRequest struct{}

// MessageType implements ClientMessage.
func (HistoryRequest) MessageType() string { return TypeHistory }

// PaintRequest asks to set one cell.
//
// # Validation
//
//   - X, Y: required integers, >= 0, and inside the board (checked by Decoder).
//   - Color: required, 6-digit hex with optional '#'.
type PaintRequest struct {
	X     *int   `json:"x" validate:"required,gte=0"`
	Y     *int   `json:"y" validate:"required,gte=0"`
	Color string `json:"color" validate:"required,rgbcolor"`
}

// MessageType implements ClientMessage.
func (PaintRequest) MessageType() string { return TypePaint }

// Coords returns the validated coordinates.
func (p PaintRequest) Coords() (int, int) {
	return *p.X, *p.Y
}

// Decoder turns raw inbound frames into ClientMessages for a board of fixed size.
type Decoder struct {
	Width  int
	Height int
}

type envelope struct {
	Type string `json:"type"`
}

// Decode parses and validates one frame.
//
// # Outputs
//
//   - ClientMessage: PingRequest, PaintRequest or HistoryRequest.
//   - error: ErrMalformedMessage or ErrUnknownMessageType (wrapped). Paint
//     frames that fail validation also match ErrInvalidPaint.
func (d Decoder) Decode(raw []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Type {
	case TypePing:
		return PingRequest{}, nil
	case TypeHistory:
		return HistoryRequest{}, nil
	case TypePaint:
		return d.decodePaint(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}

func (d Decoder) decodePaint(raw []byte) (ClientMessage, error) {
	var req PaintRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPaint, err)
	}
	if err := messageValidate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPaint, err)
	}
	x, y := req.Coords()
	if x >= d.Width || y >= d.Height {
		return nil, fmt.Errorf("%w: (%d,%d) outside %dx%d", ErrInvalidPaint, x, y, d.Width, d.Height)
	}
	return req, nil
}

// =============================================================================
// Server -> Client
// =============================================================================

// InitMessage is sent once per connection, right after registration.
type InitMessage struct {
	Type     string     `json:"type"`
	Width    int        `json:"width"`
	Height   int        `json:"height"`
	Board    board.Grid `json:"board"`
	Cooldown int64      `json:"cooldown"`
}

// NewInitMessage builds the init frame from a board copy and the active cooldown.
func NewInitMessage(state board.State, cooldown time.Duration) InitMessage {
	return InitMessage{
		Type:     TypeInit,
		Width:    state.Width,
		Height:   state.Height,
		Board:    state.Grid,
		Cooldown: ceilMillis(cooldown),
	}
}

// PongMessage answers a ping.
type PongMessage struct {
	Type    string `json:"type"`
	Clients int    `json:"clients"`
}

// NewPongMessage builds a pong frame.
func NewPongMessage(clients int) PongMessage {
	return PongMessage{Type: TypePong, Clients: clients}
}

// UpdateMessage is broadcast to every session for each accepted paint.
type UpdateMessage struct {
	Type  string      `json:"type"`
	X     int         `json:"x"`
	Y     int         `json:"y"`
	Color board.Color `json:"color"`
}

// NewUpdateMessage builds an update frame from an accepted change.
func NewUpdateMessage(ch board.Change) UpdateMessage {
	return UpdateMessage{Type: TypeUpdate, X: ch.X, Y: ch.Y, Color: ch.Color}
}

// RateLimitMessage tells a single session how long to wait.
type RateLimitMessage struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	WaitTime int64  `json:"waitTime"`
}

// NewRateLimitMessage builds a rate-limit frame.
func NewRateLimitMessage(wait time.Duration) RateLimitMessage {
	ms := ceilMillis(wait)
	return RateLimitMessage{
		Type:     TypeRateLimit,
		Message:  fmt.Sprintf("Painting too fast, wait %dms", ms),
		WaitTime: ms,
	}
}

// ceilMillis rounds d up to whole milliseconds so a client never retries
// before the cooldown has actually elapsed.
func ceilMillis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}

// HistoryResponse carries the full history to a single requester.
type HistoryResponse struct {
	Type     string          `json:"type"`
	Segments []board.Segment `json:"segments"`
	Stats    board.Stats     `json:"stats"`
}

// NewHistoryResponse builds a history_response frame.
func NewHistoryResponse(h board.History) HistoryResponse {
	return HistoryResponse{Type: TypeHistoryResponse, Segments: h.Segments, Stats: h.Stats}
}

// =============================================================================
// HTTP side channel
// =============================================================================

// StateResponse is the read-only dump served by GET /v1/state.
type StateResponse struct {
	Width    int             `json:"width"`
	Height   int             `json:"height"`
	Board    board.Grid      `json:"board"`
	Segments []board.Segment `json:"segments"`
	Stats    board.Stats     `json:"stats"`
}

// StatsResponse is served by GET /v1/stats.
type StatsResponse struct {
	Clients int `json:"clients"`
	board.Stats
}
