// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/board"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_Decode_KnownTypes(t *testing.T) {
	d := Decoder{Width: 4, Height: 4}

	msg, err := d.Decode([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.IsType(t, PingRequest{}, msg)

	msg, err = d.Decode([]byte(`{"type":"history"}`))
	require.NoError(t, err)
	assert.IsType(t, HistoryRequest{}, msg)

	msg, err = d.Decode([]byte(`{"type":"paint","x":0,"y":3,"color":"#ff0000"}`))
	require.NoError(t, err)
	paint, ok := msg.(PaintRequest)
	require.True(t, ok)
	x, y := paint.Coords()
	assert.Equal(t, 0, x)
	assert.Equal(t, 3, y)
	assert.Equal(t, "#ff0000", paint.Color)
	assert.Equal(t, TypePaint, paint.MessageType())
}

func TestDecoder_Decode_Malformed(t *testing.T) {
	d := Decoder{Width: 4, Height: 4}

	cases := map[string]string{
		"invalid json":     `{"type":`,
		"not an object":    `[1,2,3]`,
		"negative x":       `{"type":"paint","x":-1,"y":0,"color":"#FFFFFF"}`,
		"x at width":       `{"type":"paint","x":4,"y":0,"color":"#FFFFFF"}`,
		"y at height":      `{"type":"paint","x":0,"y":4,"color":"#FFFFFF"}`,
		"missing x":        `{"type":"paint","y":0,"color":"#FFFFFF"}`,
		"fractional x":     `{"type":"paint","x":1.5,"y":0,"color":"#FFFFFF"}`,
		"string x":         `{"type":"paint","x":"1","y":0,"color":"#FFFFFF"}`,
		"missing color":    `{"type":"paint","x":1,"y":0}`,
		"short color":      `{"type":"paint","x":1,"y":0,"color":"#FFF"}`,
		"non-hex color":    `{"type":"paint","x":1,"y":0,"color":"#GGGGGG"}`,
		"color wrong type": `{"type":"paint","x":1,"y":0,"color":16777215}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			msg, err := d.Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformedMessage)
			assert.Nil(t, msg)
		})
	}
}

func TestDecoder_Decode_OnlyPaintFramesAreInvalidPaints(t *testing.T) {
	d := Decoder{Width: 4, Height: 4}

	for _, raw := range []string{`{"type":`, `[1,2,3]`, `{"type":"ping","x":"junk"}`} {
		_, err := d.Decode([]byte(raw))
		assert.NotErrorIs(t, err, ErrInvalidPaint, raw)
	}

	_, err := d.Decode([]byte(`{"type":"paint","x":9,"y":0,"color":"#FFFFFF"}`))
	assert.ErrorIs(t, err, ErrInvalidPaint)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = d.Decode([]byte(`{"type":"erase"}`))
	assert.NotErrorIs(t, err, ErrInvalidPaint)
}

func TestDecoder_Decode_UnknownType(t *testing.T) {
	d := Decoder{Width: 4, Height: 4}

	for _, raw := range []string{`{"type":"erase"}`, `{}`, `{"type":null}`} {
		_, err := d.Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrUnknownMessageType, raw)
	}
}

func TestServerMessages_WireShape(t *testing.T) {
	state := board.State{Width: 1, Height: 1, Grid: board.Grid{{"#FFFFFF"}}}

	cases := []struct {
		name string
		msg  any
		want string
	}{
		{"init", NewInitMessage(state, 200*time.Millisecond),
			`{"type":"init","width":1,"height":1,"board":[["#FFFFFF"]],"cooldown":200}`},
		{"pong", NewPongMessage(3), `{"type":"pong","clients":3}`},
		{"update", NewUpdateMessage(board.Change{X: 1, Y: 2, Color: "#FF0000", Timestamp: 9}),
			`{"type":"update","x":1,"y":2,"color":"#FF0000"}`},
		{"rate_limit", NewRateLimitMessage(50 * time.Millisecond),
			`{"type":"rate_limit","message":"Painting too fast, wait 50ms","waitTime":50}`},
		{"history_response", NewHistoryResponse(board.History{
			Segments: []board.Segment{{Index: 0, Timestamp: 1, Snapshot: board.Grid{{"#FFFFFF"}}, Changes: []board.Change{}}},
			Stats:    board.Stats{TotalChanges: 0, SegmentCount: 1, SnapshotInterval: 200},
		}), `{"type":"history_response","segments":[{"index":0,"timestamp":1,"snapshot":[["#FFFFFF"]],"changes":[]}],"stats":{"totalChanges":0,"segmentCount":1,"snapshotInterval":200}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(data))
		})
	}
}

func TestNewRateLimitMessage_RoundsWaitUp(t *testing.T) {
	msg := NewRateLimitMessage(500 * time.Microsecond)
	assert.Equal(t, int64(1), msg.WaitTime)
	assert.Equal(t, "Painting too fast, wait 1ms", msg.Message)

	assert.Equal(t, int64(201), NewInitMessage(board.State{}, 200500*time.Microsecond).Cooldown)
	assert.Equal(t, int64(0), NewRateLimitMessage(0).WaitTime)
}

func TestStatsResponse_FlattensStats(t *testing.T) {
	data, err := json.Marshal(StatsResponse{Clients: 2, Stats: board.Stats{TotalChanges: 5, SegmentCount: 1, SnapshotInterval: 200}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"clients":2,"totalChanges":5,"segmentCount":1,"snapshotInterval":200}`, string(data))
}
