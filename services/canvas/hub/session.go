// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hub

import (
	"sync/atomic"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/abuse"
	"github.com/google/uuid"
)

// Session is one connected viewer as seen by the hub.
//
// # Description
//
// The transport reads encoded frames from Send() and writes them to the
// wire. When the hub deregisters the session (disconnect, overflow, or hub
// shutdown) it closes the channel; the transport should then close the
// connection.
//
// # Thread Safety
//
// The send channel is closed only by the hub coordinator. The tracker and
// historyPending are touched only by the coordinator. Release may be called
// from any goroutine.
type Session struct {
	ID uuid.UUID

	send   chan []byte
	queued atomic.Int64 // bytes handed to send and not yet released

	tracker        *abuse.Tracker
	historyPending bool
}

func newSession(queueSize int) *Session {
	return &Session{
		ID:      uuid.New(),
		send:    make(chan []byte, queueSize),
		tracker: abuse.NewTracker(),
	}
}

// Send returns the outbound frame queue. It is closed on deregistration.
func (s *Session) Send() <-chan []byte {
	return s.send
}

// Release returns n bytes of queue budget. The transport calls it with the
// length of each frame it takes from Send().
func (s *Session) Release(n int) {
	s.queued.Add(-int64(n))
}

// Queued returns the bytes currently buffered for the session.
func (s *Session) Queued() int64 {
	return s.queued.Load()
}
