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
	"encoding/json"
	"strconv"
	"sync"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/board"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/datatypes"
	"golang.org/x/sync/singleflight"
)

// historyEncoder encodes history_response frames off the coordinator.
//
// # Description
//
// History is append-only, so TotalChanges identifies its content. The last
// encoding is kept and reused until the board changes, and concurrent
// requests for the same revision share one json.Marshal.
//
// # Thread Safety
//
// Safe for concurrent use. Returned slices are shared and must not be
// modified.
type historyEncoder struct {
	group singleflight.Group

	mu    sync.Mutex
	total int
	data  []byte
}

type historyReply struct {
	session *Session
	data    []byte
	err     error
}

func (e *historyEncoder) encode(h board.History) ([]byte, error) {
	if data := e.cached(h.TotalChanges); data != nil {
		return data, nil
	}

	v, err, _ := e.group.Do(strconv.Itoa(h.TotalChanges), func() (any, error) {
		data, err := json.Marshal(datatypes.NewHistoryResponse(h))
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		if e.data == nil || h.TotalChanges >= e.total {
			e.total, e.data = h.TotalChanges, data
		}
		e.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (e *historyEncoder) cached(total int) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.data != nil && e.total == total {
		return e.data
	}
	return nil
}
