// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package persistence loads, autosaves and finally saves the board history.
//
// # Description
//
// The durable record for one session identity is a single JSON document
// (see board.Persisted). Where it lives is decided by a Store, selected from
// the configured storage location:
//
//	/data                 FileStore   /data/history-<session>.json
//	badger:///var/canvas  BadgerStore key history/<session>
//	badger://:memory:     BadgerStore in memory (tests, ephemeral runs)
//	gs://bucket/prefix    GCSStore    prefix/history-<session>.json
//
// Saves never run on the live path. Service takes a copy of the history
// under the board's read lock and does the encoding and I/O outside it.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Store.Load when nothing has been saved yet.
	ErrNotFound = errors.New("persisted state not found")

	// ErrCorruptPersistedState is returned when a stored record exists but
	// cannot be decoded or restored.
	ErrCorruptPersistedState = errors.New("corrupt persisted state")
)

// Store is a durable byte store keyed by session name.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the stored record, or ErrNotFound.
	Load(ctx context.Context, sessionName string) ([]byte, error)

	// Save replaces the stored record atomically.
	Save(ctx context.Context, sessionName string, data []byte) error

	// Close releases the store's resources.
	Close() error

	// String describes where records live, for logs.
	String() string
}

// Location prefixes recognized by OpenStore.
const (
	badgerScheme = "badger://"
	gcsScheme    = "gs://"
	memoryPath   = ":memory:"
)

// StoreOptions tunes OpenStore.
//
// # Fields
//
//   - CredentialsFile: Service account key for gs:// locations. Empty uses
//     application default credentials.
type StoreOptions struct {
	CredentialsFile string
}

// OpenStore opens the Store described by location.
//
// # Inputs
//
//   - ctx: Used for cloud client construction.
//   - location: A directory path, badger://<dir>, badger://:memory:, or
//     gs://bucket[/prefix].
//   - opts: Backend options.
//
// # Outputs
//
//   - Store: Caller must Close it.
//   - error: Non-nil if the location is malformed or the backend fails to open.
func OpenStore(ctx context.Context, location string, opts StoreOptions) (Store, error) {
	switch {
	case location == "":
		return nil, errors.New("storage location is required")

	case strings.HasPrefix(location, badgerScheme):
		path := strings.TrimPrefix(location, badgerScheme)
		if path == "" {
			return nil, fmt.Errorf("badger location %q has no path", location)
		}
		cfg := DefaultBadgerConfig()
		if path == memoryPath {
			cfg = InMemoryBadgerConfig()
		} else {
			cfg.Path = path
		}
		return OpenBadgerStore(cfg)

	case strings.HasPrefix(location, gcsScheme):
		bucket, prefix, err := parseGCSLocation(location)
		if err != nil {
			return nil, err
		}
		return NewGCSStore(ctx, bucket, prefix, opts.CredentialsFile)

	default:
		return NewFileStore(location), nil
	}
}

// recordName is the per-session object name shared by file-like stores.
func recordName(sessionName string) string {
	return "history-" + sessionName + ".json"
}
