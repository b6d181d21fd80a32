// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FileStore
// =============================================================================

func TestFileStore_Load_MissingIsNotFound(t *testing.T) {
	s := NewFileStore(t.TempDir())
	_, err := s.Load(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_Save_CreatesDirectoryAndRoundTrips(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	s := NewFileStore(dir)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "1-1-2026", []byte(`{"a":1}`)))
	require.NoError(t, s.Save(ctx, "1-1-2026", []byte(`{"a":2}`)))

	got, err := s.Load(ctx, "1-1-2026")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(got))

	assert.Equal(t, filepath.Join(dir, "history-1-1-2026.json"), s.Path("1-1-2026"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "history-1-1-2026.json", entries[0].Name())
}

func TestFileStore_Save_CancelledContext(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Save(ctx, "x", []byte("{}")), context.Canceled)
}

// =============================================================================
// BadgerStore
// =============================================================================

func TestBadgerStore_InMemory_RoundTrip(t *testing.T) {
	s, err := OpenBadgerStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, err = s.Load(ctx, "session")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, "session", []byte("first")))
	require.NoError(t, s.Save(ctx, "session", []byte("second")))
	require.NoError(t, s.Save(ctx, "other", []byte("unrelated")))

	got, err := s.Load(ctx, "session")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
	assert.Equal(t, "badger://:memory:", s.String())
}

func TestBadgerStore_OnDisk_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultBadgerConfig()
	cfg.Path = dir
	cfg.Logger = nil

	s, err := OpenBadgerStore(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "session", []byte("durable")))
	require.NoError(t, s.Close())

	s2, err := OpenBadgerStore(cfg)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load(ctx, "session")
	require.NoError(t, err)
	assert.Equal(t, "durable", string(got))
}

func TestOpenBadgerStore_RequiresPath(t *testing.T) {
	_, err := OpenBadgerStore(BadgerConfig{})
	assert.Error(t, err)
}

// =============================================================================
// Location parsing
// =============================================================================

func TestOpenStore_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	fs, err := OpenStore(ctx, t.TempDir(), StoreOptions{})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, fs)
	require.NoError(t, fs.Close())

	bs, err := OpenStore(ctx, "badger://:memory:", StoreOptions{})
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, bs)
	require.NoError(t, bs.Close())

	dir := t.TempDir()
	ds, err := OpenStore(ctx, "badger://"+dir, StoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, "badger://"+dir, ds.String())
	require.NoError(t, ds.Close())
}

func TestOpenStore_RejectsMalformed(t *testing.T) {
	ctx := context.Background()
	for _, loc := range []string{"", "badger://", "gs://", "gs:///prefix"} {
		t.Run(loc, func(t *testing.T) {
			_, err := OpenStore(ctx, loc, StoreOptions{})
			assert.Error(t, err)
		})
	}
}

func TestOpenStore_GCSMissingKeyFile(t *testing.T) {
	_, err := OpenStore(context.Background(), "gs://bucket/prefix",
		StoreOptions{CredentialsFile: filepath.Join(t.TempDir(), "missing.json")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service account key not found")
}

func TestParseGCSLocation(t *testing.T) {
	cases := []struct {
		in, bucket, prefix string
	}{
		{"gs://canvas", "canvas", ""},
		{"gs://canvas/", "canvas", ""},
		{"gs://canvas/boards", "canvas", "boards"},
		{"gs://canvas/boards/prod/", "canvas", "boards/prod"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			bucket, prefix, err := parseGCSLocation(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.bucket, bucket)
			assert.Equal(t, tc.prefix, prefix)
		})
	}
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "history-s.json", objectName("", "s"))
	assert.Equal(t, "boards/prod/history-s.json", objectName("boards/prod", "s"))
}
