// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/board"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// fakeStore is an in-memory Store with injectable failures and latency.
type fakeStore struct {
	mu      sync.Mutex
	records map[string][]byte
	saveErr error
	delay   time.Duration
	saves   atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string][]byte)}
}

func (f *fakeStore) Load(_ context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.records[name]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (f *fakeStore) Save(ctx context.Context, name string, data []byte) error {
	f.saves.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.records[name] = append([]byte(nil), data...)
	return nil
}

func (f *fakeStore) Close() error   { return nil }
func (f *fakeStore) String() string { return "fake" }

func (f *fakeStore) put(name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[name] = data
}

func testConfig() Config {
	return Config{
		SessionName:  "test-session",
		Width:        4,
		Height:       3,
		DefaultColor: "#FFFFFF",
		Clock:        func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	}
}

func paintN(t *testing.T, b *board.Board, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := b.Paint(i%b.Width(), (i/b.Width())%b.Height(), "#00ff00", int64(i))
		require.NoError(t, err)
	}
}

// =============================================================================
// InitializeBoard
// =============================================================================

func TestService_InitializeBoard_FreshWhenNothingStored(t *testing.T) {
	svc := NewService(newFakeStore(), testConfig())

	b, err := svc.InitializeBoard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, b.Width())
	assert.Equal(t, 3, b.Height())
	assert.Equal(t, 0, b.Stats().TotalChanges)
	assert.Equal(t, 1, b.Stats().SegmentCount)
}

func TestService_SaveThenInitialize_RestoresBoard(t *testing.T) {
	store := newFakeStore()
	cfg := testConfig()
	cfg.SnapshotInterval = 5
	ctx := context.Background()

	svc := NewService(store, cfg)
	b, err := svc.InitializeBoard(ctx)
	require.NoError(t, err)
	paintN(t, b, 13)
	require.NoError(t, svc.Save(ctx, b))

	restored, err := NewService(store, cfg).InitializeBoard(ctx)
	require.NoError(t, err)
	assert.True(t, b.State().Grid.Equal(restored.State().Grid))
	assert.Equal(t, 13, restored.Stats().TotalChanges)
	assert.Equal(t, 3, restored.Stats().SegmentCount)
}

func TestService_Save_WritesDocumentedLayout(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, testConfig())
	ctx := context.Background()

	b, err := svc.InitializeBoard(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Save(ctx, b))

	raw, err := store.Load(ctx, "test-session")
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.JSONEq(t, `"test-session"`, string(doc["sessionName"]))
	assert.JSONEq(t, `1700000000000`, string(doc["savedAt"]))
	assert.JSONEq(t, `0`, string(doc["totalChanges"]))

	var segments []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc["segments"], &segments))
	require.Len(t, segments, 1)
	assert.JSONEq(t, `[]`, string(segments[0]["changes"]))
	assert.Contains(t, segments[0], "snapshot")
	assert.Contains(t, segments[0], "index")
	assert.Contains(t, segments[0], "timestamp")
}

func TestService_InitializeBoard_CorruptFailsByDefault(t *testing.T) {
	cases := map[string]string{
		"invalid json":    `{"segments":`,
		"no segments":     `{"sessionName":"x","totalChanges":0,"segments":[]}`,
		"ragged snapshot": `{"totalChanges":0,"segments":[{"index":0,"timestamp":0,"snapshot":[["#FFFFFF"],[]],"changes":[]}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			store := newFakeStore()
			store.put("test-session", []byte(doc))

			_, err := NewService(store, testConfig()).InitializeBoard(context.Background())
			assert.ErrorIs(t, err, ErrCorruptPersistedState)
		})
	}
}

func TestService_InitializeBoard_RestoreFailureKeepsCause(t *testing.T) {
	store := newFakeStore()
	store.put("test-session", []byte(`{"totalChanges":0,"segments":[]}`))

	_, err := NewService(store, testConfig()).InitializeBoard(context.Background())
	assert.ErrorIs(t, err, ErrCorruptPersistedState)
	assert.ErrorIs(t, err, board.ErrCorruptHistory)
}

func TestService_InitializeBoard_CorruptFreshStartsOver(t *testing.T) {
	store := newFakeStore()
	store.put("test-session", []byte(`not json`))
	cfg := testConfig()
	cfg.OnCorrupt = CorruptFresh

	b, err := NewService(store, cfg).InitializeBoard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, b.Width())
	assert.Equal(t, 0, b.Stats().TotalChanges)
}

func TestService_InitializeBoard_StoreErrorIsNotCorruption(t *testing.T) {
	boom := errors.New("disk on fire")
	store := &erroringLoadStore{fakeStore: newFakeStore(), err: boom}
	cfg := testConfig()
	cfg.OnCorrupt = CorruptFresh

	_, err := NewService(store, cfg).InitializeBoard(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrCorruptPersistedState)
}

type erroringLoadStore struct {
	*fakeStore
	err error
}

func (s *erroringLoadStore) Load(context.Context, string) ([]byte, error) { return nil, s.err }

func TestService_InitializeBoard_PersistedGeometryWins(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	small := testConfig()
	svc := NewService(store, small)
	b, err := svc.InitializeBoard(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Save(ctx, b))

	big := testConfig()
	big.Width, big.Height = 64, 64
	restored, err := NewService(store, big).InitializeBoard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, restored.Width())
	assert.Equal(t, 3, restored.Height())
}

// =============================================================================
// Save
// =============================================================================

func TestService_Save_FailureIsReportedNotFatal(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("disk full")
	cfg := testConfig()
	cfg.Metrics = observability.NewCanvasMetrics(prometheus.NewRegistry())
	svc := NewService(store, cfg)
	ctx := context.Background()

	b, err := svc.InitializeBoard(ctx)
	require.NoError(t, err)

	err = svc.Save(ctx, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, float64(1), testutil.ToFloat64(cfg.Metrics.SavesTotal.WithLabelValues(observability.SaveError)))

	// Board stays usable and the next save succeeds.
	paintN(t, b, 1)
	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()
	require.NoError(t, svc.Save(ctx, b))
	assert.Equal(t, float64(1), testutil.ToFloat64(cfg.Metrics.SavesTotal.WithLabelValues(observability.SaveSuccess)))
}

func TestService_SaveIfChanged_SkipsUnchanged(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, testConfig())
	ctx := context.Background()

	b, err := svc.InitializeBoard(ctx)
	require.NoError(t, err)

	saved, err := svc.SaveIfChanged(ctx, b)
	require.NoError(t, err)
	assert.True(t, saved, "first save always writes")

	saved, err = svc.SaveIfChanged(ctx, b)
	require.NoError(t, err)
	assert.False(t, saved)

	paintN(t, b, 2)
	saved, err = svc.SaveIfChanged(ctx, b)
	require.NoError(t, err)
	assert.True(t, saved)
	assert.Equal(t, int32(2), store.saves.Load())
}

func TestService_SaveIfChanged_RestoredBoardIsClean(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	svc := NewService(store, testConfig())
	b, err := svc.InitializeBoard(ctx)
	require.NoError(t, err)
	paintN(t, b, 3)
	require.NoError(t, svc.Save(ctx, b))

	svc2 := NewService(store, testConfig())
	b2, err := svc2.InitializeBoard(ctx)
	require.NoError(t, err)
	saved, err := svc2.SaveIfChanged(ctx, b2)
	require.NoError(t, err)
	assert.False(t, saved)
}

func TestService_Save_ConcurrentCallsCoverLatestState(t *testing.T) {
	store := newFakeStore()
	store.delay = 20 * time.Millisecond
	svc := NewService(store, testConfig())
	ctx := context.Background()

	b, err := svc.InitializeBoard(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Save(ctx, b))
		}()
	}
	paintN(t, b, 4)
	require.NoError(t, svc.Save(ctx, b))
	wg.Wait()

	p, err := svc.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 4, p.TotalChanges)
}

// =============================================================================
// Autosave / Shutdown
// =============================================================================

func TestService_RunAutosave_SavesOnInterval(t *testing.T) {
	store := newFakeStore()
	cfg := testConfig()
	cfg.AutosaveInterval = 10 * time.Millisecond
	svc := NewService(store, cfg)

	b, err := svc.InitializeBoard(context.Background())
	require.NoError(t, err)
	paintN(t, b, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunAutosave(ctx, b) }()

	require.Eventually(t, func() bool {
		p, err := svc.Load(context.Background())
		return err == nil && p != nil && p.TotalChanges == 5
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("autosave did not stop")
	}
}

func TestService_SaveOnShutdown_CompletesAfterCancel(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, testConfig())

	b, err := svc.InitializeBoard(context.Background())
	require.NoError(t, err)
	paintN(t, b, 7)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, svc.SaveOnShutdown(ctx, b))
	p, err := svc.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, p.TotalChanges)
}

func TestService_SaveOnShutdown_IsBounded(t *testing.T) {
	store := newFakeStore()
	store.delay = time.Minute
	cfg := testConfig()
	cfg.ShutdownTimeout = 30 * time.Millisecond
	svc := NewService(store, cfg)

	b, err := svc.InitializeBoard(context.Background())
	require.NoError(t, err)

	start := time.Now()
	err = svc.SaveOnShutdown(context.Background(), b)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// =============================================================================
// Inspect
// =============================================================================

func TestService_Inspect(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, testConfig())
	ctx := context.Background()

	summary, err := svc.Inspect(ctx)
	require.NoError(t, err)
	assert.False(t, summary.Found)
	assert.Equal(t, "fake", summary.Store)

	b, err := svc.InitializeBoard(ctx)
	require.NoError(t, err)
	paintN(t, b, 3)
	require.NoError(t, svc.Save(ctx, b))

	summary, err = svc.Inspect(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Found)
	assert.Equal(t, 3, summary.TotalChanges)
	assert.Equal(t, 1, summary.SegmentCount)
	assert.Equal(t, 4, summary.Width)
	assert.Equal(t, 3, summary.Height)
	assert.Equal(t, int64(1_700_000_000_000), summary.SavedAt)
}

func TestService_WithFileStore_EndToEnd(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	svc := NewService(store, testConfig())
	b, err := svc.InitializeBoard(ctx)
	require.NoError(t, err)
	_, err = b.Paint(3, 2, "abcdef", 42)
	require.NoError(t, err)
	require.NoError(t, svc.SaveOnShutdown(ctx, b))

	restored, err := NewService(store, testConfig()).InitializeBoard(ctx)
	require.NoError(t, err)
	got, err := restored.Pixel(3, 2)
	require.NoError(t, err)
	assert.Equal(t, board.Color("#ABCDEF"), got)
}
