// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/panel"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "workspace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func samplePanels() []model.Panel {
	topK := 20
	a := model.NewPanel()
	a.Model = &model.ModelRef{ID: "llama-3.3-70b", Name: "Llama 3.3 70B", Provider: "Meta", ContextWindow: 128000}
	a.Config.Temperature = 0.2
	a.Config.TopK = &topK
	a.Messages = []model.Message{
		model.NewUserMessage("Hi"),
		model.NewAssistantMessage("Hello"),
	}
	a.Input = "draft"
	a.Generating = true

	b := model.NewPanel()
	return []model.Panel{a, b}
}

func TestLoadWorkspace_Empty(t *testing.T) {
	db := openTemp(t)
	_, err := db.LoadWorkspace(context.Background())
	assert.True(t, errors.Is(err, ErrNoWorkspace))
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	panels := samplePanels()

	require.NoError(t, db.SaveWorkspace(ctx, Workspace{Panels: panels, SyncMode: true}))

	ws, err := db.LoadWorkspace(ctx)
	require.NoError(t, err)
	require.Len(t, ws.Panels, 2)
	assert.True(t, ws.SyncMode)
	assert.False(t, ws.SavedAt.IsZero())

	got := ws.Panels[0]
	assert.Equal(t, panels[0].ID, got.ID)
	require.NotNil(t, got.Model)
	assert.Equal(t, "llama-3.3-70b", got.Model.ID)
	assert.Equal(t, 128000, got.Model.ContextWindow)
	assert.Equal(t, 0.2, got.Config.Temperature)
	require.NotNil(t, got.Config.TopK)
	assert.Equal(t, 20, *got.Config.TopK)
	assert.Equal(t, "draft", got.Input)
	assert.False(t, got.Generating, "generating is never persisted")

	require.Len(t, got.Messages, 2)
	assert.Equal(t, model.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "Hi", got.Messages[0].Content)
	assert.Equal(t, panels[0].Messages[1].ID, got.Messages[1].ID)
	assert.WithinDuration(t, panels[0].Messages[0].CreatedAt, got.Messages[0].CreatedAt, time.Millisecond)

	assert.Nil(t, ws.Panels[1].Model)
	assert.NotNil(t, ws.Panels[1].Messages)
	assert.Empty(t, ws.Panels[1].Messages)
}

func TestSaveWorkspace_ReplacesPrevious(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	panels := samplePanels()

	require.NoError(t, db.SaveWorkspace(ctx, Workspace{Panels: panels}))
	require.NoError(t, db.SaveWorkspace(ctx, Workspace{Panels: []model.Panel{panels[1], panels[0]}}))

	ws, err := db.LoadWorkspace(ctx)
	require.NoError(t, err)
	require.Len(t, ws.Panels, 2)
	assert.Equal(t, panels[1].ID, ws.Panels[0].ID, "order follows the latest save")
	assert.Len(t, ws.Panels[1].Messages, 2)
	assert.False(t, ws.SyncMode)
}

func TestOpen_InMemory(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.SaveWorkspace(context.Background(), Workspace{Panels: samplePanels()}))
	ws, err := db.LoadWorkspace(context.Background())
	require.NoError(t, err)
	assert.Len(t, ws.Panels, 2)
}

func TestOpen_FilePermissions(t *testing.T) {
	if os.PathSeparator != '/' {
		t.Skip("permission bits are not meaningful on this platform")
	}
	db := openTemp(t)
	info, err := os.Stat(db.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestRestore(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	store := panel.NewStore()
	ok, err := Restore(ctx, db, store)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len())

	panels := samplePanels()
	require.NoError(t, db.SaveWorkspace(ctx, Workspace{Panels: panels, SyncMode: true}))

	ok, err = Restore(ctx, db, store)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, store.Len())
	assert.True(t, store.SyncMode())
	assert.Empty(t, store.Generating())
}

// =============================================================================
// AUTOSAVE
// =============================================================================

type recordingSaver struct {
	mu    sync.Mutex
	saves []Workspace
	err   error
}

func (r *recordingSaver) SaveWorkspace(_ context.Context, ws Workspace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, ws)
	return r.err
}

func (r *recordingSaver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func (r *recordingSaver) last() Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves[len(r.saves)-1]
}

func TestAutosaver_DebouncesBurst(t *testing.T) {
	rec := &recordingSaver{}
	store := panel.NewStore()
	saver := newAutosaver(rec, store, 40*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		saver.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		store.Create()
	}

	require.Eventually(t, func() bool { return rec.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count(), "a burst produces one save")
	assert.Len(t, rec.last().Panels, 6)
	assert.Equal(t, 1, saver.Saves())
	assert.NoError(t, saver.LastError())

	cancel()
	<-done
}

func TestAutosaver_FlushesPendingOnShutdown(t *testing.T) {
	rec := &recordingSaver{}
	store := panel.NewStore()
	saver := newAutosaver(rec, store, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		saver.Run(ctx)
		close(done)
	}()

	store.SetSyncMode(true)
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	require.Equal(t, 1, rec.count())
	assert.True(t, rec.last().SyncMode)
}

func TestAutosaver_NoChangesNoSave(t *testing.T) {
	rec := &recordingSaver{}
	store := panel.NewStore()
	saver := newAutosaver(rec, store, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		saver.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 0, rec.count())
}

func TestAutosaver_RecordsError(t *testing.T) {
	rec := &recordingSaver{err: errors.New("disk full")}
	saver := newAutosaver(rec, panel.NewStore(), time.Millisecond, nil)

	err := saver.Flush(context.Background())
	assert.EqualError(t, err, "disk full")
	assert.EqualError(t, saver.LastError(), "disk full")
	assert.Equal(t, 0, saver.Saves())
}

func TestAutosaver_RealDatabase(t *testing.T) {
	db := openTemp(t)
	store := panel.NewStore()
	id := store.Snapshot()[0].ID
	store.SetModel(id, model.ModelRef{ID: "qwen-3-32b", Name: "Qwen 3 32B"})

	saver := NewAutosaver(db, store, time.Millisecond, nil)
	require.NoError(t, saver.Flush(context.Background()))

	ws, err := db.LoadWorkspace(context.Background())
	require.NoError(t, err)
	require.Len(t, ws.Panels, 1)
	assert.Equal(t, "qwen-3-32b", ws.Panels[0].Model.ID)
}
