// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/imajinxai/llm-arena/internal/panel"
)

// DefaultMaxWaitFactor bounds how long a steady stream of changes can delay
// a save, as a multiple of the debounce.
const DefaultMaxWaitFactor = 8

// saver is the subset of DB the autosaver needs.
type saver interface {
	SaveWorkspace(ctx context.Context, ws Workspace) error
}

// Autosaver writes the panel store to disk once changes settle.
// While a response is streaming the store changes every flush interval, so a
// save is forced after the max wait even if changes keep coming.
type Autosaver struct {
	db       saver
	store    *panel.Store
	debounce time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
	changes  <-chan panel.Change

	mu    sync.Mutex
	saves int
	last  error
}

// NewAutosaver creates an autosaver for store and subscribes to it right
// away, so no change made before Run starts is missed. Run must be called
// to release the subscription.
func NewAutosaver(db *DB, store *panel.Store, debounce time.Duration, logger *slog.Logger) *Autosaver {
	return newAutosaver(db, store, debounce, logger)
}

func newAutosaver(db saver, store *panel.Store, debounce time.Duration, logger *slog.Logger) *Autosaver {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = time.Millisecond
	}
	return &Autosaver{
		db:       db,
		store:    store,
		debounce: debounce,
		maxWait:  debounce * DefaultMaxWaitFactor,
		logger:   logger.With("component", "autosave"),
		changes:  store.Subscribe(panel.DefaultBufferSize),
	}
}

// Run saves after each quiet period until ctx is done, then performs one
// final save if changes are pending.
func (a *Autosaver) Run(ctx context.Context) {
	changes := a.changes
	defer a.store.Unsubscribe(changes)

	var (
		timer     *time.Timer
		timerC    <-chan time.Time
		firstSeen time.Time
	)
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerC = nil, nil
		firstSeen = time.Time{}
	}

	for {
		select {
		case <-ctx.Done():
			if timerC != nil {
				stop()
				a.Flush(context.Background())
			}
			return

		case _, ok := <-changes:
			if !ok {
				return
			}
			now := time.Now()
			if firstSeen.IsZero() {
				firstSeen = now
			}
			wait := a.debounce
			if remaining := a.maxWait - now.Sub(firstSeen); remaining < wait {
				wait = max(remaining, 0)
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(wait)
			timerC = timer.C

		case <-timerC:
			stop()
			a.Flush(ctx)
		}
	}
}

// Flush saves the current snapshot immediately.
func (a *Autosaver) Flush(ctx context.Context) error {
	ws := Workspace{
		Panels:   a.store.Snapshot(),
		SyncMode: a.store.SyncMode(),
		SavedAt:  time.Now(),
	}
	err := a.db.SaveWorkspace(ctx, ws)

	a.mu.Lock()
	a.last = err
	if err == nil {
		a.saves++
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.Warn("workspace save failed", "error", err)
	} else {
		a.logger.Debug("workspace saved", "panels", len(ws.Panels))
	}
	return err
}

// Restore loads the saved workspace into store. It reports false, with no
// error, when nothing has been saved yet.
func Restore(ctx context.Context, db *DB, store *panel.Store) (bool, error) {
	ws, err := db.LoadWorkspace(ctx)
	if errors.Is(err, ErrNoWorkspace) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := store.Restore(ws.Panels); err != nil {
		return false, err
	}
	store.SetSyncMode(ws.SyncMode)
	return true, nil
}

// Saves returns the number of successful saves.
func (a *Autosaver) Saves() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saves
}

// LastError returns the error from the most recent save, if any.
func (a *Autosaver) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
