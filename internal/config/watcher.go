// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/imajinxai/llm-arena/internal/cloud"
)

// DefaultReloadDebounce coalesces the burst of events editors emit on save.
const DefaultReloadDebounce = 200 * time.Millisecond

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// Watcher keeps a live Config in sync with its file on disk.
// It implements cloud.CredentialSource so a changed key or base URL takes
// effect on the next request without a restart.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	current atomic.Pointer[Config]
	fsw     *fsnotify.Watcher

	mu        sync.Mutex
	timer     *time.Timer
	listeners []func(*Config)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher starts watching path. initial is served until the first reload.
// The parent directory is watched so editors that replace the file by rename
// are still seen.
func NewWatcher(path string, initial *Config, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     filepath.Clean(path),
		debounce: DefaultReloadDebounce,
		logger:   logger.With("component", "config-watcher"),
		fsw:      fsw,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if initial == nil {
		initial = Default()
	}
	w.current.Store(initial)

	go w.processEvents(ctx)
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Credentials implements cloud.CredentialSource.
func (w *Watcher) Credentials() cloud.Credentials {
	return w.current.Load().Credentials()
}

// SetDebounce changes the quiet period before a reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Close stops watching. Safe to call more than once.
func (w *Watcher) Close() error {
	w.cancel()
	<-w.done

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return nil
}

// processEvents filters directory events down to the watched file.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

// reload keeps the previous config when the file is missing or invalid.
func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous", "path", w.path, "error", err)
		return
	}
	SetGlobal(cfg)
	w.current.Store(cfg)
	w.logger.Info("config reloaded", "path", w.path, "key", cfg.Credentials().Fingerprint())

	w.mu.Lock()
	listeners := append([]func(*Config){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}
