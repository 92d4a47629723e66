// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/imajinxai/llm-arena/internal/broadcast"
	"github.com/imajinxai/llm-arena/internal/catalog"
	"github.com/imajinxai/llm-arena/internal/cli"
	"github.com/imajinxai/llm-arena/internal/cloud"
	"github.com/imajinxai/llm-arena/internal/config"
	"github.com/imajinxai/llm-arena/internal/dispatch"
	"github.com/imajinxai/llm-arena/internal/logging"
	"github.com/imajinxai/llm-arena/internal/panel"
	"github.com/imajinxai/llm-arena/internal/storage"
	"github.com/imajinxai/llm-arena/internal/stream"
)

// mode selects how much of the engine a command needs.
type mode int

const (
	modeModels mode = iota // catalog only
	modeChat
	modeServe
	modeTUI
)

// shutdownTimeout bounds how long Close waits for in-flight requests.
const shutdownTimeout = 5 * time.Second

// app holds the engine shared by every interactive command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	watcher   *config.Watcher

	client     *cloud.Client
	catalog    *catalog.Catalog
	store      *panel.Store
	dispatcher *dispatch.Dispatcher
	coord      *broadcast.Coordinator

	db           *storage.DB
	stopAutosave context.CancelFunc
	autosaveDone chan struct{}
	closeOnce    sync.Once
}

// newApp loads configuration and wires the engine for m.
func newApp(ctx context.Context, args cli.Args, m mode) (*app, error) {
	cfg, path, err := loadConfig(args)
	if err != nil {
		return nil, err
	}
	config.SetGlobal(cfg)

	a := &app{cfg: cfg}
	a.logger, a.logCloser = openLogger(cfg, m)

	// The watcher makes key changes from "arena config set-key" visible to
	// a running workspace without a restart.
	var creds cloud.CredentialSource = cloud.StaticCredentials(cfg.Credentials())
	if m != modeModels && path != "" && ensureDir(filepath.Dir(path)) {
		w, err := config.NewWatcher(path, cfg, a.logger)
		if err != nil {
			a.logger.Warn("config hot reload disabled", "path", path, "error", err)
		} else {
			a.watcher = w
			w.OnChange(func(next *config.Config) {
				config.SetGlobal(next)
				a.logger.Info("configuration reloaded", "path", path, "api_key_set", next.Credentials().Configured())
			})
			creds = w
		}
	}

	a.client = cloud.NewClient().
		WithHeaderTimeout(cfg.RequestTimeout()).
		WithExtendedSampling(cfg.API.ExtendedSampling).
		WithLogger(a.logger)
	a.catalog = catalog.New(a.client, creds, a.logger)
	if m == modeModels {
		return a, nil
	}

	a.store = panel.NewStore()
	a.store.SetSyncMode(cfg.UI.SyncMode)
	asm := stream.NewAssembler(
		stream.WithFlushInterval(cfg.FlushInterval()),
		stream.WithMaxLineBytes(cfg.Stream.MaxFrameBytes),
		stream.WithLogger(a.logger),
	)
	a.dispatcher = dispatch.New(a.store, a.client, creds,
		dispatch.WithAssembler(asm),
		dispatch.WithLogger(a.logger),
	)
	a.coord = broadcast.New(a.store, a.dispatcher, a.logger)

	if cfg.Storage.Enabled {
		if err := a.openStorage(ctx, args.NoRestore); err != nil {
			// RELIABILITY: A broken database costs persistence, not the session.
			a.logger.Error("workspace persistence disabled", "path", cfg.Storage.Path, "error", err)
		}
	}
	return a, nil
}

// loadConfig resolves the config file and applies command line overrides.
func loadConfig(args cli.Args) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if args.ConfigPath != "" {
		path = args.ConfigPath
		cfg, err = config.LoadFromPath(path)
		if err != nil {
			return nil, "", cli.NewCommandError("config", "load", "cannot load "+path, err)
		}
	} else {
		cfg, err = config.Load()
		if cfg == nil {
			return nil, "", cli.NewCommandError("config", "load", "configuration is invalid", err)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s config file ignored: %v\n", cli.WarningStyle.Render("Warning:"), err)
		}
		if path, err = config.ActivePath(); err != nil {
			path = ""
		}
	}

	if lvl := args.EffectiveLogLevel(); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, path, nil
}

// openLogger picks the log destination: log.file when set, otherwise
// stderr. The workspace owns the terminal, so it falls back to
// DefaultLogFile and never writes to stderr.
func openLogger(cfg *config.Config, m mode) (*slog.Logger, io.Closer) {
	path := cfg.Log.File
	if path == "" && m == modeTUI {
		path = config.DefaultLogFile()
	}
	if path != "" {
		logger, closer, err := logging.OpenFile(path, cfg.Log.Level)
		if err == nil {
			return logger, closer
		}
		if m != modeTUI {
			fmt.Fprintf(os.Stderr, "%s logging to stderr: %v\n", cli.WarningStyle.Render("Warning:"), err)
		}
	}
	if m == modeTUI {
		return logging.Discard(), nil
	}
	return logging.New(os.Stderr, cfg.Log.Level), nil
}

func (a *app) openStorage(ctx context.Context, noRestore bool) error {
	db, err := storage.Open(a.cfg.Storage.Path)
	if err != nil {
		return err
	}
	a.db = db

	if !noRestore {
		restored, err := storage.Restore(ctx, db, a.store)
		switch {
		case err != nil:
			a.logger.Warn("previous workspace not restored", "error", err)
		case restored:
			a.logger.Info("workspace restored", "panels", a.store.Len())
		}
	}

	saver := storage.NewAutosaver(db, a.store, a.cfg.AutosaveDebounce(), a.logger)
	saveCtx, cancel := context.WithCancel(context.Background())
	a.stopAutosave = cancel
	a.autosaveDone = make(chan struct{})
	go func() {
		defer close(a.autosaveDone)
		saver.Run(saveCtx)
	}()
	return nil
}

// addInitialModels fills panels with the --model ids, reusing empty panels
// first.
func (a *app) addInitialModels(ctx context.Context, ids []string) error {
	for _, id := range ids {
		ref, err := a.catalog.Find(ctx, id)
		if err != nil {
			return err
		}
		target := ""
		for _, p := range a.store.Snapshot() {
			if !p.HasModel() {
				target = p.ID
				break
			}
		}
		if target == "" {
			target = a.store.Create().ID
		}
		a.store.SetModel(target, ref)
	}
	return nil
}

// Close cancels in-flight requests, writes the final workspace snapshot and
// releases every resource. It is safe to call more than once.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		if a.dispatcher != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.dispatcher.Shutdown(ctx); err != nil {
				a.logger.Warn("requests still running at exit", "error", err)
			}
			cancel()
		}
		if a.stopAutosave != nil {
			a.stopAutosave()
			<-a.autosaveDone
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				a.logger.Warn("close workspace database", "error", err)
			}
		}
		if a.watcher != nil {
			a.watcher.Close()
		}
		if a.logCloser != nil {
			a.logCloser.Close()
		}
	})
}

// ensureDir creates dir owner-only if needed and reports whether it exists.
func ensureDir(dir string) bool {
	return os.MkdirAll(dir, 0700) == nil
}
