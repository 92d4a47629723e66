// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the panel workspace to SQLite.
//
// The whole workspace (panel order, selected models, generation settings,
// drafts and histories) is written in one transaction, so a crash leaves
// either the previous or the new workspace on disk.
//
// # Key Types
//
//   - DB: SQLite handle with SaveWorkspace and LoadWorkspace
//   - Workspace: Serializable panel set plus the sync mode flag
//   - Autosaver: Saves the live panel store after changes settle
//
// # Usage
//
//	db, err := storage.Open(cfg.Storage.Path)
//	ws, err := db.LoadWorkspace(ctx)
//	if err == nil {
//	    store.Restore(ws.Panels)
//	}
//
//	saver := storage.NewAutosaver(db, store, cfg.AutosaveDebounce(), logger)
//	go saver.Run(ctx)
package storage
