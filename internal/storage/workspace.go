// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/imajinxai/llm-arena/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoWorkspace is returned by LoadWorkspace when nothing has been saved.
	ErrNoWorkspace = errors.New("no saved workspace")

	// ErrDatabaseError wraps driver failures.
	ErrDatabaseError = errors.New("workspace database error")
)

// =============================================================================
// TYPES
// =============================================================================

// Workspace is everything needed to restore the panel set.
type Workspace struct {
	Panels   []model.Panel `json:"panels"`
	SyncMode bool          `json:"sync_mode"`
	SavedAt  time.Time     `json:"saved_at"`
}

// DB is the SQLite-backed workspace store.
type DB struct {
	db   *sql.DB
	path string
}

// =============================================================================
// OPEN / CLOSE
// =============================================================================

// Open opens (creating if needed) the workspace database at path.
// ":memory:" opens a private in-memory database.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, and an in-memory database
	// lives and dies with its single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	if path != ":memory:" {
		// SECURITY: the workspace holds full conversation histories.
		_ = os.Chmod(path, 0600)
	}

	return &DB{db: db, path: path}, nil
}

// Path returns the database location.
func (d *DB) Path() string { return d.path }

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// =============================================================================
// SAVE
// =============================================================================

// SaveWorkspace replaces the stored workspace with ws in one transaction.
// Generating flags are not stored; a restored panel is always idle.
func (d *DB) SaveWorkspace(ctx context.Context, ws Workspace) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages"); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM panels"); err != nil {
		return fmt.Errorf("failed to clear panels: %w", err)
	}

	panelStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO panels (id, position, model_json, config_json, input) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer panelStmt.Close()

	msgStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (id, panel_id, position, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer msgStmt.Close()

	for i, p := range ws.Panels {
		var modelJSON sql.NullString
		if p.Model != nil {
			data, err := json.Marshal(p.Model)
			if err != nil {
				return fmt.Errorf("failed to encode model for %s: %w", p.ID, err)
			}
			modelJSON = sql.NullString{String: string(data), Valid: true}
		}
		configJSON, err := json.Marshal(p.Config)
		if err != nil {
			return fmt.Errorf("failed to encode config for %s: %w", p.ID, err)
		}

		if _, err := panelStmt.ExecContext(ctx, p.ID, i, modelJSON, string(configJSON), p.Input); err != nil {
			return fmt.Errorf("failed to save panel %s: %w", p.ID, err)
		}

		for j, m := range p.Messages {
			if _, err := msgStmt.ExecContext(ctx, m.ID, p.ID, j, string(m.Role), m.Content, m.CreatedAt.UnixMilli()); err != nil {
				return fmt.Errorf("failed to save message %s: %w", m.ID, err)
			}
		}
	}

	savedAt := ws.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, "UPDATE metadata SET value = ? WHERE key = 'sync_mode'", strconv.FormatBool(ws.SyncMode)); err != nil {
		return fmt.Errorf("failed to save sync mode: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE metadata SET value = ? WHERE key = 'saved_at'", strconv.FormatInt(savedAt.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("failed to save timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// =============================================================================
// LOAD
// =============================================================================

// LoadWorkspace reads the stored workspace. Returns ErrNoWorkspace when no
// panels have been saved.
func (d *DB) LoadWorkspace(ctx context.Context) (Workspace, error) {
	var ws Workspace

	rows, err := d.db.QueryContext(ctx,
		"SELECT id, model_json, config_json, input FROM panels ORDER BY position")
	if err != nil {
		return ws, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	index := make(map[string]int)
	for rows.Next() {
		var (
			p          model.Panel
			modelJSON  sql.NullString
			configJSON string
		)
		if err := rows.Scan(&p.ID, &modelJSON, &configJSON, &p.Input); err != nil {
			rows.Close()
			return ws, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		if modelJSON.Valid {
			var ref model.ModelRef
			if err := json.Unmarshal([]byte(modelJSON.String), &ref); err != nil {
				rows.Close()
				return ws, fmt.Errorf("corrupt model for panel %s: %w", p.ID, err)
			}
			p.Model = &ref
		}
		p.Config = model.DefaultGenerationConfig()
		if err := json.Unmarshal([]byte(configJSON), &p.Config); err != nil {
			rows.Close()
			return ws, fmt.Errorf("corrupt config for panel %s: %w", p.ID, err)
		}
		p.Messages = []model.Message{}
		index[p.ID] = len(ws.Panels)
		ws.Panels = append(ws.Panels, p)
	}
	if err := rows.Close(); err != nil {
		return ws, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if len(ws.Panels) == 0 {
		return ws, ErrNoWorkspace
	}

	msgRows, err := d.db.QueryContext(ctx,
		"SELECT id, panel_id, role, content, created_at FROM messages ORDER BY panel_id, position")
	if err != nil {
		return ws, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer msgRows.Close()
	for msgRows.Next() {
		var (
			m       model.Message
			panelID string
			role    string
			created int64
		)
		if err := msgRows.Scan(&m.ID, &panelID, &role, &m.Content, &created); err != nil {
			return ws, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		m.Role = model.Role(role)
		m.CreatedAt = time.UnixMilli(created)
		if i, ok := index[panelID]; ok {
			ws.Panels[i].Messages = append(ws.Panels[i].Messages, m)
		}
	}
	if err := msgRows.Err(); err != nil {
		return ws, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	meta, err := d.metadata(ctx)
	if err != nil {
		return ws, err
	}
	ws.SyncMode, _ = strconv.ParseBool(meta["sync_mode"])
	if ms, err := strconv.ParseInt(meta["saved_at"], 10, 64); err == nil && ms > 0 {
		ws.SavedAt = time.UnixMilli(ms)
	}
	return ws, nil
}

func (d *DB) metadata(ctx context.Context) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT key, value FROM metadata")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}
