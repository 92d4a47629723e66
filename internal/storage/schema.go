// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// Schema is the SQLite schema for the saved workspace.
const Schema = `
-- Metadata table for schema version and workspace flags
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Panels in display order
CREATE TABLE IF NOT EXISTS panels (
    id TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    model_json TEXT,            -- NULL when no model is selected
    config_json TEXT NOT NULL,
    input TEXT NOT NULL DEFAULT ''
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_panels_position ON panels(position);

-- Messages per panel, in conversation order
CREATE TABLE IF NOT EXISTS messages (
    id TEXT NOT NULL,
    panel_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    role TEXT NOT NULL,         -- user, assistant
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL, -- Unix milliseconds
    PRIMARY KEY (panel_id, position),
    FOREIGN KEY(panel_id) REFERENCES panels(id) ON DELETE CASCADE
);
`

// InitMetadata seeds the metadata rows.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('sync_mode', 'false');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('saved_at', '0');
`
