// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes a panel's conversation to Markdown or JSON.
//
// # Key Types
//
//   - Exporter: Converts a panel to bytes in one format
//   - MarkdownExporter: YAML frontmatter plus one section per message
//   - JSONExporter: Machine-readable panel record
//   - Options: Export configuration options
//
// # Usage
//
//	exp, err := export.ForFormat("md", nil)
//	path, err := export.ToFile(panel, exp, &export.Options{OutputDir: "."})
//
// Files are written atomically, so an interrupted export never leaves a
// half-written file behind.
package export
