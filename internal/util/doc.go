// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across llm-arena.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//   - AtomicWrite: Same guarantee for content produced by a writer func
//
// Display Width:
//   - TruncateWidth: Cut to a terminal column budget (CJK and emoji aware)
//   - PadWidth: Right-pad to a column budget
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//
// # Usage
//
//	err := util.AtomicWriteFile(path, data, 0600)
//
//	title := util.TruncateWidth(panelTitle, 24)
package util
