// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workspace is the terminal view of the panel workspace.
//
// Panels are drawn side by side; when more exist than fit, the row scrolls
// to keep the focused panel visible. The model subscribes to the panel
// store and redraws from a fresh snapshot after every batch of changes, so
// streamed answers appear at the store's flush rate whether a request was
// started here or through the HTTP API.
//
// The composer sends to the focused panel, or to every panel with a model
// when sync mode is on. Each panel keeps its own composer draft.
//
// # Usage
//
//	m := workspace.New(ctx, workspace.Options{Store: store, Sender: d, Models: cat, Theme: theme})
//	defer m.Close()
//	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
package workspace
