// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat panels and messages.
//
// This package defines the core domain types shared by the panel store, the
// request dispatcher and every front-end.
//
// # Key Types
//
//   - Panel: One independent chat session with a model, config and history
//   - Message: Single message with role, content and creation time
//   - ModelRef: Immutable description of a model from the catalog
//   - GenerationConfig: Sampling parameters sent with every request
//   - Role: Message role enumeration (user, assistant)
//
// # Usage
//
// Build a panel and append a message:
//
//	p := model.NewPanel()
//	p.Messages = append(p.Messages, model.NewUserMessage("Hello!"))
//
// Values in this package are treated as immutable once they have been
// published by the panel store. Use Clone before modifying a panel.
package model
