// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// =============================================================================
// PANEL
// =============================================================================

// Panel is one independent chat session.
//
// A panel owns its model selection, sampling parameters, message history and
// the text pending in its composer. Generating is true from the moment a
// request is dispatched until it settles.
type Panel struct {
	ID         string           `json:"id"`
	Model      *ModelRef        `json:"model,omitempty"`
	Config     GenerationConfig `json:"config"`
	Messages   []Message        `json:"messages"`
	Generating bool             `json:"generating"`
	Input      string           `json:"input"`
}

// NewPanel creates an empty panel with default generation settings.
func NewPanel() Panel {
	return Panel{
		ID:       generateID("panel"),
		Config:   DefaultGenerationConfig(),
		Messages: []Message{},
	}
}

// Clone returns a deep copy of the panel.
func (p Panel) Clone() Panel {
	out := p
	if p.Model != nil {
		m := *p.Model
		out.Model = &m
	}
	out.Config = p.Config.Clone()
	out.Messages = make([]Message, len(p.Messages))
	copy(out.Messages, p.Messages)
	return out
}

// HasModel reports whether a model has been selected.
func (p Panel) HasModel() bool {
	return p.Model != nil
}

// MessageCount returns the number of messages in the history.
func (p Panel) MessageCount() int {
	return len(p.Messages)
}

// LastMessage returns the most recent message, or nil if the history is empty.
func (p Panel) LastMessage() *Message {
	if len(p.Messages) == 0 {
		return nil
	}
	return &p.Messages[len(p.Messages)-1]
}

// Title returns a short label for the panel: the model name followed by the
// first user prompt when there is one.
func (p Panel) Title(maxLen int) string {
	title := p.Model.DisplayName()
	for _, m := range p.Messages {
		if m.Role == RoleUser {
			first := strings.SplitN(m.Content, "\n", 2)[0]
			title += ": " + first
			break
		}
	}
	return Message{Content: title}.Preview(maxLen)
}

// IndexOf returns the position of the panel with the given id, or -1.
func IndexOf(panels []Panel, id string) int {
	for i := range panels {
		if panels[i].ID == id {
			return i
		}
	}
	return -1
}
