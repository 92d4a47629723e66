// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"github.com/charmbracelet/bubbles/key"
)

// =============================================================================
// KEY MAP DEFINITION
// =============================================================================

// KeyMap defines all keyboard bindings for the workspace.
type KeyMap struct {
	Send       key.Binding
	Newline    key.Binding
	NextPanel  key.Binding
	PrevPanel  key.Binding
	AddPanel   key.Binding
	Remove     key.Binding
	MoveLeft   key.Binding
	MoveRight  key.Binding
	PickModel  key.Binding
	ToggleSync key.Binding
	Stop       key.Binding
	StopAll    key.Binding
	Clear      key.Binding
	Export     key.Binding
	ScrollUp   key.Binding
	ScrollDown key.Binding
	Help       key.Binding
	Quit       key.Binding
}

// DefaultKeyMap returns the default key bindings. Plain letters are left to
// the composer, so every action sits on a modifier or function key.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Send: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("Enter", "send"),
		),
		Newline: key.NewBinding(
			key.WithKeys("alt+enter", "ctrl+j"),
			key.WithHelp("A-Enter", "newline"),
		),
		NextPanel: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("Tab", "next panel"),
		),
		PrevPanel: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("S-Tab", "prev panel"),
		),
		AddPanel: key.NewBinding(
			key.WithKeys("ctrl+n"),
			key.WithHelp("C-n", "add panel"),
		),
		Remove: key.NewBinding(
			key.WithKeys("ctrl+w"),
			key.WithHelp("C-w", "remove panel"),
		),
		MoveLeft: key.NewBinding(
			key.WithKeys("alt+left", "ctrl+left"),
			key.WithHelp("A-Left", "move left"),
		),
		MoveRight: key.NewBinding(
			key.WithKeys("alt+right", "ctrl+right"),
			key.WithHelp("A-Right", "move right"),
		),
		PickModel: key.NewBinding(
			key.WithKeys("ctrl+o"),
			key.WithHelp("C-o", "pick model"),
		),
		ToggleSync: key.NewBinding(
			key.WithKeys("ctrl+s"),
			key.WithHelp("C-s", "sync mode"),
		),
		Stop: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("Esc", "stop"),
		),
		StopAll: key.NewBinding(
			key.WithKeys("ctrl+x"),
			key.WithHelp("C-x", "stop all"),
		),
		Clear: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("C-l", "clear panel"),
		),
		Export: key.NewBinding(
			key.WithKeys("ctrl+e"),
			key.WithHelp("C-e", "export"),
		),
		ScrollUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("PgUp", "scroll up"),
		),
		ScrollDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("PgDn", "scroll down"),
		),
		Help: key.NewBinding(
			key.WithKeys("f1"),
			key.WithHelp("F1", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "ctrl+q"),
			key.WithHelp("C-c", "quit"),
		),
	}
}

// ShortHelp returns the bindings shown in the status bar.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.NextPanel, k.PickModel, k.ToggleSync, k.Stop, k.Help, k.Quit}
}

// FullHelp returns the bindings shown in the help overlay, grouped by column.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		// Compose
		{k.Send, k.Newline, k.ToggleSync, k.Stop, k.StopAll},
		// Panels
		{k.NextPanel, k.PrevPanel, k.AddPanel, k.Remove, k.MoveLeft, k.MoveRight},
		// Content
		{k.PickModel, k.Clear, k.Export, k.ScrollUp, k.ScrollDown},
		// App
		{k.Help, k.Quit},
	}
}
