// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared styling for the arena CLI commands.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/imajinxai/llm-arena/internal/ui/styles"
)

// init configures the lipgloss color profile from terminal capabilities.
func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.Cyan)

	// SectionStyle is used for section headers within a command's output.
	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.TextPrimary).
			MarginTop(1)

	// LabelStyle is used for left-aligned field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary).
			Width(28)

	ValueStyle = lipgloss.NewStyle().
			Foreground(styles.TextPrimary)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	// DimStyle is used for hints and secondary details.
	DimStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted)

	// PromptStyle renders the chat prompt.
	PromptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(styles.Overlay)
)

// PanelHeaderStyle returns the header style for the panel at index i, using
// the same accent as the terminal workspace.
func PanelHeaderStyle(i int) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(styles.PanelAccent(i))
}

// RenderSeparator renders a horizontal rule sized to the terminal.
func RenderSeparator() string {
	w := GetTerminalWidth() - 4
	if w > 80 {
		w = 80
	}
	return SeparatorStyle.Render(strings.Repeat("-", w))
}

// RenderLabel renders a label padded to the shared width.
func RenderLabel(label string) string {
	return LabelStyle.Render(label)
}
