// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// MinPanelWidth is the narrowest column a panel is drawn in. Panels that do
// not fit side by side scroll horizontally around the focused one.
const MinPanelWidth = 32

// Theme holds all the styled components for the workspace.
// It detects the terminal's color capability and adjusts accordingly.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	HasTrueColor bool
	ColorProfile termenv.Profile

	// Layout dimensions
	Width  int
	Height int

	// ==========================================================================
	// HEADER STYLES
	// ==========================================================================

	Header      lipgloss.Style
	HeaderBrand lipgloss.Style
	HeaderMeta  lipgloss.Style
	SyncOn      lipgloss.Style
	SyncOff     lipgloss.Style

	// ==========================================================================
	// PANEL STYLES
	// ==========================================================================

	Panel        lipgloss.Style
	PanelFocused lipgloss.Style
	PanelTitle   lipgloss.Style
	PanelMeta    lipgloss.Style
	PanelEmpty   lipgloss.Style

	// ==========================================================================
	// MESSAGE STYLES
	// ==========================================================================

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	MessageBody    lipgloss.Style
	Notice         lipgloss.Style
	Cursor         lipgloss.Style
	Generating     lipgloss.Style

	// ==========================================================================
	// INPUT AREA STYLES
	// ==========================================================================

	Input        lipgloss.Style
	InputFocused lipgloss.Style
	InputPrompt  lipgloss.Style

	// ==========================================================================
	// STATUS BAR STYLES
	// ==========================================================================

	StatusBar    lipgloss.Style
	StatusError  lipgloss.Style
	StatusInfo   lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style

	// ==========================================================================
	// MODEL PICKER STYLES
	// ==========================================================================

	Picker         lipgloss.Style
	PickerTitle    lipgloss.Style
	PickerSelected lipgloss.Style
	PickerItem     lipgloss.Style
	PickerDesc     lipgloss.Style
}

// ParseMode normalizes a configured theme name. Unknown values mean "auto".
func ParseMode(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dark":
		return "dark"
	case "light":
		return "light"
	default:
		return "auto"
	}
}

// NewTheme creates a theme for the configured mode ("dark", "light" or
// "auto"). Auto asks the terminal for its background.
func NewTheme(mode string) *Theme {
	colorProfile := termenv.ColorProfile()

	var isDark bool
	switch ParseMode(mode) {
	case "dark":
		isDark = true
	case "light":
		isDark = false
	default:
		isDark = termenv.HasDarkBackground()
	}
	// AdaptiveColor resolves against lipgloss' global background flag.
	lipgloss.SetHasDarkBackground(isDark)

	t := &Theme{
		IsDark:       isDark,
		HasTrueColor: colorProfile == termenv.TrueColor,
		ColorProfile: colorProfile,
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	// Header
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)

	t.HeaderBrand = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)

	t.HeaderMeta = lipgloss.NewStyle().
		Foreground(TextSecondary)

	t.SyncOn = lipgloss.NewStyle().
		Bold(true).
		Foreground(TextInverse).
		Background(Cyan).
		Padding(0, 1)

	t.SyncOff = lipgloss.NewStyle().
		Foreground(TextMuted).
		Padding(0, 1)

	// Panels
	t.Panel = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)

	t.PanelFocused = t.Panel.
		BorderForeground(Purple)

	t.PanelTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(TextPrimary)

	t.PanelMeta = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.PanelEmpty = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true)

	// Messages
	t.UserLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)

	t.AssistantLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)

	t.MessageBody = lipgloss.NewStyle().
		Foreground(TextPrimary)

	// ACCESSIBILITY: notices also carry StatusIndicators.Error.
	t.Notice = lipgloss.NewStyle().
		Foreground(ErrorHighContrast)

	t.Cursor = lipgloss.NewStyle().
		Foreground(Amber).
		Bold(true)

	t.Generating = lipgloss.NewStyle().
		Foreground(Amber)

	// Input
	t.Input = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(Overlay)

	t.InputFocused = t.Input.
		BorderForeground(Cyan)

	t.InputPrompt = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	// Status bar
	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Background(SurfaceDim).
		Padding(0, 1)

	t.StatusError = lipgloss.NewStyle().
		Foreground(ErrorHighContrast).
		Background(SurfaceDim).
		Bold(true)

	t.StatusInfo = lipgloss.NewStyle().
		Foreground(Emerald).
		Background(SurfaceDim)

	t.ShortcutKey = lipgloss.NewStyle().
		Foreground(Cyan).
		Background(SurfaceDim).
		Bold(true)

	t.ShortcutDesc = lipgloss.NewStyle().
		Foreground(TextMuted).
		Background(SurfaceDim)

	// Model picker
	t.Picker = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Purple).
		Padding(1, 2)

	t.PickerTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)

	t.PickerSelected = lipgloss.NewStyle().
		Foreground(TextPrimary).
		Background(SelectionBg).
		Bold(true)

	t.PickerItem = lipgloss.NewStyle().
		Foreground(TextPrimary)

	t.PickerDesc = lipgloss.NewStyle().
		Foreground(TextMuted)
}

// PanelTitleStyle tints the title of the panel at index i.
func (t *Theme) PanelTitleStyle(i int) lipgloss.Style {
	return t.PanelTitle.Foreground(PanelAccent(i))
}

// SetSize updates the theme dimensions for responsive layouts.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// GetLayoutMode returns the current layout mode based on width.
func (t *Theme) GetLayoutMode() LayoutMode {
	if t.Width < 60 {
		return LayoutNarrow
	}
	if t.Width < 100 {
		return LayoutMedium
	}
	return LayoutWide
}

// Columns reports how many of n panels fit side by side and how wide each
// column is. At least one panel is always shown.
func (t *Theme) Columns(n int) (visible, width int) {
	if n <= 0 {
		return 0, t.Width
	}
	visible = t.Width / MinPanelWidth
	if visible < 1 {
		visible = 1
	}
	if visible > n {
		visible = n
	}
	return visible, t.Width / visible
}

// LayoutMode represents the current responsive layout mode.
type LayoutMode int

const (
	LayoutNarrow LayoutMode = iota // < 60 columns
	LayoutMedium                   // 60-100 columns
	LayoutWide                     // > 100 columns
)
