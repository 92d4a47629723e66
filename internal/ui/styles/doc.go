// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the arena workspace.

All colors use Lip Gloss AdaptiveColor for automatic light/dark terminal
detection. The configured theme ("dark", "light" or "auto") decides which
variant is used.

# Color System (colors.go)

  - Purple - Assistant labels and the focused panel border
  - Cyan - Brand color, user labels and the sync badge
  - Emerald - Success states
  - Amber - The generating indicator and typing cursor
  - Rose - Errors

Each panel title is tinted with PanelAccent(index) so columns are easy to
tell apart. Status messages pair color with a shape from StatusIndicators.

# Theme System (theme.go)

	theme := styles.NewTheme(cfg.UI.Theme)
	theme.SetSize(width, height)
	visible, colWidth := theme.Columns(len(panels))

# Animation System (animations.go)

LineSpinner drives generating panels and CursorFrame blinks the typing
cursor on a streaming answer. RenderProgressBar draws the context window
gauge in each panel's meta line.
*/
package styles
