// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imajinxai/llm-arena/internal/broadcast"
	"github.com/imajinxai/llm-arena/internal/export"
	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/panel"
	"github.com/imajinxai/llm-arena/internal/stream"
)

// =============================================================================
// MESSAGES
// =============================================================================

// StoreChangedMsg carries every change queued since the last redraw.
type StoreChangedMsg struct {
	Changes []panel.Change
}

// SendSettledMsg reports the end of a single-panel send.
type SendSettledMsg struct {
	PanelID string
	Result  stream.Result
	Err     error
}

// BroadcastSettledMsg reports the end of a sync-mode send.
type BroadcastSettledMsg struct {
	Outcomes []broadcast.Outcome
}

// ModelsLoadedMsg delivers the catalog to the picker.
type ModelsLoadedMsg struct {
	Models []model.ModelRef
	Err    error
}

// ExportDoneMsg reports a finished export.
type ExportDoneMsg struct {
	Path string
	Err  error
}

// =============================================================================
// COMMANDS
// =============================================================================

// waitForChange blocks until the store publishes, then drains whatever else
// is queued so a burst of flushes costs one redraw.
func waitForChange(ch <-chan panel.Change) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return nil
		}
		batch := []panel.Change{c}
		for {
			select {
			case more, ok := <-ch:
				if !ok {
					return StoreChangedMsg{Changes: batch}
				}
				batch = append(batch, more)
			default:
				return StoreChangedMsg{Changes: batch}
			}
		}
	}
}

// sendCmd runs one blocking send off the update loop.
func sendCmd(ctx context.Context, sender broadcast.Sender, panelID, content string) tea.Cmd {
	return func() tea.Msg {
		res, err := sender.Send(ctx, panelID, content)
		return SendSettledMsg{PanelID: panelID, Result: res, Err: err}
	}
}

// collectOutcomes waits for every panel of a broadcast to settle.
func collectOutcomes(outcomes <-chan broadcast.Outcome) tea.Cmd {
	return func() tea.Msg {
		var all []broadcast.Outcome
		for o := range outcomes {
			all = append(all, o)
		}
		return BroadcastSettledMsg{Outcomes: all}
	}
}

func loadModelsCmd(ctx context.Context, src ModelSource, refresh bool) tea.Cmd {
	return func() tea.Msg {
		var (
			models []model.ModelRef
			err    error
		)
		if refresh {
			models, err = src.Refresh(ctx)
		} else {
			models, err = src.Models(ctx)
		}
		return ModelsLoadedMsg{Models: models, Err: err}
	}
}

func exportCmd(p model.Panel, format string, opts *export.Options) tea.Cmd {
	return func() tea.Msg {
		exporter, err := export.ForFormat(format, opts)
		if err != nil {
			return ExportDoneMsg{Err: err}
		}
		path, err := export.ToFile(p, exporter, opts)
		return ExportDoneMsg{Path: path, Err: err}
	}
}
