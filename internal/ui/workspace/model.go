// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/imajinxai/llm-arena/internal/broadcast"
	"github.com/imajinxai/llm-arena/internal/cloud"
	"github.com/imajinxai/llm-arena/internal/export"
	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/panel"
	"github.com/imajinxai/llm-arena/internal/stream"
	"github.com/imajinxai/llm-arena/internal/ui/styles"
)

// ModelSource supplies the catalog for the model picker.
type ModelSource interface {
	Models(ctx context.Context) ([]model.ModelRef, error)
	Refresh(ctx context.Context) ([]model.ModelRef, error)
}

// Options wires the workspace to the engine.
type Options struct {
	Store       *panel.Store
	Sender      broadcast.Sender
	Coordinator *broadcast.Coordinator
	Models      ModelSource
	Theme       *styles.Theme

	// ExportDir and ExportFormat ("md" or "json") control C-e.
	ExportDir    string
	ExportFormat string

	// RenderMarkdown renders settled answers with glamour.
	RenderMarkdown bool

	Logger *slog.Logger
}

// statusTTL is how long a status message replaces the key hints.
const statusTTL = 4 * time.Second

// Model is the bubbletea model for the panel workspace.
type Model struct {
	ctx    context.Context
	opts   Options
	theme  *styles.Theme
	logger *slog.Logger

	// Cached store state, refreshed on every change.
	panels   []model.Panel
	syncMode bool
	changes  <-chan panel.Change

	// Focus is tracked by id so moves and removals keep it stable.
	focusID string
	focus   int
	offset  int

	viewports map[string]viewport.Model
	scrolled  map[string]bool // user scrolled away from the tail

	composer textarea.Model
	spinner  spinner.Model
	tick     int
	keys     KeyMap
	help     help.Model
	showHelp bool

	picker        list.Model
	pickerOpen    bool
	pickerLoading bool

	markdown *markdownCache
	budgets  *budgetCache

	status    string
	statusErr bool
	statusAt  time.Time

	width  int
	height int
}

// New creates the workspace model and subscribes it to the store. ctx
// bounds every request the workspace starts. Call Close when the program
// exits.
func New(ctx context.Context, opts Options) Model {
	if opts.Theme == nil {
		opts.Theme = styles.NewTheme("auto")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ExportFormat == "" {
		opts.ExportFormat = "md"
	}
	if opts.Coordinator == nil {
		opts.Coordinator = broadcast.New(opts.Store, opts.Sender, opts.Logger)
	}

	ta := textarea.New()
	ta.Placeholder = "Ask every model something..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline = DefaultKeyMap().Newline
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: styles.LineSpinner.Frames,
		FPS:    styles.LineSpinner.Duration(),
	}
	sp.Style = opts.Theme.Generating

	h := help.New()
	h.ShowAll = true

	m := Model{
		ctx:       ctx,
		opts:      opts,
		theme:     opts.Theme,
		logger:    opts.Logger,
		changes:   opts.Store.Subscribe(panel.DefaultBufferSize),
		viewports: make(map[string]viewport.Model),
		scrolled:  make(map[string]bool),
		composer:  ta,
		spinner:   sp,
		keys:      DefaultKeyMap(),
		help:      h,
		picker:    newPicker(opts.Theme),
		markdown:  newMarkdownCache(opts.Theme.IsDark),
		budgets:   newBudgetCache(),
	}
	m.refresh()
	m.loadDraft()
	return m
}

// Close unsubscribes from the store.
func (m Model) Close() {
	m.opts.Store.Unsubscribe(m.changes)
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Init starts the store subscription, the cursor blink and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForChange(m.changes), textarea.Blink, m.spinner.Tick)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.theme.SetSize(msg.Width, msg.Height)
		m.layout()
		return m, nil

	case StoreChangedMsg:
		m.refresh()
		m.layout()
		return m, waitForChange(m.changes)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.tick++
		if m.anyGenerating() {
			m.renderContent()
		}
		return m, cmd

	case SendSettledMsg:
		m.handleSendSettled(msg)
		return m, nil

	case BroadcastSettledMsg:
		m.handleBroadcastSettled(msg)
		return m, nil

	case ModelsLoadedMsg:
		m.pickerLoading = false
		if msg.Err != nil {
			m.setStatus(fmt.Sprintf("Could not load models: %v", msg.Err), true)
			return m, nil
		}
		return m, m.picker.SetItems(modelItems(msg.Models))

	case ExportDoneMsg:
		switch {
		case errors.Is(msg.Err, export.ErrEmptyConversation):
			m.setStatus("Nothing to export yet", true)
		case msg.Err != nil:
			m.setStatus(fmt.Sprintf("Export failed: %v", msg.Err), true)
		default:
			m.setStatus("Exported to "+msg.Path, false)
		}
		return m, nil

	case tea.KeyMsg:
		if m.pickerOpen {
			return m.handlePickerKey(msg)
		}
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

// =============================================================================
// STATE
// =============================================================================

// refresh re-reads the store and keeps focus on the same panel id.
func (m *Model) refresh() {
	m.panels = m.opts.Store.Snapshot()
	m.syncMode = m.opts.Store.SyncMode()

	if len(m.panels) == 0 {
		m.focus, m.focusID = 0, ""
		return
	}
	if idx := model.IndexOf(m.panels, m.focusID); idx >= 0 {
		m.focus = idx
	} else if m.focus >= len(m.panels) {
		m.focus = len(m.panels) - 1
	}
	m.focusID = m.panels[m.focus].ID

	// Drop state for removed panels.
	live := make(map[string]bool, len(m.panels))
	for _, p := range m.panels {
		live[p.ID] = true
	}
	for id := range m.viewports {
		if !live[id] {
			delete(m.viewports, id)
			delete(m.scrolled, id)
		}
	}
}

func (m Model) focused() (model.Panel, bool) {
	if m.focus < 0 || m.focus >= len(m.panels) {
		return model.Panel{}, false
	}
	return m.panels[m.focus], true
}

func (m Model) anyGenerating() bool {
	for _, p := range m.panels {
		if p.Generating {
			return true
		}
	}
	return false
}

func (m Model) eligibleCount() int {
	n := 0
	for _, p := range m.panels {
		if p.HasModel() {
			n++
		}
	}
	return n
}

func (m *Model) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
	m.statusAt = time.Now()
	if isErr {
		m.logger.Debug("workspace status", "message", text)
	}
}

func (m Model) currentStatus() (string, bool) {
	if m.status == "" || time.Since(m.statusAt) > statusTTL {
		return "", false
	}
	return m.status, m.statusErr
}

// setFocus moves focus to index i, stashing and restoring composer drafts.
func (m *Model) setFocus(i int) {
	if len(m.panels) == 0 {
		return
	}
	i = (i%len(m.panels) + len(m.panels)) % len(m.panels)
	if i == m.focus {
		return
	}
	if !m.syncMode {
		m.opts.Store.SetInput(m.focusID, m.composer.Value())
	}
	m.focus = i
	m.focusID = m.panels[i].ID
	if !m.syncMode {
		m.loadDraft()
	}
	m.layout()
}

// loadDraft puts the focused panel's stored draft in the composer. The
// cached snapshot may predate the last SetInput, so read the store.
func (m *Model) loadDraft() {
	m.composer.Reset()
	if p, ok := m.opts.Store.Get(m.focusID); ok {
		m.composer.SetValue(p.Input)
	}
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	k := m.keys

	if m.showHelp {
		if key.Matches(msg, k.Quit) {
			return m, tea.Quit
		}
		m.showHelp = false
		return m, nil
	}

	switch {
	case key.Matches(msg, k.Quit):
		if !m.syncMode {
			m.opts.Store.SetInput(m.focusID, m.composer.Value())
		}
		return m, tea.Quit

	case key.Matches(msg, k.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, k.Send):
		return m.handleSend()

	case key.Matches(msg, k.NextPanel):
		m.setFocus(m.focus + 1)
		return m, nil

	case key.Matches(msg, k.PrevPanel):
		m.setFocus(m.focus - 1)
		return m, nil

	case key.Matches(msg, k.AddPanel):
		if !m.syncMode {
			m.opts.Store.SetInput(m.focusID, m.composer.Value())
		}
		p := m.opts.Store.Create()
		m.focusID = p.ID
		m.refresh()
		if !m.syncMode {
			m.composer.Reset()
		}
		m.layout()
		m.setStatus("Panel added. C-o to pick a model", false)
		return m, nil

	case key.Matches(msg, k.Remove):
		return m.handleRemove()

	case key.Matches(msg, k.MoveLeft):
		return m.handleMove(panel.Left)

	case key.Matches(msg, k.MoveRight):
		return m.handleMove(panel.Right)

	case key.Matches(msg, k.PickModel):
		return m.openPicker(false)

	case key.Matches(msg, k.ToggleSync):
		on := !m.syncMode
		if on {
			m.opts.Store.SetInput(m.focusID, m.composer.Value())
		}
		m.opts.Store.SetSyncMode(on)
		m.syncMode = on
		if on {
			m.setStatus(fmt.Sprintf("Sync on: sending to %d panels", m.eligibleCount()), false)
		} else {
			m.setStatus("Sync off", false)
		}
		return m, nil

	case key.Matches(msg, k.Stop):
		p, ok := m.focused()
		if !ok || !p.Generating {
			return m, nil
		}
		m.opts.Sender.Stop(p.ID)
		m.setStatus("Stopped", false)
		return m, nil

	case key.Matches(msg, k.StopAll):
		ids := m.opts.Coordinator.StopAll()
		if len(ids) == 0 {
			m.setStatus("Nothing is generating", false)
		} else {
			m.setStatus(fmt.Sprintf("Stopped %d panels", len(ids)), false)
		}
		return m, nil

	case key.Matches(msg, k.Clear):
		p, ok := m.focused()
		if !ok {
			return m, nil
		}
		if p.Generating {
			m.setStatus("Stop the response before clearing", true)
			return m, nil
		}
		m.opts.Store.ClearMessages(p.ID)
		return m, nil

	case key.Matches(msg, k.Export):
		p, ok := m.focused()
		if !ok {
			return m, nil
		}
		opts := export.DefaultOptions()
		if m.opts.ExportDir != "" {
			opts.OutputDir = m.opts.ExportDir
		}
		return m, exportCmd(p, m.opts.ExportFormat, opts)

	case key.Matches(msg, k.ScrollUp), key.Matches(msg, k.ScrollDown):
		p, ok := m.focused()
		if !ok {
			return m, nil
		}
		vp := m.viewports[p.ID]
		if key.Matches(msg, k.ScrollUp) {
			vp.HalfViewUp()
		} else {
			vp.HalfViewDown()
		}
		m.viewports[p.ID] = vp
		m.scrolled[p.ID] = !vp.AtBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

// handleSend sends the composer text to the focused panel, or to every
// panel with a model when sync mode is on.
func (m Model) handleSend() (tea.Model, tea.Cmd) {
	content := strings.TrimSpace(m.composer.Value())
	if content == "" {
		return m, nil
	}

	if m.syncMode {
		ids, outcomes := m.opts.Coordinator.SendToAll(m.ctx, content)
		if len(ids) == 0 {
			m.setStatus("No panel has a model selected", true)
			return m, nil
		}
		m.composer.Reset()
		for _, id := range ids {
			delete(m.scrolled, id)
		}
		m.setStatus(fmt.Sprintf("Sent to %d panels", len(ids)), false)
		return m, collectOutcomes(outcomes)
	}

	p, ok := m.focused()
	if !ok {
		return m, nil
	}
	if !p.HasModel() {
		m.setStatus("Select a model first (C-o)", true)
		return m, nil
	}
	if p.Generating {
		m.setStatus("Still generating. Esc to stop", true)
		return m, nil
	}
	m.composer.Reset()
	m.opts.Store.SetInput(p.ID, "")
	delete(m.scrolled, p.ID)
	return m, sendCmd(m.ctx, m.opts.Sender, p.ID, content)
}

func (m *Model) handleSendSettled(msg SendSettledMsg) {
	switch {
	case errors.Is(msg.Err, cloud.ErrNotConfigured):
		m.setStatus("API key not configured", true)
	case msg.Err != nil:
		m.setStatus(msg.Err.Error(), true)
	case msg.Result.State == stream.StateErrored:
		m.setStatus(fmt.Sprintf("%s failed", m.panelLabel(msg.PanelID)), true)
	}
}

func (m *Model) handleBroadcastSettled(msg BroadcastSettledMsg) {
	failed := 0
	for _, o := range msg.Outcomes {
		if o.Err != nil || o.Result.State == stream.StateErrored {
			failed++
		}
	}
	if failed > 0 {
		m.setStatus(fmt.Sprintf("%d of %d panels failed", failed, len(msg.Outcomes)), true)
		return
	}
	m.setStatus(fmt.Sprintf("All %d panels settled", len(msg.Outcomes)), false)
}

func (m Model) handleRemove() (tea.Model, tea.Cmd) {
	p, ok := m.focused()
	if !ok {
		return m, nil
	}
	if !m.opts.Store.CanRemove() {
		m.setStatus("The last panel cannot be removed", true)
		return m, nil
	}
	if p.Generating {
		m.opts.Sender.Stop(p.ID)
	}
	m.opts.Store.Remove(p.ID)
	m.focusID = ""
	m.refresh()
	if !m.syncMode {
		m.loadDraft()
	}
	m.layout()
	return m, nil
}

func (m Model) handleMove(dir panel.Direction) (tea.Model, tea.Cmd) {
	p, ok := m.focused()
	if !ok || !m.opts.Store.CanMove(p.ID, dir) {
		return m, nil
	}
	m.opts.Store.Move(p.ID, dir)
	m.refresh()
	m.layout()
	return m, nil
}

func (m Model) openPicker(refresh bool) (tea.Model, tea.Cmd) {
	if _, ok := m.focused(); !ok || m.opts.Models == nil {
		return m, nil
	}
	m.pickerOpen = true
	if len(m.picker.Items()) > 0 && !refresh {
		return m, nil
	}
	m.pickerLoading = true
	return m, loadModelsCmd(m.ctx, m.opts.Models, refresh)
}

func (m Model) handlePickerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// While filtering, every key belongs to the list.
	if m.picker.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "esc":
		m.pickerOpen = false
		return m, nil
	case "ctrl+c":
		return m, tea.Quit
	case "ctrl+r":
		return m.openPicker(true)
	case "enter":
		ref, ok := selectedModel(m.picker)
		if !ok {
			return m, nil
		}
		m.opts.Store.SetModel(m.focusID, ref)
		m.pickerOpen = false
		m.setStatus(fmt.Sprintf("%s: %s", m.panelLabel(m.focusID), ref.DisplayName()), false)
		return m, nil
	}

	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)
	return m, cmd
}

func (m Model) panelLabel(id string) string {
	return fmt.Sprintf("Panel %d", model.IndexOf(m.panels, id)+1)
}
