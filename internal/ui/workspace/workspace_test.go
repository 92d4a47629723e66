// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/panel"
	"github.com/imajinxai/llm-arena/internal/stream"
	"github.com/imajinxai/llm-arena/internal/ui/styles"
)

// =============================================================================
// FAKES
// =============================================================================

// echoSender answers every prompt with "echo: <prompt>" straight into the store.
type echoSender struct {
	store *panel.Store

	mu      sync.Mutex
	stopped []string
}

func (e *echoSender) Send(ctx context.Context, panelID, content string) (stream.Result, error) {
	if _, ok := e.store.StartTurn(panelID, content); !ok {
		return stream.Result{}, fmt.Errorf("panel %s not ready", panelID)
	}
	answer := "echo: " + content
	e.store.AppendMessage(panelID, model.NewAssistantMessage(answer))
	e.store.SetGenerating(panelID, false)
	return stream.Result{State: stream.StateCompleted, Content: answer}, nil
}

func (e *echoSender) Stop(panelID string) bool {
	e.mu.Lock()
	e.stopped = append(e.stopped, panelID)
	e.mu.Unlock()
	return e.store.SetGenerating(panelID, false)
}

type fakeModels struct {
	models    []model.ModelRef
	refreshes int
}

func (f *fakeModels) Models(context.Context) ([]model.ModelRef, error) { return f.models, nil }

func (f *fakeModels) Refresh(ctx context.Context) ([]model.ModelRef, error) {
	f.refreshes++
	return f.models, nil
}

var (
	llama = model.ModelRef{ID: "llama-3.3-70b", Name: "Llama 3.3 70B", Provider: "Meta", ContextWindow: 128000}
	qwen  = model.ModelRef{ID: "qwen-3-32b", Name: "Qwen 3 32B", Provider: "Alibaba"}
)

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	store  *panel.Store
	sender *echoSender
	models *fakeModels
	m      Model
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	store := panel.NewStore()
	sender := &echoSender{store: store}
	models := &fakeModels{models: []model.ModelRef{llama, qwen}}

	opts := Options{
		Store:     store,
		Sender:    sender,
		Models:    models,
		Theme:     styles.NewTheme("dark"),
		ExportDir: t.TempDir(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	m := New(context.Background(), opts)
	t.Cleanup(m.Close)

	h := &harness{store: store, sender: sender, models: models, m: m}
	h.update(tea.WindowSizeMsg{Width: 120, Height: 30})
	return h
}

func (h *harness) update(msg tea.Msg) tea.Cmd {
	next, cmd := h.m.Update(msg)
	h.m = next.(Model)
	return cmd
}

func (h *harness) press(k tea.KeyMsg) tea.Cmd {
	return h.update(k)
}

// sync applies pending store changes the way the subscription would.
func (h *harness) sync() {
	h.update(StoreChangedMsg{})
}

func (h *harness) focusedID() string {
	return h.m.focusID
}

func keyMsg(t tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: t} }

// =============================================================================
// TESTS
// =============================================================================

func TestNew_FocusesFirstPanel(t *testing.T) {
	h := newHarness(t)
	panels := h.store.Snapshot()
	require.Len(t, panels, 1)
	assert.Equal(t, panels[0].ID, h.focusedID())
	assert.Contains(t, h.m.View(), "No model selected")
}

func TestAddAndRemovePanel(t *testing.T) {
	h := newHarness(t)
	first := h.focusedID()

	h.press(keyMsg(tea.KeyCtrlN))
	require.Equal(t, 2, h.store.Len())
	assert.NotEqual(t, first, h.focusedID(), "focus moves to the new panel")
	assert.Equal(t, 1, h.m.focus)

	h.press(keyMsg(tea.KeyCtrlW))
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, first, h.focusedID())

	h.press(keyMsg(tea.KeyCtrlW))
	assert.Equal(t, 1, h.store.Len(), "the last panel stays")
	text, isErr := h.m.currentStatus()
	assert.True(t, isErr)
	assert.Contains(t, text, "last panel")
}

func TestRemoveStopsGeneratingPanel(t *testing.T) {
	h := newHarness(t)
	h.store.Create()
	h.sync()
	id := h.focusedID()
	h.store.SetModel(id, llama)
	_, ok := h.store.StartTurn(id, "long task")
	require.True(t, ok)
	h.sync()

	h.press(keyMsg(tea.KeyCtrlW))
	assert.Contains(t, h.sender.stopped, id)
	_, exists := h.store.Get(id)
	assert.False(t, exists)
}

func TestFocusCycleKeepsDrafts(t *testing.T) {
	h := newHarness(t)
	first := h.focusedID()
	h.store.Create()
	h.sync()
	h.m.setFocus(0)

	h.m.composer.SetValue("draft one")
	h.press(keyMsg(tea.KeyTab))
	assert.NotEqual(t, first, h.focusedID())
	assert.Empty(t, h.m.composer.Value())

	h.press(keyMsg(tea.KeyShiftTab))
	assert.Equal(t, first, h.focusedID())
	assert.Equal(t, "draft one", h.m.composer.Value())

	p, _ := h.store.Get(first)
	assert.Equal(t, "draft one", p.Input)
}

func TestSendToFocusedPanel(t *testing.T) {
	h := newHarness(t)
	id := h.focusedID()
	h.store.SetModel(id, llama)
	h.sync()

	h.m.composer.SetValue("hello")
	cmd := h.press(keyMsg(tea.KeyEnter))
	require.NotNil(t, cmd)
	assert.Empty(t, h.m.composer.Value())

	msg := cmd()
	settled, ok := msg.(SendSettledMsg)
	require.True(t, ok)
	assert.Equal(t, id, settled.PanelID)
	assert.Equal(t, stream.StateCompleted, settled.Result.State)
	h.update(msg)
	h.sync()

	p, _ := h.store.Get(id)
	require.Len(t, p.Messages, 2)
	assert.Equal(t, "echo: hello", p.Messages[1].Content)
	assert.Contains(t, h.m.View(), "echo: hello")
}

func TestSendRequiresModelAndIdlePanel(t *testing.T) {
	h := newHarness(t)
	id := h.focusedID()

	h.m.composer.SetValue("hello")
	assert.Nil(t, h.press(keyMsg(tea.KeyEnter)))
	text, _ := h.m.currentStatus()
	assert.Contains(t, text, "Select a model")

	h.store.SetModel(id, llama)
	_, ok := h.store.StartTurn(id, "first")
	require.True(t, ok)
	h.sync()

	assert.Nil(t, h.press(keyMsg(tea.KeyEnter)))
	text, _ = h.m.currentStatus()
	assert.Contains(t, text, "Still generating")
	assert.Equal(t, "hello", h.m.composer.Value(), "draft is kept")
}

func TestBlankComposerDoesNothing(t *testing.T) {
	h := newHarness(t)
	h.store.SetModel(h.focusedID(), llama)
	h.sync()

	h.m.composer.SetValue("   ")
	assert.Nil(t, h.press(keyMsg(tea.KeyEnter)))
}

func TestSyncModeBroadcasts(t *testing.T) {
	h := newHarness(t)
	second := h.store.Create()
	third := h.store.Create()
	h.store.SetModel(h.focusedID(), llama)
	h.store.SetModel(second.ID, qwen)
	h.sync()

	h.press(keyMsg(tea.KeyCtrlS))
	assert.True(t, h.store.SyncMode())
	assert.Contains(t, h.m.View(), "SYNC 2/3")

	h.m.composer.SetValue("hi all")
	cmd := h.press(keyMsg(tea.KeyEnter))
	require.NotNil(t, cmd)

	msg := cmd()
	settled, ok := msg.(BroadcastSettledMsg)
	require.True(t, ok)
	assert.Len(t, settled.Outcomes, 2)
	h.update(msg)
	text, isErr := h.m.currentStatus()
	assert.False(t, isErr)
	assert.Contains(t, text, "All 2 panels settled")

	p, _ := h.store.Get(second.ID)
	assert.Equal(t, "echo: hi all", p.LastMessage().Content)
	p, _ = h.store.Get(third.ID)
	assert.Empty(t, p.Messages, "panels without a model are skipped")

	h.press(keyMsg(tea.KeyCtrlS))
	assert.False(t, h.store.SyncMode())
}

func TestSyncModeWithoutEligiblePanels(t *testing.T) {
	h := newHarness(t)
	h.press(keyMsg(tea.KeyCtrlS))

	h.m.composer.SetValue("anyone?")
	assert.Nil(t, h.press(keyMsg(tea.KeyEnter)))
	text, isErr := h.m.currentStatus()
	assert.True(t, isErr)
	assert.Contains(t, text, "No panel has a model")
	assert.Equal(t, "anyone?", h.m.composer.Value())
}

func TestStopAndStopAll(t *testing.T) {
	h := newHarness(t)
	id := h.focusedID()
	other := h.store.Create()
	for _, pid := range []string{id, other.ID} {
		h.store.SetModel(pid, llama)
		_, ok := h.store.StartTurn(pid, "go")
		require.True(t, ok)
	}
	h.sync()

	h.press(keyMsg(tea.KeyEsc))
	assert.Equal(t, []string{id}, h.sender.stopped)
	h.sync()

	h.press(keyMsg(tea.KeyCtrlX))
	assert.Equal(t, []string{id, other.ID}, h.sender.stopped)
	assert.Empty(t, h.store.Generating())

	h.sync()
	h.press(keyMsg(tea.KeyCtrlX))
	text, _ := h.m.currentStatus()
	assert.Contains(t, text, "Nothing is generating")
}

func TestClearPanel(t *testing.T) {
	h := newHarness(t)
	id := h.focusedID()
	h.store.SetModel(id, llama)
	_, ok := h.store.StartTurn(id, "question")
	require.True(t, ok)
	h.sync()

	h.press(keyMsg(tea.KeyCtrlL))
	p, _ := h.store.Get(id)
	assert.Len(t, p.Messages, 1, "refused while generating")

	h.store.SetGenerating(id, false)
	h.sync()
	h.press(keyMsg(tea.KeyCtrlL))
	p, _ = h.store.Get(id)
	assert.Empty(t, p.Messages)
}

func TestMovePanelKeepsFocus(t *testing.T) {
	h := newHarness(t)
	id := h.focusedID()
	h.store.Create()
	h.sync()
	h.m.setFocus(0)

	h.press(tea.KeyMsg{Type: tea.KeyRight, Alt: true})
	panels := h.store.Snapshot()
	assert.Equal(t, id, panels[1].ID)
	assert.Equal(t, id, h.focusedID())
	assert.Equal(t, 1, h.m.focus)

	// Already rightmost.
	h.press(tea.KeyMsg{Type: tea.KeyRight, Alt: true})
	assert.Equal(t, id, h.store.Snapshot()[1].ID)

	h.press(tea.KeyMsg{Type: tea.KeyLeft, Alt: true})
	assert.Equal(t, id, h.store.Snapshot()[0].ID)
}

func TestModelPicker(t *testing.T) {
	h := newHarness(t)
	id := h.focusedID()

	cmd := h.press(keyMsg(tea.KeyCtrlO))
	require.True(t, h.m.pickerOpen)
	require.NotNil(t, cmd)
	h.update(cmd())
	assert.False(t, h.m.pickerLoading)
	require.Len(t, h.m.picker.Items(), 2)
	assert.Contains(t, h.m.View(), "Select a model")

	want, ok := selectedModel(h.m.picker)
	require.True(t, ok)

	h.press(keyMsg(tea.KeyEnter))
	assert.False(t, h.m.pickerOpen)
	p, _ := h.store.Get(id)
	require.True(t, p.HasModel())
	assert.Equal(t, want.ID, p.Model.ID)

	// Reopening uses the loaded list; C-r refreshes it.
	assert.Nil(t, h.press(keyMsg(tea.KeyCtrlO)))
	cmd = h.press(keyMsg(tea.KeyCtrlR))
	require.NotNil(t, cmd)
	h.update(cmd())
	assert.Equal(t, 1, h.models.refreshes)

	h.press(keyMsg(tea.KeyEsc))
	assert.False(t, h.m.pickerOpen)
}

func TestExport(t *testing.T) {
	h := newHarness(t)
	id := h.focusedID()

	cmd := h.press(keyMsg(tea.KeyCtrlE))
	require.NotNil(t, cmd)
	h.update(cmd())
	text, isErr := h.m.currentStatus()
	assert.True(t, isErr)
	assert.Contains(t, text, "Nothing to export")

	h.store.SetModel(id, llama)
	_, err := h.sender.Send(context.Background(), id, "save me")
	require.NoError(t, err)
	h.sync()

	cmd = h.press(keyMsg(tea.KeyCtrlE))
	msg := cmd()
	done, ok := msg.(ExportDoneMsg)
	require.True(t, ok)
	require.NoError(t, done.Err)
	assert.True(t, strings.HasSuffix(done.Path, ".md"))

	data, err := os.ReadFile(done.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "echo: save me")
}

func TestExternalChangesRefresh(t *testing.T) {
	h := newHarness(t)
	h.store.Create()

	cmd := h.update(StoreChangedMsg{Changes: []panel.Change{{Kind: panel.KindCreated}}})
	assert.NotNil(t, cmd, "keeps listening")
	assert.Len(t, h.m.panels, 2)
	assert.Len(t, h.m.viewports, 2)
}

func TestHelpOverlay(t *testing.T) {
	h := newHarness(t)
	h.press(keyMsg(tea.KeyF1))
	require.True(t, h.m.showHelp)
	assert.Contains(t, h.m.View(), "add panel")

	h.press(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.False(t, h.m.showHelp)
	assert.Empty(t, h.m.composer.Value(), "closing key is swallowed")
}

func TestPanelMetaGauge(t *testing.T) {
	h := newHarness(t)
	id := h.focusedID()
	h.store.SetModel(id, llama)
	h.sync()

	p, _ := h.store.Get(id)
	assert.Contains(t, h.m.panelMeta(p), "ctx [")

	h.store.SetModel(id, qwen)
	p, _ = h.store.Get(id)
	assert.Contains(t, h.m.panelMeta(p), "unknown context")
}

func TestWaitForChangeCoalesces(t *testing.T) {
	ch := make(chan panel.Change, 4)
	ch <- panel.Change{Kind: panel.KindMessages, PanelID: "a"}
	ch <- panel.Change{Kind: panel.KindMessages, PanelID: "a"}
	ch <- panel.Change{Kind: panel.KindGenerating, PanelID: "b"}

	msg := waitForChange(ch)()
	changed, ok := msg.(StoreChangedMsg)
	require.True(t, ok)
	assert.Len(t, changed.Changes, 3)

	close(ch)
	assert.Nil(t, waitForChange(ch)())
}

func TestMarkdownCache(t *testing.T) {
	c := newMarkdownCache(true)
	out := c.Render("msg-1", "some **bold** text", 40)
	assert.Contains(t, out, "bold")
	assert.NotContains(t, out, "**")
	assert.Equal(t, out, c.Render("msg-1", "some **bold** text", 40))
	assert.Len(t, c.rendered, 1)
}

func TestLayoutScrollsToFocus(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.store.Create()
	}
	h.sync()
	h.update(tea.WindowSizeMsg{Width: 64, Height: 30})

	visible, _ := h.m.theme.Columns(6)
	require.Equal(t, 2, visible)

	h.m.setFocus(5)
	assert.Equal(t, 4, h.m.offset)
	assert.Contains(t, h.m.View(), "showing 5-6")

	h.m.setFocus(0)
	assert.Equal(t, 0, h.m.offset)
}
