// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"

	"github.com/imajinxai/llm-arena/internal/catalog"
	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/ui/styles"
)

// =============================================================================
// MODEL PICKER
// =============================================================================

// modelItem adapts a ModelRef to the list's default delegate.
type modelItem struct {
	ref model.ModelRef
}

func (i modelItem) Title() string {
	return i.ref.DisplayName()
}

func (i modelItem) Description() string {
	desc := catalog.ProviderLabel(i.ref.Provider)
	return desc + " | " + i.ref.ContextString() + " | " + i.ref.CostString()
}

// FilterValue matches on id, name and provider.
func (i modelItem) FilterValue() string {
	return i.ref.ID + " " + i.ref.Name + " " + i.ref.Provider
}

func modelItems(refs []model.ModelRef) []list.Item {
	grouped := catalog.GroupByProvider(refs)
	items := make([]list.Item, 0, len(refs))
	for _, group := range grouped {
		for _, ref := range group {
			items = append(items, modelItem{ref: ref})
		}
	}
	return items
}

func newPicker(theme *styles.Theme) list.Model {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(styles.Purple).
		BorderForeground(styles.Purple)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(styles.TextSecondary).
		BorderForeground(styles.Purple)

	l := list.New(nil, delegate, 0, 0)
	l.Title = "Select a model"
	l.Styles.Title = theme.PickerTitle
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.SetStatusBarItemName("model", "models")
	l.DisableQuitKeybindings()
	return l
}

// selectedModel returns the highlighted model, if any.
func selectedModel(l list.Model) (model.ModelRef, bool) {
	item, ok := l.SelectedItem().(modelItem)
	if !ok {
		return model.ModelRef{}, false
	}
	return item.ref, true
}

func (m Model) renderPicker() string {
	w, _ := m.pickerSize()
	body := m.picker.View()
	switch {
	case m.pickerLoading:
		body = m.theme.PanelEmpty.Render("Loading models" + m.spinner.View())
	case len(m.picker.Items()) == 0:
		body = m.theme.PanelEmpty.Render("No models available. Configure an API key with `arena config set-key`.")
	}

	hint := m.theme.PickerDesc.Render(fmt.Sprintf("Enter select | / filter | C-r refresh | Esc close | panel %d", m.focus+1))
	box := m.theme.Picker.Width(w + 4).Render(lipgloss.JoinVertical(lipgloss.Left, body, "", hint))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m Model) pickerSize() (int, int) {
	w := m.width * 2 / 3
	if w < 40 {
		w = m.width - 4
	}
	h := m.height - 8
	if h < 5 {
		h = 5
	}
	return w, h
}
