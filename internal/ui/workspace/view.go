// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/imajinxai/llm-arena/internal/dispatch"
	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/stream"
	"github.com/imajinxai/llm-arena/internal/tokens"
	"github.com/imajinxai/llm-arena/internal/ui/styles"
	"github.com/imajinxai/llm-arena/internal/util"
)

// Fixed chrome around the panel row. The composer is its textarea plus a
// top border.
const (
	headerHeight    = 1
	statusBarHeight = 1
	composerHeight  = 4

	// panelChrome is the border plus the title and meta lines.
	panelChromeHeight = 4
	// panelChromeWidth is the border plus horizontal padding.
	panelChromeWidth = 4

	gaugeWidth = 10
)

// =============================================================================
// LAYOUT
// =============================================================================

func (m Model) panelRowHeight() int {
	h := m.height - headerHeight - statusBarHeight - composerHeight
	if h < panelChromeHeight+1 {
		h = panelChromeHeight + 1
	}
	return h
}

// layout sizes every viewport and the composer for the current window and
// scrolls the panel row so the focused panel is visible.
func (m *Model) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}

	visible, colWidth := m.theme.Columns(len(m.panels))
	if m.focus < m.offset {
		m.offset = m.focus
	}
	if m.focus >= m.offset+visible {
		m.offset = m.focus - visible + 1
	}
	if last := len(m.panels) - visible; m.offset > last {
		m.offset = last
	}
	if m.offset < 0 {
		m.offset = 0
	}

	vpWidth := colWidth - panelChromeWidth
	if vpWidth < 1 {
		vpWidth = 1
	}
	vpHeight := m.panelRowHeight() - panelChromeHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	for _, p := range m.panels {
		vp, ok := m.viewports[p.ID]
		if !ok {
			vp = viewport.New(vpWidth, vpHeight)
		}
		vp.Width = vpWidth
		vp.Height = vpHeight
		m.viewports[p.ID] = vp
	}

	m.composer.SetWidth(m.width - 2)
	m.picker.SetSize(m.pickerSize())
	m.renderContent()
}

// renderContent refreshes every viewport from the cached panels.
func (m *Model) renderContent() {
	for _, p := range m.panels {
		vp, ok := m.viewports[p.ID]
		if !ok {
			continue
		}
		vp.SetContent(m.panelContent(p, vp.Width))
		if !m.scrolled[p.ID] {
			vp.GotoBottom()
		}
		m.viewports[p.ID] = vp
	}
}

// panelContent renders a panel's history wrapped to width.
func (m Model) panelContent(p model.Panel, width int) string {
	if len(p.Messages) == 0 {
		if !p.HasModel() {
			return m.theme.PanelEmpty.Render(util.WrapWidth("No model selected. Press C-o to pick one.", width))
		}
		return m.theme.PanelEmpty.Render(util.WrapWidth("Send a prompt to start.", width))
	}

	var sb strings.Builder
	last := len(p.Messages) - 1
	for i, msg := range p.Messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		streaming := p.Generating && i == last && msg.Role == model.RoleAssistant

		switch msg.Role {
		case model.RoleUser:
			sb.WriteString(m.theme.UserLabel.Render(msg.Role.DisplayName()))
			sb.WriteString("\n")
			sb.WriteString(m.theme.MessageBody.Render(util.WrapWidth(msg.Content, width)))

		default:
			sb.WriteString(m.theme.AssistantLabel.Render(p.Model.DisplayName()))
			sb.WriteString("\n")
			switch {
			case streaming:
				sb.WriteString(util.WrapWidth(msg.Content, width))
				sb.WriteString(m.theme.Cursor.Render(styles.CursorFrame(m.tick)))
			case stream.IsNotice(msg.Content) || msg.Content == dispatch.MissingKeyNotice:
				sb.WriteString(m.theme.Notice.Render(util.WrapWidth(msg.Content, width)))
			case m.opts.RenderMarkdown:
				sb.WriteString(m.markdown.Render(msg.ID, msg.Content, width))
			default:
				sb.WriteString(m.theme.MessageBody.Render(util.WrapWidth(msg.Content, width)))
			}
		}
	}

	// Waiting for the first frame.
	if p.Generating && p.Messages[last].Role == model.RoleUser {
		sb.WriteString("\n\n")
		sb.WriteString(m.spinner.View())
		sb.WriteString(m.theme.Generating.Render(" waiting for " + p.Model.DisplayName()))
	}
	return sb.String()
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the workspace.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	if m.pickerOpen {
		return m.renderPicker()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderPanels(),
		m.renderComposer(),
		m.renderStatusBar(),
	)
}

func (m Model) renderHeader() string {
	parts := []string{
		m.theme.HeaderBrand.Render("llm-arena"),
		m.theme.HeaderMeta.Render(fmt.Sprintf("%d panels", len(m.panels))),
	}

	if m.syncMode {
		parts = append(parts, m.theme.SyncOn.Render(fmt.Sprintf("SYNC %d/%d", m.eligibleCount(), len(m.panels))))
	} else {
		parts = append(parts, m.theme.SyncOff.Render("sync off"))
	}

	generating := 0
	for _, p := range m.panels {
		if p.Generating {
			generating++
		}
	}
	if generating > 0 {
		parts = append(parts, m.spinner.View()+m.theme.Generating.Render(fmt.Sprintf(" %d generating", generating)))
	}

	visible, _ := m.theme.Columns(len(m.panels))
	if m.offset > 0 || m.offset+visible < len(m.panels) {
		parts = append(parts, m.theme.HeaderMeta.Render(
			fmt.Sprintf("showing %d-%d", m.offset+1, m.offset+visible)))
	}

	line := util.TruncateWidth(strings.Join(parts, "  "), m.width-2)
	return m.theme.Header.Width(m.width).Render(line)
}

func (m Model) renderPanels() string {
	visible, colWidth := m.theme.Columns(len(m.panels))
	height := m.panelRowHeight()

	cols := make([]string, 0, visible)
	for i := m.offset; i < m.offset+visible && i < len(m.panels); i++ {
		cols = append(cols, m.renderPanel(i, colWidth, height))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}

func (m Model) renderPanel(i, width, height int) string {
	p := m.panels[i]
	inner := width - panelChromeWidth

	title := fmt.Sprintf("%d %s", i+1, p.Model.DisplayName())
	var titleLine string
	if p.Generating {
		titleLine = m.theme.PanelTitleStyle(i).Render(util.TruncateWidth(title, inner-2)) + " " + m.spinner.View()
	} else {
		titleLine = m.theme.PanelTitleStyle(i).Render(util.TruncateWidth(title, inner))
	}

	metaLine := m.theme.PanelMeta.Render(util.TruncateWidth(m.panelMeta(p), inner))

	vp := m.viewports[p.ID]
	body := lipgloss.JoinVertical(lipgloss.Left, titleLine, metaLine, vp.View())

	box := m.theme.Panel
	if i == m.focus {
		box = m.theme.PanelFocused
	}
	// Width and Height exclude the border.
	return box.Width(width - 2).Height(height - 2).Render(body)
}

// panelMeta summarises history size and the context window gauge.
func (m Model) panelMeta(p model.Panel) string {
	meta := fmt.Sprintf("%d msgs", p.MessageCount())
	if !p.HasModel() {
		return meta
	}
	budget := m.budgets.get(p)
	if budget.Window <= 0 {
		return meta + " | " + p.Model.ContextString()
	}
	pct := float64(budget.Prompt) / float64(budget.Window) * 100
	meta += fmt.Sprintf(" | ctx [%s] %.0f%%", styles.RenderProgressBar(gaugeWidth, pct), pct)
	if budget.Over() {
		meta += " " + styles.StatusIndicators.Warning
	}
	return meta
}

// budgetCache memoizes each panel's token budget between redraws.
// PERFORMANCE: the spinner redraws ten times a second.
type budgetCache struct {
	mu      sync.Mutex
	entries map[budgetKey]tokens.Budget
}

type budgetKey struct {
	panelID string
	count   int
	size    int
	window  int
	output  int
}

func newBudgetCache() *budgetCache {
	return &budgetCache{entries: make(map[budgetKey]tokens.Budget)}
}

func (c *budgetCache) get(p model.Panel) tokens.Budget {
	k := budgetKey{
		panelID: p.ID,
		count:   len(p.Messages),
		window:  p.Model.ContextWindow,
		output:  p.Config.MaxOutputTokens,
	}
	if last := p.LastMessage(); last != nil {
		k.size = len(last.Content)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.entries[k]; ok {
		return b
	}
	b := tokens.Check(p.Messages, p.Config, p.Model.ContextWindow)
	// One entry per panel is enough.
	for old := range c.entries {
		if old.panelID == p.ID {
			delete(c.entries, old)
		}
	}
	c.entries[k] = b
	return b
}

func (m Model) renderComposer() string {
	style := m.theme.InputFocused
	if m.syncMode {
		style = style.BorderForeground(styles.Cyan)
	}
	return style.Width(m.width).Render(m.composer.View())
}

func (m Model) renderStatusBar() string {
	if text, isErr := m.currentStatus(); text != "" {
		if isErr {
			text = styles.StatusIndicators.Error + " " + text
			return m.theme.StatusBar.Width(m.width).Render(m.theme.StatusError.Render(util.TruncateWidth(text, m.width-2)))
		}
		text = styles.StatusIndicators.Success + " " + text
		return m.theme.StatusBar.Width(m.width).Render(m.theme.StatusInfo.Render(util.TruncateWidth(text, m.width-2)))
	}

	h := m.help
	h.Width = m.width - 2
	return m.theme.StatusBar.Width(m.width).Render(h.ShortHelpView(m.keys.ShortHelp()))
}

func (m Model) renderHelp() string {
	h := m.help
	h.Width = m.width - 4
	box := m.theme.Picker.Render(lipgloss.JoinVertical(lipgloss.Left,
		m.theme.PickerTitle.Render("Keys"),
		"",
		h.View(m.keys),
		"",
		m.theme.PickerDesc.Render("Any key to close"),
	))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}
