package ui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"parley/internal/catalog"
	"parley/internal/models"
	"parley/internal/selection"
	"parley/internal/styles"
)

// buildSelectorItems lists Auto, the provider defaults, then the catalog
// grouped by provider bucket.
func buildSelectorItems(list []models.AIModel) []selectorItem {
	items := []selectorItem{{header: "Routing"}, {sel: selection.Auto{}}}
	for _, b := range models.ProviderBuckets {
		items = append(items, selectorItem{bucket: b, sel: selection.ProviderDefault{Provider: b}})
	}

	groups := catalog.GroupByProvider(list)
	for _, bucket := range catalog.ProviderOrder(groups) {
		items = append(items, selectorItem{header: models.ProviderDisplayName(bucket), bucket: bucket})
		for _, mdl := range groups[bucket] {
			items = append(items, selectorItem{
				bucket: bucket,
				sel:    selection.SpecificModel{ID: mdl.ID, DisplayName: mdl.DisplayName},
			})
		}
	}
	return items
}

func (m *Model) openModelSelector() tea.Cmd {
	m.ModelSelectorOpen = true
	m.HistoryOpen = false
	m.ShortcutsOpen = false

	var list []models.AIModel
	if m.deps.Catalog != nil {
		list = m.deps.Catalog.Models()
	}
	m.selectorItems = buildSelectorItems(list)

	current := m.deps.Store.Selection()
	m.SelectorIdx = -1
	for i, it := range m.selectorItems {
		if it.sel != nil && selection.Equal(it.sel, current) {
			m.SelectorIdx = i
			break
		}
	}
	if m.SelectorIdx < 0 {
		m.SelectorIdx = 0
		m.moveSelector(1)
	}
	m.UpdateModelSelectorContent()
	m.SyncModelViewportScroll()
	return m.refreshCatalogCmd()
}

// moveSelector steps delta rows, skipping headers and wrapping around.
func (m *Model) moveSelector(delta int) {
	n := len(m.selectorItems)
	if n == 0 {
		return
	}
	idx := m.SelectorIdx
	for range n {
		idx = ((idx+delta)%n + n) % n
		if m.selectorItems[idx].sel != nil {
			m.SelectorIdx = idx
			return
		}
	}
}

// chooseSelection applies sel to the active session and saves its provider
// level as the standing default.
func (m *Model) chooseSelection(sel selection.Selection) tea.Cmd {
	m.deps.Store.SetSelection(sel)
	m.ModelSelectorOpen = false
	m.UpdateViewport()

	defaults := m.deps.Defaults
	if defaults == nil {
		return nil
	}
	return func() tea.Msg {
		saved, err := defaults.Persist(context.Background(), sel)
		return defaultSavedMsg{saved: saved, err: err}
	}
}

func (m *Model) UpdateModelSelectorContent() {
	current := m.deps.Store.Selection()
	lines := make([]string, 0, len(m.selectorItems)+8)
	m.selectorLines = make([]int, len(m.selectorItems))

	for i, it := range m.selectorItems {
		if it.header != "" {
			if i > 0 {
				lines = append(lines, "")
			}
			color := styles.ProviderColor(it.bucket)
			if it.bucket == "" {
				color = styles.CurrentTheme.Primary
			}
			m.selectorLines[i] = len(lines)
			lines = append(lines, styles.Row(styles.ModalHeaderStyle.Foreground(color), it.header))
			continue
		}

		name := "  " + it.sel.Label()
		if selection.Equal(it.sel, current) {
			name = "● " + it.sel.Label()
		}
		name = TruncateRunes(name, styles.ContentWidth-2)

		m.selectorLines[i] = len(lines)
		if i == m.SelectorIdx {
			lines = append(lines, styles.Row(styles.ModalSelectedStyle, name))
			continue
		}
		style := styles.ModalItemStyle
		if selection.Equal(it.sel, current) {
			style = style.Foreground(styles.CurrentTheme.Secondary)
		}
		lines = append(lines, styles.Row(style, name))
	}
	m.ModelViewport.SetContent(strings.Join(lines, "\n"))
}

// SyncModelViewportScroll keeps the selected row, and its group header when
// it is the first row of a group, inside the modal viewport.
func (m *Model) SyncModelViewportScroll() {
	if m.SelectorIdx < 0 || m.SelectorIdx >= len(m.selectorLines) {
		return
	}
	line := m.selectorLines[m.SelectorIdx]
	top := line
	if m.SelectorIdx > 0 && m.selectorItems[m.SelectorIdx-1].header != "" {
		top = m.selectorLines[m.SelectorIdx-1]
	}

	if line+1 > m.ModelViewport.YOffset+m.ModelViewport.Height {
		m.ModelViewport.SetYOffset(line + 1 - m.ModelViewport.Height)
	}
	if top < m.ModelViewport.YOffset {
		m.ModelViewport.SetYOffset(top)
	}
}

func (m *Model) RenderModelSelector() string {
	title := styles.Row(styles.ModalTitleStyle, "Select Routing")
	hint := styles.Row(styles.HintStyle.PaddingTop(1), "↑/↓: navigate • Enter: select • Esc: close")
	return lipgloss.JoinVertical(lipgloss.Left, title, m.ModelViewport.View(), hint)
}
