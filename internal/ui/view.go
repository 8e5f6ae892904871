package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"parley/internal/models"
	"parley/internal/selection"
	"parley/internal/session"
	"parley/internal/styles"
)

func (m *Model) RenderHistorySelector() string {
	title := styles.Row(styles.ModalTitleStyle, fmt.Sprintf("Conversations (%d) - Page %d/%d",
		len(m.HistorySessions), m.HistoryPage+1, m.historyPageCount()))

	var body string
	page := m.historyPageItems()
	switch {
	case m.HistoryLoading:
		body = styles.Row(styles.ModalItemStyle, m.Spinner.View()+" Loading...")
	case m.HistoryErr != nil:
		body = styles.Row(styles.ModalItemStyle, styles.ErrorStyle.Render("Could not load conversations."))
	case len(page) == 0:
		body = styles.Row(styles.ModalItemStyle, styles.HintStyle.Render("No conversations yet"))
	default:
		current := m.deps.Store.SessionID()
		items := make([]string, 0, len(page))
		for i, s := range page {
			cursor := "  "
			if i == m.HistorySelectedIdx {
				cursor = "> "
			}
			if s.ID == current {
				cursor = "● "
			}
			when := RelativeTime(sessionTime(s))
			avail := styles.ContentWidth - 2 - len(cursor) - 1 - len(when)
			line := cursor + TruncateRunes(sessionLabel(s), avail) + " " + styles.HintStyle.Render(when)

			if i == m.HistorySelectedIdx {
				items = append(items, styles.Row(styles.ModalSelectedStyle, line))
			} else {
				items = append(items, styles.Row(styles.ModalItemStyle, line))
			}
		}
		body = lipgloss.JoinVertical(lipgloss.Left, items...)
	}

	hint := styles.Row(styles.HintStyle.PaddingTop(1), "↑/↓: navigate • ←/→: page • Enter: open • d: delete • Esc: close")
	return lipgloss.JoinVertical(lipgloss.Left, title, body, hint)
}

var shortcuts = []struct {
	key  string
	desc string
}{
	{"Ctrl+C", "Quit"},
	{"Ctrl+N", "New conversation"},
	{"Ctrl+A", "Toggle Agent/Chat mode"},
	{"Ctrl+B", "Select routing"},
	{"Ctrl+H", "Conversations"},
	{"Ctrl+S", "Shortcuts (this menu)"},
	{"PgUp/PgDn", "Scroll"},
	{"@path", "Attach a file or image"},
	{"/rename", "Rename conversation"},
	{"/delete", "Delete conversation"},
	{"/new", "New conversation"},
}

func (m *Model) RenderShortcutsModal() string {
	title := styles.Row(styles.ModalTitleStyle, "Keyboard Shortcuts")

	items := make([]string, 0, len(shortcuts))
	for _, s := range shortcuts {
		items = append(items, styles.Row(styles.ModalItemStyle, styles.KeyStyle.Render(s.key)+" "+s.desc))
	}

	hint := styles.Row(styles.HintStyle.PaddingTop(1), "Esc/Enter: close")
	return lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, items...), hint)
}

func (m *Model) RenderBottomBar() string {
	snap := m.deps.Store.Snapshot()

	modeText, modeColor := "CHAT", styles.CurrentTheme.ModeChat
	if m.AppMode == models.ModeAgent {
		modeText, modeColor = "AGENT", styles.CurrentTheme.ModeAgent
	}
	mode := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(modeColor).
		Padding(0, 1).
		Render(modeText)

	cwdDisplay := m.WorkingDir
	if home, err := os.UserHomeDir(); err == nil && strings.HasPrefix(cwdDisplay, home) {
		cwdDisplay = "~" + cwdDisplay[len(home):]
	}
	cwd := styles.HintStyle.Render(TruncateRunes(cwdDisplay, 30))

	left := []string{mode, "  ", cwd, "  ", m.renderSelection(snap.Selection)}
	if _, auto := snap.Selection.(selection.Auto); auto && snap.Health != models.HealthUnknown {
		health := lipgloss.NewStyle().Foreground(styles.HealthColor(snap.Health)).Render("● " + snap.Health.String())
		left = append(left, " ", health)
	}
	leftSide := lipgloss.JoinHorizontal(lipgloss.Center, left...)

	var right []string
	if notice := m.statusNotice(snap); notice != "" {
		right = append(right, styles.WarningStyle.Render(TruncateRunes(notice, max(m.WindowWidth/3, 10))), "  ")
	}
	if usage := FormatUsage(totalUsage(snap.Messages)); usage != "" {
		right = append(right, usage, "  ")
	}
	right = append(right, styles.HintStyle.Render("Help: ^S"))
	rightSide := lipgloss.JoinHorizontal(lipgloss.Center, right...)

	gap := max(m.WindowWidth-lipgloss.Width(leftSide)-lipgloss.Width(rightSide)-2, 0)
	bar := lipgloss.JoinHorizontal(lipgloss.Center, leftSide, strings.Repeat(" ", gap), rightSide)

	return lipgloss.NewStyle().
		Width(m.WindowWidth).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.CurrentTheme.Border).
		Padding(0, 1).
		Render(bar)
}

func (m *Model) renderSelection(sel selection.Selection) string {
	if sel == nil {
		sel = selection.Auto{}
	}
	bucket := selection.ToPayload(sel).Provider
	return lipgloss.NewStyle().
		Foreground(styles.ProviderColor(bucket)).
		Render(TruncateRunes(sel.Label(), 28))
}

// statusNotice prefers the latest session warning over a UI notice.
func (m *Model) statusNotice(snap session.Snapshot) string {
	if n := len(snap.Warnings); n > 0 {
		return snap.Warnings[n-1]
	}
	return m.Notice
}

func totalUsage(msgs []models.Message) *models.Usage {
	var total models.Usage
	seen := false
	for _, msg := range msgs {
		if msg.Usage == nil {
			continue
		}
		seen = true
		total.InputTokens += msg.Usage.InputTokens
		total.OutputTokens += msg.Usage.OutputTokens
		total.TotalTokens += msg.Usage.TotalTokens
	}
	if !seen {
		return nil
	}
	return &total
}

func (m *Model) RenderPendingFiles() string {
	if len(m.PendingFiles) == 0 {
		return ""
	}
	chips := make([]string, 0, len(m.PendingFiles))
	for _, file := range m.PendingFiles {
		icon := "📄 "
		if IsImageFile(file) {
			icon = "🖼 "
		}
		chips = append(chips, styles.ChipStyle.Render(icon+filepath.Base(file)))
	}
	return styles.HintStyle.Render("Attached: ") + strings.Join(chips, " ")
}

func (m *Model) RenderFileSuggestions() string {
	if !m.FileSuggestOpen || len(m.FileSuggestions) == 0 {
		return ""
	}

	normal := lipgloss.NewStyle().Foreground(styles.CurrentTheme.Text).Padding(0, 1)
	selected := styles.ChipStyle.UnsetMarginRight()

	lines := []string{styles.HintStyle.Italic(true).Render("  Files (↑↓ to select, Tab/Enter to insert)")}
	for i, s := range m.FileSuggestions {
		display := s
		if info, err := os.Stat(filepath.Join(m.WorkingDir, s)); err == nil && info.IsDir() {
			display += "/"
		}
		if i == m.FileSuggestIdx {
			lines = append(lines, selected.Render("▸ "+display))
		} else {
			lines = append(lines, normal.Render("  "+display))
		}
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.CurrentTheme.ModeAgent).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}

func GetWelcomeScreen(width, height int) string {
	art := `
 ╭───────────────────────────────────────────────────────╮
 │                                                       │
 │   ██████   █████  ██████  ██      ███████ ██    ██    │
 │   ██   ██ ██   ██ ██   ██ ██      ██       ██  ██     │
 │   ██████  ███████ ██████  ██      █████     ████      │
 │   ██      ██   ██ ██   ██ ██      ██         ██       │
 │   ██      ██   ██ ██   ██ ███████ ███████    ██       │
 │                                                       │
 ╰───────────────────────────────────────────────────────╯
`
	subtitle := "Ask anything. Ctrl+B picks who answers."

	content := lipgloss.JoinVertical(lipgloss.Center,
		styles.WelcomeArtStyle.Render(art),
		"",
		styles.WelcomeSubtitleStyle.Render(subtitle),
	)
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, content)
}

// renderMessage draws one timeline entry.
func (m *Model) renderMessage(msg models.Message) string {
	width := m.Viewport.Width
	if msg.Role == models.RoleUser {
		return FormatUserMessage(msg.Content, width)
	}

	switch msg.Status {
	case models.StatusPending:
		status := " Thinking..."
		if m.AppMode == models.ModeAgent {
			status = " Working..."
		}
		return styles.AiLabelStyle.Render("AI") + "\n" + styles.PendingStyle.Render(m.Spinner.View()+status)

	case models.StatusError:
		return FormatAIMessage(ProviderBadge(msg.Provider, msg.Model), styles.ErrorMsgStyle.Render(msg.Content))
	}

	if msg.Violation != nil {
		return FormatAIMessage(ProviderBadge(msg.Provider, msg.Model), FormatViolation(msg.Violation, width))
	}
	return FormatAIMessage(ProviderBadge(msg.Provider, msg.Model), m.renderMarkdown(msg))
}

// renderMarkdown renders committed assistant content, cached by message id.
func (m *Model) renderMarkdown(msg models.Message) string {
	if m.Renderer == nil {
		return msg.Content
	}
	if out, ok := m.rendered[msg.ID]; ok && msg.ID != "" {
		return out
	}
	out, err := m.Renderer.Render(msg.Content)
	if err != nil {
		m.logger.Debug("markdown render failed", "error", err)
		return msg.Content
	}
	out = strings.TrimSpace(out)
	if msg.ID != "" {
		m.rendered[msg.ID] = out
	}
	return out
}

// UpdateViewport re-renders the timeline and follows the bottom when the
// scroll policy says so.
func (m *Model) UpdateViewport() {
	snap := m.deps.Store.Snapshot()

	if snap.Loading {
		m.Viewport.SetContent(lipgloss.Place(m.Viewport.Width, m.Viewport.Height, lipgloss.Center, lipgloss.Center,
			m.Spinner.View()+" Loading conversation..."))
		return
	}
	if len(snap.Messages) == 0 {
		m.Viewport.SetContent(GetWelcomeScreen(m.Viewport.Width, m.Viewport.Height))
		return
	}

	parts := make([]string, 0, len(snap.Messages))
	for _, msg := range snap.Messages {
		parts = append(parts, m.renderMessage(msg))
	}
	m.Viewport.SetContent("\n" + strings.Join(parts, "\n\n"))
	if m.Scroll.ShouldFollow(snap.Messages) {
		m.Viewport.GotoBottom()
	}
}

func (m *Model) header() string {
	title := styles.TitleStyle.Render("PARLEY")
	if t := m.deps.Store.Session().Title; t != "" {
		title += styles.HintStyle.Render(TruncateRunes(PromptPreview(t), 50))
	}
	return title
}

func (m *Model) overlay(modal string) string {
	return lipgloss.Place(
		m.WindowWidth,
		m.WindowHeight,
		lipgloss.Center,
		lipgloss.Center,
		styles.ModalStyle.Width(ModalWidth).Render(modal),
	)
}

func (m *Model) View() string {
	switch {
	case m.HistoryOpen:
		return m.overlay(m.RenderHistorySelector())
	case m.ModelSelectorOpen:
		return m.overlay(m.RenderModelSelector())
	case m.ShortcutsOpen:
		return m.overlay(m.RenderShortcutsModal())
	}

	var inputParts []string
	if pending := m.RenderPendingFiles(); pending != "" {
		inputParts = append(inputParts, pending)
	}
	if popup := m.RenderFileSuggestions(); popup != "" {
		inputParts = append(inputParts, popup)
	}
	inputParts = append(inputParts, styles.InputBoxStyle.Width(max(m.WindowWidth-4, 10)).Render(m.TextInput.View()))

	chat := lipgloss.JoinVertical(lipgloss.Center,
		m.header(),
		"",
		m.Viewport.View(),
		"",
		lipgloss.JoinVertical(lipgloss.Left, inputParts...),
	)
	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.PlaceHorizontal(m.WindowWidth, lipgloss.Center, chat),
		m.RenderBottomBar(),
	)
}
