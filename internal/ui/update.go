package ui

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"parley/internal/chaterr"
	"parley/internal/dispatch"
	"parley/internal/models"
	"parley/internal/styles"
)

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		if m.deps.Store.HasPending() || m.deps.Store.Loading() {
			m.UpdateViewport()
		}
		return m, cmd

	case catalogLoadedMsg:
		m.logger.Debug("catalog refreshed", "models", len(msg.models))
		if m.ModelSelectorOpen {
			keep := m.selectedItem()
			m.selectorItems = buildSelectorItems(m.deps.Catalog.Models())
			m.reselect(keep)
			m.UpdateModelSelectorContent()
			m.SyncModelViewportScroll()
		}
		return m, nil

	case sessionLoadedMsg:
		m.applyLoad(msg)
		return m, nil

	case sendDoneMsg:
		if !m.deps.Dispatcher.Complete(msg.out) {
			m.logger.Debug("send result not applied", "temp_id", msg.out.Turn.TempID)
		}
		m.UpdateViewport()
		return m, nil

	case historyListMsg:
		m.HistoryLoading = false
		m.HistoryErr = msg.err
		m.HistorySessions = msg.sessions
		if msg.err != nil {
			m.logger.Warn("failed to list chats", "error", msg.err)
			m.HistorySessions = nil
		}
		sort.SliceStable(m.HistorySessions, func(i, j int) bool {
			return sessionTime(m.HistorySessions[i]).After(sessionTime(m.HistorySessions[j]))
		})
		m.HistoryPage = 0
		m.HistorySelectedIdx = 0
		return m, nil

	case sessionDeletedMsg:
		if msg.err != nil {
			m.logger.Warn("failed to delete chat", "session_id", msg.id, "error", msg.err)
			m.Notice = "Could not delete the conversation. " + chaterr.From(msg.err).UserMessage()
			return m, nil
		}
		m.removeHistorySession(msg.id)
		m.Notice = "Conversation deleted."
		if msg.id == m.deps.Store.SessionID() {
			m.startNew()
		}
		return m, nil

	case sessionRenamedMsg:
		if msg.err != nil {
			m.logger.Warn("failed to rename chat", "error", msg.err)
			m.Notice = "Could not rename the conversation. " + chaterr.From(msg.err).UserMessage()
			return m, nil
		}
		if msg.gen == m.deps.Store.Generation() {
			m.deps.Store.SetTitle(msg.title)
		}
		m.Notice = "Renamed to " + msg.title
		return m, nil

	case defaultSavedMsg:
		if msg.err != nil {
			m.logger.Warn("failed to save default routing", "error", msg.err)
			m.Notice = "Could not save the default routing."
			return m, nil
		}
		m.logger.Debug("default routing saved", "token", msg.saved.Token())
		return m, nil

	case tea.MouseMsg:
		if m.anyModalOpen() {
			return m, nil
		}
		var cmd tea.Cmd
		m.Viewport, cmd = m.Viewport.Update(msg)
		m.Scroll.OnUserScroll(m.Viewport.AtBottom())
		return m, cmd

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	return m, m.updateInput(msg)
}

func (m *Model) anyModalOpen() bool {
	return m.HistoryOpen || m.ModelSelectorOpen || m.ShortcutsOpen
}

// handleKey reports false when the key should go to the text input.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	if msg.Type == tea.KeyCtrlC {
		m.cancelLoad()
		return tea.Quit, true
	}

	switch {
	case m.HistoryOpen:
		return m.handleHistoryKey(msg), true
	case m.ModelSelectorOpen:
		return m.handleSelectorKey(msg), true
	case m.ShortcutsOpen:
		switch msg.String() {
		case "esc", "enter", "?", "ctrl+s":
			m.ShortcutsOpen = false
		}
		return nil, true
	}

	if isNewlineShortcut(msg) {
		m.TextInput.InsertString("\n")
		m.FileSuggestOpen = false
		m.updateInputLayout()
		return nil, true
	}

	if m.FileSuggestOpen {
		switch msg.String() {
		case "esc":
			m.FileSuggestOpen = false
			return nil, true
		case "up", "ctrl+p":
			m.FileSuggestIdx = (m.FileSuggestIdx - 1 + len(m.FileSuggestions)) % len(m.FileSuggestions)
			return nil, true
		case "down", "ctrl+n":
			m.FileSuggestIdx = (m.FileSuggestIdx + 1) % len(m.FileSuggestions)
			return nil, true
		case "tab", "enter":
			m.acceptSuggestion()
			return nil, true
		}
	}

	switch msg.Type {
	case tea.KeyEsc:
		m.cancelLoad()
		return tea.Quit, true

	case tea.KeyCtrlN:
		m.startNew()
		return nil, true

	case tea.KeyCtrlA:
		if m.AppMode == models.ModeChat {
			m.AppMode = models.ModeAgent
		} else {
			m.AppMode = models.ModeChat
		}
		return nil, true

	case tea.KeyCtrlB:
		return m.openModelSelector(), true

	case tea.KeyCtrlS:
		m.ShortcutsOpen = true
		m.ModelSelectorOpen = false
		m.HistoryOpen = false
		return nil, true

	case tea.KeyCtrlH:
		return m.openHistory(), true

	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyCtrlU, tea.KeyCtrlD:
		var cmd tea.Cmd
		m.Viewport, cmd = m.Viewport.Update(msg)
		m.Scroll.OnUserScroll(m.Viewport.AtBottom())
		return cmd, true

	case tea.KeyEnter:
		return m.submit(), true
	}
	return nil, false
}

func (m *Model) handleSelectorKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc", "ctrl+b":
		m.ModelSelectorOpen = false
	case "up", "k":
		m.moveSelector(-1)
		m.UpdateModelSelectorContent()
		m.SyncModelViewportScroll()
	case "down", "j":
		m.moveSelector(1)
		m.UpdateModelSelectorContent()
		m.SyncModelViewportScroll()
	case "enter":
		if it := m.selectedItem(); it.sel != nil {
			return m.chooseSelection(it.sel)
		}
	}
	return nil
}

func (m *Model) selectedItem() selectorItem {
	if m.SelectorIdx < 0 || m.SelectorIdx >= len(m.selectorItems) {
		return selectorItem{}
	}
	return m.selectorItems[m.SelectorIdx]
}

// reselect points the cursor at the row holding the same selection as it.
func (m *Model) reselect(it selectorItem) {
	for i, cand := range m.selectorItems {
		if cand.sel != nil && it.sel != nil && cand.sel.Token() == it.sel.Token() {
			m.SelectorIdx = i
			return
		}
	}
	m.SelectorIdx = 0
	m.moveSelector(1)
}

func (m *Model) handleHistoryKey(msg tea.KeyMsg) tea.Cmd {
	page := m.historyPageItems()
	switch msg.String() {
	case "esc", "ctrl+h":
		m.HistoryOpen = false
		m.HistoryErr = nil
	case "up", "k":
		if len(page) > 0 {
			m.HistorySelectedIdx = (m.HistorySelectedIdx - 1 + len(page)) % len(page)
		}
	case "down", "j":
		if len(page) > 0 {
			m.HistorySelectedIdx = (m.HistorySelectedIdx + 1) % len(page)
		}
	case "left", "h":
		if m.HistoryPage > 0 {
			m.HistoryPage--
			m.HistorySelectedIdx = 0
		}
	case "right", "l":
		if m.HistoryPage < m.historyPageCount()-1 {
			m.HistoryPage++
			m.HistorySelectedIdx = 0
		}
	case "r":
		return m.openHistory()
	case "d":
		if len(page) > 0 {
			return m.deleteSessionCmd(page[m.HistorySelectedIdx].ID)
		}
	case "enter":
		if len(page) > 0 {
			m.HistoryOpen = false
			return m.openSession(page[m.HistorySelectedIdx].ID)
		}
	}
	return nil
}

func (m *Model) historyPageCount() int {
	return max(1, (len(m.HistorySessions)+HistoryPageSize-1)/HistoryPageSize)
}

func (m *Model) historyPageItems() []models.ChatSession {
	start := m.HistoryPage * HistoryPageSize
	if start >= len(m.HistorySessions) {
		return nil
	}
	end := min(start+HistoryPageSize, len(m.HistorySessions))
	return m.HistorySessions[start:end]
}

func (m *Model) removeHistorySession(id string) {
	out := m.HistorySessions[:0]
	for _, s := range m.HistorySessions {
		if s.ID != id {
			out = append(out, s)
		}
	}
	m.HistorySessions = out
	if m.HistoryPage >= m.historyPageCount() {
		m.HistoryPage = m.historyPageCount() - 1
	}
	if n := len(m.historyPageItems()); m.HistorySelectedIdx >= n {
		m.HistorySelectedIdx = max(0, n-1)
	}
}

func isNewlineShortcut(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "shift+enter", "ctrl+j", "alt+enter":
		return true
	default:
		return false
	}
}

// submit runs a slash command or starts a send.
func (m *Model) submit() tea.Cmd {
	input := strings.TrimSpace(m.TextInput.Value())
	if input == "" {
		return nil
	}
	if cmd, ok := m.runCommand(input); ok {
		m.TextInput.Reset()
		m.updateInputLayout()
		return cmd
	}

	clean, files := ExtractFileMentions(input, m.WorkingDir)
	var notice, image string
	var textFiles []string
	for _, f := range files {
		if !IsImageFile(f) {
			textFiles = append(textFiles, f)
			continue
		}
		if image != "" {
			notice = "Only one image can be attached per message; ignored " + filepath.Base(f)
			continue
		}
		data, err := LoadImage(resolvePath(m.WorkingDir, f))
		if err != nil {
			m.Notice = "Could not attach " + filepath.Base(f) + ": " + err.Error()
			return nil
		}
		image = data
	}

	text := clean
	if len(files) > 0 {
		names := make([]string, len(files))
		for i, f := range files {
			names[i] = filepath.Base(f)
		}
		text = strings.TrimSpace(clean + "\n📎 " + strings.Join(names, ", "))
	}

	turn, err := m.deps.Dispatcher.Begin(dispatch.Input{
		Text:        text,
		Image:       image,
		Mode:        m.AppMode,
		Attachments: BuildFileContext(m.WorkingDir, textFiles),
	})
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrBusy):
			m.Notice = "Wait for the current reply before sending another message."
		case errors.Is(err, dispatch.ErrLoading):
			m.Notice = "Wait for the conversation to finish loading."
		default:
			m.Notice = chaterr.From(err).UserMessage()
		}
		return nil
	}

	m.TextInput.Reset()
	m.PendingFiles = nil
	m.FileSuggestOpen = false
	m.Notice = notice
	m.Scroll.OnSend()
	m.updateInputLayout()
	m.UpdateViewport()

	d := m.deps.Dispatcher
	return func() tea.Msg {
		return sendDoneMsg{out: d.Run(context.Background(), turn)}
	}
}

// runCommand handles /new, /clear, /rename <title>, /delete and /help. It
// reports false for anything else so the text is sent as a message.
func (m *Model) runCommand(input string) (tea.Cmd, bool) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/new", "/clear", "/reset":
		m.startNew()
		return nil, true

	case "/help":
		m.ShortcutsOpen = true
		return nil, true

	case "/rename":
		id := m.deps.Store.SessionID()
		switch {
		case id == "":
			m.Notice = "Send a message first; drafts have no title to rename."
			return nil, true
		case arg == "":
			m.Notice = "Usage: /rename <title>"
			return nil, true
		}
		gen := m.deps.Store.Generation()
		hist := m.deps.History
		return func() tea.Msg {
			err := hist.Rename(context.Background(), id, arg)
			return sessionRenamedMsg{gen: gen, title: arg, err: err}
		}, true

	case "/delete":
		id := m.deps.Store.SessionID()
		if id == "" {
			m.startNew()
			return nil, true
		}
		return m.deleteSessionCmd(id), true
	}
	return nil, false
}

func (m *Model) deleteSessionCmd(id string) tea.Cmd {
	hist := m.deps.History
	return func() tea.Msg {
		return sessionDeletedMsg{id: id, err: hist.Delete(context.Background(), id)}
	}
}

func (m *Model) openHistory() tea.Cmd {
	m.HistoryOpen = true
	m.ModelSelectorOpen = false
	m.ShortcutsOpen = false
	m.HistoryLoading = true
	m.HistoryErr = nil

	hist := m.deps.History
	return func() tea.Msg {
		sessions, err := hist.List(context.Background())
		return historyListMsg{sessions: sessions, err: err}
	}
}

func (m *Model) cancelLoad() {
	if m.loadCancel != nil {
		m.loadCancel()
		m.loadCancel = nil
	}
}

func (m *Model) resetView() {
	m.Scroll.OnReset()
	m.rendered = map[string]string{}
	m.Viewport.GotoTop()
}

func (m *Model) startNew() {
	m.cancelLoad()
	m.deps.Store.StartNew()
	m.resetView()
	m.HistoryOpen = false
	m.TextInput.Reset()
	m.PendingFiles = nil
	m.updateInputLayout()
	m.UpdateViewport()
}

// openSession switches to id and fetches it. The fetch is cancelled if the
// user switches again before it finishes.
func (m *Model) openSession(id string) tea.Cmd {
	m.cancelLoad()
	gen := m.deps.Store.Open(id)
	m.resetView()
	m.UpdateViewport()

	ctx, cancel := context.WithCancel(context.Background())
	m.loadCancel = cancel
	hist := m.deps.History
	return func() tea.Msg {
		detail, err := hist.Get(ctx, id)
		return sessionLoadedMsg{gen: gen, detail: detail, err: err}
	}
}

func (m *Model) applyLoad(msg sessionLoadedMsg) {
	store := m.deps.Store
	if msg.gen != store.Generation() {
		m.logger.Debug("dropping stale session load", "generation", msg.gen)
		return
	}
	m.cancelLoad()

	if msg.err != nil {
		m.logger.Warn("failed to load chat", "error", msg.err)
		store.FailLoad(msg.gen, msg.err)
	} else {
		store.ApplyLoad(msg.gen, msg.detail)
	}
	m.UpdateViewport()
	m.Viewport.GotoBottom()
}

func (m *Model) acceptSuggestion() {
	if m.FileSuggestIdx >= len(m.FileSuggestions) {
		m.FileSuggestOpen = false
		return
	}
	selected := m.FileSuggestions[m.FileSuggestIdx]
	val := m.TextInput.Value()
	prefix, start, found := GetAtPosition(val, TextareaCursorIndex(m.TextInput))
	if found {
		mention := "@" + selected
		if strings.ContainsAny(selected, " \t") {
			mention = `@"` + selected + `"`
		}
		newVal := val[:start] + mention + " " + val[start+1+len(prefix):]
		m.TextInput.SetValue(newVal)
		row, col := TextareaCursorFromIndex(newVal, start+len(mention)+1)
		SetTextareaCursor(&m.TextInput, row, col)
	}
	m.FileSuggestOpen = false
	_, m.PendingFiles = ExtractFileMentions(m.TextInput.Value(), m.WorkingDir)
}

func (m *Model) updateInput(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.TextInput, cmd = m.TextInput.Update(msg)
	if _, ok := msg.(tea.KeyMsg); !ok {
		return cmd
	}
	m.updateInputLayout()

	// Terminal color query replies can leak into the input on startup.
	val := m.TextInput.Value()
	if strings.Contains(val, "]11;rgb:") || strings.Contains(val, "1;rgb:") || strings.Contains(val, "[1;1R") {
		m.TextInput.Reset()
		val = ""
	}

	if prefix, _, found := GetAtPosition(val, TextareaCursorIndex(m.TextInput)); found {
		m.FileSuggestions = GetFileSuggestions(m.WorkingDir, prefix)
		m.FileSuggestOpen = len(m.FileSuggestions) > 0
		m.FileSuggestIdx = 0
	} else {
		m.FileSuggestOpen = false
	}

	_, m.PendingFiles = ExtractFileMentions(val, m.WorkingDir)
	return cmd
}

func (m *Model) resize(width, height int) {
	m.WindowWidth = width
	m.WindowHeight = height

	ModalWidth = max(30, min(width-10, 60))
	styles.ContentWidth = ModalWidth - 6

	m.ModelViewport.Width = styles.ContentWidth
	m.ModelViewport.Height = max(5, min(height-15, 20))

	chatWidth := min(width-2, MaxChatWidth)
	m.Viewport.Width = chatWidth - 2

	glamourStyle := "dark"
	if !lipgloss.HasDarkBackground() {
		glamourStyle = "light"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(glamourStyle),
		glamour.WithWordWrap(max(chatWidth-6, 20)),
	)
	if err != nil {
		m.logger.Warn("markdown renderer unavailable", "error", err)
		r = nil
	}
	m.Renderer = r
	m.rendered = map[string]string{}

	m.updateInputLayout()
	m.UpdateViewport()
}

func (m *Model) updateInputLayout() {
	if m.WindowWidth == 0 || m.WindowHeight == 0 {
		return
	}

	inputWidth := max(m.WindowWidth-6, 20)
	contentWidth := max(inputWidth-2, 1)
	lines := max(1, min(WrappedLineCount(m.TextInput.Value(), contentWidth), maxInputHeight))

	m.TextInput.MaxHeight = maxInputHeight
	m.TextInput.SetWidth(inputWidth)
	m.TextInput.SetHeight(lines)

	reserved := m.TextInput.Height() + 2 + 5
	m.Viewport.Height = max(m.WindowHeight-reserved, 5)
}
