package ui

import (
	"context"
	"log/slog"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"parley/internal/models"
	"parley/internal/styles"
)

func New(deps Deps) *Model {
	ti := textarea.New()
	ti.Placeholder = "Type a message... (@ to attach a file)"
	ti.Prompt = "❯ "
	ti.ShowLineNumbers = false
	ti.CharLimit = 0
	ti.MaxHeight = maxInputHeight
	ti.SetHeight(2)
	ti.SetWidth(80)
	ti.FocusedStyle.Prompt = styles.TitleStyle.UnsetPadding()
	ti.BlurredStyle.Prompt = styles.TitleStyle.UnsetPadding()
	ti.FocusedStyle.Placeholder = styles.HintStyle
	ti.BlurredStyle.Placeholder = styles.HintStyle
	ti.FocusedStyle.CursorLine = ti.FocusedStyle.CursorLine.UnsetBackground()
	ti.BlurredStyle.CursorLine = ti.BlurredStyle.CursorLine.UnsetBackground()
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.TitleStyle.UnsetPadding()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cwd := deps.WorkingDir
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	return &Model{
		deps:          deps,
		logger:        logger,
		TextInput:     ti,
		Viewport:      viewport.New(60, 15),
		ModelViewport: viewport.New(ModalWidth-4, 15),
		Spinner:       sp,
		AppMode:       models.ModeChat,
		rendered:      map[string]string{},
		WorkingDir:    cwd,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.Spinner.Tick,
		m.refreshCatalogCmd(),
	)
}

func (m *Model) refreshCatalogCmd() tea.Cmd {
	if m.deps.Catalog == nil {
		return nil
	}
	cat := m.deps.Catalog
	return func() tea.Msg {
		return catalogLoadedMsg{models: cat.Refresh(context.Background())}
	}
}

// NewProgram builds the bubbletea program for deps.
func NewProgram(deps Deps) *tea.Program {
	styles.InitTheme()
	m := New(deps)
	return tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
}
