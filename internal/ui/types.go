package ui

import (
	"context"
	"log/slog"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"

	"parley/internal/catalog"
	"parley/internal/dispatch"
	"parley/internal/models"
	"parley/internal/scroll"
	"parley/internal/selection"
	"parley/internal/session"
)

const (
	MaxChatWidth    = 100
	HistoryPageSize = 10
	maxInputHeight  = 6
)

// ModalWidth shrinks with the terminal.
var ModalWidth = 60

// HistoryService is the part of the chat-history client the UI calls
// directly. Sends persist through the dispatcher.
type HistoryService interface {
	List(ctx context.Context) ([]models.ChatSession, error)
	Get(ctx context.Context, id string) (models.ChatDetail, error)
	Rename(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) error
}

// Deps is everything the UI is built from.
type Deps struct {
	Store      *session.Store
	Dispatcher *dispatch.Dispatcher
	Catalog    *catalog.Catalog
	History    HistoryService
	Defaults   *selection.Defaults
	Logger     *slog.Logger
	WorkingDir string
}

type (
	catalogLoadedMsg struct{ models []models.AIModel }

	sessionLoadedMsg struct {
		gen    uint64
		detail models.ChatDetail
		err    error
	}

	sendDoneMsg struct{ out *dispatch.Outcome }

	historyListMsg struct {
		sessions []models.ChatSession
		err      error
	}

	sessionDeletedMsg struct {
		id  string
		err error
	}

	sessionRenamedMsg struct {
		gen   uint64
		title string
		err   error
	}

	defaultSavedMsg struct {
		saved selection.Selection
		err   error
	}
)

// selectorItem is one row of the model selector. Header rows are not
// selectable.
type selectorItem struct {
	header string
	bucket string
	sel    selection.Selection
}

type Model struct {
	deps   Deps
	logger *slog.Logger

	Viewport      viewport.Model
	ModelViewport viewport.Model
	TextInput     textarea.Model
	Spinner       spinner.Model
	Renderer      *glamour.TermRenderer
	Scroll        scroll.Controller

	WindowWidth  int
	WindowHeight int

	AppMode models.AppMode
	Notice  string

	// rendered caches glamour output by message id.
	rendered map[string]string

	loadCancel context.CancelFunc

	HistoryOpen        bool
	HistoryLoading     bool
	HistorySessions    []models.ChatSession
	HistoryErr         error
	HistorySelectedIdx int
	HistoryPage        int

	ModelSelectorOpen bool
	selectorItems     []selectorItem
	selectorLines     []int
	SelectorIdx       int

	ShortcutsOpen bool

	FileSuggestOpen bool
	FileSuggestions []string
	FileSuggestIdx  int
	PendingFiles    []string

	WorkingDir string
}
