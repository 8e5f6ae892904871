// Package dispatch runs one send from input to resolved assistant message.
//
// A send is split in three so the UI loop never blocks:
//
//	turn, err := d.Begin(input)     // on the UI loop: validate, snapshot, insert
//	out := d.Run(ctx, turn)         // in a goroutine: inference, then persistence
//	d.Complete(out)                 // back on the UI loop: bind, resolve
//
// Run never touches the session store. Complete drops the outcome when the
// store has moved to another session since Begin.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"parley/internal/auth"
	"parley/internal/chaterr"
	"parley/internal/inference"
	"parley/internal/models"
	"parley/internal/selection"
	"parley/internal/session"
	"parley/internal/tools"
)

const (
	DefaultTimeout = 120 * time.Second

	maxTitleRunes = 60
	imageTitle    = "Image"
)

var (
	// ErrBusy is returned by Begin while a previous send is unresolved.
	ErrBusy    = session.ErrBusy
	// ErrLoading is returned by Begin while the active session is being fetched.
	ErrLoading = session.ErrLoading
)

// Persister saves a turn to the chat-history service. *history.Client
// satisfies it.
type Persister interface {
	CreateOrAppend(ctx context.Context, sessionID string, turn models.Turn) (models.ChatSession, bool, error)
}

type Input struct {
	Text  string
	Image string
	Mode  models.AppMode
	// Attachments is appended to the prompt sent for inference but is not
	// shown in the timeline or persisted.
	Attachments string
}

// Turn is the snapshot taken when a send starts. Nothing in it changes after
// Begin returns.
type Turn struct {
	Generation uint64
	Slot       session.Slot
	TempID     string
	Text       string
	Prompt     string
	Image      string
	Mode       string
	Routing    selection.Selection
	SessionID  string
	History    []models.Message
}

// Outcome is what Run learned. Err is the inference failure, PersistErr the
// history failure; they are independent.
type Outcome struct {
	Turn       *Turn
	Result     inference.Result
	Err        error
	Session    *models.ChatSession
	Created    bool
	PersistErr error
}

type Options struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

type Dispatcher struct {
	store   *session.Store
	creds   auth.Provider
	driver  inference.Driver
	history Persister
	timeout time.Duration
	logger  *slog.Logger
	newID   func() string
}

func New(store *session.Store, creds auth.Provider, driver inference.Driver, history Persister, opts Options) *Dispatcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   store,
		creds:   creds,
		driver:  driver,
		history: history,
		timeout: timeout,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// Begin checks the preconditions, snapshots the send and inserts the user
// message and the pending assistant message. On error nothing is mutated.
func (d *Dispatcher) Begin(in Input) (*Turn, error) {
	if d.creds == nil || !d.creds.Authenticated() {
		return nil, chaterr.New(chaterr.AuthRequired, "")
	}
	text := strings.TrimSpace(in.Text)
	if text == "" && in.Image == "" {
		return nil, chaterr.New(chaterr.Validation, "")
	}

	turn := &Turn{
		TempID:    d.newID(),
		Text:      text,
		Prompt:    text + in.Attachments,
		Image:     in.Image,
		Mode:      in.Mode.Tag(),
		Routing:   d.store.Selection(),
		SessionID: d.store.SessionID(),
		History:   d.store.Committed(),
	}

	userContent := text
	if userContent == "" {
		userContent = "[image]"
	}
	now := time.Now()
	slot, gen, err := d.store.AppendTurn(
		models.Message{ID: "user-" + turn.TempID, Temporary: true, Role: models.RoleUser, Content: userContent, CreatedAt: now},
		models.Message{ID: turn.TempID, Temporary: true, Role: models.RoleAssistant, CreatedAt: now},
	)
	if err != nil {
		return nil, err
	}
	turn.Slot = slot
	turn.Generation = gen
	return turn, nil
}

// Run performs inference and then persistence. It is safe to call from any
// goroutine and never returns nil.
func (d *Dispatcher) Run(ctx context.Context, turn *Turn) *Outcome {
	out := &Outcome{Turn: turn}

	infCtx, cancel := context.WithTimeout(ctx, d.timeout)
	res, err := d.driver.Complete(infCtx, inference.Request{
		Prompt:    turn.Prompt,
		Image:     turn.Image,
		Mode:      turn.Mode,
		Routing:   turn.Routing,
		SessionID: turn.SessionID,
		History:   turn.History,
	})
	timedOut := errors.Is(infCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	if err != nil {
		ce := chaterr.From(err)
		if timedOut {
			ce = &chaterr.Error{Kind: chaterr.Timeout, Timeout: d.timeout, Err: err}
		}
		out.Err = ce
		d.logger.Warn("inference failed", "kind", ce.Kind.String(), "status", ce.Status, "error", err)
	} else {
		res.Text = tools.Annotate(res.Text, res.ToolName)
		if res.Provider == "" {
			res.Provider = selection.ToPayload(turn.Routing).Provider
		}
		out.Result = res
	}

	if d.history == nil {
		return out
	}
	record := models.Turn{
		SelectedRouting:    turn.Routing.Token(),
		UserContent:        turn.Text,
		AssistantContent:   out.Result.Text,
		AssistantProvider:  out.Result.Provider,
		AssistantModelUsed: out.Result.Model,
	}
	if turn.SessionID == "" {
		record.TitleSuggestion = TitleSuggestion(turn.Text, turn.Image != "")
	}
	if out.Err != nil {
		record.AssistantContent = chaterr.From(out.Err).UserMessage()
		record.AssistantProvider = selection.ToPayload(turn.Routing).Provider
	}

	saved, created, err := d.history.CreateOrAppend(ctx, turn.SessionID, record)
	if err != nil {
		out.PersistErr = chaterr.Wrap(chaterr.Persistence, err)
		d.logger.Warn("failed to persist turn", "session_id", turn.SessionID, "error", err)
		return out
	}
	out.Session = &saved
	out.Created = created
	return out
}

// Complete applies an outcome to the store. It returns false when the outcome
// was issued for a session that is no longer active.
func (d *Dispatcher) Complete(out *Outcome) bool {
	turn := out.Turn
	if turn.Generation != d.store.Generation() {
		d.logger.Debug("dropping stale send", "temp_id", turn.TempID, "generation", turn.Generation)
		return false
	}

	if out.Session != nil {
		if out.Created {
			d.store.BindAfterFirstPersist(turn.Generation, *out.Session)
		} else if out.Session.Title != "" {
			d.store.SetTitle(out.Session.Title)
		}
	}
	if out.PersistErr != nil {
		d.store.Warn(chaterr.From(out.PersistErr).UserMessage())
	}

	outcome := session.Outcome{Status: models.StatusCommitted}
	if out.Err != nil {
		outcome.Status = models.StatusError
		outcome.Content = chaterr.From(out.Err).UserMessage()
	} else {
		outcome.Content = out.Result.Text
		outcome.Provider = out.Result.Provider
		outcome.Model = out.Result.Model
		outcome.Usage = out.Result.Usage
		if _, auto := turn.Routing.(selection.Auto); auto {
			health := models.HealthNominal
			if out.Result.FallbackReason != "" {
				health = models.HealthDegraded
			}
			d.store.SetHealth(turn.Generation, health)
		}
	}

	if err := d.store.Resolve(turn.Slot, turn.TempID, outcome); err != nil {
		d.logger.Error("failed to resolve pending message", "temp_id", turn.TempID, "error", err)
		return false
	}
	return true
}

// TitleSuggestion derives a short session title from the first user message.
func TitleSuggestion(text string, hasImage bool) string {
	title := strings.Join(strings.Fields(text), " ")
	if title == "" {
		if hasImage {
			return imageTitle
		}
		return ""
	}
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	r := []rune(title)
	cut := string(r[:maxTitleRunes-1])
	if i := strings.LastIndex(cut, " "); i > maxTitleRunes/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
