package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/auth"
	"parley/internal/chaterr"
	"parley/internal/inference"
	"parley/internal/models"
	"parley/internal/selection"
	"parley/internal/session"
)

type fakePersister struct {
	mu    sync.Mutex
	calls []persistCall
	err   error
	id    string
}

type persistCall struct {
	sessionID string
	turn      models.Turn
}

func (f *fakePersister) CreateOrAppend(_ context.Context, sessionID string, turn models.Turn) (models.ChatSession, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, persistCall{sessionID: sessionID, turn: turn})
	if f.err != nil {
		return models.ChatSession{}, false, f.err
	}
	id := sessionID
	if id == "" {
		id = f.id
	}
	return models.ChatSession{ID: id, Title: turn.TitleSuggestion, SelectedRouting: turn.SelectedRouting}, sessionID == "", nil
}

func reply(res inference.Result, err error) inference.Driver {
	return inference.DriverFunc(func(context.Context, inference.Request) (inference.Result, error) {
		return res, err
	})
}

func newDispatcher(driver inference.Driver, history Persister) (*Dispatcher, *session.Store) {
	store := session.New(nil, nil)
	return New(store, auth.NewStatic("tok", "u"), driver, history, Options{}), store
}

// sendTurn runs Begin, Run and Complete back to back.
func sendTurn(ctx context.Context, d *Dispatcher, in Input) (*Outcome, error) {
	turn, err := d.Begin(in)
	if err != nil {
		return nil, err
	}
	out := d.Run(ctx, turn)
	d.Complete(out)
	return out, nil
}

func countStatus(msgs []models.Message, status models.MessageStatus) int {
	n := 0
	for _, m := range msgs {
		if m.Status == status {
			n++
		}
	}
	return n
}

func TestDraftSendBindsSession(t *testing.T) {
	history := &fakePersister{id: "c1"}
	d, store := newDispatcher(reply(inference.Result{Text: "hi!", Provider: "anthropic", Model: "claude-sonnet-4"}, nil), history)

	_, err := sendTurn(context.Background(), d, Input{Text: "hello"})
	require.NoError(t, err)

	snap := store.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, models.RoleUser, snap.Messages[0].Role)
	assert.Equal(t, "hello", snap.Messages[0].Content)
	assert.Equal(t, models.StatusCommitted, snap.Messages[0].Status)
	assert.Equal(t, models.RoleAssistant, snap.Messages[1].Role)
	assert.Equal(t, models.StatusCommitted, snap.Messages[1].Status)
	assert.Equal(t, "hi!", snap.Messages[1].Content)
	assert.Equal(t, "anthropic", snap.Messages[1].Provider)

	assert.Equal(t, session.Bound, snap.State)
	assert.Equal(t, "c1", snap.Session.ID)
	assert.Equal(t, models.HealthNominal, snap.Health)

	require.Len(t, history.calls, 1)
	call := history.calls[0]
	assert.Empty(t, call.sessionID)
	assert.Equal(t, "hello", call.turn.TitleSuggestion)
	assert.Equal(t, "auto", call.turn.SelectedRouting)
	assert.Equal(t, "hi!", call.turn.AssistantContent)
	assert.Equal(t, "anthropic", call.turn.AssistantProvider)
	assert.Equal(t, "claude-sonnet-4", call.turn.AssistantModelUsed)
}

func TestQuotaErrorResolvesPending(t *testing.T) {
	history := &fakePersister{err: chaterr.New(chaterr.Transport, "")}
	quota := &chaterr.Error{Kind: chaterr.QuotaExceeded, Status: 402, Detail: "top up"}
	d, store := newDispatcher(reply(inference.Result{}, quota), history)

	out, err := sendTurn(context.Background(), d, Input{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, chaterr.QuotaExceeded, chaterr.KindOf(out.Err))

	snap := store.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, models.StatusError, snap.Messages[1].Status)
	assert.Equal(t, "top up", snap.Messages[1].Content)
	assert.False(t, store.HasPending())
	assert.Equal(t, session.Draft, snap.State)
}

func TestPersistenceFailureKeepsTurn(t *testing.T) {
	history := &fakePersister{err: chaterr.New(chaterr.Backend, "db down")}
	d, store := newDispatcher(reply(inference.Result{Text: "answer", Provider: "openai"}, nil), history)

	_, err := sendTurn(context.Background(), d, Input{Text: "question"})
	require.NoError(t, err)

	snap := store.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, models.StatusCommitted, snap.Messages[1].Status)
	assert.Equal(t, "answer", snap.Messages[1].Content)
	assert.Equal(t, session.Draft, snap.State)
	require.Len(t, snap.Warnings, 1)
	assert.Equal(t, chaterr.New(chaterr.Persistence, "").UserMessage(), snap.Warnings[0])
}

func TestPersistenceAttemptedAfterInferenceFailure(t *testing.T) {
	history := &fakePersister{id: "c9"}
	d, store := newDispatcher(reply(inference.Result{}, chaterr.New(chaterr.Transport, "")), history)

	_, err := sendTurn(context.Background(), d, Input{Text: "hello"})
	require.NoError(t, err)
	require.Len(t, history.calls, 1)
	assert.Equal(t, chaterr.New(chaterr.Transport, "").UserMessage(), history.calls[0].turn.AssistantContent)
	assert.Equal(t, "auto", history.calls[0].turn.AssistantProvider)
	assert.Equal(t, models.StatusError, store.Snapshot().Messages[1].Status)
}

func TestBoundSendCorrelates(t *testing.T) {
	var req inference.Request
	driver := inference.DriverFunc(func(_ context.Context, r inference.Request) (inference.Result, error) {
		req = r
		return inference.Result{Text: "ok", Provider: "openai"}, nil
	})
	history := &fakePersister{}
	d, store := newDispatcher(driver, history)

	gen := store.Open("c5")
	store.ApplyLoad(gen, models.ChatDetail{
		ChatSession: models.ChatSession{ID: "c5", SelectedRouting: "openai/gpt-4.1"},
		Messages:    []models.Message{{ID: "1", Role: models.RoleUser, Content: "earlier", Status: models.StatusCommitted}},
	})

	_, err := sendTurn(context.Background(), d, Input{Text: "next", Mode: models.ModeAgent})
	require.NoError(t, err)

	assert.Equal(t, "c5", req.SessionID)
	assert.Equal(t, "agent", req.Mode)
	assert.Equal(t, selection.SpecificModel{ID: "openai/gpt-4.1", DisplayName: "openai/gpt-4.1"}, req.Routing)
	require.Len(t, req.History, 1)

	require.Len(t, history.calls, 1)
	assert.Equal(t, "c5", history.calls[0].sessionID)
	assert.Empty(t, history.calls[0].turn.TitleSuggestion)
	assert.Equal(t, "openai/gpt-4.1", history.calls[0].turn.SelectedRouting)
	// specific selections leave Auto health alone
	assert.Equal(t, models.HealthUnknown, store.Health())
}

func TestPreconditions(t *testing.T) {
	d, store := newDispatcher(reply(inference.Result{Text: "x"}, nil), nil)

	_, err := d.Begin(Input{Text: "   "})
	assert.Equal(t, chaterr.Validation, chaterr.KindOf(err))
	assert.Empty(t, store.Snapshot().Messages)

	unauth := New(store, auth.NewStatic("", ""), reply(inference.Result{}, nil), nil, Options{})
	_, err = unauth.Begin(Input{Text: "hi"})
	assert.Equal(t, chaterr.AuthRequired, chaterr.KindOf(err))
	assert.Empty(t, store.Snapshot().Messages)

	turn, err := d.Begin(Input{Image: "data:image/png;base64,AAAA"})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", turn.Image)
}

func TestSecondSendWhilePendingIsRejected(t *testing.T) {
	d, store := newDispatcher(reply(inference.Result{Text: "x"}, nil), nil)

	first, err := d.Begin(Input{Text: "one"})
	require.NoError(t, err)
	before := store.Snapshot().Messages

	_, err = d.Begin(Input{Text: "two"})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, before, store.Snapshot().Messages)
	assert.Equal(t, 1, countStatus(store.Snapshot().Messages, models.StatusPending))

	assert.True(t, d.Complete(d.Run(context.Background(), first)))
	assert.Equal(t, 0, countStatus(store.Snapshot().Messages, models.StatusPending))
}

func TestSnapshotIsTakenAtBegin(t *testing.T) {
	var req inference.Request
	driver := inference.DriverFunc(func(_ context.Context, r inference.Request) (inference.Result, error) {
		req = r
		return inference.Result{Text: "ok"}, nil
	})
	d, store := newDispatcher(driver, nil)

	turn, err := d.Begin(Input{Text: "original"})
	require.NoError(t, err)
	store.SetSelection(selection.ProviderDefault{Provider: "gemini"})

	d.Complete(d.Run(context.Background(), turn))
	assert.Equal(t, "original", req.Prompt)
	assert.Equal(t, selection.Auto{}, req.Routing)
}

func TestAttachmentsReachInferenceOnly(t *testing.T) {
	var req inference.Request
	driver := inference.DriverFunc(func(_ context.Context, r inference.Request) (inference.Result, error) {
		req = r
		return inference.Result{Text: "looked"}, nil
	})
	history := &fakePersister{id: "c1"}
	d, store := newDispatcher(driver, history)

	_, err := sendTurn(context.Background(), d, Input{Text: "review this", Attachments: "\n\n## main.go\npackage main"})
	require.NoError(t, err)

	assert.Equal(t, "review this\n\n## main.go\npackage main", req.Prompt)
	assert.Equal(t, "review this", store.Snapshot().Messages[0].Content)
	require.Len(t, history.calls, 1)
	assert.Equal(t, "review this", history.calls[0].turn.UserContent)
	assert.Equal(t, "review this", history.calls[0].turn.TitleSuggestion)
}

func TestStaleSendIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	driver := inference.DriverFunc(func(context.Context, inference.Request) (inference.Result, error) {
		<-release
		return inference.Result{Text: "late answer", Provider: "openai"}, nil
	})
	history := &fakePersister{id: "c1"}
	d, store := newDispatcher(driver, history)

	turn, err := d.Begin(Input{Text: "hello"})
	require.NoError(t, err)

	done := make(chan *Outcome)
	go func() { done <- d.Run(context.Background(), turn) }()

	gen := store.Open("other")
	store.ApplyLoad(gen, models.ChatDetail{
		ChatSession: models.ChatSession{ID: "other"},
		Messages:    []models.Message{{ID: "9", Role: models.RoleUser, Content: "different", Status: models.StatusCommitted}},
	})

	close(release)
	assert.False(t, d.Complete(<-done))

	snap := store.Snapshot()
	assert.Equal(t, "other", snap.Session.ID)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "different", snap.Messages[0].Content)
	assert.Equal(t, models.HealthUnknown, snap.Health)
}

func TestExactlyOnceResolution(t *testing.T) {
	d, store := newDispatcher(reply(inference.Result{Text: "x", Provider: "openai"}, nil), nil)

	turn, err := d.Begin(Input{Text: "hi"})
	require.NoError(t, err)
	out := d.Run(context.Background(), turn)

	assert.True(t, d.Complete(out))
	assert.False(t, d.Complete(out))

	msgs := store.Snapshot().Messages
	assert.Len(t, msgs, 2)
	assert.Equal(t, 2, countStatus(msgs, models.StatusCommitted))
	assert.Equal(t, 0, countStatus(msgs, models.StatusPending))
}

func TestFallbackMarksDegraded(t *testing.T) {
	d, store := newDispatcher(reply(inference.Result{Text: "x", Provider: "gemini", FallbackReason: "primary overloaded"}, nil), nil)
	_, err := sendTurn(context.Background(), d, Input{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.HealthDegraded, store.Health())
}

func TestToolAnnotation(t *testing.T) {
	d, store := newDispatcher(reply(inference.Result{Text: "It is sunny.", Provider: "openai", ToolName: "weather"}, nil), nil)
	_, err := sendTurn(context.Background(), d, Input{Text: "weather?"})
	require.NoError(t, err)
	assert.Equal(t, "It is sunny.\n\n_Used tool: weather_", store.Snapshot().Messages[1].Content)
}

func TestTimeout(t *testing.T) {
	driver := inference.DriverFunc(func(ctx context.Context, _ inference.Request) (inference.Result, error) {
		<-ctx.Done()
		return inference.Result{}, chaterr.Wrap(chaterr.Transport, ctx.Err())
	})
	store := session.New(nil, nil)
	d := New(store, auth.NewStatic("tok", "u"), driver, nil, Options{Timeout: 20 * time.Millisecond})

	out, err := sendTurn(context.Background(), d, Input{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, chaterr.Timeout, chaterr.KindOf(out.Err))

	msg := store.Snapshot().Messages[1]
	assert.Equal(t, models.StatusError, msg.Status)
	assert.Equal(t, "The request timed out after 20ms.", msg.Content)
}

func TestTitleSuggestion(t *testing.T) {
	assert.Equal(t, "hello world", TitleSuggestion("  hello\n world ", false))
	assert.Equal(t, "Image", TitleSuggestion("", true))
	assert.Empty(t, TitleSuggestion("", false))

	long := TitleSuggestion("this is a rather long first message that keeps going well past the limit we allow", false)
	assert.LessOrEqual(t, len([]rune(long)), maxTitleRunes)
	assert.Equal(t, "…", string([]rune(long)[len([]rune(long))-1:]))
}

func TestSendWhileLoadingIsRejected(t *testing.T) {
	history := &fakePersister{}
	d, store := newDispatcher(reply(inference.Result{Text: "hi"}, nil), history)

	gen := store.Open("42")
	_, err := d.Begin(Input{Text: "hello"})
	require.ErrorIs(t, err, ErrLoading)
	assert.Empty(t, store.Snapshot().Messages)

	require.True(t, store.ApplyLoad(gen, models.ChatDetail{
		ChatSession: models.ChatSession{ID: "42"},
		Messages:    []models.Message{{ID: "m1", Role: models.RoleUser, Content: "old", Status: models.StatusCommitted}},
	}))

	out, err := sendTurn(context.Background(), d, Input{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "42", out.Turn.SessionID)

	msgs := store.Snapshot().Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "old", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, models.StatusCommitted, msgs[2].Status)
	assert.Equal(t, "hi", msgs[2].Content)
	require.Len(t, history.calls, 1)
}
