// Package session holds the active conversation: whether it is a draft or
// bound to a backend id, its message timeline, and the routing selection.
//
// Every async result is tagged with the generation it was issued under. A
// result whose generation is no longer current is dropped.
package session

import (
	"sync"

	"github.com/pkg/errors"

	"parley/internal/chaterr"
	"parley/internal/models"
	"parley/internal/selection"
)

var (
	ErrBusy            = errors.New("a message is already pending")
	ErrAlreadyResolved = errors.New("message is not pending")
	ErrSlotMismatch    = errors.New("slot does not hold the expected message")
	ErrLoading         = errors.New("the conversation is still loading")
)

type State int

const (
	Draft State = iota
	Bound
)

func (s State) String() string {
	if s == Bound {
		return "bound"
	}
	return "draft"
}

// Slot is the index of a message in the timeline it was appended to.
type Slot int

// Outcome is the terminal state of a pending assistant message.
type Outcome struct {
	Status   models.MessageStatus
	Content  string
	Provider string
	Model    string
	Usage    *models.Usage
}

// DefaultSource seeds the selection of new drafts. *selection.Defaults
// satisfies it.
type DefaultSource interface {
	Get() selection.Selection
}

type Store struct {
	mu       sync.RWMutex
	defaults DefaultSource
	lookup   selection.Lookup

	generation uint64
	session    models.ChatSession
	timeline   []models.Message
	loading    bool
	sel        selection.Selection
	health     models.Health
	warnings   []string
}

// New returns a store in the Draft state at generation 1.
func New(defaults DefaultSource, lookup selection.Lookup) *Store {
	s := &Store{defaults: defaults, lookup: lookup}
	s.StartNew()
	return s
}

func (s *Store) defaultSelection() selection.Selection {
	if s.defaults == nil {
		return selection.Auto{}
	}
	if sel := s.defaults.Get(); sel != nil {
		return sel
	}
	return selection.Auto{}
}

func (s *Store) reset() uint64 {
	s.generation++
	s.timeline = nil
	s.loading = false
	s.health = models.HealthUnknown
	s.warnings = nil
	return s.generation
}

// StartNew switches to an empty draft seeded with the standing default
// selection and returns the new generation.
func (s *Store) StartNew() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := s.reset()
	s.session = models.ChatSession{}
	s.sel = s.defaultSelection()
	return gen
}

// Open binds the store to id with an empty timeline and the loading flag set.
// The caller fetches the session and reports back with ApplyLoad or FailLoad.
func (s *Store) Open(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := s.reset()
	s.session = models.ChatSession{ID: id}
	s.loading = true
	return gen
}

// ApplyLoad replaces the timeline with the fetched messages. The session's
// stored routing, when present, becomes the current selection. It reports
// false when gen is stale.
func (s *Store) ApplyLoad(gen uint64, detail models.ChatDetail) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	id := s.session.ID
	s.session = detail.ChatSession
	if s.session.ID == "" {
		s.session.ID = id
	}
	timeline := make([]models.Message, len(detail.Messages))
	copy(timeline, detail.Messages)
	s.timeline = timeline
	if detail.SelectedRouting != "" {
		s.sel = selection.Resolve(detail.SelectedRouting, s.lookup)
	}
	s.loading = false
	return true
}

// FailLoad appends one error message describing err and clears the loading
// flag. The selection is left as it was.
func (s *Store) FailLoad(gen uint64, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	s.timeline = append(s.timeline, models.Message{
		Role:    models.RoleAssistant,
		Content: "Could not load this conversation. " + chaterr.From(err).UserMessage(),
		Status:  models.StatusError,
	})
	s.loading = false
	return true
}

// BindAfterFirstPersist moves a draft to Bound once the history service has
// created it. The timeline is left untouched.
func (s *Store) BindAfterFirstPersist(gen uint64, created models.ChatSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || !s.session.Draft() || created.Draft() {
		return false
	}
	s.session = created
	if created.SelectedRouting != "" {
		s.sel = selection.Resolve(created.SelectedRouting, s.lookup)
	}
	return true
}

// AppendTurn appends a committed user message and a pending assistant message
// in one step. It fails with ErrLoading while a load is in flight and with
// ErrBusy if a message is already pending. It returns the slot of the pending
// message and the generation it belongs to.
func (s *Store) AppendTurn(user, pending models.Message) (Slot, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading {
		return 0, 0, ErrLoading
	}
	if s.hasPending() {
		return 0, 0, ErrBusy
	}
	user.Status = models.StatusCommitted
	pending.Status = models.StatusPending
	s.timeline = append(s.timeline, user, pending)
	return Slot(len(s.timeline) - 1), s.generation, nil
}

// Resolve moves the pending message in slot to its terminal state. tempID must
// match the id the message was created with.
func (s *Store) Resolve(slot Slot, tempID string, out Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := int(slot)
	if i < 0 || i >= len(s.timeline) || s.timeline[i].ID != tempID {
		return ErrSlotMismatch
	}
	msg := &s.timeline[i]
	if msg.Status != models.StatusPending {
		return ErrAlreadyResolved
	}
	if out.Status != models.StatusCommitted && out.Status != models.StatusError {
		return errors.Errorf("invalid terminal status %s", out.Status)
	}
	msg.Status = out.Status
	msg.Content = out.Content
	msg.Provider = out.Provider
	msg.Model = out.Model
	msg.Usage = out.Usage
	return nil
}

func (s *Store) hasPending() bool {
	for _, m := range s.timeline {
		if m.Status == models.StatusPending {
			return true
		}
	}
	return false
}

func (s *Store) HasPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasPending()
}

func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session.Draft() {
		return Draft
	}
	return Bound
}

func (s *Store) Session() models.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.ID
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Store) Selection() selection.Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sel
}

// SetSelection changes the selection for the active session only.
func (s *Store) SetSelection(sel selection.Selection) {
	if sel == nil {
		sel = selection.Auto{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel = sel
}

func (s *Store) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Title = title
}

// SetHealth records the Auto routing indicator for generation gen.
func (s *Store) SetHealth(gen uint64, h models.Health) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	s.health = h
	return true
}

func (s *Store) Health() models.Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// Warn records a soft, non-blocking warning for the active session.
func (s *Store) Warn(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, msg)
}

func (s *Store) Warnings() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.warnings))
	copy(out, s.warnings)
	return out
}

// Committed returns the committed messages in timeline order.
func (s *Store) Committed() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, 0, len(s.timeline))
	for _, m := range s.timeline {
		if m.Status == models.StatusCommitted {
			out = append(out, m)
		}
	}
	return out
}

type Snapshot struct {
	Generation uint64
	State      State
	Session    models.ChatSession
	Messages   []models.Message
	Loading    bool
	Selection  selection.Selection
	Health     models.Health
	Warnings   []string
}

// Snapshot copies the store for rendering.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Generation: s.generation,
		State:      Draft,
		Session:    s.session,
		Messages:   make([]models.Message, len(s.timeline)),
		Loading:    s.loading,
		Selection:  s.sel,
		Health:     s.health,
		Warnings:   make([]string, len(s.warnings)),
	}
	if s.session.ID != "" {
		snap.State = Bound
	}
	copy(snap.Messages, s.timeline)
	copy(snap.Warnings, s.warnings)
	return snap
}
