package selection

import (
	"context"
	"log/slog"
	"sync"
)

// Store persists the standing default routing token per user.
type Store interface {
	DefaultRouting(ctx context.Context, userID string) (string, error)
	SaveDefaultRouting(ctx context.Context, userID, token string) error
}

// Defaults is the process-wide "last used" selection that seeds new drafts.
// It only ever holds a provider-level selection.
type Defaults struct {
	mu      sync.RWMutex
	store   Store
	userID  string
	current Selection
}

// NewDefaults reads the stored token for userID. A missing, unreadable or
// non-provider-level token yields Auto. store may be nil.
func NewDefaults(ctx context.Context, store Store, userID string) *Defaults {
	d := &Defaults{store: store, userID: userID, current: Auto{}}
	d.load(ctx)
	return d
}

func (d *Defaults) load(ctx context.Context) {
	if d.store == nil {
		return
	}
	token, err := d.store.DefaultRouting(ctx, d.userID)
	if err != nil {
		slog.Warn("failed to read default routing", "user_id", d.userID, "error", err)
		return
	}
	if !IsKnownDefaultToken(token) {
		return
	}
	d.current = Resolve(token, nil)
}

func (d *Defaults) Get() Selection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Persist normalizes sel to provider level, makes it the standing default and
// writes it to the store. The in-memory default is updated even when the write
// fails.
func (d *Defaults) Persist(ctx context.Context, sel Selection) (Selection, error) {
	normalized := Normalize(sel)

	d.mu.Lock()
	d.current = normalized
	store, userID := d.store, d.userID
	d.mu.Unlock()

	if store == nil {
		return normalized, nil
	}
	if err := store.SaveDefaultRouting(ctx, userID, normalized.Token()); err != nil {
		return normalized, err
	}
	return normalized, nil
}
