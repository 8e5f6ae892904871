// Package selection models the user's routing choice.
//
// A Selection is one of Auto, ProviderDefault or SpecificModel. It is only
// turned into a string token at the edges: when talking to the backend, when
// persisting the standing default, and when reading a session's stored routing.
package selection

import (
	"log/slog"
	"strings"

	"parley/internal/models"
)

type Selection interface {
	// Token is the serialized routing token ("auto", "openai", "openai/gpt-4.1").
	Token() string
	// Label is the text shown in the status bar and selector.
	Label() string
	isSelection()
}

type Auto struct{}

func (Auto) Token() string { return models.ProviderAuto }
func (Auto) Label() string { return "Auto" }
func (Auto) isSelection()  {}

type ProviderDefault struct {
	Provider string
}

func (p ProviderDefault) Token() string { return p.Provider }
func (p ProviderDefault) Label() string {
	return models.ProviderDisplayName(p.Provider) + " (default)"
}
func (ProviderDefault) isSelection() {}

// SpecificModel names one catalog entry. ID keeps the catalog's own
// "vendor/model" form; the vendor is folded into a bucket only for payloads.
type SpecificModel struct {
	ID          string
	DisplayName string
}

func (s SpecificModel) Token() string { return s.ID }
func (s SpecificModel) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.ID
}
func (SpecificModel) isSelection() {}

// Provider returns the bucket the model belongs to, or the lowercased vendor
// when the vendor is not a known bucket.
func (s SpecificModel) Provider() string {
	vendor, _, _ := strings.Cut(s.ID, "/")
	if bucket, ok := models.ProviderBucket(vendor); ok {
		return bucket
	}
	return strings.ToLower(vendor)
}

// Lookup finds catalog entries by id. *catalog.Catalog satisfies it.
type Lookup interface {
	Lookup(id string) (models.AIModel, bool)
}

// Resolve parses a routing token. It never fails: unknown shapes degrade to
// the closest selection and are logged.
func Resolve(token string, lookup Lookup) Selection {
	token = strings.TrimSpace(token)
	if token == "" || strings.EqualFold(token, models.ProviderAuto) {
		return Auto{}
	}

	if !strings.Contains(token, "/") {
		if bucket, ok := models.ProviderBucket(token); ok {
			return ProviderDefault{Provider: bucket}
		}
		slog.Warn("unknown provider token, sending as provider", "token", token)
		return ProviderDefault{Provider: strings.ToLower(token)}
	}

	sel := SpecificModel{ID: token, DisplayName: token}
	if lookup != nil {
		if mdl, ok := lookup.Lookup(token); ok && mdl.DisplayName != "" {
			sel.DisplayName = mdl.DisplayName
		}
	}
	return sel
}

// IsProviderLevel reports whether sel may be stored as the standing default.
func IsProviderLevel(sel Selection) bool {
	switch sel.(type) {
	case Auto, ProviderDefault:
		return true
	default:
		return false
	}
}

// Normalize lowers a selection to its provider level: SpecificModel becomes
// the ProviderDefault of its bucket.
func Normalize(sel Selection) Selection {
	switch s := sel.(type) {
	case nil:
		return Auto{}
	case SpecificModel:
		provider := s.Provider()
		if provider == "" {
			return Auto{}
		}
		return ProviderDefault{Provider: provider}
	default:
		return sel
	}
}

// IsKnownDefaultToken reports whether token is "auto" or a canonical bucket.
func IsKnownDefaultToken(token string) bool {
	if token == models.ProviderAuto {
		return true
	}
	for _, b := range models.ProviderBuckets {
		if token == b {
			return true
		}
	}
	return false
}

// Equal compares two selections by token.
func Equal(a, b Selection) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Token() == b.Token()
}
