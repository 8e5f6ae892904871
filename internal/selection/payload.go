package selection

import (
	"log/slog"
	"strings"

	"parley/internal/models"
)

// Payload is the routing part of an inference request.
type Payload struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// ToPayload maps a selection to the fields the routing backend expects.
// Auto and ProviderDefault only name a provider; SpecificModel also names the
// model segment, with the vendor folded into its bucket.
func ToPayload(sel Selection) Payload {
	switch s := sel.(type) {
	case nil, Auto:
		return Payload{Provider: models.ProviderAuto}
	case ProviderDefault:
		return Payload{Provider: s.Provider}
	case SpecificModel:
		_, model, ok := strings.Cut(s.ID, "/")
		if !ok || model == "" {
			slog.Warn("model token has no provider segment, sending as provider", "token", s.ID)
			return Payload{Provider: s.ID}
		}
		return Payload{Provider: s.Provider(), Model: model}
	default:
		return Payload{Provider: sel.Token()}
	}
}

// PayloadToken is the inverse of ToPayload at the token level.
func PayloadToken(p Payload) string {
	if p.Model != "" {
		return p.Provider + "/" + p.Model
	}
	if p.Provider == "" {
		return models.ProviderAuto
	}
	return p.Provider
}
