// Package inference sends one prompt to a model and reports what answered.
//
// Router talks to the model-routing backend, which picks the provider. Direct
// calls an OpenAI-compatible endpoint itself and is meant for running without
// the routing backend.
package inference

import (
	"context"

	"parley/internal/models"
	"parley/internal/selection"
)

type Request struct {
	Prompt string
	// Image is a data URL or remote URL; empty when nothing is attached.
	Image string
	Mode  string
	// Routing is the selection the user had when the send started.
	Routing selection.Selection
	// SessionID correlates the request with a bound session; empty for drafts.
	SessionID string
	// History holds the committed messages before this turn.
	History []models.Message
}

// Payload returns the backend routing fields for the request.
func (r Request) Payload() selection.Payload {
	return selection.ToPayload(r.Routing)
}

type Result struct {
	Text           string
	Provider       string
	Model          string
	Usage          *models.Usage
	ToolName       string
	FallbackReason string
}

// Driver performs one inference call. Errors are *chaterr.Error.
type Driver interface {
	Complete(ctx context.Context, req Request) (Result, error)
}

// DriverFunc adapts a function to Driver.
type DriverFunc func(ctx context.Context, req Request) (Result, error)

func (f DriverFunc) Complete(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
