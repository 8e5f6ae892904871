package inference

import (
	"context"
	"strings"

	"github.com/go-resty/resty/v2"

	"parley/internal/auth"
	"parley/internal/backend"
	"parley/internal/chaterr"
	"parley/internal/models"
)

const chatPath = "/chat"

// Router calls POST /chat on the model-routing backend.
type Router struct {
	http  *resty.Client
	creds auth.Provider
}

func NewRouter(client *resty.Client, creds auth.Provider) *Router {
	return &Router{http: client, creds: creds}
}

type chatRequest struct {
	Prompt   string `json:"prompt"`
	Image    string `json:"image,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

type tokensJSON struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

func (t *tokensJSON) usage() *models.Usage {
	if t == nil {
		return nil
	}
	u := &models.Usage{InputTokens: t.InputTokens, OutputTokens: t.OutputTokens, TotalTokens: t.TotalTokens}
	if u.InputTokens == 0 {
		u.InputTokens = t.PromptTokens
	}
	if u.OutputTokens == 0 {
		u.OutputTokens = t.CompletionTokens
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

type chatResponse struct {
	Response struct {
		Text           *string `json:"text"`
		Output         *string `json:"output"`
		FallbackReason *string `json:"fallback_reason"`
	} `json:"response"`
	Provider string      `json:"provider"`
	Model    *string     `json:"model"`
	Tokens   *tokensJSON `json:"tokens"`
	ToolName string      `json:"tool_name"`
}

func (r *Router) Complete(ctx context.Context, req Request) (Result, error) {
	if err := backend.RequireAuth(r.creds); err != nil {
		return Result{}, err
	}

	payload := req.Payload()
	body := chatRequest{
		Prompt:   req.Prompt,
		Image:    req.Image,
		Mode:     req.Mode,
		Provider: payload.Provider,
		Model:    payload.Model,
	}

	call := r.http.R().SetContext(ctx).SetBody(body)
	if req.SessionID != "" {
		call.SetHeader(backend.SessionHeader, req.SessionID)
	}
	res, err := call.Post(chatPath)
	if err := backend.Classify(res, err); err != nil {
		return Result{}, err
	}

	var out chatResponse
	if err := backend.Decode(res, &out); err != nil {
		return Result{}, err
	}

	result := Result{
		Provider: out.Provider,
		Usage:    out.Tokens.usage(),
		ToolName: strings.TrimSpace(out.ToolName),
	}
	if out.Model != nil {
		result.Model = *out.Model
	}
	if out.Response.FallbackReason != nil {
		result.FallbackReason = strings.TrimSpace(*out.Response.FallbackReason)
	}
	switch {
	case out.Response.Text != nil && *out.Response.Text != "":
		result.Text = *out.Response.Text
	case out.Response.Output != nil:
		result.Text = *out.Response.Output
	}

	if result.Text == "" && result.ToolName == "" {
		return Result{}, chaterr.New(chaterr.Backend, "The model returned an empty response.")
	}
	return result, nil
}
