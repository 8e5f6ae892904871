package inference

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/pkg/errors"

	"parley/internal/chaterr"
	"parley/internal/models"
	"parley/internal/selection"
	"parley/internal/tools"
)

const (
	DefaultAutoModel         = "openrouter/auto"
	DefaultMaxToolIterations = 8

	chatSystemPrompt  = "You are a helpful assistant. Answer concisely and use markdown where it helps."
	agentSystemPrompt = "You are a helpful assistant with read-only access to the user's workspace at %s. " +
		"Use the tools to look at files before answering questions about them."
)

type DirectOptions struct {
	BaseURL string
	APIKey  string
	// AutoModel is the model id sent when the selection is Auto.
	AutoModel string
	// ProviderModels maps a provider bucket to the model used for its default.
	ProviderModels    map[string]string
	MaxRetries        int
	MaxToolIterations int
	// Workspace enables tools in agent mode. Nil disables them.
	Workspace *tools.Workspace
	Logger    *slog.Logger
}

// Direct calls an OpenAI-compatible chat completions endpoint.
type Direct struct {
	client openai.Client
	opts   DirectOptions
	logger *slog.Logger
}

func NewDirect(opts DirectOptions) *Direct {
	if opts.AutoModel == "" {
		opts.AutoModel = DefaultAutoModel
	}
	if opts.MaxToolIterations <= 0 {
		opts.MaxToolIterations = DefaultMaxToolIterations
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
		option.WithHeader("X-Title", "parley"),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &Direct{
		client: openai.NewClient(reqOpts...),
		opts:   opts,
		logger: logger,
	}
}

// ModelFor returns the model id to request for sel.
func (d *Direct) ModelFor(sel selection.Selection) (string, error) {
	switch s := sel.(type) {
	case nil, selection.Auto:
		return d.opts.AutoModel, nil
	case selection.ProviderDefault:
		if m := d.opts.ProviderModels[s.Provider]; m != "" {
			return m, nil
		}
		return "", chaterr.New(chaterr.Validation, fmt.Sprintf("No default model is configured for %s.", models.ProviderDisplayName(s.Provider)))
	case selection.SpecificModel:
		return s.ID, nil
	default:
		return "", chaterr.New(chaterr.Validation, "Unsupported model selection.")
	}
}

func (d *Direct) Complete(ctx context.Context, req Request) (Result, error) {
	model, err := d.ModelFor(req.Routing)
	if err != nil {
		return Result{}, err
	}

	agent := req.Mode == models.ModeAgent.Tag() && d.opts.Workspace != nil
	systemPrompt := chatSystemPrompt
	if agent {
		systemPrompt = fmt.Sprintf(agentSystemPrompt, d.opts.Workspace.Root)
	}

	history := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemPrompt)}
	for _, m := range req.History {
		if m.Status != models.StatusCommitted || m.Violation != nil {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			history = append(history, openai.UserMessage(m.Content))
		case models.RoleAssistant:
			history = append(history, openai.AssistantMessage(m.Content))
		}
	}
	history = append(history, userMessage(req.Prompt, req.Image))

	params := openai.ChatCompletionNewParams{Model: model, Messages: history}
	if agent {
		params.Tools = tools.Definitions()
	}

	usage := &models.Usage{}
	var toolsUsed []string
	for iteration := 1; ; iteration++ {
		resp, err := d.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return Result{}, classifyOpenAI(err)
		}
		usage.InputTokens += resp.Usage.PromptTokens
		usage.OutputTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens

		if len(resp.Choices) == 0 {
			return Result{}, chaterr.New(chaterr.Backend, "The model returned an empty response.")
		}
		msg := resp.Choices[0].Message

		if !agent || len(msg.ToolCalls) == 0 || iteration >= d.opts.MaxToolIterations {
			result := Result{
				Text:     msg.Content,
				Provider: providerOf(resp.Model, req.Routing),
				Model:    resp.Model,
				Usage:    usage,
				ToolName: strings.Join(toolsUsed, ", "),
			}
			if result.Text == "" && result.ToolName == "" {
				return Result{}, chaterr.New(chaterr.Backend, "The model returned an empty response.")
			}
			return result, nil
		}

		// Speculative content next to tool calls is dropped from the history.
		assistant := msg
		assistant.Content = ""
		params.Messages = append(params.Messages, assistant.ToParam())
		for _, tc := range msg.ToolCalls {
			out, err := d.opts.Workspace.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
			if err != nil {
				out = "error: " + err.Error()
			}
			d.logger.Debug("tool call", "tool", tc.Function.Name, "iteration", iteration, "error", err)
			toolsUsed = appendUnique(toolsUsed, tc.Function.Name)
			params.Messages = append(params.Messages, openai.ToolMessage(out, tc.ID))
		}
	}
}

func userMessage(prompt, image string) openai.ChatCompletionMessageParamUnion {
	if image == "" {
		return openai.UserMessage(prompt)
	}
	parts := []openai.ChatCompletionContentPartUnionParam{}
	if prompt != "" {
		parts = append(parts, openai.TextContentPart(prompt))
	}
	parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: image}))
	return openai.UserMessage(parts)
}

// providerOf derives the bucket from the answering model id, falling back to
// the requested selection.
func providerOf(model string, sel selection.Selection) string {
	if vendor, _, ok := strings.Cut(model, "/"); ok {
		if bucket, known := models.ProviderBucket(vendor); known {
			return bucket
		}
		return strings.ToLower(vendor)
	}
	return selection.ToPayload(sel).Provider
}

func appendUnique(list []string, name string) []string {
	for _, n := range list {
		if n == name {
			return list
		}
	}
	return append(list, name)
}

func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		kind := chaterr.Backend
		switch apiErr.StatusCode {
		case 401, 403:
			kind = chaterr.AuthRequired
		case 402:
			kind = chaterr.QuotaExceeded
		}
		return &chaterr.Error{Kind: kind, Status: apiErr.StatusCode, Detail: strings.TrimSpace(apiErr.Message)}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return chaterr.Wrap(chaterr.Timeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return chaterr.Wrap(chaterr.Timeout, err)
	}
	return chaterr.Wrap(chaterr.Transport, err)
}
