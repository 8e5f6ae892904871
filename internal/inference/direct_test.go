package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/chaterr"
	"parley/internal/models"
	"parley/internal/selection"
	"parley/internal/tools"
)

const completionBody = `{
	"id": "cmpl-1",
	"object": "chat.completion",
	"created": 1,
	"model": "anthropic/claude-sonnet-4",
	"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "hello there"}}],
	"usage": {"prompt_tokens": 4, "completion_tokens": 6, "total_tokens": 10}
}`

func newDirect(t *testing.T, handler http.HandlerFunc, opts DirectOptions) *Direct {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	opts.APIKey = "key"
	return NewDirect(opts)
}

func TestDirectModelFor(t *testing.T) {
	d := NewDirect(DirectOptions{ProviderModels: map[string]string{"openai": "openai/gpt-4.1-mini"}})

	m, err := d.ModelFor(selection.Auto{})
	require.NoError(t, err)
	assert.Equal(t, DefaultAutoModel, m)

	m, err = d.ModelFor(selection.ProviderDefault{Provider: "openai"})
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4.1-mini", m)

	m, err = d.ModelFor(selection.SpecificModel{ID: "google/gemini-1.5-flash"})
	require.NoError(t, err)
	assert.Equal(t, "google/gemini-1.5-flash", m)

	_, err = d.ModelFor(selection.ProviderDefault{Provider: "gemini"})
	assert.Equal(t, chaterr.Validation, chaterr.KindOf(err))
}

func TestDirectComplete(t *testing.T) {
	var sent map[string]any
	d := newDirect(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		sent = nil
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	}, DirectOptions{})

	res, err := d.Complete(context.Background(), Request{
		Prompt:  "hi",
		Image:   "data:image/png;base64,AAAA",
		Routing: selection.Auto{},
		History: []models.Message{
			{Role: models.RoleUser, Content: "earlier", Status: models.StatusCommitted},
			{Role: models.RoleAssistant, Content: "failed", Status: models.StatusError},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Text)
	assert.Equal(t, "anthropic", res.Provider)
	assert.Equal(t, "anthropic/claude-sonnet-4", res.Model)
	assert.Equal(t, &models.Usage{InputTokens: 4, OutputTokens: 6, TotalTokens: 10}, res.Usage)

	assert.Equal(t, DefaultAutoModel, sent["model"])
	msgs, ok := sent["messages"].([]any)
	require.True(t, ok)
	// system, committed history, new user message
	assert.Len(t, msgs, 3)
	_, hasTools := sent["tools"]
	assert.False(t, hasTools)
}

func TestDirectErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   chaterr.Kind
	}{
		{"quota", http.StatusPaymentRequired, chaterr.QuotaExceeded},
		{"auth", http.StatusUnauthorized, chaterr.AuthRequired},
		{"backend", http.StatusBadRequest, chaterr.Backend},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := newDirect(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"x","code":"y","param":""}}`))
			}, DirectOptions{})

			_, err := d.Complete(context.Background(), Request{Prompt: "hi"})
			require.Error(t, err)
			assert.Equal(t, tc.kind, chaterr.KindOf(err))
		})
	}
}

func TestDirectAgentRunsTools(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("remember the milk"), 0o644))

	var calls atomic.Int32
	d := newDirect(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{
				"id": "c", "object": "chat.completion", "created": 1, "model": "openai/gpt-4.1",
				"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {"role": "assistant", "content": "",
					"tool_calls": [{"id": "t1", "type": "function", "function": {"name": "read", "arguments": "{\"path\":\"notes.txt\"}"}}]}}],
				"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
			}`))
			return
		}
		var body struct {
			Messages []map[string]any `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		last := body.Messages[len(body.Messages)-1]
		assert.Equal(t, "tool", last["role"])
		assert.Contains(t, last["content"], "remember the milk")
		_, _ = w.Write([]byte(`{
			"id": "c", "object": "chat.completion", "created": 1, "model": "openai/gpt-4.1",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Buy milk."}}],
			"usage": {"prompt_tokens": 2, "completion_tokens": 2, "total_tokens": 4}
		}`))
	}, DirectOptions{Workspace: tools.NewWorkspace(root)})

	res, err := d.Complete(context.Background(), Request{Prompt: "what do my notes say", Mode: "agent"})
	require.NoError(t, err)
	assert.Equal(t, "Buy milk.", res.Text)
	assert.Equal(t, "read", res.ToolName)
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, int64(6), res.Usage.TotalTokens)
	assert.Equal(t, int32(2), calls.Load())
}
