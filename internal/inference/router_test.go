package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/auth"
	"parley/internal/backend"
	"parley/internal/chaterr"
	"parley/internal/models"
	"parley/internal/selection"
)

type captured struct {
	body    map[string]any
	session string
}

func newRouter(t *testing.T, status int, response string, got *captured) *Router {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat", r.URL.Path)
		if got != nil {
			got.session = r.Header.Get(backend.SessionHeader)
			got.body = nil
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got.body))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	creds := auth.NewStatic("tok", "u")
	return NewRouter(backend.New(backend.Options{BaseURL: srv.URL}, creds), creds)
}

func TestRouterRequestShape(t *testing.T) {
	var got captured
	r := newRouter(t, http.StatusOK, `{"response":{"text":"hi"},"provider":"openai","model":"gpt-4.1"}`, &got)

	t.Run("draft auto", func(t *testing.T) {
		_, err := r.Complete(context.Background(), Request{Prompt: "hello", Routing: selection.Auto{}})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"prompt": "hello", "provider": "auto"}, got.body)
		assert.Empty(t, got.session)
	})

	t.Run("bound specific with image and mode", func(t *testing.T) {
		_, err := r.Complete(context.Background(), Request{
			Prompt:    "what is this",
			Image:     "data:image/png;base64,AAAA",
			Mode:      "agent",
			Routing:   selection.SpecificModel{ID: "google/gemini-1.5-flash"},
			SessionID: "c1",
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"prompt":   "what is this",
			"image":    "data:image/png;base64,AAAA",
			"mode":     "agent",
			"provider": "gemini",
			"model":    "gemini-1.5-flash",
		}, got.body)
		assert.Equal(t, "c1", got.session)
	})
}

func TestRouterResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Result
	}{
		{
			name: "text",
			body: `{"response":{"text":"hi"},"provider":"anthropic","model":"claude-sonnet-4","tokens":{"input_tokens":3,"output_tokens":5,"total_tokens":8}}`,
			want: Result{Text: "hi", Provider: "anthropic", Model: "claude-sonnet-4", Usage: &models.Usage{InputTokens: 3, OutputTokens: 5, TotalTokens: 8}},
		},
		{
			name: "output fallback and null model",
			body: `{"response":{"output":"from output","fallback_reason":"primary unavailable"},"provider":"openai","model":null}`,
			want: Result{Text: "from output", Provider: "openai", FallbackReason: "primary unavailable"},
		},
		{
			name: "tool",
			body: `{"response":{"text":"42"},"provider":"openai","model":"gpt-4.1","tool_name":"calculator"}`,
			want: Result{Text: "42", Provider: "openai", Model: "gpt-4.1", ToolName: "calculator"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(t, http.StatusOK, tc.body, nil)
			got, err := r.Complete(context.Background(), Request{Prompt: "x", Routing: selection.Auto{}})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRouterErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   chaterr.Kind
		detail string
	}{
		{"quota", http.StatusPaymentRequired, `{"message":"top up"}`, chaterr.QuotaExceeded, "top up"},
		{"unauthorized", http.StatusUnauthorized, `{}`, chaterr.AuthRequired, ""},
		{"backend", http.StatusBadRequest, `{"detail":"model not allowed"}`, chaterr.Backend, "model not allowed"},
		{"empty", http.StatusOK, `{"response":{},"provider":"openai"}`, chaterr.Backend, "The model returned an empty response."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(t, tc.status, tc.body, nil)
			_, err := r.Complete(context.Background(), Request{Prompt: "x"})
			require.Error(t, err)
			ce := chaterr.From(err)
			assert.Equal(t, tc.kind, ce.Kind)
			assert.Equal(t, tc.detail, ce.Detail)
		})
	}
}

func TestRouterRequiresAuth(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	creds := auth.NewStatic("", "")
	r := NewRouter(backend.New(backend.Options{BaseURL: srv.URL}, creds), creds)
	_, err := r.Complete(context.Background(), Request{Prompt: "x"})
	assert.Equal(t, chaterr.AuthRequired, chaterr.KindOf(err))
	assert.False(t, called)
}
