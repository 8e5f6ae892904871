package history

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/auth"
	"parley/internal/backend"
	"parley/internal/chaterr"
	"parley/internal/models"
)

func newClient(t *testing.T, creds auth.Provider, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(backend.New(backend.Options{BaseURL: srv.URL}, creds), creds)
}

func TestRequiresAuth(t *testing.T) {
	called := false
	c := newClient(t, auth.NewStatic("", ""), func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	ctx := context.Background()

	_, err := c.List(ctx)
	assert.Equal(t, chaterr.AuthRequired, chaterr.KindOf(err))
	_, err = c.Get(ctx, "1")
	assert.Equal(t, chaterr.AuthRequired, chaterr.KindOf(err))
	_, _, err = c.CreateOrAppend(ctx, "", models.Turn{})
	assert.Equal(t, chaterr.AuthRequired, chaterr.KindOf(err))
	assert.Equal(t, chaterr.AuthRequired, chaterr.KindOf(c.Rename(ctx, "1", "t")))
	assert.Equal(t, chaterr.AuthRequired, chaterr.KindOf(c.Delete(ctx, "1")))
	assert.False(t, called)
}

func TestList(t *testing.T) {
	bodies := map[string]string{
		"array":   `[{"id":"a","title":"First","updated_at":"2025-01-02T03:04:05Z"},{"id":7,"title":"Second"}]`,
		"wrapped": `{"chats":[{"id":"a","title":"First","updated_at":"2025-01-02T03:04:05Z"},{"id":7,"title":"Second"}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			c := newClient(t, auth.NewStatic("tok", "u"), func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/chats", r.URL.Path)
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				_, _ = w.Write([]byte(body))
			})

			list, err := c.List(context.Background())
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "a", list[0].ID)
			assert.Equal(t, 2025, list[0].UpdatedAt.Year())
			assert.Equal(t, "7", list[1].ID)
			assert.True(t, list[1].UpdatedAt.IsZero())
		})
	}
}

func TestGet(t *testing.T) {
	c := newClient(t, auth.NewStatic("tok", "u"), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chats/42", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": 42,
			"title": "Trip",
			"selected_routing": "anthropic",
			"messages": [
				{"id": 1, "role": "user", "content": "hi"},
				{"id": 2, "role": "assistant", "content": "hello", "provider": "anthropic", "model": "claude-sonnet-4"},
				{"id": 3, "role": "assistant", "content": {"parts": ["x"]}},
				{"id": 4, "role": "assistant", "content": null},
				{"id": 5, "role": "assistant"},
				{"id": 6, "role": "assistant", "content": ""}
			]
		}`))
	})

	d, err := c.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", d.ID)
	assert.Equal(t, "anthropic", d.SelectedRouting)
	require.Len(t, d.Messages, 6)

	assert.Equal(t, models.RoleUser, d.Messages[0].Role)
	assert.Equal(t, "hi", d.Messages[0].Content)
	assert.True(t, d.Messages[0].Durable())
	assert.Equal(t, models.StatusCommitted, d.Messages[1].Status)
	assert.Equal(t, "anthropic", d.Messages[1].Provider)

	require.NotNil(t, d.Messages[2].Violation)
	assert.Empty(t, d.Messages[2].Content)
	assert.JSONEq(t, `{"parts":["x"]}`, d.Messages[2].Violation.Raw)

	require.NotNil(t, d.Messages[3].Violation)
	assert.Equal(t, "null", d.Messages[3].Violation.Raw)
	require.NotNil(t, d.Messages[4].Violation)
	assert.Empty(t, d.Messages[4].Violation.Raw)

	assert.Nil(t, d.Messages[5].Violation)
	assert.Empty(t, d.Messages[5].Content)
}

func TestGetFailure(t *testing.T) {
	c := newClient(t, auth.NewStatic("tok", "u"), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"chat not found"}`))
	})

	_, err := c.Get(context.Background(), "42")
	require.Error(t, err)
	ce := chaterr.From(err)
	assert.Equal(t, chaterr.Backend, ce.Kind)
	assert.Equal(t, "chat not found", ce.Detail)
}

func TestCreateOrAppend(t *testing.T) {
	var got map[string]any
	c := newClient(t, auth.NewStatic("tok", "u"), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chats", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		got = nil
		assert.NoError(t, json.Unmarshal(raw, &got))
		_, _ = w.Write([]byte(`{"chat":{"id":"c1","title":"hello","selected_routing":"auto"}}`))
	})

	turn := models.Turn{
		TitleSuggestion:    "hello",
		SelectedRouting:    "auto",
		UserContent:        "hello",
		AssistantContent:   "hi there",
		AssistantProvider:  "openai",
		AssistantModelUsed: "gpt-4.1",
	}

	t.Run("draft creates", func(t *testing.T) {
		s, created, err := c.CreateOrAppend(context.Background(), "", turn)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "c1", s.ID)
		assert.Equal(t, "auto", s.SelectedRouting)

		require.Contains(t, got, "chatId")
		assert.Nil(t, got["chatId"])
		assert.Equal(t, "hello", got["title_suggestion"])
		assert.Equal(t, "auto", got["ui_selected_provider_for_session"])
		assert.Equal(t, "hello", got["user_message_content"])
		assert.Equal(t, "hi there", got["assistant_message_content"])
		assert.Equal(t, "openai", got["assistant_message_actual_provider"])
		assert.Equal(t, "gpt-4.1", got["assistant_message_actual_model_used"])
	})

	t.Run("bound appends", func(t *testing.T) {
		_, created, err := c.CreateOrAppend(context.Background(), "c1", turn)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "c1", got["chatId"])
		assert.NotContains(t, got, "title_suggestion")
	})
}

func TestCreateOrAppendMissingChat(t *testing.T) {
	c := newClient(t, auth.NewStatic("tok", "u"), func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, created, err := c.CreateOrAppend(context.Background(), "", models.Turn{})
	assert.False(t, created)
	assert.Equal(t, chaterr.Backend, chaterr.KindOf(err))
}

func TestRenameAndDelete(t *testing.T) {
	var method, path, title string
	c := newClient(t, auth.NewStatic("tok", "u"), func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		if r.Method == http.MethodPut {
			var body struct {
				Title string `json:"title"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			title = body.Title
		}
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	require.NoError(t, c.Rename(ctx, "c1", "  New name "))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/chats/c1", path)
	assert.Equal(t, "New name", title)

	require.NoError(t, c.Delete(ctx, "c1"))
	assert.Equal(t, http.MethodDelete, method)

	assert.Equal(t, chaterr.Validation, chaterr.KindOf(c.Rename(ctx, "c1", " ")))
	assert.Equal(t, chaterr.Validation, chaterr.KindOf(c.Delete(ctx, "")))
}
