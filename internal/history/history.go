// Package history is the client for the chat-history service.
//
// It owns no timeline state. Every call checks the credential first and
// returns a *chaterr.Error on failure.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"parley/internal/auth"
	"parley/internal/backend"
	"parley/internal/chaterr"
	"parley/internal/models"
)

const chatsPath = "/chats"

type Client struct {
	http  *resty.Client
	creds auth.Provider
}

func New(client *resty.Client, creds auth.Provider) *Client {
	return &Client{http: client, creds: creds}
}

type sessionJSON struct {
	ID              flexID   `json:"id"`
	Title           string   `json:"title"`
	SelectedRouting string   `json:"selected_routing"`
	CreatedAt       flexTime `json:"created_at"`
	UpdatedAt       flexTime `json:"updated_at"`
	LastMessageAt   flexTime `json:"last_message_at"`
}

func (s sessionJSON) model() models.ChatSession {
	return models.ChatSession{
		ID:              string(s.ID),
		Title:           s.Title,
		SelectedRouting: s.SelectedRouting,
		CreatedAt:       time.Time(s.CreatedAt),
		UpdatedAt:       time.Time(s.UpdatedAt),
		LastMessageAt:   time.Time(s.LastMessageAt),
	}
}

type messageJSON struct {
	ID        flexID          `json:"id"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	CreatedAt flexTime        `json:"created_at"`
}

func (m messageJSON) model() models.Message {
	msg := models.Message{
		ID:        string(m.ID),
		Role:      models.Role(strings.ToLower(m.Role)),
		Provider:  m.Provider,
		Model:     m.Model,
		Status:    models.StatusCommitted,
		CreatedAt: time.Time(m.CreatedAt),
	}
	content, violation := decodeContent(m.Content)
	msg.Content = content
	msg.Violation = violation
	return msg
}

// decodeContent accepts only a JSON string. Any other shape, null and a
// missing content key included, is kept verbatim as a contract violation so
// the renderer can show it.
func decodeContent(raw json.RawMessage) (string, *models.ContractViolation) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", &models.ContractViolation{Raw: string(trimmed)}
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", &models.ContractViolation{Raw: string(trimmed)}
	}
	return s, nil
}

type detailJSON struct {
	sessionJSON
	Messages []messageJSON `json:"messages"`
}

// flexID accepts ids sent as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// flexTime accepts RFC 3339 strings, unix seconds, empty strings and null.
type flexTime time.Time

func (f *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" || string(b) == `""` {
		*f = flexTime{}
		return nil
	}
	if b[0] != '"' {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		sec, err := n.Int64()
		if err != nil {
			return err
		}
		*f = flexTime(time.Unix(sec, 0))
		return nil
	}
	var t time.Time
	if err := t.UnmarshalJSON(b); err != nil {
		return err
	}
	*f = flexTime(t)
	return nil
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	if err := backend.RequireAuth(c.creds); err != nil {
		return nil, err
	}
	return c.http.R().SetContext(ctx), nil
}

func chatPath(id string) string {
	return chatsPath + "/" + url.PathEscape(id)
}

// List returns the user's sessions as the service orders them.
func (c *Client) List(ctx context.Context) ([]models.ChatSession, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	res, err := req.Get(chatsPath)
	if err := backend.Classify(res, err); err != nil {
		return nil, err
	}

	var rows []sessionJSON
	body := bytes.TrimSpace(res.Body())
	if len(body) > 0 && body[0] == '{' {
		var wrapped struct {
			Chats []sessionJSON `json:"chats"`
		}
		if err := backend.Decode(res, &wrapped); err != nil {
			return nil, err
		}
		rows = wrapped.Chats
	} else if err := backend.Decode(res, &rows); err != nil {
		return nil, err
	}

	out := make([]models.ChatSession, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// Get loads one session with its messages.
func (c *Client) Get(ctx context.Context, id string) (models.ChatDetail, error) {
	if strings.TrimSpace(id) == "" {
		return models.ChatDetail{}, chaterr.New(chaterr.Validation, "session id is required")
	}
	req, err := c.request(ctx)
	if err != nil {
		return models.ChatDetail{}, err
	}
	res, err := req.Get(chatPath(id))
	if err := backend.Classify(res, err); err != nil {
		return models.ChatDetail{}, err
	}

	var d detailJSON
	if err := backend.Decode(res, &d); err != nil {
		return models.ChatDetail{}, err
	}
	detail := models.ChatDetail{ChatSession: d.sessionJSON.model()}
	if detail.ID == "" {
		detail.ID = id
	}
	detail.Messages = make([]models.Message, 0, len(d.Messages))
	for _, m := range d.Messages {
		detail.Messages = append(detail.Messages, m.model())
	}
	return detail, nil
}

type turnJSON struct {
	ChatID                   *string `json:"chatId"`
	TitleSuggestion          string  `json:"title_suggestion,omitempty"`
	UISelectedProvider       string  `json:"ui_selected_provider_for_session"`
	UserMessageContent       string  `json:"user_message_content"`
	AssistantMessageContent  string  `json:"assistant_message_content"`
	AssistantActualProvider  string  `json:"assistant_message_actual_provider"`
	AssistantActualModelUsed string  `json:"assistant_message_actual_model_used"`
}

// CreateOrAppend persists one turn. An empty sessionID always creates a new
// session; otherwise the turn is appended. created reports whether the service
// created a session for this call.
func (c *Client) CreateOrAppend(ctx context.Context, sessionID string, turn models.Turn) (session models.ChatSession, created bool, err error) {
	req, err := c.request(ctx)
	if err != nil {
		return models.ChatSession{}, false, err
	}

	body := turnJSON{
		UISelectedProvider:       turn.SelectedRouting,
		UserMessageContent:       turn.UserContent,
		AssistantMessageContent:  turn.AssistantContent,
		AssistantActualProvider:  turn.AssistantProvider,
		AssistantActualModelUsed: turn.AssistantModelUsed,
	}
	if sessionID != "" {
		body.ChatID = &sessionID
	} else {
		body.TitleSuggestion = turn.TitleSuggestion
	}

	res, err := req.SetBody(body).Post(chatsPath)
	if err := backend.Classify(res, err); err != nil {
		return models.ChatSession{}, false, err
	}

	var out struct {
		Chat *sessionJSON `json:"chat"`
	}
	if err := backend.Decode(res, &out); err != nil {
		return models.ChatSession{}, false, err
	}
	if out.Chat == nil || out.Chat.ID == "" {
		return models.ChatSession{}, false, chaterr.New(chaterr.Backend, "history service returned no chat")
	}
	session = out.Chat.model()
	return session, sessionID == "", nil
}

func (c *Client) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if id == "" || title == "" {
		return chaterr.New(chaterr.Validation, "session id and title are required")
	}
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	res, err := req.SetBody(map[string]string{"title": title}).Put(chatPath(id))
	return backend.Classify(res, err)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	if id == "" {
		return chaterr.New(chaterr.Validation, "session id is required")
	}
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	res, err := req.Delete(chatPath(id))
	return backend.Classify(res, err)
}
