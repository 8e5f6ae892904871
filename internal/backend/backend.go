// Package backend builds the HTTP client shared by the routing, history and
// catalog clients, and classifies transport and HTTP failures into the
// chaterr taxonomy.
package backend

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"parley/internal/auth"
	"parley/internal/chaterr"
)

// SessionHeader carries the bound session id on inference requests.
const SessionHeader = "X-Session-Id"

const (
	DefaultTimeout   = 60 * time.Second
	retryWaitTime    = 300 * time.Millisecond
	retryMaxWaitTime = 3 * time.Second
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	UserAgent  string
}

// New returns a resty client rooted at opts.BaseURL. The bearer credential is
// read from creds on every request.
func New(opts Options, creds auth.Provider) *resty.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	// Only GETs are retried; POST /chat and /chats are not idempotent.
	if opts.RetryCount > 0 {
		client.SetRetryCount(opts.RetryCount).
			SetRetryWaitTime(retryWaitTime).
			SetRetryMaxWaitTime(retryMaxWaitTime).
			AddRetryCondition(func(res *resty.Response, err error) bool {
				if res == nil || res.Request == nil || res.Request.Method != http.MethodGet {
					return false
				}
				if err != nil {
					return !errors.Is(err, context.Canceled)
				}
				return res.StatusCode() >= 500
			})
	}

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if creds != nil && creds.Authenticated() {
			req.SetAuthToken(creds.Token())
		}
		return nil
	})

	return client
}

// RequireAuth returns chaterr.AuthRequired when creds has no credential.
func RequireAuth(creds auth.Provider) error {
	if creds == nil || !creds.Authenticated() {
		return chaterr.New(chaterr.AuthRequired, "")
	}
	return nil
}

// Classify converts the outcome of a resty call into nil or a *chaterr.Error.
func Classify(res *resty.Response, err error) error {
	if err != nil {
		var ce *chaterr.Error
		if errors.As(err, &ce) {
			return ce
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
	if res == nil {
		return chaterr.New(chaterr.Transport, "no response")
	}
	if res.IsSuccess() {
		return nil
	}

	kind := chaterr.Backend
	switch res.StatusCode() {
	case 401, 403:
		kind = chaterr.AuthRequired
	case 402:
		kind = chaterr.QuotaExceeded
	}
	return &chaterr.Error{
		Kind:   kind,
		Status: res.StatusCode(),
		Detail: ErrorDetail(res.Body()),
	}
}

// ErrorDetail extracts the human-readable error text from a JSON error body.
// It looks at "message", then "detail", then "error" (string or {message}).
func ErrorDetail(body []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"message", "detail", "error"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil && strings.TrimSpace(nested.Message) != "" {
			return strings.TrimSpace(nested.Message)
		}
	}
	return ""
}

// Decode unmarshals a successful response body into out.
func Decode(res *resty.Response, out any) error {
	if err := json.Unmarshal(res.Body(), out); err != nil {
		return &chaterr.Error{Kind: chaterr.Backend, Status: res.StatusCode(), Err: errors.Wrap(err, "decode response")}
	}
	return nil
}
