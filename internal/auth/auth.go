// Package auth exposes the only two things the controller needs from identity
// management: whether a user is signed in, and the bearer credential.
package auth

import "strings"

type Provider interface {
	Authenticated() bool
	Token() string
	UserID() string
}

// Static holds a credential supplied at startup.
type Static struct {
	token  string
	userID string
}

func NewStatic(token, userID string) *Static {
	return &Static{token: strings.TrimSpace(token), userID: strings.TrimSpace(userID)}
}

func (s *Static) Authenticated() bool {
	return s.token != ""
}

func (s *Static) Token() string {
	return s.token
}

// UserID keys per-user local state. Falls back to "default" for anonymous use.
func (s *Static) UserID() string {
	if s.userID == "" {
		return "default"
	}
	return s.userID
}
