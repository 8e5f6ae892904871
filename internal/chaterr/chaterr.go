// Package chaterr defines the failure taxonomy shared by the backend clients
// and the message dispatcher.
//
// Every failure that can reach the timeline is converted into an *Error with a
// Kind before it leaves the dispatcher. UserMessage gives the text shown on the
// assistant message that failed.
package chaterr

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type Kind int

const (
	Unknown Kind = iota
	AuthRequired
	Validation
	QuotaExceeded
	Transport
	Backend
	Persistence
	ContractViolation
	Timeout
)

func (k Kind) String() string {
	switch k {
	case AuthRequired:
		return "auth_required"
	case Validation:
		return "validation"
	case QuotaExceeded:
		return "quota_exceeded"
	case Transport:
		return "transport"
	case Backend:
		return "backend"
	case Persistence:
		return "persistence"
	case ContractViolation:
		return "contract_violation"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Detail carries the structured error text the
// backend returned, if any.
type Error struct {
	Kind    Kind
	Status  int
	Detail  string
	Timeout time.Duration
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so
// errors.Is(err, &chaterr.Error{Kind: chaterr.QuotaExceeded}) works regardless
// of status or detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// UserMessage is the text placed on a failed assistant message.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case AuthRequired:
		return "You need to sign in to continue."
	case Validation:
		if e.Detail != "" {
			return e.Detail
		}
		return "Type a message or attach an image first."
	case QuotaExceeded:
		if e.Detail != "" {
			return e.Detail
		}
		return "Insufficient credits. Top up your balance to keep chatting."
	case Transport:
		return "Could not reach the server. Check your connection and try again."
	case Backend:
		if e.Detail != "" {
			return e.Detail
		}
		if e.Status != 0 {
			return fmt.Sprintf("The server returned an error (HTTP %d). Please try again.", e.Status)
		}
		return "The server returned an error. Please try again."
	case Persistence:
		return "This message could not be saved to your history."
	case ContractViolation:
		return "This message could not be displayed: the history service returned non-text content."
	case Timeout:
		if e.Timeout > 0 {
			return fmt.Sprintf("The request timed out after %s.", e.Timeout)
		}
		return "The request timed out."
	default:
		if e.Detail != "" {
			return e.Detail
		}
		return "Something went wrong."
	}
}

func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// From returns err as an *Error. Unclassified errors become Backend failures.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Kind: Backend, Err: err}
}

// KindOf reports the Kind of err, or Unknown when err is nil or unclassified.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Unknown
}
