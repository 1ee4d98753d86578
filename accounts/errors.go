package accounts

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrWrongPassword marks a 401 from the password-change flow. It is a
// re-promptable condition, not a fatal error.
var ErrWrongPassword = errors.New("wrong password")

// ErrNoPendingChallenge is returned when an MFA submission arrives
// after the challenge was invalidated (logout, external session loss).
var ErrNoPendingChallenge = errors.New("no pending mfa challenge")

// Category is a user-facing classification of a server rejection.
type Category string

const (
	CategoryAuth      Category = "auth"
	CategoryForbidden Category = "forbidden"
	CategoryNotFound  Category = "not_found"
	CategoryRequest   Category = "request"
	CategoryServer    Category = "server"
)

func categoryFor(status int) Category {
	switch {
	case status == http.StatusUnauthorized:
		return CategoryAuth
	case status == http.StatusForbidden:
		return CategoryForbidden
	case status == http.StatusNotFound:
		return CategoryNotFound
	case status < 500:
		return CategoryRequest
	default:
		return CategoryServer
	}
}

// ServerError is a non-2xx response with a structured error body.
// It is not retried automatically.
type ServerError struct {
	Status   int
	Category Category
	Messages []string
}

func (e *ServerError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("server rejected request: status %d (%s)", e.Status, e.Category)
	}
	return fmt.Sprintf("server rejected request: status %d (%s): %s",
		e.Status, e.Category, strings.Join(e.Messages, "; "))
}

// NetworkError wraps a transport-level failure. Only the heartbeat's
// next natural tick retries it; other callers see it surfaced.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
