// Package mfa implements the client side of the second-factor upgrade
// flow: a server-issued upgrade message is decoded to pick a handler,
// and the handler produces a continuation the caller submits the
// second factor through.
//
// The upgrade message is decoded WITHOUT signature verification. The
// client has no verification key; the decoded claims are untrusted
// routing hints only, and the compact message is echoed back verbatim
// for the server to re-verify. This is intentional, not a gap to fix.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmcleod/webseal/wire"
)

// ErrUnsupportedMethod aborts the login flow when the server names a
// second-factor method no handler is registered for.
var ErrUnsupportedMethod = errors.New("unsupported mfa method")

// Message is a decoded upgrade message. Raw is the verbatim compact
// form that must be round-tripped back to the server.
type Message struct {
	Raw     string
	Type    string
	Expires time.Time // zero when the message carries no expiry
}

// DecodeMessage decodes an upgrade message without verifying its
// signature.
func DecodeMessage(raw string) (*Message, error) {
	var claims wire.UpgradeClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("decoding upgrade message: %w", err)
	}
	if claims.Type == "" {
		return nil, fmt.Errorf("upgrade message carries no method type")
	}

	msg := &Message{Raw: raw, Type: claims.Type}
	if claims.ExpiresAt != nil {
		msg.Expires = claims.ExpiresAt.Time
	}
	return msg, nil
}

// Submission holds the fields a user supplies for their second factor.
type Submission map[string]any

// SubmitFunc posts a second-factor submission back to the login
// endpoint, with the upgrade message echoed verbatim. The transport
// layer implements it and finalizes credentials when the response
// carries a token.
type SubmitFunc func(ctx context.Context, msg *Message, fields Submission) (*wire.Response, error)

// Handler processes one upgrade method.
type Handler interface {
	// Type returns the method discriminator this handler serves.
	Type() string
	// ProcessUpgrade builds a continuation for the decoded message.
	ProcessUpgrade(msg *Message, submit SubmitFunc) (*Continuation, error)
}

// Continuation is the caller-facing handle for an in-flight upgrade.
// Submit may be called repeatedly (wrong-code retry) until it yields a
// successful, token-bearing response.
type Continuation struct {
	Type    string
	Expires time.Time
	submit  func(ctx context.Context, s Submission) (*wire.Response, error)
}

func (c *Continuation) Submit(ctx context.Context, s Submission) (*wire.Response, error) {
	return c.submit(ctx, s)
}

// Registry maps method discriminators to handlers. It is closed by
// default but externally extensible via Register.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates a Registry with the given handlers.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds or replaces the handler for its method type.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Type()] = h
}

// Process decodes an upgrade message and dispatches it to the matching
// handler. Unknown methods fail with ErrUnsupportedMethod; the login
// flow must abort, never silently fall back.
func (r *Registry) Process(raw string, submit SubmitFunc) (*Continuation, error) {
	msg, err := DecodeMessage(raw)
	if err != nil {
		return nil, err
	}
	h, ok := r.handlers[msg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, msg.Type)
	}
	return h.ProcessUpgrade(msg, submit)
}
