// Package wire defines the protocol surface shared between the client
// and the Accounts service: the uniform response envelope, header and
// cookie names, and the claim shapes of the signed tokens exchanged.
package wire

import (
	"encoding/json"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenHeader carries the one-time request token.
	DefaultTokenHeader = "X-Web-Token"
	// RequestIDHeader carries a per-request correlation id.
	RequestIDHeader = "X-Request-Id"
	// DefaultLoginCookie is the server-set login-indicator cookie.
	DefaultLoginCookie = "webseal_li"
)

// Login-indicator cookie values. Anything above LoginLevelLocal means
// an externally authenticated (federated) account.
const (
	LoginLevelNone  = 0
	LoginLevelLocal = 1
)

// Response is the envelope every Accounts endpoint returns.
type Response struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Token   string          `json:"token,omitempty"`
	MFA     bool            `json:"mfa,omitempty"`
	Errors  []string        `json:"errors,omitempty"`
}

// ResultString returns Result decoded as a JSON string, or "" when
// Result is absent or not a string.
func (r *Response) ResultString() string {
	var s string
	if err := json.Unmarshal(r.Result, &s); err != nil {
		return ""
	}
	return s
}

// TokenClaims is the payload of a one-time request token: a fresh
// nonce plus issued-at, signed HS256 with the shared secret. No expiry
// claim is carried; the replay window is bounded server-side.
type TokenClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// UpgradeClaims is the payload of a server-issued MFA upgrade message.
// The client decodes it without verification, as a routing hint only,
// and echoes the compact message back verbatim.
type UpgradeClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}
