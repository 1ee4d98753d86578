// Package accountstest provides an in-process reference implementation
// of the Accounts service protocol, for integration tests and local
// development. It issues shared secrets encrypted under the client's
// submitted public key, sets the login-indicator cookie, verifies
// one-time request tokens with a nonce replay cache, and drives the
// TOTP upgrade flow.
package accountstest

import (
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/jmcleod/webseal/internal/util"
	"github.com/jmcleod/webseal/wire"
)

//go:embed openapi.yaml
var openapiSpec []byte

// DefaultClockSkew bounds how old a one-time token's issued-at may be.
const DefaultClockSkew = 2 * time.Minute

type user struct {
	password   string
	totpSecret string
	federated  bool
}

type activeSession struct {
	username   string
	secret     []byte
	pubKey     string
	seenNonces map[string]time.Time
}

type pendingLogin struct {
	username string
	pubKey   string
}

// Server is a fake Accounts service. One Server serves one browser
// profile at a time, mirroring the single-session protocol.
type Server struct {
	mu         sync.Mutex
	log        *slog.Logger
	users      map[string]*user
	session    *activeSession
	pending    map[string]pendingLogin
	signingKey []byte
	cookieName string
	skew       time.Duration
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.log = logger }
}

// WithCookieName overrides the login-indicator cookie name.
func WithCookieName(name string) ServerOption {
	return func(s *Server) { s.cookieName = name }
}

// WithClockSkew overrides the accepted one-time-token age.
func WithClockSkew(skew time.Duration) ServerOption {
	return func(s *Server) { s.skew = skew }
}

// NewServer creates an empty Server; add accounts with AddUser.
func NewServer(opts ...ServerOption) (*Server, error) {
	signingKey, err := util.RandomBytes(32)
	if err != nil {
		return nil, err
	}

	s := &Server{
		users:      make(map[string]*user),
		pending:    make(map[string]pendingLogin),
		signingKey: signingKey,
		cookieName: wire.DefaultLoginCookie,
		skew:       DefaultClockSkew,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	return s, nil
}

// AddUser registers an account with a password-only login.
func (s *Server) AddUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &user{password: util.Normalize(password)}
}

// SetFederated marks an account as externally authenticated, so its
// login-indicator cookie is set above the local-account level.
func (s *Server) SetFederated(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[username]; ok {
		u.federated = true
	}
}

// Router returns the chi router with all protocol routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)
	r.With(s.requireToken).Post("/keepalive", s.handleKeepalive)
	r.With(s.requireToken).Post("/password", s.handlePassword)
	r.With(s.requireToken).Get("/profile", s.handleProfile)

	return r
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.Router()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrors(w http.ResponseWriter, status int, msgs ...string) {
	writeJSON(w, status, wire.Response{Success: false, Errors: msgs})
}
