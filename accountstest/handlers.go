package accountstest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"github.com/jmcleod/webseal/crypto"
	"github.com/jmcleod/webseal/internal/util"
	"github.com/jmcleod/webseal/wire"
)

const upgradeTTL = 5 * time.Minute

// EnrollTOTP enables TOTP for an account and returns the base32 secret
// so tests can compute valid codes.
func (s *Server) EnrollTOTP(username string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "webseal-accountstest",
		AccountName: username,
	})
	if err != nil {
		return "", fmt.Errorf("generating TOTP key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return "", fmt.Errorf("no such user %q", username)
	}
	u.totpSecret = key.Secret()
	return key.Secret(), nil
}

type loginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	PublicKey string `json:"publicKey"`
	BID       string `json:"bid"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("mfa") != "" {
		s.handleUpgrade(w, r)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrors(w, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[req.Username]
	if !ok || u.password != util.Normalize(req.Password) {
		s.log.Debug("login rejected", "username", req.Username)
		writeErrors(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if req.PublicKey == "" {
		writeErrors(w, http.StatusBadRequest, "missing public key")
		return
	}

	if u.totpSecret != "" {
		upgrade, err := s.signUpgrade(req.Username, req.PublicKey)
		if err != nil {
			writeErrors(w, http.StatusInternalServerError, "issuing upgrade")
			return
		}
		result, _ := json.Marshal(upgrade)
		writeJSON(w, http.StatusOK, wire.Response{MFA: true, Result: result})
		return
	}

	s.issueSessionLocked(w, req.Username, req.PublicKey)
}

// signUpgrade mints the MFA upgrade message and records the pending
// login it resumes. Callers hold s.mu.
func (s *Server) signUpgrade(username, pubKey string) (string, error) {
	id := uuid.NewString()
	claims := wire.UpgradeClaims{
		Type: "totp",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(upgradeTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	s.pending[id] = pendingLogin{username: username, pubKey: pubKey}
	return signed, nil
}

type upgradeRequest struct {
	Upgrade   string `json:"upgrade"`
	Code      any    `json:"code"`
	LocalTime string `json:"localtime"`
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	var req upgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrors(w, http.StatusBadRequest, "malformed request body")
		return
	}

	claims := &wire.UpgradeClaims{}
	_, err := jwt.ParseWithClaims(req.Upgrade, claims, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		s.log.Warn("rejecting upgrade message", "error", err)
		writeErrors(w, http.StatusUnauthorized, "invalid upgrade message")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pending[claims.ID]
	if !ok {
		writeErrors(w, http.StatusUnauthorized, "no pending login")
		return
	}
	u := s.users[pending.username]
	if u == nil || !totp.Validate(formatCode(req.Code), u.totpSecret) {
		s.log.Debug("second factor rejected", "username", pending.username)
		writeJSON(w, http.StatusOK, wire.Response{MFA: true, Errors: []string{"invalid code"}})
		return
	}

	delete(s.pending, claims.ID)
	s.issueSessionLocked(w, pending.username, pending.pubKey)
}

// formatCode renders a submitted code as the zero-padded digit string
// TOTP validation expects. JSON numbers arrive as float64.
func formatCode(code any) string {
	switch v := code.(type) {
	case float64:
		return fmt.Sprintf("%06d", int(v))
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// issueSessionLocked mints a fresh shared secret, encrypts it under the
// client's public key, and starts (or replaces) the active session.
// Callers hold s.mu.
func (s *Server) issueSessionLocked(w http.ResponseWriter, username, pubKey string) {
	pub, err := crypto.ImportPublicKey(pubKey)
	if err != nil {
		writeErrors(w, http.StatusBadRequest, "malformed public key")
		return
	}
	secret, err := util.RandomBytes(32)
	if err != nil {
		writeErrors(w, http.StatusInternalServerError, "generating secret")
		return
	}
	encrypted, err := crypto.Encrypt(pub, secret)
	if err != nil {
		writeErrors(w, http.StatusInternalServerError, "encrypting secret")
		return
	}

	s.session = &activeSession{
		username:   username,
		secret:     secret,
		pubKey:     pubKey,
		seenNonces: make(map[string]time.Time),
	}

	level := wire.LoginLevelLocal
	if s.users[username].federated {
		level = wire.LoginLevelLocal + 1
	}
	s.setLoginCookie(w, level)

	s.log.Debug("session issued", "username", username, "level", level)
	writeJSON(w, http.StatusOK, wire.Response{
		Success: true,
		Token:   util.Base64Encode(encrypted),
	})
}

func (s *Server) setLoginCookie(w http.ResponseWriter, level int) {
	http.SetCookie(w, &http.Cookie{
		Name:  s.cookieName,
		Value: strconv.Itoa(level),
		Path:  "/",
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.session = nil
	s.pending = make(map[string]pendingLogin)
	s.mu.Unlock()

	s.setLoginCookie(w, wire.LoginLevelNone)
	writeJSON(w, http.StatusOK, wire.Response{Success: true})
}

func (s *Server) handleKeepalive(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sess == nil {
		writeErrors(w, http.StatusUnauthorized, "no active session")
		return
	}

	pub, err := crypto.ImportPublicKey(sess.pubKey)
	if err != nil {
		writeErrors(w, http.StatusInternalServerError, "stored public key unusable")
		return
	}
	secret, err := util.RandomBytes(32)
	if err != nil {
		writeErrors(w, http.StatusInternalServerError, "generating secret")
		return
	}
	encrypted, err := crypto.Encrypt(pub, secret)
	if err != nil {
		writeErrors(w, http.StatusInternalServerError, "encrypting secret")
		return
	}

	// Tokens signed with the previous secret are invalid from here on.
	sess.secret = secret
	sess.seenNonces = make(map[string]time.Time)

	writeJSON(w, http.StatusOK, wire.Response{
		Success: true,
		Token:   util.Base64Encode(encrypted),
	})
}

type passwordRequest struct {
	Current string `json:"current"`
	New     string `json:"new"`
}

func (s *Server) handlePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrors(w, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sess == nil {
		writeErrors(w, http.StatusUnauthorized, "no active session")
		return
	}
	u := s.users[sess.username]
	if u == nil || u.password != util.Normalize(req.Current) {
		writeErrors(w, http.StatusUnauthorized, "current password incorrect")
		return
	}
	if req.New == "" {
		writeErrors(w, http.StatusBadRequest, "new password empty")
		return
	}

	u.password = util.Normalize(req.New)
	writeJSON(w, http.StatusOK, wire.Response{Success: true})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sess == nil {
		writeErrors(w, http.StatusUnauthorized, "no active session")
		return
	}
	u := s.users[sess.username]

	result, _ := json.Marshal(map[string]any{
		"username":  sess.username,
		"federated": u != nil && u.federated,
		"mfa":       u != nil && u.totpSecret != "",
	})
	writeJSON(w, http.StatusOK, wire.Response{Success: true, Result: result})
}
