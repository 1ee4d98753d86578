package accountstest

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/webseal/wire"
)

// requireToken guards authenticated routes. The one-time token must
// verify against the current shared secret, carry an issued-at within
// the skew window, and present a nonce not seen before.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(wire.DefaultTokenHeader)
		if raw == "" {
			writeErrors(w, http.StatusUnauthorized, "missing request token")
			return
		}

		s.mu.Lock()
		sess := s.session
		if sess == nil {
			s.mu.Unlock()
			writeErrors(w, http.StatusUnauthorized, "no active session")
			return
		}
		secret := sess.secret
		s.mu.Unlock()

		claims := &wire.TokenClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			s.log.Warn("rejecting request token", "error", err)
			writeErrors(w, http.StatusUnauthorized, "invalid request token")
			return
		}
		if claims.IssuedAt == nil || claims.Nonce == "" {
			writeErrors(w, http.StatusUnauthorized, "incomplete request token")
			return
		}

		now := time.Now()
		age := now.Sub(claims.IssuedAt.Time)
		if age > s.skew || age < -s.skew {
			writeErrors(w, http.StatusUnauthorized, "request token outside clock window")
			return
		}

		if !s.recordNonce(claims.Nonce, now) {
			s.log.Warn("replayed request token", "nonce", claims.Nonce)
			writeErrors(w, http.StatusUnauthorized, "request token already used")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// recordNonce registers a nonce, pruning entries older than the skew
// window, and reports false on replay.
func (s *Server) recordNonce(nonce string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sess == nil {
		return false
	}
	for n, seen := range sess.seenNonces {
		if now.Sub(seen) > s.skew {
			delete(sess.seenNonces, n)
		}
	}
	if _, dup := sess.seenNonces[nonce]; dup {
		return false
	}
	sess.seenNonces[nonce] = now
	return true
}
