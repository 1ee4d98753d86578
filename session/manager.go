package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmcleod/webseal/internal/util"
	"github.com/jmcleod/webseal/keystore"
	"github.com/jmcleod/webseal/observe"
	"github.com/jmcleod/webseal/wire"
)

// DefaultBrowserIDBytes is the number of random bytes in a generated
// browser id (hex-encoded to twice as many characters).
const DefaultBrowserIDBytes = 32

// Manager orchestrates the key store and session state: it ensures
// credentials exist, installs secrets from server responses, produces
// one-time request tokens, and derives the logged-in flag.
type Manager struct {
	keys  *keystore.KeyStore
	state *State
	log   *slog.Logger

	cookies        CookieSource
	cookiesEnabled bool
	browserIDBytes int
	now            func() time.Time

	loginLevel *observe.Value[int]
	loggedIn   *observe.Computed[bool]
	isLocal    *observe.Computed[bool]
	onLogout   *observe.Value[int] // bumped on forced/observed logout
}

type managerOptions struct {
	cookies        CookieSource
	browserIDBytes int
	logger         *slog.Logger
	now            func() time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*managerOptions)

// WithCookieSource enables cookie-based login signaling. Without it,
// logged-in is derived from secret presence alone and IsLocalAccount
// always reports false.
func WithCookieSource(src CookieSource) ManagerOption {
	return func(o *managerOptions) { o.cookies = src }
}

// WithBrowserIDBytes sets the random size of generated browser ids.
func WithBrowserIDBytes(n int) ManagerOption {
	return func(o *managerOptions) { o.browserIDBytes = n }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) { o.logger = logger }
}

// WithClock overrides the time source used for token issued-at claims.
func WithClock(now func() time.Time) ManagerOption {
	return func(o *managerOptions) { o.now = now }
}

// NewManager wires a Manager over the given key store and state.
func NewManager(keys *keystore.KeyStore, state *State, opts ...ManagerOption) *Manager {
	o := managerOptions{
		browserIDBytes: DefaultBrowserIDBytes,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	m := &Manager{
		keys:           keys,
		state:          state,
		log:            o.logger,
		cookies:        o.cookies,
		cookiesEnabled: o.cookies != nil,
		browserIDBytes: o.browserIDBytes,
		now:            o.now,
		loginLevel:     observe.NewValue(0),
		onLogout:       observe.NewValue(0),
	}
	if m.cookiesEnabled {
		m.loginLevel.Set(m.cookies.LoginLevel())
	}

	m.loggedIn = observe.NewComputed(func() bool {
		hasSecret := m.state.Token() != ""
		if m.cookiesEnabled {
			return hasSecret && m.loginLevel.Get() > wire.LoginLevelNone
		}
		return hasSecret
	})
	m.isLocal = observe.NewComputed(func() bool {
		return m.loggedIn.Get() && m.cookiesEnabled &&
			m.loginLevel.Get() == wire.LoginLevelLocal
	})

	// Recompute derived flags whenever a dependency changes.
	m.state.TokenValue().Subscribe(func(string) {
		m.loggedIn.Invalidate()
		m.isLocal.Invalidate()
	})
	m.loginLevel.Subscribe(func(int) {
		m.loggedIn.Invalidate()
		m.isLocal.Invalidate()
	})

	// A true→false transition defensively clears the secret so a stale
	// in-memory credential cannot outlive an external logout signal.
	m.loggedIn.Subscribe(func(v bool) {
		if v {
			return
		}
		if err := m.state.ClearToken(); err != nil {
			m.log.Warn("clearing secret after logout transition", "error", err)
		}
		m.onLogout.Set(m.onLogout.Get() + 1)
	})

	// The cookie can expire while the process is down, leaving a
	// persisted secret with no transition to observe. Reconcile once at
	// construction so the stale secret never signs a request.
	if !m.loggedIn.Get() && m.state.Token() != "" {
		if err := m.state.ClearToken(); err != nil {
			m.log.Warn("clearing stale secret at bootstrap", "error", err)
		}
		m.onLogout.Set(m.onLogout.Get() + 1)
	}

	return m
}

// CheckAndSetCredentials ensures a key pair and browser id exist.
// Idempotent; run once per session bootstrap. Failures here must not
// be swallowed: an unusable key pair blocks authenticated requests.
func (m *Manager) CheckAndSetCredentials() error {
	if err := m.keys.CheckAndSetKeys(); err != nil {
		return fmt.Errorf("ensuring key pair: %w", err)
	}
	if m.state.BrowserID() != "" {
		return nil
	}
	bid, err := util.RandomHex(m.browserIDBytes)
	if err != nil {
		return fmt.Errorf("generating browser id: %w", err)
	}
	return m.state.SetBrowserID(bid)
}

// UpdateCredentials decrypts the encrypted token from a server
// response and installs it as the shared secret. This is the only path
// by which the secret is set.
func (m *Manager) UpdateCredentials(encryptedToken string) error {
	raw, err := m.keys.DecryptBase64(encryptedToken)
	if err != nil {
		return fmt.Errorf("decrypting server token: %w", err)
	}
	defer util.WipeBytes(raw)
	return m.state.SetToken(util.Base64Encode(raw))
}

// GenerateOneTimeToken returns a fresh signed request token, or
// ok=false when no shared secret is stored. The caller must treat
// ok=false as "cannot authenticate this request", not as an error.
// Every call produces a new nonce; tokens are not reusable.
func (m *Manager) GenerateOneTimeToken() (token string, ok bool, err error) {
	ok, err = m.state.withSecret(func(secret []byte) error {
		nonce, nerr := util.RandomHex(16)
		if nerr != nil {
			return nerr
		}
		claims := wire.TokenClaims{
			Nonce: nonce,
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt: jwt.NewNumericDate(m.now()),
			},
		}
		signed, serr := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		if serr != nil {
			return fmt.Errorf("signing one-time token: %w", serr)
		}
		token = signed
		return nil
	})
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ClearLoginState clears the session record and the stored key pair.
// Logout must not leave key material whose matching secret was just
// invalidated server-side; the next login generates a fresh pair.
func (m *Manager) ClearLoginState() error {
	if err := m.state.Clear(); err != nil {
		return err
	}
	return m.keys.ClearKeys()
}

// RegenerateKeys discards the stored key pair and generates a fresh
// one, pre-staging a new public key for the next login.
func (m *Manager) RegenerateKeys() error {
	return m.keys.RegenerateKeys()
}

// RefreshLoginLevel re-reads the login-indicator cookie and recomputes
// the derived flags. The transport calls this after every response.
func (m *Manager) RefreshLoginLevel() {
	if !m.cookiesEnabled {
		return
	}
	m.loginLevel.Set(m.cookies.LoginLevel())
}

// LoggedIn exposes the derived logged-in flag.
func (m *Manager) LoggedIn() observe.Readable[bool] {
	return m.loggedIn
}

// IsLocalAccount reports whether the login-indicator cookie marks a
// local (non-federated) account. Always false with cookies disabled.
func (m *Manager) IsLocalAccount() observe.Readable[bool] {
	return m.isLocal
}

// PublicKey exposes the stored public key (base64 SPKI).
func (m *Manager) PublicKey() observe.Readable[string] {
	return m.keys.PublicKey()
}

// BrowserID exposes the browser identifier.
func (m *Manager) BrowserID() observe.Readable[string] {
	return m.state.BrowserIDValue()
}

// OnLogout registers fn to run whenever the logged-in flag transitions
// to false, including external signals like cookie expiry. Callers use
// it to drop pending challenges.
func (m *Manager) OnLogout(fn func()) observe.CancelFunc {
	return m.onLogout.Subscribe(func(int) { fn() })
}
