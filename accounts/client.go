// Package accounts is the HTTP client for the Accounts service. It
// attaches a one-time token to every outbound request, processes the
// credential-bearing responses of login, MFA and heartbeat, and
// exposes the session flags the UI and route guards consume.
package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmcleod/webseal/internal/util"
	"github.com/jmcleod/webseal/mfa"
	"github.com/jmcleod/webseal/session"
	"github.com/jmcleod/webseal/wire"
)

// Default endpoint paths on the Accounts service.
const (
	DefaultLoginPath     = "/login"
	DefaultLogoutPath    = "/logout"
	DefaultKeepalivePath = "/keepalive"
	DefaultPasswordPath  = "/password"
	DefaultProfilePath   = "/profile"
)

// Client talks to the Accounts service on behalf of one browser
// profile.
type Client struct {
	http        *http.Client
	base        *url.URL
	session     *session.Manager
	registry    *mfa.Registry
	tokenHeader string
	log         *slog.Logger

	pendingMu      sync.Mutex
	pendingUpgrade string
}

type clientOptions struct {
	httpClient  *http.Client
	jar         http.CookieJar
	registry    *mfa.Registry
	tokenHeader string
	logger      *slog.Logger
	pre         []RequestInterceptor
	post        []ResponseInterceptor
}

// Option customizes a Client.
type Option func(*clientOptions)

// WithHTTPClient supplies the underlying http.Client. Its transport is
// wrapped with the interceptor chain; its jar is kept.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithCookieJar supplies the jar the login-indicator cookie is read
// from. Typically shared with a session.JarSource.
func WithCookieJar(jar http.CookieJar) Option {
	return func(o *clientOptions) { o.jar = jar }
}

// WithRegistry replaces the MFA handler registry. The default registry
// contains the TOTP handler only.
func WithRegistry(r *mfa.Registry) Option {
	return func(o *clientOptions) { o.registry = r }
}

// WithTokenHeader overrides the header the one-time token is sent in.
func WithTokenHeader(name string) Option {
	return func(o *clientOptions) { o.tokenHeader = name }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithRequestInterceptor appends an extra outbound interceptor.
func WithRequestInterceptor(fn RequestInterceptor) Option {
	return func(o *clientOptions) { o.pre = append(o.pre, fn) }
}

// WithResponseInterceptor appends an extra inbound interceptor.
func WithResponseInterceptor(fn ResponseInterceptor) Option {
	return func(o *clientOptions) { o.post = append(o.post, fn) }
}

// New creates a Client for the Accounts service at baseURL.
func New(baseURL string, sess *session.Manager, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	o := clientOptions{
		tokenHeader: wire.DefaultTokenHeader,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.registry == nil {
		o.registry = mfa.NewRegistry(mfa.TOTP())
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.jar == nil && o.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		o.jar = jar
	}
	if o.jar != nil {
		o.httpClient.Jar = o.jar
	}

	c := &Client{
		base:        base,
		session:     sess,
		registry:    o.registry,
		tokenHeader: o.tokenHeader,
		log:         o.logger,
	}

	pre := append([]RequestInterceptor{c.injectToken, injectRequestID}, o.pre...)
	post := append([]ResponseInterceptor{c.observeResponse}, o.post...)
	httpClient := *o.httpClient
	httpClient.Transport = &interceptTransport{
		base: o.httpClient.Transport,
		pre:  pre,
		post: post,
	}
	c.http = &httpClient

	// An observed logout invalidates any in-flight MFA challenge.
	sess.OnLogout(func() { c.setPendingUpgrade("") })

	return c, nil
}

// Session returns the session manager the client drives.
func (c *Client) Session() *session.Manager {
	return c.session
}

// injectToken attaches a one-time token when a shared secret is
// available; requests go out unauthenticated otherwise.
func (c *Client) injectToken(req *http.Request) error {
	token, ok, err := c.session.GenerateOneTimeToken()
	if err != nil {
		return fmt.Errorf("generating request token: %w", err)
	}
	if ok {
		req.Header.Set(c.tokenHeader, token)
	}
	return nil
}

func injectRequestID(req *http.Request) error {
	req.Header.Set(wire.RequestIDHeader, uuid.NewString())
	return nil
}

// observeResponse re-reads the login-indicator cookie after every
// response so the derived flags track server-side session changes.
func (c *Client) observeResponse(*http.Response) {
	c.session.RefreshLoginLevel()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path, _ = url.JoinPath(u.Path, path)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*wire.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	var envelope wire.Response
	if len(data) > 0 {
		if err := json.Unmarshal(data, &envelope); err != nil && resp.StatusCode < 400 {
			return nil, fmt.Errorf("decoding response envelope: %w", err)
		}
	}

	if resp.StatusCode >= 400 {
		return nil, &ServerError{
			Status:   resp.StatusCode,
			Category: categoryFor(resp.StatusCode),
			Messages: envelope.Errors,
		}
	}
	return &envelope, nil
}

// LoginResult is the outcome of a Login call. MFA is non-nil when the
// server requires a second factor; the caller completes login through
// it.
type LoginResult struct {
	Response *wire.Response
	MFA      *mfa.Continuation
}

// Login authenticates with username and password. The password is
// NFKD-normalized before transmission. On success the server-issued
// secret is installed; when a second factor is required the returned
// continuation carries the rest of the flow.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if err := c.session.CheckAndSetCredentials(); err != nil {
		return nil, err
	}

	body := map[string]any{
		"username":  username,
		"password":  util.Normalize(password),
		"publicKey": c.session.PublicKey().Get(),
		"bid":       c.session.BrowserID().Get(),
	}
	resp, err := c.do(ctx, http.MethodPost, DefaultLoginPath, nil, body)
	if err != nil {
		return nil, err
	}

	if resp.MFA {
		raw := resp.ResultString()
		cont, err := c.registry.Process(raw, c.submitUpgrade)
		if err != nil {
			return nil, err
		}
		c.setPendingUpgrade(raw)
		return &LoginResult{Response: resp, MFA: cont}, nil
	}

	if resp.Success && resp.Token != "" {
		if err := c.session.UpdateCredentials(resp.Token); err != nil {
			return nil, err
		}
	}
	return &LoginResult{Response: resp}, nil
}

// submitUpgrade posts a second-factor submission: the upgrade message
// echoed verbatim, the handler's fields, and the client's local time.
// A token-bearing response finalizes credentials before returning.
func (c *Client) submitUpgrade(ctx context.Context, msg *mfa.Message, fields mfa.Submission) (*wire.Response, error) {
	if !c.challengePending(msg.Raw) {
		return nil, ErrNoPendingChallenge
	}

	body := map[string]any{
		"upgrade":   msg.Raw,
		"localtime": time.Now().Format(time.RFC3339),
	}
	for k, v := range fields {
		body[k] = v
	}

	query := url.Values{"mfa": {msg.Type}}
	resp, err := c.do(ctx, http.MethodPost, DefaultLoginPath, query, body)
	if err != nil {
		return nil, err
	}

	if resp.Success && resp.Token != "" {
		if err := c.session.UpdateCredentials(resp.Token); err != nil {
			return nil, err
		}
		c.setPendingUpgrade("")
	}
	return resp, nil
}

func (c *Client) setPendingUpgrade(raw string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pendingUpgrade = raw
}

func (c *Client) challengePending(raw string) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.pendingUpgrade == raw && raw != ""
}

// Logout tells the server to end the session, then clears local
// credentials and pre-stages a fresh key pair for the next login.
// Local state is cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	_, serverErr := c.do(ctx, http.MethodPost, DefaultLogoutPath, nil, nil)
	if serverErr != nil {
		c.log.Warn("logout request failed, clearing local state anyway", "error", serverErr)
	}

	// Drop any half-finished MFA challenge along with the session.
	c.setPendingUpgrade("")
	if err := c.session.ClearLoginState(); err != nil {
		return err
	}
	c.session.RefreshLoginLevel()
	if err := c.session.RegenerateKeys(); err != nil {
		return err
	}
	return serverErr
}

// Heartbeat refreshes the shared secret before server-side expiry. A
// success response carrying a token rotates the stored secret.
func (c *Client) Heartbeat(ctx context.Context) (*wire.Response, error) {
	resp, err := c.do(ctx, http.MethodPost, DefaultKeepalivePath, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.Success && resp.Token != "" {
		if err := c.session.UpdateCredentials(resp.Token); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// ResetPassword changes the account password. A 401 means the current
// password was wrong: callers should re-prompt, not fail.
func (c *Client) ResetPassword(ctx context.Context, current, next string, extra map[string]any) (*wire.Response, error) {
	body := map[string]any{
		"current": util.Normalize(current),
		"new":     util.Normalize(next),
	}
	for k, v := range extra {
		body[k] = v
	}

	resp, err := c.do(ctx, http.MethodPost, DefaultPasswordPath, nil, body)
	if err != nil {
		var srvErr *ServerError
		if errors.As(err, &srvErr) && srvErr.Status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %w", ErrWrongPassword, err)
		}
		return nil, err
	}
	return resp, nil
}

// GetProfile fetches the account profile for the active session.
func (c *Client) GetProfile(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.do(ctx, http.MethodGet, DefaultProfilePath, nil, nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("profile request rejected: %s", strings.Join(resp.Errors, "; "))
	}
	return resp.Result, nil
}
