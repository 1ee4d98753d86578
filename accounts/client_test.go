package accounts

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/webseal/accountstest"
	"github.com/jmcleod/webseal/keystore"
	"github.com/jmcleod/webseal/mfa"
	"github.com/jmcleod/webseal/session"
	"github.com/jmcleod/webseal/storage/memory"
)

type fixture struct {
	server *accountstest.Server
	client *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	srv, err := accountstest.NewServer()
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	store := memory.NewStore()
	keys := keystore.New(store)
	state := session.NewState(store)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	base, err := url.Parse(ts.URL)
	require.NoError(t, err)

	sess := session.NewManager(keys, state,
		session.WithCookieSource(session.NewJarSource(jar, base, "")))

	client, err := New(ts.URL, sess, WithCookieJar(jar))
	require.NoError(t, err)

	return &fixture{server: srv, client: client}
}

func TestLoginEstablishesSession(t *testing.T) {
	f := newFixture(t)
	f.server.AddUser("alice", "hunter2")

	result, err := f.client.Login(t.Context(), "alice", "hunter2")
	require.NoError(t, err)
	require.Nil(t, result.MFA)
	require.True(t, result.Response.Success)

	sess := f.client.Session()
	assert.True(t, sess.LoggedIn().Get())
	assert.True(t, sess.IsLocalAccount().Get())
	assert.NotEmpty(t, sess.BrowserID().Get())
	assert.NotEmpty(t, sess.PublicKey().Get())
}

func TestLoginFederatedAccount(t *testing.T) {
	f := newFixture(t)
	f.server.AddUser("bob", "s3cret")
	f.server.SetFederated("bob")

	_, err := f.client.Login(t.Context(), "bob", "s3cret")
	require.NoError(t, err)

	sess := f.client.Session()
	assert.True(t, sess.LoggedIn().Get())
	assert.False(t, sess.IsLocalAccount().Get())
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.server.AddUser("alice", "hunter2")

	_, err := f.client.Login(t.Context(), "alice", "nope")
	var srvErr *ServerError
	require.ErrorAs(t, err, &srvErr)
	assert.Equal(t, http.StatusUnauthorized, srvErr.Status)
	assert.Equal(t, CategoryAuth, srvErr.Category)
	assert.False(t, f.client.Session().LoggedIn().Get())
}

func TestProfileRequiresLogin(t *testing.T) {
	f := newFixture(t)
	f.server.AddUser("alice", "hunter2")

	_, err := f.client.GetProfile(t.Context())
	var srvErr *ServerError
	require.ErrorAs(t, err, &srvErr)
	assert.Equal(t, http.StatusUnauthorized, srvErr.Status)
}

func TestProfileAfterLogin(t *testing.T) {
	f := newFixture(t)
	f.server.AddUser("alice", "hunter2")

	_, err := f.client.Login(t.Context(), "alice", "hunter2")
	require.NoError(t, err)

	raw, err := f.client.GetProfile(t.Context())
	require.NoError(t, err)

	var profile struct {
		Username  string `json:"username"`
		Federated bool   `json:"federated"`
	}
	require.NoError(t, json.Unmarshal(raw, &profile))
	assert.Equal(t, "alice", profile.Username)
	assert.False(t, profile.Federated)
}

func TestMFAFlow(t *testing.T) {
	f := newFixture(t)
	f.server.AddUser("alice", "hunter2")
	secret, err := f.server.EnrollTOTP("alice")
	require.NoError(t, err)

	result, err := f.client.Login(t.Context(), "alice", "hunter2")
	require.NoError(t, err)
	require.NotNil(t, result.MFA)
	assert.Equal(t, mfa.MethodTOTP, result.MFA.Type)
	assert.False(t, f.client.Session().LoggedIn().Get())

	// Wrong code: challenge stays open for another attempt.
	resp, err := result.MFA.Submit(t.Context(), mfa.Submission{"code": "000000"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.True(t, resp.MFA)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	resp, err = result.MFA.Submit(t.Context(), mfa.Submission{"code": code})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.True(t, f.client.Session().LoggedIn().Get())
}

func TestMFASubmitAfterLogoutRejected(t *testing.T) {
	f := newFixture(t)
	f.server.AddUser("alice", "hunter2")
	_, err := f.server.EnrollTOTP("alice")
	require.NoError(t, err)

	result, err := f.client.Login(t.Context(), "alice", "hunter2")
	require.NoError(t, err)
	require.NotNil(t, result.MFA)

	require.NoError(t, f.client.Logout(t.Context()))

	_, err = result.MFA.Submit(t.Context(), mfa.Submission{"code": "123456"})
	assert.ErrorIs(t, err, ErrNoPendingChallenge)
}

func TestLogoutClearsStateAndRotatesKeys(t *testing.T) {
	f := newFixture(t)
	f.server.AddUser("alice", "hunter2")

	_, err := f.client.Login(t.Context(), "alice", "hunter2")
	require.NoError(t, err)

	sess := f.client.Session()
	oldKey := sess.PublicKey().Get()
	require.NotEmpty(t, oldKey)

	require.NoError(t, f.client.Logout(t.Context()))

	assert.False(t, sess.LoggedIn().Get())
	newKey := sess.PublicKey().Get()
	assert.NotEmpty(t, newKey)
	assert.NotEqual(t, oldKey, newKey)

	// The fresh pair works for the next login.
	_, err = f.client.Login(t.Context(), "alice", "hunter2")
	require.NoError(t, err)
	assert.True(t, sess.LoggedIn().Get())
}

func TestHeartbeatRotatesSecret(t *testing.T) {
	f := newFixture(t)
	f.server.AddUser("alice", "hunter2")

	_, err := f.client.Login(t.Context(), "alice", "hunter2")
	require.NoError(t, err)

	resp, err := f.client.Heartbeat(t.Context())
	require.NoError(t, err)
	require.True(t, resp.Success)

	// Still logged in and the rotated secret signs valid tokens.
	assert.True(t, f.client.Session().LoggedIn().Get())
	_, err = f.client.GetProfile(t.Context())
	require.NoError(t, err)
}

func TestResetPasswordWrongCurrent(t *testing.T) {
	f := newFixture(t)
	f.server.AddUser("alice", "hunter2")

	_, err := f.client.Login(t.Context(), "alice", "hunter2")
	require.NoError(t, err)

	_, err = f.client.ResetPassword(t.Context(), "wrong", "better", nil)
	assert.ErrorIs(t, err, ErrWrongPassword)

	_, err = f.client.ResetPassword(t.Context(), "hunter2", "better", nil)
	require.NoError(t, err)
}

func TestGetProfileRejectedEnvelope(t *testing.T) {
	// A 2xx response whose envelope reports success=false must surface
	// as an error, not a nil payload.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"errors":["profile unavailable"]}`))
	}))
	t.Cleanup(ts.Close)

	store := memory.NewStore()
	sess := session.NewManager(keystore.New(store), session.NewState(store))

	client, err := New(ts.URL, sess)
	require.NoError(t, err)

	payload, err := client.GetProfile(t.Context())
	require.Error(t, err)
	assert.Nil(t, payload)
	assert.Contains(t, err.Error(), "profile unavailable")
}

func TestNetworkErrorWrapsTransportFailure(t *testing.T) {
	store := memory.NewStore()
	sess := session.NewManager(keystore.New(store), session.NewState(store))

	client, err := New("http://127.0.0.1:1", sess)
	require.NoError(t, err)

	_, err = client.Login(t.Context(), "alice", "hunter2")
	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
}
