// Package session owns the client's session credentials: the
// server-issued shared secret, the browser identifier, and the derived
// logged-in flag, along with the lifecycle operations that tie them
// together.
//
// The lifecycle is a three-state machine. A fresh profile is
// uninitialized; CheckAndSetCredentials moves it to keyed (key pair and
// browser id present, no secret); UpdateCredentials plus a positive
// login-indicator cookie move it to authenticated. Losing either
// condition drops it back to keyed, and an observer defensively clears
// the secret on that transition.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/awnumar/memguard"
	"github.com/jmcleod/webseal/internal/util"
	"github.com/jmcleod/webseal/observe"
	"github.com/jmcleod/webseal/storage"
)

// DefaultRecordName is the storage key the session record persists under.
const DefaultRecordName = "webseal.session"

// record is the single persisted credential record. Both fields are
// cleared together so a half-cleared session cannot be misread as
// valid.
type record struct {
	Token *string `json:"token"`
	BID   *string `json:"bid"`
}

// State holds the browser id and shared-secret token in persisted,
// observable form. The decoded secret is additionally kept in a
// memguard enclave so signing does not re-read storage.
type State struct {
	mu        sync.Mutex
	store     storage.Store
	name      string
	rec       record
	secret    *memguard.Enclave
	selfWrite atomic.Bool

	token     *observe.Value[string]
	browserID *observe.Value[string]
}

// StateOption customizes a State.
type StateOption func(*stateOptions)

type stateOptions struct {
	name string
}

// WithRecordName overrides the storage key of the session record.
func WithRecordName(name string) StateOption {
	return func(o *stateOptions) { o.name = name }
}

// NewState creates a State over the given storage backend, loading any
// persisted record and subscribing to external changes so concurrent
// browsing contexts stay reconciled.
func NewState(store storage.Store, opts ...StateOption) *State {
	o := stateOptions{name: DefaultRecordName}
	for _, opt := range opts {
		opt(&o)
	}

	s := &State{
		store:     store,
		name:      o.name,
		token:     observe.NewValue(""),
		browserID: observe.NewValue(""),
	}

	if raw, err := store.Get(s.name); err == nil {
		s.applyRaw(raw)
	}
	store.Watch(s.name, func(value string, ok bool) {
		if s.selfWrite.Load() {
			return
		}
		if !ok {
			value = `{"token":null,"bid":null}`
		}
		s.applyRaw(value)
	})

	return s
}

// applyRaw replaces the in-memory record (and enclave) from a
// serialized record, then syncs the observables.
func (s *State) applyRaw(raw string) {
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return
	}

	s.mu.Lock()
	s.rec = rec
	s.secret = nil
	if rec.Token != nil {
		if decoded, err := util.Base64Decode(*rec.Token); err == nil {
			s.secret = memguard.NewEnclave(decoded)
		}
	}
	s.mu.Unlock()

	s.token.Set(deref(rec.Token))
	s.browserID.Set(deref(rec.BID))
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (s *State) persist(rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}
	s.selfWrite.Store(true)
	defer s.selfWrite.Store(false)
	return s.store.Set(s.name, string(data))
}

// Token returns the stored shared secret, base64-encoded, or "".
func (s *State) Token() string {
	return s.token.Get()
}

// TokenValue exposes the stored token as a read-only observable.
func (s *State) TokenValue() observe.Readable[string] {
	return s.token
}

// SetToken stores the base64-encoded shared secret. This also caches
// the decoded secret in an enclave for signing.
func (s *State) SetToken(b64 string) error {
	decoded, err := util.Base64Decode(b64)
	if err != nil {
		return fmt.Errorf("decoding shared secret: %w", err)
	}

	s.mu.Lock()
	s.rec.Token = &b64
	s.secret = memguard.NewEnclave(decoded)
	rec := s.rec
	s.mu.Unlock()

	if err := s.persist(rec); err != nil {
		return err
	}
	s.token.Set(b64)
	return nil
}

// ClearToken removes the shared secret but keeps the browser id.
func (s *State) ClearToken() error {
	s.mu.Lock()
	alreadyClear := s.rec.Token == nil
	s.rec.Token = nil
	s.secret = nil
	rec := s.rec
	s.mu.Unlock()

	if alreadyClear {
		return nil
	}
	if err := s.persist(rec); err != nil {
		return err
	}
	s.token.Set("")
	return nil
}

// BrowserID returns the stored browser identifier, or "".
func (s *State) BrowserID() string {
	return s.browserID.Get()
}

// BrowserIDValue exposes the browser id as a read-only observable.
func (s *State) BrowserIDValue() observe.Readable[string] {
	return s.browserID
}

// SetBrowserID stores the browser identifier.
func (s *State) SetBrowserID(bid string) error {
	s.mu.Lock()
	s.rec.BID = &bid
	rec := s.rec
	s.mu.Unlock()

	if err := s.persist(rec); err != nil {
		return err
	}
	s.browserID.Set(bid)
	return nil
}

// Clear atomically resets the record to {token: null, bid: null} and
// destroys the cached secret.
func (s *State) Clear() error {
	s.mu.Lock()
	s.rec = record{}
	s.secret = nil
	s.mu.Unlock()

	if err := s.persist(record{}); err != nil {
		return err
	}
	s.token.Set("")
	s.browserID.Set("")
	return nil
}

// withSecret runs fn with the decoded shared secret. ok is false when
// no secret is stored; fn is not called in that case.
func (s *State) withSecret(fn func(secret []byte) error) (ok bool, err error) {
	s.mu.Lock()
	enclave := s.secret
	s.mu.Unlock()

	if enclave == nil {
		return false, nil
	}
	buf, err := enclave.Open()
	if err != nil {
		return false, fmt.Errorf("opening secret enclave: %w", err)
	}
	defer buf.Destroy()
	return true, fn(buf.Bytes())
}
