package session

import (
	"testing"

	"github.com/jmcleod/webseal/internal/util"
	"github.com/jmcleod/webseal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_TokenRoundTrip(t *testing.T) {
	s := NewState(memory.NewStore())
	assert.Empty(t, s.Token())

	b64 := util.Base64Encode([]byte("shared secret"))
	require.NoError(t, s.SetToken(b64))
	assert.Equal(t, b64, s.Token())

	ok, err := s.withSecret(func(secret []byte) error {
		assert.Equal(t, []byte("shared secret"), secret)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestState_SetToken_RejectsBadBase64(t *testing.T) {
	s := NewState(memory.NewStore())
	assert.Error(t, s.SetToken("%%%"))
	assert.Empty(t, s.Token())
}

func TestState_ClearResetsBothFields(t *testing.T) {
	store := memory.NewStore()
	s := NewState(store)

	require.NoError(t, s.SetToken(util.Base64Encode([]byte("x"))))
	require.NoError(t, s.SetBrowserID("bid-1"))

	require.NoError(t, s.Clear())
	assert.Empty(t, s.Token())
	assert.Empty(t, s.BrowserID())

	// The persisted record is nulled in a single write.
	raw, err := store.Get(DefaultRecordName)
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":null,"bid":null}`, raw)

	ok, err := s.withSecret(func([]byte) error { return nil })
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestState_ClearTokenKeepsBrowserID(t *testing.T) {
	s := NewState(memory.NewStore())
	require.NoError(t, s.SetToken(util.Base64Encode([]byte("x"))))
	require.NoError(t, s.SetBrowserID("bid-1"))

	require.NoError(t, s.ClearToken())
	assert.Empty(t, s.Token())
	assert.Equal(t, "bid-1", s.BrowserID())
}

func TestState_LoadsPersistedRecord(t *testing.T) {
	store := memory.NewStore()
	b64 := util.Base64Encode([]byte("persisted"))
	require.NoError(t, store.Set(DefaultRecordName, `{"token":"`+b64+`","bid":"bid-9"}`))

	s := NewState(store)
	assert.Equal(t, b64, s.Token())
	assert.Equal(t, "bid-9", s.BrowserID())
}

func TestState_ReconcilesExternalWrites(t *testing.T) {
	store := memory.NewStore()
	s := NewState(store)
	require.NoError(t, s.SetToken(util.Base64Encode([]byte("mine"))))

	// Another browsing context overwrites the record; last writer wins.
	other := util.Base64Encode([]byte("theirs"))
	require.NoError(t, store.Set(DefaultRecordName, `{"token":"`+other+`","bid":"bid-2"}`))

	assert.Equal(t, other, s.Token())
	assert.Equal(t, "bid-2", s.BrowserID())

	ok, err := s.withSecret(func(secret []byte) error {
		assert.Equal(t, []byte("theirs"), secret)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestState_ExternalDeleteClearsEverything(t *testing.T) {
	store := memory.NewStore()
	s := NewState(store)
	require.NoError(t, s.SetToken(util.Base64Encode([]byte("x"))))

	require.NoError(t, store.Delete(DefaultRecordName))
	assert.Empty(t, s.Token())
	assert.Empty(t, s.BrowserID())
}
