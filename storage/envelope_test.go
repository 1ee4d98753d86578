package storage

import (
	"testing"

	"github.com/jmcleod/webseal/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenValue_RoundTrip(t *testing.T) {
	sealKey, err := util.RandomBytes(util.AESKeySize)
	require.NoError(t, err)

	env, err := SealValue(sealKey, "webseal.session", []byte(`{"token":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, env.Ver)
	assert.Equal(t, "aes256gcm", env.Scheme)
	assert.Len(t, env.Nonce, util.AESNonceSize)

	plain, err := OpenValue(sealKey, "webseal.session", env)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"token":"abc"}`), plain)
}

func TestOpenValue_KeyNameMismatch(t *testing.T) {
	sealKey, err := util.RandomBytes(util.AESKeySize)
	require.NoError(t, err)

	env, err := SealValue(sealKey, "webseal.session", []byte("data"))
	require.NoError(t, err)

	_, err = OpenValue(sealKey, "webseal.keys", env)
	assert.Error(t, err)
}

func TestOpenValue_UnsupportedVersion(t *testing.T) {
	sealKey, err := util.RandomBytes(util.AESKeySize)
	require.NoError(t, err)

	env, err := SealValue(sealKey, "k", []byte("data"))
	require.NoError(t, err)

	env.Ver = 2
	_, err = OpenValue(sealKey, "k", env)
	assert.ErrorContains(t, err, "unsupported envelope version")
}

func TestWatchSet_NotifyAndCancel(t *testing.T) {
	var ws WatchSet

	var got []string
	cancel := ws.Add("k", func(value string, ok bool) {
		got = append(got, value)
	})

	ws.Notify("k", "v1", true)
	ws.Notify("other", "x", true)
	assert.Equal(t, []string{"v1"}, got)

	cancel()
	ws.Notify("k", "v2", true)
	assert.Equal(t, []string{"v1"}, got)
}
