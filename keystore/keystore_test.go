package keystore

import (
	"testing"

	"github.com/jmcleod/webseal/crypto"
	"github.com/jmcleod/webseal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAndSetKeys_Idempotent(t *testing.T) {
	ks := New(memory.NewStore())

	require.NoError(t, ks.CheckAndSetKeys())
	first := ks.PublicKey().Get()
	require.NotEmpty(t, first)

	// Repeated calls must not regenerate.
	require.NoError(t, ks.CheckAndSetKeys())
	require.NoError(t, ks.CheckAndSetKeys())
	assert.Equal(t, first, ks.PublicKey().Get())
}

func TestDecrypt_RoundTrip(t *testing.T) {
	ks := New(memory.NewStore())
	require.NoError(t, ks.CheckAndSetKeys())

	pub, err := crypto.ImportPublicKey(ks.PublicKey().Get())
	require.NoError(t, err)

	secret := []byte("server issued secret")
	cipherText, err := crypto.Encrypt(pub, secret)
	require.NoError(t, err)

	plain, err := ks.Decrypt(cipherText)
	require.NoError(t, err)
	assert.Equal(t, secret, plain)
}

func TestDecrypt_NoPrivateKey(t *testing.T) {
	ks := New(memory.NewStore())

	_, err := ks.Decrypt([]byte("anything"))
	assert.ErrorIs(t, err, ErrNoPrivateKey)
}

func TestRegenerateKeys_InvalidatesOldSecret(t *testing.T) {
	ks := New(memory.NewStore())
	require.NoError(t, ks.CheckAndSetKeys())

	oldPub := ks.PublicKey().Get()
	pub, err := crypto.ImportPublicKey(oldPub)
	require.NoError(t, err)
	cipherText, err := crypto.Encrypt(pub, []byte("old secret"))
	require.NoError(t, err)

	require.NoError(t, ks.RegenerateKeys())
	assert.NotEqual(t, oldPub, ks.PublicKey().Get())

	_, err = ks.Decrypt(cipherText)
	assert.ErrorIs(t, err, crypto.ErrDecryptFailed)
}

func TestClearKeys(t *testing.T) {
	ks := New(memory.NewStore())
	require.NoError(t, ks.CheckAndSetKeys())

	require.NoError(t, ks.ClearKeys())
	assert.Empty(t, ks.PublicKey().Get())

	_, err := ks.Decrypt([]byte("x"))
	assert.ErrorIs(t, err, ErrNoPrivateKey)
}

func TestDecryptAndHash(t *testing.T) {
	ks := New(memory.NewStore())
	require.NoError(t, ks.CheckAndSetKeys())

	pub, err := crypto.ImportPublicKey(ks.PublicKey().Get())
	require.NoError(t, err)

	secret := []byte("proof of possession")
	cipherText, err := crypto.Encrypt(pub, secret)
	require.NoError(t, err)

	digest, err := ks.DecryptAndHash(cipherText)
	require.NoError(t, err)
	assert.Equal(t, crypto.DigestBase64(secret), digest)
}

func TestDecryptBase64_BadEncoding(t *testing.T) {
	ks := New(memory.NewStore())
	require.NoError(t, ks.CheckAndSetKeys())

	_, err := ks.DecryptBase64("%%%not-base64%%%")
	assert.Error(t, err)
}

func TestPublicKey_TracksExternalWrites(t *testing.T) {
	store := memory.NewStore()
	ks := New(store)
	require.NoError(t, ks.CheckAndSetKeys())

	// Another browsing context clearing the key is observed.
	require.NoError(t, store.Delete(DefaultPublicKeyName))
	assert.Empty(t, ks.PublicKey().Get())
}
