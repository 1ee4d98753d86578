package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(32)
	require.NoError(t, err)
	b, err := RandomHex(32)
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestSealOpenAES_RoundTrip(t *testing.T) {
	key, err := RandomBytes(AESKeySize)
	require.NoError(t, err)

	plaintext := []byte("credential record")
	aad := []byte("record:session")

	sealed, err := SealAES(plaintext, key, aad)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := OpenAES(sealed, key, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealAES_NoncePrefixLength(t *testing.T) {
	key, err := RandomBytes(AESKeySize)
	require.NoError(t, err)

	plaintext := []byte("x")
	sealed, err := SealAES(plaintext, key, nil)
	require.NoError(t, err)

	// Callers split the output at AESNonceSize, so the prefix length
	// must match what GCM actually produced: nonce + plaintext + tag.
	const gcmTagSize = 16
	assert.Len(t, sealed, AESNonceSize+len(plaintext)+gcmTagSize)
}

func TestOpenAES_WrongAAD(t *testing.T) {
	key, err := RandomBytes(AESKeySize)
	require.NoError(t, err)

	sealed, err := SealAES([]byte("data"), key, []byte("aad-1"))
	require.NoError(t, err)

	_, err = OpenAES(sealed, key, []byte("aad-2"))
	assert.Error(t, err)
}

func TestSealAES_RejectsBadKeySize(t *testing.T) {
	_, err := SealAES([]byte("data"), make([]byte, 16), nil)
	assert.Error(t, err)
}

func TestDeriveArgon2idKey_Deterministic(t *testing.T) {
	params := DefaultArgon2idParams()
	params.MemoryKiB = 8 * 1024 // keep the test fast

	salt := []byte("0123456789abcdef")

	k1, err := DeriveArgon2idKey("passphrase", salt, params)
	require.NoError(t, err)
	k2, err := DeriveArgon2idKey("passphrase", salt, params)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveArgon2idKey("other", salt, params)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestNormalize(t *testing.T) {
	// U+00E9 vs e + combining acute
	assert.Equal(t, Normalize("café"), Normalize("café"))
}

func TestBase64RoundTrip(t *testing.T) {
	b := []byte{0x00, 0xff, 0x10, 0x80}
	decoded, err := Base64Decode(Base64Encode(b))
	require.NoError(t, err)
	assert.Equal(t, b, decoded)
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	WipeBytes(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
