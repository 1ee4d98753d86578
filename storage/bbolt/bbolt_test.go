package bbolt

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/jmcleod/webseal/internal/util"
	"github.com/jmcleod/webseal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func fastKDFParams() util.Argon2idParams {
	p := util.DefaultArgon2idParams()
	p.MemoryKiB = 8 * 1024
	return p
}

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "webseal.db")
	s, err := NewStoreFromFile(path, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_GetSetDelete(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Set("k", "v"))
	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, s.Delete("k"))
	_, err = s.Get("k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webseal.db")

	s, err := NewStoreFromFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Set("k", "v"))
	require.NoError(t, s.Close())

	s, err = NewStoreFromFile(path, nil)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestStore_Watch(t *testing.T) {
	s := openTestStore(t)

	var values []string
	cancel := s.Watch("k", func(value string, ok bool) {
		values = append(values, value)
	})
	defer cancel()

	require.NoError(t, s.Set("k", "v1"))
	require.NoError(t, s.Set("k", "v2"))
	assert.Equal(t, []string{"v1", "v2"}, values)
}

func TestStore_SealedAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webseal.db")

	s, err := NewStoreFromFile(path, nil,
		WithPassphrase("correct horse"),
		WithKDFParams(fastKDFParams()),
	)
	require.NoError(t, err)
	require.NoError(t, s.Set("k", "plaintext-value"))
	require.NoError(t, s.Close())

	// Raw bytes on disk must be an envelope, not the plaintext.
	db, err := bbolt.Open(path, 0600, nil)
	require.NoError(t, err)
	err = db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte("values")).Get([]byte("k"))
		require.NotNil(t, raw)
		assert.NotContains(t, string(raw), "plaintext-value")

		var env storage.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, "aes256gcm", env.Scheme)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Same passphrase reopens cleanly.
	s, err = NewStoreFromFile(path, nil,
		WithPassphrase("correct horse"),
		WithKDFParams(fastKDFParams()),
	)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "plaintext-value", v)
}

func TestStore_WrongPassphraseFailsToOpenValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webseal.db")

	s, err := NewStoreFromFile(path, nil,
		WithPassphrase("right"),
		WithKDFParams(fastKDFParams()),
	)
	require.NoError(t, err)
	require.NoError(t, s.Set("k", "v"))
	require.NoError(t, s.Close())

	s, err = NewStoreFromFile(path, nil,
		WithPassphrase("wrong"),
		WithKDFParams(fastKDFParams()),
	)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get("k")
	assert.Error(t, err)
}
