// Package keystore owns the client's asymmetric key pair: it
// guarantees a usable pair exists, persists both halves base64-encoded
// (PKCS8 private, SPKI public), and provides decryption of
// server-delivered ciphertext against the private key.
package keystore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jmcleod/webseal/crypto"
	"github.com/jmcleod/webseal/internal/util"
	"github.com/jmcleod/webseal/observe"
	"github.com/jmcleod/webseal/storage"
)

// Default storage keys for the two persisted key halves.
const (
	DefaultPrivateKeyName = "webseal.keys.private"
	DefaultPublicKeyName  = "webseal.keys.public"
)

// ErrNoPrivateKey is returned by Decrypt when no private key is stored.
var ErrNoPrivateKey = errors.New("no private key stored")

// KeyStore manages the client key pair in a storage backend.
type KeyStore struct {
	mu       sync.Mutex
	store    storage.Store
	bits     int
	privName string
	pubName  string
	public   *observe.Value[string]
}

type options struct {
	bits     int
	privName string
	pubName  string
}

// Option customizes a KeyStore.
type Option func(*options)

// WithKeyBits sets the RSA modulus size for generated key pairs.
func WithKeyBits(bits int) Option {
	return func(o *options) { o.bits = bits }
}

// WithStorageNames overrides the storage keys the two halves are
// persisted under.
func WithStorageNames(private, public string) Option {
	return func(o *options) {
		o.privName = private
		o.pubName = public
	}
}

// New creates a KeyStore over the given storage backend. No keys are
// generated until CheckAndSetKeys is called.
func New(store storage.Store, opts ...Option) *KeyStore {
	o := options{
		bits:     crypto.DefaultKeyBits,
		privName: DefaultPrivateKeyName,
		pubName:  DefaultPublicKeyName,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ks := &KeyStore{
		store:    store,
		bits:     o.bits,
		privName: o.privName,
		pubName:  o.pubName,
		public:   observe.NewValue(""),
	}

	if pub, err := store.Get(ks.pubName); err == nil {
		ks.public.Set(pub)
	}
	// Keep the exposed public key in sync with external writers.
	store.Watch(ks.pubName, func(value string, ok bool) {
		if !ok {
			value = ""
		}
		ks.public.Set(value)
	})

	return ks
}

// PublicKey exposes the stored public key (base64 SPKI) as a read-only
// observable. Empty means no key pair exists yet.
func (ks *KeyStore) PublicKey() observe.Readable[string] {
	return ks.public
}

// CheckAndSetKeys ensures a key pair exists: a no-op when both stored
// halves are present, otherwise it generates and persists a fresh pair.
// Idempotent; safe to call on every session check.
func (ks *KeyStore) CheckAndSetKeys() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	_, privErr := ks.store.Get(ks.privName)
	_, pubErr := ks.store.Get(ks.pubName)
	if privErr == nil && pubErr == nil {
		return nil
	}

	kp, err := crypto.GenerateKeyPair(ks.bits)
	if err != nil {
		return err
	}
	priv, err := kp.ExportPrivate()
	if err != nil {
		return err
	}
	pub, err := kp.ExportPublic()
	if err != nil {
		return err
	}

	if err := ks.store.Set(ks.privName, priv); err != nil {
		return fmt.Errorf("storing private key: %w", err)
	}
	if err := ks.store.Set(ks.pubName, pub); err != nil {
		return fmt.Errorf("storing public key: %w", err)
	}
	ks.public.Set(pub)
	return nil
}

// RegenerateKeys clears both stored halves and generates a fresh pair,
// invalidating any secret encrypted under the old public key.
func (ks *KeyStore) RegenerateKeys() error {
	if err := ks.ClearKeys(); err != nil {
		return err
	}
	return ks.CheckAndSetKeys()
}

// ClearKeys removes both stored halves without regenerating.
func (ks *KeyStore) ClearKeys() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if err := ks.store.Delete(ks.privName); err != nil {
		return fmt.Errorf("clearing private key: %w", err)
	}
	if err := ks.store.Delete(ks.pubName); err != nil {
		return fmt.Errorf("clearing public key: %w", err)
	}
	ks.public.Set("")
	return nil
}

// Decrypt decrypts ciphertext with the stored private key.
func (ks *KeyStore) Decrypt(cipherText []byte) ([]byte, error) {
	ks.mu.Lock()
	privB64, err := ks.store.Get(ks.privName)
	ks.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoPrivateKey, err)
	}

	kp, err := crypto.ImportPrivateKey(privB64)
	if err != nil {
		return nil, err
	}
	return kp.Decrypt(cipherText)
}

// DecryptBase64 base64-decodes cipherText before decrypting.
func (ks *KeyStore) DecryptBase64(cipherText string) ([]byte, error) {
	raw, err := util.Base64Decode(cipherText)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}
	return ks.Decrypt(raw)
}

// DecryptAndHash decrypts ciphertext and returns the base64-encoded
// SHA-256 digest of the plaintext, for proof-of-possession exchanges
// that must not reveal the raw secret.
func (ks *KeyStore) DecryptAndHash(cipherText []byte) (string, error) {
	plain, err := ks.Decrypt(cipherText)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(plain)
	return crypto.DigestBase64(plain), nil
}
