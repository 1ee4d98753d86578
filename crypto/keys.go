// Package crypto wraps the asymmetric and digest primitives used by the
// session credential protocol: RSA-OAEP key pairs exported as
// base64-encoded PKCS8/SPKI, decryption under the private key, and
// proof-of-possession digests.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"github.com/jmcleod/webseal/internal/util"
)

// DefaultKeyBits is the modulus size used when none is configured.
const DefaultKeyBits = 2048

// KeyPair holds an RSA key pair used to receive the server-issued
// shared secret. Only the public half ever leaves the client.
type KeyPair struct {
	private *rsa.PrivateKey
}

// GenerateKeyPair generates a new RSA key pair with the given modulus
// size in bits.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key pair: %w", err)
	}
	return &KeyPair{private: priv}, nil
}

// ExportPrivate returns the private key as base64-encoded PKCS8.
func (kp *KeyPair) ExportPrivate() (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.private)
	if err != nil {
		return "", fmt.Errorf("exporting private key: %w", err)
	}
	return util.Base64Encode(der), nil
}

// ExportPublic returns the public key as base64-encoded SPKI.
func (kp *KeyPair) ExportPublic() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&kp.private.PublicKey)
	if err != nil {
		return "", fmt.Errorf("exporting public key: %w", err)
	}
	return util.Base64Encode(der), nil
}

// ImportPrivateKey parses a base64-encoded PKCS8 RSA private key.
func ImportPrivateKey(b64 string) (*KeyPair, error) {
	der, err := util.Base64Decode(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key", ErrMalformedKey)
	}
	return &KeyPair{private: priv}, nil
}

// ImportPublicKey parses a base64-encoded SPKI RSA public key.
func ImportPublicKey(b64 string) (*rsa.PublicKey, error) {
	der, err := util.Base64Decode(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", ErrMalformedKey)
	}
	return pub, nil
}

// Decrypt decrypts ciphertext with RSA-OAEP (SHA-256) under the
// private key.
func (kp *KeyPair) Decrypt(cipherText []byte) ([]byte, error) {
	plainText, err := rsa.DecryptOAEP(sha256.New(), nil, kp.private, cipherText, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptFailed, err)
	}
	return plainText, nil
}

// Encrypt encrypts plaintext with RSA-OAEP (SHA-256) under the public
// key. The client never encrypts in the protocol; this is the server
// half of the exchange, used by the reference server and round-trip
// tests.
func Encrypt(pub *rsa.PublicKey, plainText []byte) ([]byte, error) {
	cipherText, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plainText, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypting with RSA-OAEP: %w", err)
	}
	return cipherText, nil
}

// DigestBase64 returns the base64-encoded SHA-256 digest of b, used
// where the server expects proof-of-possession without the raw secret.
func DigestBase64(b []byte) string {
	sum := sha256.Sum256(b)
	return util.Base64Encode(sum[:])
}
