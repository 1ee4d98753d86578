package storage

import (
	"fmt"

	"github.com/jmcleod/webseal/internal/util"
)

// Envelope is a sealed value containing AES-256-GCM encrypted data.
// Durable backends use it to avoid persisting key material in the
// clear.
type Envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// SealValue encrypts plaintext into an Envelope under sealKey, binding
// the storage key name as AAD so envelopes cannot be swapped between
// keys.
func SealValue(sealKey []byte, keyName string, plaintext []byte) (*Envelope, error) {
	cipher, err := util.SealAES(plaintext, sealKey, []byte(keyName))
	if err != nil {
		return nil, err
	}

	// util.SealAES returns nonce || ciphertext.
	return &Envelope{
		Ver:        1,
		Scheme:     "aes256gcm",
		Nonce:      cipher[:util.AESNonceSize],
		Ciphertext: cipher[util.AESNonceSize:],
	}, nil
}

// OpenValue decrypts an Envelope sealed with SealValue.
func OpenValue(sealKey []byte, keyName string, envelope *Envelope) ([]byte, error) {
	if envelope.Ver != 1 {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != "aes256gcm" {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}

	fullCipher := make([]byte, len(envelope.Nonce)+len(envelope.Ciphertext))
	copy(fullCipher, envelope.Nonce)
	copy(fullCipher[len(envelope.Nonce):], envelope.Ciphertext)

	return util.OpenAES(fullCipher, sealKey, []byte(keyName))
}
