package crypto

import "errors"

var (
	// ErrMalformedKey indicates stored key material could not be decoded
	// or imported.
	ErrMalformedKey = errors.New("malformed key material")
	// ErrDecryptFailed indicates the ciphertext does not match the key or
	// algorithm.
	ErrDecryptFailed = errors.New("decryption failed")
)
