package ratchet

import "errors"

var (
	// ErrInvalidSecretLength guards the fixed-size assumptions the KDF
	// helpers make about HKDF output.
	ErrInvalidSecretLength = errors.New("ratchet: invalid secret length")

	// ErrMalformedFrame is returned when a ratchet-layer payload is too
	// short to contain its fixed header.
	ErrMalformedFrame = errors.New("ratchet: malformed frame")

	// ErrDecryptFailed wraps an AEAD open failure (bad tag or truncated
	// ciphertext) at the ratchet layer.
	ErrDecryptFailed = errors.New("ratchet: decryption failed")
)
