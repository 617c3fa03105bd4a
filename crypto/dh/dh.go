// Package dh computes X25519 Diffie-Hellman shared secrets for the EDHOC
// handshake and the ratchet's DH-rekey step.
package dh

import (
	"errors"

	"golang.org/x/crypto/curve25519"

	"lora-ratchet/crypto/x25519"
)

// ErrInvalid is returned when either input key is nil.
var ErrInvalid = errors.New("dh: invalid input key")

// SharedSecret returns the raw 32-byte X25519 output of privKey * pubKey.
func SharedSecret(privKey *x25519.PrivateKey, pubKey *x25519.PublicKey) ([]byte, error) {
	if privKey == nil || pubKey == nil {
		return nil, ErrInvalid
	}
	return curve25519.X25519(privKey[:], pubKey[:])
}
