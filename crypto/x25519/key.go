// Package x25519 holds the 32-byte static/ephemeral Diffie-Hellman key
// types used by the EDHOC handshake and the LoRaRatchet chain, backed by
// curve25519 (RFC 7748).
package x25519

import (
	"crypto/rand"

	"golang.org/x/crypto/curve25519"
)

type (
	// PrivateKey is a 32-byte X25519 scalar.
	PrivateKey [32]byte
	// PublicKey is a 32-byte X25519 point.
	PublicKey [32]byte
)

// New generates a fresh private key from a cryptographically strong RNG.
func New() (*PrivateKey, error) {
	var priv PrivateKey
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, err
	}
	// clamp per RFC 7748 so every generated scalar is a valid X25519 key
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	return &priv, nil
}

// Public derives the public point for this private scalar.
func (priv *PrivateKey) Public() (*PublicKey, error) {
	var pub PublicKey
	out, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(pub[:], out)
	return &pub, nil
}

// Equals reports whether two public keys carry the same byte content.
func (pub *PublicKey) Equals(other *PublicKey) bool {
	if pub == nil || other == nil {
		return false
	}
	for i := range pub {
		if pub[i] != other[i] {
			return false
		}
	}
	return true
}
