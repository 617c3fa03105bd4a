package ratchet

import (
	"crypto/sha256"

	"lora-ratchet/crypto/hkdf"
	"lora-ratchet/crypto/hmac"
)

// Salts must be unique per KDF invocation, mirroring the double ratchet's
// own salt separation between the root-key step and the chain step.
var (
	hkdfSaltKDFRK = []byte("LoRaRatchetRootKey")
)

// KDFRootKey advances the root key across a DH-ratchet step: given the
// current root key and a fresh DH output, it derives a new root key and a
// new chain key seed.
func KDFRootKey(rootKey, dhOut [32]byte) (newRoot, chainSeed [32]byte, err error) {
	buf := make([]byte, 64)
	n, err := hkdf.KDF(sha256.New, dhOut[:], rootKey[:], hkdfSaltKDFRK, buf)
	if err != nil {
		return newRoot, chainSeed, err
	}
	if n != 64 {
		return newRoot, chainSeed, ErrInvalidSecretLength
	}
	copy(newRoot[:], buf[:32])
	copy(chainSeed[:], buf[32:])
	return newRoot, chainSeed, nil
}

// KDFChainKey advances a symmetric chain by one step: given the current
// chain key, it derives the next chain key and the message key for this
// step, using the same HMAC-with-constant construction as the chain it is
// descended from.
func KDFChainKey(chainKey [32]byte) (nextChainKey, messageKey [32]byte, err error) {
	nextBytes := hmac.Hash(sha256.New, chainKey[:], []byte{0x02})
	msgBytes := hmac.Hash(sha256.New, chainKey[:], []byte{0x01})
	if len(nextBytes) != 32 || len(msgBytes) != 32 {
		return nextChainKey, messageKey, ErrInvalidSecretLength
	}
	copy(nextChainKey[:], nextBytes)
	copy(messageKey[:], msgBytes)
	return nextChainKey, messageKey, nil
}
