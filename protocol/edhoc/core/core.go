// Package core implements the EDHOC message processing this system treats
// as an external collaborator in principle: suite/method negotiation,
// message 1-4 framing, and the HKDF-based derivation of the handshake MAC
// keys and the final session keys. Suite and method are fixed, not
// negotiated; a mismatched peer is an own error, not a protocol branch.
package core

import (
	"crypto/sha256"

	"lora-ratchet/crypto/hkdf"
	"lora-ratchet/crypto/x25519"
)

// Suite and MethodType are the only values this handshake accepts.
const (
	Suite      byte = 3
	MethodType byte = 0
)

// SessionKeys are the three secrets a completed handshake produces.
// ChainA is always the initiator-to-responder direction (the ED's send
// key, the AS's recv key); ChainB is the reverse. Both roles derive the
// same triple from the same DH terms, so this labelling is all either
// side needs to pick its own send/recv assignment.
type SessionKeys struct {
	RootKey [32]byte
	ChainA  [32]byte
	ChainB  [32]byte
}

// GenerateEphemeral produces a fresh X25519 ephemeral keypair for one
// handshake attempt.
func GenerateEphemeral() (*x25519.PrivateKey, *x25519.PublicKey, error) {
	priv, err := x25519.New()
	if err != nil {
		return nil, nil, err
	}
	pub, err := priv.Public()
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

var (
	infoMAC2  = []byte("LoRaRatchet-EDHOC-MAC2")
	infoMAC3  = []byte("LoRaRatchet-EDHOC-MAC3")
	infoRoot  = []byte("LoRaRatchet-EDHOC-ROOT")
	infoChain = []byte("LoRaRatchet-EDHOC-CHAIN")
)

// transcriptSecret concatenates the handshake's DH outputs in a fixed
// order, mirroring the multi-DH-then-HKDF construction used elsewhere in
// this codebase for key agreement.
func transcriptSecret(dh ...[]byte) []byte {
	var out []byte
	for _, d := range dh {
		out = append(out, d...)
	}
	return out
}

// deriveKey runs HKDF-SHA256 over secret with the given info label,
// filling a 32-byte key.
func deriveKey(secret, info []byte) ([32]byte, error) {
	var out [32]byte
	if _, err := hkdf.KDF(sha256.New, secret, nil, info, out[:]); err != nil {
		return out, err
	}
	return out, nil
}

// DeriveMAC2Key derives the key used to authenticate message 2: bound to
// the ephemeral-ephemeral DH and the initiator's ephemeral-to-responder's-
// static DH (dhES), so only the holder of the responder's static key can
// produce it.
func DeriveMAC2Key(dhEE, dhES []byte) ([32]byte, error) {
	return deriveKey(transcriptSecret(dhEE, dhES), infoMAC2)
}

// DeriveMAC3Key additionally folds in the initiator's static-to-responder's-
// ephemeral DH (dhSE), authenticating the initiator in turn.
func DeriveMAC3Key(dhEE, dhES, dhSE []byte) ([32]byte, error) {
	return deriveKey(transcriptSecret(dhEE, dhES, dhSE), infoMAC3)
}

// DeriveSessionKeys produces the final root key and the two (unassigned)
// chain keys once both static-DH terms have been folded in. Callers
// decide which chain key is "send" and which is "recv" for their role.
func DeriveSessionKeys(dhEE, dhES, dhSE []byte) (SessionKeys, error) {
	secret := transcriptSecret(dhEE, dhES, dhSE)
	root, err := deriveKey(secret, infoRoot)
	if err != nil {
		return SessionKeys{}, err
	}
	chainSeed, err := deriveKey(secret, infoChain)
	if err != nil {
		return SessionKeys{}, err
	}
	// Split the chain seed into two independent chain keys via a second
	// HKDF pass keyed by the seed, labelled A/B.
	var chainA, chainB [32]byte
	if _, err := hkdf.KDF(sha256.New, chainSeed[:], nil, []byte("A"), chainA[:]); err != nil {
		return SessionKeys{}, err
	}
	if _, err := hkdf.KDF(sha256.New, chainSeed[:], nil, []byte("B"), chainB[:]); err != nil {
		return SessionKeys{}, err
	}
	return SessionKeys{RootKey: root, ChainA: chainA, ChainB: chainB}, nil
}
