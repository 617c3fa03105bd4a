package ratchet

import (
	"lora-ratchet/crypto/aead"
	"lora-ratchet/crypto/dh"
	"lora-ratchet/crypto/x25519"
)

// EDRatchet is the ED-side ratchet instance: it owns the three session
// secrets the handshake produced and advances the send/recv chains
// symmetrically, initiating a DH-ratchet step on demand from the ratchet
// loop rather than reactively on every inbound message.
type EDRatchet struct {
	devaddr   [4]byte
	rootKey   [32]byte
	sendChain [32]byte
	recvChain [32]byte
	sendN     uint16
	recvN     uint16
	sendPN    uint16

	pendingEphemeral *x25519.PrivateKey
}

// NewEDRatchet constructs the ED's ratchet instance right after the
// handshake completes.
func NewEDRatchet(devaddr [4]byte, rootKey, sendChain, recvChain [32]byte) *EDRatchet {
	return &EDRatchet{
		devaddr:   devaddr,
		rootKey:   rootKey,
		sendChain: sendChain,
		recvChain: recvChain,
	}
}

// SealUplink advances the send chain by one step and produces a mtype=5
// ratchet-layer frame carrying plaintext.
func (r *EDRatchet) SealUplink(plaintext []byte) ([]byte, error) {
	nextChain, msgKey, err := KDFChainKey(r.sendChain)
	if err != nil {
		return nil, err
	}
	r.sendChain = nextChain

	sealed, err := aead.Seal(msgKey, plaintext, r.devaddr[:])
	if err != nil {
		return nil, err
	}

	frame := Frame{
		Pn:      r.sendPN,
		N:       r.sendN,
		Devaddr: r.devaddr,
		Sealed:  sealed,
	}
	r.sendN++
	return Encode(frame), nil
}

// OpenDownlink consumes a regular (non-rekey) downlink frame, advancing the
// recv chain and returning the decrypted plaintext.
func (r *EDRatchet) OpenDownlink(raw []byte) ([]byte, error) {
	frame, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	nextChain, msgKey, err := KDFChainKey(r.recvChain)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(msgKey, frame.Sealed, r.devaddr[:])
	if err != nil {
		return nil, ErrDecryptFailed
	}
	r.recvChain = nextChain
	r.recvN++
	return plaintext, nil
}

// BeginDHRekey generates a fresh ephemeral keypair and emits a mtype=7
// DH-request frame carrying its public half. The caller transmits the
// frame and later hands the AS's ack to CompleteDHRekey.
func (r *EDRatchet) BeginDHRekey() ([]byte, error) {
	priv, err := x25519.New()
	if err != nil {
		return nil, err
	}
	pub, err := priv.Public()
	if err != nil {
		return nil, err
	}
	r.pendingEphemeral = priv

	frame := Frame{
		Pn:         r.sendPN,
		N:          r.sendN,
		DHRequest:  true,
		Devaddr:    r.devaddr,
		RatchetPub: *pub,
	}
	return Encode(frame), nil
}

// CompleteDHRekey processes the AS's DH-ack frame: it computes the new DH
// output against the AS's fresh ephemeral public key, folds it into the
// root key, and reseeds both chains. Both chains reseed from the same
// updated root so the two roles stay in lock-step without further
// negotiation.
func (r *EDRatchet) CompleteDHRekey(raw []byte) error {
	frame, err := Decode(raw)
	if err != nil {
		return err
	}
	if r.pendingEphemeral == nil {
		return ErrMalformedFrame
	}

	dhOut, err := dh.SharedSecret(r.pendingEphemeral, &frame.RatchetPub)
	if err != nil {
		return err
	}
	newRoot, chainSeed, err := KDFRootKey(r.rootKey, dhOut)
	if err != nil {
		return err
	}

	r.rootKey = newRoot
	r.sendChain = chainSeed
	r.recvChain = chainSeed
	r.sendPN = r.sendN
	r.sendN = 0
	r.recvN = 0
	r.pendingEphemeral = nil
	return nil
}

// SendCount reports how many uplinks this instance has sealed, for the
// ratchet loop's dhr_const comparison.
func (r *EDRatchet) SendCount() uint16 {
	return r.sendN
}

// Devaddr returns the device address this ratchet instance was assigned
// during the handshake.
func (r *EDRatchet) Devaddr() [4]byte {
	return r.devaddr
}
