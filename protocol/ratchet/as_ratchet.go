package ratchet

import (
	"lora-ratchet/crypto/aead"
	"lora-ratchet/crypto/dh"
	"lora-ratchet/crypto/x25519"
)

// ASRatchet is the AS-side counterpart to EDRatchet, installed in the
// session registry once a handshake completes. Chain roles are swapped
// relative to the ED (see protocol/edhoc's SessionKeys docs): the AS's
// send chain is the ED's recv chain and vice versa.
type ASRatchet struct {
	devaddr   [4]byte
	rootKey   [32]byte
	sendChain [32]byte
	recvChain [32]byte
	sendN     uint16
	recvN     uint16
	sendPN    uint16
}

// NewASRatchet constructs the AS's ratchet instance right after msg3
// verification succeeds.
func NewASRatchet(devaddr [4]byte, rootKey, sendChain, recvChain [32]byte) *ASRatchet {
	return &ASRatchet{
		devaddr:   devaddr,
		rootKey:   rootKey,
		sendChain: sendChain,
		recvChain: recvChain,
	}
}

// OpenUplink consumes a mtype=5 uplink frame from the device, advancing
// the recv chain and returning the decrypted plaintext.
func (r *ASRatchet) OpenUplink(raw []byte) ([]byte, error) {
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

// SealDownlink advances the send chain by one step and produces a
// reserved-mtype downlink frame (mtype 6 per the message-type table)
// carrying plaintext.
func (r *ASRatchet) SealDownlink(plaintext []byte) ([]byte, error) {
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

// HandleDHRequest processes a mtype=7 DH-request from the device: it
// generates its own fresh ephemeral keypair, computes the DH output
// against the device's proposed public key, reseeds both chains, and
// returns the mtype=8 ack frame carrying the AS's ephemeral public key.
func (r *ASRatchet) HandleDHRequest(raw []byte) ([]byte, error) {
	frame, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	priv, err := x25519.New()
	if err != nil {
		return nil, err
	}
	pub, err := priv.Public()
	if err != nil {
		return nil, err
	}

	dhOut, err := dh.SharedSecret(priv, &frame.RatchetPub)
	if err != nil {
		return nil, err
	}
	newRoot, chainSeed, err := KDFRootKey(r.rootKey, dhOut)
	if err != nil {
		return nil, err
	}

	r.rootKey = newRoot
	r.sendChain = chainSeed
	r.recvChain = chainSeed
	r.sendPN = r.sendN
	r.sendN = 0
	r.recvN = 0

	ack := Frame{
		DHRequest:  true,
		Devaddr:    r.devaddr,
		RatchetPub: *pub,
	}
	return Encode(ack), nil
}

// RecvCount reports how many uplinks this instance has decrypted since the
// handshake or the last DH-rekey, which resets it to 0. The session
// registry's recv_count is a separate counter kept on the registry entry.
func (r *ASRatchet) RecvCount() uint16 {
	return r.recvN
}

// Devaddr returns the device address this ratchet instance serves.
func (r *ASRatchet) Devaddr() [4]byte {
	return r.devaddr
}
