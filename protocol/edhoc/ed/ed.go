// Package ed drives the initiator side of the handshake for the end
// device: a three-call state machine (Begin, OnMsg2, OnMsg4) matching the
// spec of the EDHOC session component, each call consuming the previous
// state and producing the next. Envelope framing and devaddr bookkeeping
// are the caller's job; this package only ever sees raw EDHOC payload
// bytes.
package ed

import (
	"lora-ratchet/crypto/dh"
	"lora-ratchet/crypto/x25519"
	"lora-ratchet/protocol/edhoc/core"
)

// SessionKeys are the keys the ED side hands off to the ratchet, already
// oriented for this role: SendChainKey drives its own uplinks, RecvChainKey
// verifies inbound ratchet frames.
type SessionKeys struct {
	RootKey      [32]byte
	SendChainKey [32]byte
	RecvChainKey [32]byte
}

// KeyLookup resolves a peer's KID to its static public key, mirroring the
// key directory's Lookup signature.
type KeyLookup func(kid []byte) (x25519.PublicKey, bool)

// AwaitingMsg2 is the state after Begin: the ephemeral keypair and static
// identity for this attempt, held until msg2 arrives.
type AwaitingMsg2 struct {
	ephPriv         *x25519.PrivateKey
	ephPub          x25519.PublicKey
	ownStaticSecret x25519.PrivateKey
	ownKID          []byte
}

// AwaitingMsg4 is the state after OnMsg2: every DH term is now available,
// so the session keys could already be computed, but we wait for msg4's
// confirmation tag before trusting them.
type AwaitingMsg4 struct {
	ephPubI, ephPubR x25519.PublicKey
	ownKID, peerKID  []byte
	dhEE, dhES, dhSE []byte
}

// Begin generates the ephemeral keypair and emits message 1. own_static_*
// are the ED's long-term identity; ownKID is the fixed ED key id (0xA2 in
// the deployed directory format, but this package doesn't hardcode it).
func Begin(ownStaticSecret x25519.PrivateKey, ownKID []byte) ([]byte, *AwaitingMsg2, error) {
	ephPriv, ephPub, err := core.GenerateEphemeral()
	if err != nil {
		return nil, nil, core.NewOwnError("ephemeral key generation failed: " + err.Error())
	}
	state := &AwaitingMsg2{
		ephPriv:         ephPriv,
		ephPub:          *ephPub,
		ownStaticSecret: ownStaticSecret,
		ownKID:          ownKID,
	}
	return core.BuildMessage1(*ephPub), state, nil
}

// OnMsg2 verifies message 2 against the AS's static key (resolved via
// lookup from the KID message 2 carries in the clear) and, on success,
// produces message 3.
func OnMsg2(state *AwaitingMsg2, payload []byte, lookup KeyLookup) ([]byte, *AwaitingMsg4, error) {
	msg2, err := core.ParseMessage2(payload)
	if err != nil {
		return nil, nil, core.NewOwnError("malformed msg2: " + err.Error())
	}

	peerStaticPub, ok := lookup(msg2.KID)
	if !ok {
		return nil, nil, core.ErrUnknownPeerKid
	}

	dhEE, err := dh.SharedSecret(state.ephPriv, &msg2.EphPub)
	if err != nil {
		return nil, nil, core.NewOwnError("dh failure: " + err.Error())
	}
	dhES, err := dh.SharedSecret(state.ephPriv, &peerStaticPub)
	if err != nil {
		return nil, nil, core.NewOwnError("dh failure: " + err.Error())
	}

	macKey2, err := core.DeriveMAC2Key(dhEE, dhES)
	if err != nil {
		return nil, nil, core.NewOwnError("kdf failure: " + err.Error())
	}
	if !core.VerifyMAC2(macKey2, state.ephPub, msg2.EphPub, msg2.KID, msg2.MAC) {
		return nil, nil, core.NewPeerError("message 2 failed authentication")
	}

	dhSE, err := dh.SharedSecret(&state.ownStaticSecret, &msg2.EphPub)
	if err != nil {
		return nil, nil, core.NewOwnError("dh failure: " + err.Error())
	}

	macKey3, err := core.DeriveMAC3Key(dhEE, dhES, dhSE)
	if err != nil {
		return nil, nil, core.NewOwnError("kdf failure: " + err.Error())
	}
	mac3 := core.ComputeMAC3(macKey3, state.ephPub, msg2.EphPub, state.ownKID)

	next := &AwaitingMsg4{
		ephPubI: state.ephPub,
		ephPubR: msg2.EphPub,
		ownKID:  state.ownKID,
		peerKID: msg2.KID,
		dhEE:    dhEE,
		dhES:    dhES,
		dhSE:    dhSE,
	}
	return core.BuildMessage3(state.ownKID, mac3), next, nil
}

// OnMsg4 verifies the handshake's final confirmation tag and returns the
// derived session keys, oriented for the ED role.
func OnMsg4(state *AwaitingMsg4, payload []byte) (SessionKeys, error) {
	msg4, err := core.ParseMessage4(payload)
	if err != nil {
		return SessionKeys{}, core.NewOwnError("malformed msg4: " + err.Error())
	}

	keys, err := core.DeriveSessionKeys(state.dhEE, state.dhES, state.dhSE)
	if err != nil {
		return SessionKeys{}, core.NewOwnError("kdf failure: " + err.Error())
	}
	if !core.VerifyConfirm(keys.RootKey, state.ephPubI, state.ephPubR, state.ownKID, state.peerKID, msg4.Confirm) {
		return SessionKeys{}, core.NewPeerError("message 4 failed confirmation")
	}

	return SessionKeys{
		RootKey:      keys.RootKey,
		SendChainKey: keys.ChainA,
		RecvChainKey: keys.ChainB,
	}, nil
}
