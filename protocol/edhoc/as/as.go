// Package as drives the responder side of the handshake for the
// application server: OnMsg1 and OnMsg3, consuming and producing state per
// devaddr. Devaddr assignment itself belongs to the caller (the session
// registry owns uniqueness); this package only returns the ephemeral and
// static-DH material a devaddr's entry needs to carry forward.
package as

import (
	"lora-ratchet/crypto/dh"
	"lora-ratchet/crypto/x25519"
	"lora-ratchet/protocol/edhoc/core"
)

// SessionKeys are the keys the AS hands to a new ratchet instance, already
// oriented for this role: SendChainKey drives downlinks, RecvChainKey
// verifies inbound ratchet frames from the device.
type SessionKeys struct {
	RootKey      [32]byte
	SendChainKey [32]byte
	RecvChainKey [32]byte
}

// KeyLookup resolves a peer's KID to its static public key.
type KeyLookup func(kid []byte) (x25519.PublicKey, bool)

// AwaitingMsg3 is the per-devaddr state between msg2 and msg3: the AS's
// own ephemeral keypair plus the two DH terms it can already compute from
// msg1: ephemeral-ephemeral (dhEE) and initiator-ephemeral-to-own-static
// (dhES).
type AwaitingMsg3 struct {
	ephPubI, ephPubR x25519.PublicKey
	ephPrivR         *x25519.PrivateKey
	ownStaticSecret  x25519.PrivateKey
	ownKID           []byte
	dhEE, dhES       []byte
}

// OnMsg1 parses message 1, rejects an unsupported suite/method as an own
// error, generates a fresh ephemeral keypair, and produces message 2
// carrying ownKID (the fixed AS key id) in the clear alongside its MAC.
func OnMsg1(payload []byte, ownStaticSecret x25519.PrivateKey, ownKID []byte) ([]byte, *AwaitingMsg3, error) {
	msg1, err := core.ParseMessage1(payload)
	if err != nil {
		return nil, nil, core.NewOwnError("malformed msg1: " + err.Error())
	}
	if msg1.Suite != core.Suite || msg1.MethodType != core.MethodType {
		return nil, nil, core.NewOwnError("unsupported suite/method")
	}

	ephPrivR, ephPubR, err := core.GenerateEphemeral()
	if err != nil {
		return nil, nil, core.NewOwnError("ephemeral key generation failed: " + err.Error())
	}

	dhEE, err := dh.SharedSecret(ephPrivR, &msg1.EphPub)
	if err != nil {
		return nil, nil, core.NewOwnError("dh failure: " + err.Error())
	}
	dhES, err := dh.SharedSecret(&ownStaticSecret, &msg1.EphPub)
	if err != nil {
		return nil, nil, core.NewOwnError("dh failure: " + err.Error())
	}

	macKey2, err := core.DeriveMAC2Key(dhEE, dhES)
	if err != nil {
		return nil, nil, core.NewOwnError("kdf failure: " + err.Error())
	}
	mac2 := core.ComputeMAC2(macKey2, msg1.EphPub, *ephPubR, ownKID)

	state := &AwaitingMsg3{
		ephPubI:         msg1.EphPub,
		ephPubR:         *ephPubR,
		ephPrivR:        ephPrivR,
		ownStaticSecret: ownStaticSecret,
		ownKID:          ownKID,
		dhEE:            dhEE,
		dhES:            dhES,
	}
	return core.BuildMessage2(*ephPubR, ownKID, mac2), state, nil
}

// OnMsg3 looks up the device's static key by the KID carried in message 3,
// verifies its MAC, and on success derives the session keys and the
// confirmation tag for message 4.
func OnMsg3(state *AwaitingMsg3, payload []byte, lookup KeyLookup) ([]byte, SessionKeys, error) {
	msg3, err := core.ParseMessage3(payload)
	if err != nil {
		return nil, SessionKeys{}, core.NewOwnError("malformed msg3: " + err.Error())
	}

	peerStaticPub, ok := lookup(msg3.KID)
	if !ok {
		return nil, SessionKeys{}, core.ErrUnknownPeerKid
	}

	dhSE, err := dh.SharedSecret(state.ephPrivR, &peerStaticPub)
	if err != nil {
		return nil, SessionKeys{}, core.NewOwnError("dh failure: " + err.Error())
	}

	macKey3, err := core.DeriveMAC3Key(state.dhEE, state.dhES, dhSE)
	if err != nil {
		return nil, SessionKeys{}, core.NewOwnError("kdf failure: " + err.Error())
	}
	if !core.VerifyMAC3(macKey3, state.ephPubI, state.ephPubR, msg3.KID, msg3.MAC) {
		return nil, SessionKeys{}, core.NewPeerError("message 3 failed authentication")
	}

	keys, err := core.DeriveSessionKeys(state.dhEE, state.dhES, dhSE)
	if err != nil {
		return nil, SessionKeys{}, core.NewOwnError("kdf failure: " + err.Error())
	}
	confirm := core.ComputeConfirm(keys.RootKey, state.ephPubI, state.ephPubR, msg3.KID, state.ownKID)

	sessionKeys := SessionKeys{
		RootKey:      keys.RootKey,
		SendChainKey: keys.ChainB,
		RecvChainKey: keys.ChainA,
	}
	return core.BuildMessage4(confirm), sessionKeys, nil
}
