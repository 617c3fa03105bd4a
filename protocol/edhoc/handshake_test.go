// Package edhoc exercises the initiator (ed) and responder (as) state
// machines together, end to end, the way edsession/assession will drive
// them over the radio.
package edhoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lora-ratchet/crypto/x25519"
	"lora-ratchet/protocol/edhoc/as"
	"lora-ratchet/protocol/edhoc/core"
	"lora-ratchet/protocol/edhoc/ed"
)

type fixture struct {
	edSecret, asSecret x25519.PrivateKey
	edKID, asKID       []byte
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	edPriv, err := x25519.New()
	require.NoError(t, err)
	asPriv, err := x25519.New()
	require.NoError(t, err)
	return fixture{
		edSecret: *edPriv,
		asSecret: *asPriv,
		edKID:    []byte{0xA2},
		asKID:    []byte{0xA3},
	}
}

func (f fixture) edLookup(kid []byte) (x25519.PublicKey, bool) {
	pub, err := (&f.asSecret).Public()
	if err != nil {
		return x25519.PublicKey{}, false
	}
	if string(kid) != string(f.asKID) {
		return x25519.PublicKey{}, false
	}
	return *pub, true
}

func (f fixture) asLookup(kid []byte) (x25519.PublicKey, bool) {
	pub, err := (&f.edSecret).Public()
	if err != nil {
		return x25519.PublicKey{}, false
	}
	if string(kid) != string(f.edKID) {
		return x25519.PublicKey{}, false
	}
	return *pub, true
}

func runHandshake(t *testing.T, f fixture) (ed.SessionKeys, as.SessionKeys) {
	t.Helper()

	msg1, edState2, err := ed.Begin(f.edSecret, f.edKID)
	require.NoError(t, err)

	msg2, asState3, err := as.OnMsg1(msg1, f.asSecret, f.asKID)
	require.NoError(t, err)

	msg3, edState4, err := ed.OnMsg2(edState2, msg2, f.edLookup)
	require.NoError(t, err)

	msg4, asKeys, err := as.OnMsg3(asState3, msg3, f.asLookup)
	require.NoError(t, err)

	edKeys, err := ed.OnMsg4(edState4, msg4)
	require.NoError(t, err)

	return edKeys, asKeys
}

func TestHandshakeProducesMatchingSessionKeys(t *testing.T) {
	f := newFixture(t)
	edKeys, asKeys := runHandshake(t, f)

	assert.Equal(t, edKeys.RootKey, asKeys.RootKey)
	assert.Equal(t, edKeys.SendChainKey, asKeys.RecvChainKey)
	assert.Equal(t, edKeys.RecvChainKey, asKeys.SendChainKey)
}

func TestOnMsg1RejectsUnsupportedSuite(t *testing.T) {
	f := newFixture(t)
	msg1, _, err := ed.Begin(f.edSecret, f.edKID)
	require.NoError(t, err)
	msg1[0] = 99 // corrupt the suite byte

	_, _, err = as.OnMsg1(msg1, f.asSecret, f.asKID)
	require.Error(t, err)
	var ownErr *core.OwnError
	assert.ErrorAs(t, err, &ownErr)
}

func TestOnMsg3UnknownKidReturnsSentinel(t *testing.T) {
	f := newFixture(t)
	msg1, edState2, err := ed.Begin(f.edSecret, f.edKID)
	require.NoError(t, err)
	msg2, asState3, err := as.OnMsg1(msg1, f.asSecret, f.asKID)
	require.NoError(t, err)
	msg3, _, err := ed.OnMsg2(edState2, msg2, f.edLookup)
	require.NoError(t, err)

	unknownLookup := func(kid []byte) (x25519.PublicKey, bool) { return x25519.PublicKey{}, false }
	_, _, err = as.OnMsg3(asState3, msg3, unknownLookup)
	assert.ErrorIs(t, err, core.ErrUnknownPeerKid)
}

func TestOnMsg2RejectsTamperedMessage(t *testing.T) {
	f := newFixture(t)
	msg1, edState2, err := ed.Begin(f.edSecret, f.edKID)
	require.NoError(t, err)
	msg2, _, err := as.OnMsg1(msg1, f.asSecret, f.asKID)
	require.NoError(t, err)

	msg2[len(msg2)-1] ^= 0xFF // flip a bit in the MAC tag

	_, _, err = ed.OnMsg2(edState2, msg2, f.edLookup)
	require.Error(t, err)
	var peerErr *core.PeerError
	assert.ErrorAs(t, err, &peerErr)
}
