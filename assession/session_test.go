package assession_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lora-ratchet/assession"
	"lora-ratchet/crypto/x25519"
	"lora-ratchet/keydirectory"
	"lora-ratchet/protocol/edhoc/ed"
)

type edKeysFile struct {
	EDStaticMaterial [32]byte `json:"ed_static_material"`
	ASKeys           []struct {
		KID              keydirectory.KID `json:"kid"`
		ASStaticMaterial [32]byte         `json:"as_static_material"`
	} `json:"as_keys"`
}

type asKeysFile struct {
	ASStaticMaterial [32]byte `json:"as_static_material"`
	EDKeys           []struct {
		KID              keydirectory.KID `json:"kid"`
		EDStaticMaterial [32]byte         `json:"ed_static_material"`
	} `json:"ed_keys"`
}

// writeDirectories builds a matched pair of ED/AS keys.json files in a
// fresh temp dir from freshly generated X25519 keypairs and loads both.
func writeDirectories(t *testing.T) (edDir, asDir *keydirectory.Directory) {
	t.Helper()
	dir := t.TempDir()

	edSecret, err := x25519.New()
	require.NoError(t, err)
	edPub, err := edSecret.Public()
	require.NoError(t, err)

	asSecret, err := x25519.New()
	require.NoError(t, err)
	asPub, err := asSecret.Public()
	require.NoError(t, err)

	var edJSON edKeysFile
	edJSON.EDStaticMaterial = [32]byte(*edSecret)
	edJSON.ASKeys = append(edJSON.ASKeys, struct {
		KID              keydirectory.KID `json:"kid"`
		ASStaticMaterial [32]byte         `json:"as_static_material"`
	}{KID: keydirectory.ASKID, ASStaticMaterial: [32]byte(*asPub)})

	var asJSON asKeysFile
	asJSON.ASStaticMaterial = [32]byte(*asSecret)
	asJSON.EDKeys = append(asJSON.EDKeys, struct {
		KID              keydirectory.KID `json:"kid"`
		EDStaticMaterial [32]byte         `json:"ed_static_material"`
	}{KID: keydirectory.EDKID, EDStaticMaterial: [32]byte(*edPub)})

	edPath := filepath.Join(dir, "ed-keys.json")
	asPath := filepath.Join(dir, "as-keys.json")

	data, err := json.Marshal(edJSON)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(edPath, data, 0o600))

	data, err = json.Marshal(asJSON)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(asPath, data, 0o600))

	edDir, err = keydirectory.LoadED(edPath)
	require.NoError(t, err)
	asDir, err = keydirectory.LoadAS(asPath)
	require.NoError(t, err)
	return edDir, asDir
}

type noCollisions struct{}

func (noCollisions) Has([4]byte) bool { return false }

type alwaysCollides struct{}

func (alwaysCollides) Has([4]byte) bool { return true }

func TestOnMsg1AssignsDevaddrAndProducesMsg2(t *testing.T) {
	edDir, asDir := writeDirectories(t)
	sess := assession.New(asDir, nil)

	msg1, _, err := ed.Begin(edDir.OwnSecret(), keydirectory.EDKID)
	require.NoError(t, err)

	msg2, devaddr, state, err := sess.OnMsg1(msg1, noCollisions{})
	require.NoError(t, err)
	assert.NotNil(t, state)
	assert.NotEmpty(t, msg2)
	assert.NotEqual(t, [4]byte{}, devaddr, "a zero devaddr is possible in principle but not from a real RNG draw in this test")
}

func TestOnMsg1FailsWhenDevaddrSpaceExhausted(t *testing.T) {
	edDir, asDir := writeDirectories(t)
	sess := assession.New(asDir, nil)

	msg1, _, err := ed.Begin(edDir.OwnSecret(), keydirectory.EDKID)
	require.NoError(t, err)

	_, _, _, err = sess.OnMsg1(msg1, alwaysCollides{})
	assert.ErrorIs(t, err, assession.ErrDevaddrSpaceExhausted)
}

func TestFullHandshakeThroughDirectories(t *testing.T) {
	edDir, asDir := writeDirectories(t)
	asSess := assession.New(asDir, nil)

	msg1, edState2, err := ed.Begin(edDir.OwnSecret(), keydirectory.EDKID)
	require.NoError(t, err)

	msg2, _, pending, err := asSess.OnMsg1(msg1, noCollisions{})
	require.NoError(t, err)

	msg3, edState4, err := ed.OnMsg2(edState2, msg2, func(kid []byte) (x25519.PublicKey, bool) {
		return edDir.Lookup(keydirectory.KID(kid))
	})
	require.NoError(t, err)

	msg4, asKeys, err := asSess.OnMsg3(pending, msg3)
	require.NoError(t, err)

	edKeys, err := ed.OnMsg4(edState4, msg4)
	require.NoError(t, err)

	assert.Equal(t, asKeys.RootKey, edKeys.RootKey)
	assert.Equal(t, asKeys.SendChainKey, edKeys.RecvChainKey)
	assert.Equal(t, asKeys.RecvChainKey, edKeys.SendChainKey)
}
