package dispatcher_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lora-ratchet/assession"
	"lora-ratchet/crypto/x25519"
	"lora-ratchet/dispatcher"
	"lora-ratchet/envelope"
	"lora-ratchet/keydirectory"
	"lora-ratchet/protocol/edhoc/ed"
	"lora-ratchet/protocol/ratchet"
	"lora-ratchet/radio"
	"lora-ratchet/registry"
)

type fakeRadio struct {
	in  chan []byte
	out chan []byte
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{in: make(chan []byte, 8), out: make(chan []byte, 8)}
}

func (r *fakeRadio) Transmit(ctx context.Context, buf [radio.MaxFrame]byte, length int) (int, error) {
	r.out <- append([]byte(nil), buf[:length]...)
	return length, nil
}

func (r *fakeRadio) RecvWindow(ctx context.Context, cfg radio.Config) ([]byte, error) {
	select {
	case data := <-r.in:
		return data, nil
	case <-time.After(50 * time.Millisecond):
		return nil, nil
	}
}

func (r *fakeRadio) RecvBlocking(ctx context.Context) ([]byte, error) {
	select {
	case data := <-r.in:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *fakeRadio) SetMode(radio.Mode) error { return nil }
func (r *fakeRadio) Sleep() error             { return nil }

var _ radio.Radio = (*fakeRadio)(nil)

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

func edLookup(edDir *keydirectory.Directory) ed.KeyLookup {
	return func(kid []byte) (x25519.PublicKey, bool) {
		return edDir.Lookup(keydirectory.KID(kid))
	}
}

func TestDispatcherCompletesHandshakeAndRatchetUplink(t *testing.T) {
	edDir, asDir := writeDirectories(t)
	r := newFakeRadio()
	reg := registry.New(0, 0)
	sess := assession.New(asDir, nil)
	d := dispatcher.New(r, sess, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	msg1, edState2, err := ed.Begin(edDir.OwnSecret(), keydirectory.EDKID)
	require.NoError(t, err)
	r.in <- envelope.Encode(msg1, envelope.MTypeEDHOCMsg1, 0, envelope.DevAddr{})

	msg2Raw := <-r.out
	msg2Frame, err := envelope.Decode(msg2Raw)
	require.NoError(t, err)
	assert.Equal(t, envelope.MTypeEDHOCMsg2, msg2Frame.MType)
	devaddr := msg2Frame.DevAddr

	msg3, edState4, err := ed.OnMsg2(edState2, msg2Frame.Payload, edLookup(edDir))
	require.NoError(t, err)
	r.in <- envelope.Encode(msg3, envelope.MTypeEDHOCMsg3, 1, devaddr)

	msg4Raw := <-r.out
	msg4Frame, err := envelope.Decode(msg4Raw)
	require.NoError(t, err)
	assert.Equal(t, envelope.MTypeEDHOCMsg4, msg4Frame.MType)
	assert.Equal(t, devaddr, msg4Frame.DevAddr)

	edKeys, err := ed.OnMsg4(edState4, msg4Frame.Payload)
	require.NoError(t, err)

	edRatchet := ratchet.NewEDRatchet([4]byte(devaddr), edKeys.RootKey, edKeys.SendChainKey, edKeys.RecvChainKey)
	uplink, err := edRatchet.SealUplink([]byte("ping"))
	require.NoError(t, err)
	r.in <- envelope.Encode(uplink, envelope.MTypeRatchetUplink, 2, devaddr)

	// Give the dispatcher a moment to process the uplink (no reply expected).
	time.Sleep(50 * time.Millisecond)
	cancel()

	rt, err := reg.TakeRatchet([4]byte(devaddr))
	require.NoError(t, err)
	assert.Equal(t, uint16(1), rt.RecvCount())
	n, err := reg.BumpRecv([4]byte(devaddr))
	require.NoError(t, err)
	assert.Equal(t, uint16(4), n, "recv_count starts at 2 after install, bumped once by the uplink, once here")
}

func TestDispatcherDropsUnknownMtype(t *testing.T) {
	r := newFakeRadio()
	reg := registry.New(0, 0)
	_, asDir := writeDirectories(t)
	sess := assession.New(asDir, nil)
	d := dispatcher.New(r, sess, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	r.in <- envelope.Encode([]byte("x"), envelope.MType(99), 0, envelope.DevAddr{1, 2, 3, 4})
	select {
	case <-r.out:
		t.Fatal("dispatcher should not reply to an unknown mtype")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcherSnapshotReflectsRegistryFromTheLoopGoroutine(t *testing.T) {
	edDir, asDir := writeDirectories(t)
	r := newFakeRadio()
	reg := registry.New(0, 0)
	sess := assession.New(asDir, nil)
	d := dispatcher.New(r, sess, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	msg1, _, err := ed.Begin(edDir.OwnSecret(), keydirectory.EDKID)
	require.NoError(t, err)
	r.in <- envelope.Encode(msg1, envelope.MTypeEDHOCMsg1, 0, envelope.DevAddr{})
	<-r.out // msg2

	rows, err := d.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Pending)
}

func TestDispatcherDropsRatchetFrameForUnknownDevaddr(t *testing.T) {
	r := newFakeRadio()
	reg := registry.New(0, 0)
	_, asDir := writeDirectories(t)
	sess := assession.New(asDir, nil)
	d := dispatcher.New(r, sess, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	devaddr := [4]byte{9, 9, 9, 9}
	var root, a, b [32]byte
	rt := ratchet.NewEDRatchet(devaddr, root, a, b)
	uplink, err := rt.SealUplink([]byte("orphan"))
	require.NoError(t, err)
	r.in <- envelope.Encode(uplink, envelope.MTypeRatchetUplink, 0, envelope.DevAddr(devaddr))

	select {
	case <-r.out:
		t.Fatal("dispatcher should not reply when no ratchet is registered for the devaddr")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, reg.Has(devaddr))
}
