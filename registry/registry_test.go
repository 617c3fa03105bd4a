package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lora-ratchet/protocol/edhoc/as"
	"lora-ratchet/protocol/ratchet"
	"lora-ratchet/registry"
)

func devaddr(b byte) [4]byte { return [4]byte{b, b, b, b} }

// pendingState is a non-nil handshake state: the registry treats a nil
// pending field as "not pending".
func pendingState() *as.AwaitingMsg3 { return &as.AwaitingMsg3{} }

func sampleRatchet(d [4]byte) *ratchet.ASRatchet {
	var root, a, b [32]byte
	return ratchet.NewASRatchet(d, root, a, b)
}

func TestInsertPendingRejectsDuplicate(t *testing.T) {
	reg := registry.New(0, 0)
	require.NoError(t, reg.InsertPending(devaddr(1), nil))
	err := reg.InsertPending(devaddr(1), nil)
	assert.ErrorIs(t, err, registry.ErrDuplicateDevaddr)
}

func TestTakePendingRemovesEntry(t *testing.T) {
	reg := registry.New(0, 0)
	require.NoError(t, reg.InsertPending(devaddr(1), pendingState()))

	_, err := reg.TakePending(devaddr(1))
	require.NoError(t, err)

	_, err = reg.TakePending(devaddr(1))
	assert.ErrorIs(t, err, registry.ErrUnknownDevaddr)
}

func TestInstallRatchetStartsRecvCountAtTwo(t *testing.T) {
	reg := registry.New(0, 0)
	reg.InstallRatchet(devaddr(2), sampleRatchet(devaddr(2)))

	n, err := reg.BumpRecv(devaddr(2))
	require.NoError(t, err)
	assert.Equal(t, uint16(3), n)
}

func TestTakeRatchetPutBackRoundTrip(t *testing.T) {
	reg := registry.New(0, 0)
	rt := sampleRatchet(devaddr(3))
	reg.InstallRatchet(devaddr(3), rt)

	got, err := reg.TakeRatchet(devaddr(3))
	require.NoError(t, err)
	assert.Same(t, rt, got)

	_, err = reg.TakeRatchet(devaddr(3))
	assert.ErrorIs(t, err, registry.ErrUnknownDevaddr, "borrowed ratchet must not be double-takeable")

	reg.PutBack(devaddr(3), got)
	got2, err := reg.TakeRatchet(devaddr(3))
	require.NoError(t, err)
	assert.Same(t, rt, got2)
}

func TestUnknownDevaddrRatchetRouteIsRejected(t *testing.T) {
	reg := registry.New(0, 0)
	_, err := reg.TakeRatchet(devaddr(99))
	assert.ErrorIs(t, err, registry.ErrUnknownDevaddr)
}

func TestEvictStalePendingByTTL(t *testing.T) {
	reg := registry.New(10*time.Millisecond, 0)
	require.NoError(t, reg.InsertPending(devaddr(4), pendingState()))

	evicted := reg.EvictStalePending(time.Now().Add(20 * time.Millisecond))
	assert.Contains(t, evicted, devaddr(4))

	_, err := reg.TakePending(devaddr(4))
	assert.ErrorIs(t, err, registry.ErrUnknownDevaddr)
}

func TestEvictStalePendingByCapacityEvictsOldest(t *testing.T) {
	reg := registry.New(0, 1)
	require.NoError(t, reg.InsertPending(devaddr(5), pendingState()))
	require.NoError(t, reg.InsertPending(devaddr(6), pendingState()))

	assert.False(t, reg.Has(devaddr(5)), "oldest pending entry should have been evicted over capacity")
	assert.True(t, reg.Has(devaddr(6)))
}

func TestHasCoversBothPendingAndRatcheting(t *testing.T) {
	reg := registry.New(0, 0)
	require.NoError(t, reg.InsertPending(devaddr(7), pendingState()))
	assert.True(t, reg.Has(devaddr(7)))

	_, err := reg.TakePending(devaddr(7))
	require.NoError(t, err)
	reg.InstallRatchet(devaddr(7), sampleRatchet(devaddr(7)))
	assert.True(t, reg.Has(devaddr(7)))
}

func TestSnapshotReportsPendingAndRatchetingRows(t *testing.T) {
	reg := registry.New(0, 0)
	require.NoError(t, reg.InsertPending(devaddr(8), pendingState()))
	reg.InstallRatchet(devaddr(9), sampleRatchet(devaddr(9)))
	_, err := reg.BumpRecv(devaddr(9))
	require.NoError(t, err)

	rows := reg.Snapshot()
	require.Len(t, rows, 2)

	byDevaddr := make(map[[4]byte]registry.Row)
	for _, row := range rows {
		byDevaddr[row.Devaddr] = row
	}

	assert.True(t, byDevaddr[devaddr(8)].Pending)
	assert.False(t, byDevaddr[devaddr(9)].Pending)
	assert.Equal(t, uint16(3), byDevaddr[devaddr(9)].RecvCount)
}
