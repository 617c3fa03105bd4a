package edloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lora-ratchet/envelope"
	"lora-ratchet/protocol/ratchet"
	"lora-ratchet/radio"
)

type loopback struct {
	out chan []byte
	in  chan []byte
}

func newLoopbackPair() (ed, asSide *loopback) {
	aToB := make(chan []byte, 4)
	bToA := make(chan []byte, 4)
	return &loopback{out: aToB, in: bToA}, &loopback{out: bToA, in: aToB}
}

func (l *loopback) Transmit(ctx context.Context, buf [radio.MaxFrame]byte, length int) (int, error) {
	l.out <- append([]byte(nil), buf[:length]...)
	return length, nil
}

func (l *loopback) RecvWindow(ctx context.Context, cfg radio.Config) ([]byte, error) {
	select {
	case data := <-l.in:
		return data, nil
	case <-time.After(150 * time.Millisecond):
		return nil, nil
	}
}

func (l *loopback) RecvBlocking(ctx context.Context) ([]byte, error) {
	select {
	case data := <-l.in:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *loopback) SetMode(radio.Mode) error { return nil }
func (l *loopback) Sleep() error             { return nil }

var _ radio.Radio = (*loopback)(nil)

func samplePair(devaddr [4]byte) (*ratchet.EDRatchet, *ratchet.ASRatchet) {
	var root, a, b [32]byte
	for i := range root {
		root[i] = byte(i)
		a[i] = byte(i + 1)
		b[i] = byte(i + 2)
	}
	return ratchet.NewEDRatchet(devaddr, root, a, b), ratchet.NewASRatchet(devaddr, root, b, a)
}

func TestTickTransmitsDecryptableUplink(t *testing.T) {
	devaddr := [4]byte{1, 2, 3, 4}
	edRt, asRt := samplePair(devaddr)
	edRadio, asRadio := newLoopbackPair()

	loop := New(edRadio, radio.Config{DHRConst: 1000}, edRt, 5, nil)
	loop.tick(context.Background())

	raw := <-asRadio.in
	frame, err := envelope.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, envelope.MTypeRatchetUplink, frame.MType)
	assert.Equal(t, envelope.DevAddr(devaddr), frame.DevAddr)

	plaintext, err := asRt.OpenUplink(frame.Payload)
	require.NoError(t, err)
	assert.Len(t, plaintext, uplinkPayloadSize)
}

func TestTickAdvancesFcntUpByOne(t *testing.T) {
	devaddr := [4]byte{9, 9, 9, 9}
	edRt, _ := samplePair(devaddr)
	edRadio, asRadio := newLoopbackPair()

	loop := New(edRadio, radio.Config{DHRConst: 1000}, edRt, 5, nil)
	loop.tick(context.Background())
	raw := <-asRadio.in
	frame, err := envelope.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, envelope.FCnt(5), frame.FCnt)
	assert.Equal(t, uint16(6), loop.fcntUp)
}

func TestTickRunsDHRekeyOnceThresholdReached(t *testing.T) {
	devaddr := [4]byte{5, 5, 5, 5}
	edRt, asRt := samplePair(devaddr)
	edRadio, asRadio := newLoopbackPair()

	// DHRConst 0 makes SendCount (0, before this tick's seal) already
	// satisfy the >= comparison... so force it via 1 after one seal.
	loop := New(edRadio, radio.Config{DHRConst: 1}, edRt, 0, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// consume the uplink
		raw := <-asRadio.in
		frame, err := envelope.Decode(raw)
		require.NoError(t, err)
		_, err = asRt.OpenUplink(frame.Payload)
		require.NoError(t, err)

		// consume the dh-request and ack it
		raw = <-asRadio.in
		frame, err = envelope.Decode(raw)
		require.NoError(t, err)
		require.Equal(t, envelope.MTypeRatchetDHReq, frame.MType)
		ack, err := asRt.HandleDHRequest(frame.Payload)
		require.NoError(t, err)
		encodedAck := envelope.Encode(ack, envelope.MTypeRatchetDHAck, 0, envelope.DevAddr(devaddr))
		buf, n, err := envelope.PadTo255(encodedAck)
		require.NoError(t, err)
		_, err = asRadio.Transmit(context.Background(), buf, n)
		require.NoError(t, err)
	}()

	loop.tick(context.Background())
	<-done

	// both sides should now interoperate post-rekey
	downlink, err := asRt.SealDownlink([]byte("after-rekey"))
	require.NoError(t, err)
	encodedDown := envelope.Encode(downlink, envelope.MTypeRatchetDown, 0, envelope.DevAddr(devaddr))
	buf, n, err := envelope.PadTo255(encodedDown)
	require.NoError(t, err)
	_, err = asRadio.Transmit(context.Background(), buf, n)
	require.NoError(t, err)

	raw := <-edRadio.in
	frame, err := envelope.Decode(raw)
	require.NoError(t, err)
	plaintext, err := edRt.OpenDownlink(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, []byte("after-rekey"), plaintext)
}
