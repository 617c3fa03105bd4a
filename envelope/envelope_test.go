package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	devaddr := DevAddr{0xDE, 0xAD, 0xBE, 0xEF}
	payload := []byte("hello edhoc")

	encoded := Encode(payload, MTypeRatchetUplink, FCnt(7), devaddr)
	frame, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, MTypeRatchetUplink, frame.MType)
	assert.Equal(t, FCnt(7), frame.FCnt)
	assert.Equal(t, devaddr, frame.DevAddr)
	assert.Equal(t, payload, frame.Payload)

	reEncoded := Encode(frame.Payload, frame.MType, frame.FCnt, frame.DevAddr)
	assert.Equal(t, encoded, reEncoded)
}

func TestEncodeFirstMessageHasNoDevAddr(t *testing.T) {
	payload := []byte("msg1")
	encoded := Encode(payload, MTypeEDHOCMsg1, FCnt(0), DevAddr{})
	assert.Equal(t, headerLenFirst+len(payload), len(encoded))

	frame, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, DevAddr{}, frame.DevAddr)
	assert.Equal(t, payload, frame.Payload)
}

func TestDecodeMalformedTooShort(t *testing.T) {
	// mtype=3 (EDHOC msg4) implies a DevAddr field; 5 bytes isn't enough.
	_, err := Decode([]byte{3, 0, 0, 1, 2})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeEmptyBuffer(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestPadTo255(t *testing.T) {
	encoded := Encode([]byte("x"), MTypeEDHOCMsg1, FCnt(0), DevAddr{})
	buf, n, err := PadTo255(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)
	assert.Equal(t, encoded, buf[:n])
	for _, b := range buf[n:] {
		assert.Equal(t, byte(0), b)
	}

	frame, err := Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), frame.Payload)
}

func TestPadTo255RejectsOversizedFrame(t *testing.T) {
	big := make([]byte, MaxRadioFrame+1)
	_, _, err := PadTo255(big)
	assert.Error(t, err)
}

func TestFCntMonotonic(t *testing.T) {
	devaddr := DevAddr{1, 2, 3, 4}
	var fcnt FCnt
	prev := Encode([]byte("a"), MTypeRatchetUplink, fcnt, devaddr)
	fcnt++
	next := Encode([]byte("a"), MTypeRatchetUplink, fcnt, devaddr)

	prevFrame, err := Decode(prev)
	require.NoError(t, err)
	nextFrame, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, prevFrame.FCnt+1, nextFrame.FCnt)
}

func TestFCntWrapsModulo16Bit(t *testing.T) {
	// Documented behavior per spec §5: no wrap handling is specified beyond
	// plain uint16 overflow at 0xFFFF -> 0x0000.
	fcnt := FCnt(0xFFFF)
	fcnt++
	assert.Equal(t, FCnt(0), fcnt)
}
