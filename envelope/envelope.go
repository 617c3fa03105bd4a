// Package envelope frames and unframes the wire message that every EDHOC
// and ratchet frame rides in: a 1-byte message type, a 2-byte big-endian
// frame counter, an optional 4-byte device address, and an opaque payload.
package envelope

import (
	"encoding/binary"
	"errors"
)

// MType is the closed set of message types carried in byte 0 of a frame.
type MType uint8

const (
	MTypeEDHOCMsg1      MType = 0 // ED -> AS
	MTypeEDHOCMsg2      MType = 1 // AS -> ED, carries the assigned DevAddr
	MTypeEDHOCMsg3      MType = 2 // ED -> AS
	MTypeEDHOCMsg4      MType = 3 // AS -> ED
	MTypeRatchetUplink  MType = 5 // ED -> AS
	MTypeRatchetDown    MType = 6 // AS -> ED, reserved for the ratchet core's downlink framing
	MTypeRatchetDHReq   MType = 7 // ED -> AS
	MTypeRatchetDHAck   MType = 8 // AS -> ED, reserved
)

// FirstMsg reports whether mtype is the one frame with no DevAddr field —
// the ED's very first transmission, before the AS has assigned an address.
func (m MType) FirstMsg() bool {
	return m == MTypeEDHOCMsg1
}

// DevAddr is the 4-byte device address the AS assigns during the handshake.
type DevAddr [4]byte

// FCnt is the 2-byte per-direction frame counter.
type FCnt uint16

// MaxRadioFrame is the fixed-size buffer the radio transceiver demands.
const MaxRadioFrame = 255

// headerLenFirst is mtype(1) + fcnt(2), no DevAddr.
const headerLenFirst = 3

// headerLenFull is mtype(1) + fcnt(2) + devaddr(4).
const headerLenFull = 7

// ErrMalformed is returned when a buffer is too short to hold the header
// its own first byte implies.
var ErrMalformed = errors.New("envelope: malformed frame")

// Frame is the decoded form of a wire envelope.
type Frame struct {
	MType   MType
	FCnt    FCnt
	DevAddr DevAddr // zero value when MType.FirstMsg()
	Payload []byte
}

// Encode concatenates mtype, fcnt (big-endian), devaddr (iff !mtype.FirstMsg()),
// and payload, in that order.
func Encode(payload []byte, mtype MType, fcnt FCnt, devaddr DevAddr) []byte {
	first := mtype.FirstMsg()
	headerLen := headerLenFull
	if first {
		headerLen = headerLenFirst
	}

	buf := make([]byte, 0, headerLen+len(payload))
	buf = append(buf, byte(mtype))
	var fcntBytes [2]byte
	binary.BigEndian.PutUint16(fcntBytes[:], uint16(fcnt))
	buf = append(buf, fcntBytes[:]...)
	if !first {
		buf = append(buf, devaddr[:]...)
	}
	buf = append(buf, payload...)
	return buf
}

// Decode slices a wire buffer back into its fields. Whether the frame is
// the one first-message frame (no DevAddr) is settled by its mtype byte,
// so Decode infers it from the buffer itself rather than taking a flag.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < 1 {
		return Frame{}, ErrMalformed
	}
	mtype := MType(buf[0])
	first := mtype.FirstMsg()

	minLen := headerLenFull
	if first {
		minLen = headerLenFirst
	}
	if len(buf) < minLen {
		return Frame{}, ErrMalformed
	}

	fcnt := FCnt(binary.BigEndian.Uint16(buf[1:3]))

	if first {
		payload := append([]byte{}, buf[headerLenFirst:]...)
		return Frame{MType: mtype, FCnt: fcnt, Payload: payload}, nil
	}

	var devaddr DevAddr
	copy(devaddr[:], buf[3:7])
	payload := append([]byte{}, buf[7:]...)
	return Frame{MType: mtype, FCnt: fcnt, DevAddr: devaddr, Payload: payload}, nil
}

// PadTo255 right-pads an encoded frame with zeros into the fixed-size
// buffer the radio transceiver requires, returning the buffer and the
// number of meaningful bytes.
func PadTo255(encoded []byte) ([MaxRadioFrame]byte, int, error) {
	var buf [MaxRadioFrame]byte
	if len(encoded) > MaxRadioFrame {
		return buf, 0, errors.New("envelope: encoded frame exceeds radio MTU")
	}
	copy(buf[:], encoded)
	return buf, len(encoded), nil
}
