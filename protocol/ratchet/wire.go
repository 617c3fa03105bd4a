package ratchet

import (
	"encoding/binary"

	"lora-ratchet/crypto/x25519"
)

// Frame is the ratchet core's own framing, carried as the envelope's
// opaque payload for mtype 5 (uplink) and mtype 7 (DH-request). It repeats
// devaddr at a fixed interior offset because the dispatcher demultiplexes
// ratchet traffic before it has decoded the rest of the frame.
type Frame struct {
	Pn         uint16 // chain length before the current send chain
	N          uint16 // message index within the current send chain
	DHRequest  bool   // true when RatchetPub carries a fresh rekey proposal
	Devaddr    [4]byte
	RatchetPub x25519.PublicKey // zero-valued unless DHRequest is set
	Sealed     []byte           // aead.Seal output: ciphertext || tag
}

// Field offsets within the ratchet payload (not the envelope). hdrDevaddr
// is chosen so that, once prefixed by the envelope's 7-byte header
// (mtype+fcnt+devaddr), it lands at absolute buffer offset 14..18 — the
// position the dispatcher reads ratchet-frame devaddrs from.
const (
	hdrPnOff         = 0
	hdrNOff          = 2
	hdrFlagsOff      = 4
	hdrReservedOff   = 5
	hdrDevaddrOff    = 7
	hdrRatchetPubOff = 11
	HeaderLen        = 43

	flagDHRequest = 0x01
)

// AbsoluteDevaddrStart/End are the offsets the AS dispatcher reads a
// ratchet frame's devaddr from, counting from the start of the full
// envelope+payload buffer (envelope header is 7 bytes, then hdrDevaddrOff
// within the payload).
const (
	AbsoluteDevaddrStart = 7 + hdrDevaddrOff
	AbsoluteDevaddrEnd   = AbsoluteDevaddrStart + 4
)

// DevaddrFromRawFrame reads the devaddr directly out of a full mtype-5/7
// buffer, the way the dispatcher demultiplexes before a full envelope
// decode.
func DevaddrFromRawFrame(buf []byte) ([4]byte, error) {
	var devaddr [4]byte
	if len(buf) < AbsoluteDevaddrEnd {
		return devaddr, ErrMalformedFrame
	}
	copy(devaddr[:], buf[AbsoluteDevaddrStart:AbsoluteDevaddrEnd])
	return devaddr, nil
}

// Encode serializes a Frame into the ratchet-layer payload bytes.
func Encode(f Frame) []byte {
	buf := make([]byte, HeaderLen+len(f.Sealed))
	binary.BigEndian.PutUint16(buf[hdrPnOff:], f.Pn)
	binary.BigEndian.PutUint16(buf[hdrNOff:], f.N)
	if f.DHRequest {
		buf[hdrFlagsOff] = flagDHRequest
	}
	copy(buf[hdrDevaddrOff:hdrDevaddrOff+4], f.Devaddr[:])
	copy(buf[hdrRatchetPubOff:hdrRatchetPubOff+32], f.RatchetPub[:])
	copy(buf[HeaderLen:], f.Sealed)
	return buf
}

// Decode parses a ratchet-layer payload into a Frame.
func Decode(payload []byte) (Frame, error) {
	if len(payload) < HeaderLen {
		return Frame{}, ErrMalformedFrame
	}
	var f Frame
	f.Pn = binary.BigEndian.Uint16(payload[hdrPnOff:])
	f.N = binary.BigEndian.Uint16(payload[hdrNOff:])
	f.DHRequest = payload[hdrFlagsOff]&flagDHRequest != 0
	copy(f.Devaddr[:], payload[hdrDevaddrOff:hdrDevaddrOff+4])
	copy(f.RatchetPub[:], payload[hdrRatchetPubOff:hdrRatchetPubOff+32])
	f.Sealed = append([]byte(nil), payload[HeaderLen:]...)
	return f, nil
}
