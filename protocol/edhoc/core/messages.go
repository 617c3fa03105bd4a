package core

import (
	stdhmac "crypto/hmac"
	"crypto/sha256"
	"errors"

	"lora-ratchet/crypto/x25519"
)

// ErrTruncated is returned by the message parsers when buf is shorter than
// the fixed fields it must contain.
var ErrTruncated = errors.New("edhoc: truncated message")

// Message1 carries the initiator's ephemeral public key plus the suite and
// method it intends to use. No KID travels here; identity is revealed only
// from message 3 onward.
type Message1 struct {
	Suite      byte
	MethodType byte
	EphPub     x25519.PublicKey
}

func BuildMessage1(ephPub x25519.PublicKey) []byte {
	buf := make([]byte, 0, 2+32)
	buf = append(buf, Suite, MethodType)
	buf = append(buf, ephPub[:]...)
	return buf
}

func ParseMessage1(buf []byte) (Message1, error) {
	if len(buf) < 2+32 {
		return Message1{}, ErrTruncated
	}
	var m Message1
	m.Suite, m.MethodType = buf[0], buf[1]
	copy(m.EphPub[:], buf[2:34])
	return m, nil
}

// Message2 is ephemeral_pub_R || kid_len || kid || mac(32).
type Message2 struct {
	EphPub x25519.PublicKey
	KID    []byte
	MAC    [32]byte
}

func BuildMessage2(ephPub x25519.PublicKey, kid []byte, mac [32]byte) []byte {
	buf := make([]byte, 0, 32+1+len(kid)+32)
	buf = append(buf, ephPub[:]...)
	buf = append(buf, byte(len(kid)))
	buf = append(buf, kid...)
	buf = append(buf, mac[:]...)
	return buf
}

func ParseMessage2(buf []byte) (Message2, error) {
	if len(buf) < 32+1 {
		return Message2{}, ErrTruncated
	}
	var m Message2
	copy(m.EphPub[:], buf[0:32])
	kidLen := int(buf[32])
	if len(buf) < 32+1+kidLen+32 {
		return Message2{}, ErrTruncated
	}
	m.KID = append([]byte(nil), buf[33:33+kidLen]...)
	copy(m.MAC[:], buf[33+kidLen:33+kidLen+32])
	return m, nil
}

// macTranscript2 is the byte string MAC2 authenticates: both ephemeral
// public keys plus the responder's KID.
func macTranscript2(ephPubI, ephPubR x25519.PublicKey, kidR []byte) []byte {
	out := make([]byte, 0, 64+len(kidR))
	out = append(out, ephPubI[:]...)
	out = append(out, ephPubR[:]...)
	out = append(out, kidR...)
	return out
}

// Message3 is kid_len || kid || mac(32).
type Message3 struct {
	KID []byte
	MAC [32]byte
}

func BuildMessage3(kid []byte, mac [32]byte) []byte {
	buf := make([]byte, 0, 1+len(kid)+32)
	buf = append(buf, byte(len(kid)))
	buf = append(buf, kid...)
	buf = append(buf, mac[:]...)
	return buf
}

func ParseMessage3(buf []byte) (Message3, error) {
	if len(buf) < 1 {
		return Message3{}, ErrTruncated
	}
	kidLen := int(buf[0])
	if len(buf) < 1+kidLen+32 {
		return Message3{}, ErrTruncated
	}
	var m Message3
	m.KID = append([]byte(nil), buf[1:1+kidLen]...)
	copy(m.MAC[:], buf[1+kidLen:1+kidLen+32])
	return m, nil
}

// macTranscript3 additionally binds in the initiator's KID, over the same
// ephemeral pair as MAC2.
func macTranscript3(ephPubI, ephPubR x25519.PublicKey, kidI []byte) []byte {
	out := make([]byte, 0, 64+len(kidI))
	out = append(out, ephPubI[:]...)
	out = append(out, ephPubR[:]...)
	out = append(out, kidI...)
	return out
}

// Message4 is a 32-byte confirmation tag over the completed transcript.
type Message4 struct {
	Confirm [32]byte
}

func BuildMessage4(confirm [32]byte) []byte {
	return append([]byte(nil), confirm[:]...)
}

func ParseMessage4(buf []byte) (Message4, error) {
	if len(buf) < 32 {
		return Message4{}, ErrTruncated
	}
	var m Message4
	copy(m.Confirm[:], buf[:32])
	return m, nil
}

// confirmTranscript binds the confirmation tag to the full exchange: both
// ephemeral keys and both KIDs.
func confirmTranscript(ephPubI, ephPubR x25519.PublicKey, kidI, kidR []byte) []byte {
	out := make([]byte, 0, 64+len(kidI)+len(kidR))
	out = append(out, ephPubI[:]...)
	out = append(out, ephPubR[:]...)
	out = append(out, kidI...)
	out = append(out, kidR...)
	return out
}

// hmacSum is the small HMAC-SHA256 helper both roles use to compute and verify the
// MAC tags above; it's kept local since every caller already holds a
// derived 32-byte key.
func hmacSum(key [32]byte, msg []byte) [32]byte {
	mac := stdhmac.New(sha256.New, key[:])
	mac.Write(msg)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

func macEqual(a, b [32]byte) bool {
	return stdhmac.Equal(a[:], b[:])
}

// ComputeMAC2 computes the tag message 2 carries, over both ephemeral
// public keys and the responder's advertised KID.
func ComputeMAC2(macKey [32]byte, ephPubI, ephPubR x25519.PublicKey, kidR []byte) [32]byte {
	return hmacSum(macKey, macTranscript2(ephPubI, ephPubR, kidR))
}

// VerifyMAC2 recomputes MAC2 and compares it in constant time against tag.
func VerifyMAC2(macKey [32]byte, ephPubI, ephPubR x25519.PublicKey, kidR []byte, tag [32]byte) bool {
	return macEqual(ComputeMAC2(macKey, ephPubI, ephPubR, kidR), tag)
}

// ComputeMAC3 computes the tag message 3 carries, additionally binding in
// the initiator's KID.
func ComputeMAC3(macKey [32]byte, ephPubI, ephPubR x25519.PublicKey, kidI []byte) [32]byte {
	return hmacSum(macKey, macTranscript3(ephPubI, ephPubR, kidI))
}

// VerifyMAC3 recomputes MAC3 and compares it in constant time against tag.
func VerifyMAC3(macKey [32]byte, ephPubI, ephPubR x25519.PublicKey, kidI []byte, tag [32]byte) bool {
	return macEqual(ComputeMAC3(macKey, ephPubI, ephPubR, kidI), tag)
}

// ComputeConfirm computes message 4's confirmation tag, keyed by the
// completed handshake's root key and bound to both KIDs.
func ComputeConfirm(rootKey [32]byte, ephPubI, ephPubR x25519.PublicKey, kidI, kidR []byte) [32]byte {
	return hmacSum(rootKey, confirmTranscript(ephPubI, ephPubR, kidI, kidR))
}

// VerifyConfirm recomputes the confirmation tag and compares it in
// constant time against tag.
func VerifyConfirm(rootKey [32]byte, ephPubI, ephPubR x25519.PublicKey, kidI, kidR []byte, tag [32]byte) bool {
	return macEqual(ComputeConfirm(rootKey, ephPubI, ephPubR, kidI, kidR), tag)
}
