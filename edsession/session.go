// Package edsession drives the ED side of the handshake end to end: frames
// each EDHOC message through the envelope codec, shuttles it over the
// radio's RX1/RX2 discipline, and hands back a ratchet instance primed
// with the session keys on success. It owns the ED's fcnt_up counter
// itself rather than as module-level state, per the redesign that
// encapsulates frame counters inside the role's session object.
package edsession

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"lora-ratchet/crypto/x25519"
	"lora-ratchet/envelope"
	"lora-ratchet/keydirectory"
	"lora-ratchet/protocol/edhoc/core"
	"lora-ratchet/protocol/edhoc/ed"
	"lora-ratchet/protocol/ratchet"
	"lora-ratchet/radio"
)

// ErrHandshakeTimeout covers both an empty RX1/RX2 window and a malformed
// reply: either way, nothing usable arrived before the windows closed, and
// the single-shot handshake call aborts rather than retrying internally.
var ErrHandshakeTimeout = errors.New("edsession: handshake timed out")

// ErrUnexpectedMessage means a reply arrived but carried the wrong mtype
// for the step in progress.
var ErrUnexpectedMessage = errors.New("edsession: unexpected message type")

// Session is the ED's handshake driver. Begin a new one per handshake
// attempt; a completed or failed Session is not reused.
type Session struct {
	radio  radio.Radio
	cfg    radio.Config
	dir    *keydirectory.Directory
	logger *logrus.Logger

	fcntUp uint16
}

// New constructs an ED handshake session bound to one radio, its receive-
// window configuration, and the static-key directory used to resolve the
// AS's KID in message 2.
func New(r radio.Radio, cfg radio.Config, dir *keydirectory.Directory, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{radio: r, cfg: cfg, dir: dir, logger: logger}
}

// Result is what a successful handshake hands back to the ratchet loop.
type Result struct {
	Devaddr [4]byte
	Ratchet *ratchet.EDRatchet
}

func (s *Session) nextFcntUp() uint16 {
	v := s.fcntUp
	s.fcntUp++
	return v
}

// FcntUp returns the envelope frame counter's current value. The counter
// is process-wide for the ED role's whole lifetime, not just this
// handshake, so the ratchet loop picks up numbering from here rather than
// restarting at 0.
func (s *Session) FcntUp() uint16 {
	return s.fcntUp
}

func (s *Session) lookupASKey(kid []byte) (x25519.PublicKey, bool) {
	return s.dir.Lookup(keydirectory.KID(kid))
}

// Handshake runs the full four-message exchange: Start -> AwaitingMsg2 ->
// AwaitingMsg4 -> Established. Any peer-error, own-error, unknown-KID, or
// timeout aborts the whole attempt; there are no retries across steps.
func (s *Session) Handshake(ctx context.Context) (Result, error) {
	msg1, state2, err := ed.Begin(s.dir.OwnSecret(), keydirectory.EDKID)
	if err != nil {
		return Result{}, fmt.Errorf("edsession: begin: %w", err)
	}
	if err := s.sendFrame(ctx, msg1, envelope.MTypeEDHOCMsg1, envelope.DevAddr{}); err != nil {
		return Result{}, err
	}

	frame, err := s.recvFrame(ctx)
	if err != nil {
		return Result{}, err
	}
	if frame.MType != envelope.MTypeEDHOCMsg2 {
		s.logger.WithField("mtype", frame.MType).Warn("edsession: expected msg2")
		return Result{}, ErrUnexpectedMessage
	}
	devaddr := frame.DevAddr

	msg3, state4, err := ed.OnMsg2(state2, frame.Payload, s.lookupASKey)
	if err != nil {
		return Result{}, s.classifyHandshakeErr("msg2", devaddr, err)
	}
	if err := s.sendFrame(ctx, msg3, envelope.MTypeEDHOCMsg3, devaddr); err != nil {
		return Result{}, err
	}

	frame, err = s.recvFrame(ctx)
	if err != nil {
		return Result{}, err
	}
	if frame.MType != envelope.MTypeEDHOCMsg4 {
		s.logger.WithField("mtype", frame.MType).Warn("edsession: expected msg4")
		return Result{}, ErrUnexpectedMessage
	}

	keys, err := ed.OnMsg4(state4, frame.Payload)
	if err != nil {
		return Result{}, s.classifyHandshakeErr("msg4", devaddr, err)
	}

	s.logger.WithField("devaddr", devaddr).Info("edsession: handshake established")
	rt := ratchet.NewEDRatchet(devaddr, keys.RootKey, keys.SendChainKey, keys.RecvChainKey)
	return Result{Devaddr: devaddr, Ratchet: rt}, nil
}

func (s *Session) classifyHandshakeErr(step string, devaddr envelope.DevAddr, err error) error {
	var ownErr *core.OwnError
	var peerErr *core.PeerError
	fields := logrus.Fields{"step": step, "devaddr": devaddr}
	switch {
	case errors.As(err, &ownErr):
		fields["err_kind"] = "own_error"
		s.logger.WithFields(fields).WithError(err).Error("edsession: own error processing handshake step")
	case errors.As(err, &peerErr):
		fields["err_kind"] = "peer_error"
		s.logger.WithFields(fields).WithError(err).Warn("edsession: peer error processing handshake step")
	case errors.Is(err, core.ErrUnknownPeerKid):
		fields["err_kind"] = "unknown_peer_kid"
		s.logger.WithFields(fields).Warn("edsession: peer advertised an unrecognized kid")
	default:
		fields["err_kind"] = "unknown"
		s.logger.WithFields(fields).WithError(err).Error("edsession: unclassified handshake error")
	}
	return fmt.Errorf("edsession: %s: %w", step, err)
}

func (s *Session) sendFrame(ctx context.Context, payload []byte, mtype envelope.MType, devaddr envelope.DevAddr) error {
	encoded := envelope.Encode(payload, mtype, envelope.FCnt(s.nextFcntUp()), devaddr)
	buf, n, err := envelope.PadTo255(encoded)
	if err != nil {
		return fmt.Errorf("edsession: encode: %w", err)
	}
	if _, err := s.radio.Transmit(ctx, buf, n); err != nil {
		s.logger.WithError(err).Warn("edsession: transmit failed")
		return fmt.Errorf("edsession: transmit: %w", err)
	}
	return nil
}

func (s *Session) recvFrame(ctx context.Context) (envelope.Frame, error) {
	raw, err := s.radio.RecvWindow(ctx, s.cfg)
	if err != nil {
		return envelope.Frame{}, fmt.Errorf("edsession: recv: %w", err)
	}
	if len(raw) == 0 {
		return envelope.Frame{}, ErrHandshakeTimeout
	}
	frame, err := envelope.Decode(raw)
	if err != nil {
		s.logger.WithError(err).Warn("edsession: malformed envelope, treating as timeout")
		return envelope.Frame{}, ErrHandshakeTimeout
	}
	return frame, nil
}
