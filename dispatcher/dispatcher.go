// Package dispatcher implements the AS's single-threaded event loop: a
// blocking receive demultiplexed on the envelope's mtype byte, routing
// EDHOC frames to the handshake driver and ratchet frames to the session
// registry's borrow-and-return cycle. It owns the registry and the
// fcnt_down counter; nothing else touches either.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"lora-ratchet/assession"
	"lora-ratchet/envelope"
	"lora-ratchet/protocol/edhoc/core"
	"lora-ratchet/protocol/ratchet"
	"lora-ratchet/radio"
	"lora-ratchet/registry"
)

const evictionInterval = 30 * time.Second

// Dispatcher is the AS's event loop: one radio, one handshake driver, one
// session registry, run until ctx is canceled. A per-frame error never
// stops the loop — only the devaddr it concerns loses its state. The
// registry has a single writer (this loop); Snapshot requests from other
// goroutines (the dashboard) are served out of that same loop via
// snapshotReq rather than reading the registry directly.
type Dispatcher struct {
	radio   radio.Radio
	session *assession.Session
	reg     *registry.Registry
	logger  *logrus.Logger

	fcntDown uint16

	snapshotReq chan chan []registry.Row
}

// New constructs a dispatcher. The registry and session must already be
// initialized; the dispatcher takes ownership of mutating the registry
// from here on.
func New(r radio.Radio, session *assession.Session, reg *registry.Registry, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{radio: r, session: session, reg: reg, logger: logger, snapshotReq: make(chan chan []registry.Row)}
}

func (d *Dispatcher) nextFcntDown() uint16 {
	v := d.fcntDown
	d.fcntDown++
	return v
}

// Snapshot asks the running dispatcher loop for the current registry
// contents. Safe to call from any goroutine: the answer is produced by
// the loop itself, never by reading the registry out-of-band.
func (d *Dispatcher) Snapshot(ctx context.Context) ([]registry.Row, error) {
	reply := make(chan []registry.Row, 1)
	select {
	case d.snapshotReq <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rows := <-reply:
		return rows, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run blocks, processing frames until ctx is canceled or a radio error
// that isn't a simple timeout occurs. Frames arrive on a background
// reader goroutine so this loop can also service snapshot requests and
// periodic pending-handshake eviction without blocking on the radio.
func (d *Dispatcher) Run(ctx context.Context) error {
	frames := make(chan []byte)
	readErrs := make(chan error, 1)
	go func() {
		for {
			raw, err := d.radio.RecvBlocking(ctx)
			if err != nil {
				var timeout interface{ Timeout() bool }
				if errors.As(err, &timeout) && timeout.Timeout() && ctx.Err() == nil {
					continue
				}
				readErrs <- err
				return
			}
			select {
			case frames <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw := <-frames:
			d.handleFrame(ctx, raw)

		case reply := <-d.snapshotReq:
			reply <- d.reg.Snapshot()

		case <-ticker.C:
			if evicted := d.reg.EvictStalePending(time.Now()); len(evicted) > 0 {
				d.logger.WithField("count", len(evicted)).Info("dispatcher: evicted stale pending handshakes")
			}

		case err := <-readErrs:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.WithError(err).Warn("dispatcher: recv_blocking failed")
			return err
		}
	}
}

func (d *Dispatcher) handleFrame(ctx context.Context, raw []byte) {
	frame, err := envelope.Decode(raw)
	if err != nil {
		d.logger.WithError(err).Warn("dispatcher: malformed envelope, dropping")
		return
	}

	switch frame.MType {
	case envelope.MTypeEDHOCMsg1:
		d.handleMsg1(ctx, frame)
	case envelope.MTypeEDHOCMsg3:
		d.handleMsg3(ctx, frame)
	case envelope.MTypeRatchetUplink, envelope.MTypeRatchetDHReq:
		d.handleRatchetFrame(ctx, raw, frame)
	default:
		d.logger.WithField("mtype", frame.MType).Warn("dispatcher: unknown mtype, dropping")
	}
}

func (d *Dispatcher) handleMsg1(ctx context.Context, frame envelope.Frame) {
	msg2, devaddr, state, err := d.session.OnMsg1(frame.Payload, d.reg)
	if err != nil {
		d.onHandshakeError("msg1", envelope.DevAddr{}, envelope.MTypeEDHOCMsg2, err, ctx)
		return
	}

	if err := d.reg.InsertPending(devaddr, state); err != nil {
		d.logger.WithError(err).WithField("devaddr", devaddr).Error("dispatcher: could not insert pending handshake")
		return
	}
	d.transmitEnvelope(ctx, msg2, envelope.MTypeEDHOCMsg2, envelope.DevAddr(devaddr))
}

func (d *Dispatcher) handleMsg3(ctx context.Context, frame envelope.Frame) {
	devaddr := frame.DevAddr
	pending, err := d.reg.TakePending([4]byte(devaddr))
	if err != nil {
		d.logger.WithField("devaddr", devaddr).Warn("dispatcher: msg3 for unknown/non-pending devaddr, dropping")
		return
	}

	msg4, keys, err := d.session.OnMsg3(pending, frame.Payload)
	if err != nil {
		d.onHandshakeError("msg3", devaddr, envelope.MTypeEDHOCMsg4, err, ctx)
		return
	}

	rt := ratchet.NewASRatchet([4]byte(devaddr), keys.RootKey, keys.SendChainKey, keys.RecvChainKey)
	d.reg.InstallRatchet([4]byte(devaddr), rt)
	d.transmitEnvelope(ctx, msg4, envelope.MTypeEDHOCMsg4, devaddr)
}

// onHandshakeError classifies a handshake-step error and, for an own
// error only, transmits its payload back framed as the reply the device
// would otherwise have received. Peer errors and an unknown KID are
// logged and dropped — the device gets no reply.
func (d *Dispatcher) onHandshakeError(step string, devaddr envelope.DevAddr, replyMtype envelope.MType, err error, ctx context.Context) {
	var ownErr *core.OwnError
	var peerErr *core.PeerError
	switch {
	case errors.As(err, &ownErr):
		d.logger.WithFields(logrus.Fields{"step": step, "devaddr": devaddr}).WithError(err).Error("dispatcher: own error, replying with error payload")
		d.transmitEnvelope(ctx, ownErr.Payload, replyMtype, devaddr)
	case errors.As(err, &peerErr):
		d.logger.WithFields(logrus.Fields{"step": step, "devaddr": devaddr}).WithError(err).Warn("dispatcher: peer error, dropping")
	case errors.Is(err, core.ErrUnknownPeerKid):
		d.logger.WithFields(logrus.Fields{"step": step, "devaddr": devaddr}).Warn("dispatcher: unknown peer kid, dropping")
	default:
		d.logger.WithFields(logrus.Fields{"step": step, "devaddr": devaddr}).WithError(err).Error("dispatcher: unclassified handshake error, dropping")
	}
}

func (d *Dispatcher) handleRatchetFrame(ctx context.Context, raw []byte, frame envelope.Frame) {
	devaddr, err := ratchet.DevaddrFromRawFrame(raw)
	if err != nil {
		d.logger.WithError(err).Warn("dispatcher: malformed ratchet frame, dropping")
		return
	}

	rt, err := d.reg.TakeRatchet(devaddr)
	if err != nil {
		d.logger.WithField("devaddr", devaddr).Warn("dispatcher: no ratchet on this devaddr, dropping")
		return
	}

	switch frame.MType {
	case envelope.MTypeRatchetUplink:
		if _, err := rt.OpenUplink(frame.Payload); err != nil {
			d.logger.WithError(err).WithField("devaddr", devaddr).Warn("dispatcher: uplink failed to decrypt, dropping")
		} else if _, err := d.reg.BumpRecv(devaddr); err != nil {
			d.logger.WithError(err).WithField("devaddr", devaddr).Error("dispatcher: bump_recv failed after successful uplink")
		}
		d.reg.PutBack(devaddr, rt)

	case envelope.MTypeRatchetDHReq:
		ack, err := rt.HandleDHRequest(frame.Payload)
		d.reg.PutBack(devaddr, rt)
		if err != nil {
			d.logger.WithError(err).WithField("devaddr", devaddr).Warn("dispatcher: dh-request handling failed, dropping")
			return
		}
		d.transmitEnvelope(ctx, ack, envelope.MTypeRatchetDHAck, envelope.DevAddr(devaddr))

	default:
		d.reg.PutBack(devaddr, rt)
		d.logger.WithField("mtype", frame.MType).Warn("dispatcher: unexpected mtype routed as ratchet frame")
	}
}

func (d *Dispatcher) transmitEnvelope(ctx context.Context, payload []byte, mtype envelope.MType, devaddr envelope.DevAddr) {
	encoded := envelope.Encode(payload, mtype, envelope.FCnt(d.nextFcntDown()), devaddr)
	buf, n, err := envelope.PadTo255(encoded)
	if err != nil {
		d.logger.WithError(err).Error("dispatcher: encode failed")
		return
	}
	if _, err := d.radio.Transmit(ctx, buf, n); err != nil {
		d.logger.WithError(err).Warn("dispatcher: transmit failed")
	}
}
