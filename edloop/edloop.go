// Package edloop runs the ED's ratchet tick loop after a completed
// handshake: periodic uplink, one receive-window pair, an occasional
// DH-rekey request once the send count catches up with dhr_const, and a
// power-save sleep between ticks. It runs forever by design — there is no
// termination condition short of process exit — though it still honors
// context cancellation as a practical shutdown hook.
package edloop

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"lora-ratchet/envelope"
	"lora-ratchet/protocol/ratchet"
	"lora-ratchet/radio"
)

// settleDelay is the pause after the handshake's msg4 before the first
// uplink; tickInterval is how long the radio sleeps between ticks. Both
// are carried over from the original firmware's hardcoded values rather
// than tuned away.
const (
	settleDelay  = 5 * time.Second
	tickInterval = 10 * time.Second

	uplinkPayloadSize = 8
)

// Loop is the ED's post-handshake ratchet driver.
type Loop struct {
	radio  radio.Radio
	cfg    radio.Config
	rt     *ratchet.EDRatchet
	logger *logrus.Logger

	fcntUp uint16
	status atomic.Value // Status
}

// Status is a point-in-time snapshot of the loop's counters, safe to read
// from another goroutine (the dashboard) while the loop ticks.
type Status struct {
	Devaddr   [4]byte
	FcntUp    uint16
	SendCount uint16
	RecvCount uint16
	DHRConst  uint16
	LastTick  time.Time
}

// New constructs a ratchet loop for an established session. startingFcntUp
// continues the envelope frame counter the handshake already advanced —
// fcnt_up is process-wide for the ED's whole run, not reset per component.
func New(r radio.Radio, cfg radio.Config, rt *ratchet.EDRatchet, startingFcntUp uint16, logger *logrus.Logger) *Loop {
	if logger == nil {
		logger = logrus.New()
	}
	l := &Loop{radio: r, cfg: cfg, rt: rt, fcntUp: startingFcntUp, logger: logger}
	l.status.Store(Status{Devaddr: rt.Devaddr(), FcntUp: startingFcntUp, DHRConst: cfg.DHRConst})
	return l
}

// Status returns the most recently recorded snapshot.
func (l *Loop) Status() Status {
	return l.status.Load().(Status)
}

func (l *Loop) recordStatus() {
	l.status.Store(Status{
		Devaddr:   l.rt.Devaddr(),
		FcntUp:    l.fcntUp,
		SendCount: l.rt.SendCount(),
		DHRConst:  l.cfg.DHRConst,
		LastTick:  time.Now(),
	})
}

func (l *Loop) nextFcntUp() uint16 {
	v := l.fcntUp
	l.fcntUp++
	return v
}

// Run blocks, ticking forever until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	if err := sleepCtx(ctx, settleDelay); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.tick(ctx)
		if err := sleepCtx(ctx, tickInterval); err != nil {
			return err
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	payload := make([]byte, uplinkPayloadSize)
	if _, err := rand.Read(payload); err != nil {
		l.logger.WithError(err).Error("edloop: could not generate uplink payload")
		return
	}

	uplink, err := l.rt.SealUplink(payload)
	if err != nil {
		l.logger.WithError(err).Error("edloop: ratchet failed to seal uplink")
		return
	}
	if err := l.transmitRatchetFrame(ctx, uplink, envelope.MTypeRatchetUplink); err != nil {
		l.logger.WithError(err).Warn("edloop: uplink transmit failed, skipping this tick's receive windows")
		l.radio.Sleep()
		return
	}

	if raw, err := l.radio.RecvWindow(ctx, l.cfg); err != nil {
		l.logger.WithError(err).Warn("edloop: downlink receive window failed")
	} else if len(raw) > 0 {
		l.handleDownlink(raw)
	}

	if l.rt.SendCount() >= l.cfg.DHRConst {
		l.runDHRekey(ctx)
	}

	if err := l.radio.Sleep(); err != nil {
		l.logger.WithError(err).Warn("edloop: radio sleep failed")
	}
	l.recordStatus()
}

func (l *Loop) runDHRekey(ctx context.Context) {
	reqFrame, err := l.rt.BeginDHRekey()
	if err != nil {
		l.logger.WithError(err).Error("edloop: could not begin dh-rekey")
		return
	}
	if err := l.transmitRatchetFrame(ctx, reqFrame, envelope.MTypeRatchetDHReq); err != nil {
		l.logger.WithError(err).Warn("edloop: dh-rekey request transmit failed")
		return
	}

	raw, err := l.radio.RecvWindow(ctx, l.cfg)
	if err != nil {
		l.logger.WithError(err).Warn("edloop: dh-rekey ack receive window failed")
		return
	}
	if len(raw) == 0 {
		l.logger.Warn("edloop: dh-rekey ack timed out")
		return
	}
	frame, err := envelope.Decode(raw)
	if err != nil {
		l.logger.WithError(err).Warn("edloop: malformed dh-rekey ack, dropping")
		return
	}
	if err := l.rt.CompleteDHRekey(frame.Payload); err != nil {
		l.logger.WithError(err).Error("edloop: dh-rekey ack rejected")
	}
}

func (l *Loop) handleDownlink(raw []byte) {
	frame, err := envelope.Decode(raw)
	if err != nil {
		l.logger.WithError(err).Warn("edloop: malformed downlink, dropping")
		return
	}
	if frame.MType != envelope.MTypeRatchetDown {
		l.logger.WithField("mtype", frame.MType).Warn("edloop: unexpected downlink mtype, dropping")
		return
	}
	if _, err := l.rt.OpenDownlink(frame.Payload); err != nil {
		l.logger.WithError(err).Warn("edloop: downlink failed to decrypt, dropping")
	}
}

func (l *Loop) transmitRatchetFrame(ctx context.Context, ratchetFrame []byte, mtype envelope.MType) error {
	encoded := envelope.Encode(ratchetFrame, mtype, envelope.FCnt(l.nextFcntUp()), envelope.DevAddr(l.rt.Devaddr()))
	buf, n, err := envelope.PadTo255(encoded)
	if err != nil {
		return fmt.Errorf("edloop: encode: %w", err)
	}
	if _, err := l.radio.Transmit(ctx, buf, n); err != nil {
		return fmt.Errorf("edloop: transmit: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
