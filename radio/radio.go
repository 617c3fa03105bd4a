// Package radio specifies the collaborator interface the LoRa transceiver
// driver must satisfy. The driver itself (SPI/GPIO setup, the SX127x
// register dance) is out of scope here — only the shape of the interface
// and the RX1/RX2 window discipline built on top of it live in this
// package.
package radio

import (
	"context"
	"time"
)

// Config carries the recognized radio/session options read from config.json.
type Config struct {
	DevEUI      [8]byte
	AppEUI      [8]byte
	DHRConst    uint16
	RX1Delay    time.Duration
	RX1Duration time.Duration
	RX2Delay    time.Duration
	RX2Duration time.Duration
}

// DefaultConfig returns a starting configuration: dhr_const 20 and the
// RX1/RX2 delay and duration timings. Config has no frequency, bandwidth or
// spreading-factor fields, so the radio profile itself is not part of it.
func DefaultConfig() Config {
	return Config{
		DHRConst:    20,
		RX1Delay:    1000 * time.Millisecond,
		RX1Duration: 3000 * time.Millisecond,
		RX2Delay:    2000 * time.Millisecond,
		RX2Duration: 3000 * time.Millisecond,
	}
}

// Mode selects the transceiver's power state between radio operations.
type Mode int

const (
	ModeSleep Mode = iota
	ModeLoRa
)

// Radio is the opaque transceiver collaborator: a blocking transmit, a
// bounded or unbounded receive, and a low-power mode switch. A production
// implementation wraps SPI/GPIO calls into an SX127x register sequence; the
// radiosim package provides a software stand-in for tests and demos.
type Radio interface {
	// Transmit blocks until the transceiver reports TX-done and returns the
	// number of bytes actually sent.
	Transmit(ctx context.Context, buf [MaxFrame]byte, length int) (int, error)

	// RecvWindow opens RX1 (cfg.RX1Delay sleep, then up to cfg.RX1Duration
	// wait), and on a miss retries once with cfg.RX2Delay/cfg.RX2Duration.
	// Returns an empty slice if both windows miss.
	RecvWindow(ctx context.Context, cfg Config) ([]byte, error)

	// RecvBlocking waits with no timeout — the AS dispatcher's variant.
	RecvBlocking(ctx context.Context) ([]byte, error)

	// SetMode switches the transceiver's power state.
	SetMode(mode Mode) error

	// Sleep puts the radio in its lowest-power mode between ratchet ticks.
	Sleep() error
}

// MaxFrame is the fixed-size buffer shape the driver demands.
const MaxFrame = 255

// ErrTimeout is a receive-timeout error whose Timeout method reports true.
// RecvWindow does not use it: a missed window pair is an empty slice with a
// nil error. The radiosim implementation never returns it.
var ErrTimeout = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string { return "radio: receive window timed out" }
func (timeoutError) Timeout() bool { return true }
