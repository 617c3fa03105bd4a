// Package assession drives the AS side of the handshake: unwraps an
// inbound msg1/msg3 envelope payload, assigns a collision-free devaddr
// when responding to msg1, and calls into protocol/edhoc/as for the
// actual EDHOC state machine. The dispatcher owns the envelope framing,
// the radio calls, and the session registry; this package only holds the
// EDHOC logic and the random-devaddr-with-retry assignment.
package assession

import (
	"crypto/rand"
	"fmt"

	"github.com/sirupsen/logrus"

	"lora-ratchet/crypto/x25519"
	"lora-ratchet/keydirectory"
	"lora-ratchet/protocol/edhoc/as"
)

// maxDevaddrAttempts bounds the collision-retry loop. At 2^32 possible
// values a real collision is vanishingly unlikely for any fleet this
// protocol targets; this just prevents an infinite loop if the registry
// were ever saturated.
const maxDevaddrAttempts = 16

// DevaddrChecker reports whether a devaddr is already in use. The session
// registry satisfies this; kept as a narrow interface so this package
// doesn't need to import the registry package for a full dependency.
type DevaddrChecker interface {
	Has(devaddr [4]byte) bool
}

// ErrDevaddrSpaceExhausted is returned on the vanishingly unlikely event
// that maxDevaddrAttempts consecutive random draws all collided.
var ErrDevaddrSpaceExhausted = fmt.Errorf("assession: could not find a free devaddr after %d attempts", maxDevaddrAttempts)

// Session is the AS's per-device-agnostic EDHOC driver; a single instance
// handles every device's handshake since it carries no per-device state
// of its own (that lives in the registry entry instead).
type Session struct {
	dir    *keydirectory.Directory
	logger *logrus.Logger
}

// New constructs an AS EDHOC driver bound to the static-key directory
// used to resolve the ED's KID in message 3.
func New(dir *keydirectory.Directory, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{dir: dir, logger: logger}
}

func (s *Session) lookupEDKey(kid []byte) (x25519.PublicKey, bool) {
	return s.dir.Lookup(keydirectory.KID(kid))
}

// OnMsg1 processes an inbound msg1 payload: generates the AS's ephemeral
// keypair, computes MAC2, and assigns a random devaddr not already present
// in registry. Returns the msg2 payload bytes, the assigned devaddr, and
// the AwaitingMsg3 state the dispatcher must install as pending.
func (s *Session) OnMsg1(payload []byte, registry DevaddrChecker) ([]byte, [4]byte, *as.AwaitingMsg3, error) {
	msg2, state, err := as.OnMsg1(payload, s.dir.OwnSecret(), keydirectory.ASKID)
	if err != nil {
		return nil, [4]byte{}, nil, err
	}

	devaddr, err := assignDevaddr(registry)
	if err != nil {
		return nil, [4]byte{}, nil, err
	}

	s.logger.WithField("devaddr", devaddr).Debug("assession: assigned devaddr for msg1")
	return msg2, devaddr, state, nil
}

// OnMsg3 processes an inbound msg3 payload against the pending state the
// dispatcher pulled from the registry, returning the msg4 payload bytes
// and the derived session keys on success.
func (s *Session) OnMsg3(state *as.AwaitingMsg3, payload []byte) ([]byte, as.SessionKeys, error) {
	return as.OnMsg3(state, payload, s.lookupEDKey)
}

func assignDevaddr(registry DevaddrChecker) ([4]byte, error) {
	for i := 0; i < maxDevaddrAttempts; i++ {
		var devaddr [4]byte
		if _, err := rand.Read(devaddr[:]); err != nil {
			return [4]byte{}, fmt.Errorf("assession: devaddr rng: %w", err)
		}
		if !registry.Has(devaddr) {
			return devaddr, nil
		}
	}
	return [4]byte{}, ErrDevaddrSpaceExhausted
}
