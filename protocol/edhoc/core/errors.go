package core

import (
	"errors"
	"fmt"
)

// ErrUnknownPeerKid means the static-key directory has no entry for the
// KID the peer advertised. Distinct from OwnError/PeerError: it's neither
// a local processing bug nor a signal the peer sent us — it's our
// directory missing an entry we need to proceed.
var ErrUnknownPeerKid = errors.New("edhoc: unknown peer kid")

// OwnError is returned when the local side could not carry the handshake
// forward (unsupported suite, unparseable message). Payload is transmitted
// to the peer verbatim as an error reply; the handshake then gives up.
type OwnError struct {
	Payload []byte
	Reason  string
}

func (e *OwnError) Error() string {
	return fmt.Sprintf("edhoc: own error: %s", e.Reason)
}

// NewOwnError builds an OwnError whose payload is a short ASCII message
// derived from reason, suitable for transmitting to the peer.
func NewOwnError(reason string) *OwnError {
	return &OwnError{Payload: []byte("edhoc-error: " + reason), Reason: reason}
}

// PeerError means the peer's message failed to verify: a MAC mismatch or a
// tampered field. (An unknown KID is ErrUnknownPeerKid instead.) We owe the
// peer nothing further.
type PeerError struct {
	Reason string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("edhoc: peer error: %s", e.Reason)
}

// NewPeerError builds a PeerError carrying reason for logging; nothing is
// transmitted back to the peer for this class of failure.
func NewPeerError(reason string) *PeerError {
	return &PeerError{Reason: reason}
}
