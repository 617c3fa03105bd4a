// Package registry implements the AS session registry (devaddr -> handshake
// or ratchet state). It is owned and mutated exclusively by the dispatcher's
// single event loop, so unlike most maps in this codebase it carries no
// mutex of its own: the concurrency model already rules out concurrent
// access, and adding one here would just hide that invariant.
package registry

import (
	"errors"
	"time"

	"lora-ratchet/protocol/edhoc/as"
	"lora-ratchet/protocol/ratchet"
)

var (
	// ErrDuplicateDevaddr is returned by InsertPending when the devaddr is
	// already present in the registry, in either state.
	ErrDuplicateDevaddr = errors.New("registry: devaddr already present")

	// ErrUnknownDevaddr is returned by the Take* accessors when no entry
	// exists for the requested devaddr.
	ErrUnknownDevaddr = errors.New("registry: unknown devaddr")

	// ErrAlreadyRatcheting means a devaddr the caller tried to treat as
	// pending has already completed its handshake.
	ErrAlreadyRatcheting = errors.New("registry: devaddr already ratcheting")
)

// entry holds exactly one of pending/ratchet at a time; the zero value of
// the unused field marks it absent. recvCount survives a TakeRatchet/
// PutBack borrow cycle since it lives on the entry, not the ratchet value.
type entry struct {
	pending        *as.AwaitingMsg3
	pendingCreated time.Time

	ratchet   *ratchet.ASRatchet
	recvCount uint16
}

// Registry is the devaddr keyed session table. Zero value is not usable;
// construct with New.
type Registry struct {
	entries    map[[4]byte]*entry
	pendingTTL time.Duration
	maxPending int
}

// New constructs an empty registry. pendingTTL and maxPending bound the
// damage an adversarial device can do by sending msg1 and never following
// up: entries older than pendingTTL, or the oldest entries once there are
// more than maxPending of them, are dropped by EvictStalePending.
func New(pendingTTL time.Duration, maxPending int) *Registry {
	return &Registry{
		entries:    make(map[[4]byte]*entry),
		pendingTTL: pendingTTL,
		maxPending: maxPending,
	}
}

// Has reports whether devaddr already has an entry, pending or
// ratcheting — used by the AS handshake to retry on a random-assignment
// collision.
func (r *Registry) Has(devaddr [4]byte) bool {
	_, ok := r.entries[devaddr]
	return ok
}

// InsertPending records a newly assigned devaddr's AwaitingMsg3 state,
// called only after on_msg1 succeeds.
func (r *Registry) InsertPending(devaddr [4]byte, state *as.AwaitingMsg3) error {
	if r.Has(devaddr) {
		return ErrDuplicateDevaddr
	}
	r.entries[devaddr] = &entry{pending: state, pendingCreated: nowFunc()}
	r.evictIfOverCapacity()
	return nil
}

// TakePending removes and returns the pending handshake state for devaddr,
// called at msg3 arrival. The entry is fully removed: on verification
// failure the caller does not reinstall it, matching the one-way
// pending-to-ratchet transition.
func (r *Registry) TakePending(devaddr [4]byte) (*as.AwaitingMsg3, error) {
	e, ok := r.entries[devaddr]
	if !ok {
		return nil, ErrUnknownDevaddr
	}
	if e.pending == nil {
		return nil, ErrAlreadyRatcheting
	}
	delete(r.entries, devaddr)
	return e.pending, nil
}

// InstallRatchet replaces a (now-consumed) pending entry with an active
// ratchet, called after on_msg3 succeeds. The diagnostic recv counter
// starts at 2 — the two handshake uplinks already seen from the device.
func (r *Registry) InstallRatchet(devaddr [4]byte, rt *ratchet.ASRatchet) {
	r.entries[devaddr] = &entry{ratchet: rt, recvCount: 2}
}

// TakeRatchet borrows the ratchet instance for devaddr out of the
// registry; the caller must return it with PutBack once done, per the
// single-threaded borrow-and-return discipline the dispatcher follows.
func (r *Registry) TakeRatchet(devaddr [4]byte) (*ratchet.ASRatchet, error) {
	e, ok := r.entries[devaddr]
	if !ok {
		return nil, ErrUnknownDevaddr
	}
	if e.ratchet == nil {
		return nil, ErrUnknownDevaddr
	}
	rt := e.ratchet
	e.ratchet = nil
	return rt, nil
}

// PutBack returns a ratchet instance previously borrowed with TakeRatchet.
func (r *Registry) PutBack(devaddr [4]byte, rt *ratchet.ASRatchet) {
	e, ok := r.entries[devaddr]
	if !ok {
		// The entry vanished while borrowed (shouldn't happen under the
		// single-threaded dispatcher); reinstate it rather than drop the
		// ratchet silently.
		r.entries[devaddr] = &entry{ratchet: rt}
		return
	}
	e.ratchet = rt
}

// BumpRecv increments and returns devaddr's diagnostic receive counter.
// It operates independently of TakeRatchet/PutBack so it can be called
// even while the ratchet itself is borrowed out.
func (r *Registry) BumpRecv(devaddr [4]byte) (uint16, error) {
	e, ok := r.entries[devaddr]
	if !ok {
		return 0, ErrUnknownDevaddr
	}
	e.recvCount++
	return e.recvCount, nil
}

// EvictStalePending drops pending entries older than pendingTTL and,
// if still over maxPending, the oldest pending entries beyond that bound.
// Returns the evicted devaddrs for logging.
func (r *Registry) EvictStalePending(now time.Time) [][4]byte {
	var evicted [][4]byte
	for devaddr, e := range r.entries {
		if e.pending != nil && r.pendingTTL > 0 && now.Sub(e.pendingCreated) > r.pendingTTL {
			delete(r.entries, devaddr)
			evicted = append(evicted, devaddr)
		}
	}
	r.evictIfOverCapacity()
	return evicted
}

func (r *Registry) evictIfOverCapacity() {
	if r.maxPending <= 0 {
		return
	}
	for r.countPending() > r.maxPending {
		oldest, found := [4]byte{}, false
		var oldestTime time.Time
		for devaddr, e := range r.entries {
			if e.pending == nil {
				continue
			}
			if !found || e.pendingCreated.Before(oldestTime) {
				oldest, oldestTime, found = devaddr, e.pendingCreated, true
			}
		}
		if !found {
			return
		}
		delete(r.entries, oldest)
	}
}

func (r *Registry) countPending() int {
	n := 0
	for _, e := range r.entries {
		if e.pending != nil {
			n++
		}
	}
	return n
}

// Row is a read-only snapshot of one entry, for diagnostics (the AS
// dashboard). The dispatcher is still the registry's only writer; Row
// values must only be produced from the dispatcher's own goroutine, not
// read concurrently from another one.
type Row struct {
	Devaddr   [4]byte
	Pending   bool
	RecvCount uint16
}

// Snapshot lists every entry for display. Must be called from the
// goroutine that owns this registry (the dispatcher's event loop).
func (r *Registry) Snapshot() []Row {
	rows := make([]Row, 0, len(r.entries))
	for devaddr, e := range r.entries {
		rows = append(rows, Row{Devaddr: devaddr, Pending: e.pending != nil, RecvCount: e.recvCount})
	}
	return rows
}

// nowFunc is overridden in tests needing deterministic TTL behavior.
var nowFunc = time.Now
