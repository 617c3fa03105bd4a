// Package keydirectory loads the static long-term X25519 keys and the
// (KID -> peer static public key) table each role reads from its
// keys.json. KIDs are compared as variable-width byte strings: the source
// firmware stored them inconsistently (a bare [0xA2] on one side, padded
// arrays on the other), so lookups normalize away leading zero padding
// before comparing, per the spec's redesign note on KID equality.
package keydirectory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"lora-ratchet/crypto/filehash"
	"lora-ratchet/crypto/x25519"
)

// KID is a variable-width key identifier. It (de)serializes as a JSON
// array of byte values (matching the original firmware's serde Vec<u8>
// encoding), not as a base64 string.
type KID []byte

func (k KID) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(k))
	for i, b := range k {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}

func (k *KID) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make(KID, len(ints))
	for i, v := range ints {
		out[i] = byte(v)
	}
	*k = out
	return nil
}

// Normalize strips leading zero bytes so differently-padded encodings of
// the same KID compare equal (e.g. a 32-byte-padded 0xA2 and a bare
// [0xA2]). A KID of all zeros normalizes to a single zero byte.
func Normalize(k KID) KID {
	i := 0
	for i < len(k)-1 && k[i] == 0 {
		i++
	}
	return k[i:]
}

// Equal compares two KIDs by normalized byte content.
func Equal(a, b KID) bool {
	return bytes.Equal(Normalize(a), Normalize(b))
}

// fixed KIDs assigned to each role, per the spec's data model.
var (
	EDKID = KID{0xA2}
	ASKID = KID{0xA3}
)

// edFile is the on-disk JSON shape for the ED role's keys.json.
type edFile struct {
	EDStaticMaterial [32]byte   `json:"ed_static_material"`
	ASKeys           []asKeyRow `json:"as_keys"`
}

type asKeyRow struct {
	KID             KID      `json:"kid"`
	ASStaticMaterial [32]byte `json:"as_static_material"`
}

// asFile is the on-disk JSON shape for the AS role's keys.json.
type asFile struct {
	ASStaticMaterial [32]byte   `json:"as_static_material"`
	EDKeys           []edKeyRow `json:"ed_keys"`
}

type edKeyRow struct {
	KID             KID      `json:"kid"`
	EDStaticMaterial [32]byte `json:"ed_static_material"`
}

// entry is the normalized in-memory peer record, role-agnostic.
type entry struct {
	kid          KID
	staticPublic x25519.PublicKey
}

// Directory is a role's static-key file: its own secret plus the peer
// table it scans during a handshake. It may be re-read on demand (the
// handshake calls resolve a KID lazily), so it tracks the file's content
// hash to skip re-parsing when nothing changed.
type Directory struct {
	path string

	mu        sync.Mutex
	ownSecret x25519.PrivateKey
	peers     []entry
	lastHash  [32]byte
	hasLoaded bool
	isEDFile  bool
}

// LoadED reads an ED-role keys.json.
func LoadED(path string) (*Directory, error) {
	d := &Directory{path: path, isEDFile: true}
	if err := d.reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadAS reads an AS-role keys.json.
func LoadAS(path string) (*Directory, error) {
	d := &Directory{path: path, isEDFile: false}
	if err := d.reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// OwnSecret returns the role's static private key.
func (d *Directory) OwnSecret() x25519.PrivateKey {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ownSecret
}

// Lookup resolves a peer KID to its static public key, re-reading the
// backing file if its content has changed since the last load. Returns
// false if the KID is unknown.
func (d *Directory) Lookup(kid KID) (x25519.PublicKey, bool) {
	if err := d.reload(); err != nil {
		// A transient re-read failure falls back to the last-good table
		// rather than failing every in-flight handshake.
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.peers {
		if Equal(e.kid, kid) {
			return e.staticPublic, true
		}
	}
	return x25519.PublicKey{}, false
}

func (d *Directory) reload() error {
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("keydirectory: read %s: %w", d.path, err)
	}
	sum := filehash.Sum(raw)

	d.mu.Lock()
	unchanged := d.hasLoaded && sum == d.lastHash
	d.mu.Unlock()
	if unchanged {
		return nil
	}

	var ownSecret x25519.PrivateKey
	var peers []entry

	if d.isEDFile {
		var f edFile
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("keydirectory: parse %s: %w", d.path, err)
		}
		ownSecret = x25519.PrivateKey(f.EDStaticMaterial)
		for _, row := range f.ASKeys {
			peers = append(peers, entry{kid: row.KID, staticPublic: x25519.PublicKey(row.ASStaticMaterial)})
		}
	} else {
		var f asFile
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("keydirectory: parse %s: %w", d.path, err)
		}
		ownSecret = x25519.PrivateKey(f.ASStaticMaterial)
		for _, row := range f.EDKeys {
			peers = append(peers, entry{kid: row.KID, staticPublic: x25519.PublicKey(row.EDStaticMaterial)})
		}
	}

	d.mu.Lock()
	d.ownSecret = ownSecret
	d.peers = peers
	d.lastHash = sum
	d.hasLoaded = true
	d.mu.Unlock()
	return nil
}
