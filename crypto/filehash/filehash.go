// Package filehash fingerprints file contents so the key directories can
// detect an on-disk change between reads without re-parsing JSON on every
// lookup.
package filehash

import "crypto/sha256"

// Sum returns the SHA-256 digest of data, hex-free, for cheap comparison.
func Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}
