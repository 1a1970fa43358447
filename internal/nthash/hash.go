// Package nthash defines the 256-bit content hash type shared by the
// blob store and the catalog. It is deliberately distinct from ntid.ID:
// a Hash is derived from content (BLAKE3), never randomly generated.
package nthash

import (
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// Size is the length in bytes of a content hash (256 bits).
const Size = 32

// Hash is a content-addressed identifier: the BLAKE3 digest of a blob's
// bytes, or a medium's derived identity hash (spec.md §3).
type Hash [Size]byte

// Zero is the zero-value Hash.
var Zero Hash

// IsZero reports whether h is the zero value.
func (h Hash) IsZero() bool {
	return h == Zero
}

// String returns the lowercase hex encoding used on disk and in the
// catalog (spec.md §6: "lowercase hex encoding of a 256-bit content hash").
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Parse decodes a lowercase hex string into a Hash.
func Parse(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("nthash: invalid hash %q: %w", s, err)
	}
	if len(b) != Size {
		return h, fmt.Errorf("nthash: hash %q has %d bytes, want %d", s, len(b), Size)
	}
	copy(h[:], b)
	return h, nil
}

// Sum returns the BLAKE3 hash of data, for small inputs (e.g. shard
// checksums). Streaming content should use NewStreamer instead.
func Sum(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// Streamer incrementally hashes content as it is copied, so the Copy
// Worker never needs to hold a whole file in memory to compute its hash
// (spec.md §4.6 step 2: "streaming, not slurping").
type Streamer struct {
	h *blake3.Hasher
}

// NewStreamer returns a fresh incremental BLAKE3 hasher.
func NewStreamer() *Streamer {
	return &Streamer{h: blake3.New(32, nil)}
}

// Write implements io.Writer so a Streamer can be used as the second
// destination of an io.MultiWriter/io.TeeReader alongside a temp file.
func (s *Streamer) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

// Sum finalizes and returns the digest.
func (s *Streamer) Sum() Hash {
	var out Hash
	copy(out[:], s.h.Sum(nil))
	return out
}
