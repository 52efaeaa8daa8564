// Package hashing provides the single hash primitive used across GPL:
// Keccak-256 (the legacy Keccak variant, not the finalised SHA3-256).
// Identifiers, payload digests, leaf digests, and tree node hashes are all
// produced by this one function so that any digest in the system can be
// recomputed from public inputs.
package hashing

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Size is the digest length in bytes.
const Size = 32

// Digest is a Keccak-256 output.
type Digest [Size]byte

// Zero is the digest value of an unset tree leaf.
var Zero Digest

// Sum returns the Keccak-256 digest of the concatenation of chunks.
// It is a pure function of its input bytes; the result is stable across
// processes and versions.
func Sum(chunks ...[]byte) Digest {
	h := sha3.NewLegacyKeccak256()
	for _, c := range chunks {
		h.Write(c) //nolint:errcheck // hash.Hash.Write never fails
	}
	var d Digest
	h.Sum(d[:0])
	return d
}

// Pair hashes a left/right sibling pair into their parent node digest.
func Pair(left, right Digest) Digest {
	return Sum(left[:], right[:])
}

// FromBytes copies b into a Digest. It returns false if b is not exactly
// Size bytes long.
func FromBytes(b []byte) (Digest, bool) {
	var d Digest
	if len(b) != Size {
		return d, false
	}
	copy(d[:], b)
	return d, true
}

// String returns the lowercase hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is the all-zero value.
func (d Digest) IsZero() bool {
	return d == Zero
}

// Parse decodes a 64-character hex string into a Digest.
func Parse(s string) (Digest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("decode digest: %w", err)
	}
	d, ok := FromBytes(b)
	if !ok {
		return Digest{}, fmt.Errorf("digest must be %d bytes, got %d", Size, len(b))
	}
	return d, nil
}
