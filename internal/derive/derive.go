// Package derive implements deterministic address derivation for GPL
// entities. An entity identifier is a pure function of the tree it lives in
// and the digest of its seed bytes; no counter, registry, or other mutable
// state participates, so two parties can always agree on an identifier from
// public inputs alone.
package derive

import (
	"errors"
	"fmt"

	"github.com/onsol-labs/gpl/internal/hashing"
)

// Domain-separation prefixes. These are part of the wire format: changing
// either invalidates every identifier and config address issued so far.
const (
	idPrefix     = "gpl:id:v1"
	configPrefix = "gpl:tree-config:v1"
)

// ErrDerivation is returned when derivation inputs violate their length
// preconditions. It signals a caller-side bug, never a transient condition.
var ErrDerivation = errors.New("derivation input violates length precondition")

// ID derives the stable entity identifier for (treeID, seedDigest).
func ID(treeID, seedDigest hashing.Digest) hashing.Digest {
	return hashing.Sum([]byte(idPrefix), treeID[:], seedDigest[:])
}

// IDFromBytes is the length-checked form of ID for callers holding raw byte
// slices. Both treeID and seedDigest must be exactly 32 bytes.
func IDFromBytes(treeID, seedDigest []byte) (hashing.Digest, error) {
	tid, ok := hashing.FromBytes(treeID)
	if !ok {
		return hashing.Digest{}, fmt.Errorf("%w: tree id is %d bytes, want %d", ErrDerivation, len(treeID), hashing.Size)
	}
	sd, ok := hashing.FromBytes(seedDigest)
	if !ok {
		return hashing.Digest{}, fmt.Errorf("%w: seed digest is %d bytes, want %d", ErrDerivation, len(seedDigest), hashing.Size)
	}
	return ID(tid, sd), nil
}

// ConfigAddress derives the tree-configuration handle address for a tree.
// The address is returned by tree initialization and is stable for the
// lifetime of the tree.
func ConfigAddress(treeID hashing.Digest) hashing.Digest {
	return hashing.Sum([]byte(configPrefix), treeID[:])
}
