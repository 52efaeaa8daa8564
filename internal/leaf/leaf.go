// Package leaf builds the canonical content-addressed leaf digest for an
// entity. The digest commits to the entity's derived identifier, its seed,
// and its serialized payload, so a remote verifier holding only public data
// can recompute the leaf and check it against a tree root without trusting
// whoever submitted it.
package leaf

import (
	"github.com/onsol-labs/gpl/internal/derive"
	"github.com/onsol-labs/gpl/internal/hashing"
)

// Leaf carries the digests produced while encoding one entity.
type Leaf struct {
	// ID is the derived entity identifier for (treeID, seed).
	ID hashing.Digest

	// SeedDigest is the Keccak-256 of the entity's seed bytes.
	SeedDigest hashing.Digest

	// PayloadDigest is the Keccak-256 of the canonical serialized payload.
	PayloadDigest hashing.Digest

	// Digest is the final leaf value stored in the tree: the hash of the
	// 96-byte preimage ID || SeedDigest || PayloadDigest.
	Digest hashing.Digest
}

// Build encodes an entity into its leaf digest.
//
// The payload must already be in canonical serialized form; this package
// never inspects or re-encodes it. Identical (treeID, seed, payload) inputs
// always produce the identical Leaf.
func Build(treeID hashing.Digest, seed, payload []byte) Leaf {
	seedDigest := hashing.Sum(seed)
	id := derive.ID(treeID, seedDigest)
	payloadDigest := hashing.Sum(payload)

	return Leaf{
		ID:            id,
		SeedDigest:    seedDigest,
		PayloadDigest: payloadDigest,
		Digest:        hashing.Sum(id[:], seedDigest[:], payloadDigest[:]),
	}
}
