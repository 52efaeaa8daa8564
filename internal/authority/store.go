// Package authority models the capacity-constrained store that holds the
// authoritative copy of every tree. Mirrors track it; it is the single
// source of truth, and on any disagreement the mirror is the side that gets
// discarded.
//
// Two implementations are provided: MemoryStore for tests and
// single-process deployments, and PostgresStore for durable multi-instance
// deployments. Both serialize structural mutations per tree and emit a
// monotonic per-tree change log that consumers must apply in order.
package authority

import (
	"context"
	"errors"
	"time"

	"github.com/onsol-labs/gpl/internal/hashing"
	"github.com/onsol-labs/gpl/internal/mirror"
)

// ErrTreeNotFound is returned for operations on an unknown tree.
var ErrTreeNotFound = errors.New("tree not found")

// ErrTreeExists is returned when creating a tree whose id is already taken.
var ErrTreeExists = errors.New("tree already exists")

// TreeConfig are the immutable parameters fixed at tree creation.
type TreeConfig struct {
	TreeID        hashing.Digest
	MaxDepth      uint
	MaxBufferSize uint
}

// TreeInfo describes a created tree.
type TreeInfo struct {
	Config        TreeConfig
	ConfigAddress hashing.Digest
	CreatedAt     time.Time
}

// ChangeEvent is one entry of a tree's append/update log. Seq is monotonic
// and gapless per tree, starting at 1; Merkle roots are order-sensitive, so
// consumers must apply events in Seq order.
type ChangeEvent struct {
	TreeID hashing.Digest
	Seq    uint64
	Index  uint64
	Digest hashing.Digest
}

// Store is the authoritative tree store.
type Store interface {
	// CreateTree allocates a tree with all-zero leaves and returns its
	// info, including the deterministically derived config address.
	CreateTree(ctx context.Context, cfg TreeConfig) (*TreeInfo, error)

	// GetTree returns the info for a tree.
	GetTree(ctx context.Context, treeID hashing.Digest) (*TreeInfo, error)

	// Trees lists all trees in the store.
	Trees(ctx context.Context) ([]*TreeInfo, error)

	// SetLeaf replaces a leaf and returns the change event recorded for
	// the mutation.
	SetLeaf(ctx context.Context, treeID hashing.Digest, index uint64, digest hashing.Digest) (ChangeEvent, error)

	// Root returns the tree's current root.
	Root(ctx context.Context, treeID hashing.Digest) (hashing.Digest, error)

	// Leaves returns every non-zero leaf ordered by index; absent indexes
	// hold the zero digest. It is the replay source for rebuilding a
	// mirror, and stays proportional to content rather than capacity.
	Leaves(ctx context.Context, treeID hashing.Digest) ([]mirror.LeafRecord, error)

	// Events returns change events with Seq > fromSeq in ascending order.
	Events(ctx context.Context, treeID hashing.Digest, fromSeq uint64) ([]ChangeEvent, error)
}
