// Package mirror implements the off-chain copy of a fixed-capacity binary
// Merkle tree. The authoritative copy lives in an external size-limited
// store; a Mirror tracks it leaf for leaf and must reproduce its root
// exactly. A mirror is a disposable cache: on any divergence it is discarded
// and rebuilt from the authoritative store, never patched in place.
package mirror

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/onsol-labs/gpl/internal/hashing"
)

// MaxDepth is the deepest supported tree (2^30 leaves).
const MaxDepth = 30

// SupportedBufferSizes are the concurrent-update buffer sizes the
// authoritative store accepts at tree initialization. The mirror itself
// keeps no buffer; it validates the parameter so that a mirror can only be
// created for a tree the store would accept.
var SupportedBufferSizes = []uint{8, 64, 256, 512, 1024, 2048}

// ErrCapacity is returned for an unsupported depth or buffer size at
// initialization.
var ErrCapacity = errors.New("unsupported tree capacity parameters")

// ErrIndexOutOfRange is returned when a leaf index is at or beyond the
// tree's capacity. The tree state is unchanged.
var ErrIndexOutOfRange = errors.New("leaf index out of range")

// LeafRecord is one materialized leaf of a tree. The full leaf sequence of
// a tree is the records plus the zero digest at every other index; deep
// trees are replayed as records so that cost scales with content, not
// capacity.
type LeafRecord struct {
	Index  uint64
	Digest hashing.Digest
}

// Mirror is an in-memory binary Merkle tree over 2^depth leaves.
//
// Storage is sparse: each level keeps only the nodes that differ from the
// root of an all-zero subtree of that height, so an empty tree costs
// O(depth) regardless of capacity and a written tree costs O(writes *
// depth). Level 0 holds the leaves, level depth the root. The root is
// maintained incrementally: SetLeaf rehashes only the path from the changed
// leaf upward.
type Mirror struct {
	mu         sync.RWMutex
	depth      uint
	bufferSize uint
	zero       []hashing.Digest            // zero[l] = root of an all-zero subtree of height l
	nodes      []map[uint64]hashing.Digest // per level, nodes differing from zero[l]
}

// New allocates a mirror for a tree of the given depth and concurrency
// buffer size, with every leaf set to the zero digest.
func New(depth, bufferSize uint) (*Mirror, error) {
	if depth < 1 || depth > MaxDepth {
		return nil, fmt.Errorf("%w: depth %d not in 1..%d", ErrCapacity, depth, MaxDepth)
	}
	supported := false
	for _, s := range SupportedBufferSizes {
		if bufferSize == s {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("%w: buffer size %d not in %v", ErrCapacity, bufferSize, SupportedBufferSizes)
	}

	m := &Mirror{
		depth:      depth,
		bufferSize: bufferSize,
		zero:       make([]hashing.Digest, depth+1),
		nodes:      make([]map[uint64]hashing.Digest, depth+1),
	}

	// Zero hash ladder: zero[0] is the empty leaf, zero[l+1] = H(zero[l] || zero[l]).
	z := hashing.Zero
	for lvl := uint(0); lvl <= depth; lvl++ {
		m.zero[lvl] = z
		m.nodes[lvl] = make(map[uint64]hashing.Digest)
		z = hashing.Pair(z, z)
	}
	return m, nil
}

// Depth returns the tree depth.
func (m *Mirror) Depth() uint { return m.depth }

// BufferSize returns the concurrency buffer size the tree was created with.
func (m *Mirror) BufferSize() uint { return m.bufferSize }

// Capacity returns the number of leaf slots, 2^depth.
func (m *Mirror) Capacity() uint64 { return uint64(1) << m.depth }

// SetLeaf replaces the leaf at index and rehashes its path to the root.
func (m *Mirror) SetLeaf(index uint64, digest hashing.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLeafLocked(index, digest)
}

func (m *Mirror) setLeafLocked(index uint64, digest hashing.Digest) error {
	if index >= m.capacityLocked() {
		return fmt.Errorf("%w: index %d, capacity %d", ErrIndexOutOfRange, index, m.capacityLocked())
	}

	m.setNode(0, index, digest)
	idx := index
	for lvl := uint(0); lvl < m.depth; lvl++ {
		parent := idx >> 1
		sib := parent << 1
		m.setNode(lvl+1, parent, hashing.Pair(m.node(lvl, sib), m.node(lvl, sib+1)))
		idx = parent
	}
	return nil
}

// node reads a node, falling back to the level's zero-subtree hash.
func (m *Mirror) node(lvl uint, idx uint64) hashing.Digest {
	if d, ok := m.nodes[lvl][idx]; ok {
		return d
	}
	return m.zero[lvl]
}

// setNode stores a node, dropping it when it equals the level's
// zero-subtree hash so that clearing content releases memory.
func (m *Mirror) setNode(lvl uint, idx uint64, d hashing.Digest) {
	if d == m.zero[lvl] {
		delete(m.nodes[lvl], idx)
		return
	}
	m.nodes[lvl][idx] = d
}

// Root returns the cached root. It never recomputes.
func (m *Mirror) Root() hashing.Digest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.node(m.depth, 0)
}

// RecomputeRoot rebuilds the root from the leaves alone, ignoring all
// cached interior nodes. It must always equal Root(); it exists as the
// correctness oracle for the incremental path updates.
func (m *Mirror) RecomputeRoot() hashing.Digest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	level := make(map[uint64]hashing.Digest, len(m.nodes[0]))
	for idx, d := range m.nodes[0] {
		level[idx] = d
	}
	for lvl := uint(0); lvl < m.depth; lvl++ {
		next := make(map[uint64]hashing.Digest, len(level))
		for idx := range level {
			parent := idx >> 1
			if _, done := next[parent]; done {
				continue
			}
			sib := parent << 1
			left, ok := level[sib]
			if !ok {
				left = m.zero[lvl]
			}
			right, ok := level[sib+1]
			if !ok {
				right = m.zero[lvl]
			}
			next[parent] = hashing.Pair(left, right)
		}
		level = next
	}
	if d, ok := level[0]; ok {
		return d
	}
	return m.zero[m.depth]
}

// Leaf returns the digest stored at index.
func (m *Mirror) Leaf(index uint64) (hashing.Digest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index >= m.capacityLocked() {
		return hashing.Digest{}, fmt.Errorf("%w: index %d, capacity %d", ErrIndexOutOfRange, index, m.capacityLocked())
	}
	return m.node(0, index), nil
}

// Leaves returns a copy of every non-zero leaf, ordered by index. Indexes
// absent from the result hold the zero digest.
func (m *Mirror) Leaves() []LeafRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LeafRecord, 0, len(m.nodes[0]))
	for idx, d := range m.nodes[0] {
		out = append(out, LeafRecord{Index: idx, Digest: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Reset discards all content and replays the given leaf records. It is used
// when resynchronizing a discarded mirror from the authoritative store's
// replay. Every index absent from leaves reverts to the zero digest.
func (m *Mirror) Reset(leaves []LeafRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range leaves {
		if l.Index >= m.capacityLocked() {
			return fmt.Errorf("%w: index %d, capacity %d", ErrIndexOutOfRange, l.Index, m.capacityLocked())
		}
	}

	for lvl := range m.nodes {
		m.nodes[lvl] = make(map[uint64]hashing.Digest)
	}
	for _, l := range leaves {
		if err := m.setLeafLocked(l.Index, l.Digest); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror) capacityLocked() uint64 { return uint64(1) << m.depth }
