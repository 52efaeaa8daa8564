package authority

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onsol-labs/gpl/internal/derive"
	"github.com/onsol-labs/gpl/internal/hashing"
	"github.com/onsol-labs/gpl/internal/mirror"
)

// memTree is one tree's authoritative state: the tree itself plus its
// change log.
type memTree struct {
	info   *TreeInfo
	tree   *mirror.Mirror
	events []ChangeEvent
}

// MemoryStore is an in-memory, thread-safe Store implementation. It reuses
// the mirror's sparse tree as its internal tree engine, which keeps the two
// sides of a consistency check structurally independent only in ownership,
// not in hashing rules; root equality then holds whenever both sides saw
// the same writes.
type MemoryStore struct {
	mu    sync.RWMutex
	trees map[hashing.Digest]*memTree
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trees: make(map[hashing.Digest]*memTree)}
}

// CreateTree implements Store.
func (s *MemoryStore) CreateTree(_ context.Context, cfg TreeConfig) (*TreeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trees[cfg.TreeID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTreeExists, cfg.TreeID)
	}

	t, err := mirror.New(cfg.MaxDepth, cfg.MaxBufferSize)
	if err != nil {
		return nil, err
	}

	info := &TreeInfo{
		Config:        cfg,
		ConfigAddress: derive.ConfigAddress(cfg.TreeID),
		CreatedAt:     time.Now().UTC(),
	}
	s.trees[cfg.TreeID] = &memTree{info: info, tree: t}
	return info, nil
}

// GetTree implements Store.
func (s *MemoryStore) GetTree(_ context.Context, treeID hashing.Digest) (*TreeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trees[treeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTreeNotFound, treeID)
	}
	return t.info, nil
}

// Trees implements Store.
func (s *MemoryStore) Trees(_ context.Context) ([]*TreeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TreeInfo, 0, len(s.trees))
	for _, t := range s.trees {
		out = append(out, t.info)
	}
	return out, nil
}

// SetLeaf implements Store. Mutations on the same store serialize through
// one lock; there is never more than one in-flight structural change per
// tree.
func (s *MemoryStore) SetLeaf(_ context.Context, treeID hashing.Digest, index uint64, digest hashing.Digest) (ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trees[treeID]
	if !ok {
		return ChangeEvent{}, fmt.Errorf("%w: %s", ErrTreeNotFound, treeID)
	}
	if err := t.tree.SetLeaf(index, digest); err != nil {
		return ChangeEvent{}, err
	}

	ev := ChangeEvent{
		TreeID: treeID,
		Seq:    uint64(len(t.events)) + 1,
		Index:  index,
		Digest: digest,
	}
	t.events = append(t.events, ev)
	return ev, nil
}

// Root implements Store.
func (s *MemoryStore) Root(_ context.Context, treeID hashing.Digest) (hashing.Digest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trees[treeID]
	if !ok {
		return hashing.Digest{}, fmt.Errorf("%w: %s", ErrTreeNotFound, treeID)
	}
	return t.tree.Root(), nil
}

// Leaves implements Store.
func (s *MemoryStore) Leaves(_ context.Context, treeID hashing.Digest) ([]mirror.LeafRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trees[treeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTreeNotFound, treeID)
	}
	return t.tree.Leaves(), nil
}

// Events implements Store.
func (s *MemoryStore) Events(_ context.Context, treeID hashing.Digest, fromSeq uint64) ([]ChangeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trees[treeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTreeNotFound, treeID)
	}
	if fromSeq >= uint64(len(t.events)) {
		return nil, nil
	}
	out := make([]ChangeEvent, len(t.events)-int(fromSeq))
	copy(out, t.events[fromSeq:])
	return out, nil
}
