// Package syncer keeps per-tree mirrors in lockstep with the authoritative
// store. It applies the store's change log strictly in sequence order,
// verifies root equality at every checkpoint, and treats any divergence as
// fatal to the mirror: the mirror is discarded and rebuilt from the store's
// full leaf replay, never patched.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/onsol-labs/gpl/internal/authority"
	"github.com/onsol-labs/gpl/internal/hashing"
	"github.com/onsol-labs/gpl/internal/mirror"
)

// ErrUntracked is returned for operations on a tree the syncer is not
// mirroring.
var ErrUntracked = errors.New("tree not tracked by syncer")

// Report is the outcome of a consistency check. Both roots are always
// populated so a mismatch can be diagnosed from the report alone.
type Report struct {
	TreeID            hashing.Digest
	Match             bool
	AuthoritativeRoot hashing.Digest
	MirrorRoot        hashing.Digest
}

type trackedTree struct {
	mirror  *mirror.Mirror
	lastSeq uint64
}

// Syncer mirrors a set of trees from one authoritative store.
type Syncer struct {
	mu     sync.RWMutex
	store  authority.Store
	trees  map[hashing.Digest]*trackedTree
	logger *zap.Logger
}

// New creates a Syncer over store.
func New(store authority.Store, logger *zap.Logger) *Syncer {
	return &Syncer{
		store:  store,
		trees:  make(map[hashing.Digest]*trackedTree),
		logger: logger,
	}
}

// Track starts mirroring a tree. The mirror is built by replaying the
// store's full leaf set; mirrors are disposable caches and are always
// reconstructed this way rather than restored from any local persistence.
// Tracking an already-tracked tree rebuilds its mirror.
func (s *Syncer) Track(ctx context.Context, treeID hashing.Digest) error {
	info, err := s.store.GetTree(ctx, treeID)
	if err != nil {
		return fmt.Errorf("track tree: %w", err)
	}
	m, err := mirror.New(info.Config.MaxDepth, info.Config.MaxBufferSize)
	if err != nil {
		return err
	}

	t := &trackedTree{mirror: m}
	if err := s.rebuild(ctx, treeID, t); err != nil {
		return err
	}

	s.mu.Lock()
	s.trees[treeID] = t
	s.mu.Unlock()

	s.logger.Info("tracking tree",
		zap.String("tree_id", treeID.String()),
		zap.Uint64("last_seq", t.lastSeq),
		zap.String("root", m.Root().String()),
	)
	return nil
}

// rebuild replays the store's leaves into t's mirror and fast-forwards the
// event cursor to the store's tip.
func (s *Syncer) rebuild(ctx context.Context, treeID hashing.Digest, t *trackedTree) error {
	leaves, err := s.store.Leaves(ctx, treeID)
	if err != nil {
		return fmt.Errorf("replay leaves: %w", err)
	}
	if err := t.mirror.Reset(leaves); err != nil {
		return err
	}

	events, err := s.store.Events(ctx, treeID, 0)
	if err != nil {
		return fmt.Errorf("read change log: %w", err)
	}
	if n := len(events); n > 0 {
		t.lastSeq = events[n-1].Seq
	} else {
		t.lastSeq = 0
	}
	return nil
}

// Apply consumes one change event. Events must arrive in the order the
// store emitted them; an event that skips ahead triggers a catch-up read of
// the intervening log, and an event at or behind the cursor is a duplicate
// and is ignored.
func (s *Syncer) Apply(ctx context.Context, ev authority.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trees[ev.TreeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUntracked, ev.TreeID)
	}

	switch {
	case ev.Seq <= t.lastSeq:
		return nil
	case ev.Seq > t.lastSeq+1:
		return s.catchUpLocked(ctx, ev.TreeID, t)
	}

	if err := t.mirror.SetLeaf(ev.Index, ev.Digest); err != nil {
		return err
	}
	t.lastSeq = ev.Seq
	eventsApplied.Inc()
	return nil
}

// CatchUp applies every change event past the tree's cursor.
func (s *Syncer) CatchUp(ctx context.Context, treeID hashing.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trees[treeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUntracked, treeID)
	}
	return s.catchUpLocked(ctx, treeID, t)
}

func (s *Syncer) catchUpLocked(ctx context.Context, treeID hashing.Digest, t *trackedTree) error {
	events, err := s.store.Events(ctx, treeID, t.lastSeq)
	if err != nil {
		return fmt.Errorf("read change log: %w", err)
	}
	for _, ev := range events {
		if ev.Seq != t.lastSeq+1 {
			return fmt.Errorf("change log gap: have seq %d, next event is %d", t.lastSeq, ev.Seq)
		}
		if err := t.mirror.SetLeaf(ev.Index, ev.Digest); err != nil {
			return err
		}
		t.lastSeq = ev.Seq
		eventsApplied.Inc()
	}
	return nil
}

// Root returns the mirror's current root.
func (s *Syncer) Root(treeID hashing.Digest) (hashing.Digest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trees[treeID]
	if !ok {
		return hashing.Digest{}, fmt.Errorf("%w: %s", ErrUntracked, treeID)
	}
	return t.mirror.Root(), nil
}

// Check compares the authoritative root against the mirror root and returns
// both for diagnostics. A mismatch is recorded but not repaired here; the
// caller decides when to Resync.
func (s *Syncer) Check(ctx context.Context, treeID hashing.Digest) (Report, error) {
	s.mu.RLock()
	t, ok := s.trees[treeID]
	s.mu.RUnlock()
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrUntracked, treeID)
	}

	authRoot, err := s.store.Root(ctx, treeID)
	if err != nil {
		return Report{}, fmt.Errorf("read authoritative root: %w", err)
	}

	rep := Report{
		TreeID:            treeID,
		AuthoritativeRoot: authRoot,
		MirrorRoot:        t.mirror.Root(),
	}
	rep.Match = mirror.VerifyRoots(rep.AuthoritativeRoot, rep.MirrorRoot)
	if rep.Match {
		checksTotal.WithLabelValues("match").Inc()
	} else {
		checksTotal.WithLabelValues("divergence").Inc()
		s.logger.Error("root divergence detected",
			zap.String("tree_id", treeID.String()),
			zap.String("authoritative_root", rep.AuthoritativeRoot.String()),
			zap.String("mirror_root", rep.MirrorRoot.String()),
		)
	}
	return rep, nil
}

// Resync discards the tree's mirror and rebuilds it from the authoritative
// store. This is the only sanctioned response to a root divergence.
func (s *Syncer) Resync(ctx context.Context, treeID hashing.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trees[treeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUntracked, treeID)
	}
	if err := s.rebuild(ctx, treeID, t); err != nil {
		return err
	}
	resyncsTotal.Inc()
	s.logger.Warn("mirror resynchronized from authoritative store",
		zap.String("tree_id", treeID.String()),
		zap.Uint64("last_seq", t.lastSeq),
	)
	return nil
}

// Tracked returns the ids of every tree the syncer mirrors.
func (s *Syncer) Tracked() []hashing.Digest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]hashing.Digest, 0, len(s.trees))
	for id := range s.trees {
		out = append(out, id)
	}
	return out
}

// Run periodically catches up and consistency-checks every tracked tree
// until ctx is cancelled. Divergent mirrors are resynchronized.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Syncer) sweep(ctx context.Context) {
	for _, treeID := range s.Tracked() {
		if err := s.CatchUp(ctx, treeID); err != nil {
			s.logger.Error("catch-up failed", zap.String("tree_id", treeID.String()), zap.Error(err))
			continue
		}
		rep, err := s.Check(ctx, treeID)
		if err != nil {
			s.logger.Error("consistency check failed", zap.String("tree_id", treeID.String()), zap.Error(err))
			continue
		}
		if !rep.Match {
			if err := s.Resync(ctx, treeID); err != nil {
				s.logger.Error("resync failed", zap.String("tree_id", treeID.String()), zap.Error(err))
			}
		}
	}
}
