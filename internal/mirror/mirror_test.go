package mirror

import (
	"errors"
	"testing"

	"github.com/onsol-labs/gpl/internal/hashing"
	"github.com/onsol-labs/gpl/internal/leaf"
)

// referenceRoot builds a root the naive way: pairwise hashing of a full
// leaf slice with no caching. Used as the oracle for all mirror tests.
func referenceRoot(leaves []hashing.Digest) hashing.Digest {
	level := append([]hashing.Digest(nil), leaves...)
	for len(level) > 1 {
		next := make([]hashing.Digest, len(level)/2)
		for i := range next {
			next[i] = hashing.Pair(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

func zeroLeaves(n int) []hashing.Digest {
	return make([]hashing.Digest, n)
}

// denseLeaves expands the mirror's sparse leaf records into the full
// sequence, for feeding the reference oracle. Small trees only.
func denseLeaves(m *Mirror) []hashing.Digest {
	out := zeroLeaves(int(m.Capacity()))
	for _, l := range m.Leaves() {
		out[l.Index] = l.Digest
	}
	return out
}

func TestNew_ParameterValidation(t *testing.T) {
	cases := []struct {
		name   string
		depth  uint
		buffer uint
		ok     bool
	}{
		{"valid small", 3, 8, true},
		{"valid max depth", MaxDepth, 2048, true},
		{"depth zero", 0, 8, false},
		{"depth too large", MaxDepth + 1, 8, false},
		{"unsupported buffer", 3, 7, false},
		{"zero buffer", 3, 0, false},
	}
	for _, tc := range cases {
		_, err := New(tc.depth, tc.buffer)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrCapacity) {
			t.Errorf("%s: expected ErrCapacity, got %v", tc.name, err)
		}
	}
}

func TestNew_EmptyRootMatchesReference(t *testing.T) {
	for _, depth := range []uint{1, 3, 5, 10} {
		m, err := New(depth, 8)
		if err != nil {
			t.Fatalf("New(%d, 8): %v", depth, err)
		}
		want := referenceRoot(zeroLeaves(1 << depth))
		if got := m.Root(); got != want {
			t.Errorf("depth %d: empty root = %s, want %s", depth, got, want)
		}
	}
}

// A depth-30 tree must cost O(depth), not O(2^depth): creating one, writing
// a leaf at the last slot, and reading roots all have to work on ordinary
// hardware.
func TestMaxDepthTreeIsSparse(t *testing.T) {
	m, err := New(MaxDepth, 2048)
	if err != nil {
		t.Fatalf("New(MaxDepth, 2048): %v", err)
	}

	want := hashing.Zero
	for i := 0; i < MaxDepth; i++ {
		want = hashing.Pair(want, want)
	}
	if got := m.Root(); got != want {
		t.Fatalf("empty root = %s, want %s", got, want)
	}

	idx := m.Capacity() - 1
	d := hashing.Sum([]byte("deep"))
	if err := m.SetLeaf(idx, d); err != nil {
		t.Fatalf("SetLeaf(%d): %v", idx, err)
	}
	if got, recomputed := m.Root(), m.RecomputeRoot(); got != recomputed {
		t.Errorf("cached root %s != recomputed %s", got, recomputed)
	}
	if leaves := m.Leaves(); len(leaves) != 1 || leaves[0].Index != idx || leaves[0].Digest != d {
		t.Errorf("Leaves() = %v, want one record at %d", leaves, idx)
	}

	// Writing the zero digest back releases the path and restores the
	// empty root.
	if err := m.SetLeaf(idx, hashing.Zero); err != nil {
		t.Fatal(err)
	}
	if got := m.Root(); got != want {
		t.Errorf("root after clearing = %s, want %s", got, want)
	}
	if leaves := m.Leaves(); len(leaves) != 0 {
		t.Errorf("Leaves() after clearing = %v, want none", leaves)
	}
}

func TestSetLeaf_IncrementalMatchesFullRecompute(t *testing.T) {
	m, err := New(4, 64)
	if err != nil {
		t.Fatal(err)
	}

	writes := []struct {
		index uint64
		data  string
	}{
		{0, "a"}, {15, "b"}, {7, "c"}, {8, "d"}, {0, "e"}, {3, "f"},
	}
	for _, w := range writes {
		if err := m.SetLeaf(w.index, hashing.Sum([]byte(w.data))); err != nil {
			t.Fatalf("SetLeaf(%d): %v", w.index, err)
		}
		if got, want := m.Root(), m.RecomputeRoot(); got != want {
			t.Fatalf("after SetLeaf(%d): cached root %s != recomputed %s", w.index, got, want)
		}
		if got, want := m.Root(), referenceRoot(denseLeaves(m)); got != want {
			t.Fatalf("after SetLeaf(%d): cached root %s != reference %s", w.index, got, want)
		}
	}
}

func TestSetLeaf_IndexOutOfRange(t *testing.T) {
	m, err := New(3, 8)
	if err != nil {
		t.Fatal(err)
	}
	before := m.Root()

	if err := m.SetLeaf(8, hashing.Sum([]byte("x"))); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
	if m.Root() != before {
		t.Error("failed SetLeaf mutated tree state")
	}
}

func TestDepth3Scenario(t *testing.T) {
	// Depth-3 tree (capacity 8), one leaf built from an entity, remaining
	// leaves zero. The root must match the reference algorithm over
	// [H, 0, 0, 0, 0, 0, 0, 0].
	treeID := hashing.Sum([]byte("scenario-tree"))
	payload := []byte(`{"value":42}`)
	h := leaf.Build(treeID, []byte("seedA"), payload)

	m, err := New(3, 8)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SetLeaf(0, h.Digest); err != nil {
		t.Fatal(err)
	}

	want := zeroLeaves(8)
	want[0] = h.Digest
	if got := m.Root(); got != referenceRoot(want) {
		t.Errorf("root = %s, want %s", got, referenceRoot(want))
	}
}

func TestLeafAccessors(t *testing.T) {
	m, err := New(3, 8)
	if err != nil {
		t.Fatal(err)
	}
	d := hashing.Sum([]byte("x"))
	if err := m.SetLeaf(5, d); err != nil {
		t.Fatal(err)
	}

	got, err := m.Leaf(5)
	if err != nil {
		t.Fatal(err)
	}
	if got != d {
		t.Errorf("Leaf(5) = %s, want %s", got, d)
	}
	if unset, err := m.Leaf(2); err != nil || unset != hashing.Zero {
		t.Errorf("Leaf(2) = %s, %v, want zero digest", unset, err)
	}
	if _, err := m.Leaf(8); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Leaf(8): expected ErrIndexOutOfRange, got %v", err)
	}

	leaves := m.Leaves()
	if len(leaves) != 1 || leaves[0].Index != 5 || leaves[0].Digest != d {
		t.Fatalf("Leaves() = %v, want one record at 5", leaves)
	}
	// Mutating the copy must not affect the mirror.
	leaves[0].Digest = hashing.Zero
	if got, _ := m.Leaf(5); got != d {
		t.Error("Leaves() returned a live reference to internal state")
	}
}

func TestReset(t *testing.T) {
	m, err := New(3, 8)
	if err != nil {
		t.Fatal(err)
	}
	for i := uint64(0); i < 8; i++ {
		if err := m.SetLeaf(i, hashing.Sum([]byte{byte(i)})); err != nil {
			t.Fatal(err)
		}
	}

	replay := []LeafRecord{
		{Index: 0, Digest: hashing.Sum([]byte("r0"))},
		{Index: 1, Digest: hashing.Sum([]byte("r1"))},
	}
	if err := m.Reset(replay); err != nil {
		t.Fatal(err)
	}

	want := zeroLeaves(8)
	want[0], want[1] = replay[0].Digest, replay[1].Digest
	if got := m.Root(); got != referenceRoot(want) {
		t.Errorf("root after Reset = %s, want %s", got, referenceRoot(want))
	}
	if leaves := m.Leaves(); len(leaves) != 2 {
		t.Errorf("Leaves() after Reset = %v, want the 2 replayed records", leaves)
	}

	bad := []LeafRecord{{Index: 8, Digest: hashing.Sum([]byte("r8"))}}
	if err := m.Reset(bad); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Reset beyond capacity: expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestVerifyRoots(t *testing.T) {
	a := hashing.Sum([]byte("root"))
	if !VerifyRoots(a, a) {
		t.Error("identical roots must verify")
	}
	for i := 0; i < hashing.Size; i++ {
		b := a
		b[i] ^= 0x01
		if VerifyRoots(a, b) {
			t.Fatalf("roots differing at byte %d must not verify", i)
		}
	}
}

func TestCheckRoots(t *testing.T) {
	a := hashing.Sum([]byte("root"))
	if err := CheckRoots(a, a); err != nil {
		t.Errorf("matching roots: unexpected error %v", err)
	}
	b := a
	b[0] ^= 0x01
	if err := CheckRoots(a, b); !errors.Is(err, ErrRootDivergence) {
		t.Errorf("expected ErrRootDivergence, got %v", err)
	}
}
