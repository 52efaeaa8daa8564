package derive

import (
	"errors"
	"testing"

	"github.com/onsol-labs/gpl/internal/hashing"
)

func TestID_Deterministic(t *testing.T) {
	tree := hashing.Sum([]byte("tree"))
	seed := hashing.Sum([]byte("seed"))

	a := ID(tree, seed)
	b := ID(tree, seed)
	if a != b {
		t.Fatalf("ID not deterministic: %s != %s", a, b)
	}
}

func TestID_InputSensitivity(t *testing.T) {
	tree := hashing.Sum([]byte("tree"))
	seed := hashing.Sum([]byte("seed"))
	base := ID(tree, seed)

	otherTree := tree
	otherTree[0] ^= 0x01
	if ID(otherTree, seed) == base {
		t.Error("changing tree id did not change the identifier")
	}

	otherSeed := seed
	otherSeed[31] ^= 0x01
	if ID(tree, otherSeed) == base {
		t.Error("changing seed digest did not change the identifier")
	}
}

func TestID_DistinctFromConfigAddress(t *testing.T) {
	// Same inputs under different prefixes must never collide.
	tree := hashing.Sum([]byte("tree"))
	if ID(tree, tree) == ConfigAddress(tree) {
		t.Error("identifier and config address derivations are not domain-separated")
	}
}

func TestIDFromBytes_LengthChecks(t *testing.T) {
	ok := make([]byte, hashing.Size)

	cases := []struct {
		name    string
		treeID  []byte
		seed    []byte
		wantErr bool
	}{
		{"valid", ok, ok, false},
		{"short tree id", make([]byte, 31), ok, true},
		{"long tree id", make([]byte, 33), ok, true},
		{"short seed digest", ok, make([]byte, 16), true},
		{"nil tree id", nil, ok, true},
	}
	for _, tc := range cases {
		_, err := IDFromBytes(tc.treeID, tc.seed)
		if tc.wantErr && !errors.Is(err, ErrDerivation) {
			t.Errorf("%s: expected ErrDerivation, got %v", tc.name, err)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestConfigAddress_Deterministic(t *testing.T) {
	tree := hashing.Sum([]byte("tree"))
	if ConfigAddress(tree) != ConfigAddress(tree) {
		t.Error("ConfigAddress not deterministic")
	}
	other := hashing.Sum([]byte("other"))
	if ConfigAddress(tree) == ConfigAddress(other) {
		t.Error("distinct trees produced the same config address")
	}
}
