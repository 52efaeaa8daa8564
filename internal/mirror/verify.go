package mirror

import (
	"errors"
	"fmt"

	"github.com/onsol-labs/gpl/internal/hashing"
)

// ErrRootDivergence signals that the mirrored root does not match the
// authoritative root. It is a trust failure, not a usage error: the caller
// must discard the mirror and resynchronize from the authoritative store.
// It must never be "fixed" by adjusting either side to match.
var ErrRootDivergence = errors.New("mirror root diverges from authoritative root")

// VerifyRoots reports whether the two roots are byte-identical. Roots are
// opaque hash values, so strict equality is the only comparison the system
// ever performs on them.
func VerifyRoots(authoritative, mirrored hashing.Digest) bool {
	return authoritative == mirrored
}

// CheckRoots returns nil when the roots match and a wrapped
// ErrRootDivergence carrying both values otherwise.
func CheckRoots(authoritative, mirrored hashing.Digest) error {
	if VerifyRoots(authoritative, mirrored) {
		return nil
	}
	return fmt.Errorf("%w: authoritative=%s mirror=%s", ErrRootDivergence, authoritative, mirrored)
}
