// Package health reports the liveness of the authoritative store and the
// consistency of every tracked mirror.
package health

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/onsol-labs/gpl/internal/authority"
	"github.com/onsol-labs/gpl/internal/hashing"
	"github.com/onsol-labs/gpl/internal/syncer"
)

// Status values reported by Check.
const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// TreeLister is the slice of the authoritative store the checker needs.
type TreeLister interface {
	Trees(ctx context.Context) ([]*authority.TreeInfo, error)
}

// MirrorChecker is the slice of the syncer the checker needs.
type MirrorChecker interface {
	Tracked() []hashing.Digest
	Check(ctx context.Context, treeID hashing.Digest) (syncer.Report, error)
}

// Report is the result of one health evaluation.
type Report struct {
	Status    string    `json:"status"`
	Trees     int       `json:"trees"`
	Mirrors   int       `json:"mirrors"`
	Diverged  []string  `json:"diverged,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker evaluates service health on demand.
type Checker struct {
	store   TreeLister
	mirrors MirrorChecker
	logger  *zap.Logger
}

// NewChecker creates a Checker over the given store and mirror set.
func NewChecker(store TreeLister, mirrors MirrorChecker, logger *zap.Logger) *Checker {
	return &Checker{store: store, mirrors: mirrors, logger: logger}
}

// Check lists trees from the authoritative store and compares each tracked
// mirror's root against it. A store failure makes the service unavailable;
// any root mismatch makes it degraded.
func (c *Checker) Check(ctx context.Context) Report {
	rep := Report{Status: StatusOK, CheckedAt: time.Now().UTC()}

	trees, err := c.store.Trees(ctx)
	if err != nil {
		c.logger.Error("health: list trees", zap.Error(err))
		rep.Status = StatusUnavailable
		return rep
	}
	rep.Trees = len(trees)

	tracked := c.mirrors.Tracked()
	rep.Mirrors = len(tracked)

	for _, id := range tracked {
		mr, err := c.mirrors.Check(ctx, id)
		if err != nil {
			c.logger.Warn("health: mirror check", zap.String("tree", id.String()), zap.Error(err))
			rep.Status = StatusDegraded
			continue
		}
		if !mr.Match {
			rep.Diverged = append(rep.Diverged, id.String())
			rep.Status = StatusDegraded
		}
	}
	return rep
}
