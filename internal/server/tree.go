// Package server exposes the GPL HTTP API: tree lifecycle, leaf appends,
// consistency checks, and session management.
package server

import (
	"crypto/rand"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/onsol-labs/gpl/internal/authority"
	"github.com/onsol-labs/gpl/internal/hashing"
	"github.com/onsol-labs/gpl/internal/leaf"
	"github.com/onsol-labs/gpl/internal/mirror"
	"github.com/onsol-labs/gpl/internal/syncer"
)

// TreeHandler exposes HTTP endpoints for tree lifecycle and leaf writes.
type TreeHandler struct {
	store  authority.Store
	sync   *syncer.Syncer
	logger *zap.Logger
}

// NewTreeHandler creates a new TreeHandler.
func NewTreeHandler(store authority.Store, sync *syncer.Syncer, logger *zap.Logger) *TreeHandler {
	return &TreeHandler{store: store, sync: sync, logger: logger}
}

// Register mounts the tree routes on the given router group.
func (h *TreeHandler) Register(rg *gin.RouterGroup) {
	t := rg.Group("/trees")
	{
		t.POST("", h.Create)
		t.GET("", h.List)
		t.GET("/:id/root", h.Root)
		t.POST("/:id/leaves", h.AppendLeaf)
		t.GET("/:id/consistency", h.Consistency)
	}
}

type createTreeRequest struct {
	// TreeID is optional; a random id is generated when omitted.
	TreeID        string `json:"tree_id"`
	MaxDepth      uint   `json:"max_depth" binding:"required"`
	MaxBufferSize uint   `json:"max_buffer_size" binding:"required"`
}

// Create handles POST /trees: allocates an empty tree in the
// authoritative store and starts mirroring it.
func (h *TreeHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req createTreeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var treeID hashing.Digest
	if req.TreeID == "" {
		if _, err := rand.Read(treeID[:]); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate tree id"})
			return
		}
	} else {
		var err error
		if treeID, err = hashing.Parse(req.TreeID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tree_id must be 32 bytes of hex"})
			return
		}
	}

	info, err := h.store.CreateTree(ctx, authority.TreeConfig{
		TreeID:        treeID,
		MaxDepth:      req.MaxDepth,
		MaxBufferSize: req.MaxBufferSize,
	})
	switch {
	case errors.Is(err, mirror.ErrCapacity):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, authority.ErrTreeExists):
		c.JSON(http.StatusConflict, gin.H{"error": "tree already exists"})
		return
	case err != nil:
		h.logger.Error("create tree", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create tree"})
		return
	}

	if err := h.sync.Track(ctx, treeID); err != nil {
		h.logger.Error("track new tree", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mirror tree"})
		return
	}

	root, err := h.store.Root(ctx, treeID)
	if err != nil {
		h.logger.Error("read new tree root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read root"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"tree_id":        treeID.String(),
		"config_address": info.ConfigAddress.String(),
		"root":           root.String(),
	})
}

// List handles GET /trees.
func (h *TreeHandler) List(c *gin.Context) {
	trees, err := h.store.Trees(c.Request.Context())
	if err != nil {
		h.logger.Error("list trees", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list trees"})
		return
	}

	out := make([]gin.H, 0, len(trees))
	for _, t := range trees {
		out = append(out, gin.H{
			"tree_id":         t.Config.TreeID.String(),
			"config_address":  t.ConfigAddress.String(),
			"max_depth":       t.Config.MaxDepth,
			"max_buffer_size": t.Config.MaxBufferSize,
			"created_at":      t.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"trees": out})
}

// Root handles GET /trees/:id/root, returning the authoritative root.
func (h *TreeHandler) Root(c *gin.Context) {
	treeID, ok := h.treeID(c)
	if !ok {
		return
	}

	root, err := h.store.Root(c.Request.Context(), treeID)
	if errors.Is(err, authority.ErrTreeNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "tree not found"})
		return
	}
	if err != nil {
		h.logger.Error("read root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read root"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"root": root.String()})
}

type appendLeafRequest struct {
	Index *uint64 `json:"index" binding:"required"`

	// Seed and Payload are base64 in JSON. The payload must already be in
	// canonical serialized form.
	Seed    []byte `json:"seed" binding:"required"`
	Payload []byte `json:"payload" binding:"required"`
}

// AppendLeaf handles POST /trees/:id/leaves: builds the content-addressed
// leaf for the entity, writes it to the authoritative store, and applies the
// resulting change event to the mirror. The response reports the post-write
// consistency check; both copies must agree at this checkpoint.
func (h *TreeHandler) AppendLeaf(c *gin.Context) {
	ctx := c.Request.Context()

	treeID, ok := h.treeID(c)
	if !ok {
		return
	}
	var req appendLeafRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	built := leaf.Build(treeID, req.Seed, req.Payload)

	ev, err := h.store.SetLeaf(ctx, treeID, *req.Index, built.Digest)
	switch {
	case errors.Is(err, authority.ErrTreeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "tree not found"})
		return
	case errors.Is(err, mirror.ErrIndexOutOfRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("set leaf", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write leaf"})
		return
	}

	if err := h.sync.Apply(ctx, ev); err != nil {
		h.logger.Error("apply change event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mirror leaf write"})
		return
	}

	rep, err := h.sync.Check(ctx, treeID)
	if err != nil {
		h.logger.Error("post-append consistency check", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify roots"})
		return
	}
	if !rep.Match {
		// Trust failure, not a usage error: report both roots and leave
		// recovery to the sync sweep.
		c.JSON(http.StatusConflict, gin.H{
			"error":              "root divergence",
			"authoritative_root": rep.AuthoritativeRoot.String(),
			"mirror_root":        rep.MirrorRoot.String(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"leaf": gin.H{
			"id":             built.ID.String(),
			"seed_digest":    built.SeedDigest.String(),
			"payload_digest": built.PayloadDigest.String(),
			"digest":         built.Digest.String(),
		},
		"index": ev.Index,
		"seq":   ev.Seq,
		"root":  rep.AuthoritativeRoot.String(),
	})
}

// Consistency handles GET /trees/:id/consistency: compares the
// authoritative root against the mirror root.
func (h *TreeHandler) Consistency(c *gin.Context) {
	ctx := c.Request.Context()

	treeID, ok := h.treeID(c)
	if !ok {
		return
	}

	rep, err := h.sync.Check(ctx, treeID)
	if errors.Is(err, syncer.ErrUntracked) {
		// The mirror is a disposable cache; build it on demand.
		if err := h.sync.Track(ctx, treeID); err != nil {
			if errors.Is(err, authority.ErrTreeNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "tree not found"})
				return
			}
			h.logger.Error("track tree for check", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mirror tree"})
			return
		}
		rep, err = h.sync.Check(ctx, treeID)
	}
	if err != nil {
		h.logger.Error("consistency check", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify roots"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"match":              rep.Match,
		"authoritative_root": rep.AuthoritativeRoot.String(),
		"mirror_root":        rep.MirrorRoot.String(),
	})
}

// treeID parses the :id route parameter, writing the error response itself
// when the value is malformed.
func (h *TreeHandler) treeID(c *gin.Context) (hashing.Digest, bool) {
	id, err := hashing.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tree id must be 32 bytes of hex"})
		return hashing.Digest{}, false
	}
	return id, true
}
