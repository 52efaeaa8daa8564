package server

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onsol-labs/gpl/internal/hashing"
	"github.com/onsol-labs/gpl/internal/session"
)

// SessionHandler exposes HTTP endpoints for delegated-signing sessions.
type SessionHandler struct {
	manager *session.Manager
	issuer  *session.TokenIssuer
	logger  *zap.Logger
}

// NewSessionHandler creates a new SessionHandler. issuer may be nil, in
// which case no tokens are attached to create responses.
func NewSessionHandler(manager *session.Manager, issuer *session.TokenIssuer, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{manager: manager, issuer: issuer, logger: logger}
}

// Register mounts the session routes on the given router group.
func (h *SessionHandler) Register(rg *gin.RouterGroup) {
	s := rg.Group("/sessions")
	{
		s.POST("", h.Create)
		s.GET("/:id/validate", h.Validate)
		s.POST("/:id/revoke", h.Revoke)
	}
}

type createSessionRequest struct {
	Owner                 string `json:"owner" binding:"required"`
	Signer                string `json:"signer" binding:"required"`
	TargetScope           string `json:"target_scope" binding:"required"`
	RequireOwnerSignature bool   `json:"require_owner_signature"`
	ExpiresAt             string `json:"expires_at"`
	OwnerSig              string `json:"owner_sig"`
	SignerSig             string `json:"signer_sig" binding:"required"`
}

// Create handles POST /sessions.
func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	owner, err := parseKey(req.Owner)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner must be a 32-byte hex ed25519 public key"})
		return
	}
	signer, err := parseKey(req.Signer)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signer must be a 32-byte hex ed25519 public key"})
		return
	}
	scope, err := hashing.Parse(req.TargetScope)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_scope must be 32 bytes of hex"})
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be RFC 3339"})
			return
		}
		expiresAt = &t
	}

	ownerSig, err := hex.DecodeString(req.OwnerSig)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_sig must be hex"})
		return
	}
	signerSig, err := hex.DecodeString(req.SignerSig)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signer_sig must be hex"})
		return
	}

	s, err := h.manager.Create(session.CreateRequest{
		Owner:                 owner,
		Signer:                signer,
		TargetScope:           scope,
		RequireOwnerSignature: req.RequireOwnerSignature,
		ExpiresAt:             expiresAt,
		OwnerSig:              ownerSig,
		SignerSig:             signerSig,
	})
	if errors.Is(err, session.ErrUnauthorizedSession) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("create session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	resp := gin.H{
		"handle": s.Handle.String(),
		"signer": hex.EncodeToString(s.Signer),
		"scope":  s.TargetScope.String(),
	}
	if s.ExpiresAt != nil {
		resp["expires_at"] = s.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if h.issuer != nil {
		token, err := h.issuer.Issue(s)
		if err != nil {
			h.logger.Error("issue session token", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue session token"})
			return
		}
		resp["token"] = token
	}
	c.JSON(http.StatusCreated, resp)
}

// Validate handles GET /sessions/:id/validate?scope=<hex>. It is read-only
// and never mutates session state.
func (h *SessionHandler) Validate(c *gin.Context) {
	handle, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session handle"})
		return
	}
	scope, err := hashing.Parse(c.Query("scope"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be 32 bytes of hex"})
		return
	}

	if _, ok := h.manager.Get(handle); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid": h.manager.Validate(handle, scope, time.Now()),
	})
}

type revokeSessionRequest struct {
	Owner string `json:"owner" binding:"required"`
	Sig   string `json:"sig" binding:"required"`
}

// Revoke handles POST /sessions/:id/revoke.
func (h *SessionHandler) Revoke(c *gin.Context) {
	handle, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session handle"})
		return
	}
	var req revokeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	owner, err := parseKey(req.Owner)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner must be a 32-byte hex ed25519 public key"})
		return
	}
	sig, err := hex.DecodeString(req.Sig)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sig must be hex"})
		return
	}

	err = h.manager.Revoke(handle, owner, sig)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, session.ErrUnauthorizedSession):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Error("revoke session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke session"})
	default:
		c.JSON(http.StatusOK, gin.H{"revoked": true})
	}
}

func parseKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, errors.New("bad key length")
	}
	return ed25519.PublicKey(b), nil
}
