package session

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onsol-labs/gpl/internal/hashing"
)

// Manager issues, validates, and revokes sessions. All state lives in
// memory; sessions are deliberately not persisted, since they are short-lived
// and an owner can always issue a new one.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	logger   *zap.Logger
}

// NewManager creates an empty session Manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[uuid.UUID]*Session),
		logger:   logger,
	}
}

// Create authorizes and activates a new session.
//
// The session is staged and fully verified before it is inserted into the
// session table in a single step: either every required signature checks
// out and the session becomes observable as Active, or nothing is stored.
func (m *Manager) Create(req CreateRequest) (*Session, error) {
	if len(req.Owner) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: owner key is %d bytes, want %d", ErrUnauthorizedSession, len(req.Owner), ed25519.PublicKeySize)
	}
	if len(req.Signer) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: signer key is %d bytes, want %d", ErrUnauthorizedSession, len(req.Signer), ed25519.PublicKeySize)
	}
	if bytes.Equal(req.Owner, req.Signer) {
		return nil, fmt.Errorf("%w: session signer must not be the owner key", ErrUnauthorizedSession)
	}

	msg := CreationMessage(req.Owner, req.Signer, req.TargetScope, req.ExpiresAt)

	// The ephemeral key must always prove itself.
	if !ed25519.Verify(req.Signer, msg, req.SignerSig) {
		return nil, fmt.Errorf("%w: missing or invalid session-signer signature", ErrUnauthorizedSession)
	}
	if req.RequireOwnerSignature && !ed25519.Verify(req.Owner, msg, req.OwnerSig) {
		return nil, fmt.Errorf("%w: missing or invalid owner signature", ErrUnauthorizedSession)
	}

	s := &Session{
		Handle:      uuid.New(),
		Owner:       bytes.Clone(req.Owner),
		Signer:      bytes.Clone(req.Signer),
		TargetScope: req.TargetScope,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   req.ExpiresAt,
	}

	m.mu.Lock()
	m.sessions[s.Handle] = s
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("handle", s.Handle.String()),
		zap.String("scope", s.TargetScope.String()),
		zap.Bool("expires", s.ExpiresAt != nil),
	)
	return s, nil
}

// Validate returns the capability decision for a session at time now: true
// only if the session exists, has not been revoked, has not expired, and
// was issued for exactly the requested scope. It never mutates state;
// expiry is evaluated lazily here, there is no background timer.
func (m *Manager) Validate(handle uuid.UUID, scope hashing.Digest, now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[handle]
	if !ok || s.revoked {
		return false
	}
	if s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
		return false
	}
	return s.TargetScope == scope
}

// Revoke transitions a session to Revoked. Only the original owner may
// revoke, proven by a signature over the revocation message. Revoking an
// already-revoked session is not an error.
func (m *Manager) Revoke(handle uuid.UUID, owner ed25519.PublicKey, sig []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[handle]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, handle)
	}
	if !bytes.Equal(s.Owner, owner) || !ed25519.Verify(owner, RevocationMessage(handle), sig) {
		return fmt.Errorf("%w: revocation must be signed by the session owner", ErrUnauthorizedSession)
	}
	if s.revoked {
		return nil
	}
	s.revoked = true
	m.logger.Info("session revoked", zap.String("handle", handle.String()))
	return nil
}

// Get returns a copy of the session for diagnostics, plus whether it exists.
func (m *Manager) Get(handle uuid.UUID) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[handle]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Len returns the number of sessions ever created and not yet dropped.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Revoked reports whether the session exists and has been revoked.
func (m *Manager) Revoked(handle uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[handle]
	return ok && s.revoked
}
