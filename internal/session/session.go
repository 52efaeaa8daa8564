// Package session issues and validates ephemeral delegated-signing
// credentials. A session binds a short-lived ed25519 key to an owner and a
// single target scope so the session key can act for the owner without the
// owner's long-term key ever leaving their custody. Sessions expire lazily
// and can be revoked by their owner at any time.
package session

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/onsol-labs/gpl/internal/hashing"
)

// ErrUnauthorizedSession is returned when a required signature is missing
// or invalid, or when a revocation is attempted by anyone but the owner.
// No partial session state is ever left behind.
var ErrUnauthorizedSession = errors.New("session request not authorized")

// ErrSessionNotFound is returned for operations on an unknown handle.
var ErrSessionNotFound = errors.New("session not found")

// creationPrefix domain-separates session creation messages from any other
// signed bytes in the system. Part of the wire format.
const creationPrefix = "gpl:session:v1"

// Session is an issued delegated-signing credential. The zero ExpiresAt
// means the session never expires on its own.
type Session struct {
	Handle      uuid.UUID
	Owner       ed25519.PublicKey
	Signer      ed25519.PublicKey
	TargetScope hashing.Digest
	CreatedAt   time.Time
	ExpiresAt   *time.Time

	revoked bool
}

// CreateRequest carries everything needed to authorize a new session.
//
// SignerSig must always be a valid signature by Signer over the canonical
// creation message; it proves the requester controls the ephemeral key.
// OwnerSig is checked only when RequireOwnerSignature is set; together the
// two signatures form the two-party authorization that stops a holder of
// the ephemeral key alone from self-authorizing.
type CreateRequest struct {
	Owner                 ed25519.PublicKey
	Signer                ed25519.PublicKey
	TargetScope           hashing.Digest
	RequireOwnerSignature bool
	ExpiresAt             *time.Time

	OwnerSig  []byte
	SignerSig []byte
}

// CreationMessage returns the canonical byte string both parties sign to
// authorize the session described by req. The expiry is encoded as a
// big-endian unix timestamp, zero when unset.
func CreationMessage(owner, signer ed25519.PublicKey, scope hashing.Digest, expiresAt *time.Time) []byte {
	var exp [8]byte
	if expiresAt != nil {
		binary.BigEndian.PutUint64(exp[:], uint64(expiresAt.Unix())) //nolint:gosec // post-1970 timestamps
	}

	msg := make([]byte, 0, len(creationPrefix)+2*ed25519.PublicKeySize+hashing.Size+8)
	msg = append(msg, creationPrefix...)
	msg = append(msg, owner...)
	msg = append(msg, signer...)
	msg = append(msg, scope[:]...)
	msg = append(msg, exp[:]...)
	return msg
}

// RevocationMessage returns the canonical byte string an owner signs to
// revoke the session with the given handle.
func RevocationMessage(handle uuid.UUID) []byte {
	return append([]byte("gpl:session-revoke:v1"), handle[:]...)
}
