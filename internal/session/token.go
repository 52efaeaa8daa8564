package session

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the JWT claims embedded in a session token. The token is
// a transport convenience for HTTP callers; the session table remains the
// source of truth, so a token is useless once its session is revoked.
type TokenClaims struct {
	jwt.RegisteredClaims
	Owner  string `json:"gpl:owner"`
	Signer string `json:"gpl:signer"`
	Scope  string `json:"gpl:scope"`
}

// TokenIssuer signs session tokens with the service's ed25519 key (EdDSA).
type TokenIssuer struct {
	key    ed25519.PrivateKey
	pub    ed25519.PublicKey
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
// issuer is the "iss" claim value, typically the service's base URL. ttl is
// the fallback token lifetime for sessions with no expiry (default 1 hour).
func NewTokenIssuer(key ed25519.PrivateKey, issuer string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{
		key:    key,
		pub:    key.Public().(ed25519.PublicKey),
		issuer: issuer,
		ttl:    ttl,
	}
}

// Issue creates a signed token for s. The token expiry mirrors the
// session's own expiry when set, and otherwise falls back to the issuer's
// configured ttl.
func (t *TokenIssuer) Issue(s *Session) (string, error) {
	now := time.Now().UTC()
	exp := now.Add(t.ttl)
	if s.ExpiresAt != nil {
		exp = *s.ExpiresAt
	}

	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   hex.EncodeToString(s.Owner),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        s.Handle.String(),
		},
		Owner:  hex.EncodeToString(s.Owner),
		Signer: hex.EncodeToString(s.Signer),
		Scope:  s.TargetScope.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&TokenClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.pub, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify session token: %w", err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token claims")
	}
	return claims, nil
}

// PublicKey returns the verification key for issued tokens.
func (t *TokenIssuer) PublicKey() ed25519.PublicKey { return t.pub }
