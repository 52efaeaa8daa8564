// Package client provides the GPL Go SDK for creating and inspecting
// mirrored trees, appending leaves, and managing delegated-signing sessions
// against a gpld service.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TreeResult holds the identifiers of a newly created tree.
type TreeResult struct {
	TreeID        string `json:"tree_id"`
	ConfigAddress string `json:"config_address"`
	Root          string `json:"root"`
}

// LeafDetail holds the digests computed while encoding a leaf.
type LeafDetail struct {
	ID            string `json:"id"`
	SeedDigest    string `json:"seed_digest"`
	PayloadDigest string `json:"payload_digest"`
	Digest        string `json:"digest"`
}

// AppendResult is the outcome of an append call.
type AppendResult struct {
	Leaf  LeafDetail `json:"leaf"`
	Index uint64     `json:"index"`
	Seq   uint64     `json:"seq"`
	Root  string     `json:"root"`
}

// ConsistencyResult carries both roots of a consistency check so that a
// mismatch can be diagnosed without another round trip.
type ConsistencyResult struct {
	Match             bool   `json:"match"`
	AuthoritativeRoot string `json:"authoritative_root"`
	MirrorRoot        string `json:"mirror_root"`
}

// SessionResult holds the handle and optional token of a created session.
type SessionResult struct {
	Handle    string `json:"handle"`
	Signer    string `json:"signer"`
	Scope     string `json:"scope"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Token     string `json:"token,omitempty"`
}

// CreateSessionRequest is the payload for CreateSession. Keys and
// signatures are raw bytes; the client hex-encodes them on the wire.
type CreateSessionRequest struct {
	Owner                 ed25519.PublicKey
	Signer                ed25519.PublicKey
	TargetScope           string
	RequireOwnerSignature bool
	ExpiresAt             *time.Time
	OwnerSig              []byte
	SignerSig             []byte
}

// Client is the GPL SDK entry point.
type Client struct {
	base       string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client for the gpld service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:       strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateTree creates a tree. treeID may be empty to let the service pick a
// random id.
func (c *Client) CreateTree(ctx context.Context, treeID string, maxDepth, maxBufferSize uint) (*TreeResult, error) {
	body := map[string]any{
		"max_depth":       maxDepth,
		"max_buffer_size": maxBufferSize,
	}
	if treeID != "" {
		body["tree_id"] = treeID
	}
	var out TreeResult
	if err := c.do(ctx, http.MethodPost, "/v1/trees", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Root returns the authoritative root of a tree.
func (c *Client) Root(ctx context.Context, treeID string) (string, error) {
	var out struct {
		Root string `json:"root"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/trees/"+treeID+"/root", nil, &out); err != nil {
		return "", err
	}
	return out.Root, nil
}

// AppendLeaf builds and writes the leaf for (seed, payload) at index.
// payload must be the entity's canonical serialized bytes.
func (c *Client) AppendLeaf(ctx context.Context, treeID string, index uint64, seed, payload []byte) (*AppendResult, error) {
	body := map[string]any{
		"index":   index,
		"seed":    seed,
		"payload": payload,
	}
	var out AppendResult
	if err := c.do(ctx, http.MethodPost, "/v1/trees/"+treeID+"/leaves", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckConsistency compares the authoritative root against the mirror root.
func (c *Client) CheckConsistency(ctx context.Context, treeID string) (*ConsistencyResult, error) {
	var out ConsistencyResult
	if err := c.do(ctx, http.MethodGet, "/v1/trees/"+treeID+"/consistency", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSession creates a delegated-signing session.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionResult, error) {
	body := map[string]any{
		"owner":                   hex.EncodeToString(req.Owner),
		"signer":                  hex.EncodeToString(req.Signer),
		"target_scope":            req.TargetScope,
		"require_owner_signature": req.RequireOwnerSignature,
		"signer_sig":              hex.EncodeToString(req.SignerSig),
	}
	if len(req.OwnerSig) > 0 {
		body["owner_sig"] = hex.EncodeToString(req.OwnerSig)
	}
	if req.ExpiresAt != nil {
		body["expires_at"] = req.ExpiresAt.UTC().Format(time.RFC3339)
	}
	var out SessionResult
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateSession asks whether a session is currently valid for scope.
func (c *Client) ValidateSession(ctx context.Context, handle, scope string) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	path := fmt.Sprintf("/v1/sessions/%s/validate?scope=%s", handle, scope)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

// RevokeSession revokes a session with the owner's signature over the
// revocation message.
func (c *Client) RevokeSession(ctx context.Context, handle string, owner ed25519.PublicKey, sig []byte) error {
	body := map[string]any{
		"owner": hex.EncodeToString(owner),
		"sig":   hex.EncodeToString(sig),
	}
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+handle+"/revoke", body, nil)
}

// do performs one JSON request/response round trip.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
