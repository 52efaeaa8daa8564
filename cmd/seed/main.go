// cmd/seed populates a running gpld service with demo data: one tree with a
// handful of content-addressed leaves, plus a co-signed session scoped to the
// tree's config address. Useful for local development and smoke testing.
//
// Usage:
//
//	SERVICE_URL=http://localhost:8080 go run ./cmd/seed
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/onsol-labs/gpl/internal/hashing"
	"github.com/onsol-labs/gpl/internal/session"
	"github.com/onsol-labs/gpl/pkg/client"
)

type demoEntity struct {
	seed    string
	payload string
}

var demoEntities = []demoEntity{
	{"profile:alice", `{"name":"alice","role":"maintainer"}`},
	{"profile:bob", `{"name":"bob","role":"reviewer"}`},
	{"profile:carol", `{"name":"carol","role":"contributor"}`},
	{"badge:early-adopter", `{"kind":"badge","issued":"2026-01-15"}`},
	{"badge:verified", `{"kind":"badge","issued":"2026-03-02"}`},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	serviceURL := os.Getenv("SERVICE_URL")
	if serviceURL == "" {
		serviceURL = "http://localhost:8080"
	}
	ctx := context.Background()
	c := client.New(serviceURL)

	tree, err := c.CreateTree(ctx, "", 5, 8)
	if err != nil {
		return fmt.Errorf("create tree: %w", err)
	}
	fmt.Println("created tree", tree.TreeID)

	for i, e := range demoEntities {
		res, err := c.AppendLeaf(ctx, tree.TreeID, uint64(i), []byte(e.seed), []byte(e.payload))
		if err != nil {
			return fmt.Errorf("append %s: %w", e.seed, err)
		}
		fmt.Printf("  leaf %d  %s  id=%s\n", i, e.seed, res.Leaf.ID)
	}

	check, err := c.CheckConsistency(ctx, tree.TreeID)
	if err != nil {
		return fmt.Errorf("consistency check: %w", err)
	}
	if !check.Match {
		return fmt.Errorf("roots diverged after seeding: authoritative=%s mirror=%s",
			check.AuthoritativeRoot, check.MirrorRoot)
	}
	fmt.Println("roots match:", check.AuthoritativeRoot)

	handle, err := seedSession(ctx, c, tree.ConfigAddress)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	fmt.Println("created session", handle)
	return nil
}

// seedSession creates a co-signed one-hour session scoped to the tree's
// config address, with throwaway owner and signer keys.
func seedSession(ctx context.Context, c *client.Client, scopeHex string) (string, error) {
	ownerPub, ownerPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", err
	}
	signerPub, signerPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", err
	}

	scope, err := hashing.Parse(scopeHex)
	if err != nil {
		return "", err
	}
	expiresAt := time.Now().Add(time.Hour).UTC()

	msg := session.CreationMessage(ownerPub, signerPub, scope, &expiresAt)
	res, err := c.CreateSession(ctx, client.CreateSessionRequest{
		Owner:                 ownerPub,
		Signer:                signerPub,
		TargetScope:           scope.String(),
		RequireOwnerSignature: true,
		ExpiresAt:             &expiresAt,
		OwnerSig:              ed25519.Sign(ownerPriv, msg),
		SignerSig:             ed25519.Sign(signerPriv, msg),
	})
	if err != nil {
		return "", err
	}
	fmt.Println("  owner key:  ", hex.EncodeToString(ownerPriv.Seed()))
	fmt.Println("  session key:", hex.EncodeToString(signerPriv.Seed()))
	return res.Handle, nil
}
