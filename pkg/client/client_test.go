package client

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreateTree(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/trees" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["max_depth"].(float64) != 3 {
			t.Errorf("max_depth = %v, want 3", body["max_depth"])
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck
			"tree_id":        strings.Repeat("ab", 32),
			"config_address": strings.Repeat("cd", 32),
			"root":           strings.Repeat("00", 32),
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.CreateTree(context.Background(), "", 3, 8)
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if res.TreeID != strings.Repeat("ab", 32) {
		t.Errorf("TreeID = %s", res.TreeID)
	}
}

func TestAppendLeaf_SendsBase64Bytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Index   uint64 `json:"index"`
			Seed    []byte `json:"seed"`
			Payload []byte `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if string(body.Seed) != "seedA" || string(body.Payload) != "payload" {
			t.Errorf("seed/payload not transported as bytes: %q %q", body.Seed, body.Payload)
		}
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"index": body.Index,
			"seq":   1,
			"root":  strings.Repeat("ee", 32),
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.AppendLeaf(context.Background(), strings.Repeat("ab", 32), 2, []byte("seedA"), []byte("payload"))
	if err != nil {
		t.Fatalf("AppendLeaf: %v", err)
	}
	if res.Index != 2 || res.Seq != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestErrorResponsesSurfaceMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "leaf index out of range"}) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.AppendLeaf(context.Background(), strings.Repeat("ab", 32), 99, []byte("s"), []byte("p"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "leaf index out of range") {
		t.Errorf("error does not surface server message: %v", err)
	}
}

func TestValidateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("scope") == "" {
			t.Error("scope query parameter missing")
		}
		json.NewEncoder(w).Encode(map[string]bool{"valid": true}) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL)
	valid, err := c.ValidateSession(context.Background(), "handle", strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if !valid {
		t.Error("expected valid=true")
	}
}

func TestRevokeSession(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/revoke") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["owner"] == "" || body["sig"] == "" {
			t.Error("owner or sig missing from revoke payload")
		}
		json.NewEncoder(w).Encode(map[string]bool{"revoked": true}) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL)
	sig := ed25519.Sign(priv, []byte("revocation"))
	if err := c.RevokeSession(context.Background(), "handle", pub, sig); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
}
