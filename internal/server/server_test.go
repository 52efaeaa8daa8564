package server_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onsol-labs/gpl/internal/authority"
	"github.com/onsol-labs/gpl/internal/hashing"
	"github.com/onsol-labs/gpl/internal/leaf"
	"github.com/onsol-labs/gpl/internal/server"
	"github.com/onsol-labs/gpl/internal/session"
	"github.com/onsol-labs/gpl/internal/syncer"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	store := authority.NewMemoryStore()
	sync := syncer.New(store, logger)
	sessions := session.NewManager(logger)

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate issuer key: %v", err)
	}
	issuer := session.NewTokenIssuer(key, "https://gpl.test", time.Hour)

	return server.NewRouter(server.Config{}, store, sync, sessions, issuer, logger)
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestCreateTree_201(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/trees", gin.H{
		"max_depth":       3,
		"max_buffer_size": 8,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	resp := decode(t, w)
	if len(resp["tree_id"].(string)) != 64 {
		t.Errorf("tree_id is not 32 bytes of hex: %v", resp["tree_id"])
	}
	if len(resp["config_address"].(string)) != 64 {
		t.Errorf("config_address is not 32 bytes of hex: %v", resp["config_address"])
	}
}

func TestCreateTree_BadParams(t *testing.T) {
	router := setupRouter(t)

	cases := []gin.H{
		{"max_depth": 0, "max_buffer_size": 8},
		{"max_depth": 31, "max_buffer_size": 8},
		{"max_depth": 3, "max_buffer_size": 7},
	}
	for _, body := range cases {
		w := doJSON(t, router, http.MethodPost, "/v1/trees", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %v: expected 400, got %d: %s", body, w.Code, w.Body.String())
		}
	}
}

func TestAppendLeaf_RootMatchesReference(t *testing.T) {
	router := setupRouter(t)

	treeID := hashing.Sum([]byte("handler-test-tree"))
	w := doJSON(t, router, http.MethodPost, "/v1/trees", gin.H{
		"tree_id":         treeID.String(),
		"max_depth":       3,
		"max_buffer_size": 8,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create tree: %d: %s", w.Code, w.Body.String())
	}

	seed := []byte("seedA")
	payload := []byte(`{"value":42}`)
	w = doJSON(t, router, http.MethodPost, "/v1/trees/"+treeID.String()+"/leaves", gin.H{
		"index":   0,
		"seed":    seed,
		"payload": payload,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("append leaf: %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)

	// The served root must match a locally built reference tree holding
	// only the expected leaf digest.
	built := leaf.Build(treeID, seed, payload)
	leafResp := resp["leaf"].(map[string]any)
	if leafResp["digest"] != built.Digest.String() {
		t.Errorf("leaf digest = %v, want %s", leafResp["digest"], built.Digest)
	}

	level := make([]hashing.Digest, 8)
	level[0] = built.Digest
	for len(level) > 1 {
		next := make([]hashing.Digest, len(level)/2)
		for i := range next {
			next[i] = hashing.Pair(level[2*i], level[2*i+1])
		}
		level = next
	}
	if resp["root"] != level[0].String() {
		t.Errorf("root = %v, want %s", resp["root"], level[0])
	}

	// Post-append checkpoint: both copies agree.
	w = doJSON(t, router, http.MethodGet, "/v1/trees/"+treeID.String()+"/consistency", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("consistency: %d: %s", w.Code, w.Body.String())
	}
	check := decode(t, w)
	if check["match"] != true {
		t.Errorf("expected match=true, got %v", w.Body.String())
	}
	if check["authoritative_root"] != check["mirror_root"] {
		t.Errorf("roots differ in consistency response: %s", w.Body.String())
	}
}

func TestAppendLeaf_IndexOutOfRange(t *testing.T) {
	router := setupRouter(t)

	treeID := hashing.Sum([]byte("small-tree"))
	w := doJSON(t, router, http.MethodPost, "/v1/trees", gin.H{
		"tree_id":         treeID.String(),
		"max_depth":       3,
		"max_buffer_size": 8,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create tree: %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/v1/trees/"+treeID.String()+"/leaves", gin.H{
		"index":   8,
		"seed":    []byte("s"),
		"payload": []byte("p"),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for index beyond capacity, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAppendLeaf_UnknownTree(t *testing.T) {
	router := setupRouter(t)
	unknown := hashing.Sum([]byte("never-created"))

	w := doJSON(t, router, http.MethodPost, "/v1/trees/"+unknown.String()+"/leaves", gin.H{
		"index":   0,
		"seed":    []byte("s"),
		"payload": []byte("p"),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func sessionKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey, ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	ownerPub, ownerPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signerPub, signerPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return ownerPub, ownerPriv, signerPub, signerPriv
}

func TestSessionLifecycle(t *testing.T) {
	router := setupRouter(t)
	ownerPub, ownerPriv, signerPub, signerPriv := sessionKeys(t)
	scope := hashing.Sum([]byte("scope-program"))

	msg := session.CreationMessage(ownerPub, signerPub, scope, nil)
	w := doJSON(t, router, http.MethodPost, "/v1/sessions", gin.H{
		"owner":                   hex.EncodeToString(ownerPub),
		"signer":                  hex.EncodeToString(signerPub),
		"target_scope":            scope.String(),
		"require_owner_signature": true,
		"owner_sig":               hex.EncodeToString(ed25519.Sign(ownerPriv, msg)),
		"signer_sig":              hex.EncodeToString(ed25519.Sign(signerPriv, msg)),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	handle := resp["handle"].(string)
	if resp["token"] == nil {
		t.Error("expected a session token in the response")
	}

	validateURL := fmt.Sprintf("/v1/sessions/%s/validate?scope=%s", handle, scope)
	w = doJSON(t, router, http.MethodGet, validateURL, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("validate: %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["valid"] != true {
		t.Error("fresh session must validate")
	}

	// Wrong scope.
	otherScope := hashing.Sum([]byte("other"))
	w = doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/v1/sessions/%s/validate?scope=%s", handle, otherScope), nil)
	if decode(t, w)["valid"] != false {
		t.Error("session must not validate for another scope")
	}

	// Revoke, then validate again.
	handleID, err := uuid.Parse(handle)
	if err != nil {
		t.Fatalf("bad handle %q: %v", handle, err)
	}
	w = doJSON(t, router, http.MethodPost, "/v1/sessions/"+handle+"/revoke", gin.H{
		"owner": hex.EncodeToString(ownerPub),
		"sig":   hex.EncodeToString(ed25519.Sign(ownerPriv, session.RevocationMessage(handleID))),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("revoke: %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, validateURL, nil)
	if decode(t, w)["valid"] != false {
		t.Error("revoked session must not validate")
	}
}

func TestSessionCreate_MissingOwnerSignature_401(t *testing.T) {
	router := setupRouter(t)
	ownerPub, _, signerPub, signerPriv := sessionKeys(t)
	scope := hashing.Sum([]byte("scope-program"))

	msg := session.CreationMessage(ownerPub, signerPub, scope, nil)
	w := doJSON(t, router, http.MethodPost, "/v1/sessions", gin.H{
		"owner":                   hex.EncodeToString(ownerPub),
		"signer":                  hex.EncodeToString(signerPub),
		"target_scope":            scope.String(),
		"require_owner_signature": true,
		"signer_sig":              hex.EncodeToString(ed25519.Sign(signerPriv, msg)),
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSessionValidate_Unknown_404(t *testing.T) {
	router := setupRouter(t)
	scope := hashing.Sum([]byte("scope"))

	w := doJSON(t, router, http.MethodGet,
		"/v1/sessions/00000000-0000-0000-0000-000000000000/validate?scope="+scope.String(), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d: %s", w.Code, w.Body.String())
	}
}

