package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"oobind/internal/auth"
	"oobind/internal/ceremony"
	"oobind/internal/config"
	"oobind/internal/handshake"
	"oobind/internal/model"
	"oobind/internal/pairing"
)

const testSecret = "secret"

type acceptAll struct{}

func (acceptAll) VerifyIdentityProof(context.Context, string, json.RawMessage) error { return nil }

func testConfig(mode string) config.Config {
	cfg, err := config.LoadConfigFromEnv(map[string]string{
		"ADMIN_SECRET":    testSecret,
		"BIND_MODE":       mode,
		"ALLOWED_ORIGINS": "https://bank.example",
		"PUBLIC_URL":      "http://relay.test",
	})
	if err != nil {
		panic(err)
	}
	return cfg
}

// serviceDeps wires a service-mode router whose identity proofs always
// verify.
func serviceDeps(t *testing.T, reportCompromised bool) Deps {
	t.Helper()
	cfg := testConfig(config.ModeService)
	cfg.ReportCompromised = reportCompromised
	spec := pairing.DefaultSpec(cfg.PairingCodeLength)
	return Deps{
		Config: cfg,
		Ceremony: ceremony.New(ceremony.Options{
			Codes:            pairing.NewGenerator(spec),
			Stager:           ceremony.IdentityStager{Verifier: acceptAll{}},
			SignatureMaxSkew: cfg.SignatureMaxSkew,
		}),
		Negotiator:  handshake.New(handshake.NewAllowList(cfg.AllowedOrigins), []string{auth.AlgorithmEd25519}, spec),
		TokenConfig: auth.DefaultTokenConfig(testSecret),
	}
}

func relayDeps(t *testing.T) Deps {
	t.Helper()
	deps, err := NewDeps(testConfig(config.ModeRelay), nil)
	if err != nil {
		t.Fatalf("NewDeps: %v", err)
	}
	return deps
}

type keyPair struct {
	pub  model.PublicKey
	priv ed25519.PrivateKey
}

func newKeyPair(t *testing.T) keyPair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return keyPair{
		pub:  model.PublicKey{Algorithm: auth.AlgorithmEd25519, Key: base64.StdEncoding.EncodeToString(pub)},
		priv: priv,
	}
}

func (k keyPair) sign(message []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(k.priv, message))
}

// completeBody signs a complete request for sessionID and code.
func (k keyPair) completeBody(sessionID, code string) map[string]any {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	return map[string]any{
		"session_id":   sessionID,
		"pairing_code": code,
		"timestamp":    ts,
		"signature":    k.sign(auth.SessionMessage(sessionID, code, ts)),
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, header ...string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
		}
	}
	return w.Code, resp
}

func initialize(t *testing.T, r *gin.Engine, key keyPair) string {
	t.Helper()
	code, resp := doJSON(t, r, http.MethodPost, "/bind/initialize", map[string]any{"public_key": key.pub})
	if code != http.StatusOK || resp["status"] != "initialized" {
		t.Fatalf("initialize: %d %v", code, resp)
	}
	id, _ := resp["session_id"].(string)
	if id == "" {
		t.Fatalf("missing session_id: %v", resp)
	}
	return id
}

func negotiate(t *testing.T, r *gin.Engine, id, username string) map[string]any {
	t.Helper()
	code, resp := doJSON(t, r, http.MethodPost, "/bind/negotiate", map[string]any{
		"session_id":        id,
		"username":          username,
		"assertionResponse": map[string]any{"id": "cred"},
	})
	if code != http.StatusOK {
		t.Fatalf("negotiate: %d %v", code, resp)
	}
	return resp
}

func adminToken(t *testing.T) string {
	t.Helper()
	tok, err := auth.CreateToken("ops", auth.AllScopes, auth.DefaultTokenConfig(testSecret))
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	return tok
}
