package auth

import (
	"testing"
	"time"
)

func TestCreateAndVerifyToken(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("ops", AllScopes, cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	claims, err := VerifyToken(tok, cfg)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Operator != "ops" {
		t.Fatalf("expected ops, got %q", claims.Operator)
	}
	if !claims.HasScope(ScopeSessionsRead) || !claims.HasScope(ScopeSessionsExpire) {
		t.Fatalf("expected both scopes, got %q", claims.Scope)
	}
}

func TestCreateToken_LimitsScopes(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("viewer", []string{ScopeSessionsRead}, cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	claims, err := VerifyToken(tok, cfg)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if !claims.HasScope(ScopeSessionsRead) || claims.HasScope(ScopeSessionsExpire) {
		t.Fatalf("unexpected scopes %q", claims.Scope)
	}
}

func TestCreateToken_RejectsBadScopes(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	if _, err := CreateToken("ops", nil, cfg); err == nil {
		t.Fatalf("expected missing scope to fail")
	}
	if _, err := CreateToken("ops", []string{"sessions:delete"}, cfg); err == nil {
		t.Fatalf("expected unknown scope to fail")
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("ops", AllScopes, cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	_, err = VerifyToken(tok, TokenConfig{Secret: "wrong", Expiry: time.Hour, Issuer: "test"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestVerifyToken_WrongIssuer(t *testing.T) {
	tok, err := CreateToken("ops", AllScopes, TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "other"})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if _, err := VerifyToken(tok, TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}); err == nil {
		t.Fatalf("expected issuer mismatch to fail")
	}
}

func TestCreateToken_InvalidExpiry(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: -time.Second, Issuer: "test"}
	_, err := CreateToken("ops", AllScopes, cfg)
	if err == nil {
		t.Fatalf("expected error")
	}
}
