package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Operator scopes. A token carries them space-separated in "scope".
const (
	ScopeSessionsRead   = "sessions:read"
	ScopeSessionsExpire = "sessions:expire"
)

// AllScopes is every scope the administrative surface checks.
var AllScopes = []string{ScopeSessionsRead, ScopeSessionsExpire}

// Claims identify an operator on the administrative surface and what the
// operator may do there.
type Claims struct {
	Operator string `json:"sub"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

func (c *Claims) Scopes() []string { return strings.Fields(c.Scope) }

func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes(), scope)
}

type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

func DefaultTokenConfig(secret string) TokenConfig {
	return TokenConfig{
		Secret: secret,
		Expiry: time.Hour,
		Issuer: "oobind",
	}
}

// CreateToken mints an HS256 admin token for operator limited to scopes.
func CreateToken(operator string, scopes []string, cfg TokenConfig) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("missing secret")
	}
	if operator == "" {
		return "", errors.New("missing operator")
	}
	if cfg.Expiry <= 0 {
		return "", errors.New("invalid expiry")
	}
	if len(scopes) == 0 {
		return "", errors.New("missing scope")
	}
	for _, scope := range scopes {
		if !slices.Contains(AllScopes, scope) {
			return "", fmt.Errorf("unknown scope %q", scope)
		}
	}

	jtiBytes := make([]byte, 16)
	if _, err := rand.Read(jtiBytes); err != nil {
		return "", err
	}

	now := time.Now()
	claims := Claims{
		Operator: operator,
		Scope:    strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Expiry)),
			ID:        hex.EncodeToString(jtiBytes),
			Subject:   operator,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

func VerifyToken(tokenString string, cfg TokenConfig) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("missing secret")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithIssuer(cfg.Issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}
