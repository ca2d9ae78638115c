// Package passkey verifies the companion's out-of-band identity proof with
// WebAuthn. Users, credentials and pending challenges live in memory.
package passkey

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"oobind/internal/protoerr"
)

type Config struct {
	RPID          string
	RPOrigins     []string
	RPDisplayName string
}

// Provider is the subset of *webauthn.WebAuthn the verifier drives.
type Provider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

type Parser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

type challengeKind int

const (
	kindRegistration challengeKind = iota
	kindLogin
)

type challengeKey struct {
	kind     challengeKind
	username string
}

type Verifier struct {
	provider Provider
	parser   Parser

	mu         sync.Mutex
	users      map[string]*user
	challenges map[challengeKey]webauthn.SessionData
}

func New(cfg Config) (*Verifier, error) {
	w, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, err
	}
	return NewWithProvider(w, defaultParser{}), nil
}

func NewWithProvider(provider Provider, parser Parser) *Verifier {
	return &Verifier{
		provider:   provider,
		parser:     parser,
		users:      make(map[string]*user),
		challenges: make(map[challengeKey]webauthn.SessionData),
	}
}

// BeginRegistration issues creation options for a new user. A username that
// already holds a credential cannot be registered again.
func (v *Verifier) BeginRegistration(_ context.Context, username string) (*protocol.CredentialCreation, error) {
	username = normalize(username)
	if username == "" {
		return nil, protoerr.New(protoerr.CodeInvalidRequest, "username is required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	u, ok := v.users[username]
	if ok && len(u.credentials) > 0 {
		return nil, protoerr.New(protoerr.CodeUserExists, "user already registered")
	}
	if !ok {
		u = newUser(username)
		v.users[username] = u
	}

	options, session, err := v.provider.BeginRegistration(u,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementPreferred),
	)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.CodeInternal, "begin registration", err)
	}
	v.challenges[challengeKey{kindRegistration, username}] = *session
	return options, nil
}

// FinishRegistration verifies an attestation response against the pending
// registration challenge and stores the credential.
func (v *Verifier) FinishRegistration(_ context.Context, username string, response json.RawMessage) error {
	username = normalize(username)

	v.mu.Lock()
	defer v.mu.Unlock()

	key := challengeKey{kindRegistration, username}
	session, ok := v.challenges[key]
	u := v.users[username]
	if !ok || u == nil {
		return protoerr.New(protoerr.CodeVerificationFailed, "no registration challenge")
	}
	delete(v.challenges, key)

	parsed, err := v.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return protoerr.Wrap(protoerr.CodeVerificationFailed, "parse attestation", err)
	}
	credential, err := v.provider.CreateCredential(u, session, parsed)
	if err != nil {
		return protoerr.Wrap(protoerr.CodeVerificationFailed, "create credential", err)
	}
	u.credentials = append(u.credentials, *credential)
	return nil
}

// BeginLogin issues request options for a registered user. The challenge is
// consumed by VerifyIdentityProof.
func (v *Verifier) BeginLogin(_ context.Context, username string) (*protocol.CredentialAssertion, error) {
	username = normalize(username)

	v.mu.Lock()
	defer v.mu.Unlock()

	u, ok := v.users[username]
	if !ok || len(u.credentials) == 0 {
		return nil, protoerr.New(protoerr.CodeUnknownUser, "unknown user")
	}

	options, session, err := v.provider.BeginLogin(u)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.CodeInternal, "begin login", err)
	}
	v.challenges[challengeKey{kindLogin, username}] = *session
	return options, nil
}

// VerifyIdentityProof checks an assertion response against the user's
// pending login challenge. The challenge is single use whatever the outcome.
func (v *Verifier) VerifyIdentityProof(_ context.Context, username string, proof json.RawMessage) error {
	username = normalize(username)

	v.mu.Lock()
	defer v.mu.Unlock()

	u, ok := v.users[username]
	if !ok || len(u.credentials) == 0 {
		return protoerr.New(protoerr.CodeUnknownUser, "unknown user")
	}

	key := challengeKey{kindLogin, username}
	session, ok := v.challenges[key]
	if !ok {
		return protoerr.New(protoerr.CodeVerificationFailed, "no login challenge")
	}
	delete(v.challenges, key)

	parsed, err := v.parser.ParseCredentialRequestResponseBytes(proof)
	if err != nil {
		return protoerr.Wrap(protoerr.CodeVerificationFailed, "parse assertion", err)
	}
	credential, err := v.provider.ValidateLogin(u, session, parsed)
	if err != nil {
		return protoerr.Wrap(protoerr.CodeVerificationFailed, "validate assertion", err)
	}
	u.update(*credential)
	return nil
}

// normalize is applied to every username before it is used as a key, so
// all four ceremonies agree on who is meant.
func normalize(username string) string {
	return strings.TrimSpace(username)
}

type user struct {
	id          []byte
	name        string
	credentials []webauthn.Credential
}

func newUser(name string) *user {
	return &user{id: []byte(name), name: name}
}

func (u *user) WebAuthnID() []byte                         { return u.id }
func (u *user) WebAuthnName() string                       { return u.name }
func (u *user) WebAuthnDisplayName() string                { return u.name }
func (u *user) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// update replaces the stored copy of credential, keeping sign counters fresh.
func (u *user) update(credential webauthn.Credential) {
	for i := range u.credentials {
		if bytes.Equal(u.credentials[i].ID, credential.ID) {
			u.credentials[i] = credential
			return
		}
	}
}
