package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oobind/internal/protoerr"
)

type fakeProvider struct {
	createErr   error
	validateErr error
	logins      int
}

func (f *fakeProvider) BeginRegistration(user webauthn.User, _ ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	return &protocol.CredentialCreation{}, &webauthn.SessionData{Challenge: "reg", UserID: user.WebAuthnID()}, nil
}

func (f *fakeProvider) CreateCredential(webauthn.User, webauthn.SessionData, *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &webauthn.Credential{ID: []byte("cred-1")}, nil
}

func (f *fakeProvider) BeginLogin(user webauthn.User, _ ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	f.logins++
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{Challenge: "login", UserID: user.WebAuthnID()}, nil
}

func (f *fakeProvider) ValidateLogin(_ webauthn.User, session webauthn.SessionData, _ *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	if session.Challenge != "login" {
		return nil, errors.New("wrong challenge")
	}
	return &webauthn.Credential{ID: []byte("cred-1")}, nil
}

type fakeParser struct {
	fail bool
}

func (p fakeParser) ParseCredentialCreationResponseBytes([]byte) (*protocol.ParsedCredentialCreationData, error) {
	if p.fail {
		return nil, errors.New("bad attestation")
	}
	return &protocol.ParsedCredentialCreationData{}, nil
}

func (p fakeParser) ParseCredentialRequestResponseBytes([]byte) (*protocol.ParsedCredentialAssertionData, error) {
	if p.fail {
		return nil, errors.New("bad assertion")
	}
	return &protocol.ParsedCredentialAssertionData{}, nil
}

var anyResponse = json.RawMessage(`{"id":"cred-1"}`)

func registered(t *testing.T, v *Verifier, username string) {
	t.Helper()
	ctx := context.Background()
	_, err := v.BeginRegistration(ctx, username)
	require.NoError(t, err)
	require.NoError(t, v.FinishRegistration(ctx, username, anyResponse))
}

func TestRegistrationAndLogin(t *testing.T) {
	v := NewWithProvider(&fakeProvider{}, fakeParser{})
	ctx := context.Background()
	registered(t, v, "alice")

	_, err := v.BeginLogin(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, v.VerifyIdentityProof(ctx, "alice", anyResponse))
}

func TestBeginRegistration_UserExists(t *testing.T) {
	v := NewWithProvider(&fakeProvider{}, fakeParser{})
	registered(t, v, "alice")

	_, err := v.BeginRegistration(context.Background(), "alice")
	assert.True(t, protoerr.Is(err, protoerr.CodeUserExists))
}

func TestUsernamesIgnoreSurroundingSpace(t *testing.T) {
	v := NewWithProvider(&fakeProvider{}, fakeParser{})
	ctx := context.Background()

	_, err := v.BeginRegistration(ctx, "alice ")
	require.NoError(t, err)
	require.NoError(t, v.FinishRegistration(ctx, "alice ", anyResponse))

	_, err = v.BeginLogin(ctx, " alice")
	require.NoError(t, err)
	require.NoError(t, v.VerifyIdentityProof(ctx, "alice", anyResponse))

	_, err = v.BeginRegistration(ctx, "\talice\n")
	assert.True(t, protoerr.Is(err, protoerr.CodeUserExists))
}

func TestBeginRegistration_RequiresUsername(t *testing.T) {
	v := NewWithProvider(&fakeProvider{}, fakeParser{})

	_, err := v.BeginRegistration(context.Background(), "  ")
	assert.True(t, protoerr.Is(err, protoerr.CodeInvalidRequest))
}

func TestFinishRegistration_Failures(t *testing.T) {
	ctx := context.Background()

	v := NewWithProvider(&fakeProvider{}, fakeParser{})
	err := v.FinishRegistration(ctx, "nobody", anyResponse)
	assert.True(t, protoerr.Is(err, protoerr.CodeVerificationFailed))

	v = NewWithProvider(&fakeProvider{createErr: errors.New("bad")}, fakeParser{})
	_, err = v.BeginRegistration(ctx, "bob")
	require.NoError(t, err)
	err = v.FinishRegistration(ctx, "bob", anyResponse)
	assert.True(t, protoerr.Is(err, protoerr.CodeVerificationFailed))

	// failed registration leaves the name free
	_, err = v.BeginRegistration(ctx, "bob")
	assert.NoError(t, err)
}

func TestVerifyIdentityProof_UnknownUser(t *testing.T) {
	v := NewWithProvider(&fakeProvider{}, fakeParser{})

	_, err := v.BeginLogin(context.Background(), "ghost")
	assert.True(t, protoerr.Is(err, protoerr.CodeUnknownUser))

	err = v.VerifyIdentityProof(context.Background(), "ghost", anyResponse)
	assert.True(t, protoerr.Is(err, protoerr.CodeUnknownUser))
}

func TestVerifyIdentityProof_NoChallenge(t *testing.T) {
	v := NewWithProvider(&fakeProvider{}, fakeParser{})
	registered(t, v, "alice")

	err := v.VerifyIdentityProof(context.Background(), "alice", anyResponse)
	assert.True(t, protoerr.Is(err, protoerr.CodeVerificationFailed))
}

func TestVerifyIdentityProof_ChallengeIsSingleUse(t *testing.T) {
	v := NewWithProvider(&fakeProvider{}, fakeParser{})
	registered(t, v, "alice")
	ctx := context.Background()

	_, err := v.BeginLogin(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, v.VerifyIdentityProof(ctx, "alice", anyResponse))

	err = v.VerifyIdentityProof(ctx, "alice", anyResponse)
	assert.True(t, protoerr.Is(err, protoerr.CodeVerificationFailed))
}

func TestVerifyIdentityProof_InvalidAssertion(t *testing.T) {
	p := &fakeProvider{}
	v := NewWithProvider(p, fakeParser{})
	registered(t, v, "alice")
	ctx := context.Background()

	p.validateErr = errors.New("signature mismatch")
	_, err := v.BeginLogin(ctx, "alice")
	require.NoError(t, err)

	err = v.VerifyIdentityProof(ctx, "alice", anyResponse)
	assert.True(t, protoerr.Is(err, protoerr.CodeVerificationFailed))
}

func TestNew_BuildsWebAuthn(t *testing.T) {
	v, err := New(Config{RPID: "localhost", RPOrigins: []string{"http://localhost:3001"}, RPDisplayName: "Test"})
	require.NoError(t, err)

	_, err = v.BeginRegistration(context.Background(), "alice")
	assert.NoError(t, err)
}
