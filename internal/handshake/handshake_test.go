package handshake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oobind/internal/pairing"
)

func TestNegotiate_OriginNotAllowed(t *testing.T) {
	n := New(NewAllowList([]string{"https://bank.example"}), []string{"Ed25519"}, pairing.DefaultSpec(2))

	resp := n.Negotiate(Request{Algorithms: []string{"Ed25519"}, RequestingOrigin: "https://evil.example"})

	assert.Equal(t, "rejected", resp.Type)
	assert.Equal(t, []string{ReasonOriginNotAllowed}, resp.Reasons)
	assert.Nil(t, resp.PairingCodeSpecification)
}

func TestNegotiate_AcceptsAllowedOrigin(t *testing.T) {
	n := New(NewAllowList([]string{"https://bank.example/"}), []string{"Ed25519"}, pairing.DefaultSpec(2))

	resp := n.Negotiate(Request{Algorithms: []string{"P-256", "Ed25519"}, RequestingOrigin: "https://bank.example"})

	require.True(t, resp.Accepted())
	assert.Equal(t, "Ed25519", resp.Algorithm)
	require.NotNil(t, resp.PairingCodeSpecification)
	assert.Equal(t, "enabled", resp.PairingCodeSpecification.Type)
	assert.Equal(t, 2, resp.PairingCodeSpecification.Length)
	assert.Len(t, resp.PairingCodeSpecification.Characters, 10)
}

func TestNegotiate_CollectsAllReasons(t *testing.T) {
	n := New(NewAllowList(nil), []string{"Ed25519"}, pairing.DefaultSpec(2))

	resp := n.Negotiate(Request{Algorithms: []string{"RSA"}})

	assert.Equal(t, []string{ReasonOriginNotAllowed, ReasonNoCompatibleAlgorithm}, resp.Reasons)
}

func TestNegotiate_AnyOriginRejectsOnlyOnAlgorithm(t *testing.T) {
	n := New(AnyOrigin{}, []string{"Ed25519"}, pairing.DefaultSpec(2))

	assert.True(t, n.Negotiate(Request{Algorithms: []string{"Ed25519"}, RequestingOrigin: "https://anything.example"}).Accepted())

	resp := n.Negotiate(Request{})
	assert.Equal(t, []string{ReasonNoCompatibleAlgorithm}, resp.Reasons)
}

func TestNegotiate_DisabledPairingSpec(t *testing.T) {
	n := New(AnyOrigin{}, []string{"Ed25519"}, pairing.Spec{Enabled: false})

	resp := n.Negotiate(Request{Algorithms: []string{"Ed25519"}})

	require.NotNil(t, resp.PairingCodeSpecification)
	assert.Equal(t, "disabled", resp.PairingCodeSpecification.Type)
}
