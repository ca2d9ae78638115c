// Package handshake negotiates the signature algorithm and pairing code
// specification with a browser agent and applies the deployment's origin
// policy. It keeps no state.
package handshake

import (
	"oobind/internal/pairing"
)

// Rejection reasons.
const (
	ReasonOriginNotAllowed      = "origin_not_allowed"
	ReasonNoCompatibleAlgorithm = "no_compatible_algorithm"
)

type Request struct {
	Algorithms       []string `json:"algorithms"`
	RequestingOrigin string   `json:"requesting_origin,omitempty"`
}

// PairingCodeSpecification is the wire form of pairing.Spec.
type PairingCodeSpecification struct {
	Type       string   `json:"type"`
	Characters []string `json:"characters,omitempty"`
	Length     int      `json:"length,omitempty"`
}

type Response struct {
	Type                     string                    `json:"type"`
	Algorithm                string                    `json:"algorithm,omitempty"`
	PairingCodeSpecification *PairingCodeSpecification `json:"pairing_code_specification,omitempty"`
	Reasons                  []string                  `json:"reasons,omitempty"`
}

func (r Response) Accepted() bool { return r.Type == "accepted" }

type Negotiator struct {
	policy     OriginPolicy
	algorithms []string
	spec       pairing.Spec
}

// New returns a negotiator that accepts the given algorithms, in server
// preference order, under policy.
func New(policy OriginPolicy, algorithms []string, spec pairing.Spec) *Negotiator {
	return &Negotiator{policy: policy, algorithms: algorithms, spec: spec}
}

// Negotiate evaluates req. Every failing check contributes a reason so the
// agent can report all of them at once.
func (n *Negotiator) Negotiate(req Request) Response {
	var reasons []string

	if !n.policy.Allows(req.RequestingOrigin) {
		reasons = append(reasons, ReasonOriginNotAllowed)
	}

	selected := SelectAlgorithm(n.algorithms, req.Algorithms)
	if selected == "" {
		reasons = append(reasons, ReasonNoCompatibleAlgorithm)
	}

	if len(reasons) > 0 {
		return Response{Type: "rejected", Reasons: reasons}
	}

	return Response{
		Type:                     "accepted",
		Algorithm:                selected,
		PairingCodeSpecification: SpecificationOf(n.spec),
	}
}

// SelectAlgorithm returns the first offered algorithm that is supported, or
// "" when there is none.
func SelectAlgorithm(supported, offered []string) string {
	for _, alg := range offered {
		for _, s := range supported {
			if alg == s {
				return alg
			}
		}
	}
	return ""
}

func SpecificationOf(spec pairing.Spec) *PairingCodeSpecification {
	if !spec.Enabled {
		return &PairingCodeSpecification{Type: "disabled"}
	}
	return &PairingCodeSpecification{
		Type:       "enabled",
		Characters: spec.Characters,
		Length:     spec.Length,
	}
}
