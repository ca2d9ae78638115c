// Package pairing generates and checks the short human-relayed code that
// links the browser leg of a ceremony to the companion leg.
package pairing

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"io"
	"math/big"
)

// Digits is the default pairing code alphabet.
var Digits = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

// Spec is the pairing code specification announced during the handshake.
type Spec struct {
	Enabled    bool
	Characters []string
	Length     int
}

// DefaultSpec returns an enabled decimal spec of the given length.
func DefaultSpec(length int) Spec {
	return Spec{Enabled: true, Characters: Digits, Length: length}
}

// Validate checks that s can produce codes.
func (s Spec) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.Length <= 0 {
		return errors.New("pairing code length must be positive")
	}
	if len(s.Characters) < 2 {
		return errors.New("pairing code alphabet needs at least two characters")
	}
	return nil
}

type Generator struct {
	spec   Spec
	random io.Reader
}

func NewGenerator(spec Spec) *Generator {
	return &Generator{spec: spec, random: rand.Reader}
}

// NewGeneratorWithRand is used by tests to make codes deterministic.
func NewGeneratorWithRand(spec Spec, random io.Reader) *Generator {
	return &Generator{spec: spec, random: random}
}

func (g *Generator) Spec() Spec { return g.spec }

// Generate draws a fresh code. A disabled spec yields the empty code.
func (g *Generator) Generate() (string, error) {
	if !g.spec.Enabled {
		return "", nil
	}
	if err := g.spec.Validate(); err != nil {
		return "", err
	}

	max := big.NewInt(int64(len(g.spec.Characters)))
	code := make([]byte, 0, g.spec.Length)
	for i := 0; i < g.spec.Length; i++ {
		n, err := rand.Int(g.random, max)
		if err != nil {
			return "", err
		}
		code = append(code, g.spec.Characters[n.Int64()]...)
	}
	return string(code), nil
}

// Equal compares a submitted code against the staged one byte for byte,
// without normalisation.
func Equal(submitted, staged string) bool {
	if staged == "" || len(submitted) != len(staged) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(staged)) == 1
}
