package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"time"

	"oobind/internal/model"
)

// AlgorithmEd25519 is the only signature algorithm the verifier accepts.
const AlgorithmEd25519 = "Ed25519"

var (
	// ErrMalformedKey and ErrMalformedSignature are encoding failures; they
	// surface as signature_error.
	ErrMalformedKey       = errors.New("malformed public key")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrUnsupportedAlg     = errors.New("unsupported key algorithm")

	// ErrInvalidSignature is a well-formed signature that does not verify.
	ErrInvalidSignature = errors.New("invalid signature")

	ErrStaleTimestamp = errors.New("timestamp outside accepted window")
)

// SessionMessage builds the bytes a browser agent signs at completion:
// sessionID, then pairingCode when present, then timestamp, with no
// separators. Both sides must agree on whether the code is included.
func SessionMessage(sessionID, pairingCode, timestamp string) []byte {
	msg := make([]byte, 0, len(sessionID)+len(pairingCode)+len(timestamp))
	msg = append(msg, sessionID...)
	msg = append(msg, pairingCode...)
	msg = append(msg, timestamp...)
	return msg
}

// DecodePublicKey checks key's algorithm and decodes its raw bytes.
func DecodePublicKey(key model.PublicKey) (ed25519.PublicKey, error) {
	if key.Algorithm != "" && key.Algorithm != AlgorithmEd25519 {
		return nil, ErrUnsupportedAlg
	}
	raw, err := base64.StdEncoding.DecodeString(key.Key)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrMalformedKey
	}
	return ed25519.PublicKey(raw), nil
}

// VerifySignature checks signatureB64 over message with key. Encoding
// problems fail closed with ErrMalformedKey/ErrMalformedSignature so callers
// can tell protocol errors apart from ErrInvalidSignature.
func VerifySignature(key model.PublicKey, message []byte, signatureB64 string) error {
	publicKey, err := DecodePublicKey(key)
	if err != nil {
		return err
	}

	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return ErrMalformedSignature
	}

	if !ed25519.Verify(publicKey, message, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// IsMalformed reports whether err is an encoding failure rather than an
// authentication failure.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedKey) || errors.Is(err, ErrMalformedSignature) || errors.Is(err, ErrUnsupportedAlg)
}

// CheckTimestamp parses an RFC 3339 timestamp and checks it lies within
// maxSkew of now. A zero maxSkew disables the window but still requires a
// non-empty timestamp.
func CheckTimestamp(now time.Time, timestamp string, maxSkew time.Duration) error {
	if timestamp == "" {
		return ErrStaleTimestamp
	}
	if maxSkew <= 0 {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return ErrStaleTimestamp
	}
	delta := now.Sub(ts)
	if delta < 0 {
		delta = -delta
	}
	if delta > maxSkew {
		return ErrStaleTimestamp
	}
	return nil
}
