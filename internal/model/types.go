package model

import (
	"encoding/json"
	"time"
)

// State is a binding ceremony state.
type State string

const (
	StateInitialized   State = "initialized"
	StatePreNegotiated State = "pre-negotiated"
	StateNegotiated    State = "negotiated"
	StateCompleted     State = "completed"
	StateExpired       State = "expired"
)

// Terminal reports whether no further transition may leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateExpired
}

// PublicKey is a key as it travels on the wire: an algorithm name and the
// base64 encoding of the raw key bytes.
type PublicKey struct {
	Algorithm string `json:"algorithm"`
	Key       string `json:"key"`
}

// Session is one binding ceremony.
type Session struct {
	ID               string
	State            State
	BrowserPublicKey PublicKey

	// Set by pre-negotiation.
	OfferedAlgorithm string
	SecondaryKey     *PublicKey

	PairingCode      string
	NegotiationCount int
	Compromised      bool
	Result           json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiredAt time.Time

	// Version increases on every stored mutation.
	Version int64
}

// FileMetadata describes the payload of a file-transfer ceremony.
type FileMetadata struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType,omitempty"`
}

// StreamState is the lifecycle of a relay stream.
type StreamState string

const (
	StreamAwaitingBoth StreamState = "awaiting-both"
	StreamRelaying     StreamState = "relaying"
	StreamFinished     StreamState = "finished"
	StreamFailed       StreamState = "failed"
)

// StreamStatus is an observational snapshot of a relay stream.
type StreamStatus struct {
	ID                  string
	State               StreamState
	FileMetadata        FileMetadata
	UploaderConnected   bool
	DownloaderConnected bool
	DownloaderFinished  bool
	BytesTransferred    int64
	CreatedAt           time.Time
	FinishedAt          time.Time
}
