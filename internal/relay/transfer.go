package relay

import (
	"context"
	"encoding/json"
	"strings"

	"oobind/internal/auth"
	"oobind/internal/ceremony"
	"oobind/internal/handshake"
	"oobind/internal/model"
	"oobind/internal/protoerr"
)

// Pre-negotiation steps of the file-transfer ceremony.
const (
	StepOffer    = "offer"
	StepRegister = "register"
)

// KeyRegistration is the file-transfer pre-negotiation: the browser first
// agrees an algorithm for its download key, then registers the key.
type KeyRegistration struct {
	Algorithms []string
}

type offerPayload struct {
	Algorithms []string `json:"algorithms"`
}

type registerPayload struct {
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"publicKey"`
}

func (k KeyRegistration) Step(_ context.Context, sess model.Session, step string, payload json.RawMessage) (ceremony.StepOutcome, error) {
	switch step {
	case StepOffer:
		var req offerPayload
		if err := decodePayload(payload, &req); err != nil {
			return ceremony.StepOutcome{}, err
		}
		alg := handshake.SelectAlgorithm(k.Algorithms, req.Algorithms)
		if alg == "" {
			return ceremony.StepOutcome{}, protoerr.New(protoerr.CodeNoCompatibleAlgorithm, "no compatible algorithm")
		}
		return ceremony.StepOutcome{
			Response:         map[string]any{"status": "ok", "algorithm": alg},
			OfferedAlgorithm: alg,
		}, nil

	case StepRegister:
		var req registerPayload
		if err := decodePayload(payload, &req); err != nil {
			return ceremony.StepOutcome{}, err
		}
		if sess.OfferedAlgorithm == "" {
			return ceremony.StepOutcome{}, protoerr.New(protoerr.CodeAlgorithmNotNegotiated, "offer an algorithm first")
		}
		if req.Algorithm != sess.OfferedAlgorithm {
			return ceremony.StepOutcome{}, protoerr.New(protoerr.CodeAlgorithmMismatch, "algorithm differs from the offer")
		}
		key := model.PublicKey{Algorithm: req.Algorithm, Key: req.PublicKey}
		if _, err := auth.DecodePublicKey(key); err != nil {
			return ceremony.StepOutcome{}, protoerr.Wrap(protoerr.CodeSignatureError, "malformed public key", err)
		}
		return ceremony.StepOutcome{
			Response:     map[string]any{"status": "ok"},
			SecondaryKey: &key,
			Done:         true,
		}, nil

	default:
		return ceremony.StepOutcome{}, protoerr.New(protoerr.CodeInvalidStep, "unknown pre-negotiation step")
	}
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return protoerr.Wrap(protoerr.CodeInvalidRequest, "malformed step payload", err)
	}
	return nil
}

// TransferStager opens a relay stream at negotiate. The browser leg receives
// the download coordinates at completion; the companion gets the upload
// credentials in the negotiate response.
type TransferStager struct {
	Relay     *Relay
	PublicURL string
}

type TransferResult struct {
	FileMetadata model.FileMetadata `json:"fileMetadata"`
	StreamID     string             `json:"streamId"`
	DownloadURL  string             `json:"downloadUrl"`
}

func (t TransferStager) Stage(_ context.Context, sess model.Session, req ceremony.NegotiateRequest) (ceremony.Staged, error) {
	if req.File == nil || strings.TrimSpace(req.File.FileName) == "" || req.File.FileSize < 0 {
		return ceremony.Staged{}, protoerr.New(protoerr.CodeMissingFileMetadata, "fileName and a non-negative fileSize are required")
	}
	if sess.SecondaryKey == nil {
		return ceremony.Staged{}, protoerr.New(protoerr.CodePreNegotiationRequired, "no download key registered")
	}

	ticket := t.Relay.Create(*req.File, *sess.SecondaryKey)
	return ceremony.Staged{
		Result: TransferResult{
			FileMetadata: *req.File,
			StreamID:     ticket.StreamID,
			DownloadURL:  t.url(ticket.StreamID, "download"),
		},
		Response: map[string]any{
			"stream_id":     ticket.StreamID,
			"upload_url":    t.url(ticket.StreamID, "upload"),
			"upload_secret": ticket.UploadSecret,
		},
		Release: func() { t.Relay.Remove(ticket.StreamID) },
	}, nil
}

func (t TransferStager) url(streamID, leg string) string {
	return strings.TrimRight(t.PublicURL, "/") + "/stream/" + streamID + "/" + leg
}
