package ceremony

import (
	"context"
	"encoding/json"

	"oobind/internal/auth"
	"oobind/internal/model"
	"oobind/internal/pairing"
	"oobind/internal/protoerr"
)

const (
	StatusComplete = "complete"
	StatusPending  = "pending"
)

type CompleteRequest struct {
	SessionID   string
	PairingCode string
	Timestamp   string
	Signature   string
}

type CompleteResult struct {
	Status      string
	Result      json.RawMessage
	Compromised bool
}

// Complete releases the staged result to the browser leg exactly once.
// Before a successful negotiate it reports pending. A wrong pairing code
// fails with invalid_code and leaves the session negotiated so the user can
// retype it.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (_ CompleteResult, err error) {
	ctx, span := s.startSpan(ctx, "ceremony.complete", req.SessionID)
	defer func() { endSpan(span, err) }()

	for {
		sess, err := s.load(ctx, req.SessionID)
		if err != nil {
			return CompleteResult{}, err
		}
		if sess.State == model.StateExpired {
			return CompleteResult{}, errExpired()
		}

		if err := s.verifyBrowser(sess, req.PairingCode, req.Timestamp, req.Signature); err != nil {
			s.log.Info(ctx, "complete rejected", "session", short(sess.ID), "error", protoerr.CodeOf(err))
			return CompleteResult{}, err
		}

		if sess.State != model.StateNegotiated {
			return CompleteResult{Status: StatusPending}, nil
		}

		if s.codes.Spec().Enabled && !pairing.Equal(req.PairingCode, sess.PairingCode) {
			s.log.Info(ctx, "complete rejected", "session", short(sess.ID), "error", protoerr.CodeInvalidCode)
			return CompleteResult{}, protoerr.New(protoerr.CodeInvalidCode, "pairing code mismatch")
		}

		next := sess
		next.State = model.StateCompleted
		next.UpdatedAt = s.now()
		_, ok, err := s.swap(ctx, next, sess.Version)
		if err != nil {
			return CompleteResult{}, err
		}
		if !ok {
			continue
		}

		if err := s.store.Delete(ctx, sess.ID); err != nil {
			s.log.Warn(ctx, "remove completed session", "session", short(sess.ID), "error", err)
		}

		if sess.Compromised {
			s.log.Warn(ctx, "compromised session completed", "session", short(sess.ID))
		} else {
			s.log.Info(ctx, "session completed", "session", short(sess.ID))
		}
		s.publish(sess.ID, Event{Type: EventCompleted, SessionID: sess.ID, Compromised: sess.Compromised})
		s.hub.Close(sess.ID)

		return CompleteResult{
			Status:      StatusComplete,
			Result:      sess.Result,
			Compromised: sess.Compromised,
		}, nil
	}
}

// verifyBrowser checks the timestamp window and the browser key's signature
// over the session message.
func (s *Service) verifyBrowser(sess model.Session, pairingCode, timestamp, signature string) error {
	if err := auth.CheckTimestamp(s.now(), timestamp, s.maxSkew); err != nil {
		return protoerr.Wrap(protoerr.CodeInvalidTimestamp, "stale or missing timestamp", err)
	}

	msg := auth.SessionMessage(sess.ID, pairingCode, timestamp)
	if err := auth.VerifySignature(sess.BrowserPublicKey, msg, signature); err != nil {
		if auth.IsMalformed(err) {
			return protoerr.Wrap(protoerr.CodeSignatureError, "undecodable signature or key", err)
		}
		return protoerr.Wrap(protoerr.CodeInvalidSignature, "signature does not verify", err)
	}
	return nil
}
