package ceremony

import (
	"context"
	"encoding/json"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"oobind/internal/model"
	"oobind/internal/protoerr"
)

// NegotiateRequest carries the companion's identity proof and any
// deployment-specific payload.
type NegotiateRequest struct {
	SessionID string
	Username  string
	Proof     json.RawMessage
	File      *model.FileMetadata
}

// Staged is what a Stager prepares for release at completion.
type Staged struct {
	// Result is released to the browser leg by complete.
	Result any
	// Response fields are added to the companion's negotiate response.
	Response map[string]any
	// Release undoes side effects when the staged result is not applied.
	Release func()
}

// Stager authenticates the companion and prepares the result of a
// negotiate call. It runs outside any session lock and may reach external
// collaborators.
type Stager interface {
	Stage(ctx context.Context, sess model.Session, req NegotiateRequest) (Staged, error)
}

type NegotiateResult struct {
	PairingCode string
	// Compromised is true when this negotiate followed an earlier
	// successful one on the same session.
	Compromised bool
	Response    map[string]any
}

// Negotiate authenticates the companion, stages a result and issues a fresh
// pairing code. A repeat on a negotiated session succeeds but marks the
// session compromised for good.
func (s *Service) Negotiate(ctx context.Context, req NegotiateRequest) (_ NegotiateResult, err error) {
	ctx, span := s.startSpan(ctx, "ceremony.negotiate", req.SessionID)
	defer func() { endSpan(span, err) }()

	sess, err := s.load(ctx, req.SessionID)
	if err != nil {
		return NegotiateResult{}, err
	}
	if err := s.negotiable(sess); err != nil {
		return NegotiateResult{}, err
	}
	if s.stager == nil {
		return NegotiateResult{}, protoerr.New(protoerr.CodeInternal, "no stager configured")
	}

	staged, err := s.stager.Stage(ctx, sess, req)
	if err != nil {
		s.log.Info(ctx, "negotiate rejected", "session", short(sess.ID), "error", protoerr.CodeOf(err))
		return NegotiateResult{}, err
	}
	applied := false
	defer func() {
		if !applied && staged.Release != nil {
			staged.Release()
		}
	}()

	result, err := json.Marshal(staged.Result)
	if err != nil {
		return NegotiateResult{}, protoerr.Wrap(protoerr.CodeInternal, "encode result", err)
	}
	code, err := s.codes.Generate()
	if err != nil {
		return NegotiateResult{}, protoerr.Wrap(protoerr.CodeInternal, "generate pairing code", err)
	}

	for {
		cur, err := s.load(ctx, req.SessionID)
		if err != nil {
			return NegotiateResult{}, err
		}
		if err := s.negotiable(cur); err != nil {
			return NegotiateResult{}, err
		}

		repeat := cur.State == model.StateNegotiated
		next := cur
		next.State = model.StateNegotiated
		next.NegotiationCount++
		next.Compromised = cur.Compromised || repeat
		next.PairingCode = code
		next.Result = result
		next.UpdatedAt = s.now()

		saved, ok, err := s.swap(ctx, next, cur.Version)
		if err != nil {
			return NegotiateResult{}, err
		}
		if !ok {
			continue
		}
		applied = true

		span.SetAttributes(attribute.Int("ceremony.negotiations", saved.NegotiationCount))
		if repeat {
			s.log.Warn(ctx, "session negotiated again, marked compromised",
				"session", short(saved.ID), "negotiations", saved.NegotiationCount)
		} else {
			s.log.Info(ctx, "session negotiated", "session", short(saved.ID))
		}
		s.publish(saved.ID, Event{Type: EventNegotiated, SessionID: saved.ID})

		return NegotiateResult{
			PairingCode: code,
			Compromised: repeat,
			Response:    staged.Response,
		}, nil
	}
}

func (s *Service) negotiable(sess model.Session) error {
	switch sess.State {
	case model.StateExpired:
		return errExpired()
	case model.StateNegotiated, model.StatePreNegotiated:
		return nil
	case model.StateInitialized:
		if s.pre != nil {
			return protoerr.New(protoerr.CodePreNegotiationRequired, "pre-negotiation required")
		}
		return nil
	default:
		return protoerr.New(protoerr.CodeInvalidState, "session cannot be negotiated")
	}
}

// IdentityVerifier checks an out-of-band identity proof, such as a passkey
// assertion, for username.
type IdentityVerifier interface {
	VerifyIdentityProof(ctx context.Context, username string, proof json.RawMessage) error
}

// IdentityStager stages {username} once the verifier accepts the proof.
type IdentityStager struct {
	Verifier IdentityVerifier
}

func (st IdentityStager) Stage(ctx context.Context, _ model.Session, req NegotiateRequest) (Staged, error) {
	if req.Username == "" || len(req.Proof) == 0 {
		return Staged{}, protoerr.New(protoerr.CodeMissingProof, "username and proof are required")
	}
	if err := st.Verifier.VerifyIdentityProof(ctx, req.Username, req.Proof); err != nil {
		return Staged{}, boundaryError(err)
	}
	return Staged{Result: map[string]string{"username": req.Username}}, nil
}

// boundaryError keeps coded errors from a collaborator and reports anything
// else as a failure to reach it.
func boundaryError(err error) error {
	var pe *protoerr.Error
	if errors.As(err, &pe) {
		return err
	}
	return protoerr.Wrap(protoerr.CodeNetworkError, "identity verifier unavailable", err)
}
