package ceremony

import (
	"context"
	"encoding/json"

	"oobind/internal/model"
	"oobind/internal/protoerr"
)

// StepOutcome is the effect of one pre-negotiation exchange. The service
// applies it; pre-negotiators never write the session themselves.
type StepOutcome struct {
	Response map[string]any

	OfferedAlgorithm string
	SecondaryKey     *model.PublicKey

	// Done moves the session to pre-negotiated.
	Done bool
}

// PreNegotiator runs the application-specific exchange between initialize
// and negotiate. Step must not have side effects: it may be called again
// with a fresher session when a concurrent write wins.
type PreNegotiator interface {
	Step(ctx context.Context, sess model.Session, step string, payload json.RawMessage) (StepOutcome, error)
}

// PreNegotiate runs one pre-negotiation step on an initialized session.
func (s *Service) PreNegotiate(ctx context.Context, sessionID, step string, payload json.RawMessage) (_ map[string]any, err error) {
	ctx, span := s.startSpan(ctx, "ceremony.pre_negotiate", sessionID)
	defer func() { endSpan(span, err) }()

	if s.pre == nil {
		return nil, protoerr.New(protoerr.CodeInvalidStep, "pre-negotiation is not enabled")
	}

	for {
		sess, err := s.load(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		switch sess.State {
		case model.StateExpired:
			return nil, errExpired()
		case model.StateInitialized:
		default:
			return nil, protoerr.New(protoerr.CodeInvalidState, "session is past pre-negotiation")
		}

		outcome, err := s.pre.Step(ctx, sess, step, payload)
		if err != nil {
			return nil, err
		}

		next := sess
		if outcome.OfferedAlgorithm != "" {
			next.OfferedAlgorithm = outcome.OfferedAlgorithm
		}
		if outcome.SecondaryKey != nil {
			key := *outcome.SecondaryKey
			next.SecondaryKey = &key
		}
		if outcome.Done {
			next.State = model.StatePreNegotiated
		}
		next.UpdatedAt = s.now()

		_, ok, err := s.swap(ctx, next, sess.Version)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		s.log.Info(ctx, "pre-negotiation step", "session", short(sess.ID), "step", step, "done", outcome.Done)
		return outcome.Response, nil
	}
}
