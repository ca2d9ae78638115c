// Package ceremony drives binding sessions through initialize,
// pre-negotiate, negotiate, complete and expire. It is the only writer of
// session state, pairing codes and the compromised flag.
package ceremony

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"oobind/internal/auth"
	"oobind/internal/hub"
	"oobind/internal/logging"
	"oobind/internal/model"
	"oobind/internal/pairing"
	"oobind/internal/protoerr"
	"oobind/internal/store"
	"oobind/internal/telemetry"
)

type Options struct {
	Store  store.Sessions
	Codes  *pairing.Generator
	Stager Stager

	// PreNegotiator enables the pre-negotiation phase. When set, negotiate
	// requires a pre-negotiated session.
	PreNegotiator PreNegotiator

	Hub    *hub.Hub
	Logger logging.Logger
	Now    func() time.Time

	SignatureMaxSkew time.Duration
	SessionTTL       time.Duration
	ExpiredRetention time.Duration
}

type Service struct {
	store   store.Sessions
	codes   *pairing.Generator
	stager  Stager
	pre     PreNegotiator
	hub     *hub.Hub
	log     logging.Logger
	now     func() time.Time
	maxSkew time.Duration
	ttl     time.Duration
	retain  time.Duration
}

func New(opts Options) *Service {
	s := &Service{
		store:   opts.Store,
		codes:   opts.Codes,
		stager:  opts.Stager,
		pre:     opts.PreNegotiator,
		hub:     opts.Hub,
		log:     opts.Logger,
		now:     opts.Now,
		maxSkew: opts.SignatureMaxSkew,
		ttl:     opts.SessionTTL,
		retain:  opts.ExpiredRetention,
	}
	if s.store == nil {
		s.store = store.New()
	}
	if s.codes == nil {
		s.codes = pairing.NewGenerator(pairing.DefaultSpec(4))
	}
	if s.hub == nil {
		s.hub = hub.New()
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// PairingSpec is the pairing code specification announced at handshake.
func (s *Service) PairingSpec() pairing.Spec { return s.codes.Spec() }

// PreNegotiation reports whether sessions must pass pre-negotiation before
// negotiate.
func (s *Service) PreNegotiation() bool { return s.pre != nil }

// Initialize creates a session bound to the browser's public key.
func (s *Service) Initialize(ctx context.Context, key model.PublicKey) (_ string, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ceremony.initialize")
	defer func() { endSpan(span, err) }()

	if _, err := auth.DecodePublicKey(key); err != nil {
		if errors.Is(err, auth.ErrUnsupportedAlg) {
			return "", protoerr.Wrap(protoerr.CodeAlgorithmRejected, "unsupported key algorithm", err)
		}
		return "", protoerr.Wrap(protoerr.CodeSignatureError, "malformed public key", err)
	}
	if key.Algorithm == "" {
		key.Algorithm = auth.AlgorithmEd25519
	}

	now := s.now()
	sess := model.Session{
		ID:               uuid.NewString(),
		State:            model.StateInitialized,
		BrowserPublicKey: key,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return "", protoerr.Wrap(protoerr.CodeInternal, "store session", err)
	}

	span.SetAttributes(attribute.String("session.id", sess.ID))
	s.log.Info(ctx, "session initialized", "session", short(sess.ID))
	return sess.ID, nil
}

// Session returns a snapshot of a live session.
func (s *Service) Session(ctx context.Context, id string) (model.Session, error) {
	return s.load(ctx, id)
}

// Sessions lists every session the store still holds.
func (s *Service) Sessions(ctx context.Context) ([]model.Session, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.CodeInternal, "list sessions", err)
	}
	return sessions, nil
}

// load fetches a session. Completed sessions are about to be removed and
// report unknown_session like removed ones.
func (s *Service) load(ctx context.Context, id string) (model.Session, error) {
	if id == "" {
		return model.Session{}, protoerr.New(protoerr.CodeInvalidRequest, "session_id is required")
	}
	sess, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Session{}, protoerr.New(protoerr.CodeUnknownSession, "unknown session")
	}
	if err != nil {
		return model.Session{}, protoerr.Wrap(protoerr.CodeInternal, "load session", err)
	}
	if sess.State == model.StateCompleted {
		return model.Session{}, protoerr.New(protoerr.CodeUnknownSession, "unknown session")
	}
	return sess, nil
}

// swap stores next over the version read in cur. It reports false when the
// session moved underneath and the caller should reload.
func (s *Service) swap(ctx context.Context, next model.Session, expected int64) (model.Session, bool, error) {
	saved, err := s.store.CompareAndSwap(ctx, next, expected)
	switch {
	case err == nil:
		return saved, true, nil
	case errors.Is(err, store.ErrVersionMismatch):
		return model.Session{}, false, nil
	case errors.Is(err, store.ErrNotFound):
		return model.Session{}, false, protoerr.New(protoerr.CodeUnknownSession, "unknown session")
	default:
		return model.Session{}, false, protoerr.Wrap(protoerr.CodeInternal, "store session", err)
	}
}

func errExpired() error {
	return protoerr.New(protoerr.CodeSessionExpired, "session expired")
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.code", string(protoerr.CodeOf(err))))
	}
	span.End()
}

func (s *Service) startSpan(ctx context.Context, name, sessionID string) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, name, trace.WithAttributes(attribute.String("session.id", sessionID)))
}
