package ceremony

import (
	"context"
	"errors"
	"time"

	"oobind/internal/auth"
	"oobind/internal/model"
	"oobind/internal/protoerr"
	"oobind/internal/store"
)

// Expire force-moves a session to expired and releases its waiters with an
// aborted event. Expiring an expired session is a no-op.
func (s *Service) Expire(ctx context.Context, sessionID string) (err error) {
	ctx, span := s.startSpan(ctx, "ceremony.expire", sessionID)
	defer func() { endSpan(span, err) }()

	_, err = s.expire(ctx, sessionID, "admin")
	return err
}

// ExpireAll expires every live session and reports how many it moved.
func (s *Service) ExpireAll(ctx context.Context) (int, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return 0, protoerr.Wrap(protoerr.CodeInternal, "list sessions", err)
	}
	n := 0
	for _, sess := range sessions {
		if sess.State.Terminal() {
			continue
		}
		moved, err := s.expire(ctx, sess.ID, "admin")
		if protoerr.Is(err, protoerr.CodeUnknownSession) {
			continue
		}
		if err != nil {
			return n, err
		}
		if moved {
			n++
		}
	}
	s.log.Info(ctx, "expired all sessions", "count", n)
	return n, nil
}

// Cancel is the browser leg abandoning its own ceremony, for example when
// the tab closes. It is authenticated like complete, with an empty pairing
// code in the signed message.
func (s *Service) Cancel(ctx context.Context, sessionID, timestamp, signature string) (err error) {
	ctx, span := s.startSpan(ctx, "ceremony.cancel", sessionID)
	defer func() { endSpan(span, err) }()

	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.verifyBrowser(sess, "", timestamp, signature); err != nil {
		return err
	}
	_, err = s.expire(ctx, sessionID, "cancelled")
	return err
}

// CancelMessage is what a browser agent signs to cancel sessionID.
func CancelMessage(sessionID, timestamp string) []byte {
	return auth.SessionMessage(sessionID, "", timestamp)
}

func (s *Service) expire(ctx context.Context, sessionID, reason string) (bool, error) {
	for {
		sess, err := s.load(ctx, sessionID)
		if err != nil {
			return false, err
		}
		if sess.State == model.StateExpired {
			return false, nil
		}

		now := s.now()
		next := sess
		next.State = model.StateExpired
		next.ExpiredAt = now
		next.UpdatedAt = now

		_, ok, err := s.swap(ctx, next, sess.Version)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}

		s.log.Info(ctx, "session expired", "session", short(sessionID), "reason", reason)
		s.publish(sessionID, Event{Type: EventAborted, SessionID: sessionID})
		s.hub.Close(sessionID)
		return true, nil
	}
}

// Sweep expires sessions older than the session TTL and removes expired
// records once their retention has passed.
func (s *Service) Sweep(ctx context.Context) error {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	for _, sess := range sessions {
		switch {
		case sess.State == model.StateExpired:
			if s.retain > 0 && now.Sub(sess.ExpiredAt) >= s.retain {
				if err := s.store.Delete(ctx, sess.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}
		case !sess.State.Terminal():
			if s.ttl > 0 && now.Sub(sess.CreatedAt) >= s.ttl {
				if _, err := s.expire(ctx, sess.ID, "ttl"); err != nil && !protoerr.Is(err, protoerr.CodeUnknownSession) {
					return err
				}
			}
		}
	}
	return nil
}

// Run sweeps every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error(ctx, "session sweep failed", "error", err)
			}
		}
	}
}
