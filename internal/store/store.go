// Package store holds ceremony state. Sessions is the only source of truth
// for ceremony progress; Memory is the single-process implementation.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"oobind/internal/model"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrAlreadyExists   = errors.New("session already exists")
	ErrVersionMismatch = errors.New("version mismatch")
)

// Sessions is the keyed registry of ceremony state. Implementations must
// make CompareAndSwap atomic per session id so that two transitions on the
// same session never interleave.
type Sessions interface {
	Get(ctx context.Context, id string) (model.Session, error)
	Put(ctx context.Context, sess model.Session) error
	Delete(ctx context.Context, id string) error
	// CompareAndSwap replaces the stored session with next if the stored
	// version still equals expectedVersion. The stored copy gets version
	// expectedVersion+1, which is also returned.
	CompareAndSwap(ctx context.Context, next model.Session, expectedVersion int64) (model.Session, error)
	List(ctx context.Context) ([]model.Session, error)
}

type Memory struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
}

func New() *Memory {
	return &Memory{sessions: make(map[string]model.Session)}
}

func (s *Memory) Get(_ context.Context, id string) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return cloneSession(sess), nil
}

// Put inserts a new session. Ids are never reused, so an existing id is an
// error rather than an overwrite.
func (s *Memory) Put(_ context.Context, sess model.Session) error {
	if sess.ID == "" {
		return errors.New("missing session id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return ErrAlreadyExists
	}
	sess.Version = 1
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *Memory) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *Memory) CompareAndSwap(_ context.Context, next model.Session, expectedVersion int64) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[next.ID]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	if current.Version != expectedVersion {
		return cloneSession(current), ErrVersionMismatch
	}

	next.Version = expectedVersion + 1
	s.sessions[next.ID] = cloneSession(next)
	return cloneSession(next), nil
}

func (s *Memory) List(_ context.Context) ([]model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, cloneSession(sess))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// cloneSession detaches the slices and pointers of sess from the stored copy.
func cloneSession(sess model.Session) model.Session {
	if sess.Result != nil {
		sess.Result = append([]byte(nil), sess.Result...)
	}
	if sess.SecondaryKey != nil {
		key := *sess.SecondaryKey
		sess.SecondaryKey = &key
	}
	return sess
}
