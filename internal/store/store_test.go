package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"oobind/internal/model"
)

func TestStore_PutGetDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.Put(ctx, model.Session{ID: "s1", State: model.StateInitialized, CreatedAt: now}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, model.Session{ID: "s1"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != model.StateInitialized || got.Version != 1 {
		t.Fatalf("unexpected session: %+v", got)
	}

	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStore_CompareAndSwap(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Put(ctx, model.Session{ID: "s1", State: model.StateInitialized}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	sess, _ := s.Get(ctx, "s1")
	sess.State = model.StateNegotiated
	updated, err := s.CompareAndSwap(ctx, sess, sess.Version)
	if err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}

	// stale writer loses
	sess.State = model.StateExpired
	current, err := s.CompareAndSwap(ctx, sess, 1)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	if current.State != model.StateNegotiated {
		t.Fatalf("expected current state negotiated, got %s", current.State)
	}

	if _, err := s.CompareAndSwap(ctx, model.Session{ID: "missing"}, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ConcurrentSwapsSerialize(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Put(ctx, model.Session{ID: "s1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				sess, err := s.Get(ctx, "s1")
				if err != nil {
					t.Errorf("Get: %v", err)
					return
				}
				sess.NegotiationCount++
				if _, err := s.CompareAndSwap(ctx, sess, sess.Version); err == nil {
					return
				} else if !errors.Is(err, ErrVersionMismatch) {
					t.Errorf("CompareAndSwap: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, "s1")
	if got.NegotiationCount != 50 {
		t.Fatalf("expected 50 increments, got %d", got.NegotiationCount)
	}
}

func TestStore_ReturnsDetachedCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	result := json.RawMessage(`{"username":"alice"}`)
	if err := s.Put(ctx, model.Session{ID: "s1", Result: result, SecondaryKey: &model.PublicKey{Key: "k"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	result[2] = 'X'

	got, _ := s.Get(ctx, "s1")
	got.SecondaryKey.Key = "changed"
	again, _ := s.Get(ctx, "s1")
	if string(again.Result) != `{"username":"alice"}` {
		t.Fatalf("stored result was aliased: %s", again.Result)
	}
	if again.SecondaryKey.Key != "k" {
		t.Fatalf("stored key was aliased: %s", again.SecondaryKey.Key)
	}
}

func TestStore_ListOrderedByCreation(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = s.Put(ctx, model.Session{ID: "b", CreatedAt: base.Add(time.Second)})
	_ = s.Put(ctx, model.Session{ID: "a", CreatedAt: base})

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", list)
	}
}
