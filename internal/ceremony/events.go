package ceremony

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"oobind/internal/hub"
	"oobind/internal/model"
)

type EventType string

const (
	EventNegotiated EventType = "negotiated"
	EventCompleted  EventType = "completed"
	EventAborted    EventType = "aborted"

	// EventState is the snapshot a websocket watcher receives on subscribe.
	EventState EventType = "state"
)

// Event is delivered to everyone waiting on a session.
type Event struct {
	Type        EventType   `json:"type"`
	SessionID   string      `json:"session_id"`
	Compromised bool        `json:"compromised,omitempty"`
	State       model.State `json:"state,omitempty"`
}

func (s *Service) publish(sessionID string, ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.hub.Broadcast(sessionID, msg)
}

// Watch registers w for the session's events. It fails for unknown
// sessions; for an expired session the aborted event is written at once.
// The returned func unregisters w.
func (s *Service) Watch(ctx context.Context, sessionID string, w hub.Writer) (func(), error) {
	conn := &hub.Connection{SessionID: sessionID, Writer: w}
	s.hub.Register(conn)
	unregister := func() { s.hub.Unregister(conn) }

	// Registered before the state check so an expiry in between is not lost.
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		unregister()
		return nil, err
	}
	if sess.State == model.StateExpired {
		msg, _ := json.Marshal(Event{Type: EventAborted, SessionID: sessionID})
		_ = w.Write(msg)
		unregister()
		_ = w.Close()
		return func() {}, nil
	}
	return unregister, nil
}

// Await blocks until the next event on the session. A waiter released by
// expiry observes EventAborted.
func (s *Service) Await(ctx context.Context, sessionID string) (Event, error) {
	w := newChanWriter()
	unregister, err := s.Watch(ctx, sessionID, w)
	if err != nil {
		return Event{}, err
	}
	defer unregister()

	select {
	case msg := <-w.events:
		return decodeEvent(msg, sessionID), nil
	case <-w.closed:
		select {
		case msg := <-w.events:
			return decodeEvent(msg, sessionID), nil
		default:
			return Event{Type: EventAborted, SessionID: sessionID}, nil
		}
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func decodeEvent(msg []byte, sessionID string) Event {
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		return Event{Type: EventAborted, SessionID: sessionID}
	}
	return ev
}

var errWaiterGone = errors.New("waiter gone")

// chanWriter adapts an in-process waiter to hub.Writer.
type chanWriter struct {
	events chan []byte
	closed chan struct{}
	once   sync.Once
}

func newChanWriter() *chanWriter {
	return &chanWriter{events: make(chan []byte, 4), closed: make(chan struct{})}
}

func (w *chanWriter) Write(message []byte) error {
	select {
	case <-w.closed:
		return errWaiterGone
	default:
	}
	select {
	case w.events <- message:
		return nil
	default:
		return errWaiterGone
	}
}

func (w *chanWriter) Close() error {
	w.once.Do(func() { close(w.closed) })
	return nil
}
