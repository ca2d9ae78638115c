package agent

import (
	"context"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"oobind/internal/ceremony"
	"oobind/internal/model"
	"oobind/internal/protoerr"
)

// Watch subscribes to a session's events. The channel is closed when the
// service closes the socket, which it does after completed or aborted, or
// when ctx is done.
func (c *Client) Watch(ctx context.Context, sessionID string) (<-chan ceremony.Event, error) {
	wsURL := c.baseURL + "/bind/" + url.PathEscape(sessionID) + "/watch"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, transportError(ctx, err)
	}

	events := make(chan ceremony.Event)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	go func() {
		defer close(events)
		defer stop()
		defer conn.Close()
		for {
			var ev ceremony.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// WaitFor blocks until the session reports one of the given event types.
// A socket closed first is reported as aborted.
func (c *Client) WaitFor(ctx context.Context, sessionID string, types ...ceremony.EventType) (ceremony.Event, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := c.Watch(ctx, sessionID)
	if err != nil {
		return ceremony.Event{}, err
	}
	for ev := range events {
		// A watcher that subscribes late learns the current state instead.
		if ev.Type == ceremony.EventState && ev.State == model.StateNegotiated {
			ev.Type = ceremony.EventNegotiated
		}
		for _, t := range types {
			if ev.Type == t {
				return ev, nil
			}
		}
		if ev.Type == ceremony.EventAborted {
			return ev, protoerr.New(protoerr.CodeAborted, "session aborted")
		}
	}
	if ctx.Err() != nil {
		return ceremony.Event{}, protoerr.Wrap(protoerr.CodeAborted, "watch cancelled", ctx.Err())
	}
	return ceremony.Event{}, protoerr.New(protoerr.CodeAborted, "watch closed")
}
