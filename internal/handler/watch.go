package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"oobind/internal/ceremony"
)

const (
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WatchHandler streams ceremony events for one session over a websocket.
// The socket is closed once the session completes or is aborted.
type WatchHandler struct {
	Ceremony *ceremony.Service
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

func (h *WatchHandler) Serve(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.Ceremony.Session(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	w := &wsWriter{conn: ws}
	unregister, err := h.Ceremony.Watch(c.Request.Context(), id, w)
	if err != nil {
		return
	}
	defer unregister()

	// Sent after registering, so no later transition is missed.
	if sess, err := h.Ceremony.Session(c.Request.Context(), id); err == nil && !sess.State.Terminal() {
		msg, _ := json.Marshal(ceremony.Event{Type: ceremony.EventState, SessionID: id, State: sess.State})
		_ = w.Write(msg)
	}

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() {
		closeOnce.Do(func() {
			close(done)
		})
	}
	defer closeDone()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeWait)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	// Watchers only listen; reading keeps pongs flowing and notices a closed
	// socket.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
