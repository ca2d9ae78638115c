package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func dialWatch(t *testing.T, srvURL, id string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srvURL, "http") + "/bind/" + id + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev map[string]any
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestWatch_NegotiatedThenAborted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(serviceDeps(t, false))
	srv := httptest.NewServer(r)
	defer srv.Close()

	id := initialize(t, r, newKeyPair(t))
	conn := dialWatch(t, srv.URL, id)
	defer conn.Close()
	if ev := readEvent(t, conn); ev["type"] != "state" || ev["state"] != "initialized" {
		t.Fatalf("expected state snapshot, got %v", ev)
	}

	negotiate(t, r, id, "alice")
	if ev := readEvent(t, conn); ev["type"] != "negotiated" || ev["session_id"] != id {
		t.Fatalf("expected negotiated event, got %v", ev)
	}

	code, resp := doJSON(t, r, http.MethodPost, "/admin/sessions/"+id+"/expire", nil, "Authorization", "Bearer "+adminToken(t))
	if code != http.StatusOK {
		t.Fatalf("expire: %d %v", code, resp)
	}
	if ev := readEvent(t, conn); ev["type"] != "aborted" {
		t.Fatalf("expected aborted event, got %v", ev)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the socket to close after abort")
	}
}

func TestWatch_ExpiredSessionAbortsAtOnce(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(serviceDeps(t, false))
	srv := httptest.NewServer(r)
	defer srv.Close()

	id := initialize(t, r, newKeyPair(t))
	doJSON(t, r, http.MethodPost, "/admin/sessions/"+id+"/expire", nil, "Authorization", "Bearer "+adminToken(t))

	conn := dialWatch(t, srv.URL, id)
	defer conn.Close()
	if ev := readEvent(t, conn); ev["type"] != "aborted" {
		t.Fatalf("expected aborted event, got %v", ev)
	}
}

func TestWatch_UnknownSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(serviceDeps(t, false))
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/bind/missing/watch"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", resp)
	}
}
