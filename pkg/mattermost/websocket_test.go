package mattermost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// wsTestServer upgrades one connection, checks the auth challenge,
// then runs serve with the raw server-side connection.
func wsTestServer(t *testing.T, serve func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		var challenge struct {
			Action string `json:"action"`
			Data   struct {
				Token string `json:"token"`
			} `json:"data"`
		}
		if err := conn.ReadJSON(&challenge); err != nil {
			t.Errorf("read challenge: %v", err)
			return
		}
		if challenge.Action != "authentication_challenge" || challenge.Data.Token != "tok" {
			t.Errorf("challenge = %+v", challenge)
		}
		serve(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// TestDialWebSocket_EventDelivery verifies events reach the handler
// and empty-event frames are skipped
func TestDialWebSocket_EventDelivery(t *testing.T) {
	server := wsTestServer(t, func(conn *websocket.Conn) {
		// action reply frame, no event name
		conn.WriteJSON(map[string]any{"status": "OK", "seq_reply": 1})
		conn.WriteJSON(map[string]any{
			"event": "posted",
			"data":  map[string]any{"post": `{"id":"post-1"}`, "sender_name": "@alice"},
		})
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	events := make(chan WSEvent, 4)
	opened := make(chan struct{}, 1)
	conn, err := DialWebSocket(context.Background(), wsURL(server), "tok", WSHandlers{
		OnOpen:  func() { opened <- struct{}{} },
		OnEvent: func(e WSEvent) { events <- e },
	})
	if err != nil {
		t.Fatalf("DialWebSocket failed: %v", err)
	}
	defer conn.Close()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("OnOpen never fired")
	}

	select {
	case event := <-events:
		if event.Event != "posted" {
			t.Errorf("event = %q", event.Event)
		}
		if event.DataString("sender_name") != "@alice" {
			t.Errorf("sender_name = %q", event.DataString("sender_name"))
		}
		var post struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(event.DataString("post")), &post); err != nil || post.ID != "post-1" {
			t.Errorf("post payload = %q", event.DataString("post"))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}

	// the reply frame must not have been surfaced
	select {
	case event := <-events:
		t.Errorf("unexpected extra event %+v", event)
	default:
	}
}

// TestWSConn_CloseOnce verifies OnClose fires exactly once even when
// Close races the server hangup
func TestWSConn_CloseOnce(t *testing.T) {
	server := wsTestServer(t, func(conn *websocket.Conn) {
		time.Sleep(50 * time.Millisecond)
	})
	defer server.Close()

	var closes int32
	closed := make(chan struct{})
	conn, err := DialWebSocket(context.Background(), wsURL(server), "tok", WSHandlers{
		OnClose: func(code int, reason string) {
			atomic.AddInt32(&closes, 1)
			if code != 0 || reason != "" {
				t.Errorf("local close should carry zero values, got code=%d reason=%q", code, reason)
			}
			close(closed)
		},
	})
	if err != nil {
		t.Fatalf("DialWebSocket failed: %v", err)
	}

	conn.Close()
	conn.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose never fired")
	}
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&closes); got != 1 {
		t.Errorf("OnClose fired %d times", got)
	}
}

// TestWSConn_CloseReason verifies the peer's close code and reason
// reach the OnClose handler
func TestWSConn_CloseReason(t *testing.T) {
	server := wsTestServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4000, "kicked"))
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	type closeInfo struct {
		code   int
		reason string
	}
	closed := make(chan closeInfo, 1)
	conn, err := DialWebSocket(context.Background(), wsURL(server), "tok", WSHandlers{
		OnClose: func(code int, reason string) {
			closed <- closeInfo{code, reason}
		},
	})
	if err != nil {
		t.Fatalf("DialWebSocket failed: %v", err)
	}
	defer conn.Close()

	select {
	case info := <-closed:
		if info.code != 4000 || info.reason != "kicked" {
			t.Errorf("close info = %+v", info)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose never fired")
	}
}

// TestWSConn_UserTyping verifies the typing action frame shape
func TestWSConn_UserTyping(t *testing.T) {
	frames := make(chan map[string]any, 1)
	server := wsTestServer(t, func(conn *websocket.Conn) {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err == nil {
			frames <- frame
		}
	})
	defer server.Close()

	conn, err := DialWebSocket(context.Background(), wsURL(server), "tok", WSHandlers{})
	if err != nil {
		t.Fatalf("DialWebSocket failed: %v", err)
	}
	defer conn.Close()

	if err := conn.UserTyping("channel-1", "root-1"); err != nil {
		t.Fatalf("UserTyping failed: %v", err)
	}

	select {
	case frame := <-frames:
		if frame["action"] != "user_typing" {
			t.Errorf("action = %v", frame["action"])
		}
		data, _ := frame["data"].(map[string]any)
		if data["channel_id"] != "channel-1" || data["parent_id"] != "root-1" {
			t.Errorf("data = %v", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("typing frame never arrived")
	}
}
