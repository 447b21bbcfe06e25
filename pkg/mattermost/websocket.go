package mattermost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSEvent is one event frame from the Mattermost websocket. Frames
// that are replies to client actions carry an empty Event and a Seq.
type WSEvent struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Broadcast map[string]any `json:"broadcast"`
	Seq       int64          `json:"seq"`
}

// DataString returns a string-valued field from the event data, or ""
// when absent or of another type.
func (e *WSEvent) DataString(key string) string {
	if e.Data == nil {
		return ""
	}
	s, _ := e.Data[key].(string)
	return s
}

// WSHandlers holds the callbacks a websocket connection drives. All
// are optional. OnClose receives the peer's close code and reason, or
// zero values when the shutdown was local.
type WSHandlers struct {
	OnOpen  func()
	OnClose func(code int, reason string)
	OnError func(error)
	OnEvent func(WSEvent)
}

// WSConn is one authenticated websocket connection. It owns a read
// loop goroutine; Close tears it down and fires OnClose exactly once.
type WSConn struct {
	conn      *websocket.Conn
	handlers  WSHandlers
	writeMu   sync.Mutex
	closeOnce sync.Once
	seq       int64

	closeMu     sync.Mutex
	closeCode   int
	closeReason string
}

// DialWebSocket connects to the server's websocket endpoint, sends
// the authentication challenge, and starts the read loop.
func DialWebSocket(ctx context.Context, wsURL, token string, handlers WSHandlers) (*WSConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	ws := &WSConn{conn: conn, handlers: handlers, seq: 1}
	if err := ws.send(map[string]any{
		"action": "authentication_challenge",
		"seq":    ws.seq,
		"data":   map[string]any{"token": token},
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send auth challenge: %w", err)
	}

	if handlers.OnOpen != nil {
		handlers.OnOpen()
	}
	go ws.readLoop()
	return ws, nil
}

func (w *WSConn) readLoop() {
	defer w.finish()
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				w.closeMu.Lock()
				w.closeCode = ce.Code
				w.closeReason = ce.Text
				w.closeMu.Unlock()
			} else if w.handlers.OnError != nil {
				w.handlers.OnError(err)
			}
			return
		}
		var event WSEvent
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}
		// frames without an event name are action replies or pings
		if event.Event == "" {
			continue
		}
		if w.handlers.OnEvent != nil {
			w.handlers.OnEvent(event)
		}
	}
}

// UserTyping emits a typing indicator into a channel. Failures are
// returned but safe to ignore; typing is best effort.
func (w *WSConn) UserTyping(channelID, parentID string) error {
	w.writeMu.Lock()
	w.seq++
	seq := w.seq
	w.writeMu.Unlock()
	return w.send(map[string]any{
		"action": "user_typing",
		"seq":    seq,
		"data":   map[string]any{"channel_id": channelID, "parent_id": parentID},
	})
}

// Close shuts the connection down. Safe to call more than once and
// concurrently with the read loop.
func (w *WSConn) Close() {
	w.closeOnce.Do(func() {
		w.conn.Close()
		if w.handlers.OnClose != nil {
			w.closeMu.Lock()
			code, reason := w.closeCode, w.closeReason
			w.closeMu.Unlock()
			w.handlers.OnClose(code, reason)
		}
	})
}

func (w *WSConn) finish() {
	w.Close()
}

func (w *WSConn) send(payload any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(payload)
}
