package chatline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is a frame received from the relay.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the event's data into v.
func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// RelayConn is a live relay session bound to the client's username.
type RelayConn struct {
	ws       *websocket.Conn
	username string

	mu sync.Mutex // one writer at a time
}

// Connect opens a relay session and joins as the client's username.
func (c *Client) Connect(ctx context.Context) (*RelayConn, error) {
	if c.Username == "" {
		return nil, errors.New("no username: claim one first")
	}

	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	rc := &RelayConn{ws: ws, username: c.Username}
	if err := rc.emit("join", map[string]string{"username": c.Username}); err != nil {
		ws.Close()
		return nil, err
	}
	return rc, nil
}

func (rc *RelayConn) emit(event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return rc.ws.WriteJSON(Event{Event: event, Data: raw})
}

// Send relays a message to to. The server also stores it.
func (rc *RelayConn) Send(to, body string) error {
	return rc.emit("send_message", map[string]string{"from": rc.username, "to": to, "message": body})
}

// Typing tells to that the user is typing.
func (rc *RelayConn) Typing(to string) error {
	return rc.emit("typing", map[string]string{"from": rc.username, "to": to})
}

// ResetUnread announces that the user has read what from sent.
func (rc *RelayConn) ResetUnread(from string) error {
	return rc.emit("reset_unread_count", map[string]string{"from": from, "to": rc.username})
}

// Next blocks until the next event arrives.
func (rc *RelayConn) Next() (Event, error) {
	var ev Event
	err := rc.ws.ReadJSON(&ev)
	return ev, err
}

// Close ends the session.
func (rc *RelayConn) Close() error {
	rc.mu.Lock()
	rc.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	rc.mu.Unlock()
	return rc.ws.Close()
}
