// Package relay fans chat events out to live WebSocket connections.
package relay

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatline/internal/crypto"
	"github.com/eldtechnologies/chatline/internal/metrics"
	"github.com/eldtechnologies/chatline/internal/models"
	"github.com/eldtechnologies/chatline/internal/presence"
)

// MessageAppender persists messages sent through the relay.
type MessageAppender interface {
	AppendMessage(ctx context.Context, from, to, body string) (*models.Message, error)
}

// Options configures a Hub.
type Options struct {
	// SendBuffer is the number of outbound frames queued per connection
	// before further frames are dropped.
	SendBuffer int
}

// Hub owns the live connections and the presence tracker.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client // handle -> client

	tracker  *presence.Tracker
	messages MessageAppender
	logger   zerolog.Logger
	opts     Options
	upgrader websocket.Upgrader

	sessions sync.WaitGroup
}

// NewHub creates a hub. messages may be nil, in which case send_message is
// relayed without being stored. recorder receives last-seen times on
// disconnect and may also be nil.
func NewHub(messages MessageAppender, recorder presence.LastSeenRecorder, logger zerolog.Logger, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}

	h := &Hub{
		clients:  make(map[string]*Client),
		messages: messages,
		logger:   logger.With().Str("component", "relay").Logger(),
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients connect from any origin, same as the HTTP API's CORS policy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	h.tracker = presence.NewTracker(h, recorder, logger)
	return h
}

// Tracker returns the hub's presence tracker.
func (h *Hub) Tracker() *presence.Tracker {
	return h.tracker
}

// ServeWS upgrades the request and runs a relay session on it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &Client{
		handle: crypto.NewUUIDv7().String(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBuffer),
	}
	h.register(c)

	h.sessions.Add(1)
	go c.writePump()
	go func() {
		defer h.sessions.Done()
		c.readPump()
	}()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.handle] = c
	n := len(h.clients)
	h.mu.Unlock()

	metrics.RelayConnections.Set(float64(n))
	h.logger.Debug().Str("handle", c.handle).Msg("connection opened")
}

// unregister drops c and hands its handle to the tracker. The tracker is
// only called after the hub lock is released.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.handle]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.handle)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	metrics.RelayConnections.Set(float64(n))

	if username, ok := h.tracker.Disconnect(c.handle); ok {
		h.logger.Info().Str("username", username).Str("handle", c.handle).Msg("user disconnected")
	} else {
		h.logger.Debug().Str("handle", c.handle).Msg("connection closed")
	}
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits for their sessions and any
// pending last-seen writes to finish.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	for _, c := range h.clients {
		c.conn.Close()
	}
	h.mu.RUnlock()

	h.sessions.Wait()
	h.tracker.Wait()
}

// deliver queues frame on the connection with the given handle. It never
// blocks: a full buffer drops the frame.
func (h *Hub) deliver(handle string, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[handle]
	if !ok {
		return false
	}
	return h.enqueue(c, frame)
}

// enqueue is called with h.mu held.
func (h *Hub) enqueue(c *Client, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		metrics.RelayDropped.WithLabelValues("buffer_full").Inc()
		h.logger.Warn().Str("handle", c.handle).Msg("send buffer full, dropping event")
		return false
	}
}

// sendTo delivers frame to username's current connection, if any.
func (h *Hub) sendTo(username string, frame []byte) bool {
	handle, ok := h.tracker.Handle(username)
	if !ok {
		metrics.RelayDropped.WithLabelValues("offline").Inc()
		return false
	}
	return h.deliver(handle, frame)
}

// broadcast delivers frame to every open connection.
func (h *Hub) broadcast(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		h.enqueue(c, frame)
	}
}

func (h *Hub) emit(event string, data any) []byte {
	frame, err := encode(event, data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode event")
		return nil
	}
	return frame
}

// BroadcastPresence announces a presence change to every connection.
func (h *Hub) BroadcastPresence(p models.Presence) {
	if frame := h.emit(EventUserStatus, StatusPayload{Username: p.Username, Online: p.Online, LastSeen: p.LastSeen}); frame != nil {
		h.broadcast(frame)
	}
}

// RelayMessage delivers body to to if it is online and tells every client a
// new message exists so chat lists can refresh. Returns whether the direct
// delivery was queued.
func (h *Hub) RelayMessage(from, to, body string) bool {
	delivered := false
	if frame := h.emit(EventReceiveMessage, ReceivePayload{From: from, Message: body}); frame != nil {
		delivered = h.sendTo(to, frame)
	}
	if frame := h.emit(EventNewMessageSent, MessagePayload{From: from, To: to, Message: body}); frame != nil {
		h.broadcast(frame)
	}
	return delivered
}

// RelayTyping notifies to that from is typing, plus a chat-list broadcast.
func (h *Hub) RelayTyping(from, to string) bool {
	delivered := false
	if frame := h.emit(EventUserTyping, TypingPayload{From: from}); frame != nil {
		delivered = h.sendTo(to, frame)
	}
	if frame := h.emit(EventUserTypingList, PairPayload{From: from, To: to}); frame != nil {
		h.broadcast(frame)
	}
	return delivered
}

// RelayUnreadDelta broadcasts an unread-count hint; clients filter on to.
func (h *Hub) RelayUnreadDelta(from, to, message string) {
	if frame := h.emit(EventUpdateUnread, MessagePayload{From: from, To: to, Message: message}); frame != nil {
		h.broadcast(frame)
	}
}

// RelayUnreadReset broadcasts that to's unread badge for from was cleared.
func (h *Hub) RelayUnreadReset(from, to string) {
	if frame := h.emit(EventResetUnreadCount, ResetPayload{From: from, To: to, Reset: true}); frame != nil {
		h.broadcast(frame)
	}
}
