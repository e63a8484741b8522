package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/chatline/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is one WebSocket connection. Its handle is opaque and unique for the
// life of the process.
type Client struct {
	handle   string
	username string // last joined username, read only by readPump

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug().Err(err).Str("handle", c.handle).Msg("read failed")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.hub.logger.Debug().Err(err).Str("handle", c.handle).Msg("malformed frame")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(env Envelope) {
	metrics.RelayEvents.WithLabelValues(eventLabel(env.Event)).Inc()
	log := c.hub.logger.With().Str("handle", c.handle).Str("event", env.Event).Logger()

	switch env.Event {
	case EventJoin:
		var p JoinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.Username == "" {
			log.Debug().Msg("join without username")
			return
		}
		c.username = p.Username
		c.hub.tracker.Join(p.Username, c.handle)
		log.Info().Str("username", p.Username).Msg("user joined")

	case EventSendMessage:
		var p MessagePayload
		if !c.decode(env, &p) {
			return
		}
		if p.validate() != nil {
			log.Debug().Msg("send_message missing fields")
			return
		}
		c.hub.RelayMessage(p.From, p.To, p.Message)
		c.persist(p)

	case EventTyping:
		var p PairPayload
		if !c.decode(env, &p) || p.validate() != nil {
			return
		}
		c.hub.RelayTyping(p.From, p.To)

	case EventSendUnread:
		var p MessagePayload
		if !c.decode(env, &p) || p.validate() != nil {
			return
		}
		c.hub.RelayUnreadDelta(p.From, p.To, p.Message)

	case EventResetUnread:
		var p PairPayload
		if !c.decode(env, &p) || p.validate() != nil {
			return
		}
		c.hub.RelayUnreadReset(p.From, p.To)

	default:
		log.Debug().Msg("unknown event")
	}
}

// decode fills a payload whose from field defaults to the joined username.
func (c *Client) decode(env Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.hub.logger.Debug().Err(err).Str("handle", c.handle).Str("event", env.Event).Msg("malformed payload")
		return false
	}
	switch p := v.(type) {
	case *MessagePayload:
		if p.From == "" {
			p.From = c.username
		}
	case *PairPayload:
		if p.From == "" {
			p.From = c.username
		}
	}
	return true
}

// persist stores a relayed message. The relay has already happened, so a
// failure is reported back to the sender instead of undoing it.
func (c *Client) persist(p MessagePayload) {
	if c.hub.messages == nil {
		return
	}

	if _, err := c.hub.messages.AppendMessage(context.Background(), p.From, p.To, p.Message); err != nil {
		metrics.MessageStoreFailures.WithLabelValues("relay").Inc()
		c.hub.logger.Error().
			Err(err).
			Str("from", p.From).
			Str("to", p.To).
			Msg("failed to store relayed message")

		if frame := c.hub.emit(EventError, ErrorPayload{Event: EventSendMessage, Error: "server error"}); frame != nil {
			c.hub.deliver(c.handle, frame)
		}
		return
	}
	metrics.MessagesStored.WithLabelValues("relay").Inc()
}

// eventLabel bounds metric cardinality to the known inbound events.
func eventLabel(event string) string {
	switch event {
	case EventJoin, EventSendMessage, EventTyping, EventSendUnread, EventResetUnread:
		return event
	default:
		return "unknown"
	}
}
