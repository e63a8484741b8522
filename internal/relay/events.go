package relay

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Inbound event names.
const (
	EventJoin        = "join"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventSendUnread  = "send_unread_count"
	EventResetUnread = "reset_unread_count"
)

// Outbound event names.
const (
	EventReceiveMessage   = "receive_message"
	EventNewMessageSent   = "new_message_sent"
	EventUserTyping       = "user_typing"
	EventUserTypingList   = "user_typing_chatList"
	EventUserStatus       = "user_status"
	EventUpdateUnread     = "update_unread"
	EventResetUnreadCount = "reset_unread"
	EventError            = "error"
)

var errMissingFields = errors.New("missing required fields")

// Envelope is the frame exchanged over the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload announces the username bound to a connection. Clients may send
// either {"username": "..."} or a bare JSON string.
type JoinPayload struct {
	Username string `json:"username"`
}

func (p *JoinPayload) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		p.Username = name
		return nil
	}
	type plain JoinPayload
	return json.Unmarshal(data, (*plain)(p))
}

// MessagePayload carries a chat message; used inbound for send_message and
// send_unread_count, outbound for new_message_sent and update_unread.
type MessagePayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

func (p MessagePayload) validate() error {
	if strings.TrimSpace(p.From) == "" || strings.TrimSpace(p.To) == "" || p.Message == "" {
		return errMissingFields
	}
	return nil
}

// PairPayload names a sender and recipient without a body.
type PairPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (p PairPayload) validate() error {
	if strings.TrimSpace(p.From) == "" || strings.TrimSpace(p.To) == "" {
		return errMissingFields
	}
	return nil
}

// ReceivePayload is delivered directly to a message's recipient.
type ReceivePayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// TypingPayload is delivered directly to the user being typed to.
type TypingPayload struct {
	From string `json:"from"`
}

// StatusPayload announces a presence change to every client.
type StatusPayload struct {
	Username string     `json:"username"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// ResetPayload tells clients a conversation's unread badge was cleared.
type ResetPayload struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Reset bool   `json:"reset"`
}

// ErrorPayload reports a failed inbound event to its sender.
type ErrorPayload struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// encode builds an outbound frame.
func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
