package models

// Message represents a direct message between two users.
type Message struct {
	ID        string `json:"id"`   // ULID
	From      string `json:"from"` // Sender username
	To        string `json:"to"`   // Recipient username
	Body      string `json:"message"`
	Read      bool   `json:"read"`
	Timestamp int64  `json:"ts"` // Unix ms, server-assigned
}

// UnreadSummary is the per-partner chat list entry for a user.
type UnreadSummary struct {
	Username        string `json:"username"`
	LastMessage     string `json:"lastMessage"`
	LastMessageTime int64  `json:"lastMessageTime"`
	Count           int    `json:"count"`
}
