package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered (or pending) chat user.
type User struct {
	ID        uuid.UUID  `json:"id"`
	Contact   string     `json:"contact"`
	OTPHash   string     `json:"-"` // bcrypt, cleared after verification
	Username  string     `json:"username,omitempty"`
	Verified  bool       `json:"verified"`
	PushToken string     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	Online    bool       `json:"online"` // persisted but never written by the relay
}
