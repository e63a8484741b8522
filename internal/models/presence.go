package models

import "time"

// Presence is the live status of a user as seen by the relay.
type Presence struct {
	Username string     `json:"username"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}
