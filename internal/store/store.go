package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/eldtechnologies/chatline/internal/models"
)

var (
	ErrAlreadyRegistered = errors.New("user already registered")
	ErrUserNotFound      = errors.New("user not found")
	ErrUsernameTaken     = errors.New("username already taken")
)

// MessageStore persists direct messages.
type MessageStore interface {
	// AppendMessage stores a new unread message with a server timestamp.
	AppendMessage(ctx context.Context, from, to, body string) (*models.Message, error)

	// Conversation returns every message exchanged between a and b, in either
	// direction, ordered by timestamp ascending.
	Conversation(ctx context.Context, a, b string) ([]models.Message, error)

	// MarkRead marks as read the messages sent BY to, TO from. The argument
	// order is inverted relative to Conversation: the caller (from) declares
	// it has read what its partner (to) sent. Returns the rows updated.
	MarkRead(ctx context.Context, from, to string) (int64, error)

	// ClearConversation deletes the conversation between a and b in both
	// directions.
	ClearConversation(ctx context.Context, a, b string) error

	// MessagedUsers returns the distinct partners username has exchanged
	// messages with.
	MessagedUsers(ctx context.Context, username string) ([]string, error)

	// UnreadSummaries groups username's messages by partner, reporting the
	// latest message and the number of unread messages addressed to username.
	UnreadSummaries(ctx context.Context, username string) ([]models.UnreadSummary, error)
}

// UserDirectory persists user records.
type UserDirectory interface {
	// CreatePendingUser creates an unverified user for contact carrying the
	// hashed OTP. A verified user for the contact yields ErrAlreadyRegistered;
	// an existing unverified one is replaced.
	CreatePendingUser(ctx context.Context, contact, otpHash string) (*models.User, error)

	// MarkVerified sets verified and clears the stored OTP.
	MarkVerified(ctx context.Context, id string) error

	GetUserByContact(ctx context.Context, contact string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// SetUsername assigns username to the user registered under contact and
	// marks the user verified.
	SetUsername(ctx context.Context, contact, username string) error

	// SearchUsers returns verified users whose username contains query,
	// case-insensitively.
	SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error)

	UpdateLastSeen(ctx context.Context, username string, lastSeen time.Time) error
	PushToken(ctx context.Context, username string) (string, error)
}

// DataStore defines the interface for persistent storage of users and messages.
// Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	MessageStore
	UserDirectory
}

// likePattern builds a substring LIKE pattern, escaping wildcards with '\'.
func likePattern(query string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query)
	return "%" + escaped + "%"
}
