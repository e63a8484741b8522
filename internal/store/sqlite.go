package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/chatline/internal/crypto"
	"github.com/eldtechnologies/chatline/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chatline.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chatline.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		contact TEXT NOT NULL,
		otp_hash TEXT,
		username TEXT UNIQUE,
		verified INTEGER NOT NULL DEFAULT 0,
		push_token TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_seen DATETIME,
		online INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		from_user TEXT NOT NULL,
		to_user TEXT NOT NULL,
		body TEXT NOT NULL,
		read INTEGER NOT NULL DEFAULT 0,
		ts INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_contact ON users(contact);
	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(from_user, to_user, ts);
	CREATE INDEX IF NOT EXISTS idx_messages_to_read ON messages(to_user, read);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AppendMessage stores a new unread message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, from, to, body string) (*models.Message, error) {
	now := time.Now()
	msg := &models.Message{
		ID:        crypto.NewMessageID(now),
		From:      from,
		To:        to,
		Body:      body,
		Timestamp: now.UnixMilli(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, from_user, to_user, body, read, ts)
		VALUES (?, ?, ?, ?, 0, ?)
	`, msg.ID, msg.From, msg.To, msg.Body, msg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// Conversation returns the messages between a and b, oldest first.
func (s *SQLiteStore) Conversation(ctx context.Context, a, b string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_user, to_user, body, read, ts
		FROM messages
		WHERE (from_user = ? AND to_user = ?) OR (from_user = ? AND to_user = ?)
		ORDER BY ts ASC, id ASC
	`, a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	defer rows.Close()

	return scanSQLiteMessages(rows)
}

// MarkRead marks messages sent by to, to from, as read.
func (s *SQLiteStore) MarkRead(ctx context.Context, from, to string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read = 1
		WHERE from_user = ? AND to_user = ? AND read = 0
	`, to, from)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

// ClearConversation deletes the conversation between a and b.
func (s *SQLiteStore) ClearConversation(ctx context.Context, a, b string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE (from_user = ? AND to_user = ?) OR (from_user = ? AND to_user = ?)
	`, a, b, b, a)
	if err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

// MessagedUsers returns the distinct partners of username.
func (s *SQLiteStore) MessagedUsers(ctx context.Context, username string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT partner FROM (
			SELECT to_user AS partner FROM messages WHERE from_user = ?
			UNION
			SELECT from_user AS partner FROM messages WHERE to_user = ?
		) AS partners
		WHERE partner <> ?
		ORDER BY partner
	`, username, username, username)
	if err != nil {
		return nil, fmt.Errorf("messaged users: %w", err)
	}
	defer rows.Close()

	users := make([]string, 0)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UnreadSummaries aggregates username's messages per partner.
func (s *SQLiteStore) UnreadSummaries(ctx context.Context, username string) ([]models.UnreadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_user, to_user, body, read, ts
		FROM messages
		WHERE from_user = ? OR to_user = ?
		ORDER BY ts DESC, id DESC
	`, username, username)
	if err != nil {
		return nil, fmt.Errorf("unread summaries: %w", err)
	}
	defer rows.Close()

	msgs, err := scanSQLiteMessages(rows)
	if err != nil {
		return nil, err
	}
	return summarizeUnread(username, msgs), nil
}

func scanSQLiteMessages(rows *sql.Rows) ([]models.Message, error) {
	msgs := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		var readInt int
		if err := rows.Scan(&msg.ID, &msg.From, &msg.To, &msg.Body, &readInt, &msg.Timestamp); err != nil {
			return nil, err
		}
		msg.Read = readInt == 1
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// CreatePendingUser creates an unverified user, replacing any unverified
// record for the same contact.
func (s *SQLiteStore) CreatePendingUser(ctx context.Context, contact, otpHash string) (*models.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var verified int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users WHERE contact = ? AND verified = 1
	`, contact).Scan(&verified)
	if err != nil {
		return nil, fmt.Errorf("check contact: %w", err)
	}
	if verified > 0 {
		return nil, ErrAlreadyRegistered
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE contact = ? AND verified = 0`, contact); err != nil {
		return nil, fmt.Errorf("delete unverified: %w", err)
	}

	user := &models.User{
		ID:        crypto.NewUUIDv7(),
		Contact:   contact,
		OTPHash:   otpHash,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, contact, otp_hash, verified, created_at)
		VALUES (?, ?, ?, 0, ?)
	`, user.ID.String(), user.Contact, user.OTPHash, user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return user, nil
}

// MarkVerified marks the user verified and clears its OTP.
func (s *SQLiteStore) MarkVerified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET verified = 1, otp_hash = NULL WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return requireRow(res, "mark verified")
}

const sqliteUserColumns = `id, contact, otp_hash, username, verified, push_token, created_at, last_seen, online`

// GetUserByContact retrieves the user registered under contact, preferring a
// verified record.
func (s *SQLiteStore) GetUserByContact(ctx context.Context, contact string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteUserColumns+`
		FROM users WHERE contact = ?
		ORDER BY verified DESC, created_at DESC
		LIMIT 1
	`, contact)
	return scanSQLiteUser(row)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteUserColumns+`
		FROM users WHERE username = ?
	`, username)
	return scanSQLiteUser(row)
}

func scanSQLiteUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var idStr string
	var otpHash, username, pushToken sql.NullString
	var verifiedInt, onlineInt int

	err := row.Scan(
		&idStr,
		&user.Contact,
		&otpHash,
		&username,
		&verifiedInt,
		&pushToken,
		&user.CreatedAt,
		&user.LastSeen,
		&onlineInt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	user.ID = uuid.MustParse(idStr)
	user.OTPHash = otpHash.String
	user.Username = username.String
	user.PushToken = pushToken.String
	user.Verified = verifiedInt == 1
	user.Online = onlineInt == 1
	return user, nil
}

// SetUsername assigns a username to the user registered under contact.
func (s *SQLiteStore) SetUsername(ctx context.Context, contact, username string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET username = ?, verified = 1
		WHERE id = (
			SELECT id FROM users WHERE contact = ?
			ORDER BY verified DESC, created_at DESC LIMIT 1
		)
	`, username, contact)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrUsernameTaken
		}
		return fmt.Errorf("set username: %w", err)
	}
	return requireRow(res, "set username")
}

// SearchUsers finds verified users by username substring.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username
		FROM users
		WHERE verified = 1 AND username IS NOT NULL AND username LIKE ? ESCAPE '\'
		ORDER BY username
		LIMIT ?
	`, likePattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		var idStr, username string
		if err := rows.Scan(&idStr, &username); err != nil {
			return nil, err
		}
		users = append(users, models.User{ID: uuid.MustParse(idStr), Username: username, Verified: true})
	}
	return users, rows.Err()
}

// UpdateLastSeen records when username was last connected.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, username string, lastSeen time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_seen = ? WHERE username = ?
	`, lastSeen.UTC(), username)
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	return requireRow(res, "update last seen")
}

// PushToken returns the push token for username, or "" if none is known.
func (s *SQLiteStore) PushToken(ctx context.Context, username string) (string, error) {
	var token sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT push_token FROM users WHERE username = ?
	`, username).Scan(&token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return token.String, nil
}

// requireRow maps an update that touched no rows to ErrUserNotFound.
func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
