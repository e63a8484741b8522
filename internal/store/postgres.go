package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/chatline/internal/crypto"
	"github.com/eldtechnologies/chatline/internal/models"
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// AppendMessage stores a new unread message.
func (s *PostgresStore) AppendMessage(ctx context.Context, from, to, body string) (*models.Message, error) {
	now := time.Now()
	msg := &models.Message{
		ID:        crypto.NewMessageID(now),
		From:      from,
		To:        to,
		Body:      body,
		Timestamp: now.UnixMilli(),
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, from_user, to_user, body, read, ts)
		VALUES ($1, $2, $3, $4, FALSE, $5)
	`, msg.ID, msg.From, msg.To, msg.Body, msg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// Conversation returns the messages between a and b, oldest first.
func (s *PostgresStore) Conversation(ctx context.Context, a, b string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, from_user, to_user, body, read, ts
		FROM messages
		WHERE (from_user = $1 AND to_user = $2) OR (from_user = $2 AND to_user = $1)
		ORDER BY ts ASC, id ASC
	`, a, b)
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	defer rows.Close()

	return scanPostgresMessages(rows)
}

// MarkRead marks messages sent by to, to from, as read.
func (s *PostgresStore) MarkRead(ctx context.Context, from, to string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET read = TRUE
		WHERE from_user = $1 AND to_user = $2 AND read = FALSE
	`, to, from)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClearConversation deletes the conversation between a and b.
func (s *PostgresStore) ClearConversation(ctx context.Context, a, b string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM messages
		WHERE (from_user = $1 AND to_user = $2) OR (from_user = $2 AND to_user = $1)
	`, a, b)
	if err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

// MessagedUsers returns the distinct partners of username.
func (s *PostgresStore) MessagedUsers(ctx context.Context, username string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT partner FROM (
			SELECT to_user AS partner FROM messages WHERE from_user = $1
			UNION
			SELECT from_user AS partner FROM messages WHERE to_user = $1
		) AS partners
		WHERE partner <> $1
		ORDER BY partner
	`, username)
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
func (s *PostgresStore) UnreadSummaries(ctx context.Context, username string) ([]models.UnreadSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, from_user, to_user, body, read, ts
		FROM messages
		WHERE from_user = $1 OR to_user = $1
		ORDER BY ts DESC, id DESC
	`, username)
	if err != nil {
		return nil, fmt.Errorf("unread summaries: %w", err)
	}
	defer rows.Close()

	msgs, err := scanPostgresMessages(rows)
	if err != nil {
		return nil, err
	}
	return summarizeUnread(username, msgs), nil
}

func scanPostgresMessages(rows pgx.Rows) ([]models.Message, error) {
	msgs := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.From, &msg.To, &msg.Body, &msg.Read, &msg.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// CreatePendingUser creates an unverified user, replacing any unverified
// record for the same contact.
func (s *PostgresStore) CreatePendingUser(ctx context.Context, contact, otpHash string) (*models.User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var verified bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE contact = $1 AND verified = TRUE)
	`, contact).Scan(&verified)
	if err != nil {
		return nil, fmt.Errorf("check contact: %w", err)
	}
	if verified {
		return nil, ErrAlreadyRegistered
	}

	if _, err := tx.Exec(ctx, `DELETE FROM users WHERE contact = $1 AND verified = FALSE`, contact); err != nil {
		return nil, fmt.Errorf("delete unverified: %w", err)
	}

	user := &models.User{
		ID:      crypto.NewUUIDv7(),
		Contact: contact,
		OTPHash: otpHash,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO users (id, contact, otp_hash, verified)
		VALUES ($1, $2, $3, FALSE)
		RETURNING created_at
	`, user.ID, user.Contact, user.OTPHash).Scan(&user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return user, nil
}

// MarkVerified marks the user verified and clears its OTP.
func (s *PostgresStore) MarkVerified(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET verified = TRUE, otp_hash = NULL WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

const postgresUserColumns = `id, contact, otp_hash, username, verified, push_token, created_at, last_seen, online`

// GetUserByContact retrieves the user registered under contact, preferring a
// verified record.
func (s *PostgresStore) GetUserByContact(ctx context.Context, contact string) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+postgresUserColumns+`
		FROM users WHERE contact = $1
		ORDER BY verified DESC, created_at DESC
		LIMIT 1
	`, contact)
	return scanPostgresUser(row)
}

// GetUserByUsername retrieves a user by username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+postgresUserColumns+`
		FROM users WHERE username = $1
	`, username)
	return scanPostgresUser(row)
}

func scanPostgresUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	var otpHash, username, pushToken *string

	err := row.Scan(
		&user.ID,
		&user.Contact,
		&otpHash,
		&username,
		&user.Verified,
		&pushToken,
		&user.CreatedAt,
		&user.LastSeen,
		&user.Online,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if otpHash != nil {
		user.OTPHash = *otpHash
	}
	if username != nil {
		user.Username = *username
	}
	if pushToken != nil {
		user.PushToken = *pushToken
	}
	return user, nil
}

// SetUsername assigns a username to the user registered under contact.
func (s *PostgresStore) SetUsername(ctx context.Context, contact, username string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET username = $1, verified = TRUE
		WHERE id = (
			SELECT id FROM users WHERE contact = $2
			ORDER BY verified DESC, created_at DESC LIMIT 1
		)
	`, username, contact)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUsernameTaken
		}
		return fmt.Errorf("set username: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SearchUsers finds verified users by username substring.
func (s *PostgresStore) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username
		FROM users
		WHERE verified = TRUE AND username IS NOT NULL AND username ILIKE $1
		ORDER BY username
		LIMIT $2
	`, likePattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		user := models.User{Verified: true}
		if err := rows.Scan(&user.ID, &user.Username); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateLastSeen records when username was last connected.
func (s *PostgresStore) UpdateLastSeen(ctx context.Context, username string, lastSeen time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET last_seen = $1 WHERE username = $2
	`, lastSeen, username)
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// PushToken returns the push token for username, or "" if none is known.
func (s *PostgresStore) PushToken(ctx context.Context, username string) (string, error) {
	var token *string
	err := s.pool.QueryRow(ctx, `
		SELECT push_token FROM users WHERE username = $1
	`, username).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	if token == nil {
		return "", nil
	}
	return *token, nil
}
