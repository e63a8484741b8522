package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatline/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chatline.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func registerUser(t *testing.T, s *SQLiteStore, contact, username string) {
	t.Helper()
	ctx := context.Background()
	u, err := s.CreatePendingUser(ctx, contact, "hash")
	require.NoError(t, err)
	require.NoError(t, s.MarkVerified(ctx, u.ID.String()))
	require.NoError(t, s.SetUsername(ctx, contact, username))
}

func TestSQLite_ImplementsDataStore(t *testing.T) {
	var _ DataStore = newTestSQLiteStore(t)
}

func TestSQLite_ConversationOrderedAndSymmetric(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.AppendMessage(ctx, "alice", "bob", "hi")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, "bob", "alice", "hey")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, "alice", "bob", "how are you")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, "alice", "carol", "unrelated")
	require.NoError(t, err)

	ab, err := s.Conversation(ctx, "alice", "bob")
	require.NoError(t, err)
	ba, err := s.Conversation(ctx, "bob", "alice")
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	require.Len(t, ab, 3)
	assert.Equal(t, []string{"hi", "hey", "how are you"}, bodies(ab))
	for i := 1; i < len(ab); i++ {
		assert.LessOrEqual(t, ab[i-1].Timestamp, ab[i].Timestamp)
	}
	for _, m := range ab {
		assert.False(t, m.Read)
	}
}

func TestSQLite_ConversationEmpty(t *testing.T) {
	s := newTestSQLiteStore(t)

	msgs, err := s.Conversation(context.Background(), "nobody", "ghost")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestSQLite_MarkReadDirectionAndIdempotence(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, _ = s.AppendMessage(ctx, "alice", "bob", "one")
	_, _ = s.AppendMessage(ctx, "alice", "bob", "two")
	_, _ = s.AppendMessage(ctx, "bob", "alice", "reply")

	// bob has read what alice sent him
	n, err := s.MarkRead(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	first, err := s.Conversation(ctx, "alice", "bob")
	require.NoError(t, err)

	n, err = s.MarkRead(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Zero(t, n)

	second, err := s.Conversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	for _, m := range second {
		if m.From == "alice" {
			assert.True(t, m.Read, "message %q should be read", m.Body)
		} else {
			assert.False(t, m.Read, "bob's own message must stay unread")
		}
	}
}

func TestSQLite_UnreadScenario(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.AppendMessage(ctx, "A", "B", "hi")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, "B", "A", "hey")
	require.NoError(t, err)

	forB, err := s.UnreadSummaries(ctx, "B")
	require.NoError(t, err)
	require.Len(t, forB, 1)
	assert.Equal(t, "A", forB[0].Username)
	assert.Equal(t, "hey", forB[0].LastMessage)
	assert.Equal(t, 1, forB[0].Count)

	_, err = s.MarkRead(ctx, "B", "A")
	require.NoError(t, err)

	forB, err = s.UnreadSummaries(ctx, "B")
	require.NoError(t, err)
	require.Len(t, forB, 1)
	assert.Zero(t, forB[0].Count)

	forA, err := s.UnreadSummaries(ctx, "A")
	require.NoError(t, err)
	require.Len(t, forA, 1)
	assert.Equal(t, models.UnreadSummary{
		Username:        "B",
		LastMessage:     "hey",
		LastMessageTime: forA[0].LastMessageTime,
		Count:           1,
	}, forA[0])
}

func TestSQLite_UnreadCountMatchesStoredRows(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	senders := []string{"alice", "carol", "dave"}
	for round := 0; round < 4; round++ {
		for i, from := range senders {
			for k := 0; k <= i; k++ {
				_, err := s.AppendMessage(ctx, from, "bob", fmt.Sprintf("%s-%d-%d", from, round, k))
				require.NoError(t, err)
			}
		}
		if round == 1 {
			_, err := s.MarkRead(ctx, "bob", "carol")
			require.NoError(t, err)
		}
	}

	summaries, err := s.UnreadSummaries(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, summaries, len(senders))

	for _, sum := range summaries {
		conv, err := s.Conversation(ctx, "bob", sum.Username)
		require.NoError(t, err)
		want := 0
		for _, m := range conv {
			if m.To == "bob" && !m.Read {
				want++
			}
		}
		assert.Equal(t, want, sum.Count, "sender %s", sum.Username)
	}
}

func TestSQLite_UnreadConcurrentWithAppend(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, err := s.AppendMessage(ctx, "alice", "bob", "msg")
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, err := s.UnreadSummaries(ctx, "bob")
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	summaries, err := s.UnreadSummaries(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 20, summaries[0].Count)
}

func TestSQLite_ClearConversation(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, _ = s.AppendMessage(ctx, "A", "B", "hi")
	_, _ = s.AppendMessage(ctx, "B", "A", "hey")
	_, _ = s.AppendMessage(ctx, "A", "C", "keep")

	require.NoError(t, s.ClearConversation(ctx, "A", "B"))

	msgs, err := s.Conversation(ctx, "A", "B")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	kept, err := s.Conversation(ctx, "A", "C")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestSQLite_MessagedUsers(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, _ = s.AppendMessage(ctx, "alice", "bob", "1")
	_, _ = s.AppendMessage(ctx, "carol", "alice", "2")
	_, _ = s.AppendMessage(ctx, "alice", "bob", "3")
	_, _ = s.AppendMessage(ctx, "alice", "alice", "note to self")

	users, err := s.MessagedUsers(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, users)
}

func TestSQLite_PendingUserReplacement(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := s.CreatePendingUser(ctx, "a@example.com", "hash1")
	require.NoError(t, err)
	second, err := s.CreatePendingUser(ctx, "a@example.com", "hash2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	got, err := s.GetUserByContact(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, "hash2", got.OTPHash)
	assert.False(t, got.Verified)

	require.NoError(t, s.MarkVerified(ctx, got.ID.String()))

	got, err = s.GetUserByContact(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, got.Verified)
	assert.Empty(t, got.OTPHash)

	_, err = s.CreatePendingUser(ctx, "a@example.com", "hash3")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestSQLite_UserNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	u, err := s.GetUserByContact(ctx, "missing@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = s.GetUserByUsername(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, u)

	assert.ErrorIs(t, s.SetUsername(ctx, "missing@example.com", "x"), ErrUserNotFound)
	assert.ErrorIs(t, s.UpdateLastSeen(ctx, "missing", time.Now()), ErrUserNotFound)

	token, err := s.PushToken(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, token)
}

type stubResult struct {
	n   int64
	err error
}

func (r stubResult) LastInsertId() (int64, error) { return 0, nil }
func (r stubResult) RowsAffected() (int64, error) { return r.n, r.err }

func TestRequireRow(t *testing.T) {
	assert.NoError(t, requireRow(stubResult{n: 1}, "update"))
	assert.ErrorIs(t, requireRow(stubResult{n: 0}, "update"), ErrUserNotFound)

	driverErr := errors.New("driver gone")
	err := requireRow(stubResult{err: driverErr}, "update last seen")
	require.Error(t, err)
	assert.ErrorIs(t, err, driverErr)
	assert.NotErrorIs(t, err, ErrUserNotFound)
	assert.Contains(t, err.Error(), "update last seen")
}

func TestSQLite_SetUsernameUnique(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	registerUser(t, s, "a@example.com", "alice")

	_, err := s.CreatePendingUser(ctx, "b@example.com", "hash")
	require.NoError(t, err)
	err = s.SetUsername(ctx, "b@example.com", "alice")
	assert.True(t, errors.Is(err, ErrUsernameTaken), "got %v", err)

	u, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "a@example.com", u.Contact)
	assert.True(t, u.Verified)
}

func TestSQLite_SearchUsers(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	registerUser(t, s, "a@example.com", "Alice")
	registerUser(t, s, "b@example.com", "malice_99")
	registerUser(t, s, "c@example.com", "bob")
	_, err := s.CreatePendingUser(ctx, "d@example.com", "hash")
	require.NoError(t, err)

	users, err := s.SearchUsers(ctx, "ALI", 10)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Alice", users[0].Username)
	assert.Equal(t, "malice_99", users[1].Username)

	// wildcards are literal
	users, err = s.SearchUsers(ctx, "_", 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "malice_99", users[0].Username)
}

func TestSQLite_LastSeenAndPushToken(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	registerUser(t, s, "a@example.com", "alice")

	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.UpdateLastSeen(ctx, "alice", seen))

	u, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, u.LastSeen)
	assert.True(t, seen.Equal(*u.LastSeen))
	assert.False(t, u.Online)

	_, err = s.db.ExecContext(ctx, `UPDATE users SET push_token = ? WHERE username = ?`, "tok-1", "alice")
	require.NoError(t, err)

	token, err := s.PushToken(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}

func bodies(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Body
	}
	return out
}
