package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/eldtechnologies/chatline/internal/models"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []models.Presence
}

func (b *recordingBroadcaster) BroadcastPresence(p models.Presence) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, p)
}

func (b *recordingBroadcaster) all() []models.Presence {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Presence(nil), b.events...)
}

type fakeRecorder struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	err   error
	calls int
}

func (r *fakeRecorder) UpdateLastSeen(_ context.Context, username string, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return r.err
	}
	if r.seen == nil {
		r.seen = make(map[string]time.Time)
	}
	r.seen[username] = lastSeen
	return nil
}

func newTestTracker(rec LastSeenRecorder) (*Tracker, *recordingBroadcaster) {
	b := &recordingBroadcaster{}
	return NewTracker(b, rec, zerolog.Nop()), b
}

func TestJoin_MarksOnlineAndBroadcasts(t *testing.T) {
	tr, b := newTestTracker(nil)

	tr.Join("alice", "h1")

	h, ok := tr.Handle("alice")
	require.True(t, ok)
	assert.Equal(t, "h1", h)

	st := tr.Status("alice")
	assert.True(t, st.Online)
	assert.Nil(t, st.LastSeen)
	assert.Equal(t, 1, tr.Online())

	events := b.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.Presence{Username: "alice", Online: true}, events[0])
}

func TestDisconnect_StaleHandleIsNoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &fakeRecorder{}
	tr, b := newTestTracker(rec)

	tr.Join("alice", "h1")
	tr.Join("alice", "h2")

	username, ok := tr.Disconnect("h1")
	assert.False(t, ok)
	assert.Empty(t, username)

	tr.Wait()

	st := tr.Status("alice")
	assert.True(t, st.Online)
	h, _ := tr.Handle("alice")
	assert.Equal(t, "h2", h)

	assert.Len(t, b.all(), 2, "stale disconnect must not broadcast")
	assert.Zero(t, rec.calls)
}

func TestDisconnect_MarksOfflineWithLastSeen(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &fakeRecorder{}
	tr, b := newTestTracker(rec)

	joined := time.Now()
	tr.Join("alice", "h1")

	username, ok := tr.Disconnect("h1")
	require.True(t, ok)
	assert.Equal(t, "alice", username)

	tr.Wait()

	st := tr.Status("alice")
	assert.False(t, st.Online)
	require.NotNil(t, st.LastSeen)
	assert.False(t, st.LastSeen.Before(joined))

	_, ok = tr.Handle("alice")
	assert.False(t, ok)
	assert.Zero(t, tr.Online())

	events := b.all()
	require.Len(t, events, 2)
	assert.False(t, events[1].Online)
	require.NotNil(t, events[1].LastSeen)
	assert.True(t, events[1].LastSeen.Equal(*st.LastSeen))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.True(t, rec.seen["alice"].Equal(*st.LastSeen))
}

func TestDisconnect_UnknownHandle(t *testing.T) {
	tr, b := newTestTracker(nil)

	_, ok := tr.Disconnect("never-joined")
	assert.False(t, ok)
	assert.Empty(t, b.all())
}

func TestDisconnect_RecorderFailureIsSwallowed(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &fakeRecorder{err: errors.New("directory down")}
	tr, _ := newTestTracker(rec)

	tr.Join("alice", "h1")
	_, ok := tr.Disconnect("h1")
	require.True(t, ok)

	tr.Wait()

	assert.Equal(t, 1, rec.calls)
	assert.False(t, tr.Status("alice").Online)
}

func TestDisconnect_DoesNotWaitForRecorder(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	rec := blockingRecorder{release: release}
	tr, _ := newTestTracker(rec)

	tr.Join("alice", "h1")

	done := make(chan struct{})
	go func() {
		tr.Disconnect("h1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect blocked on the directory write")
	}

	close(release)
	tr.Wait()
}

type blockingRecorder struct {
	release chan struct{}
}

func (r blockingRecorder) UpdateLastSeen(context.Context, string, time.Time) error {
	<-r.release
	return nil
}

func TestRejoinAfterDisconnect(t *testing.T) {
	tr, _ := newTestTracker(nil)

	tr.Join("alice", "h1")
	tr.Disconnect("h1")
	tr.Join("alice", "h2")

	st := tr.Status("alice")
	assert.True(t, st.Online)
	assert.Nil(t, st.LastSeen)
}

func TestJoin_RebindingHandleReleasesPreviousUser(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &fakeRecorder{}
	tr, b := newTestTracker(rec)

	tr.Join("alice", "h1")
	tr.Join("bob", "h1")

	assert.Equal(t, 1, tr.Online())
	assert.False(t, tr.Status("alice").Online)
	assert.True(t, tr.Status("bob").Online)
	_, ok := tr.Handle("alice")
	assert.False(t, ok)

	username, ok := tr.Disconnect("h1")
	require.True(t, ok)
	assert.Equal(t, "bob", username)
	tr.Wait()

	assert.Zero(t, tr.Online())
	assert.False(t, tr.Status("alice").Online)
	assert.False(t, tr.Status("bob").Online)

	_, ok = tr.Disconnect("h1")
	assert.False(t, ok)

	var offline []string
	for _, p := range b.all() {
		if !p.Online {
			require.NotNil(t, p.LastSeen)
			offline = append(offline, p.Username)
		}
	}
	assert.Equal(t, []string{"alice", "bob"}, offline)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Contains(t, rec.seen, "alice")
	assert.Contains(t, rec.seen, "bob")
}

func TestJoin_SameUserSameHandleStaysOnline(t *testing.T) {
	rec := &fakeRecorder{}
	tr, _ := newTestTracker(rec)

	tr.Join("alice", "h1")
	tr.Join("alice", "h1")
	tr.Wait()

	assert.True(t, tr.Status("alice").Online)
	assert.Equal(t, 1, tr.Online())
	assert.Zero(t, rec.calls)
}

func TestConcurrentJoinDisconnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &fakeRecorder{}
	tr, _ := newTestTracker(rec)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle := fmt.Sprintf("h%d", i)
			tr.Join("alice", handle)
			tr.Disconnect(handle)
		}(i)
	}
	wg.Wait()
	tr.Wait()

	// The last join is never overwritten, so its own disconnect always lands.
	_, ok := tr.Handle("alice")
	assert.False(t, ok)
	st := tr.Status("alice")
	assert.False(t, st.Online)
	assert.NotNil(t, st.LastSeen)
	assert.Zero(t, tr.Online())
}
