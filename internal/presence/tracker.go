// Package presence tracks which users hold a live relay connection.
//
// The tables are process-local: they start empty, change only through Join
// and Disconnect, and are discarded with the process. The only state pushed
// outward is the last-seen time, written to the user directory after a
// disconnect on a best-effort basis.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatline/internal/metrics"
	"github.com/eldtechnologies/chatline/internal/models"
)

// Broadcaster fans a presence change out to every connected client.
type Broadcaster interface {
	BroadcastPresence(p models.Presence)
}

// LastSeenRecorder persists a user's last-seen time.
type LastSeenRecorder interface {
	UpdateLastSeen(ctx context.Context, username string, lastSeen time.Time) error
}

type status struct {
	online   bool
	lastSeen *time.Time
}

// Tracker maps usernames to their current connection handle and status.
type Tracker struct {
	mu       sync.Mutex
	handles  map[string]string // username -> handle
	statuses map[string]status // username -> status

	broadcaster Broadcaster
	recorder    LastSeenRecorder
	logger      zerolog.Logger
	now         func() time.Time

	pending sync.WaitGroup
}

// NewTracker creates an empty tracker. recorder may be nil, in which case
// last-seen times are kept in memory only.
func NewTracker(broadcaster Broadcaster, recorder LastSeenRecorder, logger zerolog.Logger) *Tracker {
	return &Tracker{
		handles:     make(map[string]string),
		statuses:    make(map[string]status),
		broadcaster: broadcaster,
		recorder:    recorder,
		logger:      logger.With().Str("component", "presence").Logger(),
		now:         time.Now,
	}
}

// Join registers handle as the live connection for username, replacing any
// earlier one, and announces the user online. A handle carries one username at
// a time: if it was joined under another name, that user goes offline first.
func (t *Tracker) Join(username, handle string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if owner, ok := t.lookup(handle); ok && owner != username {
		t.logger.Debug().
			Str("username", owner).
			Str("handle", handle).
			Str("joined_as", username).
			Msg("handle rebound")
		t.release(owner)
	}

	if prev, ok := t.handles[username]; ok && prev != handle {
		t.logger.Debug().
			Str("username", username).
			Str("previous_handle", prev).
			Str("handle", handle).
			Msg("handle replaced")
	}

	t.handles[username] = handle
	t.statuses[username] = status{online: true}
	metrics.OnlineUsers.Set(float64(len(t.handles)))

	t.broadcast(models.Presence{Username: username, Online: true})
}

// Disconnect marks offline the user currently bound to handle. A handle that
// no longer owns any username (the user re-joined on another connection) is a
// no-op. Returns the username that went offline.
func (t *Tracker) Disconnect(handle string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	username, ok := t.lookup(handle)
	if !ok {
		return "", false
	}
	t.release(username)
	return username, true
}

// release marks username offline now, announces it and persists the
// last-seen time. Callers hold t.mu.
func (t *Tracker) release(username string) {
	seen := t.now()
	t.statuses[username] = status{online: false, lastSeen: &seen}
	delete(t.handles, username)
	metrics.OnlineUsers.Set(float64(len(t.handles)))

	t.broadcast(models.Presence{Username: username, Online: false, LastSeen: &seen})
	t.recordLastSeen(username, seen)
}

// lookup finds the username owning handle. Callers hold t.mu.
func (t *Tracker) lookup(handle string) (string, bool) {
	for username, h := range t.handles {
		if h == handle {
			return username, true
		}
	}
	return "", false
}

func (t *Tracker) broadcast(p models.Presence) {
	if t.broadcaster != nil {
		t.broadcaster.BroadcastPresence(p)
	}
}

// recordLastSeen persists seen without blocking the caller. Failures are
// logged and counted, never retried.
func (t *Tracker) recordLastSeen(username string, seen time.Time) {
	if t.recorder == nil {
		return
	}

	t.pending.Add(1)
	go func() {
		defer t.pending.Done()

		if err := t.recorder.UpdateLastSeen(context.Background(), username, seen); err != nil {
			metrics.LastSeenUpdateFailures.Inc()
			t.logger.Warn().
				Err(err).
				Str("username", username).
				Time("last_seen", seen).
				Msg("failed to persist last seen")
		}
	}()
}

// Handle returns the live connection handle for username.
func (t *Tracker) Handle(username string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handles[username]
	return h, ok
}

// Status returns the in-memory presence of username. Users never seen by this
// process are reported offline with no last-seen time.
func (t *Tracker) Status(username string) models.Presence {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.statuses[username]
	p := models.Presence{Username: username, Online: st.online}
	if st.lastSeen != nil {
		seen := *st.lastSeen
		p.LastSeen = &seen
	}
	return p
}

// Online returns the number of users with a live connection.
func (t *Tracker) Online() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// Wait blocks until in-flight last-seen writes have finished.
func (t *Tracker) Wait() {
	t.pending.Wait()
}
