package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Whitelist(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{
		Whitelist: []string{"10.0.0.5", "192.168.0.0/16", "not-a-cidr/99"},
	})

	assert.True(t, rl.isWhitelisted("10.0.0.5"))
	assert.True(t, rl.isWhitelisted("192.168.4.20"))
	assert.False(t, rl.isWhitelisted("10.0.0.6"))
	assert.False(t, rl.isWhitelisted("garbage"))
}

func TestRateLimiter_FindLimit(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})

	tests := []struct {
		method, path string
		want         string
	}{
		{http.MethodPost, "/otp/send", "POST /otp/send"},
		{http.MethodPost, "/messages/read", "POST /messages/read"},
		{http.MethodPost, "/messages", "POST /messages"},
		{http.MethodGet, "/messages/alice/bob", "GET /messages/"},
		{http.MethodGet, "/users/alice/unread", "GET /users/"},
		{http.MethodGet, "/ws", "GET /ws"},
		{http.MethodGet, "/health", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			limit := rl.findLimit(httptest.NewRequest(tt.method, tt.path, nil))
			if tt.want == "" {
				assert.Nil(t, limit)
				return
			}
			require.NotNil(t, limit)
			assert.Equal(t, tt.want, limit.Pattern)
		})
	}
}

func TestRealIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:4242"
	assert.Equal(t, "203.0.113.9", RealIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", RealIP(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	assert.Equal(t, "198.51.100.7", RealIP(r))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/users/:username/unread", normalizePath("/users/alice/unread"))
	assert.Equal(t, "/users/:username/status", normalizePath("/users/bob/status"))
	assert.Equal(t, "/users/x/y/z", normalizePath("/users/x/y/z"))
	assert.Equal(t, "/messages/:a/:b", normalizePath("/messages/alice/bob"))
	assert.Equal(t, "/messages/read", normalizePath("/messages/read"))
	assert.Equal(t, "/health", normalizePath("/health"))
}

func TestValidateRequest(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := ValidateRequest(ok)

	r := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("x=1"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/messages/a/..%2f..", nil)
	r.URL.Path = "/messages/a/../.."
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	r = httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *logBuffer) entries(t *testing.T) []map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		out = append(out, e)
	}
	return out
}

func TestLogger_LevelsByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusNotFound, "warn"},
		{http.StatusInternalServerError, "error"},
	}
	for _, tt := range tests {
		buf := &logBuffer{}
		h := Logger(zerolog.New(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

		entries := buf.entries(t)
		require.Len(t, entries, 1)
		assert.Equal(t, tt.level, entries[0]["level"])
		assert.Equal(t, float64(tt.status), entries[0]["status"])
		assert.Equal(t, "request completed", entries[0]["message"])
	}
}

func TestLogger_WebSocketUpgrade(t *testing.T) {
	buf := &logBuffer{}
	upgrader := websocket.Upgrader{}
	h := Logger(zerolog.New(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool { return strings.Contains(buf.String(), "websocket upgraded") }, 2*time.Second, 10*time.Millisecond)
	entries := buf.entries(t)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "debug", e["level"])
	assert.Equal(t, float64(http.StatusSwitchingProtocols), e["status"])
	assert.Equal(t, "websocket upgraded", e["message"])
	assert.Equal(t, "/ws", e["path"])
}
