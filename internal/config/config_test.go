package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("RATE_LIMIT_WHITELIST", "")
	t.Setenv("WS_SEND_BUFFER", "")
	t.Setenv("OTP_MAX_ATTEMPTS", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "./data/chatline.db", cfg.SQLitePath)
	assert.Equal(t, 32, cfg.WSSendBuffer)
	assert.Equal(t, 5, cfg.OTPMaxAttempts)
	assert.Empty(t, cfg.RateLimitWhitelist)
}

func TestLoad_Whitelist(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("RATE_LIMIT_WHITELIST", " 10.0.0.1, 192.168.0.0/16 ,,")

	cfg := Load()
	require.Len(t, cfg.RateLimitWhitelist, 2)
	assert.Equal(t, "10.0.0.1", cfg.RateLimitWhitelist[0])
	assert.Equal(t, "192.168.0.0/16", cfg.RateLimitWhitelist[1])
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("WS_SEND_BUFFER", "lots")
	t.Setenv("OTP_MAX_ATTEMPTS", "-3")

	cfg := Load()
	assert.Equal(t, 32, cfg.WSSendBuffer)
	assert.Equal(t, 5, cfg.OTPMaxAttempts)
}

func TestLoad_ProductionRequiresDatabase(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	assert.PanicsWithValue(t, "DATABASE_URL is required in production", func() { Load() })
}

func TestLoad_ProductionRequiresRedis(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/chatline")
	t.Setenv("REDIS_URL", "")

	assert.PanicsWithValue(t, "REDIS_URL is required in production", func() { Load() })
}
