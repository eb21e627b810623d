package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "message_events", cfg.RabbitQueue)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, int64(4096), cfg.WSMaxMessageSize)
	assert.Equal(t, 5, cfg.WSRateBurst)
	assert.Equal(t, 50, cfg.HistoryPageSize)
	assert.Equal(t, 3, cfg.RabbitMaxRetries)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.RabbitURL)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("DB_DSN", "sqlite:chat.db")
	t.Setenv("JWT_TTL", "1h")
	t.Setenv("WS_ALLOWED_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("WORKER_CONCURRENCY", "500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "sqlite:chat.db", cfg.DBDSN)
	assert.Equal(t, time.Hour, cfg.JWTTTL)
	assert.Len(t, cfg.WSAllowedOrigins, 2)
	assert.Equal(t, 50, cfg.WorkerConcurrency)
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("JWT_TTL", "soon")
	_, err := Load()
	assert.Error(t, err)
}
