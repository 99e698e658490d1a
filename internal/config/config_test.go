package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"homemart/backend/internal/store"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret)
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "DEFAULT_STORE_ID", "ACCESS_TOKEN_TTL_MINUTES", "TX_MAX_ATTEMPTS",
		"SALE_REPLAY_TTL_SECONDS", "LOGIN_RATE_LIMIT", "API_RATE_LIMIT", "LOG_LEVEL", "LOG_PRETTY",
		"DATABASE_URL", "SQLITE_PATH",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, "sucursal_principal", cfg.StoreID)
	assert.Equal(t, 8*time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, store.DefaultMaxAttempts, cfg.TxMaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.SaleReplayTTL)
	assert.Equal(t, "5-M", cfg.LoginRateLimit)
	assert.Equal(t, "600-M", cfg.APIRateLimit)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogPretty)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.SQLitePath)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_STORE_ID", "sucursal_norte")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "30")
	t.Setenv("TX_MAX_ATTEMPTS", "25")
	t.Setenv("SQLITE_PATH", " /var/lib/homemart/pos.db ")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_PRETTY", "true")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, "sucursal_norte", cfg.StoreID)
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 25, cfg.TxMaxAttempts)
	assert.Equal(t, "/var/lib/homemart/pos.db", cfg.SQLitePath)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogPretty)
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("TX_MAX_ATTEMPTS", "0")
	t.Setenv("SALE_REPLAY_TTL_SECONDS", "soon")
	t.Setenv("LOG_PRETTY", "maybe")

	cfg := Load()
	assert.Equal(t, store.DefaultMaxAttempts, cfg.TxMaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.SaleReplayTTL)
	assert.False(t, cfg.LogPretty)
}
