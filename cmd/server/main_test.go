package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homemart/backend/internal/config"
	"homemart/backend/internal/domain"
	"homemart/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: "short"}))
	assert.Error(t, validateSecurityConfig(config.Config{}))
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	assert.NoError(t, validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"}))
}

func TestSetupLoggingFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	setupLogging(config.Config{LogLevel: "debug"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	setupLogging(config.Config{LogLevel: "chatty"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestOpenStoreUsesSqliteAndSeedsOnce(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-pass-for-tests")
	ctx := context.Background()
	path := t.TempDir() + "/pos.db"
	cfg := config.Config{SQLitePath: path, TxMaxAttempts: 5}

	repo, closeFn, err := openStore(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, closeFn)

	skus, err := repo.ListSkus(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, skus, len(memory.SeedSkus()))

	require.NoError(t, repo.UpsertSku(ctx, domain.SkuRecord{ID: "sku-extra", Name: "Extra"}))
	require.NoError(t, closeFn())

	reopened, closeAgain, err := openStore(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeAgain() })

	skus, err = reopened.ListSkus(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, skus, len(memory.SeedSkus())+1)

	users, err := reopened.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 3)
}

func TestOpenStoreDefaultsToMemory(t *testing.T) {
	repo, closeFn, err := openStore(context.Background(), config.Config{TxMaxAttempts: 3})
	require.NoError(t, err)
	assert.Nil(t, closeFn)
	assert.IsType(t, &memory.Store{}, repo)
}

func TestOpenRedisIsOptional(t *testing.T) {
	c, err := openRedis(context.Background(), config.Config{})
	assert.NoError(t, err)
	assert.Nil(t, c)

	_, err = openRedis(context.Background(), config.Config{RedisURL: "not a url"})
	assert.Error(t, err)
}
