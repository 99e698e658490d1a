package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"homemart/backend/internal/cache"
	"homemart/backend/internal/config"
	"homemart/backend/internal/httpapi"
	"homemart/backend/internal/service"
	"homemart/backend/internal/store"
	"homemart/backend/internal/store/memory"
	pgstore "homemart/backend/internal/store/postgres"
	sqlitestore "homemart/backend/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg)
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	repo, closeRepo, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store unavailable")
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	replay := cache.SaleReplayCache(cache.NoopSaleReplayCache{})
	if redisCache, err := openRedis(ctx, cfg); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, sale replay cache disabled")
	} else if redisCache != nil {
		replay = redisCache
		closers = append(closers, redisCache.Close)
		log.Info().Msg("cache: redis")
	} else {
		log.Info().Msg("cache: noop")
	}

	svc := service.New(repo, replay, cfg.SaleReplayTTL, cfg.StoreID)
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api, err := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		LoginRateLimit: cfg.LoginRateLimit,
		APIRateLimit:   cfg.APIRateLimit,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid http configuration")
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Str("store_id", cfg.StoreID).Msg("POS backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

// openStore picks postgres, then sqlite, then the in-memory store. A
// configured database that cannot be reached is fatal rather than silently
// replaced by memory.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, pgstore.WithMaxAttempts(cfg.TxMaxAttempts))
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := seedEmptyStore(ctx, pg); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		log.Info().Msg("store: postgres")
		return pg, pg.Close, nil

	case cfg.SQLitePath != "":
		lite, err := sqlitestore.New(ctx, cfg.SQLitePath, sqlitestore.WithMaxAttempts(cfg.TxMaxAttempts))
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		if err := lite.Migrate(ctx); err != nil {
			_ = lite.Close()
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		if err := seedEmptyStore(ctx, lite); err != nil {
			_ = lite.Close()
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("store: sqlite")
		return lite, lite.Close, nil
	}

	log.Info().Msg("store: in-memory")
	return memory.NewSeeded(memory.WithMaxAttempts(cfg.TxMaxAttempts)), nil, nil
}

// seedEmptyStore loads the demo catalog and accounts into a fresh database.
// Tables that already hold rows are left alone.
func seedEmptyStore(ctx context.Context, st store.Store) error {
	skus, err := st.ListSkus(ctx, 1)
	if err != nil {
		return fmt.Errorf("check catalog: %w", err)
	}
	if len(skus) == 0 {
		for _, sku := range memory.SeedSkus() {
			if err := st.UpsertSku(ctx, sku); err != nil {
				return fmt.Errorf("seed sku %s: %w", sku.ID, err)
			}
		}
		log.Info().Msg("seeded demo catalog")
	}

	users, err := st.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("check users: %w", err)
	}
	if len(users) == 0 {
		for _, user := range memory.SeedUsers() {
			if err := st.CreateUser(ctx, user); err != nil && !errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("seed user %s: %w", user.Username, err)
			}
		}
		log.Info().Msg("seeded demo accounts")
	}
	return nil
}

// openRedis returns a nil cache when redis is not configured.
func openRedis(ctx context.Context, cfg config.Config) (*cache.RedisSaleReplayCache, error) {
	var redisCache *cache.RedisSaleReplayCache
	switch {
	case cfg.RedisURL != "":
		c, err := cache.NewRedisSaleReplayCacheFromURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		redisCache = c
	case cfg.RedisAddr != "":
		redisCache = cache.NewRedisSaleReplayCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, nil
	}

	if err := redisCache.Ping(ctx); err != nil {
		_ = redisCache.Close()
		return nil, err
	}
	return redisCache, nil
}
