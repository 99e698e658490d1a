package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"homemart/backend/internal/store"
)

type Config struct {
	Port           string
	AllowedOrigin  string
	DatabaseURL    string
	SQLitePath     string
	RedisAddr      string
	RedisURL       string
	RedisPassword  string
	RedisDB        int
	StoreID        string
	AuthSecret     string
	AccessTokenTTL time.Duration
	TxMaxAttempts  int
	SaleReplayTTL  time.Duration
	LoginRateLimit string
	APIRateLimit   string
	LogLevel       string
	LogPretty      bool
}

// Load reads .env when present and then the process environment, which
// wins over the file.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug().Msg("no .env file, using process environment")
		} else {
			log.Warn().Err(err).Msg("could not read .env file")
		}
	}

	return Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigin:  getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:     strings.TrimSpace(os.Getenv("SQLITE_PATH")),
		RedisAddr:      strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisURL:       strings.TrimSpace(os.Getenv("REDIS_URL")),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getInt("REDIS_DB", 0, 0),
		StoreID:        getEnv("DEFAULT_STORE_ID", "sucursal_principal"),
		AuthSecret:     strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTL: time.Duration(getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1)) * time.Minute,
		TxMaxAttempts:  getInt("TX_MAX_ATTEMPTS", store.DefaultMaxAttempts, 1),
		SaleReplayTTL:  time.Duration(getInt("SALE_REPLAY_TTL_SECONDS", 600, 1)) * time.Second,
		LoginRateLimit: getEnv("LOGIN_RATE_LIMIT", "5-M"),
		APIRateLimit:   getEnv("API_RATE_LIMIT", "600-M"),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogPretty:      getBool("LOG_PRETTY", false),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

// getInt falls back when the value is missing, malformed or below floor.
func getInt(key string, fallback int, floor int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < floor {
		log.Warn().Str("key", key).Str("value", raw).Int("fallback", fallback).Msg("ignoring invalid integer setting")
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return val
}
