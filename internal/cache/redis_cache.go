package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"homemart/backend/internal/domain"
)

type RedisSaleReplayCache struct {
	client *redis.Client
}

func NewRedisSaleReplayCache(addr string, password string, db int) *RedisSaleReplayCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSaleReplayCache{client: client}
}

// NewRedisSaleReplayCacheFromURL accepts redis:// and rediss:// URLs.
func NewRedisSaleReplayCacheFromURL(rawURL string) (*RedisSaleReplayCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &RedisSaleReplayCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisSaleReplayCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSaleReplayCache) Close() error {
	return c.client.Close()
}

func (c *RedisSaleReplayCache) Get(ctx context.Context, key string) (*domain.SaleResult, bool, error) {
	val, err := c.client.Get(ctx, replayKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var result domain.SaleResult
	if err := json.Unmarshal(val, &result); err != nil {
		return nil, false, err
	}
	return &result, true, nil
}

func (c *RedisSaleReplayCache) Set(ctx context.Context, key string, value *domain.SaleResult, ttl time.Duration) error {
	if value == nil || !value.Success {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, replayKey(key), payload, ttl).Err()
}
