package cache

import (
	"context"
	"time"

	"homemart/backend/internal/domain"
)

// SaleReplayCache remembers the outcome of committed sales by idempotency
// key so a retried checkout can be answered without opening a transaction.
// It is an accelerator only; the store remains the source of truth.
type SaleReplayCache interface {
	Get(ctx context.Context, key string) (*domain.SaleResult, bool, error)
	Set(ctx context.Context, key string, value *domain.SaleResult, ttl time.Duration) error
}

type NoopSaleReplayCache struct{}

func (NoopSaleReplayCache) Get(_ context.Context, _ string) (*domain.SaleResult, bool, error) {
	return nil, false, nil
}

func (NoopSaleReplayCache) Set(_ context.Context, _ string, _ *domain.SaleResult, _ time.Duration) error {
	return nil
}

func replayKey(key string) string {
	return "homemart:sale-replay:" + key
}
