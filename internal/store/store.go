package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"homemart/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a transaction attempt that lost to a concurrent
	// writer. RunTx retries it; once the budget is spent it is returned wrapped.
	ErrConflict       = errors.New("serialization conflict")
	ErrDuplicate      = errors.New("duplicate record")
	ErrReadAfterWrite = errors.New("transaction reads must precede writes")
	ErrNegativeStock  = errors.New("stock would become negative")
)

const DefaultMaxAttempts = 8

// Tx is a single attempt of a read-validate-write transaction. All reads
// should be issued before the first write.
type Tx interface {
	GetSkus(ctx context.Context, ids []string) (map[string]domain.SkuRecord, error)
	GetCounter(ctx context.Context, key string) (int64, bool, error)
	GetSession(ctx context.Context, id string) (*domain.CashSession, error)
	FindOpenSession(ctx context.Context, cashierID string) (*domain.CashSession, error)
	FindSaleByIdempotencyKey(ctx context.Context, key string) (*domain.Sale, error)

	IncrementStock(ctx context.Context, skuID string, delta int) error
	IncrementCounter(ctx context.Context, key string, delta int64) error
	CreateSession(ctx context.Context, session domain.CashSession) error
	UpdateSession(ctx context.Context, session domain.CashSession) error
	RecordSessionSale(ctx context.Context, sessionID string, total decimal.Decimal) error
	CreateSale(ctx context.Context, sale domain.Sale) error
}

type TxFunc func(ctx context.Context, tx Tx) error

type Store interface {
	// RunTx executes fn atomically, re-running it from scratch whenever the
	// attempt fails with ErrConflict.
	RunTx(ctx context.Context, fn TxFunc) error

	GetSku(ctx context.Context, id string) (*domain.SkuRecord, error)
	ListSkus(ctx context.Context, limit int) ([]domain.SkuRecord, error)
	SearchSkus(ctx context.Context, term string, limit int) ([]domain.SkuRecord, error)
	UpsertSku(ctx context.Context, sku domain.SkuRecord) error

	GetSession(ctx context.Context, id string) (*domain.CashSession, error)
	FindOpenSession(ctx context.Context, cashierID string) (*domain.CashSession, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSalesBySession(ctx context.Context, sessionID string) ([]domain.Sale, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Do runs fn through s.RunTx and returns the value produced by the attempt
// that committed.
func Do[T any](ctx context.Context, s Store, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var out T
	err := s.RunTx(ctx, func(ctx context.Context, tx Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Retry calls attempt until it succeeds, fails with something other than
// ErrConflict, or maxAttempts is reached.
func Retry(ctx context.Context, maxAttempts int, attempt func() error) error {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	var err error
	for i := 1; i <= maxAttempts; i++ {
		err = attempt()
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		if i == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(i)):
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", maxAttempts, err)
}

func backoff(attempt int) time.Duration {
	base := time.Duration(attempt) * 2 * time.Millisecond
	return base + time.Duration(rand.Int64N(int64(base)+1))
}
