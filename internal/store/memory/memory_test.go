package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homemart/backend/internal/domain"
	"homemart/backend/internal/store"
)

func newTestStore(t *testing.T, stock int) *Store {
	t.Helper()
	s := New()
	require.NoError(t, s.UpsertSku(context.Background(), domain.SkuRecord{
		ID:    "A",
		Name:  "Cafe",
		Price: decimal.NewFromInt(100),
		Stock: stock,
	}))
	return s
}

func TestRunTxRetriesAfterConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 5)

	attempts := 0
	err := s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		attempts++
		skus, err := tx.GetSkus(ctx, []string{"A"})
		if err != nil {
			return err
		}
		require.Contains(t, skus, "A")

		if attempts == 1 {
			// Another writer commits between our read and our commit.
			require.NoError(t, s.RunTx(ctx, func(ctx context.Context, inner store.Tx) error {
				if _, err := inner.GetSkus(ctx, []string{"A"}); err != nil {
					return err
				}
				return inner.IncrementStock(ctx, "A", -1)
			}))
		}
		return tx.IncrementStock(ctx, "A", -1)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	sku, err := s.GetSku(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 3, sku.Stock)
}

func TestRunTxGivesUpAfterBudget(t *testing.T) {
	ctx := context.Background()
	s := New(WithMaxAttempts(2))
	require.NoError(t, s.UpsertSku(ctx, domain.SkuRecord{ID: "A", Stock: 10}))

	err := s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetSkus(ctx, []string{"A"}); err != nil {
			return err
		}
		require.NoError(t, s.UpsertSku(ctx, domain.SkuRecord{ID: "A", Stock: 10}))
		return tx.IncrementStock(ctx, "A", -1)
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestReadsMustPrecedeWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 5)

	err := s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.IncrementCounter(ctx, "sales_251018", 1); err != nil {
			return err
		}
		_, _, err := tx.GetCounter(ctx, "sales_251018")
		return err
	})
	assert.ErrorIs(t, err, store.ErrReadAfterWrite)
}

func TestFailedCommitLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 1)

	err := s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.IncrementCounter(ctx, "sales_251018", 1); err != nil {
			return err
		}
		return tx.IncrementStock(ctx, "A", -2)
	})
	assert.ErrorIs(t, err, store.ErrNegativeStock)

	sku, err := s.GetSku(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, sku.Stock)

	err = s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, found, err := tx.GetCounter(ctx, "sales_251018")
		assert.False(t, found)
		return err
	})
	require.NoError(t, err)
}

func TestOpenSessionMarkerFollowsLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := domain.NewCashSession("s1", "CS251018-001", "ana", "Ana", "", decimal.NewFromInt(500), time.Now())

	require.NoError(t, s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateSession(ctx, session)
	}))

	open, err := s.FindOpenSession(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, "s1", open.ID)

	duplicate := domain.NewCashSession("s2", "CS251018-002", "ana", "Ana", "", decimal.Zero, time.Now())
	err = s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateSession(ctx, duplicate)
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	require.NoError(t, session.Close(decimal.NewFromInt(500), "", time.Now()))
	require.NoError(t, s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateSession(ctx, session)
	}))

	_, err = s.FindOpenSession(ctx, "ana")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionTotalsRejectClosedSession(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := domain.NewCashSession("s1", "CS251018-001", "ana", "Ana", "", decimal.Zero, time.Now())
	require.NoError(t, session.Close(decimal.Zero, "", time.Now()))
	require.NoError(t, s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateSession(ctx, session)
	}))

	err := s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.RecordSessionSale(ctx, "s1", decimal.NewFromInt(10))
	})
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestSearchSkusMatchesNameSkuAndBarcode(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, sku := range SeedSkus() {
		require.NoError(t, s.UpsertSku(ctx, sku))
	}

	byName, err := s.SearchSkus(ctx, "cafe", 10)
	require.NoError(t, err)
	assert.Len(t, byName, 2)

	byCode, err := s.SearchSkus(ctx, "hog-10", 10)
	require.NoError(t, err)
	assert.Len(t, byCode, 2)

	byBarcode, err := s.SearchSkus(ctx, "7441001000035", 10)
	require.NoError(t, err)
	require.Len(t, byBarcode, 1)
	assert.Equal(t, "sku-aceite-1l", byBarcode[0].ID)

	limited, err := s.ListSkus(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)
}

func TestGetSaleByReadableID(t *testing.T) {
	ctx := context.Background()
	s := New()
	sale := domain.Sale{
		ID:         "sale-1",
		ReadableID: "HM251018-001",
		SessionID:  "s1",
		Items:      []domain.SaleLine{{SkuID: "A", Quantity: 1}},
		Status:     domain.SaleStatusCompleted,
	}
	require.NoError(t, s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateSale(ctx, sale)
	}))

	got, err := s.GetSale(ctx, "HM251018-001")
	require.NoError(t, err)
	assert.Equal(t, "sale-1", got.ID)

	got.Items[0].Quantity = 99
	again, err := s.GetSale(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity)
}
