//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"homemart/backend/internal/cache"
	"homemart/backend/internal/domain"
	"homemart/backend/internal/service"
	"homemart/backend/internal/store/postgres"
)

// Run with: go test -tags integration ./internal/store/postgres/...

func newPostgresStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		tcpostgres.WithDatabase("homemart_test"),
		tcpostgres.WithUsername("homemart"),
		tcpostgres.WithPassword("homemart"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	url, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := postgres.New(ctx, url, postgres.WithMaxAttempts(60))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	for _, sku := range []domain.SkuRecord{
		{ID: "sku-a", SKU: "A-1", Name: "Arroz Faisan 1kg", Price: decimal.NewFromInt(100), Stock: 5},
		{ID: "sku-b", SKU: "B-1", Name: "Frijol Rojo 1lb", Price: decimal.RequireFromString("52.50"), Stock: 40},
	} {
		require.NoError(t, s.UpsertSku(ctx, sku))
	}
	return s
}

func newRedisCache(t *testing.T) *cache.RedisSaleReplayCache {
	t.Helper()
	ctx := context.Background()

	rdC, err := tcredis.RunContainer(ctx, testcontainers.WithImage("redis:7-alpine"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(ctx) })

	url, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)

	c, err := cache.NewRedisSaleReplayCacheFromURL(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))
	return c
}

func openSession(t *testing.T, svc *service.Service, cashier string, initial int64) domain.CashSession {
	t.Helper()
	cash := decimal.NewFromInt(initial)
	res, err := svc.OpenSession(context.Background(), domain.OpenSessionRequest{
		CashierID:   cashier,
		CashierName: cashier,
		InitialCash: &cash,
	})
	require.NoError(t, err)
	return res.Session
}

func cashSale(sessionID, key string, tendered int64, lines ...domain.CartLine) domain.ProcessSaleRequest {
	amount := decimal.NewFromInt(tendered)
	return domain.ProcessSaleRequest{
		SessionID:      sessionID,
		IdempotencyKey: key,
		Cart:           lines,
		Payment:        domain.PaymentRequest{Method: domain.PaymentCash, AmountTendered: &amount},
	}
}

func TestPostgresSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	svc := service.New(s, nil, 0, "")

	session := openSession(t, svc, "maria", 500)
	assert.Regexp(t, `^CS\d{6}-001$`, session.ReadableID)

	_, err := svc.OpenSession(ctx, domain.OpenSessionRequest{CashierID: "maria", InitialCash: &session.InitialCash})
	require.ErrorIs(t, err, domain.ErrSessionAlreadyOpen)

	res, err := svc.ProcessSale(ctx, cashSale(session.ID, "", 500, domain.CartLine{SkuID: "sku-a", Quantity: 2}, domain.CartLine{SkuID: "sku-b", Quantity: 2}))
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Regexp(t, `^HM\d{6}-001$`, res.SaleID)
	assert.True(t, res.Sale.Payment.Change.Equal(decimal.NewFromInt(195)))

	stored, err := svc.GetSale(ctx, res.SaleID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, "sku-a", stored.Items[0].SkuID)

	final := decimal.NewFromInt(805)
	closed, err := svc.CloseSession(ctx, domain.CloseSessionRequest{SessionID: session.ID, FinalCash: &final})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionClosed, closed.Status)
	assert.Equal(t, 1, closed.SalesCount)
	require.NotNil(t, closed.Difference)
	assert.True(t, closed.Difference.IsZero(), closed.Difference.String())

	active, err := svc.CheckActive(ctx, "maria")
	require.NoError(t, err)
	assert.Nil(t, active)

	reopened := openSession(t, svc, "maria", 100)
	assert.Regexp(t, `^CS\d{6}-002$`, reopened.ReadableID)
}

func TestPostgresInsufficientStockLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	svc := service.New(s, nil, 0, "")
	session := openSession(t, svc, "luis", 0)

	res, err := svc.ProcessSale(ctx, cashSale(session.ID, "", 10000, domain.CartLine{SkuID: "sku-b", Quantity: 1}, domain.CartLine{SkuID: "sku-a", Quantity: 6}))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "insufficient_stock", res.Code)
	assert.Contains(t, res.Error, "Stock insuficiente")

	b, err := s.GetSku(ctx, "sku-b")
	require.NoError(t, err)
	assert.Equal(t, 40, b.Stock)

	sales, err := s.ListSalesBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestPostgresConcurrentSalesNeverOversell(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	svc := service.New(s, nil, 0, "")
	session := openSession(t, svc, "ana", 0)

	const buyers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded []string
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.ProcessSale(ctx, cashSale(session.ID, "", 100, domain.CartLine{SkuID: "sku-a", Quantity: 1}))
			if err != nil || !res.Success {
				return
			}
			mu.Lock()
			succeeded = append(succeeded, res.SaleID)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, len(succeeded), 5)
	a, err := s.GetSku(ctx, "sku-a")
	require.NoError(t, err)
	assert.Equal(t, 5-len(succeeded), a.Stock)

	after, err := svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, len(succeeded), after.SalesCount)
	assert.True(t, after.TotalSales.Equal(decimal.NewFromInt(int64(100*len(succeeded)))))

	seen := map[string]bool{}
	for _, id := range succeeded {
		assert.False(t, seen[id], "duplicate sale number %s", id)
		seen[id] = true
	}
}

func TestPostgresConcurrentOpensYieldOneSession(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	svc := service.New(s, nil, 0, "")

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	cash := decimal.NewFromInt(200)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.OpenSession(ctx, domain.OpenSessionRequest{CashierID: "pedro", InitialCash: &cash})
		}(i)
	}
	wg.Wait()

	opened := 0
	for _, err := range errs {
		if err == nil {
			opened++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrSessionAlreadyOpen)
	}
	assert.Equal(t, 1, opened)
}

func TestPostgresIdempotentSaleWithRedisReplay(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	replay := newRedisCache(t)
	svc := service.New(s, replay, time.Minute, "")
	session := openSession(t, svc, "rosa", 0)

	req := cashSale(session.ID, "till-3-0001", 200, domain.CartLine{SkuID: "sku-a", Quantity: 1})
	first, err := svc.ProcessSale(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Success, first.Error)

	second, err := svc.ProcessSale(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.SaleID, second.SaleID)

	cached, ok, err := replay.Get(ctx, "till-3-0001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.SaleID, cached.SaleID)

	a, err := s.GetSku(ctx, "sku-a")
	require.NoError(t, err)
	assert.Equal(t, 4, a.Stock)
}
