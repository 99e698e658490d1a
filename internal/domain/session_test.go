package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseComputesDifference(t *testing.T) {
	session := NewCashSession("s1", "CS251018-001", "ana", "Ana", "sucursal_principal", decimal.NewFromInt(1000), time.Now())
	require.NoError(t, session.RecordSale(decimal.NewFromInt(200)))

	require.NoError(t, session.Close(decimal.NewFromInt(1150), "faltante", time.Now()))

	assert.Equal(t, SessionClosed, session.Status)
	assert.True(t, session.ExpectedCash.Equal(decimal.NewFromInt(1200)))
	assert.True(t, session.Difference.Equal(decimal.NewFromInt(-50)), "difference = %s", session.Difference)
	assert.Equal(t, "faltante", session.Notes)
	assert.NotNil(t, session.ClosedAt)
}

func TestClosedSessionRejectsTransitions(t *testing.T) {
	session := NewCashSession("s1", "CS251018-001", "ana", "Ana", "", decimal.Zero, time.Now())
	require.NoError(t, session.Close(decimal.Zero, "", time.Now()))

	assert.ErrorIs(t, session.Close(decimal.Zero, "", time.Now()), ErrSessionClosed)
	assert.ErrorIs(t, session.RecordSale(decimal.NewFromInt(10)), ErrSessionClosed)
	assert.Equal(t, 0, session.SalesCount)
}

func TestParseSessionStatus(t *testing.T) {
	status, err := ParseSessionStatus("open")
	require.NoError(t, err)
	assert.Equal(t, SessionOpen, status)

	_, err = ParseSessionStatus("abierta")
	assert.Error(t, err)
	assert.False(t, SessionStatus("").Valid())
}

func TestBusinessErrorClassification(t *testing.T) {
	stockErr := &InsufficientStockError{SkuID: "A", Name: "Cafe", Available: 1, Requested: 2}

	assert.ErrorIs(t, stockErr, ErrInsufficientStock)
	assert.Contains(t, stockErr.Error(), "Stock insuficiente")
	assert.True(t, IsBusinessError(stockErr))
	assert.True(t, IsBusinessError(InvalidInput("cart is empty")))
	assert.Equal(t, "sku_not_found", ErrorCode(&SkuNotFoundError{SkuID: "B"}))
	assert.True(t, IsBusinessError(ErrNotSessionOwner))
	assert.Equal(t, "not_session_owner", ErrorCode(ErrNotSessionOwner))
	assert.False(t, IsBusinessError(errors.New("connection refused")))
	assert.False(t, IsBusinessError(ErrTransactionConflict))
}
