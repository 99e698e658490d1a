package sqlite

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homemart/backend/internal/domain"
)

func TestSessionRowRejectsUnknownStatus(t *testing.T) {
	row := sessionRow{
		ID:          "cs-1",
		CashierID:   "ana",
		InitialCash: decimal.NewFromInt(100),
		TotalSales:  decimal.Zero,
		OpenedAt:    formatTime(time.Date(2025, 10, 18, 8, 0, 0, 0, time.UTC)),
		Status:      "open",
	}

	session, err := row.toDomain()
	require.NoError(t, err)
	assert.Equal(t, domain.SessionOpen, session.Status)

	row.Status = "abierta"
	_, err = row.toDomain()
	assert.ErrorContains(t, err, "unknown session status")
}
