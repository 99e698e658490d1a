package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the closed set of cash session states. The zero value is
// not a valid status.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

func ParseSessionStatus(raw string) (SessionStatus, error) {
	status := SessionStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("unknown session status %q", raw)
	}
	return status, nil
}

func (s SessionStatus) Valid() bool {
	return s == SessionOpen || s == SessionClosed
}

func NewCashSession(id, readableID, cashierID, cashierName, storeID string, initialCash decimal.Decimal, openedAt time.Time) CashSession {
	return CashSession{
		ID:          id,
		ReadableID:  readableID,
		CashierID:   cashierID,
		CashierName: cashierName,
		StoreID:     storeID,
		InitialCash: initialCash,
		Status:      SessionOpen,
		TotalSales:  decimal.Zero,
		OpenedAt:    openedAt.UTC(),
	}
}

func (c CashSession) IsOpen() bool {
	return c.Status == SessionOpen
}

// Expected is the cash that should be in the drawer: the opening float plus
// everything sold during the session.
func (c CashSession) Expected() decimal.Decimal {
	return c.InitialCash.Add(c.TotalSales)
}

// RecordSale adds one sale of the given total to the running counters.
func (c *CashSession) RecordSale(total decimal.Decimal) error {
	if c.Status != SessionOpen {
		return ErrSessionClosed
	}
	c.SalesCount++
	c.TotalSales = c.TotalSales.Add(total)
	return nil
}

// Close reconciles the drawer and moves the session to closed. A closed
// session cannot be closed again.
func (c *CashSession) Close(finalCash decimal.Decimal, notes string, at time.Time) error {
	if c.Status != SessionOpen {
		return ErrSessionClosed
	}
	expected := c.Expected()
	difference := finalCash.Sub(expected)
	closedAt := at.UTC()

	c.Status = SessionClosed
	c.FinalCash = &finalCash
	c.ExpectedCash = &expected
	c.Difference = &difference
	c.Notes = notes
	c.ClosedAt = &closedAt
	return nil
}
