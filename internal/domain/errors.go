package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrSessionAlreadyOpen  = errors.New("Ya tienes una caja abierta")
	ErrSessionNotFound     = errors.New("cash session not found")
	ErrSessionClosed       = errors.New("cash session is closed")
	ErrNotSessionOwner     = errors.New("cash session belongs to another cashier")
	ErrSkuNotFound         = errors.New("sku not found")
	ErrInsufficientStock   = errors.New("Stock insuficiente")
	ErrTransactionConflict = errors.New("transaction conflict, please retry")
)

// InvalidInput wraps ErrInvalidInput with a field-level reason.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

type SkuNotFoundError struct {
	SkuID string
}

func (e *SkuNotFoundError) Error() string {
	return fmt.Sprintf("Producto no encontrado: %s", e.SkuID)
}

func (e *SkuNotFoundError) Is(target error) bool {
	return target == ErrSkuNotFound
}

type InsufficientStockError struct {
	SkuID     string
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Stock insuficiente para %s (disponible: %d, solicitado: %d)", e.Name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// IsBusinessError reports whether err is an expected, recoverable rejection
// rather than an infrastructure failure.
func IsBusinessError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrSessionAlreadyOpen),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionClosed),
		errors.Is(err, ErrNotSessionOwner),
		errors.Is(err, ErrSkuNotFound),
		errors.Is(err, ErrInsufficientStock):
		return true
	}
	return false
}

// ErrorCode is the stable machine-readable name of a business error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrSkuNotFound):
		return "sku_not_found"
	case errors.Is(err, ErrSessionAlreadyOpen):
		return "session_already_open"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, ErrNotSessionOwner):
		return "not_session_owner"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrTransactionConflict):
		return "transaction_conflict"
	}
	return "internal"
}
