package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SkuRecord struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	SKU           string          `json:"sku"`
	Barcode       string          `json:"barcode,omitempty"`
	Name          string          `json:"name"`
	ShortName     string          `json:"short_name,omitempty"`
	VariantName   string          `json:"variant_name,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Cost          decimal.Decimal `json:"cost"`
	Category      string          `json:"category,omitempty"`
	Brand         string          `json:"brand,omitempty"`
	LowStockAlert int             `json:"low_stock_alert"`
	Stock         int             `json:"stock"`
}

func (s SkuRecord) LowStock() bool {
	return s.LowStockAlert > 0 && s.Stock <= s.LowStockAlert
}

type CashSession struct {
	ID           string           `json:"id"`
	ReadableID   string           `json:"readable_id"`
	CashierID    string           `json:"cashier_id"`
	CashierName  string           `json:"cashier_name"`
	StoreID      string           `json:"store_id"`
	InitialCash  decimal.Decimal  `json:"initial_cash"`
	Status       SessionStatus    `json:"status"`
	SalesCount   int              `json:"sales_count"`
	TotalSales   decimal.Decimal  `json:"total_sales"`
	OpenedAt     time.Time        `json:"opened_at"`
	ClosedAt     *time.Time       `json:"closed_at,omitempty"`
	FinalCash    *decimal.Decimal `json:"final_cash,omitempty"`
	ExpectedCash *decimal.Decimal `json:"expected_cash,omitempty"`
	Difference   *decimal.Decimal `json:"difference,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

type Customer struct {
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	IsDelivery bool   `json:"is_delivery"`
}

type SaleLine struct {
	SkuID     string          `json:"sku_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type SaleTotals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Total       decimal.Decimal `json:"total"`
}

type Payment struct {
	Method         string          `json:"method"`
	AmountTendered decimal.Decimal `json:"amount_tendered"`
	Change         decimal.Decimal `json:"change"`
	Bank           string          `json:"bank,omitempty"`
	Reference      string          `json:"reference,omitempty"`
}

type Sale struct {
	ID             string     `json:"id"`
	ReadableID     string     `json:"readable_id"`
	SessionID      string     `json:"session_id"`
	CashierID      string     `json:"cashier_id"`
	CashierName    string     `json:"cashier_name"`
	Customer       Customer   `json:"customer"`
	Items          []SaleLine `json:"items"`
	Totals         SaleTotals `json:"totals"`
	Payment        Payment    `json:"payment"`
	Status         string     `json:"status"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Clone returns a copy that shares no slices with s.
func (s Sale) Clone() Sale {
	items := make([]SaleLine, len(s.Items))
	copy(items, s.Items)
	s.Items = items
	return s
}

type OpenSessionRequest struct {
	CashierID   string           `json:"cashier_id"`
	CashierName string           `json:"cashier_name"`
	InitialCash *decimal.Decimal `json:"initial_cash"`
}

type CloseSessionRequest struct {
	SessionID string           `json:"session_id"`
	FinalCash *decimal.Decimal `json:"final_cash"`
	Notes     string           `json:"notes"`
}

type SessionResponse struct {
	SessionID  string      `json:"session_id"`
	ReadableID string      `json:"readable_id"`
	Session    CashSession `json:"session"`
}

type ActiveSessionResponse struct {
	Session *CashSession `json:"session"`
}

type CartLine struct {
	SkuID    string `json:"sku_id"`
	Quantity int    `json:"quantity"`
}

type PaymentRequest struct {
	Method         string           `json:"method"`
	AmountTendered *decimal.Decimal `json:"amount_tendered,omitempty"`
	Bank           string           `json:"bank,omitempty"`
	Reference      string           `json:"reference,omitempty"`
}

type ProcessSaleRequest struct {
	SessionID      string         `json:"session_id"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Cart           []CartLine     `json:"cart"`
	Totals         *SaleTotals    `json:"totals,omitempty"`
	Customer       Customer       `json:"customer"`
	Payment        PaymentRequest `json:"payment"`
}

// SaleResult is what process-sale hands back to callers. Business
// rejections are carried in Error/Code with Success=false.
type SaleResult struct {
	Success   bool   `json:"success"`
	SaleID    string `json:"sale_id,omitempty"`
	Sale      *Sale  `json:"sale,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

type StockAdjustRequest struct {
	Stock *int `json:"stock"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	SaleStatusCompleted = "completed"
)

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
)

const (
	RoleAdmin     = "admin"
	RoleSeller    = "seller"
	RoleWarehouse = "warehouse"
)

const DefaultCustomerName = "Cliente General"
