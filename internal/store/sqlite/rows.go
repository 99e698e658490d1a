package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"homemart/backend/internal/domain"
)

const skuSelect = `
	SELECT id, product_id, sku, barcode, name, short_name, variant_name,
		price, cost, category, brand, low_stock_alert, stock
	FROM skus
`

type skuRow struct {
	ID            string          `db:"id"`
	ProductID     string          `db:"product_id"`
	SKU           string          `db:"sku"`
	Barcode       string          `db:"barcode"`
	Name          string          `db:"name"`
	ShortName     string          `db:"short_name"`
	VariantName   string          `db:"variant_name"`
	Price         decimal.Decimal `db:"price"`
	Cost          decimal.Decimal `db:"cost"`
	Category      string          `db:"category"`
	Brand         string          `db:"brand"`
	LowStockAlert int             `db:"low_stock_alert"`
	Stock         int             `db:"stock"`
}

func newSkuRow(sku domain.SkuRecord) skuRow {
	return skuRow{
		ID:            sku.ID,
		ProductID:     sku.ProductID,
		SKU:           sku.SKU,
		Barcode:       sku.Barcode,
		Name:          sku.Name,
		ShortName:     sku.ShortName,
		VariantName:   sku.VariantName,
		Price:         sku.Price,
		Cost:          sku.Cost,
		Category:      sku.Category,
		Brand:         sku.Brand,
		LowStockAlert: sku.LowStockAlert,
		Stock:         sku.Stock,
	}
}

func (r skuRow) toDomain() domain.SkuRecord {
	return domain.SkuRecord{
		ID:            r.ID,
		ProductID:     r.ProductID,
		SKU:           r.SKU,
		Barcode:       r.Barcode,
		Name:          r.Name,
		ShortName:     r.ShortName,
		VariantName:   r.VariantName,
		Price:         r.Price,
		Cost:          r.Cost,
		Category:      r.Category,
		Brand:         r.Brand,
		LowStockAlert: r.LowStockAlert,
		Stock:         r.Stock,
	}
}

const sessionSelect = `
	SELECT id, readable_id, cashier_id, cashier_name, store_id, initial_cash, status,
		sales_count, total_sales, opened_at, closed_at, final_cash, expected_cash, difference, notes
	FROM cash_sessions
`

type sessionRow struct {
	ID           string              `db:"id"`
	ReadableID   string              `db:"readable_id"`
	CashierID    string              `db:"cashier_id"`
	CashierName  string              `db:"cashier_name"`
	StoreID      string              `db:"store_id"`
	InitialCash  decimal.Decimal     `db:"initial_cash"`
	Status       string              `db:"status"`
	SalesCount   int                 `db:"sales_count"`
	TotalSales   decimal.Decimal     `db:"total_sales"`
	OpenedAt     string              `db:"opened_at"`
	ClosedAt     sql.NullString      `db:"closed_at"`
	FinalCash    decimal.NullDecimal `db:"final_cash"`
	ExpectedCash decimal.NullDecimal `db:"expected_cash"`
	Difference   decimal.NullDecimal `db:"difference"`
	Notes        string              `db:"notes"`
}

func (r sessionRow) toDomain() (domain.CashSession, error) {
	openedAt, err := parseTime(r.OpenedAt)
	if err != nil {
		return domain.CashSession{}, err
	}
	status, err := domain.ParseSessionStatus(r.Status)
	if err != nil {
		return domain.CashSession{}, fmt.Errorf("session %s: %w", r.ID, err)
	}
	session := domain.CashSession{
		ID:           r.ID,
		ReadableID:   r.ReadableID,
		CashierID:    r.CashierID,
		CashierName:  r.CashierName,
		StoreID:      r.StoreID,
		InitialCash:  r.InitialCash,
		Status:       status,
		SalesCount:   r.SalesCount,
		TotalSales:   r.TotalSales,
		OpenedAt:     openedAt,
		FinalCash:    decimalPtr(r.FinalCash),
		ExpectedCash: decimalPtr(r.ExpectedCash),
		Difference:   decimalPtr(r.Difference),
		Notes:        r.Notes,
	}
	if r.ClosedAt.Valid {
		closedAt, err := parseTime(r.ClosedAt.String)
		if err != nil {
			return domain.CashSession{}, err
		}
		session.ClosedAt = &closedAt
	}
	return session, nil
}

const saleSelect = `
	SELECT id, readable_id, session_id, cashier_id, cashier_name,
		customer_name, customer_phone, customer_address, is_delivery,
		subtotal, delivery_fee, total,
		payment_method, amount_tendered, change_due, bank, reference,
		status, idempotency_key, created_at
	FROM sales
`

type saleRow struct {
	ID              string          `db:"id"`
	ReadableID      string          `db:"readable_id"`
	SessionID       string          `db:"session_id"`
	CashierID       string          `db:"cashier_id"`
	CashierName     string          `db:"cashier_name"`
	CustomerName    string          `db:"customer_name"`
	CustomerPhone   string          `db:"customer_phone"`
	CustomerAddress string          `db:"customer_address"`
	IsDelivery      bool            `db:"is_delivery"`
	Subtotal        decimal.Decimal `db:"subtotal"`
	DeliveryFee     decimal.Decimal `db:"delivery_fee"`
	Total           decimal.Decimal `db:"total"`
	PaymentMethod   string          `db:"payment_method"`
	AmountTendered  decimal.Decimal `db:"amount_tendered"`
	ChangeDue       decimal.Decimal `db:"change_due"`
	Bank            sql.NullString  `db:"bank"`
	Reference       sql.NullString  `db:"reference"`
	Status          string          `db:"status"`
	IdempotencyKey  sql.NullString  `db:"idempotency_key"`
	CreatedAt       string          `db:"created_at"`
}

func (r saleRow) toDomain() (domain.Sale, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return domain.Sale{}, err
	}
	return domain.Sale{
		ID:          r.ID,
		ReadableID:  r.ReadableID,
		SessionID:   r.SessionID,
		CashierID:   r.CashierID,
		CashierName: r.CashierName,
		Customer: domain.Customer{
			Name:       r.CustomerName,
			Phone:      r.CustomerPhone,
			Address:    r.CustomerAddress,
			IsDelivery: r.IsDelivery,
		},
		Totals: domain.SaleTotals{
			Subtotal:    r.Subtotal,
			DeliveryFee: r.DeliveryFee,
			Total:       r.Total,
		},
		Payment: domain.Payment{
			Method:         r.PaymentMethod,
			AmountTendered: r.AmountTendered,
			Change:         r.ChangeDue,
			Bank:           r.Bank.String,
			Reference:      r.Reference.String,
		},
		Status:         r.Status,
		IdempotencyKey: r.IdempotencyKey.String,
		CreatedAt:      createdAt,
	}, nil
}

type saleItemRow struct {
	SkuID     string          `db:"sku_id"`
	Name      string          `db:"name"`
	UnitPrice decimal.Decimal `db:"unit_price"`
	Quantity  int             `db:"quantity"`
	LineTotal decimal.Decimal `db:"line_total"`
}

type userRow struct {
	Username  string `db:"username"`
	Password  string `db:"password"`
	Role      string `db:"role"`
	Active    bool   `db:"active"`
	CreatedAt string `db:"created_at"`
}

func decimalPtr(val decimal.NullDecimal) *decimal.Decimal {
	if !val.Valid {
		return nil
	}
	d := val.Decimal
	return &d
}
