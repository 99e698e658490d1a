package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"homemart/backend/internal/domain"
	"homemart/backend/internal/ledger"
	"homemart/backend/internal/sequence"
	"homemart/backend/internal/store"
	"homemart/backend/internal/xid"
)

var errIdempotencyKeyReused = domain.InvalidInput("idempotency key already used for a different sale")

type saleOutcome struct {
	sale      domain.Sale
	duplicate bool
	lowStock  []domain.SkuRecord
}

// ProcessSale records one checkout. Business rejections come back as a
// result with Success=false and a nil error; the returned error is reserved
// for infrastructure failures, after which the sale must be treated as not
// having happened.
func (s *Service) ProcessSale(ctx context.Context, req domain.ProcessSaleRequest) (domain.SaleResult, error) {
	req, err := normalizeSale(req)
	if err != nil {
		return s.rejectSale(req, err), nil
	}

	if req.IdempotencyKey != "" {
		cached, ok, err := s.replay.Get(ctx, req.IdempotencyKey)
		if err != nil {
			log.Warn().Err(err).Str("idempotency_key", req.IdempotencyKey).Msg("sale replay cache unavailable")
		} else if ok && cached.Sale != nil {
			if !replays(cached.Sale, req) {
				return s.rejectSale(req, errIdempotencyKeyReused), nil
			}
			if err := authorizeCashier(ctx, cached.Sale.CashierID); err != nil {
				return s.rejectSale(req, err), nil
			}
			cached.Duplicate = true
			return *cached, nil
		}
	}

	saleID := xid.New("sale")
	createdAt := s.now()

	outcome, err := store.Do(ctx, s.store, func(ctx context.Context, tx store.Tx) (saleOutcome, error) {
		if err := authorizeSession(ctx, tx, req.SessionID); err != nil {
			return saleOutcome{}, err
		}
		return commitSale(ctx, tx, req, saleID, createdAt)
	})
	if err != nil {
		err = translate(err)
		if domain.IsBusinessError(err) {
			return s.rejectSale(req, err), nil
		}
		return domain.SaleResult{}, s.logFailure("process sale", err, req.SessionID)
	}

	sale := outcome.sale
	result := domain.SaleResult{
		Success:   true,
		SaleID:    sale.ReadableID,
		Sale:      &sale,
		Duplicate: outcome.duplicate,
	}

	if outcome.duplicate {
		log.Info().Str("sale", sale.ReadableID).Str("idempotency_key", req.IdempotencyKey).Msg("sale replayed")
		return result, nil
	}

	log.Info().
		Str("sale", sale.ReadableID).
		Str("session_id", sale.SessionID).
		Int("lines", len(sale.Items)).
		Str("total", sale.Totals.Total.StringFixed(2)).
		Str("method", sale.Payment.Method).
		Msg("sale committed")
	for _, sku := range outcome.lowStock {
		log.Warn().Str("sku_id", sku.ID).Str("sku", sku.SKU).Int("stock", sku.Stock).Int("alert", sku.LowStockAlert).Msg("low stock")
	}

	if req.IdempotencyKey != "" {
		if err := s.replay.Set(ctx, req.IdempotencyKey, &result, s.replayTTL); err != nil {
			log.Warn().Err(err).Str("idempotency_key", req.IdempotencyKey).Msg("failed to cache sale result")
		}
	}
	return result, nil
}

// commitSale is the transaction body. It must stay a function of its
// arguments and what it reads through tx, since the store may run it more
// than once.
func commitSale(ctx context.Context, tx store.Tx, req domain.ProcessSaleRequest, saleID string, at time.Time) (saleOutcome, error) {
	if req.IdempotencyKey != "" {
		existing, err := tx.FindSaleByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			if !replays(existing, req) {
				return saleOutcome{}, errIdempotencyKeyReused
			}
			return saleOutcome{sale: *existing, duplicate: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return saleOutcome{}, err
		}
	}

	session, err := tx.GetSession(ctx, req.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return saleOutcome{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return saleOutcome{}, err
	}
	if !session.IsOpen() {
		return saleOutcome{}, domain.ErrSessionClosed
	}

	plan, err := ledger.Prepare(ctx, tx, cartLines(req.Cart))
	if err != nil {
		return saleOutcome{}, err
	}
	number, err := sequence.Peek(ctx, tx, sequence.Sales, at)
	if err != nil {
		return saleOutcome{}, err
	}

	items, totals := priceCart(req, plan.Skus)
	if req.Totals != nil && !req.Totals.Total.IsZero() && !req.Totals.Total.Equal(totals.Total) {
		return saleOutcome{}, domain.InvalidInput("totals do not match current prices (expected %s)", totals.Total.StringFixed(2))
	}
	payment, err := settle(req.Payment, totals.Total)
	if err != nil {
		return saleOutcome{}, err
	}

	sale := domain.Sale{
		ID:             saleID,
		ReadableID:     number.ID,
		SessionID:      session.ID,
		CashierID:      session.CashierID,
		CashierName:    session.CashierName,
		Customer:       req.Customer,
		Items:          items,
		Totals:         totals,
		Payment:        payment,
		Status:         domain.SaleStatusCompleted,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      at,
	}

	if err := plan.Apply(ctx, tx); err != nil {
		return saleOutcome{}, err
	}
	if err := number.Commit(ctx, tx); err != nil {
		return saleOutcome{}, err
	}
	if err := tx.CreateSale(ctx, sale); err != nil {
		return saleOutcome{}, err
	}
	if err := tx.RecordSessionSale(ctx, session.ID, totals.Total); err != nil {
		return saleOutcome{}, err
	}
	return saleOutcome{sale: sale, lowStock: plan.LowStock()}, nil
}

// authorizeSession checks the actor may sell into the session. Missing
// sessions are left for commitSale to report.
func authorizeSession(ctx context.Context, tx store.Tx, sessionID string) error {
	session, err := tx.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return authorizeCashier(ctx, session.CashierID)
}

// replays reports whether req is a resend of sale: same session and the same
// SKUs in the same quantities, in any line order.
func replays(sale *domain.Sale, req domain.ProcessSaleRequest) bool {
	if sale.SessionID != req.SessionID {
		return false
	}
	stored := make([]ledger.Line, 0, len(sale.Items))
	for _, item := range sale.Items {
		stored = append(stored, ledger.Line{SkuID: item.SkuID, Quantity: item.Quantity})
	}
	return slices.Equal(ledger.Aggregate(stored), ledger.Aggregate(cartLines(req.Cart)))
}

func (s *Service) rejectSale(req domain.ProcessSaleRequest, err error) domain.SaleResult {
	log.Warn().Err(err).Str("session_id", req.SessionID).Msg("sale rejected")
	return domain.SaleResult{
		Success: false,
		Error:   err.Error(),
		Code:    domain.ErrorCode(err),
	}
}

func normalizeSale(req domain.ProcessSaleRequest) (domain.ProcessSaleRequest, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.SessionID == "" {
		return req, domain.InvalidInput("session id is required")
	}
	if len(req.Cart) == 0 {
		return req, domain.InvalidInput("cart is empty")
	}
	cart := make([]domain.CartLine, 0, len(req.Cart))
	for _, line := range req.Cart {
		line.SkuID = strings.TrimSpace(line.SkuID)
		if line.SkuID == "" || line.Quantity < 1 {
			return req, domain.InvalidInput("every cart line needs a sku id and a quantity of at least 1")
		}
		cart = append(cart, line)
	}
	req.Cart = cart

	req.Customer.Name = defaultString(req.Customer.Name, domain.DefaultCustomerName)
	req.Customer.Phone = strings.TrimSpace(req.Customer.Phone)
	req.Customer.Address = strings.TrimSpace(req.Customer.Address)

	if req.Totals != nil {
		if req.Totals.Subtotal.IsNegative() || req.Totals.DeliveryFee.IsNegative() || req.Totals.Total.IsNegative() {
			return req, domain.InvalidInput("totals must not be negative")
		}
		if !req.Totals.DeliveryFee.Equal(req.Totals.DeliveryFee.Round(2)) {
			return req, domain.InvalidInput("delivery fee must have at most 2 decimal places")
		}
	}

	payment := req.Payment
	payment.Method = strings.ToLower(strings.TrimSpace(payment.Method))
	if payment.Method == "" {
		payment.Method = domain.PaymentCash
	}
	payment.Bank = strings.TrimSpace(payment.Bank)
	payment.Reference = strings.TrimSpace(payment.Reference)
	switch payment.Method {
	case domain.PaymentCash:
		payment.Bank, payment.Reference = "", ""
	case domain.PaymentCard, domain.PaymentTransfer:
		if payment.Bank == "" || payment.Reference == "" {
			return req, domain.InvalidInput("bank and reference are required for %s payments", payment.Method)
		}
	default:
		return req, domain.InvalidInput("unsupported payment method %q", payment.Method)
	}
	if payment.AmountTendered != nil && payment.AmountTendered.IsNegative() {
		return req, domain.InvalidInput("amount tendered must not be negative")
	}
	req.Payment = payment
	return req, nil
}

func cartLines(cart []domain.CartLine) []ledger.Line {
	lines := make([]ledger.Line, 0, len(cart))
	for _, line := range cart {
		lines = append(lines, ledger.Line{SkuID: line.SkuID, Quantity: line.Quantity})
	}
	return lines
}

// priceCart snapshots names and prices from the records read in this
// transaction, keeping the cart's line order.
func priceCart(req domain.ProcessSaleRequest, skus map[string]domain.SkuRecord) ([]domain.SaleLine, domain.SaleTotals) {
	items := make([]domain.SaleLine, 0, len(req.Cart))
	subtotal := decimal.Zero
	for _, line := range req.Cart {
		sku := skus[line.SkuID]
		lineTotal := sku.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items = append(items, domain.SaleLine{
			SkuID:     sku.ID,
			Name:      sku.Name,
			UnitPrice: sku.Price,
			Quantity:  line.Quantity,
			LineTotal: lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	deliveryFee := decimal.Zero
	if req.Customer.IsDelivery && req.Totals != nil {
		deliveryFee = req.Totals.DeliveryFee
	}
	return items, domain.SaleTotals{
		Subtotal:    subtotal,
		DeliveryFee: deliveryFee,
		Total:       subtotal.Add(deliveryFee),
	}
}

func settle(req domain.PaymentRequest, total decimal.Decimal) (domain.Payment, error) {
	payment := domain.Payment{
		Method:    req.Method,
		Bank:      req.Bank,
		Reference: req.Reference,
		Change:    decimal.Zero,
	}
	if req.Method != domain.PaymentCash {
		payment.AmountTendered = total
		return payment, nil
	}

	if req.AmountTendered == nil {
		return domain.Payment{}, domain.InvalidInput("amount tendered is required for cash payments")
	}
	tendered := *req.AmountTendered
	if tendered.LessThan(total) {
		return domain.Payment{}, domain.InvalidInput("El monto recibido es menor al total (%s < %s)", tendered.StringFixed(2), total.StringFixed(2))
	}
	payment.AmountTendered = tendered
	payment.Change = tendered.Sub(total)
	return payment, nil
}
