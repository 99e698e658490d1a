// Package ledger owns SKU stock counters. Every mutation is an increment
// issued inside a store transaction after all lines have been read and
// validated.
package ledger

import (
	"context"
	"fmt"
	"sort"

	"homemart/backend/internal/domain"
	"homemart/backend/internal/store"
)

type Line struct {
	SkuID    string
	Quantity int
}

// Aggregate merges duplicate SKUs and orders the result by SKU id.
func Aggregate(lines []Line) []Line {
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		totals[line.SkuID] += line.Quantity
	}
	merged := make([]Line, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, Line{SkuID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].SkuID < merged[j].SkuID })
	return merged
}

// Plan is a validated set of decrements. Skus holds the records as read,
// keyed by id.
type Plan struct {
	Lines []Line
	Skus  map[string]domain.SkuRecord
}

// Prepare reads every line and validates all of them before anything is
// written.
func Prepare(ctx context.Context, tx store.Tx, lines []Line) (*Plan, error) {
	merged := Aggregate(lines)
	ids := make([]string, 0, len(merged))
	for _, line := range merged {
		if line.SkuID == "" || line.Quantity < 1 {
			return nil, domain.InvalidInput("every line needs a sku id and a positive quantity")
		}
		ids = append(ids, line.SkuID)
	}

	skus, err := tx.GetSkus(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("read skus: %w", err)
	}

	for _, line := range merged {
		sku, ok := skus[line.SkuID]
		if !ok {
			return nil, &domain.SkuNotFoundError{SkuID: line.SkuID}
		}
		if sku.Stock < line.Quantity {
			return nil, &domain.InsufficientStockError{
				SkuID:     sku.ID,
				Name:      sku.Name,
				Available: sku.Stock,
				Requested: line.Quantity,
			}
		}
	}
	return &Plan{Lines: merged, Skus: skus}, nil
}

func (p *Plan) Apply(ctx context.Context, tx store.Tx) error {
	for _, line := range p.Lines {
		if err := tx.IncrementStock(ctx, line.SkuID, -line.Quantity); err != nil {
			return fmt.Errorf("decrement %s: %w", line.SkuID, err)
		}
	}
	return nil
}

// LowStock lists the SKUs that sit at or below their alert level once the
// plan is applied.
func (p *Plan) LowStock() []domain.SkuRecord {
	var low []domain.SkuRecord
	for _, line := range p.Lines {
		sku := p.Skus[line.SkuID]
		sku.Stock -= line.Quantity
		if sku.LowStock() {
			low = append(low, sku)
		}
	}
	return low
}

// ValidateAndReserve is Prepare followed by Apply for callers that have no
// other reads to make.
func ValidateAndReserve(ctx context.Context, tx store.Tx, lines []Line) error {
	plan, err := Prepare(ctx, tx, lines)
	if err != nil {
		return err
	}
	return plan.Apply(ctx, tx)
}

// Set moves a SKU to an absolute stock level by applying the difference as
// an increment. It returns the record with the new level.
func Set(ctx context.Context, tx store.Tx, skuID string, stock int) (domain.SkuRecord, error) {
	if stock < 0 {
		return domain.SkuRecord{}, domain.InvalidInput("stock must not be negative")
	}
	skus, err := tx.GetSkus(ctx, []string{skuID})
	if err != nil {
		return domain.SkuRecord{}, fmt.Errorf("read sku: %w", err)
	}
	sku, ok := skus[skuID]
	if !ok {
		return domain.SkuRecord{}, &domain.SkuNotFoundError{SkuID: skuID}
	}
	if delta := stock - sku.Stock; delta != 0 {
		if err := tx.IncrementStock(ctx, skuID, delta); err != nil {
			return domain.SkuRecord{}, fmt.Errorf("adjust %s: %w", skuID, err)
		}
	}
	sku.Stock = stock
	return sku, nil
}
