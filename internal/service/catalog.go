package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"homemart/backend/internal/domain"
	"homemart/backend/internal/ledger"
	"homemart/backend/internal/store"
)

const (
	minSearchTermLength = 2
	maxSearchResults    = 10
	defaultListLimit    = 50
)

// SearchSkus matches name, sku code or barcode. Terms shorter than two
// characters return nothing rather than the whole catalog.
func (s *Service) SearchSkus(ctx context.Context, term string) ([]domain.SkuRecord, error) {
	term = strings.TrimSpace(term)
	if len([]rune(term)) < minSearchTermLength {
		return []domain.SkuRecord{}, nil
	}
	return s.store.SearchSkus(ctx, term, maxSearchResults)
}

func (s *Service) ListSkus(ctx context.Context, limit int) ([]domain.SkuRecord, error) {
	if limit < 1 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	return s.store.ListSkus(ctx, limit)
}

func (s *Service) GetSku(ctx context.Context, id string) (domain.SkuRecord, error) {
	sku, err := s.store.GetSku(ctx, strings.TrimSpace(id))
	if errors.Is(err, store.ErrNotFound) {
		return domain.SkuRecord{}, &domain.SkuNotFoundError{SkuID: id}
	}
	if err != nil {
		return domain.SkuRecord{}, err
	}
	return *sku, nil
}

// AdjustStock sets an absolute stock level after a physical count.
func (s *Service) AdjustStock(ctx context.Context, skuID string, req domain.StockAdjustRequest) (domain.SkuRecord, error) {
	skuID = strings.TrimSpace(skuID)
	if skuID == "" {
		return domain.SkuRecord{}, domain.InvalidInput("sku id is required")
	}
	if req.Stock == nil {
		return domain.SkuRecord{}, domain.InvalidInput("stock is required")
	}
	stock := *req.Stock

	sku, err := store.Do(ctx, s.store, func(ctx context.Context, tx store.Tx) (domain.SkuRecord, error) {
		return ledger.Set(ctx, tx, skuID, stock)
	})
	if err != nil {
		return domain.SkuRecord{}, s.logFailure("adjust stock", translate(err), skuID)
	}

	actor, _ := ActorFromContext(ctx)
	log.Info().Str("sku_id", skuID).Int("stock", sku.Stock).Str("actor", actor.Username).Msg("stock adjusted")
	return sku, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.store.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}
