package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"homemart/backend/internal/domain"
	"homemart/backend/internal/sequence"
	"homemart/backend/internal/store"
	"homemart/backend/internal/xid"
)

// CheckActive returns the cashier's open session, or nil when there is none.
func (s *Service) CheckActive(ctx context.Context, cashierID string) (*domain.CashSession, error) {
	cashierID = strings.TrimSpace(cashierID)
	if cashierID == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			cashierID = actor.Username
		}
	}
	if cashierID == "" {
		return nil, domain.InvalidInput("cashier id is required")
	}

	session, err := s.store.FindOpenSession(ctx, cashierID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) OpenSession(ctx context.Context, req domain.OpenSessionRequest) (domain.SessionResponse, error) {
	if actor, ok := ActorFromContext(ctx); ok && strings.TrimSpace(req.CashierID) == "" {
		req.CashierID = actor.Username
	}
	req.CashierID = strings.TrimSpace(req.CashierID)
	req.CashierName = defaultString(req.CashierName, req.CashierID)

	if req.CashierID == "" {
		return domain.SessionResponse{}, domain.InvalidInput("cashier id is required")
	}
	if err := authorizeCashier(ctx, req.CashierID); err != nil {
		return domain.SessionResponse{}, s.logFailure("open session", err, req.CashierID)
	}
	if req.InitialCash == nil {
		return domain.SessionResponse{}, domain.InvalidInput("initial cash is required")
	}
	if req.InitialCash.IsNegative() {
		return domain.SessionResponse{}, domain.InvalidInput("initial cash must not be negative")
	}

	active, err := s.CheckActive(ctx, req.CashierID)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	if active != nil {
		log.Warn().Str("cashier_id", req.CashierID).Str("session", active.ReadableID).Msg("open rejected, session already open")
		return domain.SessionResponse{}, domain.ErrSessionAlreadyOpen
	}

	initialCash := *req.InitialCash
	openedAt := s.now()
	sessionID := xid.New("cs")

	session, err := store.Do(ctx, s.store, func(ctx context.Context, tx store.Tx) (domain.CashSession, error) {
		// The pre-check above ran outside this transaction; re-reading the
		// cashier's marker here makes a concurrent open lose at commit.
		if _, err := tx.FindOpenSession(ctx, req.CashierID); err == nil {
			return domain.CashSession{}, domain.ErrSessionAlreadyOpen
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.CashSession{}, err
		}

		readableID, err := sequence.Next(ctx, tx, sequence.Sessions, openedAt)
		if err != nil {
			return domain.CashSession{}, err
		}
		session := domain.NewCashSession(sessionID, readableID, req.CashierID, req.CashierName, s.defaultStoreID, initialCash, openedAt)
		if err := tx.CreateSession(ctx, session); err != nil {
			return domain.CashSession{}, err
		}
		return session, nil
	})
	if errors.Is(err, store.ErrDuplicate) {
		err = domain.ErrSessionAlreadyOpen
	}
	if err != nil {
		return domain.SessionResponse{}, s.logFailure("open session", translate(err), req.CashierID)
	}

	log.Info().
		Str("session", session.ReadableID).
		Str("cashier_id", session.CashierID).
		Str("initial_cash", session.InitialCash.StringFixed(2)).
		Msg("cash session opened")

	return domain.SessionResponse{SessionID: session.ID, ReadableID: session.ReadableID, Session: session}, nil
}

func (s *Service) CloseSession(ctx context.Context, req domain.CloseSessionRequest) (domain.CashSession, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return domain.CashSession{}, domain.InvalidInput("session id is required")
	}
	if req.FinalCash == nil {
		return domain.CashSession{}, domain.InvalidInput("final cash is required")
	}
	if req.FinalCash.IsNegative() {
		return domain.CashSession{}, domain.InvalidInput("final cash must not be negative")
	}

	finalCash := *req.FinalCash
	notes := strings.TrimSpace(req.Notes)
	closedAt := s.now()

	session, err := store.Do(ctx, s.store, func(ctx context.Context, tx store.Tx) (domain.CashSession, error) {
		current, err := tx.GetSession(ctx, req.SessionID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.CashSession{}, domain.ErrSessionNotFound
		}
		if err != nil {
			return domain.CashSession{}, err
		}
		if err := authorizeCashier(ctx, current.CashierID); err != nil {
			return domain.CashSession{}, err
		}
		session := *current
		if err := session.Close(finalCash, notes, closedAt); err != nil {
			return domain.CashSession{}, err
		}
		if err := tx.UpdateSession(ctx, session); err != nil {
			return domain.CashSession{}, err
		}
		return session, nil
	})
	if err != nil {
		return domain.CashSession{}, s.logFailure("close session", translate(err), req.SessionID)
	}

	log.Info().
		Str("session", session.ReadableID).
		Int("sales_count", session.SalesCount).
		Str("total_sales", session.TotalSales.StringFixed(2)).
		Str("difference", session.Difference.StringFixed(2)).
		Msg("cash session closed")

	return session, nil
}

func (s *Service) GetSession(ctx context.Context, id string) (domain.CashSession, error) {
	session, err := s.store.GetSession(ctx, strings.TrimSpace(id))
	if errors.Is(err, store.ErrNotFound) {
		return domain.CashSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.CashSession{}, err
	}
	return *session, nil
}

func (s *Service) ListSessionSales(ctx context.Context, sessionID string) ([]domain.Sale, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListSalesBySession(ctx, strings.TrimSpace(sessionID))
}

func (s *Service) logFailure(op string, err error, subject string) error {
	if domain.IsBusinessError(err) {
		log.Warn().Err(err).Str("op", op).Str("subject", subject).Msg("request rejected")
		return err
	}
	log.Error().Err(err).Str("op", op).Str("subject", subject).Msg("request failed")
	return fmt.Errorf("%s: %w", op, err)
}
