package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"homemart/backend/internal/cache"
	"homemart/backend/internal/domain"
	"homemart/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	store          store.Store
	replay         cache.SaleReplayCache
	replayTTL      time.Duration
	defaultStoreID string
	now            func() time.Time
}

func New(st store.Store, replay cache.SaleReplayCache, replayTTL time.Duration, defaultStoreID string) *Service {
	if replay == nil {
		replay = cache.NoopSaleReplayCache{}
	}
	if replayTTL <= 0 {
		replayTTL = 10 * time.Minute
	}
	if defaultStoreID == "" {
		defaultStoreID = "sucursal_principal"
	}

	return &Service{
		store:          st,
		replay:         replay,
		replayTTL:      replayTTL,
		defaultStoreID: defaultStoreID,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// authorizeCashier lets admins act on any drawer and everyone else only on
// their own. Calls without an actor come from trusted code and pass.
func authorizeCashier(ctx context.Context, cashierID string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role == domain.RoleAdmin || actor.Username == cashierID {
		return nil
	}
	return domain.ErrNotSessionOwner
}

// translate maps store-level failures onto the domain taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %v", domain.ErrTransactionConflict, err)
	case errors.Is(err, store.ErrNegativeStock):
		// Prepare already checked the floor, so only a concurrent writer
		// can get here.
		return fmt.Errorf("%w: %v", domain.ErrTransactionConflict, err)
	}
	return err
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
