package memory

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"homemart/backend/internal/domain"
	"homemart/backend/internal/store"
)

type table uint8

const (
	tableSku table = iota
	tableCounter
	tableSession
	tableOpenSession
	tableSale
	tableSaleReadable
	tableSaleIdempotency
)

type ref struct {
	table table
	key   string
}

// entry is a committed value and the store version that wrote it. Entries are
// never deleted so a version seen by a reader can never reappear.
type entry struct {
	version uint64
	value   any
}

// Store is an in-memory store with optimistic concurrency: transactions
// record the version of every key they read and commit only if none of those
// keys changed in the meantime.
type Store struct {
	mu          sync.RWMutex
	version     uint64
	data        map[ref]entry
	users       map[string]domain.UserAccount
	maxAttempts int
}

type Option func(*Store)

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		data:        make(map[ref]entry),
		users:       make(map[string]domain.UserAccount),
		maxAttempts: store.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedUsers builds the demo accounts with bcrypt-hashed passwords.
// Credentials come from SEED_ADMIN_PASSWORD, SEED_SELLER_PASSWORD and
// SEED_WAREHOUSE_PASSWORD, falling back to dev defaults with a warning.
func SeedUsers() []domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "vendedor123")
	warehousePwd := envOr("SEED_WAREHOUSE_PASSWORD", "bodega123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := make([]domain.UserAccount, 0, 3)
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"vendedor", sellerPwd, domain.RoleSeller},
		{"bodega", warehousePwd, domain.RoleWarehouse},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Error().Err(err).Str("user", u.username).Msg("skipping seed user, password could not be hashed")
			continue
		}
		users = append(users, domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func money(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

// SeedSkus is the demo catalog loaded by NewSeeded.
func SeedSkus() []domain.SkuRecord {
	return []domain.SkuRecord{
		{ID: "sku-arroz-1kg", ProductID: "prod-arroz", SKU: "ARR-001", Barcode: "7441001000011", Name: "Arroz Faisan 1kg", Price: money("52.00"), Cost: money("41.50"), Category: "Abarrotes", Brand: "Faisan", LowStockAlert: 10, Stock: 80},
		{ID: "sku-frijol-1lb", ProductID: "prod-frijol", SKU: "FRI-001", Barcode: "7441001000028", Name: "Frijol Rojo 1lb", Price: money("38.00"), Cost: money("29.00"), Category: "Abarrotes", LowStockAlert: 10, Stock: 60},
		{ID: "sku-aceite-1l", ProductID: "prod-aceite", SKU: "ACE-001", Barcode: "7441001000035", Name: "Aceite Clover 1L", Price: money("95.50"), Cost: money("78.00"), Category: "Abarrotes", Brand: "Clover", LowStockAlert: 5, Stock: 24},
		{ID: "sku-cafe-400", ProductID: "prod-cafe", SKU: "CAF-400", Barcode: "7441001000042", Name: "Cafe Presto 400g", VariantName: "400g", Price: money("185.00"), Cost: money("140.00"), Category: "Bebidas", Brand: "Presto", LowStockAlert: 4, Stock: 18},
		{ID: "sku-cafe-200", ProductID: "prod-cafe", SKU: "CAF-200", Barcode: "7441001000059", Name: "Cafe Presto 200g", VariantName: "200g", Price: money("98.00"), Cost: money("72.00"), Category: "Bebidas", Brand: "Presto", LowStockAlert: 4, Stock: 30},
		{ID: "sku-jabon", ProductID: "prod-jabon", SKU: "LIM-010", Barcode: "7441001000066", Name: "Jabon Xedex 1kg", Price: money("64.00"), Cost: money("50.00"), Category: "Limpieza", Brand: "Xedex", LowStockAlert: 6, Stock: 35},
		{ID: "sku-foco-led", ProductID: "prod-foco", SKU: "HOG-101", Barcode: "7441001000073", Name: "Foco LED 9W", Price: money("75.00"), Cost: money("45.00"), Category: "Hogar", LowStockAlert: 3, Stock: 12},
		{ID: "sku-escoba", ProductID: "prod-escoba", SKU: "HOG-102", Barcode: "7441001000080", Name: "Escoba Plastica", Price: money("120.00"), Cost: money("80.00"), Category: "Hogar", LowStockAlert: 2, Stock: 8},
	}
}

func NewSeeded(opts ...Option) *Store {
	s := New(opts...)
	for _, sku := range SeedSkus() {
		_ = s.UpsertSku(context.Background(), sku)
	}
	for _, user := range SeedUsers() {
		s.users[user.Username] = user
	}
	return s
}

func (s *Store) RunTx(ctx context.Context, fn store.TxFunc) error {
	return store.Retry(ctx, s.maxAttempts, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{s: s, reads: make(map[ref]uint64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return tx.commit()
	})
}

func (s *Store) GetSku(_ context.Context, id string) (*domain.SkuRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[ref{tableSku, id}]
	if !ok {
		return nil, store.ErrNotFound
	}
	sku := e.value.(domain.SkuRecord)
	return &sku, nil
}

func (s *Store) ListSkus(_ context.Context, limit int) ([]domain.SkuRecord, error) {
	return s.filterSkus(func(domain.SkuRecord) bool { return true }, limit), nil
}

func (s *Store) SearchSkus(_ context.Context, term string, limit int) ([]domain.SkuRecord, error) {
	needle := strings.ToLower(strings.TrimSpace(term))
	return s.filterSkus(func(sku domain.SkuRecord) bool {
		return strings.Contains(strings.ToLower(sku.Name), needle) ||
			strings.Contains(strings.ToLower(sku.SKU), needle) ||
			strings.Contains(strings.ToLower(sku.Barcode), needle)
	}, limit), nil
}

func (s *Store) filterSkus(match func(domain.SkuRecord) bool, limit int) []domain.SkuRecord {
	s.mu.RLock()
	result := make([]domain.SkuRecord, 0, 16)
	for r, e := range s.data {
		if r.table != tableSku {
			continue
		}
		sku := e.value.(domain.SkuRecord)
		if match(sku) {
			result = append(result, sku)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name == result[j].Name {
			return result[i].ID < result[j].ID
		}
		return result[i].Name < result[j].Name
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (s *Store) UpsertSku(_ context.Context, sku domain.SkuRecord) error {
	if strings.TrimSpace(sku.ID) == "" || sku.Stock < 0 {
		return domain.InvalidInput("sku id is required and stock must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	s.data[ref{tableSku, sku.ID}] = entry{version: s.version, value: sku}
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[ref{tableSession, id}]
	if !ok {
		return nil, store.ErrNotFound
	}
	session := e.value.(domain.CashSession)
	return &session, nil
}

func (s *Store) FindOpenSession(ctx context.Context, cashierID string) (*domain.CashSession, error) {
	s.mu.RLock()
	e, ok := s.data[ref{tableOpenSession, cashierID}]
	s.mu.RUnlock()
	if !ok || e.value.(string) == "" {
		return nil, store.ErrNotFound
	}
	return s.GetSession(ctx, e.value.(string))
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.data[ref{tableSaleReadable, id}]; ok {
		id = e.value.(string)
	}
	e, ok := s.data[ref{tableSale, id}]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale := e.value.(domain.Sale).Clone()
	return &sale, nil
}

func (s *Store) ListSalesBySession(_ context.Context, sessionID string) ([]domain.Sale, error) {
	s.mu.RLock()
	sales := make([]domain.Sale, 0, 16)
	for r, e := range s.data {
		if r.table != tableSale {
			continue
		}
		sale := e.value.(domain.Sale)
		if sale.SessionID == sessionID {
			sales = append(sales, sale.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(sales, func(i, j int) bool {
		return sales[i].ReadableID < sales[j].ReadableID
	})
	return sales, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.InvalidInput("username and password are required")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return store.ErrDuplicate
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

type op func(w *overlay) error

// overlay stages the writes of one commit so a failing op leaves the store
// untouched.
type overlay struct {
	s       *Store
	changed map[ref]any
}

func (w *overlay) get(r ref) (any, bool) {
	if v, ok := w.changed[r]; ok {
		return v, true
	}
	e, ok := w.s.data[r]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (w *overlay) put(r ref, v any) {
	w.changed[r] = v
}

type memTx struct {
	s     *Store
	reads map[ref]uint64
	ops   []op
}

func (t *memTx) read(r ref) (any, bool, error) {
	if len(t.ops) > 0 {
		return nil, false, store.ErrReadAfterWrite
	}

	t.s.mu.RLock()
	e, ok := t.s.data[r]
	t.s.mu.RUnlock()

	if seen, already := t.reads[r]; already && seen != e.version {
		return nil, false, store.ErrConflict
	}
	t.reads[r] = e.version
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (t *memTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for r, seen := range t.reads {
		if s.data[r].version != seen {
			return store.ErrConflict
		}
	}

	w := &overlay{s: s, changed: make(map[ref]any)}
	for _, apply := range t.ops {
		if err := apply(w); err != nil {
			return err
		}
	}
	if len(w.changed) == 0 {
		return nil
	}

	s.version++
	for r, v := range w.changed {
		s.data[r] = entry{version: s.version, value: v}
	}
	return nil
}

func (t *memTx) GetSkus(_ context.Context, ids []string) (map[string]domain.SkuRecord, error) {
	result := make(map[string]domain.SkuRecord, len(ids))
	for _, id := range ids {
		v, ok, err := t.read(ref{tableSku, id})
		if err != nil {
			return nil, err
		}
		if ok {
			result[id] = v.(domain.SkuRecord)
		}
	}
	return result, nil
}

func (t *memTx) GetCounter(_ context.Context, key string) (int64, bool, error) {
	v, ok, err := t.read(ref{tableCounter, key})
	if err != nil || !ok {
		return 0, false, err
	}
	return v.(int64), true, nil
}

func (t *memTx) GetSession(_ context.Context, id string) (*domain.CashSession, error) {
	v, ok, err := t.read(ref{tableSession, id})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	session := v.(domain.CashSession)
	return &session, nil
}

func (t *memTx) FindOpenSession(ctx context.Context, cashierID string) (*domain.CashSession, error) {
	v, ok, err := t.read(ref{tableOpenSession, cashierID})
	if err != nil {
		return nil, err
	}
	if !ok || v.(string) == "" {
		return nil, store.ErrNotFound
	}
	return t.GetSession(ctx, v.(string))
}

func (t *memTx) FindSaleByIdempotencyKey(_ context.Context, key string) (*domain.Sale, error) {
	v, ok, err := t.read(ref{tableSaleIdempotency, key})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	saleValue, ok, err := t.read(ref{tableSale, v.(string)})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	sale := saleValue.(domain.Sale).Clone()
	return &sale, nil
}

func (t *memTx) IncrementStock(_ context.Context, skuID string, delta int) error {
	t.ops = append(t.ops, func(w *overlay) error {
		v, ok := w.get(ref{tableSku, skuID})
		if !ok {
			return store.ErrNotFound
		}
		sku := v.(domain.SkuRecord)
		sku.Stock += delta
		if sku.Stock < 0 {
			return store.ErrNegativeStock
		}
		w.put(ref{tableSku, skuID}, sku)
		return nil
	})
	return nil
}

func (t *memTx) IncrementCounter(_ context.Context, key string, delta int64) error {
	t.ops = append(t.ops, func(w *overlay) error {
		var count int64
		if v, ok := w.get(ref{tableCounter, key}); ok {
			count = v.(int64)
		}
		w.put(ref{tableCounter, key}, count+delta)
		return nil
	})
	return nil
}

func (t *memTx) CreateSession(_ context.Context, session domain.CashSession) error {
	t.ops = append(t.ops, func(w *overlay) error {
		if v, ok := w.get(ref{tableOpenSession, session.CashierID}); ok && v.(string) != "" {
			return store.ErrDuplicate
		}
		if _, ok := w.get(ref{tableSession, session.ID}); ok {
			return store.ErrDuplicate
		}
		w.put(ref{tableSession, session.ID}, session)
		if session.Status == domain.SessionOpen {
			w.put(ref{tableOpenSession, session.CashierID}, session.ID)
		}
		return nil
	})
	return nil
}

func (t *memTx) UpdateSession(_ context.Context, session domain.CashSession) error {
	t.ops = append(t.ops, func(w *overlay) error {
		if _, ok := w.get(ref{tableSession, session.ID}); !ok {
			return store.ErrNotFound
		}
		w.put(ref{tableSession, session.ID}, session)

		marker := ref{tableOpenSession, session.CashierID}
		current, _ := w.get(marker)
		switch {
		case session.Status == domain.SessionOpen:
			w.put(marker, session.ID)
		case current == session.ID:
			w.put(marker, "")
		}
		return nil
	})
	return nil
}

func (t *memTx) RecordSessionSale(_ context.Context, sessionID string, total decimal.Decimal) error {
	t.ops = append(t.ops, func(w *overlay) error {
		v, ok := w.get(ref{tableSession, sessionID})
		if !ok {
			return store.ErrNotFound
		}
		session := v.(domain.CashSession)
		if err := session.RecordSale(total); err != nil {
			return err
		}
		w.put(ref{tableSession, sessionID}, session)
		return nil
	})
	return nil
}

func (t *memTx) CreateSale(_ context.Context, sale domain.Sale) error {
	sale = sale.Clone()
	t.ops = append(t.ops, func(w *overlay) error {
		if _, ok := w.get(ref{tableSale, sale.ID}); ok {
			return store.ErrDuplicate
		}
		if _, ok := w.get(ref{tableSaleReadable, sale.ReadableID}); ok {
			return store.ErrDuplicate
		}
		if sale.IdempotencyKey != "" {
			if _, ok := w.get(ref{tableSaleIdempotency, sale.IdempotencyKey}); ok {
				return store.ErrDuplicate
			}
			w.put(ref{tableSaleIdempotency, sale.IdempotencyKey}, sale.ID)
		}
		w.put(ref{tableSale, sale.ID}, sale)
		w.put(ref{tableSaleReadable, sale.ReadableID}, sale.ID)
		return nil
	})
	return nil
}
