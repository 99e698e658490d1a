// Package sqlite is the single-node store for a one-till shop. Writes go
// through a single connection, so SQLite itself serializes transactions.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"homemart/backend/internal/domain"
	"homemart/backend/internal/store"
)

type Store struct {
	db          *sqlx.DB
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

// New opens the database at path. ":memory:" gives a throwaway database
// that lives as long as the store.
func New(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, maxAttempts: store.DefaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RunTx(ctx context.Context, fn store.TxFunc) error {
	return store.Retry(ctx, s.maxAttempts, func() error {
		return s.runOnce(ctx, fn)
	})
}

func (s *Store) runOnce(ctx context.Context, fn store.TxFunc) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &liteTx{q: sqlTx}); err != nil {
		return classify(err)
	}
	return classify(sqlTx.Commit())
}

type liteTx struct {
	q sqlx.ExtContext
}

func (t *liteTx) GetSkus(ctx context.Context, ids []string) (map[string]domain.SkuRecord, error) {
	result := make(map[string]domain.SkuRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(skuSelect+`WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []skuRow
	if err := sqlx.SelectContext(ctx, t.q, &rows, t.q.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.ID] = row.toDomain()
	}
	return result, nil
}

func (t *liteTx) GetCounter(ctx context.Context, key string) (int64, bool, error) {
	var count int64
	err := sqlx.GetContext(ctx, t.q, &count, `SELECT count FROM sequence_counters WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

func (t *liteTx) GetSession(ctx context.Context, id string) (*domain.CashSession, error) {
	return getSession(ctx, t.q, `WHERE id = ?`, id)
}

func (t *liteTx) FindOpenSession(ctx context.Context, cashierID string) (*domain.CashSession, error) {
	return getSession(ctx, t.q, `WHERE cashier_id = ? AND status = 'open'`, cashierID)
}

func (t *liteTx) FindSaleByIdempotencyKey(ctx context.Context, key string) (*domain.Sale, error) {
	return getSale(ctx, t.q, `WHERE idempotency_key = ?`, key)
}

func (t *liteTx) IncrementStock(ctx context.Context, skuID string, delta int) error {
	res, err := t.q.ExecContext(ctx, `UPDATE skus SET stock = stock + ? WHERE id = ?`, delta, skuID)
	if err != nil {
		if hasCode(err, sqlite3.SQLITE_CONSTRAINT_CHECK) {
			return store.ErrNegativeStock
		}
		return err
	}
	return expectOneRow(res)
}

func (t *liteTx) IncrementCounter(ctx context.Context, key string, delta int64) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sequence_counters (key, count) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET count = count + excluded.count
	`, key, delta)
	return err
}

func (t *liteTx) CreateSession(ctx context.Context, session domain.CashSession) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO cash_sessions (
			id, readable_id, cashier_id, cashier_name, store_id, initial_cash, status,
			sales_count, total_sales, opened_at, closed_at, final_cash, expected_cash, difference, notes
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, session.ID, session.ReadableID, session.CashierID, session.CashierName, session.StoreID,
		session.InitialCash.String(), string(session.Status), session.SalesCount, session.TotalSales.String(),
		formatTime(session.OpenedAt), nullTime(session.ClosedAt), nullDecimal(session.FinalCash),
		nullDecimal(session.ExpectedCash), nullDecimal(session.Difference), session.Notes)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (t *liteTx) UpdateSession(ctx context.Context, session domain.CashSession) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE cash_sessions
		SET status = ?, sales_count = ?, total_sales = ?, closed_at = ?,
			final_cash = ?, expected_cash = ?, difference = ?, notes = ?
		WHERE id = ?
	`, string(session.Status), session.SalesCount, session.TotalSales.String(), nullTime(session.ClosedAt),
		nullDecimal(session.FinalCash), nullDecimal(session.ExpectedCash), nullDecimal(session.Difference),
		session.Notes, session.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// RecordSessionSale adds in Go because SQLite arithmetic on the TEXT
// money columns would go through REAL.
func (t *liteTx) RecordSessionSale(ctx context.Context, sessionID string, total decimal.Decimal) error {
	session, err := t.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := session.RecordSale(total); err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		UPDATE cash_sessions SET sales_count = ?, total_sales = ? WHERE id = ?
	`, session.SalesCount, session.TotalSales.String(), sessionID)
	return err
}

func (t *liteTx) CreateSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sales (
			id, readable_id, session_id, cashier_id, cashier_name,
			customer_name, customer_phone, customer_address, is_delivery,
			subtotal, delivery_fee, total,
			payment_method, amount_tendered, change_due, bank, reference,
			status, idempotency_key, created_at
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, sale.ID, sale.ReadableID, sale.SessionID, sale.CashierID, sale.CashierName,
		sale.Customer.Name, sale.Customer.Phone, sale.Customer.Address, sale.Customer.IsDelivery,
		sale.Totals.Subtotal.String(), sale.Totals.DeliveryFee.String(), sale.Totals.Total.String(),
		sale.Payment.Method, sale.Payment.AmountTendered.String(), sale.Payment.Change.String(),
		nullIfEmpty(sale.Payment.Bank), nullIfEmpty(sale.Payment.Reference),
		sale.Status, nullIfEmpty(sale.IdempotencyKey), formatTime(sale.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
		return err
	}

	for i, item := range sale.Items {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, sku_id, name, unit_price, quantity, line_total)
			VALUES (?,?,?,?,?,?,?)
		`, sale.ID, i+1, item.SkuID, item.Name, item.UnitPrice.String(), item.Quantity, item.LineTotal.String())
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetSku(ctx context.Context, id string) (*domain.SkuRecord, error) {
	var row skuRow
	err := s.db.GetContext(ctx, &row, skuSelect+`WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sku := row.toDomain()
	return &sku, nil
}

func (s *Store) ListSkus(ctx context.Context, limit int) ([]domain.SkuRecord, error) {
	if limit < 1 {
		limit = 50
	}
	return s.selectSkus(ctx, skuSelect+`ORDER BY name, id LIMIT ?`, limit)
}

func (s *Store) SearchSkus(ctx context.Context, term string, limit int) ([]domain.SkuRecord, error) {
	if limit < 1 {
		limit = 10
	}
	like := "%" + escapeLike(strings.TrimSpace(term)) + "%"
	return s.selectSkus(ctx, skuSelect+`
		WHERE name LIKE ? ESCAPE '\' OR sku LIKE ? ESCAPE '\' OR barcode LIKE ? ESCAPE '\'
		ORDER BY name, id
		LIMIT ?
	`, like, like, like, limit)
}

func (s *Store) selectSkus(ctx context.Context, query string, args ...any) ([]domain.SkuRecord, error) {
	var rows []skuRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	skus := make([]domain.SkuRecord, 0, len(rows))
	for _, row := range rows {
		skus = append(skus, row.toDomain())
	}
	return skus, nil
}

func (s *Store) UpsertSku(ctx context.Context, sku domain.SkuRecord) error {
	if strings.TrimSpace(sku.ID) == "" || sku.Stock < 0 {
		return domain.InvalidInput("sku id is required and stock must not be negative")
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO skus (
			id, product_id, sku, barcode, name, short_name, variant_name,
			price, cost, category, brand, low_stock_alert, stock
		)
		VALUES (
			:id, :product_id, :sku, :barcode, :name, :short_name, :variant_name,
			:price, :cost, :category, :brand, :low_stock_alert, :stock
		)
		ON CONFLICT (id) DO UPDATE SET
			product_id = excluded.product_id, sku = excluded.sku, barcode = excluded.barcode,
			name = excluded.name, short_name = excluded.short_name, variant_name = excluded.variant_name,
			price = excluded.price, cost = excluded.cost, category = excluded.category, brand = excluded.brand,
			low_stock_alert = excluded.low_stock_alert, stock = excluded.stock
	`, newSkuRow(sku))
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.CashSession, error) {
	return getSession(ctx, s.db, `WHERE id = ?`, id)
}

func (s *Store) FindOpenSession(ctx context.Context, cashierID string) (*domain.CashSession, error) {
	return getSession(ctx, s.db, `WHERE cashier_id = ? AND status = 'open'`, cashierID)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getSale(ctx, s.db, `WHERE id = ? OR readable_id = ?`, id, id)
}

func (s *Store) ListSalesBySession(ctx context.Context, sessionID string) ([]domain.Sale, error) {
	var rows []saleRow
	if err := s.db.SelectContext(ctx, &rows, saleSelect+`WHERE session_id = ? ORDER BY readable_id`, sessionID); err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, len(rows))
	for _, row := range rows {
		sale, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		if sale.Items, err = getSaleItems(ctx, s.db, sale.ID); err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.InvalidInput("username and password are required")
	}
	if user.Role == "" {
		user.Role = domain.RoleSeller
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at) VALUES (?,?,?,?,?)
	`, user.Username, user.Password, user.Role, user.Active, formatTime(user.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT username, password, role, active, created_at FROM app_users ORDER BY username
	`); err != nil {
		return nil, err
	}
	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		createdAt, err := parseTime(row.CreatedAt)
		if err != nil {
			return nil, err
		}
		users = append(users, domain.UserAccount{
			Username:  row.Username,
			Password:  row.Password,
			Role:      row.Role,
			Active:    row.Active,
			CreatedAt: createdAt,
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.InvalidInput("username and password are required")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE app_users SET password = ? WHERE username = ?`, password, username)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func getSession(ctx context.Context, q sqlx.QueryerContext, clause string, args ...any) (*domain.CashSession, error) {
	var row sessionRow
	err := sqlx.GetContext(ctx, q, &row, sessionSelect+clause, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	session, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func getSale(ctx context.Context, q sqlx.QueryerContext, clause string, args ...any) (*domain.Sale, error) {
	var row saleRow
	err := sqlx.GetContext(ctx, q, &row, saleSelect+clause, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sale, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	if sale.Items, err = getSaleItems(ctx, q, sale.ID); err != nil {
		return nil, err
	}
	return &sale, nil
}

func getSaleItems(ctx context.Context, q sqlx.QueryerContext, saleID string) ([]domain.SaleLine, error) {
	var rows []saleItemRow
	if err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT sku_id, name, unit_price, quantity, line_total
		FROM sale_items
		WHERE sale_id = ?
		ORDER BY line_no
	`, saleID); err != nil {
		return nil, err
	}
	items := make([]domain.SaleLine, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.SaleLine{
			SkuID:     row.SkuID,
			Name:      row.Name,
			UnitPrice: row.UnitPrice,
			Quantity:  row.Quantity,
			LineTotal: row.LineTotal,
		})
	}
	return items, nil
}

// classify maps a locked database onto store.ErrConflict so the attempt is
// retried. It only happens when another process shares the file.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if hasCode(err, sqlite3.SQLITE_BUSY) || hasCode(err, sqlite3.SQLITE_LOCKED) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

// hasCode compares primary result codes for the generic codes and extended
// codes otherwise.
func hasCode(err error, code int) bool {
	var liteErr *sqlitedrv.Error
	if !errors.As(err, &liteErr) {
		return false
	}
	if code <= 0xff {
		return liteErr.Code()&0xff == code
	}
	return liteErr.Code() == code
}

func isUniqueViolation(err error) bool {
	return hasCode(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE) || hasCode(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY)
}

func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return formatTime(*val)
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return val.String()
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
