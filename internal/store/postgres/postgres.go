package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"homemart/backend/internal/domain"
	"homemart/backend/internal/store"
)

const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

type Store struct {
	db          *sql.DB
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

func New(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, maxAttempts: store.DefaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RunTx runs fn in a SERIALIZABLE transaction. Postgres aborts the loser of
// a read/write race with 40001, which surfaces as store.ErrConflict and
// sends the attempt back through store.Retry.
func (s *Store) RunTx(ctx context.Context, fn store.TxFunc) error {
	return store.Retry(ctx, s.maxAttempts, func() error {
		return s.runOnce(ctx, fn)
	})
}

func (s *Store) runOnce(ctx context.Context, fn store.TxFunc) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &pgTx{q: sqlTx}); err != nil {
		return classify(err)
	}
	return classify(sqlTx.Commit())
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type pgTx struct {
	q querier
}

func (t *pgTx) GetSkus(ctx context.Context, ids []string) (map[string]domain.SkuRecord, error) {
	result := make(map[string]domain.SkuRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	skus, err := querySkus(ctx, t.q, `WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, sku := range skus {
		result[sku.ID] = sku
	}
	return result, nil
}

func (t *pgTx) GetCounter(ctx context.Context, key string) (int64, bool, error) {
	var count int64
	err := t.q.QueryRowContext(ctx, `SELECT count FROM sequence_counters WHERE key = $1`, key).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

func (t *pgTx) GetSession(ctx context.Context, id string) (*domain.CashSession, error) {
	return getSession(ctx, t.q, `WHERE id = $1`, id)
}

func (t *pgTx) FindOpenSession(ctx context.Context, cashierID string) (*domain.CashSession, error) {
	return getSession(ctx, t.q, `WHERE cashier_id = $1 AND status = 'open'`, cashierID)
}

func (t *pgTx) FindSaleByIdempotencyKey(ctx context.Context, key string) (*domain.Sale, error) {
	return getSale(ctx, t.q, `WHERE idempotency_key = $1`, key)
}

func (t *pgTx) IncrementStock(ctx context.Context, skuID string, delta int) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE skus
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
	`, skuID, delta)
	if err != nil {
		if hasCode(err, codeCheckViolation) {
			return store.ErrNegativeStock
		}
		return err
	}
	return expectOneRow(res)
}

func (t *pgTx) IncrementCounter(ctx context.Context, key string, delta int64) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sequence_counters (key, count)
		VALUES ($1, $2)
		ON CONFLICT (key)
		DO UPDATE SET count = sequence_counters.count + EXCLUDED.count
	`, key, delta)
	return err
}

func (t *pgTx) CreateSession(ctx context.Context, session domain.CashSession) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO cash_sessions (
			id, readable_id, cashier_id, cashier_name, store_id, initial_cash, status,
			sales_count, total_sales, opened_at, closed_at, final_cash, expected_cash, difference, notes
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, session.ID, session.ReadableID, session.CashierID, session.CashierName, session.StoreID,
		session.InitialCash, string(session.Status), session.SalesCount, session.TotalSales,
		session.OpenedAt, nullTime(session.ClosedAt), nullDecimal(session.FinalCash),
		nullDecimal(session.ExpectedCash), nullDecimal(session.Difference), session.Notes)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (t *pgTx) UpdateSession(ctx context.Context, session domain.CashSession) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE cash_sessions
		SET status = $2, sales_count = $3, total_sales = $4, closed_at = $5,
			final_cash = $6, expected_cash = $7, difference = $8, notes = $9
		WHERE id = $1
	`, session.ID, string(session.Status), session.SalesCount, session.TotalSales,
		nullTime(session.ClosedAt), nullDecimal(session.FinalCash), nullDecimal(session.ExpectedCash),
		nullDecimal(session.Difference), session.Notes)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// RecordSessionSale bumps the counters in place. The guarded UPDATE only
// misses when the session is gone or already closed.
func (t *pgTx) RecordSessionSale(ctx context.Context, sessionID string, total decimal.Decimal) error {
	var status string
	err := t.q.QueryRowContext(ctx, `
		UPDATE cash_sessions
		SET sales_count = sales_count + 1, total_sales = total_sales + $2
		WHERE id = $1 AND status = 'open'
		RETURNING status
	`, sessionID, total).Scan(&status)
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	err = t.q.QueryRowContext(ctx, `SELECT status FROM cash_sessions WHERE id = $1`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrSessionClosed
}

func (t *pgTx) CreateSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sales (
			id, readable_id, session_id, cashier_id, cashier_name,
			customer_name, customer_phone, customer_address, is_delivery,
			subtotal, delivery_fee, total,
			payment_method, amount_tendered, change_due, bank, reference,
			status, idempotency_key, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, sale.ID, sale.ReadableID, sale.SessionID, sale.CashierID, sale.CashierName,
		sale.Customer.Name, sale.Customer.Phone, sale.Customer.Address, sale.Customer.IsDelivery,
		sale.Totals.Subtotal, sale.Totals.DeliveryFee, sale.Totals.Total,
		sale.Payment.Method, sale.Payment.AmountTendered, sale.Payment.Change,
		nullIfEmpty(sale.Payment.Bank), nullIfEmpty(sale.Payment.Reference),
		sale.Status, nullIfEmpty(sale.IdempotencyKey), sale.CreatedAt)
	if err != nil {
		// A racing sale took the same number or idempotency key. The retry
		// re-reads both, so it either renumbers or replays the winner.
		if hasCode(err, codeUniqueViolation) {
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
		return err
	}

	for i, item := range sale.Items {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, sku_id, name, unit_price, quantity, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sale.ID, i+1, item.SkuID, item.Name, item.UnitPrice, item.Quantity, item.LineTotal)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetSku(ctx context.Context, id string) (*domain.SkuRecord, error) {
	skus, err := querySkus(ctx, s.db, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(skus) == 0 {
		return nil, store.ErrNotFound
	}
	return &skus[0], nil
}

func (s *Store) ListSkus(ctx context.Context, limit int) ([]domain.SkuRecord, error) {
	if limit < 1 {
		limit = 50
	}
	return querySkus(ctx, s.db, `ORDER BY name ASC, id ASC LIMIT $1`, limit)
}

func (s *Store) SearchSkus(ctx context.Context, term string, limit int) ([]domain.SkuRecord, error) {
	if limit < 1 {
		limit = 10
	}
	pattern := "%" + escapeLike(strings.TrimSpace(term)) + "%"
	return querySkus(ctx, s.db, `
		WHERE name ILIKE $1 OR sku ILIKE $1 OR barcode ILIKE $1
		ORDER BY name ASC, id ASC
		LIMIT $2
	`, pattern, limit)
}

func (s *Store) UpsertSku(ctx context.Context, sku domain.SkuRecord) error {
	if strings.TrimSpace(sku.ID) == "" || sku.Stock < 0 {
		return domain.InvalidInput("sku id is required and stock must not be negative")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skus (
			id, product_id, sku, barcode, name, short_name, variant_name,
			price, cost, category, brand, low_stock_alert, stock, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
		ON CONFLICT (id)
		DO UPDATE SET product_id = EXCLUDED.product_id, sku = EXCLUDED.sku, barcode = EXCLUDED.barcode,
			name = EXCLUDED.name, short_name = EXCLUDED.short_name, variant_name = EXCLUDED.variant_name,
			price = EXCLUDED.price, cost = EXCLUDED.cost, category = EXCLUDED.category, brand = EXCLUDED.brand,
			low_stock_alert = EXCLUDED.low_stock_alert, stock = EXCLUDED.stock, updated_at = now()
	`, sku.ID, sku.ProductID, sku.SKU, sku.Barcode, sku.Name, sku.ShortName, sku.VariantName,
		sku.Price, sku.Cost, sku.Category, sku.Brand, sku.LowStockAlert, sku.Stock)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.CashSession, error) {
	return getSession(ctx, s.db, `WHERE id = $1`, id)
}

func (s *Store) FindOpenSession(ctx context.Context, cashierID string) (*domain.CashSession, error) {
	return getSession(ctx, s.db, `WHERE cashier_id = $1 AND status = 'open'`, cashierID)
}

// GetSale accepts either the internal id or the printed HM number.
func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getSale(ctx, s.db, `WHERE id = $1 OR readable_id = $1`, id)
}

func (s *Store) ListSalesBySession(ctx context.Context, sessionID string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, saleColumns+`
		FROM sales
		WHERE session_id = $1
		ORDER BY readable_id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 16)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	for i := range sales {
		items, err := getSaleItems(ctx, s.db, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Items = items
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
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.InvalidInput("username and password are required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

const skuColumns = `
	SELECT id, product_id, sku, barcode, name, short_name, variant_name,
		price, cost, category, brand, low_stock_alert, stock
	FROM skus
`

func querySkus(ctx context.Context, q querier, clause string, args ...any) ([]domain.SkuRecord, error) {
	rows, err := q.QueryContext(ctx, skuColumns+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	skus := make([]domain.SkuRecord, 0, 16)
	for rows.Next() {
		var sku domain.SkuRecord
		if err := rows.Scan(&sku.ID, &sku.ProductID, &sku.SKU, &sku.Barcode, &sku.Name, &sku.ShortName,
			&sku.VariantName, &sku.Price, &sku.Cost, &sku.Category, &sku.Brand, &sku.LowStockAlert, &sku.Stock); err != nil {
			return nil, err
		}
		skus = append(skus, sku)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return skus, nil
}

func getSession(ctx context.Context, q querier, clause string, args ...any) (*domain.CashSession, error) {
	var (
		session      domain.CashSession
		status       string
		closedAt     sql.NullTime
		finalCash    decimal.NullDecimal
		expectedCash decimal.NullDecimal
		difference   decimal.NullDecimal
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, readable_id, cashier_id, cashier_name, store_id, initial_cash, status,
			sales_count, total_sales, opened_at, closed_at, final_cash, expected_cash, difference, notes
		FROM cash_sessions
	`+clause, args...).Scan(
		&session.ID,
		&session.ReadableID,
		&session.CashierID,
		&session.CashierName,
		&session.StoreID,
		&session.InitialCash,
		&status,
		&session.SalesCount,
		&session.TotalSales,
		&session.OpenedAt,
		&closedAt,
		&finalCash,
		&expectedCash,
		&difference,
		&session.Notes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if session.Status, err = domain.ParseSessionStatus(status); err != nil {
		return nil, fmt.Errorf("session %s: %w", session.ID, err)
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		session.ClosedAt = &at
	}
	session.FinalCash = decimalPtr(finalCash)
	session.ExpectedCash = decimalPtr(expectedCash)
	session.Difference = decimalPtr(difference)
	return &session, nil
}

const saleColumns = `
	SELECT id, readable_id, session_id, cashier_id, cashier_name,
		customer_name, customer_phone, customer_address, is_delivery,
		subtotal, delivery_fee, total,
		payment_method, amount_tendered, change_due, bank, reference,
		status, idempotency_key, created_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanSale(row scanner) (domain.Sale, error) {
	var (
		sale           domain.Sale
		bank           sql.NullString
		reference      sql.NullString
		idempotencyKey sql.NullString
	)
	err := row.Scan(
		&sale.ID,
		&sale.ReadableID,
		&sale.SessionID,
		&sale.CashierID,
		&sale.CashierName,
		&sale.Customer.Name,
		&sale.Customer.Phone,
		&sale.Customer.Address,
		&sale.Customer.IsDelivery,
		&sale.Totals.Subtotal,
		&sale.Totals.DeliveryFee,
		&sale.Totals.Total,
		&sale.Payment.Method,
		&sale.Payment.AmountTendered,
		&sale.Payment.Change,
		&bank,
		&reference,
		&sale.Status,
		&idempotencyKey,
		&sale.CreatedAt,
	)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Payment.Bank = bank.String
	sale.Payment.Reference = reference.String
	sale.IdempotencyKey = idempotencyKey.String
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, nil
}

func getSale(ctx context.Context, q querier, clause string, args ...any) (*domain.Sale, error) {
	sale, err := scanSale(q.QueryRowContext(ctx, saleColumns+`FROM sales `+clause, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	items, err := getSaleItems(ctx, q, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

func getSaleItems(ctx context.Context, q querier, saleID string) ([]domain.SaleLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sku_id, name, unit_price, quantity, line_total
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY line_no ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var item domain.SaleLine
		if err := rows.Scan(&item.SkuID, &item.Name, &item.UnitPrice, &item.Quantity, &item.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// classify turns the codes Postgres uses for lost races into
// store.ErrConflict and leaves everything else untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if hasCode(err, codeSerializationFailure) || hasCode(err, codeDeadlockDetected) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
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

func decimalPtr(val decimal.NullDecimal) *decimal.Decimal {
	if !val.Valid {
		return nil
	}
	d := val.Decimal
	return &d
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}
