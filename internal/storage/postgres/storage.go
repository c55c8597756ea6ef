package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"pos_sales/internal/inventory"
	"pos_sales/internal/sales"
)

// Storage implements the sale ledger and inventory store on PostgreSQL.
// Scopes run in READ COMMITTED transactions and take row locks with
// SELECT ... FOR UPDATE, bounded by lock_timeout.
type Storage struct {
	pool     *pgxpool.Pool
	lockWait time.Duration
}

// NewStorage creates a new PostgreSQL storage.
func NewStorage(pool *pgxpool.Pool, lockWait time.Duration) *Storage {
	if lockWait <= 0 {
		lockWait = 2 * time.Second
	}
	return &Storage{
		pool:     pool,
		lockWait: lockWait,
	}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// classify marks lock, serialization and connectivity failures as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return fmt.Errorf("%w: %w", sales.ErrTransient, err)
		}
		return err
	}
	return fmt.Errorf("%w: %w", sales.ErrTransient, err)
}

// WithinTx runs fn in one database transaction.
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx sales.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	// Rollback after Commit is a no-op.
	defer pgTx.Rollback(context.WithoutCancel(ctx))

	if _, err := pgTx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockWait.Milliseconds())); err != nil {
		return classify(err)
	}

	if err := fn(ctx, &tx{tx: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Read retrieves a sale by ID.
func (s *Storage) Read(ctx context.Context, id string) (*sales.Sale, error) {
	saleID, err := uuid.Parse(id)
	if err != nil {
		return nil, sales.ErrSaleNotFound
	}
	return readSale(ctx, s.pool, `WHERE id = $1`, saleID, false)
}

// ReadByCode retrieves a sale by its code.
func (s *Storage) ReadByCode(ctx context.Context, code string) (*sales.Sale, error) {
	return readSale(ctx, s.pool, `WHERE code = $1`, code, false)
}

// ListCompleted returns completed sales created in [from, to), oldest first.
func (s *Storage) ListCompleted(ctx context.Context, from, to time.Time) ([]*sales.Sale, error) {
	rows, err := s.pool.Query(ctx, selectSale+`
		 WHERE status = 'completed' AND created_at >= $1 AND created_at < $2
		 ORDER BY created_at, code`, from, to)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make([]*sales.Sale, 0)
	byID := make(map[string]*sales.Sale)
	ids := make([]string, 0)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
		byID[sale.ID] = sale
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	lineRows, err := s.pool.Query(ctx, `
		SELECT sale_id::text, product_id, product_code, quantity, unit_price::text, line_subtotal::text
		  FROM sale_lines
		 WHERE sale_id = ANY($1::uuid[])
		 ORDER BY sale_id, position`, ids)
	if err != nil {
		return nil, classify(err)
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var saleID string
		line, err := scanLine(lineRows, &saleID)
		if err != nil {
			return nil, err
		}
		if sale, ok := byID[saleID]; ok {
			sale.Lines = append(sale.Lines, line)
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// FindProduct returns a product by ID.
func (s *Storage) FindProduct(ctx context.Context, id string) (inventory.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, selectProduct+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Product{}, fmt.Errorf("%w: %s", inventory.ErrProductNotFound, id)
		}
		return inventory.Product{}, classify(err)
	}
	return p, nil
}

// SaveProduct creates or replaces a product.
func (s *Storage) SaveProduct(ctx context.Context, p inventory.Product) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (id, code, name, unit_price, stock_on_hand, reorder_threshold, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		  code = EXCLUDED.code,
		  name = EXCLUDED.name,
		  unit_price = EXCLUDED.unit_price,
		  stock_on_hand = EXCLUDED.stock_on_hand,
		  reorder_threshold = EXCLUDED.reorder_threshold,
		  updated_at = EXCLUDED.updated_at`,
		p.ID, p.Code, p.Name, p.UnitPrice.String(), p.StockOnHand, p.ReorderThreshold, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return fmt.Errorf("%w: %s", inventory.ErrDuplicateProductCode, p.Code)
		}
		return classify(err)
	}
	return nil
}

// LowStock lists products at or below their reorder threshold, ordered by ID.
func (s *Storage) LowStock(ctx context.Context) ([]inventory.Product, error) {
	rows, err := s.pool.Query(ctx, selectProduct+` WHERE stock_on_hand <= reorder_threshold ORDER BY id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make([]inventory.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

type tx struct {
	tx pgx.Tx
}

func (t *tx) SaleCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE code = $1)`, code).Scan(&exists); err != nil {
		return false, classify(err)
	}
	return exists, nil
}

func (t *tx) LockProducts(ctx context.Context, ids []string) (map[string]*inventory.Product, error) {
	rows, err := t.tx.Query(ctx, selectProduct+` WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	locked := make(map[string]*inventory.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		locked[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	for _, id := range ids {
		if _, ok := locked[id]; !ok {
			return nil, fmt.Errorf("%w: %s", inventory.ErrProductNotFound, id)
		}
	}
	return locked, nil
}

func (t *tx) SaveStock(ctx context.Context, p *inventory.Product) error {
	p.UpdatedAt = time.Now().UTC()
	tag, err := t.tx.Exec(ctx,
		`UPDATE products SET stock_on_hand = $2, updated_at = $3 WHERE id = $1`,
		p.ID, p.StockOnHand, p.UpdatedAt)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", inventory.ErrProductNotFound, p.ID)
	}
	return nil
}

func (t *tx) InsertSale(ctx context.Context, sale *sales.Sale) error {
	saleID, err := uuid.Parse(sale.ID)
	if err != nil {
		return fmt.Errorf("insert sale: invalid id %q: %w", sale.ID, err)
	}

	var customerRef *string
	if sale.CustomerRef != nil {
		ref := string(*sale.CustomerRef)
		customerRef = &ref
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO sales (id, code, customer_ref, seller_ref, payment_method, status, grand_total, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)`,
		saleID, sale.Code, customerRef, string(sale.SellerRef), string(sale.PaymentMethod),
		string(sale.Status), sale.GrandTotal.String(), sale.Version, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "sales_code_key" {
			return fmt.Errorf("%w: %s", sales.ErrDuplicateCode, sale.Code)
		}
		return classify(err)
	}

	batch := &pgx.Batch{}
	for i, l := range sale.Lines {
		batch.Queue(`
			INSERT INTO sale_lines (sale_id, position, product_id, product_code, quantity, unit_price, line_subtotal)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric)`,
			saleID, i, l.ProductID, l.ProductCode, l.Quantity, l.UnitPriceAtSale.String(), l.LineSubtotal.String())
	}
	br := t.tx.SendBatch(ctx, batch)
	for range sale.Lines {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return classify(err)
		}
	}
	return classify(br.Close())
}

func (t *tx) LockSale(ctx context.Context, id string) (*sales.Sale, error) {
	saleID, err := uuid.Parse(id)
	if err != nil {
		return nil, sales.ErrSaleNotFound
	}
	return readSale(ctx, t.tx, `WHERE id = $1`, saleID, true)
}

func (t *tx) UpdateSaleStatus(ctx context.Context, sale *sales.Sale) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE sales SET status = $2, updated_at = $3, version = $4 WHERE id = $1`,
		uuid.MustParse(sale.ID), string(sale.Status), sale.UpdatedAt, sale.Version)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return sales.ErrSaleNotFound
	}
	return nil
}

const selectProduct = `
	SELECT id, code, name, unit_price::text, stock_on_hand, reorder_threshold, updated_at
	  FROM products`

const selectSale = `
	SELECT id::text, code, customer_ref, seller_ref, payment_method, status,
	       grand_total::text, version, created_at, updated_at
	  FROM sales`

func readSale(ctx context.Context, q querier, where string, arg any, forUpdate bool) (*sales.Sale, error) {
	query := selectSale + " " + where
	if forUpdate {
		query += " FOR UPDATE"
	}

	sale, err := scanSale(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sales.ErrSaleNotFound
		}
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT sale_id::text, product_id, product_code, quantity, unit_price::text, line_subtotal::text
		  FROM sale_lines
		 WHERE sale_id = $1
		 ORDER BY position`, uuid.MustParse(sale.ID))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		line, err := scanLine(rows, &saleID)
		if err != nil {
			return nil, err
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return sale, nil
}

func scanSale(row pgx.Row) (*sales.Sale, error) {
	var (
		sale        sales.Sale
		customerRef *string
		sellerRef   string
		method      string
		status      string
		total       string
	)
	err := row.Scan(&sale.ID, &sale.Code, &customerRef, &sellerRef, &method, &status,
		&total, &sale.Version, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, classify(err)
	}

	if customerRef != nil {
		ref := sales.CustomerRef(*customerRef)
		sale.CustomerRef = &ref
	}
	sale.SellerRef = sales.UserRef(sellerRef)
	sale.PaymentMethod = sales.PaymentMethod(method)
	sale.Status = sales.Status(status)
	if sale.GrandTotal, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("sale %s: parse grand total: %w", sale.Code, err)
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	sale.Lines = make([]sales.Line, 0)
	return &sale, nil
}

func scanLine(row pgx.Row, saleID *string) (sales.Line, error) {
	var (
		line     sales.Line
		price    string
		subtotal string
	)
	if err := row.Scan(saleID, &line.ProductID, &line.ProductCode, &line.Quantity, &price, &subtotal); err != nil {
		return sales.Line{}, classify(err)
	}

	var err error
	if line.UnitPriceAtSale, err = decimal.NewFromString(price); err != nil {
		return sales.Line{}, fmt.Errorf("parse unit price: %w", err)
	}
	if line.LineSubtotal, err = decimal.NewFromString(subtotal); err != nil {
		return sales.Line{}, fmt.Errorf("parse line subtotal: %w", err)
	}
	return line, nil
}

func scanProduct(row pgx.Row) (inventory.Product, error) {
	var (
		p     inventory.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &price, &p.StockOnHand, &p.ReorderThreshold, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Product{}, err
		}
		return inventory.Product{}, classify(err)
	}

	var err error
	if p.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return inventory.Product{}, fmt.Errorf("product %s: parse unit price: %w", p.ID, err)
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}
