package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pos_sales/internal/inventory"
	"pos_sales/internal/sales"
)

// DefaultLockWait bounds how long a scope waits for a locked product or sale.
const DefaultLockWait = 2 * time.Second

// LocalStorage provides an in-memory implementation of the sale ledger and the
// inventory store. Scopes lock the keys they touch and stage their writes;
// the stage is applied on commit and dropped on rollback.
type LocalStorage struct {
	mu       sync.RWMutex
	products map[string]inventory.Product
	sales    map[string]*sales.Sale
	codes    map[string]string
	locks    *locker
}

// Option configures a LocalStorage.
type Option func(*LocalStorage)

// WithLockWait sets how long a scope waits for a key before failing with a
// transient error.
func WithLockWait(d time.Duration) Option {
	return func(l *LocalStorage) {
		if d > 0 {
			l.locks.wait = d
		}
	}
}

// NewLocalStorage instantiates a new, empty LocalStorage.
func NewLocalStorage(opts ...Option) *LocalStorage {
	l := &LocalStorage{
		products: map[string]inventory.Product{},
		sales:    map[string]*sales.Sale{},
		codes:    map[string]string{},
		locks:    newLocker(DefaultLockWait),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func productKey(id string) string { return "product:" + id }
func saleKey(id string) string    { return "sale:" + id }
func codeKey(code string) string  { return "code:" + code }

// WithinTx runs fn with a fresh scope. Sale and code keys are always taken
// before product keys, and product keys in sorted order.
func (l *LocalStorage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx sales.Tx) error) error {
	t := &tx{
		store:    l,
		locks:    held{l: l.locks, set: map[string]struct{}{}},
		products: map[string]*inventory.Product{},
		updated:  map[string]*sales.Sale{},
	}
	defer t.locks.releaseAll()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.commit()
	return nil
}

// Read retrieves a sale by ID. Returns sales.ErrSaleNotFound if it is missing.
func (l *LocalStorage) Read(_ context.Context, id string) (*sales.Sale, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.sales[id]
	if !ok {
		return nil, sales.ErrSaleNotFound
	}
	return s.Clone(), nil
}

// ReadByCode retrieves a sale by its code.
func (l *LocalStorage) ReadByCode(ctx context.Context, code string) (*sales.Sale, error) {
	l.mu.RLock()
	id, ok := l.codes[code]
	l.mu.RUnlock()
	if !ok {
		return nil, sales.ErrSaleNotFound
	}
	return l.Read(ctx, id)
}

// ListCompleted returns completed sales created in [from, to), oldest first.
func (l *LocalStorage) ListCompleted(_ context.Context, from, to time.Time) ([]*sales.Sale, error) {
	l.mu.RLock()
	out := make([]*sales.Sale, 0)
	for _, s := range l.sales {
		if s.Status != sales.StatusCompleted {
			continue
		}
		if s.CreatedAt.Before(from) || !s.CreatedAt.Before(to) {
			continue
		}
		out = append(out, s.Clone())
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// FindProduct returns a product by ID.
func (l *LocalStorage) FindProduct(_ context.Context, id string) (inventory.Product, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.products[id]
	if !ok {
		return inventory.Product{}, fmt.Errorf("%w: %s", inventory.ErrProductNotFound, id)
	}
	return p, nil
}

// SaveProduct creates or replaces a product. It waits for any scope holding
// the product so manual edits never interleave with a reservation.
func (l *LocalStorage) SaveProduct(ctx context.Context, p inventory.Product) error {
	h := held{l: l.locks, set: map[string]struct{}{}}
	defer h.releaseAll()
	if err := h.lock(ctx, productKey(p.ID)); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, other := range l.products {
		if id != p.ID && other.Code == p.Code {
			return fmt.Errorf("%w: %s", inventory.ErrDuplicateProductCode, p.Code)
		}
	}
	l.products[p.ID] = p
	return nil
}

// LowStock lists products at or below their reorder threshold, ordered by ID.
func (l *LocalStorage) LowStock(_ context.Context) ([]inventory.Product, error) {
	l.mu.RLock()
	out := make([]inventory.Product, 0)
	for _, p := range l.products {
		if p.LowStock() {
			out = append(out, p)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type tx struct {
	store    *LocalStorage
	locks    held
	products map[string]*inventory.Product
	inserted []*sales.Sale
	updated  map[string]*sales.Sale
}

func (t *tx) SaleCodeExists(ctx context.Context, code string) (bool, error) {
	if err := t.locks.lock(ctx, codeKey(code)); err != nil {
		return false, err
	}
	for _, s := range t.inserted {
		if s.Code == code {
			return true, nil
		}
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.store.codes[code]
	return ok, nil
}

func (t *tx) LockProducts(ctx context.Context, ids []string) (map[string]*inventory.Product, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for _, id := range sorted {
		if err := t.locks.lock(ctx, productKey(id)); err != nil {
			return nil, err
		}
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	out := make(map[string]*inventory.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.products[id]; ok {
			out[id] = p
			continue
		}
		p, ok := t.store.products[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", inventory.ErrProductNotFound, id)
		}
		staged := p
		t.products[id] = &staged
		out[id] = &staged
	}
	return out, nil
}

func (t *tx) SaveStock(_ context.Context, p *inventory.Product) error {
	staged, ok := t.products[p.ID]
	if !ok {
		return fmt.Errorf("save stock of %s: product not locked in this scope", p.ID)
	}
	if p.StockOnHand < 0 {
		return fmt.Errorf("save stock of %s: negative stock %d", p.ID, p.StockOnHand)
	}
	staged.StockOnHand = p.StockOnHand
	staged.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *tx) InsertSale(ctx context.Context, sale *sales.Sale) error {
	exists, err := t.SaleCodeExists(ctx, sale.Code)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", sales.ErrDuplicateCode, sale.Code)
	}
	t.inserted = append(t.inserted, sale.Clone())
	return nil
}

func (t *tx) LockSale(ctx context.Context, id string) (*sales.Sale, error) {
	if err := t.locks.lock(ctx, saleKey(id)); err != nil {
		return nil, err
	}
	if s, ok := t.updated[id]; ok {
		return s.Clone(), nil
	}
	return t.store.Read(ctx, id)
}

func (t *tx) UpdateSaleStatus(_ context.Context, sale *sales.Sale) error {
	if _, ok := t.locks.set[saleKey(sale.ID)]; !ok {
		return fmt.Errorf("update sale %s: sale not locked in this scope", sale.ID)
	}
	t.updated[sale.ID] = sale.Clone()
	return nil
}

func (t *tx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for id, p := range t.products {
		t.store.products[id] = *p
	}
	for _, s := range t.inserted {
		t.store.sales[s.ID] = s
		t.store.codes[s.Code] = s.ID
	}
	for id, s := range t.updated {
		stored, ok := t.store.sales[id]
		if !ok {
			continue
		}
		c := stored.Clone()
		c.Status = s.Status
		c.UpdatedAt = s.UpdatedAt
		c.Version = s.Version
		t.store.sales[id] = c
	}
}
