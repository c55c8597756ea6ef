package sales

import (
	"context"
	"errors"
	"time"

	"pos_sales/internal/inventory"
)

// ErrSaleNotFound is returned when a sale with the given ID is not found.
var ErrSaleNotFound = errors.New("sale not found")

// ErrDuplicateCode is returned when a sale code is already recorded.
var ErrDuplicateCode = errors.New("sale code already exists")

// ErrTransient marks storage failures (lock wait, serialization, connectivity)
// after which nothing was committed and the whole call may be retried.
var ErrTransient = errors.New("transient storage failure")

// Re-exported so callers of this package need a single import for error checks.
var (
	ErrProductNotFound   = inventory.ErrProductNotFound
	ErrInsufficientStock = inventory.ErrInsufficientStock
)

// InsufficientStockError carries the product, available and requested quantities.
type InsufficientStockError = inventory.InsufficientStockError

// Tx is the set of operations available inside one atomic scope. Locks taken
// through a Tx are held until the scope ends.
type Tx interface {
	// SaleCodeExists reports whether a sale with code is recorded and guards
	// the code against concurrent inserts for the rest of the scope.
	SaleCodeExists(ctx context.Context, code string) (bool, error)

	// LockProducts exclusively locks the given products and returns mutable
	// copies keyed by ID. Returns ErrProductNotFound for the first missing ID.
	LockProducts(ctx context.Context, ids []string) (map[string]*inventory.Product, error)

	// SaveStock writes a locked product's stock back.
	SaveStock(ctx context.Context, p *inventory.Product) error

	// InsertSale appends a new sale to the ledger.
	InsertSale(ctx context.Context, sale *Sale) error

	// LockSale exclusively locks a sale. Returns ErrSaleNotFound.
	LockSale(ctx context.Context, id string) (*Sale, error)

	// UpdateSaleStatus writes status, updated_at and version of a locked sale.
	UpdateSaleStatus(ctx context.Context, sale *Sale) error
}

// Storage is the main interface for our sales storage layer.
type Storage interface {
	// WithinTx runs fn in one atomic scope. Everything fn did is committed
	// when it returns nil and discarded otherwise, including when ctx ends.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Read(ctx context.Context, id string) (*Sale, error)
	ReadByCode(ctx context.Context, code string) (*Sale, error)

	// ListCompleted returns completed sales created in [from, to), oldest first.
	ListCompleted(ctx context.Context, from, to time.Time) ([]*Sale, error)
}
