package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrProductNotFound is returned when a product with the given ID does not exist.
var ErrProductNotFound = errors.New("product not found")

// ErrInsufficientStock is matched by every *InsufficientStockError.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrInvalidProduct is returned when a product fails validation on save.
var ErrInvalidProduct = errors.New("invalid product")

// ErrDuplicateProductCode is returned when another product already uses the code.
var ErrDuplicateProductCode = errors.New("product code already in use")

// Product is a sellable item together with its available quantity.
type Product struct {
	ID               string          `json:"id"`
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	StockOnHand      int             `json:"stock_on_hand"`
	ReorderThreshold int             `json:"reorder_threshold"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// InsufficientStockError reports the product that could not back a requested quantity.
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// Is lets errors.Is(err, ErrInsufficientStock) match the typed error.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Validate checks the fields a catalog save must respect.
func (p Product) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidProduct)
	case p.Code == "":
		return fmt.Errorf("%w: code is required", ErrInvalidProduct)
	case p.UnitPrice.IsNegative():
		return fmt.Errorf("%w: unit price must not be negative", ErrInvalidProduct)
	case p.StockOnHand < 0:
		return fmt.Errorf("%w: stock on hand must not be negative", ErrInvalidProduct)
	case p.ReorderThreshold < 0:
		return fmt.Errorf("%w: reorder threshold must not be negative", ErrInvalidProduct)
	}
	return nil
}

// LowStock reports whether the product has reached its reorder threshold.
func (p Product) LowStock() bool {
	return p.StockOnHand <= p.ReorderThreshold
}

// Reserve takes quantity units out of stock. Stock is left untouched on error.
func (p *Product) Reserve(quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("reserve %d units of %s: quantity must be positive", quantity, p.ID)
	}
	if p.StockOnHand < quantity {
		return &InsufficientStockError{ProductID: p.ID, Available: p.StockOnHand, Requested: quantity}
	}
	p.StockOnHand -= quantity
	return nil
}

// Restore puts quantity units back into stock.
func (p *Product) Restore(quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("restore %d units of %s: quantity must be positive", quantity, p.ID)
	}
	p.StockOnHand += quantity
	return nil
}
