package sales

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a sale.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("%w: '%s'", ErrInvalidStatus, raw)
	}
}

// PaymentMethod is a recorded label; no payment is processed.
type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "cash"
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentDebitCard  PaymentMethod = "debit_card"
	PaymentTransfer   PaymentMethod = "transfer"
)

func (m PaymentMethod) valid() bool {
	switch m {
	case PaymentCash, PaymentCreditCard, PaymentDebitCard, PaymentTransfer:
		return true
	}
	return false
}

// CustomerRef is an optional weak reference to a customer record.
type CustomerRef string

// UserRef references the acting user (seller).
type UserRef string

// Line is one priced entry of a sale. Prices are frozen at creation.
type Line struct {
	ProductID       string          `json:"product_id"`
	ProductCode     string          `json:"product_code"`
	Quantity        int             `json:"quantity"`
	UnitPriceAtSale decimal.Decimal `json:"unit_price"`
	LineSubtotal    decimal.Decimal `json:"line_subtotal"`
}

// Sale represents a sales transaction in the system.
type Sale struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	CustomerRef   *CustomerRef    `json:"customer_ref,omitempty"`
	SellerRef     UserRef         `json:"seller_ref"`
	Lines         []Line          `json:"lines"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
}

// CheckTotals verifies that every line subtotal is quantity times unit price
// and that the grand total is the sum of line subtotals.
func (s *Sale) CheckTotals() error {
	sum := decimal.Zero
	for i, l := range s.Lines {
		if l.Quantity < 1 {
			return fmt.Errorf("sale %s line %d: quantity %d below 1", s.Code, i, l.Quantity)
		}
		want := l.UnitPriceAtSale.Mul(decimal.NewFromInt(int64(l.Quantity)))
		if !l.LineSubtotal.Equal(want) {
			return fmt.Errorf("sale %s line %d: subtotal %s, want %s", s.Code, i, l.LineSubtotal, want)
		}
		sum = sum.Add(l.LineSubtotal)
	}
	if !s.GrandTotal.Equal(sum) {
		return fmt.Errorf("sale %s: grand total %s, want %s", s.Code, s.GrandTotal, sum)
	}
	return nil
}

// Clone returns a deep copy so callers can't alias stored state.
func (s *Sale) Clone() *Sale {
	c := *s
	c.Lines = append([]Line(nil), s.Lines...)
	if s.CustomerRef != nil {
		ref := *s.CustomerRef
		c.CustomerRef = &ref
	}
	return &c
}

// quantities sums line quantities per product, in first-seen order.
func (s *Sale) quantities() ([]string, map[string]int) {
	ids := make([]string, 0, len(s.Lines))
	qty := make(map[string]int, len(s.Lines))
	for _, l := range s.Lines {
		if _, ok := qty[l.ProductID]; !ok {
			ids = append(ids, l.ProductID)
		}
		qty[l.ProductID] += l.Quantity
	}
	return ids, qty
}
