package sales

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos_sales/internal/inventory"
)

func TestTransitionFor(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		noop    bool
		wantErr error
	}{
		{name: "completed to cancelled", from: StatusCompleted, to: StatusCancelled},
		{name: "cancelled to completed", from: StatusCancelled, to: StatusCompleted},
		{name: "pending to completed", from: StatusPending, to: StatusCompleted},
		{name: "pending to cancelled", from: StatusPending, to: StatusCancelled},
		{name: "completed to pending", from: StatusCompleted, to: StatusPending, wantErr: ErrInvalidTransition},
		{name: "cancelled to pending", from: StatusCancelled, to: StatusPending, wantErr: ErrInvalidTransition},
		{name: "same state completed", from: StatusCompleted, to: StatusCompleted, noop: true},
		{name: "same state pending", from: StatusPending, to: StatusPending, noop: true},
		{name: "same state cancelled", from: StatusCancelled, to: StatusCancelled, noop: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := transitionFor(tt.from, tt.to)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, fn)
				return
			}
			require.NoError(t, err)
			if tt.noop {
				assert.Nil(t, fn)
			} else {
				assert.NotNil(t, fn)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("cancelled")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, s)

	_, err = ParseStatus("shipped")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = ParseStatus("")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

// stubTx keeps products in a map and records writes.
type stubTx struct {
	Tx
	products map[string]*inventory.Product
	saved    []string
}

func (s *stubTx) LockProducts(_ context.Context, ids []string) (map[string]*inventory.Product, error) {
	out := make(map[string]*inventory.Product, len(ids))
	for _, id := range ids {
		p, ok := s.products[id]
		if !ok {
			return nil, ErrProductNotFound
		}
		out[id] = p
	}
	return out, nil
}

func (s *stubTx) SaveStock(_ context.Context, p *inventory.Product) error {
	s.saved = append(s.saved, p.ID)
	return nil
}

func twoLineSale() *Sale {
	return &Sale{
		Code: "S-T",
		Lines: []Line{
			{ProductID: "a", Quantity: 2, UnitPriceAtSale: decimal.NewFromInt(1), LineSubtotal: decimal.NewFromInt(2)},
			{ProductID: "b", Quantity: 3, UnitPriceAtSale: decimal.NewFromInt(1), LineSubtotal: decimal.NewFromInt(3)},
		},
		GrandTotal: decimal.NewFromInt(5),
	}
}

func TestCancelCompleted_RestoresEveryLine(t *testing.T) {
	tx := &stubTx{products: map[string]*inventory.Product{
		"a": {ID: "a", StockOnHand: 0},
		"b": {ID: "b", StockOnHand: 1},
	}}

	require.NoError(t, cancelCompleted(context.Background(), tx, twoLineSale()))

	assert.Equal(t, 2, tx.products["a"].StockOnHand)
	assert.Equal(t, 4, tx.products["b"].StockOnHand)
	assert.ElementsMatch(t, []string{"a", "b"}, tx.saved)
}

func TestCompleteCancelled_ShortageWritesNothing(t *testing.T) {
	tx := &stubTx{products: map[string]*inventory.Product{
		"a": {ID: "a", StockOnHand: 10},
		"b": {ID: "b", StockOnHand: 2},
	}}

	err := completeCancelled(context.Background(), tx, twoLineSale())

	var shortage *InsufficientStockError
	require.ErrorAs(t, err, &shortage)
	assert.Equal(t, "b", shortage.ProductID)
	assert.Equal(t, 2, shortage.Available)
	assert.Equal(t, 3, shortage.Requested)
	assert.Equal(t, 10, tx.products["a"].StockOnHand)
	assert.Empty(t, tx.saved)
}

func TestCompleteCancelled_ReservesEveryLine(t *testing.T) {
	tx := &stubTx{products: map[string]*inventory.Product{
		"a": {ID: "a", StockOnHand: 2},
		"b": {ID: "b", StockOnHand: 5},
	}}

	require.NoError(t, completeCancelled(context.Background(), tx, twoLineSale()))

	assert.Equal(t, 0, tx.products["a"].StockOnHand)
	assert.Equal(t, 2, tx.products["b"].StockOnHand)
}
