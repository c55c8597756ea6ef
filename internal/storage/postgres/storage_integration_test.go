//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap/zaptest"

	"pos_sales/internal/inventory"
	"pos_sales/internal/sales"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("pos_sales"),
		tcpostgres.WithUsername("pos"),
		tcpostgres.WithPassword("pos"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Migrate(ctx, dsn), "Failed to run migrations")

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewStorage(pool, 500*time.Millisecond)
}

func TestStorage_Integration(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	catalog := inventory.NewService(store, zaptest.NewLogger(t))
	svc := sales.NewService(store, zaptest.NewLogger(t))

	_, err := catalog.SaveProduct(ctx, inventory.Product{
		ID:               "p1",
		Code:             "C1",
		Name:             "Coffee",
		UnitPrice:        decimal.RequireFromString("2.35"),
		StockOnHand:      10,
		ReorderThreshold: 3,
	})
	require.NoError(t, err)

	_, err = catalog.SaveProduct(ctx, inventory.Product{ID: "p2", Code: "C1"})
	require.ErrorIs(t, err, inventory.ErrDuplicateProductCode)

	customer := sales.CustomerRef("c-1")
	s1, err := svc.CreateSale(ctx, sales.CreateSaleInput{
		Code:          "S1",
		CustomerRef:   &customer,
		SellerRef:     "u-1",
		Lines:         []sales.LineInput{{ProductID: "p1", Quantity: 4}},
		PaymentMethod: sales.PaymentCreditCard,
	})
	require.NoError(t, err)

	stored, err := svc.GetSale(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, "S1", stored.Code)
	assert.Equal(t, customer, *stored.CustomerRef)
	require.Len(t, stored.Lines, 1)
	assert.True(t, decimal.RequireFromString("9.40").Equal(stored.GrandTotal))
	assert.NoError(t, stored.CheckTotals())

	p, err := catalog.FindProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 6, p.StockOnHand)

	_, err = svc.CreateSale(ctx, sales.CreateSaleInput{
		Code:          "S1",
		SellerRef:     "u-1",
		Lines:         []sales.LineInput{{ProductID: "p1", Quantity: 1}},
		PaymentMethod: sales.PaymentCash,
	})
	assert.ErrorIs(t, err, sales.ErrDuplicateCode)

	_, err = svc.CreateSale(ctx, sales.CreateSaleInput{
		SellerRef:     "u-1",
		Lines:         []sales.LineInput{{ProductID: "p1", Quantity: 1}, {ProductID: "ghost", Quantity: 1}},
		PaymentMethod: sales.PaymentCash,
	})
	assert.ErrorIs(t, err, sales.ErrProductNotFound)

	_, err = svc.ChangeSaleStatus(ctx, s1.ID, "cancelled")
	require.NoError(t, err)
	p, err = catalog.FindProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.StockOnHand)

	_, err = svc.CreateSale(ctx, sales.CreateSaleInput{
		Code:          "S2",
		SellerRef:     "u-2",
		Lines:         []sales.LineInput{{ProductID: "p1", Quantity: 8}},
		PaymentMethod: sales.PaymentCash,
	})
	require.NoError(t, err)

	_, err = svc.ChangeSaleStatus(ctx, s1.ID, "completed")
	var shortage *sales.InsufficientStockError
	require.ErrorAs(t, err, &shortage)
	assert.Equal(t, 2, shortage.Available)

	stored, err = svc.GetSale(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.StatusCancelled, stored.Status)
	assert.Equal(t, 2, stored.Version)

	low, err := catalog.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)

	report, err := svc.SalesInRange(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Metadata.Count)
	assert.Equal(t, "S2", report.Results[0].Code)
}

func TestStorage_ConcurrentLastUnit(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	catalog := inventory.NewService(store, zaptest.NewLogger(t))
	svc := sales.NewService(store, zaptest.NewLogger(t))

	_, err := catalog.SaveProduct(ctx, inventory.Product{
		ID:          "p1",
		Code:        "C1",
		UnitPrice:   decimal.NewFromInt(1),
		StockOnHand: 3,
	})
	require.NoError(t, err)

	const workers = 10
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CreateSale(ctx, sales.CreateSaleInput{
				Code:          fmt.Sprintf("S%d", i),
				SellerRef:     "u-1",
				Lines:         []sales.LineInput{{ProductID: "p1", Quantity: 1}},
				PaymentMethod: sales.PaymentCash,
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	p, err := catalog.FindProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.StockOnHand)
}
