package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos_sales/internal/inventory"
	"pos_sales/internal/sales"
)

func seedProduct(t *testing.T, l *LocalStorage, id string, stock int) {
	t.Helper()
	require.NoError(t, l.SaveProduct(context.Background(), inventory.Product{
		ID:               id,
		Code:             "code-" + id,
		UnitPrice:        decimal.NewFromInt(1),
		StockOnHand:      stock,
		ReorderThreshold: 2,
	}))
}

func newSale(id, code string) *sales.Sale {
	now := time.Now().UTC()
	return &sales.Sale{
		ID:         id,
		Code:       code,
		SellerRef:  "seller-1",
		GrandTotal: decimal.Zero,
		Status:     sales.StatusCompleted,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
}

func TestWithinTx_CommitsOnSuccess(t *testing.T) {
	l := NewLocalStorage()
	seedProduct(t, l, "p1", 5)

	err := l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
		products, err := tx.LockProducts(ctx, []string{"p1"})
		if err != nil {
			return err
		}
		p := products["p1"]
		p.StockOnHand = 3
		if err := tx.SaveStock(ctx, p); err != nil {
			return err
		}
		return tx.InsertSale(ctx, newSale("id-1", "S1"))
	})
	require.NoError(t, err)

	p, err := l.FindProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.StockOnHand)

	s, err := l.ReadByCode(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", s.ID)
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	l := NewLocalStorage()
	seedProduct(t, l, "p1", 5)
	boom := errors.New("boom")

	err := l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
		products, err := tx.LockProducts(ctx, []string{"p1"})
		if err != nil {
			return err
		}
		products["p1"].StockOnHand = 0
		if err := tx.SaveStock(ctx, products["p1"]); err != nil {
			return err
		}
		if err := tx.InsertSale(ctx, newSale("id-1", "S1")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := l.FindProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.StockOnHand)
	_, err = l.ReadByCode(context.Background(), "S1")
	assert.ErrorIs(t, err, sales.ErrSaleNotFound)
}

func TestWithinTx_RollsBackWhenContextEnds(t *testing.T) {
	l := NewLocalStorage()
	seedProduct(t, l, "p1", 5)
	ctx, cancel := context.WithCancel(context.Background())

	err := l.WithinTx(ctx, func(ctx context.Context, tx sales.Tx) error {
		products, err := tx.LockProducts(ctx, []string{"p1"})
		if err != nil {
			return err
		}
		products["p1"].StockOnHand = 1
		cancel()
		return tx.SaveStock(ctx, products["p1"])
	})
	assert.ErrorIs(t, err, context.Canceled)

	p, err := l.FindProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.StockOnHand)
}

func TestLockProducts_MissingProduct(t *testing.T) {
	l := NewLocalStorage()
	seedProduct(t, l, "p1", 5)

	err := l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
		_, err := tx.LockProducts(ctx, []string{"p1", "ghost"})
		return err
	})
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
}

func TestSaveStock_RejectsNegative(t *testing.T) {
	l := NewLocalStorage()
	seedProduct(t, l, "p1", 5)

	err := l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
		products, err := tx.LockProducts(ctx, []string{"p1"})
		if err != nil {
			return err
		}
		products["p1"].StockOnHand = -1
		return tx.SaveStock(ctx, products["p1"])
	})
	assert.Error(t, err)

	p, err := l.FindProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.StockOnHand)
}

func TestLockWaitTimeoutIsTransient(t *testing.T) {
	l := NewLocalStorage(WithLockWait(20 * time.Millisecond))
	seedProduct(t, l, "p1", 5)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
			if _, err := tx.LockProducts(ctx, []string{"p1"}); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
		_, err := tx.LockProducts(ctx, []string{"p1"})
		return err
	})
	assert.ErrorIs(t, err, sales.ErrTransient)
	assert.ErrorIs(t, err, ErrLockTimeout)

	close(release)
	require.NoError(t, <-done)
}

func TestDisjointScopesDoNotBlock(t *testing.T) {
	l := NewLocalStorage(WithLockWait(50 * time.Millisecond))
	seedProduct(t, l, "p1", 5)
	seedProduct(t, l, "p2", 5)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
			if _, err := tx.LockProducts(ctx, []string{"p1"}); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
		_, err := tx.LockProducts(ctx, []string{"p2"})
		return err
	})
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
}

func TestSaleCodeExists_SeesOwnInsert(t *testing.T) {
	l := NewLocalStorage()

	err := l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
		require.NoError(t, tx.InsertSale(ctx, newSale("id-1", "S1")))
		exists, err := tx.SaleCodeExists(ctx, "S1")
		require.NoError(t, err)
		assert.True(t, exists)
		return tx.InsertSale(ctx, newSale("id-2", "S1"))
	})
	assert.ErrorIs(t, err, sales.ErrDuplicateCode)
}

func TestUpdateSaleStatus_RequiresLock(t *testing.T) {
	l := NewLocalStorage()
	require.NoError(t, l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
		return tx.InsertSale(ctx, newSale("id-1", "S1"))
	}))

	err := l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
		s := newSale("id-1", "S1")
		s.Status = sales.StatusCancelled
		return tx.UpdateSaleStatus(ctx, s)
	})
	assert.Error(t, err)

	err = l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
		s, err := tx.LockSale(ctx, "id-1")
		if err != nil {
			return err
		}
		s.Status = sales.StatusCancelled
		s.Version = 2
		return tx.UpdateSaleStatus(ctx, s)
	})
	require.NoError(t, err)

	s, err := l.Read(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Equal(t, sales.StatusCancelled, s.Status)
	assert.Equal(t, 2, s.Version)
}

func TestListCompleted_HalfOpenRange(t *testing.T) {
	l := NewLocalStorage()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, code := range []string{"S1", "S2", "S3"} {
		s := newSale("id-"+code, code)
		s.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if code == "S2" {
			s.Status = sales.StatusPending
		}
		require.NoError(t, l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
			return tx.InsertSale(ctx, s)
		}))
	}

	got, err := l.ListCompleted(context.Background(), base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "S1", got[0].Code)

	got, err = l.ListCompleted(context.Background(), base, base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "S3", got[1].Code)
}

func TestCatalog(t *testing.T) {
	l := NewLocalStorage()
	seedProduct(t, l, "p1", 1)
	seedProduct(t, l, "p2", 10)

	err := l.SaveProduct(context.Background(), inventory.Product{ID: "p3", Code: "code-p1"})
	assert.ErrorIs(t, err, inventory.ErrDuplicateProductCode)

	_, err = l.FindProduct(context.Background(), "ghost")
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)

	low, err := l.LowStock(context.Background())
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "p1", low[0].ID)
}

func TestLockWait_CallerCancellationIsNotTransient(t *testing.T) {
	l := NewLocalStorage(WithLockWait(time.Second))
	seedProduct(t, l, "p1", 5)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
			if _, err := tx.LockProducts(ctx, []string{"p1"}); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WithinTx(ctx, func(ctx context.Context, tx sales.Tx) error {
		_, err := tx.LockProducts(ctx, []string{"p1"})
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, sales.ErrTransient)

	close(release)
	require.NoError(t, <-done)
}

func TestLocker_DropsReleasedKeys(t *testing.T) {
	l := NewLocalStorage(WithLockWait(20 * time.Millisecond))
	seedProduct(t, l, "p1", 5)

	for _, id := range []string{"missing-1", "missing-2"} {
		err := l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
			_, err := tx.LockSale(ctx, id)
			return err
		})
		assert.ErrorIs(t, err, sales.ErrSaleNotFound)
	}
	require.NoError(t, l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
		if _, err := tx.SaleCodeExists(ctx, "S1"); err != nil {
			return err
		}
		_, err := tx.LockProducts(ctx, []string{"p1"})
		return err
	}))
	assert.Equal(t, 0, l.locks.size())

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
			if _, err := tx.LockProducts(ctx, []string{"p1"}); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := l.WithinTx(context.Background(), func(ctx context.Context, tx sales.Tx) error {
		_, err := tx.LockProducts(ctx, []string{"p1"})
		return err
	})
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, 1, l.locks.size(), "only the holder keeps the key")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 0, l.locks.size())
}
