package sales

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for a status change outside the transition table.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitionFunc applies the inventory side of a status change inside the
// caller's atomic scope. It must not touch the sale's status fields.
type transitionFunc func(ctx context.Context, tx Tx, sale *Sale) error

// transitionFor returns the function for from -> to. A nil function with a
// nil error means the request is a no-op (from == to).
//
//	completed -> cancelled   restore stock of every line
//	cancelled -> completed   reserve stock of every line again
//	pending   -> completed   no inventory effect
//	pending   -> cancelled   no inventory effect
func transitionFor(from, to Status) (transitionFunc, error) {
	if from == to {
		return nil, nil
	}

	switch from {
	case StatusCompleted:
		switch to {
		case StatusCancelled:
			return cancelCompleted, nil
		case StatusPending:
		}
	case StatusCancelled:
		switch to {
		case StatusCompleted:
			return completeCancelled, nil
		case StatusPending:
		}
	case StatusPending:
		switch to {
		case StatusCompleted:
			return completePending, nil
		case StatusCancelled:
			return cancelPending, nil
		}
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func cancelCompleted(ctx context.Context, tx Tx, sale *Sale) error {
	ids, qty := sale.quantities()
	products, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		p := products[id]
		if err := p.Restore(qty[id]); err != nil {
			return err
		}
		if err := tx.SaveStock(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func completeCancelled(ctx context.Context, tx Tx, sale *Sale) error {
	ids, qty := sale.quantities()
	products, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return err
	}
	// Check everything before the first write so a shortage leaves no product adjusted.
	for _, id := range ids {
		if p := products[id]; p.StockOnHand < qty[id] {
			return &InsufficientStockError{ProductID: id, Available: p.StockOnHand, Requested: qty[id]}
		}
	}
	for _, id := range ids {
		p := products[id]
		if err := p.Reserve(qty[id]); err != nil {
			return err
		}
		if err := tx.SaveStock(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Stock for a pending sale was reserved when it was created.
func completePending(context.Context, Tx, *Sale) error { return nil }

// TODO: pending sales keep their reservation when cancelled; decide whether
// this should restore stock like cancelCompleted does.
func cancelPending(context.Context, Tx, *Sale) error { return nil }
