package sales

import "context"

// Party is a display record for a customer or user.
type Party struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Directory resolves customer and user references for display. Sales never
// depend on it for correctness.
type Directory interface {
	Customer(ctx context.Context, ref CustomerRef) (Party, error)
	User(ctx context.Context, ref UserRef) (Party, error)
}
