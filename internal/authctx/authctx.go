// Package authctx carries the caller identity through a request context.
package authctx

import "context"

type ctxKeySeller struct{}

// WithSeller stores the acting user's reference in ctx.
func WithSeller(ctx context.Context, sellerRef string) context.Context {
	return context.WithValue(ctx, ctxKeySeller{}, sellerRef)
}

// SellerFromContext returns the acting user's reference, if one was stored.
func SellerFromContext(ctx context.Context) (string, bool) {
	ref, ok := ctx.Value(ctxKeySeller{}).(string)
	return ref, ok && ref != ""
}
