// Package gateway defines the contract for the remote cart resource.
// The engine depends only on this interface; storeapi provides the HTTP
// implementation and Mock serves tests.
package gateway

import (
	"context"

	"storefront-cart/internal/model"
	"storefront-cart/internal/reconcile"
)

// Gateway abstracts the backend cart operations for the current session.
//
// Every method classifies its failure: model.ErrUnauthorized when the
// session is invalid or expired, model.ErrTransient for network and server
// failures. Returned snapshots are already validated.
type Gateway interface {
	// Fetch returns the server cart for the current session.
	Fetch(ctx context.Context) (*model.CartSnapshot, error)

	// Add adds quantity of productID. Not idempotent: each call may create or
	// increment a line. The backend answers with either the full cart or the
	// single affected line.
	Add(ctx context.Context, productID int64, quantity int) (*AddResult, error)

	// Remove deletes the line for productID.
	Remove(ctx context.Context, productID int64) (*model.CartSnapshot, error)

	// UpdateQuantity sets an absolute quantity. quantity <= 0 removes the line.
	UpdateQuantity(ctx context.Context, productID int64, quantity int) (*model.CartSnapshot, error)

	// Commit asks the backend to durably save the session cart.
	Commit(ctx context.Context) (*model.CartSnapshot, error)

	// Clear empties the server cart.
	Clear(ctx context.Context) error

	// Sync sets absolute quantities for many products in one call.
	Sync(ctx context.Context, items []reconcile.SyncItem) (*model.CartSnapshot, error)

	// FetchByID returns any cart by id. Admin sessions only.
	FetchByID(ctx context.Context, cartID int64) (*model.CartSnapshot, error)
}

// AddResult holds exactly one of Cart or Line.
type AddResult struct {
	Cart *model.CartSnapshot
	Line *model.CartLine
}
