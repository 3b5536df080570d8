package gateway

import (
	"context"

	"storefront-cart/internal/model"
	"storefront-cart/internal/reconcile"
)

// Mock implements Gateway for testing.
// Each method can be configured via function fields.
type Mock struct {
	FetchFunc          func(ctx context.Context) (*model.CartSnapshot, error)
	AddFunc            func(ctx context.Context, productID int64, quantity int) (*AddResult, error)
	RemoveFunc         func(ctx context.Context, productID int64) (*model.CartSnapshot, error)
	UpdateQuantityFunc func(ctx context.Context, productID int64, quantity int) (*model.CartSnapshot, error)
	CommitFunc         func(ctx context.Context) (*model.CartSnapshot, error)
	ClearFunc          func(ctx context.Context) error
	SyncFunc           func(ctx context.Context, items []reconcile.SyncItem) (*model.CartSnapshot, error)
	FetchByIDFunc      func(ctx context.Context, cartID int64) (*model.CartSnapshot, error)
}

// Fetch calls the configured FetchFunc or returns an empty cart.
func (m *Mock) Fetch(ctx context.Context) (*model.CartSnapshot, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx)
	}
	return model.EmptyCart(), nil
}

// Add calls the configured AddFunc or returns an error.
func (m *Mock) Add(ctx context.Context, productID int64, quantity int) (*AddResult, error) {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, productID, quantity)
	}
	return nil, model.NewInternalError(nil)
}

// Remove calls the configured RemoveFunc or returns an error.
func (m *Mock) Remove(ctx context.Context, productID int64) (*model.CartSnapshot, error) {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, productID)
	}
	return nil, model.NewInternalError(nil)
}

// UpdateQuantity calls the configured UpdateQuantityFunc or returns an error.
func (m *Mock) UpdateQuantity(ctx context.Context, productID int64, quantity int) (*model.CartSnapshot, error) {
	if m.UpdateQuantityFunc != nil {
		return m.UpdateQuantityFunc(ctx, productID, quantity)
	}
	return nil, model.NewInternalError(nil)
}

// Commit calls the configured CommitFunc or returns an empty cart.
func (m *Mock) Commit(ctx context.Context) (*model.CartSnapshot, error) {
	if m.CommitFunc != nil {
		return m.CommitFunc(ctx)
	}
	return model.EmptyCart(), nil
}

// Clear calls the configured ClearFunc or succeeds.
func (m *Mock) Clear(ctx context.Context) error {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx)
	}
	return nil
}

// Sync calls the configured SyncFunc or returns an error.
func (m *Mock) Sync(ctx context.Context, items []reconcile.SyncItem) (*model.CartSnapshot, error) {
	if m.SyncFunc != nil {
		return m.SyncFunc(ctx, items)
	}
	return nil, model.NewInternalError(nil)
}

// FetchByID calls the configured FetchByIDFunc or returns not found.
func (m *Mock) FetchByID(ctx context.Context, cartID int64) (*model.CartSnapshot, error) {
	if m.FetchByIDFunc != nil {
		return m.FetchByIDFunc(ctx, cartID)
	}
	return nil, model.NewNotFoundError("cart")
}

// Compile-time interface check
var _ Gateway = (*Mock)(nil)
