package cart

import (
	"context"

	"storefront-cart/internal/metrics"
	"storefront-cart/internal/model"
)

// CanProceedToCheckout returns an EmptyCart error for a cart without
// lines, then a NotAuthenticated error unless both the session and the
// engine are authenticated. It has no side effects.
func (e *Engine) CanProceedToCheckout() error {
	if e.IsEmpty() {
		return model.NewEmptyCartError()
	}
	if !e.identity.IsAuthenticated() || !e.authenticated() {
		return model.NewNotAuthenticatedError()
	}
	return nil
}

// PrepareCheckout passes the gate and saves the cart server-side so the
// order is placed from the durable cart. An Unauthorized response ends the
// session and is returned so the caller can send the shopper to login.
func (e *Engine) PrepareCheckout(ctx context.Context) (*model.CartSnapshot, error) {
	if err := e.CanProceedToCheckout(); err != nil {
		return nil, err
	}

	epoch := e.currentEpoch()
	snap, err := e.commitRemote(ctx)
	switch model.Classify(err) {
	case model.KindUnknown:
		if err != nil {
			return nil, model.NewTransientError("cart", err)
		}
		return e.commit(epoch, snap, false)
	case model.KindUnauthorized:
		e.identity.Invalidate()
		e.expire(ctx, epoch)
		return nil, err
	default:
		return nil, err
	}
}

// CompleteCheckout empties the cart after an order was placed.
func (e *Engine) CompleteCheckout(ctx context.Context) {
	e.reset(ctx, opCompleteCheckout)
}

// Clear empties the cart.
func (e *Engine) Clear(ctx context.Context) {
	e.reset(ctx, opClear)
}

// reset clears the server cart or the guest store, then always publishes
// an empty cart. A failed clear is reported.
func (e *Engine) reset(ctx context.Context, op string) {
	mode := e.modeLabel()

	var err error
	if e.authenticated() {
		err = e.gw.Clear(ctx)
	} else {
		e.persist.Discard()
		err = e.store.Clear(ctx)
	}
	if err != nil {
		e.reporter.Report(ctx, op, err)
	}
	metrics.Mutation(mode, op, outcome(err))

	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishLocked(model.EmptyCart())
}

// FetchByID returns any cart by id. Only admins may look up carts.
func (e *Engine) FetchByID(ctx context.Context, cartID int64) (*model.CartSnapshot, error) {
	owner, ok := e.Owner()
	if !ok || !e.authenticated() {
		return nil, model.NewUnauthorizedError("login required")
	}
	if !owner.IsAdmin() {
		return nil, model.NewForbiddenError("admin role required")
	}

	snap, err := e.gw.FetchByID(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if err := snap.Recalculate(); err != nil {
		return nil, err
	}
	return snap, nil
}
