package cart

import (
	"context"
	"log/slog"

	"storefront-cart/internal/metrics"
	"storefront-cart/internal/model"
)

// Operation names used in metrics and reports.
const (
	opAdd              = "add"
	opRemove           = "remove"
	opUpdateQuantity   = "update_quantity"
	opClear            = "clear"
	opCompleteCheckout = "complete_checkout"
	opMerge            = "merge"
	opHandoff          = "handoff"
)

type mutation struct {
	op        string
	productID int64
	quantity  int
}

// apply changes snap in place. It reports false when an add needs catalog
// data for a line that is not in snap and product is nil.
func (m mutation) apply(snap *model.CartSnapshot, product *model.Product) bool {
	idx := snap.FindLine(m.productID)
	switch m.op {
	case opAdd:
		if idx >= 0 {
			snap.Items[idx].Quantity += m.quantity
			return true
		}
		if product == nil {
			return false
		}
		snap.Items = append(snap.Items, model.NewLine(product, m.quantity))
	case opRemove:
		if idx >= 0 {
			snap.Items = append(snap.Items[:idx], snap.Items[idx+1:]...)
		}
	case opUpdateQuantity:
		switch {
		case idx < 0:
		case m.quantity <= 0:
			snap.Items = append(snap.Items[:idx], snap.Items[idx+1:]...)
		default:
			snap.Items[idx].Quantity = m.quantity
		}
	}
	return true
}

// Add adds quantity units of productID. quantity must be at least 1.
func (e *Engine) Add(ctx context.Context, productID int64, quantity int) (*model.CartSnapshot, error) {
	if quantity < 1 {
		return nil, model.NewValidationError("quantity", "must be at least 1")
	}
	return e.mutate(ctx, mutation{op: opAdd, productID: productID, quantity: quantity})
}

// Remove deletes the line for productID. Removing an absent product
// leaves the lines unchanged.
func (e *Engine) Remove(ctx context.Context, productID int64) (*model.CartSnapshot, error) {
	return e.mutate(ctx, mutation{op: opRemove, productID: productID})
}

// UpdateQuantity sets the quantity of productID. quantity <= 0 removes
// the line.
func (e *Engine) UpdateQuantity(ctx context.Context, productID int64, quantity int) (*model.CartSnapshot, error) {
	return e.mutate(ctx, mutation{op: opUpdateQuantity, productID: productID, quantity: quantity})
}

func (e *Engine) mutate(ctx context.Context, m mutation) (*model.CartSnapshot, error) {
	epoch := e.currentEpoch()

	if !e.authenticated() {
		snap, err := e.guestMutate(ctx, epoch, m)
		metrics.Mutation(metrics.ModeGuest, m.op, outcome(err))
		return snap, err
	}

	snap, err := e.remoteMutate(ctx, epoch, m)
	switch kind := model.Classify(err); {
	case err == nil:
		metrics.Mutation(metrics.ModeAuthenticated, m.op, metrics.OutcomeSuccess)
		return snap, nil

	case kind == model.KindUnauthorized:
		e.logger.Info("session rejected, continuing in guest mode",
			slog.String("op", m.op),
			slog.Int64("product_id", m.productID))
		epoch = e.expire(ctx, epoch)
		snap, err = e.guestMutate(ctx, epoch, m)
		if err != nil {
			metrics.Mutation(metrics.ModeAuthenticated, m.op, metrics.OutcomeFailure)
			return nil, err
		}
		metrics.Mutation(metrics.ModeAuthenticated, m.op, metrics.OutcomeFallback)
		return snap, nil

	case kind == model.KindTransient, kind == model.KindValidation, kind == model.KindNotFound:
		metrics.Mutation(metrics.ModeAuthenticated, m.op, metrics.OutcomeFailure)
		return nil, err

	default:
		metrics.Mutation(metrics.ModeAuthenticated, m.op, metrics.OutcomeFailure)
		return nil, model.NewTransientError("cart", err)
	}
}

// guestMutate applies m to the canonical snapshot. Catalog data is looked
// up only when a new line is created, outside the lock.
func (e *Engine) guestMutate(ctx context.Context, epoch uint64, m mutation) (*model.CartSnapshot, error) {
	var product *model.Product
	for {
		e.mu.Lock()
		if epoch != e.epoch {
			e.mu.Unlock()
			return nil, ErrSessionChanged
		}
		next := e.snap.Clone()
		if m.apply(next, product) {
			if err := next.Recalculate(); err != nil {
				e.mu.Unlock()
				return nil, err
			}
			snap := e.commitLocked(next, true)
			e.mu.Unlock()
			return snap, nil
		}
		e.mu.Unlock()

		p, err := e.catalog.Product(ctx, m.productID)
		if err != nil {
			return nil, err
		}
		product = p
	}
}

// remoteMutate sends m to the gateway and commits its response.
func (e *Engine) remoteMutate(ctx context.Context, epoch uint64, m mutation) (*model.CartSnapshot, error) {
	var (
		snap *model.CartSnapshot
		err  error
	)
	switch m.op {
	case opAdd:
		res, addErr := e.gw.Add(ctx, m.productID, m.quantity)
		if addErr != nil {
			return nil, addErr
		}
		if res.Line != nil {
			return e.commitLine(epoch, res.Line, m.quantity)
		}
		snap = res.Cart
	case opRemove:
		snap, err = e.gw.Remove(ctx, m.productID)
	case opUpdateQuantity:
		snap, err = e.gw.UpdateQuantity(ctx, m.productID, m.quantity)
	}
	if err != nil {
		return nil, err
	}
	if err := snap.Recalculate(); err != nil {
		return nil, err
	}
	return e.commit(epoch, snap, false)
}

// commitLine folds a single-line add response into the canonical cart:
// an existing line grows by quantity and adopts the server line id,
// otherwise the line is appended as returned.
func (e *Engine) commitLine(epoch uint64, line *model.CartLine, quantity int) (*model.CartSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch {
		return nil, ErrSessionChanged
	}

	next := e.snap.Clone()
	if idx := next.FindLine(line.ProductID); idx >= 0 {
		next.Items[idx].Quantity += quantity
		next.Items[idx].LineID = line.LineID
	} else {
		next.Items = append(next.Items, *line)
	}
	if err := next.Recalculate(); err != nil {
		return nil, err
	}
	return e.commitLocked(next, false), nil
}

func outcome(err error) string {
	if err != nil {
		return metrics.OutcomeFailure
	}
	return metrics.OutcomeSuccess
}
