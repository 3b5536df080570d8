package cart

import (
	"context"
	"fmt"
	"log/slog"

	"storefront-cart/internal/metrics"
	"storefront-cart/internal/model"
	"storefront-cart/internal/reconcile"
)

// Login switches to authenticated mode for id and merges the guest cart
// into the server cart. Merge failures are reported, never returned: the
// guest cart stays in the guest store and on screen, and Refresh retries.
func (e *Engine) Login(ctx context.Context, id model.Identity) {
	if err := e.persist.Flush(ctx); err != nil {
		e.logger.Warn("flushing guest cart before merge", slog.String("error", err.Error()))
	}

	var guestCart *model.CartSnapshot
	if e.authenticated() {
		guestCart = e.store.Load(ctx)
	} else {
		guestCart = e.Snapshot()
	}

	e.transition(ctx, EventLogin)
	e.mu.Lock()
	e.epoch++
	e.reauth = false
	e.owner = &id
	epoch := e.epoch
	e.mu.Unlock()

	if guestCart.IsEmpty() {
		metrics.Merge(metrics.OutcomeSkipped)
		e.loadServer(ctx, epoch)
		return
	}
	e.merge(ctx, epoch, guestCart)
}

// merge folds guestCart into the server cart and commits the result if
// the session is still the one at epoch.
func (e *Engine) merge(ctx context.Context, epoch uint64, guestCart *model.CartSnapshot) {
	merged, err := e.runMerge(ctx, guestCart.Items)
	if err != nil {
		metrics.Merge(metrics.OutcomeFailure)
		e.reporter.Report(ctx, opMerge, err,
			slog.String("strategy", string(e.strategy)),
			slog.Int("guest_lines", guestCart.LineCount()))

		pre := guestCart.Clone()
		if recalcErr := pre.Recalculate(); recalcErr != nil {
			pre = model.EmptyCart()
		}
		e.install(epoch, pre, opMerge)
		return
	}

	metrics.Merge(metrics.OutcomeSuccess)
	// The backend holds the merge either way; only the local view is dropped
	if _, err := e.commit(epoch, merged, false); err != nil {
		e.logger.Info("session changed during merge, merged cart dropped")
		return
	}
	e.persist.Discard()
	if err := e.store.Clear(ctx); err != nil {
		e.logger.Warn("clearing guest cart after merge", slog.String("error", err.Error()))
	}

	e.logger.Info("guest cart merged",
		slog.String("strategy", string(e.strategy)),
		slog.Int("guest_lines", guestCart.LineCount()),
		slog.Int("lines", merged.LineCount()))
}

func (e *Engine) runMerge(ctx context.Context, guestLines []model.CartLine) (*model.CartSnapshot, error) {
	server, err := e.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching server cart: %w", err)
	}

	plan := reconcile.PlanMerge(server.Items, guestLines)
	switch e.strategy {
	case MergeSync:
		if !plan.IsEmpty() {
			if _, err := e.gw.Sync(ctx, plan.SyncItems(server.Items)); err != nil {
				return nil, fmt.Errorf("syncing merged cart: %w", err)
			}
		}
	default:
		for _, u := range plan.ToUpdate {
			if _, err := e.gw.UpdateQuantity(ctx, u.ProductID, u.NewQuantity); err != nil {
				return nil, fmt.Errorf("updating product %d: %w", u.ProductID, err)
			}
		}
		for _, a := range plan.ToAdd {
			if _, err := e.gw.Add(ctx, a.ProductID, a.Quantity); err != nil {
				return nil, fmt.Errorf("adding product %d: %w", a.ProductID, err)
			}
		}
	}

	committed, err := e.commitRemote(ctx)
	if err != nil {
		return nil, fmt.Errorf("committing merged cart: %w", err)
	}
	return committed, nil
}

// Logout saves the cart to the server when authenticated, then clears all
// local cart state. A failed save is reported and never blocks logout.
func (e *Engine) Logout(ctx context.Context) {
	if e.authenticated() {
		if _, err := e.commitRemote(ctx); err != nil {
			metrics.Handoff(metrics.OutcomeFailure)
			e.reporter.Report(ctx, opHandoff, err)
		} else {
			metrics.Handoff(metrics.OutcomeSuccess)
		}
	} else {
		metrics.Handoff(metrics.OutcomeSkipped)
	}

	e.transition(ctx, EventLogout)
	e.persist.Discard()
	if err := e.store.Clear(ctx); err != nil {
		e.logger.Warn("clearing guest cart at logout", slog.String("error", err.Error()))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.epoch++
	e.owner = nil
	e.reauth = false
	e.publishLocked(model.EmptyCart())
}
