// Package reconcile computes the additive merge of a guest cart into a
// server cart. Used by the engine at login: it fetches the server state,
// plans, and executes only the mutations the plan lists.
package reconcile

import (
	"storefront-cart/internal/model"
)

// MergePlan describes the mutations needed to fold guest lines into the
// server cart. Merging is additive: quantities are summed, never replaced,
// and no server line is ever removed.
type MergePlan struct {
	ToUpdate []ItemToUpdate // Products present on both sides
	ToAdd    []ItemToAdd    // Products only the guest cart has
}

// ItemToAdd specifies a guest-only product to add to the server cart.
type ItemToAdd struct {
	ProductID int64
	Quantity  int // Guest quantity
}

// ItemToUpdate specifies a quantity change for a product already in the
// server cart.
type ItemToUpdate struct {
	ProductID      int64
	LineID         int64 // Server line id (informational)
	ServerQuantity int
	GuestQuantity  int
	NewQuantity    int // ServerQuantity + GuestQuantity
}

// SyncItem is one absolute quantity for the bulk sync endpoint.
type SyncItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// IsEmpty returns true if no mutation is needed.
func (p *MergePlan) IsEmpty() bool {
	return len(p.ToAdd) == 0 && len(p.ToUpdate) == 0
}

// Len is the number of gateway calls the sequential strategy will issue.
func (p *MergePlan) Len() int {
	return len(p.ToAdd) + len(p.ToUpdate)
}

// PlanMerge computes the additive plan for guest lines against server lines.
// Matching is by ProductID. Output follows guest insertion order so the
// sequential strategy issues calls deterministically. Duplicate guest lines
// for the same product are summed; lines with quantity < 1 are ignored.
func PlanMerge(server, guest []model.CartLine) *MergePlan {
	plan := &MergePlan{}

	serverByID := make(map[int64]model.CartLine, len(server))
	for _, line := range server {
		serverByID[line.ProductID] = line
	}

	order, guestQty := collapse(guest)
	for _, id := range order {
		qty := guestQty[id]
		if current, exists := serverByID[id]; exists {
			plan.ToUpdate = append(plan.ToUpdate, ItemToUpdate{
				ProductID:      id,
				LineID:         current.LineID,
				ServerQuantity: current.Quantity,
				GuestQuantity:  qty,
				NewQuantity:    current.Quantity + qty,
			})
			continue
		}
		plan.ToAdd = append(plan.ToAdd, ItemToAdd{ProductID: id, Quantity: qty})
	}

	return plan
}

// SyncItems returns the absolute post-merge quantities for every product:
// server lines first in server order, then guest-only products.
func (p *MergePlan) SyncItems(server []model.CartLine) []SyncItem {
	updated := make(map[int64]int, len(p.ToUpdate))
	for _, u := range p.ToUpdate {
		updated[u.ProductID] = u.NewQuantity
	}

	items := make([]SyncItem, 0, len(server)+len(p.ToAdd))
	for _, line := range server {
		qty := line.Quantity
		if n, ok := updated[line.ProductID]; ok {
			qty = n
		}
		items = append(items, SyncItem{ProductID: line.ProductID, Quantity: qty})
	}
	for _, a := range p.ToAdd {
		items = append(items, SyncItem{ProductID: a.ProductID, Quantity: a.Quantity})
	}
	return items
}

// collapse sums guest quantities per product, keeping first-seen order.
func collapse(lines []model.CartLine) ([]int64, map[int64]int) {
	order := make([]int64, 0, len(lines))
	qty := make(map[int64]int, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			continue
		}
		if _, seen := qty[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		qty[line.ProductID] += line.Quantity
	}
	return order, qty
}
