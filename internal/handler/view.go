package handler

import "storefront-cart/internal/model"

// CartView is the cart as rendered to local clients: the snapshot plus
// the derived values a UI needs.
type CartView struct {
	Cart           *model.CartSnapshot `json:"cart"`
	ItemCount      int                 `json:"itemCount"`
	LineCount      int                 `json:"lineCount"`
	Total          float64             `json:"total"`
	IsEmpty        bool                `json:"isEmpty"`
	Mode           string              `json:"mode"`
	ReauthRequired bool                `json:"reauthRequired"`
}

func (h *Handler) view(snap *model.CartSnapshot) *CartView {
	return &CartView{
		Cart:           snap,
		ItemCount:      snap.ItemCount(),
		LineCount:      snap.LineCount(),
		Total:          snap.TotalPrice,
		IsEmpty:        snap.IsEmpty(),
		Mode:           h.cart.Mode(),
		ReauthRequired: h.cart.ReauthRequired(),
	}
}
