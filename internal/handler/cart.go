package handler

import (
	"log/slog"
	"net/http"
)

type addItemRequest struct {
	ProductID int64 `json:"productId" validate:"required,gt=0"`
	Quantity  int   `json:"quantity"`
}

// Quantity is a pointer so a missing field is told apart from zero,
// which removes the line.
type updateItemRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// handleGetCart returns the current cart.
// GET /cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.view(h.cart.Snapshot()))
}

// handleAddItem adds a product.
// POST /cart/items
func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req addItemRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "adding item",
		slog.Int64("product_id", req.ProductID),
		slog.Int("quantity", req.Quantity),
	)

	snap, err := h.cart.Add(ctx, req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.view(snap))
}

// handleUpdateItem sets a line quantity; zero or less removes the line.
// PUT /cart/items/{productId}
func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	productID, err := pathID(r, "productId")
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req updateItemRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "updating item",
		slog.Int64("product_id", productID),
		slog.Int("quantity", *req.Quantity),
	)

	snap, err := h.cart.UpdateQuantity(ctx, productID, *req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.view(snap))
}

// handleRemoveItem removes a line.
// DELETE /cart/items/{productId}
func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	productID, err := pathID(r, "productId")
	if err != nil {
		h.writeError(w, err)
		return
	}

	snap, err := h.cart.Remove(ctx, productID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.view(snap))
}

// handleClear empties the cart.
// POST /cart/clear
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	h.cart.Clear(r.Context())
	h.writeJSON(w, http.StatusOK, h.view(h.cart.Snapshot()))
}

// handleRefresh reloads the cart from its source.
// POST /cart/refresh
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	h.cart.Refresh(r.Context())
	h.writeJSON(w, http.StatusOK, h.view(h.cart.Snapshot()))
}

// handleAdminGetCart returns any cart by id.
// GET /admin/carts/{cartId}
func (h *Handler) handleAdminGetCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cartID, err := pathID(r, "cartId")
	if err != nil {
		h.writeError(w, err)
		return
	}

	snap, err := h.cart.FetchByID(ctx, cartID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, snap)
}
