package handler

import (
	"net/http"
)

// handleCheckoutGate reports whether checkout may start.
// GET /checkout/gate
func (h *Handler) handleCheckoutGate(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.CanProceedToCheckout(); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePrepareCheckout saves the cart server-side before checkout.
// POST /checkout/prepare
func (h *Handler) handlePrepareCheckout(w http.ResponseWriter, r *http.Request) {
	snap, err := h.cart.PrepareCheckout(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view(snap))
}

// handleCompleteCheckout empties the cart after an order was placed.
// POST /checkout/complete
func (h *Handler) handleCompleteCheckout(w http.ResponseWriter, r *http.Request) {
	h.cart.CompleteCheckout(r.Context())
	h.writeJSON(w, http.StatusOK, h.view(h.cart.Snapshot()))
}
