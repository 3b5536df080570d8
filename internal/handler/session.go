package handler

import (
	"log/slog"
	"net/http"

	"storefront-cart/internal/identity"
	"storefront-cart/internal/model"
)

type loginResponse struct {
	User model.Identity `json:"user"`
	Cart *CartView      `json:"cart"`
}

type sessionResponse struct {
	Authenticated  bool            `json:"authenticated"`
	User           *model.Identity `json:"user,omitempty"`
	Mode           string          `json:"mode"`
	ReauthRequired bool            `json:"reauthRequired"`
}

// handleSession asks the backend whether the session is still valid.
// An expired session is reported, not returned as an error.
// GET /session
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := sessionResponse{Mode: h.cart.Mode()}
	err := h.auth.CheckSession(ctx)
	switch model.Classify(err) {
	case model.KindUnknown:
		if err != nil {
			h.writeError(w, err)
			return
		}
		resp.Authenticated = true
		if owner, ok := h.cart.Owner(); ok {
			resp.User = &owner
		}
	case model.KindUnauthorized:
	default:
		h.writeError(w, err)
		return
	}
	resp.ReauthRequired = h.cart.ReauthRequired()

	h.writeJSON(w, http.StatusOK, resp)
}

// handleLogin authenticates against the backend, then merges the guest
// cart into the account cart.
// POST /session/login
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var creds identity.Credentials
	if err := h.decodeJSON(w, r, &creds); err != nil {
		h.writeError(w, err)
		return
	}

	user, err := h.auth.Login(ctx, creds)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.cart.Login(ctx, user)
	h.logger.InfoContext(ctx, "shopper logged in", slog.Int64("user_id", user.ID))

	h.writeJSON(w, http.StatusOK, loginResponse{User: user, Cart: h.view(h.cart.Snapshot())})
}

// handleLogout hands the cart back to the server, then ends the session.
// The cart goes first: saving it needs the session cookie.
// POST /session/logout
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h.cart.Logout(ctx)
	h.auth.Logout(ctx)

	w.WriteHeader(http.StatusNoContent)
}
