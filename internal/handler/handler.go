// Package handler exposes the cart engine over a local REST, SSE and MCP API.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"storefront-cart/internal/feed"
	"storefront-cart/internal/identity"
	"storefront-cart/internal/metrics"
	"storefront-cart/internal/model"
)

// Cart is the engine surface the handlers drive. *cart.Engine implements it.
type Cart interface {
	Snapshot() *model.CartSnapshot
	Mode() string
	ReauthRequired() bool
	Owner() (model.Identity, bool)
	Subscribe() *feed.Subscription

	Add(ctx context.Context, productID int64, quantity int) (*model.CartSnapshot, error)
	Remove(ctx context.Context, productID int64) (*model.CartSnapshot, error)
	UpdateQuantity(ctx context.Context, productID int64, quantity int) (*model.CartSnapshot, error)
	Clear(ctx context.Context)
	Refresh(ctx context.Context)

	CanProceedToCheckout() error
	PrepareCheckout(ctx context.Context) (*model.CartSnapshot, error)
	CompleteCheckout(ctx context.Context)

	Login(ctx context.Context, id model.Identity)
	Logout(ctx context.Context)
	FetchByID(ctx context.Context, cartID int64) (*model.CartSnapshot, error)
}

// Authenticator talks to the backend auth endpoints. *identity.Client
// implements it.
type Authenticator interface {
	Login(ctx context.Context, creds identity.Credentials) (model.Identity, error)
	Logout(ctx context.Context)
	CheckSession(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	cart     Cart
	auth     Authenticator
	logger   *slog.Logger
	validate *validator.Validate
}

// New creates a Handler.
func New(c Cart, auth Authenticator, logger *slog.Logger) *Handler {
	return &Handler{
		cart:     c,
		auth:     auth,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes registers all routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.handleGetCart)
		r.Get("/stream", h.handleStream)
		r.Post("/items", h.handleAddItem)
		r.Put("/items/{productId}", h.handleUpdateItem)
		r.Delete("/items/{productId}", h.handleRemoveItem)
		r.Post("/clear", h.handleClear)
		r.Post("/refresh", h.handleRefresh)
	})

	r.Route("/checkout", func(r chi.Router) {
		r.Get("/gate", h.handleCheckoutGate)
		r.Post("/prepare", h.handlePrepareCheckout)
		r.Post("/complete", h.handleCompleteCheckout)
	})

	r.Get("/session", h.handleSession)
	r.Post("/session/login", h.handleLogin)
	r.Post("/session/logout", h.handleLogout)

	r.Get("/admin/carts/{cartId}", h.handleAdminGetCart)

	// MCP transport
	r.Handle("/mcp", h.NewMCPHandler())

	r.Get("/health", h.handleHealth)
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", metrics.Handler())
}

// handleHealth returns a simple liveness response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type healthResponse struct {
	Status string `json:"status"`
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError
// if present. Only unexpected errors are logged; cart and gate failures are
// conditions for the shopper, not system errors.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = model.NewInternalError(err)
		h.logger.Error("internal error", slog.String("error", err.Error()))
	}

	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB.
const MaxRequestBodySize = 1 << 20

// decodeJSON reads and validates a JSON request body into v.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose decoder details to the client
		return model.NewValidationError("body", "invalid JSON")
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return model.NewValidationError(verrs[0].Field(), "failed "+verrs[0].Tag()+" check")
		}
		return model.NewValidationError("body", "invalid request")
	}
	return nil
}

// pathID parses a positive integer path parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewValidationError(name, "must be a positive integer")
	}
	return id, nil
}
