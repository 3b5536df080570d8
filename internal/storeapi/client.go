// Package storeapi implements gateway.Gateway over the storefront backend's
// REST cart API.
//
// Sessions are cookie based: the http.Client passed in carries the session
// cookie jar (and optionally a bearer token via its transport), so this
// package never handles credentials itself.
package storeapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"storefront-cart/internal/gateway"
	"storefront-cart/internal/model"
	"storefront-cart/internal/negotiation"
	"storefront-cart/internal/reconcile"
)

// serviceName labels upstream errors and the circuit breaker.
const serviceName = "store api"

// sharedFetchTimeout bounds a coalesced Fetch that no caller can cancel.
const sharedFetchTimeout = 30 * time.Second

// DefaultAPIVersion is the backend cart API version this client speaks.
const DefaultAPIVersion = "1.0.0"

// Config holds storeapi client configuration.
type Config struct {
	BaseURL    string
	APIKey     string       // Sent as X-Api-Key when set
	HTTPClient *http.Client // Carries the session jar and transport stack
	APIVersion string       // Expected Cart-API version; default DefaultAPIVersion
	Logger     *slog.Logger

	// Circuit breaker tuning. Zero values use defaults.
	BreakerFailures uint32        // Consecutive transient failures before opening (default 5)
	BreakerTimeout  time.Duration // Open → half-open delay (default 30s)
}

// Client implements gateway.Gateway for the storefront backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
	breaker    *gobreaker.CircuitBreaker[[]byte]
	fetches    singleflight.Group
	versions   *negotiation.APIVersionChecker
}

// New creates a storeapi client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		logger:     logger,
		versions:   negotiation.NewAPIVersionChecker(version, logger),
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    serviceName,
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Session and input errors say nothing about backend health
		IsSuccessful: func(err error) bool {
			return err == nil || model.Classify(err) != model.KindTransient
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return c, nil
}

// Fetch returns the session cart. Concurrent callers share one request,
// which runs detached from any single caller's cancellation; each caller
// stops waiting when its own ctx is done.
func (c *Client) Fetch(ctx context.Context) (*model.CartSnapshot, error) {
	ch := c.fetches.DoChan("fetch", func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return c.cartRequest(shared, http.MethodGet, "/carts", nil, nil)
	})

	select {
	case <-ctx.Done():
		return nil, model.NewTransientError(serviceName, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// Each caller gets its own copy
		return res.Val.(*model.CartSnapshot).Clone(), nil
	}
}

// Add posts a new line. Each call carries a fresh Idempotency-Key so a
// retried request is not applied twice by the backend.
func (c *Client) Add(ctx context.Context, productID int64, quantity int) (*gateway.AddResult, error) {
	body := map[string]any{"productId": productID, "quantity": quantity}
	headers := http.Header{"Idempotency-Key": []string{uuid.NewString()}}

	raw, err := c.do(ctx, http.MethodPost, "/carts/add", body, headers)
	if err != nil {
		return nil, err
	}
	return decodeAddResult(raw)
}

// Remove deletes the line for productID.
func (c *Client) Remove(ctx context.Context, productID int64) (*model.CartSnapshot, error) {
	return c.cartRequest(ctx, http.MethodDelete, "/carts/remove/"+strconv.FormatInt(productID, 10), nil, nil)
}

// UpdateQuantity sets an absolute quantity; the backend removes the line
// when quantity <= 0.
func (c *Client) UpdateQuantity(ctx context.Context, productID int64, quantity int) (*model.CartSnapshot, error) {
	path := "/carts/update/" + strconv.FormatInt(productID, 10) + "?quantity=" + strconv.Itoa(quantity)
	return c.cartRequest(ctx, http.MethodPut, path, nil, nil)
}

// Commit asks the backend to persist the session cart.
func (c *Client) Commit(ctx context.Context) (*model.CartSnapshot, error) {
	return c.cartRequest(ctx, http.MethodPost, "/carts/save", nil, nil)
}

// Clear empties the server cart.
func (c *Client) Clear(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/carts/clear", nil, nil)
	return err
}

// Sync sets absolute quantities in one call.
func (c *Client) Sync(ctx context.Context, items []reconcile.SyncItem) (*model.CartSnapshot, error) {
	body := map[string]any{"items": items}
	return c.cartRequest(ctx, http.MethodPost, "/carts/sync", body, nil)
}

// FetchByID returns any cart by id.
func (c *Client) FetchByID(ctx context.Context, cartID int64) (*model.CartSnapshot, error) {
	return c.cartRequest(ctx, http.MethodGet, "/carts/"+strconv.FormatInt(cartID, 10), nil, nil)
}

// cartRequest performs a request whose success body is a cart.
func (c *Client) cartRequest(ctx context.Context, method, path string, body any, headers http.Header) (*model.CartSnapshot, error) {
	raw, err := c.do(ctx, method, path, body, headers)
	if err != nil {
		return nil, err
	}
	return decodeCart(raw)
}

// do runs one request through the circuit breaker and returns the body.
func (c *Client) do(ctx context.Context, method, path string, body any, headers http.Header) ([]byte, error) {
	raw, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, body, headers)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, model.NewTransientError(serviceName, err)
	}
	return raw, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body any, headers http.Header) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, body != nil)
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewTransientError(serviceName, err)
	}
	defer resp.Body.Close()

	c.versions.Check(resp.Header.Get(negotiation.CartAPIHeaderName))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewTransientError(serviceName, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(resp.StatusCode, respBody)
	}

	c.logger.Debug("store api request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode))

	return respBody, nil
}

// userAgent identifies this client to upstream servers.
const userAgent = "storefront-cart/1.0"

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}

// errorResponse is the backend's error body.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// parseErrorResponse converts a backend error status to APIError.
func parseErrorResponse(statusCode int, body []byte) error {
	var apiErr errorResponse
	json.Unmarshal(body, &apiErr) // Best effort parse

	switch statusCode {
	case 401, 403:
		return model.NewUnauthorizedError("session expired or invalid")
	case 404:
		return model.NewNotFoundError("cart resource")
	case 400, 422:
		msg := apiErr.Message
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError("request", msg)
	case 429:
		return model.NewRateLimitError(serviceName)
	default:
		return model.NewTransientError(serviceName,
			fmt.Errorf("status %d: %s - %s", statusCode, apiErr.Code, apiErr.Message))
	}
}

// decodeCart parses and validates a cart body.
func decodeCart(raw []byte) (*model.CartSnapshot, error) {
	var cart model.CartSnapshot
	if err := json.Unmarshal(raw, &cart); err != nil {
		return nil, model.NewTransientError(serviceName, fmt.Errorf("parsing cart response: %w", err))
	}
	if err := cart.Validate(); err != nil {
		return nil, err
	}
	return &cart, nil
}

// decodeAddResult tells a full cart apart from a single line by the
// presence of the cartItems member.
func decodeAddResult(raw []byte) (*gateway.AddResult, error) {
	var shape struct {
		Items json.RawMessage `json:"cartItems"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, model.NewTransientError(serviceName, fmt.Errorf("parsing add response: %w", err))
	}

	if shape.Items != nil {
		cart, err := decodeCart(raw)
		if err != nil {
			return nil, err
		}
		return &gateway.AddResult{Cart: cart}, nil
	}

	var line model.CartLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil, model.NewTransientError(serviceName, fmt.Errorf("parsing add response: %w", err))
	}
	single := model.CartSnapshot{Items: []model.CartLine{line}}
	if err := single.Validate(); err != nil {
		return nil, err
	}
	return &gateway.AddResult{Line: &line}, nil
}

// Compile-time interface check
var _ gateway.Gateway = (*Client)(nil)
