package identity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"storefront-cart/internal/model"
)

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// loginResponse is the backend's answer to POST /auth/login.
// Token is optional; cookie-only backends omit it.
type loginResponse struct {
	Token string         `json:"token"`
	User  model.Identity `json:"user"`
}

// Client drives the backend auth endpoints and keeps Session current.
type Client struct {
	httpClient *http.Client
	baseURL    string
	session    *Session
	logger     *slog.Logger
	validate   *validator.Validate
}

// NewClient creates an auth client. httpClient must use session as its Jar.
func NewClient(httpClient *http.Client, baseURL string, session *Session, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		session:    session,
		logger:     logger,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Session returns the session this client maintains.
func (c *Client) Session() *Session {
	return c.session
}

// Login authenticates and establishes the session.
func (c *Client) Login(ctx context.Context, creds Credentials) (model.Identity, error) {
	if err := c.validate.Struct(creds); err != nil {
		return model.Identity{}, model.NewValidationError("credentials", "email and password are required")
	}

	body, err := json.Marshal(creds)
	if err != nil {
		return model.Identity{}, fmt.Errorf("marshaling credentials: %w", err)
	}

	respBody, status, err := c.do(ctx, http.MethodPost, "/auth/login", body)
	if err != nil {
		return model.Identity{}, err
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.Identity{}, model.NewUnauthorizedError("invalid email or password")
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return model.Identity{}, model.NewValidationError("credentials", "rejected by backend")
	case status >= 400:
		return model.Identity{}, model.NewTransientError("auth", fmt.Errorf("status %d", status))
	}

	var resp loginResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return model.Identity{}, model.NewTransientError("auth", fmt.Errorf("parsing login response: %w", err))
	}
	if resp.User.ID == 0 {
		return model.Identity{}, model.NewTransientError("auth", fmt.Errorf("login response missing user"))
	}

	c.session.Establish(resp.User, resp.Token)
	c.logger.Info("session established",
		slog.Int64("user_id", resp.User.ID),
		slog.String("role", resp.User.Role))

	return resp.User, nil
}

// Logout tells the backend to end the session (best effort) and always
// clears local session state.
func (c *Client) Logout(ctx context.Context) {
	if c.session.IsAuthenticated() {
		if _, _, err := c.do(ctx, http.MethodPost, "/auth/logout", nil); err != nil {
			c.logger.Warn("backend logout failed", slog.String("error", err.Error()))
		}
	}
	c.session.End()
}

// CheckSession asks the backend whether the session cookie is still valid.
// A rejected session is invalidated locally and Unauthorized returned.
func (c *Client) CheckSession(ctx context.Context) error {
	if !c.session.IsAuthenticated() {
		return model.NewUnauthorizedError("not logged in")
	}

	_, status, err := c.do(ctx, http.MethodGet, "/users/check-session", nil)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		c.session.Invalidate()
		return model.NewUnauthorizedError("session expired")
	case status >= 400:
		return model.NewTransientError("auth", fmt.Errorf("status %d", status))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, model.NewTransientError("auth", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, model.NewTransientError("auth", err)
	}
	return respBody, resp.StatusCode, nil
}
