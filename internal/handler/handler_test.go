package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"storefront-cart/internal/cart"
	"storefront-cart/internal/gateway"
	"storefront-cart/internal/guest"
	"storefront-cart/internal/identity"
	"storefront-cart/internal/model"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubCatalog struct{}

func (stubCatalog) Product(_ context.Context, id int64) (*model.Product, error) {
	if id > 100 {
		return nil, model.NewNotFoundError("product")
	}
	return &model.Product{ID: id, Name: "Product", Price: 10}, nil
}

// fakeAuth accepts one shopper and doubles as the engine's identity.
type fakeAuth struct {
	mu      sync.Mutex
	user    *model.Identity
	logouts int
}

func (a *fakeAuth) Login(_ context.Context, creds identity.Credentials) (model.Identity, error) {
	if creds.Email != "ada@example.com" || creds.Password != "secret" {
		return model.Identity{}, model.NewUnauthorizedError("invalid email or password")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user = &model.Identity{ID: 7, Email: creds.Email, Role: "user"}
	return *a.user, nil
}

func (a *fakeAuth) Logout(context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user = nil
	a.logouts++
}

func (a *fakeAuth) CheckSession(context.Context) error {
	if !a.IsAuthenticated() {
		return model.NewUnauthorizedError("not logged in")
	}
	return nil
}

func (a *fakeAuth) IsAuthenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user != nil
}

func (a *fakeAuth) Identity() (model.Identity, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user == nil {
		return model.Identity{}, false
	}
	return *a.user, true
}

func (a *fakeAuth) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user = nil
}

// serverGateway returns a Mock backed by a single-line-per-product map.
func serverGateway() *gateway.Mock {
	var mu sync.Mutex
	lines := map[int64]int{}
	snapshot := func() *model.CartSnapshot {
		snap := &model.CartSnapshot{OwnerID: 7, CartID: 1, Items: []model.CartLine{}}
		for id, qty := range lines {
			snap.Items = append(snap.Items, model.CartLine{
				LineID: id + 1000, ProductID: id, Quantity: qty,
				ProductName: strPtr("Product"), UnitPrice: floatPtr(10),
			})
		}
		return snap
	}
	return &gateway.Mock{
		FetchFunc: func(context.Context) (*model.CartSnapshot, error) {
			mu.Lock()
			defer mu.Unlock()
			return snapshot(), nil
		},
		AddFunc: func(_ context.Context, id int64, qty int) (*gateway.AddResult, error) {
			mu.Lock()
			defer mu.Unlock()
			lines[id] += qty
			return &gateway.AddResult{Cart: snapshot()}, nil
		},
		UpdateQuantityFunc: func(_ context.Context, id int64, qty int) (*model.CartSnapshot, error) {
			mu.Lock()
			defer mu.Unlock()
			if qty <= 0 {
				delete(lines, id)
			} else {
				lines[id] = qty
			}
			return snapshot(), nil
		},
		RemoveFunc: func(_ context.Context, id int64) (*model.CartSnapshot, error) {
			mu.Lock()
			defer mu.Unlock()
			delete(lines, id)
			return snapshot(), nil
		},
		CommitFunc: func(context.Context) (*model.CartSnapshot, error) {
			mu.Lock()
			defer mu.Unlock()
			return snapshot(), nil
		},
		ClearFunc: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			lines = map[int64]int{}
			return nil
		},
	}
}

type testEnv struct {
	engine *cart.Engine
	auth   *fakeAuth
	router chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	auth := &fakeAuth{}
	engine, err := cart.New(cart.Options{
		Gateway:       serverGateway(),
		Store:         guest.NewStore(guest.NewMemoryBackend(), "", testLogger()),
		Catalog:       stubCatalog{},
		Identity:      auth,
		Logger:        testLogger(),
		PersistDelay:  time.Hour,
		RetryInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("cart.New() error = %v", err)
	}
	t.Cleanup(func() { engine.Close(context.Background()) })

	h := New(engine, auth, testLogger())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return &testEnv{engine: engine, auth: auth, router: r}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) CartView {
	t.Helper()
	var v CartView
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding cart view: %v\nBody: %s", err, w.Body.String())
	}
	return v
}

func errorCode(body []byte) string {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.Error.Code
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/health", "/healthz"} {
		w := env.do("GET", path, "")
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, w.Code, http.StatusOK)
		}
		var resp healthResponse
		json.NewDecoder(w.Body).Decode(&resp)
		if resp.Status != "ok" {
			t.Errorf("%s status = %s, want ok", path, resp.Status)
		}
	}
}

func TestHandleMetrics(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHandleGetCart(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("GET", "/cart", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	v := decodeView(t, w)
	if !v.IsEmpty || v.Mode != cart.StateGuest || v.Cart == nil {
		t.Errorf("view = %+v", v)
	}
}

func TestHandleAddItem(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"valid", `{"productId": 3, "quantity": 2}`, http.StatusOK, ""},
		{"invalid json", `{not json`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing product", `{"quantity": 2}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"zero quantity", `{"productId": 3, "quantity": 0}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown product", `{"productId": 404, "quantity": 1}`, http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			w := env.do("POST", "/cart/items", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantErr != "" {
				if code := errorCode(w.Body.Bytes()); code != tt.wantErr {
					t.Errorf("error code = %q, want %q", code, tt.wantErr)
				}
				return
			}
			v := decodeView(t, w)
			if v.ItemCount != 2 || v.Total != 20 {
				t.Errorf("view = %+v, want 2 items totalling 20", v)
			}
		})
	}
}

func TestHandleUpdateItem(t *testing.T) {
	env := newTestEnv(t)
	env.do("POST", "/cart/items", `{"productId": 3, "quantity": 1}`)

	w := env.do("PUT", "/cart/items/3", `{"quantity": 5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d\nBody: %s", w.Code, w.Body.String())
	}
	if v := decodeView(t, w); v.ItemCount != 5 {
		t.Errorf("ItemCount = %d, want 5", v.ItemCount)
	}

	w = env.do("PUT", "/cart/items/3", `{"quantity": 0}`)
	if v := decodeView(t, w); !v.IsEmpty {
		t.Errorf("quantity 0 should remove the line: %+v", v)
	}

	w = env.do("PUT", "/cart/items/3", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing quantity status = %d, want 400", w.Code)
	}

	w = env.do("PUT", "/cart/items/abc", `{"quantity": 1}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad product id status = %d, want 400", w.Code)
	}
}

func TestHandleRemoveItem(t *testing.T) {
	env := newTestEnv(t)
	env.do("POST", "/cart/items", `{"productId": 3, "quantity": 1}`)
	env.do("POST", "/cart/items", `{"productId": 4, "quantity": 1}`)

	w := env.do("DELETE", "/cart/items/3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d\nBody: %s", w.Code, w.Body.String())
	}
	v := decodeView(t, w)
	if v.LineCount != 1 || v.Cart.FindLine(4) < 0 {
		t.Errorf("view = %+v, want only product 4", v)
	}

	// Removing again leaves the lines alone
	w = env.do("DELETE", "/cart/items/3", "")
	if v := decodeView(t, w); v.LineCount != 1 {
		t.Errorf("LineCount = %d, want 1", v.LineCount)
	}
}

func TestHandleClear(t *testing.T) {
	env := newTestEnv(t)
	env.do("POST", "/cart/items", `{"productId": 3, "quantity": 1}`)

	w := env.do("POST", "/cart/clear", "")
	if v := decodeView(t, w); !v.IsEmpty {
		t.Errorf("cart should be empty: %+v", v)
	}
}

func TestHandleCheckoutGate(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("GET", "/checkout/gate", "")
	if w.Code != http.StatusConflict || errorCode(w.Body.Bytes()) != "EMPTY_CART" {
		t.Errorf("empty cart: %d %s", w.Code, w.Body.String())
	}

	env.do("POST", "/cart/items", `{"productId": 3, "quantity": 1}`)
	w = env.do("GET", "/checkout/gate", "")
	if w.Code != http.StatusUnauthorized || errorCode(w.Body.Bytes()) != "NOT_AUTHENTICATED" {
		t.Errorf("guest: %d %s", w.Code, w.Body.String())
	}

	env.do("POST", "/session/login", `{"email": "ada@example.com", "password": "secret"}`)
	w = env.do("GET", "/checkout/gate", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("authenticated: %d %s", w.Code, w.Body.String())
	}
}

func TestHandleLogin(t *testing.T) {
	env := newTestEnv(t)
	env.do("POST", "/cart/items", `{"productId": 3, "quantity": 2}`)

	w := env.do("POST", "/session/login", `{"email": "ada@example.com", "password": "secret"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d\nBody: %s", w.Code, w.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.User.ID != 7 {
		t.Errorf("user id = %d, want 7", resp.User.ID)
	}
	if resp.Cart.Mode != cart.StateAuthenticated || resp.Cart.ItemCount != 2 {
		t.Errorf("cart = %+v, want merged authenticated cart", resp.Cart)
	}
	if idx := resp.Cart.Cart.FindLine(3); idx < 0 || resp.Cart.Cart.Items[idx].LineID == 0 {
		t.Error("merged line should carry a server line id")
	}
}

func TestHandleLogin_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"bad password", `{"email": "ada@example.com", "password": "nope"}`, http.StatusUnauthorized},
		{"invalid email", `{"email": "ada", "password": "secret"}`, http.StatusBadRequest},
		{"missing password", `{"email": "ada@example.com"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do("POST", "/session/login", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("Status = %d, want %d\nBody: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if env.engine.Mode() != cart.StateGuest {
				t.Error("failed login should leave the engine in guest mode")
			}
		})
	}
}

func TestHandleSession(t *testing.T) {
	env := newTestEnv(t)

	var resp sessionResponse
	w := env.do("GET", "/session", "")
	json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || resp.Authenticated || resp.User != nil {
		t.Errorf("guest session = %d %+v", w.Code, resp)
	}

	env.do("POST", "/session/login", `{"email": "ada@example.com", "password": "secret"}`)
	resp = sessionResponse{}
	w = env.do("GET", "/session", "")
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Authenticated || resp.User == nil || resp.User.ID != 7 {
		t.Errorf("authenticated session = %+v", resp)
	}
	if resp.Mode != cart.StateAuthenticated {
		t.Errorf("Mode = %s, want authenticated", resp.Mode)
	}
}

func TestHandleLogout(t *testing.T) {
	env := newTestEnv(t)
	env.do("POST", "/session/login", `{"email": "ada@example.com", "password": "secret"}`)
	env.do("POST", "/cart/items", `{"productId": 3, "quantity": 1}`)

	w := env.do("POST", "/session/logout", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("Status = %d, want 204", w.Code)
	}
	if !env.engine.IsEmpty() || env.engine.Mode() != cart.StateGuest {
		t.Error("logout should leave an empty guest cart")
	}
	if env.auth.logouts != 1 {
		t.Errorf("auth logouts = %d, want 1", env.auth.logouts)
	}
}

func TestHandleCheckout(t *testing.T) {
	env := newTestEnv(t)
	env.do("POST", "/session/login", `{"email": "ada@example.com", "password": "secret"}`)
	env.do("POST", "/cart/items", `{"productId": 3, "quantity": 2}`)

	w := env.do("POST", "/checkout/prepare", "")
	if w.Code != http.StatusOK {
		t.Fatalf("prepare status = %d\nBody: %s", w.Code, w.Body.String())
	}
	if v := decodeView(t, w); v.Total != 20 {
		t.Errorf("prepare total = %v, want 20", v.Total)
	}

	w = env.do("POST", "/checkout/complete", "")
	if v := decodeView(t, w); !v.IsEmpty {
		t.Errorf("cart should be empty after checkout: %+v", v)
	}
}

func TestHandlePrepareCheckout_Guest(t *testing.T) {
	env := newTestEnv(t)
	env.do("POST", "/cart/items", `{"productId": 3, "quantity": 2}`)

	w := env.do("POST", "/checkout/prepare", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", w.Code)
	}
}

func TestHandleAdminGetCart(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("GET", "/admin/carts/1", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("guest status = %d, want 401", w.Code)
	}

	env.do("POST", "/session/login", `{"email": "ada@example.com", "password": "secret"}`)
	w = env.do("GET", "/admin/carts/1", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("shopper status = %d, want 403", w.Code)
	}

	w = env.do("GET", "/admin/carts/0", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", w.Code)
	}
}

func TestWriteError_Unexpected(t *testing.T) {
	var buf bytes.Buffer
	h := New(nil, nil, slog.New(slog.NewTextHandler(&buf, nil)))

	w := httptest.NewRecorder()
	h.writeError(w, io.ErrUnexpectedEOF)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", w.Code)
	}
	if errorCode(w.Body.Bytes()) != "INTERNAL_ERROR" {
		t.Errorf("body = %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "unexpected EOF") {
		t.Error("internal error details leaked to client")
	}
	if !strings.Contains(buf.String(), "unexpected EOF") {
		t.Error("internal error should be logged")
	}
}
