package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew_AddsHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := &http.Client{Transport: New(Options{
		Timeout:      time.Second,
		ClientHeader: `name="cartd", version="1.0.0"`,
		Token:        func() string { return "tok-123" },
	})}

	resp, err := client.Get(server.URL + "/carts")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if got.Get("Storefront-Client") != `name="cartd", version="1.0.0"` {
		t.Errorf("Storefront-Client = %q", got.Get("Storefront-Client"))
	}
	if got.Get("Authorization") != "Bearer tok-123" {
		t.Errorf("Authorization = %q", got.Get("Authorization"))
	}
	if got.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q", got.Get("Accept"))
	}
}

func TestNew_EmptyTokenOmitsAuthorization(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer server.Close()

	client := &http.Client{Transport: New(Options{
		Timeout: time.Second,
		Token:   func() string { return "" },
	})}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if got.Get("Authorization") != "" {
		t.Errorf("Authorization = %q, want empty", got.Get("Authorization"))
	}
}

func TestHeaderTransport_DoesNotMutateRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	rt := New(Options{Timeout: time.Second, ClientHeader: `name="cartd"`})
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	resp.Body.Close()

	if req.Header.Get("Storefront-Client") != "" {
		t.Error("RoundTrip modified the caller's request")
	}
}

func TestChromeTransport_PlainHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &http.Client{Transport: New(Options{Timeout: time.Second, ChromeTLS: true})}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
