package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"storefront-cart/internal/negotiation"
)

// daemonError is a non-2xx response from cartd.
type daemonError struct {
	Status  int
	Code    string
	Message string
}

func (e *daemonError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// client calls the cartd local API.
type client struct {
	baseURL      string
	http         *http.Client
	clientHeader string
}

func newClient(baseURL string, timeout time.Duration) (*client, error) {
	header, err := negotiation.FormatClientHeader(negotiation.ClientInfo{
		Name:    "cartctl",
		Version: negotiation.LocalAPIVersion,
	})
	if err != nil {
		return nil, err
	}
	return &client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		http:         &http.Client{Timeout: timeout},
		clientHeader: header,
	}, nil
}

func (c *client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(negotiation.ClientHeaderName, c.clientHeader)
	return req, nil
}

// do sends a request and decodes a successful response into out when out
// is non-nil. Error bodies are decoded into *daemonError.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if verbose {
		printResponse(method, path, resp.StatusCode, respBody, time.Since(start))
	}

	if resp.StatusCode >= 400 {
		derr := &daemonError{Status: resp.StatusCode}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &envelope) == nil {
			derr.Code = envelope.Error.Code
			derr.Message = envelope.Error.Message
		}
		return derr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// stream opens the cart event stream. The caller closes the body.
func (c *client) stream(ctx context.Context) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/cart/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the request timeout
	streaming := &http.Client{Transport: c.http.Transport}
	resp, err := streaming.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &daemonError{Status: resp.StatusCode}
	}
	return resp.Body, nil
}
