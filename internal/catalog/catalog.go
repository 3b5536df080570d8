// Package catalog looks up product details for guest cart lines.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru"

	"storefront-cart/internal/model"
)

// DefaultCacheSize bounds the number of cached products.
const DefaultCacheSize = 512

// Client fetches products from GET /products/{id}. Successful lookups are
// cached; prices are snapshotted into the line at add time anyway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cache      *lru.ARCCache
}

// New creates a catalog client. cacheSize <= 0 uses DefaultCacheSize.
func New(httpClient *http.Client, baseURL string, cacheSize int) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.NewARC(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating product cache: %w", err)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		cache:      cache,
	}, nil
}

// Product returns the catalog entry for id. The returned value is a copy.
func (c *Client) Product(ctx context.Context, id int64) (*model.Product, error) {
	if v, ok := c.cache.Get(id); ok {
		p := v.(model.Product)
		return &p, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/products/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, fmt.Errorf("creating product request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewTransientError("catalog", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewTransientError("catalog", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, model.NewNotFoundError(fmt.Sprintf("product %d", id))
	case resp.StatusCode >= 400:
		return nil, model.NewTransientError("catalog", fmt.Errorf("status %d", resp.StatusCode))
	}

	var p model.Product
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, model.NewTransientError("catalog", fmt.Errorf("parsing product: %w", err))
	}
	if p.ID == 0 {
		p.ID = id
	}

	c.cache.Add(id, p)
	return &p, nil
}

// Purge drops every cached product.
func (c *Client) Purge() {
	c.cache.Purge()
}
