// MCP transport for the cart daemon using the official MCP Go SDK.
// Exposes the cart operations an assistant needs as MCP tools.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront-cart/internal/model"
)

// === MCP Tool Input/Output Types ===

// GetCartInput is the input schema for get_cart.
type GetCartInput struct{}

// AddItemInput is the input schema for add_item.
type AddItemInput struct {
	ProductID int64 `json:"product_id" jsonschema:"product ID,required"`
	Quantity  int   `json:"quantity" jsonschema:"units to add (at least 1),required"`
}

// UpdateQuantityInput is the input schema for update_quantity.
type UpdateQuantityInput struct {
	ProductID int64 `json:"product_id" jsonschema:"product ID,required"`
	Quantity  int   `json:"quantity" jsonschema:"new quantity; 0 removes the line,required"`
}

// RemoveItemInput is the input schema for remove_item.
type RemoveItemInput struct {
	ProductID int64 `json:"product_id" jsonschema:"product ID,required"`
}

// ClearCartInput is the input schema for clear_cart.
type ClearCartInput struct{}

// CheckoutGateInput is the input schema for checkout_gate.
type CheckoutGateInput struct{}

// GateResult is the output of checkout_gate.
type GateResult struct {
	Ready   bool   `json:"ready"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewMCPServer creates an MCP server with the cart tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront-cart",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Storefront cart. Use these tools to inspect and change the shopper's cart " +
				"and to check whether checkout can start.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the current cart with item count and total.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_item",
		Description: "Add units of a product to the cart.",
	}, h.mcpAddItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_quantity",
		Description: "Set the quantity of a product in the cart. Quantity 0 removes it.",
	}, h.mcpUpdateQuantity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_item",
		Description: "Remove a product from the cart.",
	}, h.mcpRemoveItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_cart",
		Description: "Remove every product from the cart.",
	}, h.mcpClearCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "checkout_gate",
		Description: "Check whether the shopper can proceed to checkout.",
	}, h.mcpCheckoutGate)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetCart(ctx context.Context, req *mcp.CallToolRequest, input GetCartInput) (*mcp.CallToolResult, *CartView, error) {
	return nil, h.view(h.cart.Snapshot()), nil
}

func (h *Handler) mcpAddItem(ctx context.Context, req *mcp.CallToolRequest, input AddItemInput) (*mcp.CallToolResult, *CartView, error) {
	if input.ProductID <= 0 {
		return nil, nil, fmt.Errorf("product_id is required")
	}
	snap, err := h.cart.Add(ctx, input.ProductID, input.Quantity)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.view(snap), nil
}

func (h *Handler) mcpUpdateQuantity(ctx context.Context, req *mcp.CallToolRequest, input UpdateQuantityInput) (*mcp.CallToolResult, *CartView, error) {
	if input.ProductID <= 0 {
		return nil, nil, fmt.Errorf("product_id is required")
	}
	snap, err := h.cart.UpdateQuantity(ctx, input.ProductID, input.Quantity)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.view(snap), nil
}

func (h *Handler) mcpRemoveItem(ctx context.Context, req *mcp.CallToolRequest, input RemoveItemInput) (*mcp.CallToolResult, *CartView, error) {
	if input.ProductID <= 0 {
		return nil, nil, fmt.Errorf("product_id is required")
	}
	snap, err := h.cart.Remove(ctx, input.ProductID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.view(snap), nil
}

func (h *Handler) mcpClearCart(ctx context.Context, req *mcp.CallToolRequest, input ClearCartInput) (*mcp.CallToolResult, *CartView, error) {
	h.cart.Clear(ctx)
	return nil, h.view(h.cart.Snapshot()), nil
}

// mcpCheckoutGate reports a closed gate as a result, not a tool error.
func (h *Handler) mcpCheckoutGate(ctx context.Context, req *mcp.CallToolRequest, input CheckoutGateInput) (*mcp.CallToolResult, *GateResult, error) {
	err := h.cart.CanProceedToCheckout()
	if err == nil {
		return nil, &GateResult{Ready: true}, nil
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return nil, nil, h.mcpError(err)
	}
	return nil, &GateResult{Code: apiErr.Code, Message: apiErr.Message}, nil
}

// mcpError converts cart errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
