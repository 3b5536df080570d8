// Package model defines the cart data structures shared by the engine,
// the guest store, the backend gateway and the local API.
package model

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/tiendc/go-deepcopy"
)

// CartSnapshot is one complete value of the cart at a point in time.
// JSON field names follow the backend cart DTO so the same shape is used
// on the wire, in the guest store and on the local API.
type CartSnapshot struct {
	OwnerID    int64      `json:"userId"`     // 0 for guest carts
	CartID     int64      `json:"cartId"`     // 0 until persisted server-side
	Items      []CartLine `json:"cartItems"`
	TotalPrice float64    `json:"totalPrice"` // advisory until confirmed by the server
}

// CartLine is a single product entry in a cart.
// ProductName and UnitPrice are denormalized at add time and are nullable on
// the wire; a visible line must carry both.
type CartLine struct {
	LineID      int64    `json:"cartItemId"` // 0 for lines not yet persisted server-side
	ProductID   int64    `json:"productId"`
	Quantity    int      `json:"quantity"`
	ProductName *string  `json:"productName" validate:"required"`
	UnitPrice   *float64 `json:"price" validate:"required"`
	Image       string   `json:"image,omitempty"`
	Subtotal    float64  `json:"subtotal"`
}

// Identity is the canonical shape of an authenticated shopper.
// Produced once at login and carried through unchanged.
type Identity struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == "admin"
}

// Product is the subset of catalog data a guest cart line snapshots.
type Product struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Image string  `json:"image"`
}

// NewLine builds an unpersisted cart line from catalog data.
func NewLine(p *Product, quantity int) CartLine {
	name := p.Name
	price := p.Price
	return CartLine{
		ProductID:   p.ID,
		Quantity:    quantity,
		ProductName: &name,
		UnitPrice:   &price,
		Image:       p.Image,
	}
}

// EmptyCart returns an anonymous cart with no lines.
func EmptyCart() *CartSnapshot {
	return &CartSnapshot{Items: []CartLine{}}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func lineValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks that every line carries its denormalized product fields.
// A nil Items slice is normalized to empty.
func (s *CartSnapshot) Validate() error {
	if s.Items == nil {
		s.Items = []CartLine{}
	}
	for i := range s.Items {
		if err := lineValidator().Struct(&s.Items[i]); err != nil {
			return NewValidationError("cart_item",
				fmt.Sprintf("productId %d missing price or name", s.Items[i].ProductID))
		}
	}
	return nil
}

// Recalculate recomputes every line subtotal and the cart total.
// Fails without touching the snapshot if any line is invalid, so a wrong
// total is never computed silently.
func (s *CartSnapshot) Recalculate() error {
	if err := s.Validate(); err != nil {
		return err
	}
	var total int64
	for i := range s.Items {
		line := &s.Items[i]
		sub := ToCents(*line.UnitPrice) * int64(line.Quantity)
		line.Subtotal = FromCents(sub)
		total += sub
	}
	s.TotalPrice = FromCents(total)
	return nil
}

// Clone returns a deep copy so observers never share memory with the
// engine's canonical snapshot.
func (s *CartSnapshot) Clone() *CartSnapshot {
	if s == nil {
		return nil
	}
	out := &CartSnapshot{}
	if err := deepcopy.Copy(out, s); err != nil {
		return s.copyLines()
	}
	if out.Items == nil {
		out.Items = []CartLine{}
	}
	return out
}

// copyLines is the manual fallback for Clone.
func (s *CartSnapshot) copyLines() *CartSnapshot {
	out := &CartSnapshot{
		OwnerID:    s.OwnerID,
		CartID:     s.CartID,
		TotalPrice: s.TotalPrice,
		Items:      make([]CartLine, len(s.Items)),
	}
	for i, line := range s.Items {
		if line.ProductName != nil {
			name := *line.ProductName
			line.ProductName = &name
		}
		if line.UnitPrice != nil {
			price := *line.UnitPrice
			line.UnitPrice = &price
		}
		out.Items[i] = line
	}
	return out
}

// FindLine returns the index of the line for productID, or -1.
func (s *CartSnapshot) FindLine(productID int64) int {
	for i := range s.Items {
		if s.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// ItemCount is the sum of line quantities.
func (s *CartSnapshot) ItemCount() int {
	n := 0
	for _, line := range s.Items {
		n += line.Quantity
	}
	return n
}

// LineCount is the number of distinct lines.
func (s *CartSnapshot) LineCount() int {
	return len(s.Items)
}

// IsEmpty reports whether the cart has no lines.
func (s *CartSnapshot) IsEmpty() bool {
	return len(s.Items) == 0
}
