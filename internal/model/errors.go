package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these, or Classify() to switch on a Kind.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTransient        = errors.New("transient failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrEmptyCart        = errors.New("cart is empty")
)

// APIError represents a structured error for API responses.
// Implements error interface and supports unwrapping.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // HTTP status, not serialized
	Err        error  `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: 404,
		Err:        ErrNotFound,
	}
}

// NewValidationError creates a 400 error for invalid input or invalid cart data.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: 400,
		Err:        ErrInvalidRequest,
	}
}

// NewUnauthorizedError creates a 401 error for an invalid or expired session.
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    reason,
		StatusCode: 401,
		Err:        ErrUnauthorized,
	}
}

// NewForbiddenError creates a 403 error for a valid session lacking a role.
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:       "FORBIDDEN",
		Message:    reason,
		StatusCode: 403,
		Err:        ErrUnauthorized,
	}
}

// NewTransientError creates a 502 error for backend or network failures
// not related to authentication.
func NewTransientError(service string, err error) *APIError {
	return &APIError{
		Code:       "TRANSIENT_ERROR",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: 502,
		Err:        fmt.Errorf("%w: %v", ErrTransient, err),
	}
}

// NewRateLimitError creates a 429 error for rate limiting.
// Rate limiting is classified as transient.
func NewRateLimitError(service string) *APIError {
	return &APIError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("%s rate limit exceeded, please retry later", service),
		StatusCode: 429,
		Err:        fmt.Errorf("%w: %w", ErrTransient, ErrRateLimited),
	}
}

// NewNotAuthenticatedError is the checkout gate failure for guests.
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:       "NOT_AUTHENTICATED",
		Message:    "user must be logged in to proceed to checkout",
		StatusCode: 401,
		Err:        ErrNotAuthenticated,
	}
}

// NewEmptyCartError is the checkout gate failure for an empty cart.
func NewEmptyCartError() *APIError {
	return &APIError{
		Code:       "EMPTY_CART",
		Message:    "cart has no items",
		StatusCode: 409,
		Err:        ErrEmptyCart,
	}
}

// NewInternalError creates a 500 error for unexpected failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: 500,
		Err:        err,
	}
}

// Kind is the coarse classification the engine switches on.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthorized
	KindTransient
	KindValidation
	KindNotFound
	KindNotAuthenticated
	KindEmptyCart
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindNotAuthenticated:
		return "not_authenticated"
	case KindEmptyCart:
		return "empty_cart"
	default:
		return "unknown"
	}
}

// Classify maps an error chain onto a Kind. nil maps to KindUnknown.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrTransient), errors.Is(err, ErrRateLimited):
		return KindTransient
	case errors.Is(err, ErrInvalidRequest):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotAuthenticated):
		return KindNotAuthenticated
	case errors.Is(err, ErrEmptyCart):
		return KindEmptyCart
	default:
		return KindUnknown
	}
}
