package model

import (
	"math"
)

// ToCents converts a major-unit amount (e.g. 19.99) to minor units.
// Totals are summed in cents so repeated float additions don't drift.
// Examples: 19.99 → 1999, 10 → 1000, 0.1+0.2 → 30
func ToCents(amount float64) int64 {
	// math.Round handles both positive and negative numbers correctly
	return int64(math.Round(amount * 100))
}

// FromCents converts minor units back to a major-unit amount.
func FromCents(cents int64) float64 {
	return float64(cents) / 100
}
