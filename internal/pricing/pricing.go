// Package pricing computes block prices in integer cents. The price of the
// k-th block ever sold (1-indexed) is base + step*(k-1): a strictly
// increasing arithmetic sequence that never resets.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"solgrid/internal/grid"
)

const (
	// DefaultBaseCents is the price of the first block (1.00).
	DefaultBaseCents = 100
	// DefaultStepCents is the per-block increment (0.02).
	DefaultStepCents = 2
)

var ErrInvalidRequest = errors.New("invalid quote request")

// Schedule prices blocks against a running sold count.
type Schedule struct {
	BaseCents int64
	StepCents int64
}

func Default() Schedule {
	return Schedule{BaseCents: DefaultBaseCents, StepCents: DefaultStepCents}
}

// BlockCents returns the price of the k-th block sold, 1-indexed.
func (s Schedule) BlockCents(k int) int64 {
	return s.BaseCents + s.StepCents*int64(k-1)
}

// Quote returns the total cents for blocks soldCount+1 .. soldCount+n as a
// closed-form arithmetic-series sum (no per-block loop).
func (s Schedule) Quote(soldCount, n int) (int64, error) {
	if n <= 0 || soldCount < 0 {
		return 0, fmt.Errorf("%w: sold=%d n=%d", ErrInvalidRequest, soldCount, n)
	}
	if soldCount+n > grid.Capacity {
		return 0, fmt.Errorf("%w: %d blocks exceed capacity %d", ErrInvalidRequest, soldCount+n, grid.Capacity)
	}
	m := int64(n)
	// sum over k in [soldCount+1, soldCount+n] of base + step*(k-1)
	return m*s.BaseCents + s.StepCents*(int64(soldCount)*m+m*(m-1)/2), nil
}

// ApplyDiscount applies a percentage discount to a total, rounding to whole
// cents exactly once, after the discount.
func ApplyDiscount(totalCents int64, discountPercent float64) int64 {
	if discountPercent <= 0 {
		return totalCents
	}
	if discountPercent >= 100 {
		return 0
	}
	return int64(math.Round(float64(totalCents) * (100 - discountPercent) / 100))
}

// FormatCents renders cents as a decimal currency string, e.g. 306 -> "3.06".
func FormatCents(c int64) string {
	neg := ""
	if c < 0 {
		neg = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", neg, c/100, c%100)
}
