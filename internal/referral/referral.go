// Package referral resolves discount codes. Checking a code is read-only and
// idempotent; only a successful purchase records usage, and a failure to
// record usage never invalidates the sale.
package referral

import (
	"fmt"
	"strings"

	"solgrid/internal/persistence/ledger"
)

// Store is the authoritative code store (the sqlite ledger in production).
type Store interface {
	ReferralLookup(code string) (ledger.ReferralRow, error)
	ReferralAddBlocks(code string, blocks int) error
}

// Discount is the result of a successful code check.
type Discount struct {
	Code    string
	Percent float64
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Canonicalize normalizes a code for lookup and storage. Codes are
// case-insensitive; the canonical form is uppercase.
func Canonicalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Check resolves a code to its discount. Inactive codes are reported the same
// as unknown ones. No side effects; safe to call repeatedly.
func (r *Resolver) Check(code string) (Discount, error) {
	canon := Canonicalize(code)
	if canon == "" {
		return Discount{}, fmt.Errorf("referral code %q: %w", code, ledger.ErrNotFound)
	}
	row, err := r.store.ReferralLookup(canon)
	if err != nil {
		return Discount{}, err
	}
	if !row.Active {
		return Discount{}, fmt.Errorf("referral code %q: %w", canon, ledger.ErrNotFound)
	}
	return Discount{Code: row.Code, Percent: row.DiscountPercent}, nil
}

// RecordUsage bumps the code's referred-block counter after a committed sale.
// The increment is commutative; concurrent buyers using the same code are
// safe in any order.
func (r *Resolver) RecordUsage(code string, blocks int) error {
	canon := Canonicalize(code)
	if canon == "" || blocks <= 0 {
		return fmt.Errorf("record usage: bad input code=%q blocks=%d", code, blocks)
	}
	return r.store.ReferralAddBlocks(canon, blocks)
}
