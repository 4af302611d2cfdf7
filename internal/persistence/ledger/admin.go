package ledger

import (
	"database/sql"
	"errors"
	"fmt"
)

// Admin/operator queries. These back cmd/admin; the server itself only uses
// the commit and load paths.

func (s *Store) GetSale(id string) (SaleRow, error) {
	var r SaleRow
	err := s.db.QueryRow(
		`SELECT id,buyer,link,COALESCE(alt_text,''),content_ref,price_cents,COALESCE(referral_code,''),
		        min_col,min_row,width,height,committed_at
		 FROM sales WHERE id=?`, id,
	).Scan(&r.ID, &r.Buyer, &r.Link, &r.AltText, &r.ContentRef, &r.PriceCents, &r.ReferralCode,
		&r.Bounds.MinCol, &r.Bounds.MinRow, &r.Bounds.Width, &r.Bounds.Height, &r.CommittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SaleRow{}, fmt.Errorf("sale %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return SaleRow{}, err
	}
	return r, nil
}

func (s *Store) ListSales() ([]SaleRow, error) {
	rows, err := s.db.Query(
		`SELECT id,buyer,link,COALESCE(alt_text,''),content_ref,price_cents,COALESCE(referral_code,''),
		        min_col,min_row,width,height,committed_at
		 FROM sales ORDER BY committed_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SaleRow
	for rows.Next() {
		var r SaleRow
		if err := rows.Scan(&r.ID, &r.Buyer, &r.Link, &r.AltText, &r.ContentRef, &r.PriceCents, &r.ReferralCode,
			&r.Bounds.MinCol, &r.Bounds.MinRow, &r.Bounds.Width, &r.Bounds.Height, &r.CommittedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetReferralActive toggles a code without touching its discount or counter.
func (s *Store) SetReferralActive(code string, active bool) error {
	res, err := s.db.Exec(`UPDATE referral_codes SET active=? WHERE code=?`, boolInt(active), code)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("referral code %q: %w", code, ErrNotFound)
	}
	return nil
}
