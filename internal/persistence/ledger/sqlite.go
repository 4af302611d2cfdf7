// Package ledger is the durable record of committed sales and referral
// codes. The cells table's (col,row) primary key backs the no-overlap
// invariant at rest: a conflicting insert cannot commit.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"solgrid/internal/grid"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

// SaleRow is one committed sale as stored. Immutable after insert except for
// the content_ref replacement path.
type SaleRow struct {
	ID           string
	Buyer        string
	Link         string
	AltText      string
	ContentRef   string
	PriceCents   int64
	ReferralCode string
	Bounds       grid.Bounds
	CommittedAt  string
}

// SaleRecord is a sale together with its cells, as loaded at startup.
type SaleRecord struct {
	Sale  SaleRow
	Cells []grid.Cell
}

// ReferralRow mirrors the referral_codes table. Codes are stored canonical
// (uppercase); usage counting is a commutative increment.
type ReferralRow struct {
	Code            string
	DiscountPercent float64
	BlocksReferred  int64
	Active          bool
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL keeps commit latency low; FULL because the ledger is the source
	// of truth, not a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			buyer TEXT NOT NULL,
			link TEXT NOT NULL,
			alt_text TEXT,
			content_ref TEXT NOT NULL,
			price_cents INTEGER NOT NULL,
			referral_code TEXT,
			min_col INTEGER NOT NULL,
			min_row INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			committed_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cells (
			col INTEGER NOT NULL,
			row INTEGER NOT NULL,
			sale_id TEXT NOT NULL REFERENCES sales(id),
			PRIMARY KEY (col, row)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cells_sale ON cells(sale_id);`,
		`CREATE TABLE IF NOT EXISTS referral_codes (
			code TEXT PRIMARY KEY,
			discount_percent REAL NOT NULL,
			blocks_referred INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// CommitSale inserts the sale and all of its cells in one transaction. If any
// cell is already owned the transaction fails and nothing is recorded.
func (s *Store) CommitSale(sale SaleRow, cells []grid.Cell) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT INTO sales(id,buyer,link,alt_text,content_ref,price_cents,referral_code,min_col,min_row,width,height,committed_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		sale.ID, sale.Buyer, sale.Link, sale.AltText, sale.ContentRef, sale.PriceCents,
		nullable(sale.ReferralCode),
		sale.Bounds.MinCol, sale.Bounds.MinRow, sale.Bounds.Width, sale.Bounds.Height,
		sale.CommittedAt,
	); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO cells(col,row,sale_id) VALUES(?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range cells {
		if _, err := stmt.Exec(c.Col, c.Row, sale.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadSales returns every committed sale with its cells, oldest first. Used
// to rebuild the in-memory grid on startup.
func (s *Store) LoadSales() ([]SaleRecord, error) {
	rows, err := s.db.Query(
		`SELECT id,buyer,link,COALESCE(alt_text,''),content_ref,price_cents,COALESCE(referral_code,''),
		        min_col,min_row,width,height,committed_at
		 FROM sales ORDER BY committed_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []SaleRecord
	byID := map[string]int{}
	for rows.Next() {
		var r SaleRow
		if err := rows.Scan(&r.ID, &r.Buyer, &r.Link, &r.AltText, &r.ContentRef, &r.PriceCents, &r.ReferralCode,
			&r.Bounds.MinCol, &r.Bounds.MinRow, &r.Bounds.Width, &r.Bounds.Height, &r.CommittedAt); err != nil {
			return nil, err
		}
		byID[r.ID] = len(recs)
		recs = append(recs, SaleRecord{Sale: r})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := s.db.Query(`SELECT col,row,sale_id FROM cells ORDER BY row,col`)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var c grid.Cell
		var saleID string
		if err := crows.Scan(&c.Col, &c.Row, &saleID); err != nil {
			return nil, err
		}
		i, ok := byID[saleID]
		if !ok {
			return nil, fmt.Errorf("cell %s references unknown sale %s", c, saleID)
		}
		recs[i].Cells = append(recs[i].Cells, c)
	}
	if err := crows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// UpdateContentRef replaces a committed sale's content reference. Ownership,
// price and cells are untouched.
func (s *Store) UpdateContentRef(saleID, contentRef string) error {
	res, err := s.db.Exec(`UPDATE sales SET content_ref=? WHERE id=?`, contentRef, saleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sale %s: %w", saleID, ErrNotFound)
	}
	return nil
}

// ReferralLookup fetches one code. The caller canonicalizes; codes are stored
// uppercase. Read-only: checking a code never mutates usage counters.
func (s *Store) ReferralLookup(code string) (ReferralRow, error) {
	var r ReferralRow
	var active int
	err := s.db.QueryRow(
		`SELECT code,discount_percent,blocks_referred,active FROM referral_codes WHERE code=?`,
		code,
	).Scan(&r.Code, &r.DiscountPercent, &r.BlocksReferred, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return ReferralRow{}, fmt.Errorf("referral code %q: %w", code, ErrNotFound)
	}
	if err != nil {
		return ReferralRow{}, err
	}
	r.Active = active != 0
	return r, nil
}

// ReferralAddBlocks atomically bumps a code's referred-block counter. The
// UPDATE is commutative, so concurrent referrers for the same code are safe.
func (s *Store) ReferralAddBlocks(code string, blocks int) error {
	res, err := s.db.Exec(
		`UPDATE referral_codes SET blocks_referred = blocks_referred + ? WHERE code=?`,
		blocks, code,
	)
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

// UpsertReferralCode provisions or updates a code (admin path). The counter
// is preserved on update.
func (s *Store) UpsertReferralCode(code string, discountPercent float64, active bool) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return fmt.Errorf("empty referral code")
	}
	_, err := s.db.Exec(
		`INSERT INTO referral_codes(code,discount_percent,active) VALUES(?,?,?)
		 ON CONFLICT(code) DO UPDATE SET discount_percent=excluded.discount_percent, active=excluded.active`,
		code, discountPercent, boolInt(active),
	)
	return err
}

func (s *Store) ListReferralCodes() ([]ReferralRow, error) {
	rows, err := s.db.Query(`SELECT code,discount_percent,blocks_referred,active FROM referral_codes ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReferralRow
	for rows.Next() {
		var r ReferralRow
		var active int
		if err := rows.Scan(&r.Code, &r.DiscountPercent, &r.BlocksReferred, &active); err != nil {
			return nil, err
		}
		r.Active = active != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
