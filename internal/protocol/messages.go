package protocol

import "solgrid/internal/grid"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name,omitempty"`
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SessionID       string     `json:"session_id"`
	Grid            GridParams `json:"grid"`
	SoldCount       int        `json:"sold_count"`
	Cursor          uint64     `json:"cursor"`
}

type GridParams struct {
	Size           int   `json:"size"`
	Capacity       int   `json:"capacity"`
	BasePriceCents int64 `json:"base_price_cents"`
	StepCents      int64 `json:"step_cents"`
}

// Placement is one committed sale as it appears on the canvas. Carried in
// SNAPSHOT, EVENT and PURCHASE_RES. The full cell list lets a client drop
// newly-sold cells from its own pending selection.
type Placement struct {
	SaleID       string      `json:"sale_id"`
	Buyer        string      `json:"buyer"`
	Cells        []grid.Cell `json:"cells"`
	Bounds       grid.Bounds `json:"bounds"`
	Link         string      `json:"link"`
	AltText      string      `json:"alt_text,omitempty"`
	ContentRef   string      `json:"content_ref"`
	PriceCents   int64       `json:"price_cents"`
	ReferralCode string      `json:"referral_code,omitempty"`
	CommittedAt  string      `json:"committed_at"`
}

// SNAPSHOT_REQ (client -> server)
type SnapshotReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
}

// SNAPSHOT (server -> client): the full authoritative occupancy view.
// Consumers replace (or set-union) their local mirror with this; it is the
// reconciliation mechanism for missed events.
type SnapshotMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ReqID           string      `json:"req_id,omitempty"`
	Placements      []Placement `json:"placements"`
	SoldCount       int         `json:"sold_count"`
	Cursor          uint64      `json:"cursor"`
}

// QUOTE_REQ (client -> server)
type QuoteReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Blocks          int    `json:"blocks"`
	ReferralCode    string `json:"referral_code,omitempty"`
}

// QUOTE_RES (server -> client). The quote is informational only: commit
// re-derives the price from the authoritative sold count.
type QuoteResMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ReqID           string     `json:"req_id"`
	Accepted        bool       `json:"accepted"`
	Code            string     `json:"code,omitempty"`
	Message         string     `json:"message,omitempty"`
	Quote           *QuoteBody `json:"quote,omitempty"`
}

// QuoteBody describes an arithmetic per-block schedule by its endpoints.
type QuoteBody struct {
	SoldCount       int     `json:"sold_count"`
	Blocks          int     `json:"blocks"`
	FirstBlockCents int64   `json:"first_block_cents"`
	LastBlockCents  int64   `json:"last_block_cents"`
	TotalCents      int64   `json:"total_cents"`
	DiscountPercent float64 `json:"discount_percent,omitempty"`
	DiscountedCents int64   `json:"discounted_cents"`
}

// VALIDATE_REQ (client -> server)
type ValidateReqMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ReqID           string      `json:"req_id"`
	Cells           []grid.Cell `json:"cells"`
}

// VALIDATE_RES (server -> client)
type ValidateResMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	ReqID           string       `json:"req_id"`
	Accepted        bool         `json:"accepted"`
	Code            string       `json:"code,omitempty"`
	Message         string       `json:"message,omitempty"`
	Bounds          *grid.Bounds `json:"bounds,omitempty"`
	Cells           []grid.Cell  `json:"cells,omitempty"` // occupied cells on E_OCCUPIED
}

// PaymentProof is the already-verified receipt from the payment collaborator.
// The committer trusts it as settled but still requires the amount to match
// the authoritative price.
type PaymentProof struct {
	Reference   string `json:"reference"`
	Buyer       string `json:"buyer"`
	AmountCents int64  `json:"amount_cents"`
}

// PURCHASE_REQ (client -> server)
type PurchaseReqMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	ReqID           string       `json:"req_id"`
	Cells           []grid.Cell  `json:"cells"`
	Link            string       `json:"link"`
	AltText         string       `json:"alt_text,omitempty"`
	ContentRef      string       `json:"content_ref"`
	ReferralCode    string       `json:"referral_code,omitempty"`
	Payment         PaymentProof `json:"payment"`
}

// PURCHASE_RES (server -> client)
type PurchaseResMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ReqID           string      `json:"req_id"`
	Accepted        bool        `json:"accepted"`
	Code            string      `json:"code,omitempty"`
	Message         string      `json:"message,omitempty"`
	Sale            *Placement  `json:"sale,omitempty"`
	Conflict        []grid.Cell `json:"conflict,omitempty"`       // cells lost to another buyer
	ExpectedCents   int64       `json:"expected_cents,omitempty"` // set on E_PAYMENT_MISMATCH
}

// EVENT (server -> all clients): one committed sale, in commit order.
type EventMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Cursor          uint64    `json:"cursor"`
	Sale            Placement `json:"sale"`
}

// EVENT_BATCH_REQ (client -> server)
type EventBatchReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	SinceCursor     uint64 `json:"since_cursor"`
	Limit           int    `json:"limit,omitempty"`
}

type EventBatchItem struct {
	Cursor uint64    `json:"cursor"`
	Sale   Placement `json:"sale"`
}

// EVENT_BATCH (server -> client)
type EventBatchMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	ReqID           string           `json:"req_id"`
	Events          []EventBatchItem `json:"events"`
	NextCursor      uint64           `json:"next_cursor"`
}
