package market

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"solgrid/internal/grid"
	"solgrid/internal/persistence/ledger"
	"solgrid/internal/pricing"
	"solgrid/internal/protocol"
)

func (m *Market) handleQuote(req QuoteRequest) protocol.QuoteResMsg {
	res := protocol.QuoteResMsg{
		Type:            protocol.TypeQuoteRes,
		ProtocolVersion: protocol.Version,
	}
	total, err := m.cfg.Pricing.Quote(m.soldCount, req.Blocks)
	if err != nil {
		res.Code = protocol.ErrInvalidRequest
		res.Message = err.Error()
		return res
	}
	q := protocol.QuoteBody{
		SoldCount:       m.soldCount,
		Blocks:          req.Blocks,
		FirstBlockCents: m.cfg.Pricing.BlockCents(m.soldCount + 1),
		LastBlockCents:  m.cfg.Pricing.BlockCents(m.soldCount + req.Blocks),
		TotalCents:      total,
		DiscountedCents: total,
	}
	if req.ReferralCode != "" {
		disc, err := m.referral.Check(req.ReferralCode)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				res.Code = protocol.ErrCodeNotFound
				res.Message = err.Error()
			} else {
				m.log.Printf("referral check: %v", err)
				res.Code = protocol.ErrInternal
				res.Message = "referral lookup failed"
			}
			return res
		}
		q.DiscountPercent = disc.Percent
		q.DiscountedCents = pricing.ApplyDiscount(total, disc.Percent)
	}
	res.Accepted = true
	res.Quote = &q
	return res
}

func (m *Market) handleValidate(req ValidateRequest) protocol.ValidateResMsg {
	res := protocol.ValidateResMsg{
		Type:            protocol.TypeValidateRes,
		ProtocolVersion: protocol.Version,
	}
	bounds, err := grid.Validate(req.Cells, m.occupied)
	if err != nil {
		res.Code, res.Message, res.Cells = validationCode(err)
		return res
	}
	res.Accepted = true
	res.Bounds = &bounds
	return res
}

// handlePurchase is the atomic commit: re-validate against the live grid,
// re-derive the price from the authoritative sold count, match the payment,
// write the ledger, then mark cells and notify. The run loop serializes all
// of this, so two racing buyers for overlapping cells cannot both pass.
func (m *Market) handlePurchase(req PurchaseRequest) protocol.PurchaseResMsg {
	res := protocol.PurchaseResMsg{
		Type:            protocol.TypePurchaseRes,
		ProtocolVersion: protocol.Version,
	}
	reject := func(code, msg string) protocol.PurchaseResMsg {
		res.Code = code
		res.Message = msg
		m.auditReject(req, code, msg)
		return res
	}

	if req.Link == "" || req.ContentRef == "" || req.Payment.Buyer == "" {
		return reject(protocol.ErrBadRequest, "link, content_ref and payment.buyer are required")
	}

	cells := grid.Dedup(req.Cells)
	bounds, err := grid.Validate(cells, m.occupied)
	if err != nil {
		var occ *grid.OccupiedError
		switch {
		case errors.As(err, &occ):
			// At commit time a sold cell is a lost race, not a bad request.
			res.Conflict = occ.Cells
			return reject(protocol.ErrConflict, occ.Error())
		default:
			code, msg, _ := validationCode(err)
			return reject(code, msg)
		}
	}

	total, err := m.cfg.Pricing.Quote(m.soldCount, len(cells))
	if err != nil {
		// All cells are free and distinct, so only capacity can trip this.
		return reject(protocol.ErrCapacity, err.Error())
	}

	due := total
	code := ""
	if req.ReferralCode != "" {
		disc, err := m.referral.Check(req.ReferralCode)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return reject(protocol.ErrCodeNotFound, err.Error())
			}
			m.log.Printf("referral check: %v", err)
			return reject(protocol.ErrInternal, "referral lookup failed")
		}
		code = disc.Code
		due = pricing.ApplyDiscount(total, disc.Percent)
	}

	if req.Payment.AmountCents != due {
		res.ExpectedCents = due
		return reject(protocol.ErrPaymentMismatch,
			"payment amount "+pricing.FormatCents(req.Payment.AmountCents)+" != due "+pricing.FormatCents(due))
	}

	sale := ledger.SaleRow{
		ID:           uuid.NewString(),
		Buyer:        req.Payment.Buyer,
		Link:         req.Link,
		AltText:      req.AltText,
		ContentRef:   req.ContentRef,
		PriceCents:   due,
		ReferralCode: code,
		Bounds:       bounds,
		CommittedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := m.ledger.CommitSale(sale, cells); err != nil {
		m.log.Printf("ledger commit %s: %v", sale.ID, err)
		return reject(protocol.ErrInternal, "commit failed")
	}

	// The write is durable; now, and only now, mutate the in-memory grid and
	// emit exactly one event.
	for _, c := range cells {
		m.owner[c] = sale.ID
	}
	m.soldCount += len(cells)
	p := placementFromRow(sale, cells)
	m.sales[sale.ID] = p
	m.order = append(m.order, sale.ID)

	m.publish(p)
	m.auditAccept(req, p)

	if code != "" {
		if err := m.referral.RecordUsage(code, len(cells)); err != nil {
			// Bookkeeping only; the sale stands.
			m.log.Printf("record referral usage %s (+%d): %v", code, len(cells), err)
		}
	}

	res.Accepted = true
	res.Sale = &p
	return res
}

func validationCode(err error) (code, msg string, cells []grid.Cell) {
	var occ *grid.OccupiedError
	switch {
	case errors.Is(err, grid.ErrEmpty):
		return protocol.ErrEmptySelection, err.Error(), nil
	case errors.As(err, &occ):
		return protocol.ErrOccupied, err.Error(), occ.Cells
	case errors.Is(err, grid.ErrDisconnected):
		return protocol.ErrDisconnected, err.Error(), nil
	default:
		return protocol.ErrBadRequest, err.Error(), nil
	}
}
