package market

import (
	"encoding/json"

	"solgrid/internal/protocol"
)

// publish appends a committed sale to the replay journal and fans it out to
// every connected observer. Delivery is best-effort per client: a full queue
// drops the frame and the client reconciles from a snapshot or EVENT_BATCH.
func (m *Market) publish(p protocol.Placement) {
	m.cursor++
	item := protocol.EventBatchItem{Cursor: m.cursor, Sale: p}
	m.journal = append(m.journal, item)
	if m.cfg.JournalLimit > 0 && len(m.journal) > m.cfg.JournalLimit {
		m.journal = m.journal[len(m.journal)-m.cfg.JournalLimit:]
	}

	ev := protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Cursor:          m.cursor,
		Sale:            p,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		m.log.Printf("marshal event %d: %v", m.cursor, err)
		return
	}
	for id, cl := range m.clients {
		select {
		case cl.out <- b:
		default:
			cl.dropped++
			if cl.dropped == 1 || cl.dropped%100 == 0 {
				m.log.Printf("client %s slow: dropped %d event(s)", id, cl.dropped)
			}
		}
	}
}

func (m *Market) handleEventBatch(req EventBatchRequest) protocol.EventBatchMsg {
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	res := protocol.EventBatchMsg{
		Type:            protocol.TypeEventBatch,
		ProtocolVersion: protocol.Version,
		Events:          []protocol.EventBatchItem{},
		NextCursor:      req.SinceCursor,
	}
	for _, item := range m.journal {
		if item.Cursor <= req.SinceCursor {
			continue
		}
		res.Events = append(res.Events, item)
		res.NextCursor = item.Cursor
		if len(res.Events) >= limit {
			break
		}
	}
	if len(res.Events) == 0 {
		res.NextCursor = m.cursor
	}
	return res
}

// Audit records. The sqlite ledger is the source of truth; these go to the
// compressed JSONL sales log when one is attached.

type commitAudit struct {
	Outcome   string              `json:"outcome"` // "ACCEPTED" or "REJECTED"
	Code      string              `json:"code,omitempty"`
	Message   string              `json:"message,omitempty"`
	Buyer     string              `json:"buyer,omitempty"`
	Blocks    int                 `json:"blocks"`
	SoldCount int                 `json:"sold_count"`
	Cursor    uint64              `json:"cursor,omitempty"`
	Sale      *protocol.Placement `json:"sale,omitempty"`
}

func (m *Market) auditAccept(req PurchaseRequest, p protocol.Placement) {
	if m.salesLog == nil {
		return
	}
	err := m.salesLog.Write(commitAudit{
		Outcome:   "ACCEPTED",
		Buyer:     req.Payment.Buyer,
		Blocks:    len(p.Cells),
		SoldCount: m.soldCount,
		Cursor:    m.cursor,
		Sale:      &p,
	})
	if err != nil {
		m.log.Printf("sales log: %v", err)
	}
}

func (m *Market) auditReject(req PurchaseRequest, code, msg string) {
	if m.salesLog == nil {
		return
	}
	err := m.salesLog.Write(commitAudit{
		Outcome:   "REJECTED",
		Code:      code,
		Message:   msg,
		Buyer:     req.Payment.Buyer,
		Blocks:    len(req.Cells),
		SoldCount: m.soldCount,
	})
	if err != nil {
		m.log.Printf("sales log: %v", err)
	}
}
