// Package market owns the grid. A single goroutine holds the occupied-cell
// map and serializes every quote, validation and purchase; no other code path
// may mark a cell sold. Overlapping purchases are therefore decided here,
// with at most one winner.
package market

import (
	"context"
	"fmt"
	stdlog "log"
	"sync/atomic"

	"solgrid/internal/grid"
	"solgrid/internal/persistence/ledger"
	"solgrid/internal/pricing"
	"solgrid/internal/protocol"
	"solgrid/internal/referral"
)

// Ledger is the durable sale store. CommitSale must be atomic: either the
// sale and all its cells are recorded, or nothing is.
type Ledger interface {
	CommitSale(sale ledger.SaleRow, cells []grid.Cell) error
}

// Referrals resolves discount codes. Check is side-effect-free; RecordUsage
// failures are logged, never fatal to a committed sale.
type Referrals interface {
	Check(code string) (referral.Discount, error)
	RecordUsage(code string, blocks int) error
}

// CommitLogger receives one record per commit attempt (audit trail).
type CommitLogger interface {
	Write(v any) error
}

type Config struct {
	Pricing      pricing.Schedule
	InboxSize    int // request channel buffer
	JournalLimit int // max in-memory replayable events (0 = unbounded)
}

func (c *Config) applyDefaults() {
	if c.Pricing.BaseCents == 0 && c.Pricing.StepCents == 0 {
		c.Pricing = pricing.Default()
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 256
	}
}

// SubscribeRequest attaches an observer. Out receives EVENT frames; Resp gets
// the welcome plus a full snapshot so the client starts consistent.
type SubscribeRequest struct {
	Name string
	Out  chan []byte
	Resp chan SubscribeResponse
}

type SubscribeResponse struct {
	SessionID string
	Welcome   protocol.WelcomeMsg
	Snapshot  protocol.SnapshotMsg
}

type QuoteRequest struct {
	Blocks       int
	ReferralCode string
	Resp         chan protocol.QuoteResMsg
}

type ValidateRequest struct {
	Cells []grid.Cell
	Resp  chan protocol.ValidateResMsg
}

// PurchaseRequest is a commit attempt. Payment has already settled out of
// band; the actor only matches its amount against the authoritative price.
type PurchaseRequest struct {
	Cells        []grid.Cell
	Link         string
	AltText      string
	ContentRef   string
	ReferralCode string
	Payment      protocol.PaymentProof
	Resp         chan protocol.PurchaseResMsg
}

type SnapshotRequest struct {
	Resp chan protocol.SnapshotMsg
}

type EventBatchRequest struct {
	SinceCursor uint64
	Limit       int
	Resp        chan protocol.EventBatchMsg
}

// OccupancyRequest serves the read-only occupancy view (sold count plus the
// occupied-cell snapshot).
type OccupancyRequest struct {
	Resp chan Occupancy
}

type Occupancy struct {
	SoldCount int         `json:"sold_count"`
	Occupied  []grid.Cell `json:"occupied"`
}

type clientState struct {
	out     chan []byte
	dropped int
}

type Market struct {
	cfg      Config
	log      *stdlog.Logger
	ledger   Ledger
	referral Referrals
	salesLog CommitLogger

	// All fields below are owned by the run loop goroutine.
	owner     map[grid.Cell]string // cell -> sale id
	sales     map[string]protocol.Placement
	order     []string // commit order
	soldCount int

	journal []protocol.EventBatchItem
	cursor  uint64

	clients        map[string]*clientState
	nextSessionNum atomic.Uint64

	subscribe  chan SubscribeRequest
	leave      chan string
	quoteCh    chan QuoteRequest
	validateCh chan ValidateRequest
	purchaseCh chan PurchaseRequest
	snapshotCh chan SnapshotRequest
	batchCh    chan EventBatchRequest
	occupancy  chan OccupancyRequest
	stop       chan struct{}
	done       chan struct{}
}

func New(cfg Config, lg Ledger, refs Referrals, logger *stdlog.Logger) *Market {
	cfg.applyDefaults()
	m := &Market{
		cfg:        cfg,
		log:        logger,
		ledger:     lg,
		referral:   refs,
		owner:      map[grid.Cell]string{},
		sales:      map[string]protocol.Placement{},
		clients:    map[string]*clientState{},
		subscribe:  make(chan SubscribeRequest, 16),
		leave:      make(chan string, 16),
		quoteCh:    make(chan QuoteRequest, cfg.InboxSize),
		validateCh: make(chan ValidateRequest, cfg.InboxSize),
		purchaseCh: make(chan PurchaseRequest, cfg.InboxSize),
		snapshotCh: make(chan SnapshotRequest, 16),
		batchCh:    make(chan EventBatchRequest, 16),
		occupancy:  make(chan OccupancyRequest, 16),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	return m
}

// SetSalesLog attaches the audit log (may be nil).
func (m *Market) SetSalesLog(l CommitLogger) { m.salesLog = l }

// Seed installs previously committed sales, e.g. loaded from the ledger at
// startup. Must be called before Run.
func (m *Market) Seed(recs []ledger.SaleRecord) error {
	for _, rec := range recs {
		p := placementFromRow(rec.Sale, rec.Cells)
		for _, c := range rec.Cells {
			if prev, taken := m.owner[c]; taken {
				return fmt.Errorf("ledger corrupt: cell %s owned by %s and %s", c, prev, rec.Sale.ID)
			}
			m.owner[c] = rec.Sale.ID
		}
		m.sales[rec.Sale.ID] = p
		m.order = append(m.order, rec.Sale.ID)
		m.soldCount += len(rec.Cells)
	}
	return nil
}

func (m *Market) Subscribe() chan<- SubscribeRequest   { return m.subscribe }
func (m *Market) Leave() chan<- string                 { return m.leave }
func (m *Market) Quote() chan<- QuoteRequest           { return m.quoteCh }
func (m *Market) Validate() chan<- ValidateRequest     { return m.validateCh }
func (m *Market) Purchase() chan<- PurchaseRequest     { return m.purchaseCh }
func (m *Market) Snapshot() chan<- SnapshotRequest     { return m.snapshotCh }
func (m *Market) EventBatch() chan<- EventBatchRequest { return m.batchCh }
func (m *Market) Occupancy() chan<- OccupancyRequest   { return m.occupancy }

// Done is closed when the run loop has exited; senders can select on it to
// avoid blocking on a stopped actor.
func (m *Market) Done() <-chan struct{} { return m.done }

func (m *Market) Run(ctx context.Context) error {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return nil
		case req := <-m.subscribe:
			m.handleSubscribe(req)
		case id := <-m.leave:
			delete(m.clients, id)
		case req := <-m.quoteCh:
			req.Resp <- m.handleQuote(req)
		case req := <-m.validateCh:
			req.Resp <- m.handleValidate(req)
		case req := <-m.purchaseCh:
			req.Resp <- m.handlePurchase(req)
		case req := <-m.snapshotCh:
			req.Resp <- m.snapshotMsg()
		case req := <-m.batchCh:
			req.Resp <- m.handleEventBatch(req)
		case req := <-m.occupancy:
			req.Resp <- m.occupancyView()
		}
	}
}

func (m *Market) Stop() { close(m.stop) }

func (m *Market) handleSubscribe(req SubscribeRequest) {
	id := fmt.Sprintf("S%d", m.nextSessionNum.Add(1))
	if req.Out != nil {
		m.clients[id] = &clientState{out: req.Out}
	}
	resp := SubscribeResponse{
		SessionID: id,
		Welcome: protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       id,
			Grid: protocol.GridParams{
				Size:           grid.Size,
				Capacity:       grid.Capacity,
				BasePriceCents: m.cfg.Pricing.BaseCents,
				StepCents:      m.cfg.Pricing.StepCents,
			},
			SoldCount: m.soldCount,
			Cursor:    m.cursor,
		},
		Snapshot: m.snapshotMsg(),
	}
	if req.Resp != nil {
		req.Resp <- resp
	}
}

func (m *Market) snapshotMsg() protocol.SnapshotMsg {
	placements := make([]protocol.Placement, 0, len(m.order))
	for _, id := range m.order {
		placements = append(placements, m.sales[id])
	}
	return protocol.SnapshotMsg{
		Type:            protocol.TypeSnapshot,
		ProtocolVersion: protocol.Version,
		Placements:      placements,
		SoldCount:       m.soldCount,
		Cursor:          m.cursor,
	}
}

func (m *Market) occupancyView() Occupancy {
	cells := make([]grid.Cell, 0, len(m.owner))
	for c := range m.owner {
		cells = append(cells, c)
	}
	grid.SortCells(cells)
	return Occupancy{SoldCount: m.soldCount, Occupied: cells}
}

func (m *Market) occupied(c grid.Cell) bool {
	_, ok := m.owner[c]
	return ok
}

func placementFromRow(r ledger.SaleRow, cells []grid.Cell) protocol.Placement {
	sorted := append([]grid.Cell(nil), cells...)
	grid.SortCells(sorted)
	return protocol.Placement{
		SaleID:       r.ID,
		Buyer:        r.Buyer,
		Cells:        sorted,
		Bounds:       r.Bounds,
		Link:         r.Link,
		AltText:      r.AltText,
		ContentRef:   r.ContentRef,
		PriceCents:   r.PriceCents,
		ReferralCode: r.ReferralCode,
		CommittedAt:  r.CommittedAt,
	}
}
