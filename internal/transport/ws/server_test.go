package ws

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"solgrid/internal/grid"
	"solgrid/internal/market"
	"solgrid/internal/persistence/ledger"
	"solgrid/internal/protocol"
	"solgrid/internal/referral"
)

type fakeCore struct {
	subscribe chan market.SubscribeRequest
	leave     chan string
	quote     chan market.QuoteRequest
	validate  chan market.ValidateRequest
	purchase  chan market.PurchaseRequest
	snapshot  chan market.SnapshotRequest
	batch     chan market.EventBatchRequest
	done      chan struct{}
}

func newFakeCore() *fakeCore {
	return &fakeCore{
		subscribe: make(chan market.SubscribeRequest, 1),
		leave:     make(chan string, 1),
		quote:     make(chan market.QuoteRequest, 1),
		validate:  make(chan market.ValidateRequest, 1),
		purchase:  make(chan market.PurchaseRequest, 1),
		snapshot:  make(chan market.SnapshotRequest, 1),
		batch:     make(chan market.EventBatchRequest, 1),
		done:      make(chan struct{}),
	}
}

func (f *fakeCore) Subscribe() chan<- market.SubscribeRequest   { return f.subscribe }
func (f *fakeCore) Leave() chan<- string                        { return f.leave }
func (f *fakeCore) Quote() chan<- market.QuoteRequest           { return f.quote }
func (f *fakeCore) Validate() chan<- market.ValidateRequest     { return f.validate }
func (f *fakeCore) Purchase() chan<- market.PurchaseRequest     { return f.purchase }
func (f *fakeCore) Snapshot() chan<- market.SnapshotRequest     { return f.snapshot }
func (f *fakeCore) EventBatch() chan<- market.EventBatchRequest { return f.batch }
func (f *fakeCore) Done() <-chan struct{}                       { return f.done }

// wsPair returns a connected server/client websocket pair backed by a real
// TCP connection.
func wsPair(t *testing.T) (srvConn, cliConn *websocket.Conn) {
	t.Helper()
	connCh := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	cliConn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cliConn.Close() })

	select {
	case srvConn = <-connCh:
	case <-time.After(5 * time.Second):
		t.Fatal("no server conn")
	}
	t.Cleanup(func() { _ = srvConn.Close() })
	return srvConn, cliConn
}

func discard() *stdlog.Logger { return stdlog.New(io.Discard, "", 0) }

func TestRegister_ReleasesSessionOnFailedWelcomeWrite(t *testing.T) {
	fc := newFakeCore()
	go func() {
		req := <-fc.subscribe
		req.Resp <- market.SubscribeResponse{
			SessionID: "S1",
			Welcome:   protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, SessionID: "S1"},
			Snapshot:  protocol.SnapshotMsg{Type: protocol.TypeSnapshot, ProtocolVersion: protocol.Version},
		}
	}()
	s := NewServer(fc, 32, 256, discard())

	srvConn, _ := wsPair(t)
	_ = srvConn.Close() // the WELCOME write must fail

	id, out := s.register(srvConn, protocol.HelloMsg{ClientName: "browser"})
	if id != "" || out != nil {
		t.Fatalf("register on dead conn returned %q, %v", id, out)
	}
	select {
	case got := <-fc.leave:
		if got != "S1" {
			t.Fatalf("released %q, want S1", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session never released after failed welcome write")
	}
}

func TestLeave_DoesNotBlockAfterMarketStops(t *testing.T) {
	fc := newFakeCore()
	fc.leave = make(chan string) // nobody draining
	close(fc.done)
	s := NewServer(fc, 32, 256, discard())

	returned := make(chan struct{})
	go func() {
		s.leave("S9")
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("leave blocked after market stopped")
	}
}

type nopLedger struct{}

func (nopLedger) CommitSale(ledger.SaleRow, []grid.Cell) error { return nil }

type nopReferrals struct{}

func (nopReferrals) Check(code string) (referral.Discount, error) {
	return referral.Discount{}, fmt.Errorf("referral code %q: %w", code, ledger.ErrNotFound)
}
func (nopReferrals) RecordUsage(string, int) error { return nil }

func TestHandler_HandshakeAndQuote(t *testing.T) {
	m := market.New(market.Config{}, nopLedger{}, nopReferrals{}, discard())
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(runDone)
	}()
	t.Cleanup(func() {
		cancel()
		<-runDone
	})

	srv := httptest.NewServer(NewServer(m, 32, 256, discard()).Handler())
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "browser"}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("hello: %v", err)
	}

	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if welcome.Type != protocol.TypeWelcome || welcome.SessionID == "" || welcome.Grid.Capacity != grid.Capacity {
		t.Fatalf("welcome=%+v", welcome)
	}

	var snap protocol.SnapshotMsg
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Type != protocol.TypeSnapshot || snap.SoldCount != 0 {
		t.Fatalf("snapshot=%+v", snap)
	}

	req := protocol.QuoteReqMsg{Type: protocol.TypeQuoteReq, ProtocolVersion: protocol.Version, ReqID: "q1", Blocks: 3}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("quote req: %v", err)
	}
	var res protocol.QuoteResMsg
	if err := conn.ReadJSON(&res); err != nil {
		t.Fatalf("quote res: %v", err)
	}
	if !res.Accepted || res.ReqID != "q1" || res.Quote == nil || res.Quote.TotalCents != 306 {
		t.Fatalf("quote=%+v", res)
	}
}
