package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"solgrid/internal/market"
	"solgrid/internal/protocol"
)

// Core is the request surface the transport needs from the market actor.
// Done unblocks pending sends once the actor has stopped.
type Core interface {
	Subscribe() chan<- market.SubscribeRequest
	Leave() chan<- string
	Quote() chan<- market.QuoteRequest
	Validate() chan<- market.ValidateRequest
	Purchase() chan<- market.PurchaseRequest
	Snapshot() chan<- market.SnapshotRequest
	EventBatch() chan<- market.EventBatchRequest
	Done() <-chan struct{}
}

type Server struct {
	market Core
	log    *log.Logger

	defaultQueue int
	maxQueue     int
	upgrader     websocket.Upgrader
}

func NewServer(m Core, defaultQueue, maxQueue int, logger *log.Logger) *Server {
	if defaultQueue <= 0 {
		defaultQueue = 32
	}
	if maxQueue <= 0 {
		maxQueue = 256
	}
	s := &Server{
		market:       m,
		log:          logger,
		defaultQueue: defaultQueue,
		maxQueue:     maxQueue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine: the only place that writes to the connection
		// after handshake. Both broadcast events and request responses are
		// funneled through out.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.dispatch(msg, out)
		}

		s.leave(sessionID)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out chan []byte) {
	hello, ok := s.readHello(conn)
	if !ok {
		return "", nil
	}
	return s.register(conn, hello)
}

func (s *Server) readHello(conn *websocket.Conn) (protocol.HelloMsg, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return protocol.HelloMsg{}, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return protocol.HelloMsg{}, false
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return protocol.HelloMsg{}, false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return protocol.HelloMsg{}, false
	}
	return hello, true
}

// register subscribes the session with the market and completes the
// handshake. Every exit after Subscribe must release the session, or the
// market keeps broadcasting into a queue nobody drains.
func (s *Server) register(conn *websocket.Conn, hello protocol.HelloMsg) (sessionID string, out chan []byte) {
	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = s.defaultQueue
	}
	if maxQ > s.maxQueue {
		maxQ = s.maxQueue
	}
	out = make(chan []byte, maxQ)

	respCh := make(chan market.SubscribeResponse, 1)
	select {
	case s.market.Subscribe() <- market.SubscribeRequest{
		Name: hello.ClientName,
		Out:  out,
		Resp: respCh,
	}:
	case <-s.market.Done():
		return "", nil
	}
	var resp market.SubscribeResponse
	select {
	case resp = <-respCh:
	case <-s.market.Done():
		return "", nil
	}

	// Welcome plus a full snapshot so the client's mirror starts consistent;
	// everything after arrives as EVENTs on out.
	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.leave(resp.SessionID)
		return "", nil
	}
	if err := writeJSON(conn, resp.Snapshot); err != nil {
		s.leave(resp.SessionID)
		return "", nil
	}

	return resp.SessionID, out
}

// leave releases a session without wedging on a market that has already
// stopped.
func (s *Server) leave(id string) {
	select {
	case s.market.Leave() <- id:
	case <-s.market.Done():
	}
}

// dispatch routes one client frame to the market and queues the response.
// Unknown or malformed frames are dropped on the floor; the client finds out
// via its own request timeouts.
func (s *Server) dispatch(msg []byte, out chan []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	if base.ProtocolVersion != protocol.Version {
		return
	}

	switch base.Type {
	case protocol.TypeQuoteReq:
		var req protocol.QuoteReqMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			return
		}
		respCh := make(chan protocol.QuoteResMsg, 1)
		s.market.Quote() <- market.QuoteRequest{Blocks: req.Blocks, ReferralCode: req.ReferralCode, Resp: respCh}
		res := <-respCh
		res.ReqID = req.ReqID
		s.queue(out, res)

	case protocol.TypeValidateReq:
		var req protocol.ValidateReqMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			return
		}
		respCh := make(chan protocol.ValidateResMsg, 1)
		s.market.Validate() <- market.ValidateRequest{Cells: req.Cells, Resp: respCh}
		res := <-respCh
		res.ReqID = req.ReqID
		s.queue(out, res)

	case protocol.TypePurchaseReq:
		var req protocol.PurchaseReqMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			return
		}
		respCh := make(chan protocol.PurchaseResMsg, 1)
		s.market.Purchase() <- market.PurchaseRequest{
			Cells:        req.Cells,
			Link:         req.Link,
			AltText:      req.AltText,
			ContentRef:   req.ContentRef,
			ReferralCode: req.ReferralCode,
			Payment:      req.Payment,
			Resp:         respCh,
		}
		res := <-respCh
		res.ReqID = req.ReqID
		s.queue(out, res)

	case protocol.TypeSnapshotReq:
		var req protocol.SnapshotReqMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			return
		}
		respCh := make(chan protocol.SnapshotMsg, 1)
		s.market.Snapshot() <- market.SnapshotRequest{Resp: respCh}
		res := <-respCh
		res.ReqID = req.ReqID
		s.queue(out, res)

	case protocol.TypeEventBatchReq:
		var req protocol.EventBatchReqMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			return
		}
		respCh := make(chan protocol.EventBatchMsg, 1)
		s.market.EventBatch() <- market.EventBatchRequest{SinceCursor: req.SinceCursor, Limit: req.Limit, Resp: respCh}
		res := <-respCh
		res.ReqID = req.ReqID
		s.queue(out, res)
	}
}

func (s *Server) queue(out chan []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Printf("marshal response: %v", err)
		return
	}
	select {
	case out <- b:
	default:
		// Queue full: prefer dropping a response over blocking the reader.
		s.log.Printf("response dropped: client queue full")
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
