package market

import (
	"encoding/json"
	"io"
	stdlog "log"
	"testing"

	"solgrid/internal/grid"
	"solgrid/internal/protocol"
)

func TestJournalTrimsToLimit(t *testing.T) {
	ml := newMemLedger()
	m := New(Config{JournalLimit: 2}, ml, newFakeReferrals(), stdlog.New(io.Discard, "", 0))

	for i := 0; i < 3; i++ {
		res := m.handlePurchase(purchase([]grid.Cell{{Col: i * 2, Row: 0}}, 100+int64(2*i)))
		if !res.Accepted {
			t.Fatalf("purchase %d: %s %s", i, res.Code, res.Message)
		}
	}
	if len(m.journal) != 2 {
		t.Fatalf("journal len=%d want 2", len(m.journal))
	}
	if m.journal[0].Cursor != 2 || m.journal[1].Cursor != 3 {
		t.Fatalf("journal cursors %d,%d want 2,3", m.journal[0].Cursor, m.journal[1].Cursor)
	}

	// Events older than the trim horizon are gone; the batch starts at the
	// oldest retained cursor and the client falls back to a snapshot for the
	// rest.
	res := m.handleEventBatch(EventBatchRequest{SinceCursor: 0})
	if len(res.Events) != 2 || res.Events[0].Cursor != 2 || res.NextCursor != 3 {
		t.Fatalf("batch=%+v", res)
	}
}

func TestPublishDropsWhenClientQueueFull(t *testing.T) {
	ml := newMemLedger()
	m := New(Config{}, ml, newFakeReferrals(), stdlog.New(io.Discard, "", 0))

	slow := &clientState{out: make(chan []byte, 1)}
	m.clients["S1"] = slow

	for i := 0; i < 3; i++ {
		res := m.handlePurchase(purchase([]grid.Cell{{Col: i * 2, Row: 0}}, 100+int64(2*i)))
		if !res.Accepted {
			t.Fatalf("purchase %d: %s", i, res.Code)
		}
	}

	if slow.dropped != 2 {
		t.Fatalf("dropped=%d want 2", slow.dropped)
	}
	var ev protocol.EventMsg
	if err := json.Unmarshal(<-slow.out, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Cursor != 1 {
		t.Fatalf("delivered cursor=%d want 1 (later frames dropped)", ev.Cursor)
	}

	// The journal still holds everything the slow client missed.
	res := m.handleEventBatch(EventBatchRequest{SinceCursor: ev.Cursor})
	if len(res.Events) != 2 || res.NextCursor != 3 {
		t.Fatalf("recovery batch=%+v", res)
	}
}

type recordingLog struct {
	entries []commitAudit
}

func (r *recordingLog) Write(v any) error {
	r.entries = append(r.entries, v.(commitAudit))
	return nil
}

func TestAuditTrail(t *testing.T) {
	ml := newMemLedger()
	m := New(Config{}, ml, newFakeReferrals(), stdlog.New(io.Discard, "", 0))
	rec := &recordingLog{}
	m.SetSalesLog(rec)

	if res := m.handlePurchase(purchase([]grid.Cell{{Col: 0, Row: 0}}, 100)); !res.Accepted {
		t.Fatalf("purchase: %s", res.Code)
	}
	if res := m.handlePurchase(purchase([]grid.Cell{{Col: 0, Row: 0}}, 102)); res.Accepted {
		t.Fatal("overlap accepted")
	}

	if len(rec.entries) != 2 {
		t.Fatalf("audit entries=%d want 2", len(rec.entries))
	}
	if rec.entries[0].Outcome != "ACCEPTED" || rec.entries[0].Sale == nil || rec.entries[0].Cursor != 1 {
		t.Fatalf("accept entry=%+v", rec.entries[0])
	}
	if rec.entries[1].Outcome != "REJECTED" || rec.entries[1].Code != protocol.ErrConflict {
		t.Fatalf("reject entry=%+v", rec.entries[1])
	}
}
