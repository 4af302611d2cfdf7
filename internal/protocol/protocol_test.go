package protocol_test

import (
	"testing"

	"solgrid/internal/protocol"
)

func TestDecodeBase(t *testing.T) {
	m, err := protocol.DecodeBase([]byte(`{"type":"QUOTE_REQ","protocol_version":"1.0","blocks":3}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type != protocol.TypeQuoteReq || m.ProtocolVersion != protocol.Version {
		t.Fatalf("base=%+v", m)
	}

	if _, err := protocol.DecodeBase([]byte(`{"type":`)); err == nil {
		t.Fatal("decoded truncated frame")
	}
}

func TestIsKnownCode(t *testing.T) {
	for _, code := range []string{
		protocol.ErrEmptySelection,
		protocol.ErrOccupied,
		protocol.ErrDisconnected,
		protocol.ErrConflict,
		protocol.ErrPaymentMismatch,
		protocol.ErrCodeNotFound,
		"", // success responses carry no code
	} {
		if !protocol.IsKnownCode(code) {
			t.Errorf("IsKnownCode(%q) = false", code)
		}
	}
	if protocol.IsKnownCode("E_MADE_UP") {
		t.Error("unknown code accepted")
	}
}
