package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello         = "HELLO"
	TypeWelcome       = "WELCOME"
	TypeSnapshotReq   = "SNAPSHOT_REQ"
	TypeSnapshot      = "SNAPSHOT"
	TypeQuoteReq      = "QUOTE_REQ"
	TypeQuoteRes      = "QUOTE_RES"
	TypeValidateReq   = "VALIDATE_REQ"
	TypeValidateRes   = "VALIDATE_RES"
	TypePurchaseReq   = "PURCHASE_REQ"
	TypePurchaseRes   = "PURCHASE_RES"
	TypeEvent         = "EVENT"
	TypeEventBatchReq = "EVENT_BATCH_REQ"
	TypeEventBatch    = "EVENT_BATCH"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
