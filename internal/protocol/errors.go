package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Selection validation.
	ErrEmptySelection = "E_EMPTY_SELECTION"
	ErrOccupied       = "E_OCCUPIED"
	ErrDisconnected   = "E_DISCONNECTED"

	// Quote/referral.
	ErrInvalidRequest = "E_INVALID_REQUEST"
	ErrCodeNotFound   = "E_CODE_NOT_FOUND"

	// Commit.
	ErrConflict        = "E_CONFLICT"
	ErrCapacity        = "E_CAPACITY"
	ErrPaymentMismatch = "E_PAYMENT_MISMATCH"

	ErrBadRequest = "E_BAD_REQUEST"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrEmptySelection:  {},
	ErrOccupied:        {},
	ErrDisconnected:    {},
	ErrInvalidRequest:  {},
	ErrCodeNotFound:    {},
	ErrConflict:        {},
	ErrCapacity:        {},
	ErrPaymentMismatch: {},
	ErrBadRequest:      {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
