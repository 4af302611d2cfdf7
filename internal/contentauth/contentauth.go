// Package contentauth verifies content-replacement requests. A buyer who
// wants to swap the image behind an already-purchased region signs
// "update-content:<wallet>:<timestamp_ms>" with the ed25519 key their wallet
// address encodes; requests older than the freshness window are refused.
package contentauth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcutil/base58"
)

// FreshnessWindow bounds how old a signed request may be.
const FreshnessWindow = 5 * time.Minute

var (
	ErrStaleRequest = errors.New("stale request")
	ErrBadSignature = errors.New("signature verification failed")
)

// Message is the exact byte string the wallet signs.
func Message(wallet string, timestampMs int64) []byte {
	return []byte(fmt.Sprintf("update-content:%s:%d", wallet, timestampMs))
}

// Verify checks freshness and the ed25519 signature. The wallet address is
// the base58-encoded public key; the signature is base64.
func Verify(wallet string, timestampMs int64, sigBase64 string, now time.Time) error {
	age := now.UnixMilli() - timestampMs
	if age < 0 {
		age = -age
	}
	if age > FreshnessWindow.Milliseconds() {
		return fmt.Errorf("%w: %dms old", ErrStaleRequest, age)
	}

	pub := base58.Decode(wallet)
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad public key length %d", ErrBadSignature, len(pub))
	}
	sig, err := base64.StdEncoding.DecodeString(sigBase64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), Message(wallet, timestampMs), sig) {
		return ErrBadSignature
	}
	return nil
}
