package contentauth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcutil/base58"
)

func signedRequest(t *testing.T, ts time.Time) (wallet string, tsMs int64, sig string, priv ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	wallet = base58.Encode(pub)
	tsMs = ts.UnixMilli()
	sig = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, Message(wallet, tsMs)))
	return wallet, tsMs, sig, priv
}

func TestVerify_Valid(t *testing.T) {
	now := time.Now()
	wallet, tsMs, sig, _ := signedRequest(t, now)
	if err := Verify(wallet, tsMs, sig, now); err != nil {
		t.Fatalf("verify: %v", err)
	}
	// Anywhere inside the window still passes.
	if err := Verify(wallet, tsMs, sig, now.Add(FreshnessWindow-time.Second)); err != nil {
		t.Fatalf("near window edge: %v", err)
	}
}

func TestVerify_Stale(t *testing.T) {
	now := time.Now()
	wallet, tsMs, sig, _ := signedRequest(t, now)
	err := Verify(wallet, tsMs, sig, now.Add(FreshnessWindow+time.Second))
	if !errors.Is(err, ErrStaleRequest) {
		t.Fatalf("err=%v want stale", err)
	}
	// A timestamp from the future is just as suspect.
	err = Verify(wallet, tsMs, sig, now.Add(-FreshnessWindow-time.Second))
	if !errors.Is(err, ErrStaleRequest) {
		t.Fatalf("future err=%v want stale", err)
	}
}

func TestVerify_BadSignature(t *testing.T) {
	now := time.Now()
	wallet, tsMs, _, priv := signedRequest(t, now)

	// Signature over a different message.
	other := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte("something else")))
	if err := Verify(wallet, tsMs, other, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err=%v want bad signature", err)
	}

	// Signature from a different key.
	_, _, theirSig, _ := signedRequest(t, now)
	if err := Verify(wallet, tsMs, theirSig, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("foreign key err=%v want bad signature", err)
	}

	// Not base64 at all.
	if err := Verify(wallet, tsMs, "!!!", now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("garbage err=%v want bad signature", err)
	}

	// Wallet that does not decode to an ed25519 public key.
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, Message("short", tsMs)))
	if err := Verify("short", tsMs, sig, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("short wallet err=%v want bad signature", err)
	}
}
