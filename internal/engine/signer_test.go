package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"
)

func TestSigner_Sign(t *testing.T) {
	signer := NewSigner("", "")

	tests := []struct {
		name    string
		payload []byte
		secret  string
	}{
		{name: "basic payload", payload: []byte(`{"eventId":"1","eventType":"job.created"}`), secret: "my-secret-key"},
		{name: "empty object", payload: []byte(`{}`), secret: "secret"},
		{name: "empty secret", payload: []byte(`{"test":true}`), secret: ""},
		{name: "unicode payload", payload: []byte(`{"name":"café","price":"€10"}`), secret: "unicode-key-日本語"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := signer.Sign(tt.payload, tt.secret)

			decoded, err := hex.DecodeString(sig)
			if err != nil {
				t.Fatalf("signature is not valid hex: %v", err)
			}
			if len(decoded) != 32 {
				t.Fatalf("expected 32 bytes, got %d", len(decoded))
			}

			mac := hmac.New(sha256.New, []byte(tt.secret))
			mac.Write(tt.payload)
			expected := hex.EncodeToString(mac.Sum(nil))
			if sig != expected {
				t.Errorf("signature mismatch:\n  got:  %s\n  want: %s", sig, expected)
			}
		})
	}
}

func TestSigner_FixedExample(t *testing.T) {
	signer := NewSigner("", "")

	sig1 := signer.Sign([]byte(`{"a":1}`), "s3cr3t")
	sig2 := signer.Sign([]byte(`{"a":1}`), "s3cr3t")
	other := signer.Sign([]byte(`{"a":2}`), "s3cr3t")

	if len(sig1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig1))
	}
	if sig1 != sig2 {
		t.Error("signature should be identical across repeated computations")
	}
	if sig1 == other {
		t.Error("signature should change when the payload changes")
	}
}

func TestSigner_VerifyRoundTrip(t *testing.T) {
	signer := NewSigner("", "")
	payload := []byte(`{"eventId":"evt-1","data":{"amount":42}}`)
	secret := "whsec"

	sig := signer.Sign(payload, secret)
	if !signer.Verify(payload, sig, secret) {
		t.Fatal("verify should accept its own signature")
	}

	for i := range payload {
		tampered := append([]byte(nil), payload...)
		tampered[i] ^= 0x01
		if signer.Verify(tampered, sig, secret) {
			t.Fatalf("verify accepted payload with byte %d flipped", i)
		}
	}
}

func TestSigner_VerifyRejects(t *testing.T) {
	signer := NewSigner("", "")
	payload := []byte(`{"a":1}`)
	sig := signer.Sign(payload, "right")

	if signer.Verify(payload, sig, "wrong") {
		t.Error("verify should reject a different secret")
	}
	if signer.Verify(payload, "not-hex", "right") {
		t.Error("verify should reject a non-hex signature")
	}
	if signer.Verify(payload, sig[:10], "right") {
		t.Error("verify should reject a truncated signature")
	}
}

func TestSigner_BuildHeaders(t *testing.T) {
	signer := NewSigner("HookRelay", "2.1")
	fixed := time.UnixMilli(1700000000123)
	signer.now = func() time.Time { return fixed }

	payload := []byte(`{"a":1}`)
	h := signer.BuildHeaders(payload, "s3cr3t")

	if got := h.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := h.Get(HeaderSignature); got != signer.Sign(payload, "s3cr3t") {
		t.Errorf("X-Signature = %q", got)
	}
	if got := h.Get(HeaderTimestamp); got != strconv.FormatInt(fixed.UnixMilli(), 10) {
		t.Errorf("X-Timestamp = %q", got)
	}
	if got := h.Get("User-Agent"); got != "HookRelay/2.1" {
		t.Errorf("User-Agent = %q", got)
	}
}
