package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"

	DefaultProduct = "HookRelay"
	DefaultVersion = "1.0"
)

// Signer computes and checks HMAC-SHA256 signatures over outbound payloads.
// The signature covers the exact bytes written to the request body.
type Signer struct {
	userAgent string
	now       func() time.Time
}

func NewSigner(product, version string) *Signer {
	if product == "" {
		product = DefaultProduct
	}
	if version == "" {
		version = DefaultVersion
	}
	return &Signer{
		userAgent: product + "/" + version,
		now:       time.Now,
	}
}

// Sign returns the hex-encoded HMAC-SHA256 of payload keyed by secret.
func (s *Signer) Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares it in constant time.
func (s *Signer) Verify(payload []byte, signature, secret string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// BuildHeaders returns the headers for one outbound delivery of payload.
func (s *Signer) BuildHeaders(payload []byte, secret string) http.Header {
	h := make(http.Header, 4)
	h.Set("Content-Type", "application/json")
	h.Set(HeaderSignature, s.Sign(payload, secret))
	h.Set(HeaderTimestamp, strconv.FormatInt(s.now().UnixMilli(), 10))
	h.Set("User-Agent", s.userAgent)
	return h
}

func (s *Signer) UserAgent() string {
	return s.userAgent
}
