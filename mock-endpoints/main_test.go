package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Priya8975/hookrelay/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReceiver(secret string, strict bool) *receiver {
	return &receiver{
		signer: engine.NewSigner("", ""),
		secret: secret,
		strict: strict,
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		flaky:  make(map[string]int),
	}
}

func post(t *testing.T, h http.Handler, path string, body []byte, header http.Header) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestReceiver_VerifiesSignature(t *testing.T) {
	rc := newReceiver("whsec_test", true)
	h := rc.routes()
	body := []byte(`{"eventId":"e1","eventType":"job.created"}`)

	signed := rc.signer.BuildHeaders(body, "whsec_test")
	assert.Equal(t, http.StatusOK, post(t, h, "/webhook/success", body, signed))

	forged := rc.signer.BuildHeaders(body, "other")
	assert.Equal(t, http.StatusUnauthorized, post(t, h, "/webhook/success", body, forged))

	assert.Equal(t, int64(1), rc.verified.Load())
	assert.Equal(t, int64(1), rc.rejected.Load())
}

func TestReceiver_LenientWithoutSecret(t *testing.T) {
	rc := newReceiver("", true)
	code := post(t, rc.routes(), "/webhook/success", []byte(`{}`), nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestReceiver_Flaky(t *testing.T) {
	rc := newReceiver("", false)
	h := rc.routes()
	body := []byte(`{"eventId":"e1"}`)

	require.Equal(t, http.StatusServiceUnavailable, post(t, h, "/webhook/flaky?failures=1", body, nil))
	assert.Equal(t, http.StatusOK, post(t, h, "/webhook/flaky?failures=1", body, nil))

	other := []byte(`{"eventId":"e2"}`)
	assert.Equal(t, http.StatusServiceUnavailable, post(t, h, "/webhook/flaky?failures=1", other, nil))
}

func TestReceiver_FixedStatuses(t *testing.T) {
	h := newReceiver("", false).routes()
	assert.Equal(t, http.StatusInternalServerError, post(t, h, "/webhook/fail", []byte(`{}`), nil))
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/webhook/reject", []byte(`{}`), nil))
}
