package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/logger"
)

func TestRequestLogger_ExtractsTraceParent(t *testing.T) {
	var attrs []slog.Attr
	h := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attrs = logger.AttrsFromCtx(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, attrs, 2)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", attrs[0].Value.String())
	assert.Equal(t, "00f067aa0ba902b7", attrs[1].Value.String())
}

func TestRequestLogger_NoTraceParent(t *testing.T) {
	called := false
	h := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Nil(t, logger.AttrsFromCtx(r.Context()))
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}
