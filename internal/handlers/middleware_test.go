package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/recipebook/apiserver/internal/logger"
	"github.com/recipebook/apiserver/internal/ratelimit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRequests(t *testing.T) {
	var buf bytes.Buffer
	base := &logger.Logger{Logger: zerolog.New(&buf)}

	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusTeapot, "short and stout")
	})
	handler := middleware.RequestID(WithLogger(base)(LogRequests(inner)))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/recipes?tags=1", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/api/recipes?tags=1", entry["uri"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.EqualValues(t, rec.Body.Len(), entry["size"])
	assert.NotEmpty(t, entry["request_id"])
}

func TestLogRequests_ImplicitOK(t *testing.T) {
	var buf bytes.Buffer
	base := &logger.Logger{Logger: zerolog.New(&buf)}

	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	handler := WithLogger(base)(LogRequests(inner))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.EqualValues(t, http.StatusOK, entry["status"])
	assert.EqualValues(t, 2, entry["size"])
	assert.NotContains(t, entry, "request_id")
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.New(0.001, 2)
	defer limiter.Stop()

	handler := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	request := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/recipes", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, request("10.0.0.1:5000"))
	assert.Equal(t, http.StatusNoContent, request("10.0.0.1:5001"))
	assert.Equal(t, http.StatusTooManyRequests, request("10.0.0.1:5002"))
	assert.Equal(t, http.StatusNoContent, request("10.0.0.2:5000"))
}
