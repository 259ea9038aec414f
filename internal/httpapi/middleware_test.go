package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tijarahlabs/storesync/internal/ratelimit"
)

func newGetRequest(path string) *http.Request {
	return httptest.NewRequest(http.MethodGet, path, nil)
}

func serve(ts *testServer, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("echoes caller-provided id", func(t *testing.T) {
		req := newGetRequest("/health")
		req.Header.Set("X-Request-ID", "req-123")
		w := serve(ts, req)
		assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	})

	t.Run("generates one when absent", func(t *testing.T) {
		w := serve(ts, newGetRequest("/health"))
		id := w.Header().Get("X-Request-ID")
		require.NotEmpty(t, id)
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
	})
}

func TestDeviceIDResolution(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name     string
		headers  map[string]string
		expected string
	}{
		{"device header wins", map[string]string{"X-Device-ID": "dev-1", "X-Client-ID": "cli-1"}, "dev-1"},
		{"client header is the fallback", map[string]string{"X-Client-ID": "cli-1"}, "cli-1"},
		{"generated when both absent", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newGetRequest("/health")
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := serve(ts, req)

			got := w.Header().Get("X-Device-ID")
			if tt.expected != "" {
				assert.Equal(t, tt.expected, got)
				return
			}
			require.NotEmpty(t, got, "generated id must be echoed so the client can keep it")
			_, err := uuid.Parse(got)
			assert.NoError(t, err)
		})
	}
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.srv.Limiter = ratelimit.New(ts.store, time.Minute, 2)

	for i := 0; i < 2; i++ {
		w := ts.doJSON(t, http.MethodPost, "/api/sync/check", map[string]any{}, "dev-1")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := ts.doJSON(t, http.MethodPost, "/api/sync/check", map[string]any{}, "dev-1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	var er errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &er))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", er.Code)

	// Budgets are per device; another caller is unaffected.
	w = ts.doJSON(t, http.MethodPost, "/api/sync/check", map[string]any{}, "dev-2")
	assert.Equal(t, http.StatusOK, w.Code)

	// Webhooks bypass the sync budget entirely.
	w = ts.postWebhookRaw(t, `{"entity_type":"product","entity_id":"X"}`, "")
	assert.NotEqual(t, http.StatusTooManyRequests, w.Code)
}
