package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tijarahlabs/storesync/internal/apperr"
	"github.com/tijarahlabs/storesync/internal/metrics"
)

const (
	headerRequestID = "X-Request-ID"
	headerDeviceID  = "X-Device-ID"
	headerClientID  = "X-Client-ID"
)

type contextKey string

const (
	requestIDKey contextKey = "requestId"
	deviceIDKey  contextKey = "deviceId"
)

// requestIDMiddleware assigns every request an id, echoes it back and binds
// it to the request-scoped logger so all lines of one request correlate.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(headerRequestID, id)

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		logger := log.With().Str("request_id", id).Logger()
		ctx = logger.WithContext(ctx)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// deviceIDMiddleware resolves the caller's device id from X-Device-ID, then
// X-Client-ID, generating one when both are absent. The resolved id is always
// echoed back so generated ids stick on the client.
func deviceIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		device := r.Header.Get(headerDeviceID)
		if device == "" {
			device = r.Header.Get(headerClientID)
		}
		if device == "" {
			device = uuid.New().String()
		}
		w.Header().Set(headerDeviceID, device)

		ctx := context.WithValue(r.Context(), deviceIDKey, device)
		logger := log.Ctx(ctx).With().Str("device_id", device).Logger()
		ctx = logger.WithContext(ctx)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID retrieves the request id from context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// DeviceID retrieves the resolved device id from context.
func DeviceID(ctx context.Context) string {
	if id, ok := ctx.Value(deviceIDKey).(string); ok {
		return id
	}
	return ""
}

// instrument logs one line per request and feeds the HTTP metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

		log.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// rateLimit enforces the per-device budget of one endpoint. Rejections carry
// Retry-After so well-behaved clients back off for the rest of the window.
func (s *Server) rateLimit(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.Limiter == nil || s.Limiter.Allow(r.Context(), DeviceID(r.Context()), endpoint) {
				next.ServeHTTP(w, r)
				return
			}

			metrics.RateLimitRejectedTotal.WithLabelValues(endpoint).Inc()
			retryAfter := int(s.Limiter.Window().Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			log.Ctx(r.Context()).Warn().
				Str("endpoint", endpoint).
				Int("retry_after", retryAfter).
				Msg("rate limit exceeded")

			writeError(w, r, apperr.RateLimited(
				"rate limit exceeded, retry after "+strconv.Itoa(retryAfter)+" seconds"))
		})
	}
}
