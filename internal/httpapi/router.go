// Package httpapi translates (path, body) into core operations. The layer
// adds request validation, CORS and rate-limit counters; every policy beyond
// that lives in the packages it calls into.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/tijarahlabs/storesync/internal/analytics"
	"github.com/tijarahlabs/storesync/internal/apperr"
	"github.com/tijarahlabs/storesync/internal/cache"
	"github.com/tijarahlabs/storesync/internal/erp"
	"github.com/tijarahlabs/storesync/internal/ingest"
	"github.com/tijarahlabs/storesync/internal/journal"
	"github.com/tijarahlabs/storesync/internal/metrics"
	"github.com/tijarahlabs/storesync/internal/ratelimit"
	"github.com/tijarahlabs/storesync/internal/store"
	"github.com/tijarahlabs/storesync/internal/syncer"
)

// maxBodyBytes caps request bodies; sync and webhook payloads are small.
const maxBodyBytes = 1 << 20

// Server holds the wired core behind the HTTP surface.
type Server struct {
	Store       *store.Store
	Cache       *cache.Cache
	Journal     *journal.Journal
	Fetcher     erp.Fetcher
	Transformer *erp.Transformer
	Ingestor    *ingest.Ingestor
	Processor   *syncer.Processor
	Queries     *cache.QueryCache
	Limiter     *ratelimit.Limiter
	Analytics   *analytics.Analytics

	// WebhookSecret enables HMAC verification of webhook deliveries when
	// non-empty.
	WebhookSecret string

	started time.Time
}

// Routes builds the router with all endpoints and middleware.
func (s *Server) Routes() http.Handler {
	if s.started.IsZero() {
		s.started = time.Now()
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Device-ID", "X-Client-ID", "X-Request-ID"},
		ExposedHeaders: []string{"X-Device-ID", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(requestIDMiddleware)
	r.Use(deviceIDMiddleware)
	r.Use(s.instrument)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.Health)
	r.Get("/health/sync-status", s.SyncStatus)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(s.rateLimit("sync-check")).Post("/sync/check", s.SyncCheck)
		r.With(s.rateLimit("sync-check-fast")).Post("/sync/check-fast", s.SyncCheckFast)
		r.With(s.rateLimit("sync-check-medium")).Post("/sync/check-medium", s.SyncCheckMedium)
		r.With(s.rateLimit("sync-check-slow")).Post("/sync/check-slow", s.SyncCheckSlow)

		r.Post("/webhooks/erpnext", s.WebhookERPNext)

		r.With(s.rateLimit("resource")).Get("/resource/{doctype}", s.GetResource)
		r.With(s.rateLimit("resource")).Get("/resource/{doctype}/{name}", s.GetResourceByName)

		r.With(s.rateLimit("collections")).Get("/hero", s.GetHero)
		r.With(s.rateLimit("collections")).Get("/bundle", s.GetBundle)
		r.With(s.rateLimit("collections")).Get("/home", s.GetHome)

		r.With(s.rateLimit("views")).Post("/views/{productId}", s.PostView)

		r.Post("/stock/update-all", s.UpdateAllStock)
		r.Post("/price/update-all", s.UpdateAllPrices)
	})

	log.Info().Msg("http routes registered")
	return r
}

// errorResponse is the stable error envelope of every failed request.
type errorResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeRaw writes a pre-rendered JSON body.
func writeRaw(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := io.WriteString(w, body); err != nil {
		log.Error().Err(err).Msg("failed to write response body")
	}
}

// writeError translates any error into the envelope, logging server-side
// failures with their cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)
	status := ae.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		log.Ctx(r.Context()).Warn().
			Int("status", status).
			Str("code", string(ae.Kind)).
			Msg(ae.Message)
	}
	writeJSON(w, status, errorResponse{
		Success: false,
		Error:   http.StatusText(status),
		Code:    string(ae.Kind),
		Message: ae.Message,
		Details: ae.Details,
	})
}

// decodeJSON parses a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return apperr.Validation("invalid JSON body", err.Error())
	}
	return nil
}
