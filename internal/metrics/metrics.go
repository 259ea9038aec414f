// Package metrics exposes the Prometheus collectors for the sync service.
// Collectors are package level so any package can record to them; the
// Collector in this package additionally polls journal lengths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storesync_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storesync_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storesync_rate_limit_rejected_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"endpoint"},
	)

	// Sync metrics
	SyncUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storesync_sync_updates_total",
			Help: "Total number of entity updates delivered to clients by tier",
		},
		[]string{"tier"},
	)

	// Ingest metrics
	IngestWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storesync_ingest_writes_total",
			Help: "Total number of ingested writes that changed an entity",
		},
		[]string{"entity_type"},
	)

	IngestSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storesync_ingest_skips_total",
			Help: "Total number of ingests skipped because content was unchanged",
		},
		[]string{"entity_type"},
	)

	// Journal metrics
	JournalLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storesync_journal_length",
			Help: "Current number of entries in the change journal by entity type",
		},
		[]string{"entity_type"},
	)

	// ERP metrics
	ERPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storesync_erp_requests_total",
			Help: "Total number of ERP requests by outcome",
		},
		[]string{"outcome"},
	)

	ERPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storesync_erp_request_duration_seconds",
			Help:    "ERP request duration in seconds by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(RateLimitRejectedTotal)
	prometheus.MustRegister(SyncUpdatesTotal)
	prometheus.MustRegister(IngestWritesTotal)
	prometheus.MustRegister(IngestSkipsTotal)
	prometheus.MustRegister(JournalLength)
	prometheus.MustRegister(ERPRequestsTotal)
	prometheus.MustRegister(ERPRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
