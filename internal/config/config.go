// Package config loads the process configuration from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

var (
	// ErrMissingERPBaseURL indicates the ERP endpoint is not configured.
	ErrMissingERPBaseURL = errors.New("ERP_BASE_URL is required")

	// ErrBadRefreshDay indicates SYNC_FULL_REFRESH_DAY is out of range.
	ErrBadRefreshDay = errors.New("SYNC_FULL_REFRESH_DAY must be 0..6 (Sunday=0)")

	// ErrBadRefreshHour indicates SYNC_FULL_REFRESH_HOUR is out of range.
	ErrBadRefreshHour = errors.New("SYNC_FULL_REFRESH_HOUR must be 0..23")

	// ErrBadAggregationTime indicates the analytics trigger is out of range.
	ErrBadAggregationTime = errors.New("ANALYTICS_AGGREGATION_HOUR must be 0..23 and ANALYTICS_AGGREGATION_MINUTE 0..59")
)

// Store selects the KV/stream store endpoint.
type Store struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// ERP selects the back-office endpoint and credentials.
type ERP struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Sync tunes journal retention and the weekly refresh.
type Sync struct {
	StreamRetentionDays int
	StreamMaxLength     int64
	FullRefreshDay      int // 0=Sunday .. 6=Saturday
	FullRefreshHour     int
}

// Analytics tunes the daily aggregation job.
type Analytics struct {
	AggregationHour   int
	AggregationMinute int
	RetentionDays     int
}

// RateLimit tunes the store-backed request counters.
type RateLimit struct {
	WindowSeconds int
	MaxRequests   int
}

// Config is the full process configuration.
type Config struct {
	Env      string
	LogLevel string
	HTTPAddr string

	Store     Store
	ERP       ERP
	Sync      Sync
	Analytics Analytics
	RateLimit RateLimit

	WebhookSecret        string
	QueryCacheTTLSeconds int
}

// Load reads the environment, applying defaults for everything optional.
func Load() Config {
	return Config{
		Env:      env("ENV", "dev"),
		LogLevel: env("LOG_LEVEL", "info"),
		HTTPAddr: env("HTTP_ADDR", ":8080"),
		Store: Store{
			Host:     env("STORE_HOST", "localhost"),
			Port:     envInt("STORE_PORT", 6379),
			Password: env("STORE_PASSWORD", ""),
			DB:       envInt("STORE_DB", 0),
		},
		ERP: ERP{
			BaseURL:   env("ERP_BASE_URL", ""),
			APIKey:    env("ERP_API_KEY", ""),
			APISecret: env("ERP_API_SECRET", ""),
			Timeout:   time.Duration(envInt("ERP_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Sync: Sync{
			StreamRetentionDays: envInt("SYNC_STREAM_RETENTION_DAYS", 7),
			StreamMaxLength:     int64(envInt("STREAM_MAX_LENGTH", 10000)),
			FullRefreshDay:      envInt("SYNC_FULL_REFRESH_DAY", 6), // Saturday
			FullRefreshHour:     envInt("SYNC_FULL_REFRESH_HOUR", 6),
		},
		Analytics: Analytics{
			AggregationHour:   envInt("ANALYTICS_AGGREGATION_HOUR", 0),
			AggregationMinute: envInt("ANALYTICS_AGGREGATION_MINUTE", 0),
			RetentionDays:     envInt("ANALYTICS_RETENTION_DAYS", 30),
		},
		RateLimit: RateLimit{
			WindowSeconds: envInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			MaxRequests:   envInt("RATE_LIMIT_MAX_REQUESTS", 300),
		},
		WebhookSecret:        env("WEBHOOK_SECRET", ""),
		QueryCacheTTLSeconds: envInt("QUERY_CACHE_TTL_SECONDS", 300),
	}
}

// Validate checks ranges that would otherwise surface as scheduler or client
// misbehaviour long after startup.
func (c Config) Validate() error {
	if c.ERP.BaseURL == "" {
		return ErrMissingERPBaseURL
	}
	if c.Sync.FullRefreshDay < 0 || c.Sync.FullRefreshDay > 6 {
		return ErrBadRefreshDay
	}
	if c.Sync.FullRefreshHour < 0 || c.Sync.FullRefreshHour > 23 {
		return ErrBadRefreshHour
	}
	if c.Analytics.AggregationHour < 0 || c.Analytics.AggregationHour > 23 ||
		c.Analytics.AggregationMinute < 0 || c.Analytics.AggregationMinute > 59 {
		return ErrBadAggregationTime
	}
	return nil
}

// StreamRetention returns the journal age bound as a duration.
func (c Config) StreamRetention() time.Duration {
	return time.Duration(c.Sync.StreamRetentionDays) * 24 * time.Hour
}

// QueryCacheTTL returns the query-response cache ttl as a duration.
func (c Config) QueryCacheTTL() time.Duration {
	return time.Duration(c.QueryCacheTTLSeconds) * time.Second
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
