package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Store.Host != "localhost" || cfg.Store.Port != 6379 {
		t.Errorf("store defaults = %s:%d", cfg.Store.Host, cfg.Store.Port)
	}
	if cfg.Sync.StreamRetentionDays != 7 {
		t.Errorf("retention days = %d, want 7", cfg.Sync.StreamRetentionDays)
	}
	if cfg.Sync.StreamMaxLength != 10000 {
		t.Errorf("stream max length = %d, want 10000", cfg.Sync.StreamMaxLength)
	}
	if cfg.Sync.FullRefreshDay != 6 || cfg.Sync.FullRefreshHour != 6 {
		t.Errorf("refresh schedule = day %d hour %d, want Saturday 06:00",
			cfg.Sync.FullRefreshDay, cfg.Sync.FullRefreshHour)
	}
	if cfg.StreamRetention() != 7*24*time.Hour {
		t.Errorf("StreamRetention = %v", cfg.StreamRetention())
	}
	if cfg.QueryCacheTTL() != 5*time.Minute {
		t.Errorf("QueryCacheTTL = %v", cfg.QueryCacheTTL())
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_HOST", "store.internal")
	t.Setenv("STORE_PORT", "6380")
	t.Setenv("ERP_BASE_URL", "https://erp.example.com")
	t.Setenv("SYNC_STREAM_RETENTION_DAYS", "3")
	t.Setenv("STREAM_MAX_LENGTH", "500")
	t.Setenv("SYNC_FULL_REFRESH_DAY", "0")
	t.Setenv("SYNC_FULL_REFRESH_HOUR", "2")

	cfg := Load()
	if cfg.Store.Host != "store.internal" || cfg.Store.Port != 6380 {
		t.Errorf("store = %s:%d", cfg.Store.Host, cfg.Store.Port)
	}
	if cfg.ERP.BaseURL != "https://erp.example.com" {
		t.Errorf("erp base url = %s", cfg.ERP.BaseURL)
	}
	if cfg.Sync.StreamRetentionDays != 3 || cfg.Sync.StreamMaxLength != 500 {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if cfg.Sync.FullRefreshDay != 0 || cfg.Sync.FullRefreshHour != 2 {
		t.Errorf("refresh = day %d hour %d", cfg.Sync.FullRefreshDay, cfg.Sync.FullRefreshHour)
	}
}

func TestLoadIgnoresMalformedInt(t *testing.T) {
	t.Setenv("STORE_PORT", "not-a-number")
	cfg := Load()
	if cfg.Store.Port != 6379 {
		t.Errorf("malformed int should fall back to default, got %d", cfg.Store.Port)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		c := Load()
		c.ERP.BaseURL = "https://erp.example.com"
		return c
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	c := base()
	c.ERP.BaseURL = ""
	if err := c.Validate(); !errors.Is(err, ErrMissingERPBaseURL) {
		t.Errorf("missing base url: %v", err)
	}

	c = base()
	c.Sync.FullRefreshDay = 7
	if err := c.Validate(); !errors.Is(err, ErrBadRefreshDay) {
		t.Errorf("bad day: %v", err)
	}

	c = base()
	c.Sync.FullRefreshHour = 24
	if err := c.Validate(); !errors.Is(err, ErrBadRefreshHour) {
		t.Errorf("bad hour: %v", err)
	}

	c = base()
	c.Analytics.AggregationMinute = 61
	if err := c.Validate(); !errors.Is(err, ErrBadAggregationTime) {
		t.Errorf("bad aggregation minute: %v", err)
	}
}
