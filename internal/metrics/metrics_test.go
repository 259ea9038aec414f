package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tijarahlabs/storesync/internal/entity"
	"github.com/tijarahlabs/storesync/internal/journal"
	"github.com/tijarahlabs/storesync/internal/store"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestCollectorTracksJournalLength(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	j := journal.New(store.NewWithClient(rdb), 0, 0)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := j.Append(ctx, entity.TypeProduct, journal.Entry{
			EntityID: "ITEM-0001",
			DataHash: fmt.Sprintf("h%d", i),
			Version:  int64(i),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	c := NewCollector(j)
	c.collect()

	want := `storesync_journal_length{entity_type="product"} 3`
	if body := scrape(t); !strings.Contains(body, want) {
		t.Fatalf("scrape missing %q", want)
	}
}

func TestCountersAppearInScrape(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("/api/sync/check", "200").Inc()
	SyncUpdatesTotal.WithLabelValues("fast").Add(4)
	IngestWritesTotal.WithLabelValues("product").Inc()
	IngestSkipsTotal.WithLabelValues("product").Inc()
	ERPRequestsTotal.WithLabelValues("ok").Inc()
	RateLimitRejectedTotal.WithLabelValues("sync-check").Inc()

	body := scrape(t)
	for _, want := range []string{
		`storesync_http_requests_total{route="/api/sync/check",status="200"}`,
		`storesync_sync_updates_total{tier="fast"} 4`,
		`storesync_ingest_writes_total{entity_type="product"}`,
		`storesync_ingest_skips_total{entity_type="product"}`,
		`storesync_erp_requests_total{outcome="ok"}`,
		`storesync_rate_limit_rejected_total{endpoint="sync-check"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("scrape missing %q", want)
		}
	}
}
