package analytics

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tijarahlabs/storesync/internal/store"
)

func newTestAnalytics(t *testing.T, retention time.Duration) (*Analytics, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(store.NewWithClient(rdb), retention), rdb
}

// seedAt writes one raw event with an explicit stream id so tests can place
// events on specific days.
func seedAt(t *testing.T, rdb *redis.Client, at time.Time, seq int, values map[string]any) {
	t.Helper()
	id := strconv.FormatInt(at.UnixMilli(), 10) + "-" + strconv.Itoa(seq)
	err := rdb.XAdd(context.Background(), &redis.XAddArgs{
		Stream: eventsStream,
		ID:     id,
		Values: values,
	}).Err()
	if err != nil {
		t.Fatal(err)
	}
}

func TestRecordAndAggregate(t *testing.T) {
	a, _ := newTestAnalytics(t, 0)
	ctx := context.Background()

	a.Record(ctx, Event{Device: "dev-1", Tier: "fast", Updates: 2, InSync: false})
	a.Record(ctx, Event{Device: "dev-2", Tier: "fast", Updates: 0, InSync: true})
	a.Record(ctx, Event{Device: "dev-1", Tier: "slow", Updates: 5, InSync: false})

	counters, err := a.Aggregate(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]int64{
		"requests": 3, "in_sync": 1, "updates": 7,
		"tier:fast": 2, "tier:slow": 1, "unique_devices": 2,
	}
	for k, v := range want {
		if counters[k] != v {
			t.Fatalf("counters[%s] = %d, want %d (all: %v)", k, counters[k], v, counters)
		}
	}

	// Re-aggregation overwrites rather than doubles.
	if _, err := a.Aggregate(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}
	daily, err := a.Daily(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if daily["requests"] != 3 || daily["updates"] != 7 {
		t.Fatalf("daily = %v", daily)
	}
}

func TestAggregateIsDayScoped(t *testing.T) {
	a, rdb := newTestAnalytics(t, 0)
	ctx := context.Background()

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	seedAt(t, rdb, yesterday, 0, map[string]any{"device": "old", "updates": "1", "in_sync": "false"})
	a.Record(ctx, Event{Device: "dev-1", Updates: 3})

	today, err := a.Aggregate(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if today["requests"] != 1 || today["updates"] != 3 {
		t.Fatalf("today = %v", today)
	}

	prev, err := a.Aggregate(ctx, yesterday)
	if err != nil {
		t.Fatal(err)
	}
	if prev["requests"] != 1 || prev["updates"] != 1 {
		t.Fatalf("yesterday = %v", prev)
	}
}

func TestCleanupDropsExpiredEvents(t *testing.T) {
	a, rdb := newTestAnalytics(t, 30*24*time.Hour)
	ctx := context.Background()

	old := time.Now().Add(-40 * 24 * time.Hour)
	seedAt(t, rdb, old, 0, map[string]any{"updates": "1", "in_sync": "true"})
	seedAt(t, rdb, old, 1, map[string]any{"updates": "2", "in_sync": "false"})
	a.Record(ctx, Event{Device: "dev-1", Updates: 1})

	removed, err := a.Cleanup(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d", removed)
	}
	length, err := rdb.XLen(ctx, eventsStream).Result()
	if err != nil {
		t.Fatal(err)
	}
	if length != 1 {
		t.Fatalf("stream length = %d", length)
	}
}

func TestRunDaily(t *testing.T) {
	a, rdb := newTestAnalytics(t, 30*24*time.Hour)
	ctx := context.Background()

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	seedAt(t, rdb, yesterday, 0, map[string]any{"device": "dev-1", "updates": "4", "in_sync": "false"})
	seedAt(t, rdb, yesterday, 1, map[string]any{"device": "dev-1", "updates": "0", "in_sync": "true"})

	if err := a.RunDaily(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}
	daily, err := a.Daily(ctx, yesterday)
	if err != nil {
		t.Fatal(err)
	}
	if daily["requests"] != 2 || daily["updates"] != 4 || daily["in_sync"] != 1 || daily["unique_devices"] != 1 {
		t.Fatalf("daily = %v", daily)
	}
}
