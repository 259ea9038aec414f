package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tijarahlabs/storesync/internal/store"
)

func newTestLimiter(t *testing.T, window time.Duration, max int64) (*Limiter, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(store.NewWithClient(rdb), window, max), mr, rdb
}

func TestAllowWithinBudget(t *testing.T) {
	l, _, _ := newTestLimiter(t, time.Minute, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !l.Allow(ctx, "dev-1", "sync") {
			t.Fatalf("request %d blocked", i+1)
		}
	}
	if l.Allow(ctx, "dev-1", "sync") {
		t.Fatal("fourth request allowed")
	}
}

func TestWindowResets(t *testing.T) {
	l, mr, _ := newTestLimiter(t, time.Minute, 1)
	ctx := context.Background()

	if !l.Allow(ctx, "dev-1", "sync") {
		t.Fatal("first request blocked")
	}
	if l.Allow(ctx, "dev-1", "sync") {
		t.Fatal("second request allowed")
	}

	mr.FastForward(61 * time.Second)
	if !l.Allow(ctx, "dev-1", "sync") {
		t.Fatal("request after window blocked")
	}
}

func TestDevicesAndEndpointsAreIsolated(t *testing.T) {
	l, _, _ := newTestLimiter(t, time.Minute, 1)
	ctx := context.Background()

	if !l.Allow(ctx, "dev-1", "sync") {
		t.Fatal("dev-1 blocked")
	}
	if !l.Allow(ctx, "dev-2", "sync") {
		t.Fatal("dev-2 shares dev-1's budget")
	}
	if !l.Allow(ctx, "dev-1", "webhook") {
		t.Fatal("webhook shares sync's budget")
	}
	if l.Allow(ctx, "dev-1", "sync") {
		t.Fatal("dev-1 sync budget not enforced")
	}
}

func TestDisabledLimiter(t *testing.T) {
	l, _, _ := newTestLimiter(t, time.Minute, 0)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if !l.Allow(ctx, "dev-1", "sync") {
			t.Fatal("disabled limiter blocked a request")
		}
	}
}

func TestFailsOpenWhenStoreIsDown(t *testing.T) {
	l, _, rdb := newTestLimiter(t, time.Minute, 1)
	ctx := context.Background()
	_ = rdb.Close()

	for i := 0; i < 5; i++ {
		if !l.Allow(ctx, "dev-1", "sync") {
			t.Fatal("limiter failed closed")
		}
	}
}
