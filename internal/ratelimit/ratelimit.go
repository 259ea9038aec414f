// Package ratelimit implements a fixed-window per-device request limiter
// over the store. The limiter fails open: when the store cannot answer, the
// request goes through and the degradation is logged once.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tijarahlabs/storesync/internal/store"
)

// Limiter counts hits in ratelimit:<device>:<endpoint> keys that expire with
// the window.
type Limiter struct {
	store  *store.Store
	window time.Duration
	max    int64

	once sync.Once
}

// New builds a limiter allowing max requests per device and endpoint within
// window. max <= 0 disables limiting.
func New(s *store.Store, window time.Duration, max int64) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: s, window: window, max: max}
}

// Window returns the configured window, for Retry-After hints.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Allow counts one hit and reports whether the caller is within budget.
func (l *Limiter) Allow(ctx context.Context, device, endpoint string) bool {
	if l.max <= 0 {
		return true
	}
	key := "ratelimit:" + device + ":" + endpoint

	n, err := l.store.Incr(ctx, key)
	if err != nil {
		l.failOpen(err)
		return true
	}
	if n == 1 {
		if err := l.store.Expire(ctx, key, l.window); err != nil {
			l.failOpen(err)
		}
	}
	if n <= l.max {
		return true
	}

	// A window that lost its expiry would block forever: reset it instead.
	if ttl, err := l.store.TTL(ctx, key); err == nil && ttl < 0 {
		_ = l.store.Del(ctx, key)
		return true
	}
	return false
}

func (l *Limiter) failOpen(err error) {
	l.once.Do(func() {
		log.Warn().Err(err).Msg("rate limiter store unavailable, failing open")
	})
}
