package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/tijarahlabs/storesync/internal/store"
)

// QueryCache stores rendered query responses keyed by a digest of the query
// string under cache:<type>:<id>:query:<md5>. List-shaped queries use "_list"
// in the id slot.
type QueryCache struct {
	store *store.Store
	ttl   time.Duration
}

// NewQueryCache wires the query-response cache with its ttl.
func NewQueryCache(s *store.Store, ttl time.Duration) *QueryCache {
	return &QueryCache{store: s, ttl: ttl}
}

// QueryKey builds the store key for a cached query response. id may be empty
// for list-shaped queries.
func QueryKey(doctype, id, rawQuery string) string {
	if id == "" {
		id = "_list"
	}
	sum := md5.Sum([]byte(rawQuery))
	return fmt.Sprintf("cache:%s:%s:query:%s", doctype, id, hex.EncodeToString(sum[:]))
}

// Get returns the cached response body, or ErrMiss.
func (q *QueryCache) Get(ctx context.Context, doctype, id, rawQuery string) (string, error) {
	body, err := q.store.Get(ctx, QueryKey(doctype, id, rawQuery))
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrMiss
	}
	return body, err
}

// Set stores the response body under the query digest with the configured ttl.
func (q *QueryCache) Set(ctx context.Context, doctype, id, rawQuery, body string) error {
	return q.store.Set(ctx, QueryKey(doctype, id, rawQuery), body, q.ttl)
}
