// Package cache implements the transformed-entity cache: one store-level hash
// object per (type, id) holding the app-ready payload fields next to the
// content hash, version counter and update timestamp. The cache is the source
// of truth served to clients; the change journal only hints at it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tijarahlabs/storesync/internal/entity"
	"github.com/tijarahlabs/storesync/internal/store"
)

// ErrMiss is returned when no cache entry exists for the requested entity.
var ErrMiss = errors.New("cache: miss")

// Metadata field names reserved within the entity hash. The transformer never
// emits payload fields under these names.
const (
	fieldDataHash  = "data_hash"
	fieldVersion   = "version"
	fieldUpdatedAt = "updated_at"
)

// Cache reads and writes transformed entities.
type Cache struct {
	store *store.Store
}

// New wires the cache onto the store adapter.
func New(s *store.Store) *Cache {
	return &Cache{store: s}
}

// Get returns the full cached entity, or ErrMiss.
func (c *Cache) Get(ctx context.Context, typ entity.Type, id string) (*entity.CachedEntity, error) {
	fields, err := c.store.HGetAll(ctx, typ.CacheKey(id))
	if err != nil {
		return nil, fmt.Errorf("cache get %s/%s: %w", typ, id, err)
	}
	if len(fields) == 0 {
		return nil, ErrMiss
	}
	return decodeEntity(typ, id, fields), nil
}

// GetHash returns only the content hash and version, avoiding payload
// transfer on the compare-heavy ingest path.
func (c *Cache) GetHash(ctx context.Context, typ entity.Type, id string) (string, int64, error) {
	vals, present, err := c.store.HMGet(ctx, typ.CacheKey(id), fieldDataHash, fieldVersion)
	if err != nil {
		return "", 0, fmt.Errorf("cache gethash %s/%s: %w", typ, id, err)
	}
	if !present[0] {
		return "", 0, ErrMiss
	}
	version, _ := strconv.ParseInt(vals[1], 10, 64)
	return vals[0], version, nil
}

// Set stores the payload, hash and timestamp and bumps the version, all in
// one atomic mutation. Payload fields that existed before but are absent from
// the new payload are removed in the same mutation. Returns the new version.
func (c *Cache) Set(ctx context.Context, typ entity.Type, id string, payload map[string]any, hash string, updatedAt int64) (int64, error) {
	key := typ.CacheKey(id)

	fields := make(map[string]string, len(payload)+3)
	for k, v := range payload {
		if reservedField(k) {
			continue
		}
		enc, err := json.Marshal(v)
		if err != nil {
			return 0, fmt.Errorf("cache set %s/%s: encode field %q: %w", typ, id, k, err)
		}
		fields[k] = string(enc)
	}
	fields[fieldDataHash] = hash
	fields[fieldUpdatedAt] = strconv.FormatInt(updatedAt, 10)

	stale, err := c.staleFields(ctx, key, fields)
	if err != nil {
		return 0, err
	}

	version, err := c.store.HMutate(ctx, key, stale, fields, fieldVersion)
	if err != nil {
		return 0, fmt.Errorf("cache set %s/%s: %w", typ, id, err)
	}
	return version, nil
}

// BumpVersion increments the version counter alone, creating it at 1.
func (c *Cache) BumpVersion(ctx context.Context, typ entity.Type, id string) (int64, error) {
	return c.store.HIncrBy(ctx, typ.CacheKey(id), fieldVersion, 1)
}

// Tombstone marks the entity deleted: payload fields removed, hash set to the
// tombstone marker, version bumped. Returns the new version.
func (c *Cache) Tombstone(ctx context.Context, typ entity.Type, id string) (int64, error) {
	key := typ.CacheKey(id)

	fields := map[string]string{
		fieldDataHash:  entity.TombstoneHash,
		fieldUpdatedAt: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	stale, err := c.staleFields(ctx, key, fields)
	if err != nil {
		return 0, err
	}

	version, err := c.store.HMutate(ctx, key, stale, fields, fieldVersion)
	if err != nil {
		return 0, fmt.Errorf("cache tombstone %s/%s: %w", typ, id, err)
	}
	return version, nil
}

// staleFields lists current hash fields that the pending write does not
// cover, so removals travel in the same atomic mutation as the write.
func (c *Cache) staleFields(ctx context.Context, key string, next map[string]string) ([]string, error) {
	existing, err := c.store.HKeys(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cache: list fields %s: %w", key, err)
	}
	var stale []string
	for _, f := range existing {
		if f == fieldVersion {
			continue
		}
		if _, kept := next[f]; !kept {
			stale = append(stale, f)
		}
	}
	return stale, nil
}

func decodeEntity(typ entity.Type, id string, fields map[string]string) *entity.CachedEntity {
	e := &entity.CachedEntity{
		Type:    typ,
		ID:      id,
		Payload: make(map[string]any, len(fields)),
	}
	for k, v := range fields {
		switch k {
		case fieldDataHash:
			e.DataHash = v
		case fieldVersion:
			e.Version, _ = strconv.ParseInt(v, 10, 64)
		case fieldUpdatedAt:
			e.UpdatedAt, _ = strconv.ParseInt(v, 10, 64)
		default:
			var decoded any
			if err := json.Unmarshal([]byte(v), &decoded); err != nil {
				// Legacy or hand-written values may be raw strings.
				e.Payload[k] = v
				continue
			}
			e.Payload[k] = decoded
		}
	}
	return e
}

func reservedField(k string) bool {
	return k == fieldDataHash || k == fieldVersion || k == fieldUpdatedAt
}
