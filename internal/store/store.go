// Package store wraps the key-value + stream primitive behind the rest of the
// system. Every durable byte lives here; callers never touch the redis client
// directly.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned on key misses so callers never compare against
// driver sentinels.
var ErrNotFound = errors.New("store: not found")

// Config selects the store endpoint. Zero values fall back to a local
// instance on the default database.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// Store is a thin adapter over one redis connection pool.
type Store struct {
	rdb *redis.Client
}

// Open connects and ping-verifies the store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6379
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 50
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("store: ping %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	log.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)).
		Int("db", cfg.DB).
		Int("pool_size", cfg.PoolSize).
		Msg("store connected")

	return &Store{rdb: rdb}, nil
}

// NewWithClient wraps an existing client. Tests use this with miniredis.
func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies connectivity within the context deadline.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// --- strings ---

// Get returns the string value at key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return v, err
}

// Set stores a string value. A zero ttl means no expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// SetNX stores a value only if the key does not exist yet; reports whether
// the write happened.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Incr atomically increments the integer at key, creating it at 1.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, key).Result()
}

// Del removes keys. Missing keys are not an error.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// Expire sets a ttl on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Expire(ctx, key, ttl).Err()
}

// TTL reports the remaining ttl of a key.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.rdb.TTL(ctx, key).Result()
}

// --- hashes ---

// HGetAll returns every field of the hash at key. A missing key yields an
// empty map, mirroring the store primitive.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

// HSet writes all fields in one atomic command.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make(map[string]any, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	return s.rdb.HSet(ctx, key, args).Err()
}

// HIncrBy atomically increments an integer hash field, creating it at n.
func (s *Store) HIncrBy(ctx context.Context, key, field string, n int64) (int64, error) {
	return s.rdb.HIncrBy(ctx, key, field, n).Result()
}

// HKeys returns the field names of the hash at key.
func (s *Store) HKeys(ctx context.Context, key string) ([]string, error) {
	return s.rdb.HKeys(ctx, key).Result()
}

// HMGet returns the named fields; missing fields come back as empty strings
// with ok=false in the parallel slice.
func (s *Store) HMGet(ctx context.Context, key string, fields ...string) ([]string, []bool, error) {
	vals, err := s.rdb.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, nil, err
	}
	out := make([]string, len(vals))
	ok := make([]bool, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		if sv, isStr := v.(string); isStr {
			out[i] = sv
			ok[i] = true
		} else {
			out[i] = fmt.Sprint(v)
			ok[i] = true
		}
	}
	return out, ok, nil
}

// HMutate applies field removals, field writes and a counter increment on one
// hash as a single transaction. A reader sees the whole previous state or the
// whole new state. Returns the incremented counter value, or 0 when incrField
// is empty.
func (s *Store) HMutate(ctx context.Context, key string, del []string, set map[string]string, incrField string) (int64, error) {
	pipe := s.rdb.TxPipeline()
	if len(del) > 0 {
		pipe.HDel(ctx, key, del...)
	}
	if len(set) > 0 {
		args := make(map[string]any, len(set))
		for k, v := range set {
			args[k] = v
		}
		pipe.HSet(ctx, key, args)
	}
	var incr *redis.IntCmd
	if incrField != "" {
		incr = pipe.HIncrBy(ctx, key, incrField, 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	if incr == nil {
		return 0, nil
	}
	return incr.Val(), nil
}

// --- sets ---

// SAdd adds members to a set.
func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.rdb.SAdd(ctx, key, args...).Err()
}

// SRem removes members from a set.
func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.rdb.SRem(ctx, key, args...).Err()
}

// SMembers returns every member of a set.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.rdb.SMembers(ctx, key).Result()
}

// SIsMember reports set membership.
func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return s.rdb.SIsMember(ctx, key, member).Result()
}

// --- streams ---

// StreamEntry is one decoded stream record.
type StreamEntry struct {
	ID     string
	Values map[string]string
}

// XAdd appends an entry with a store-assigned id and returns that id.
func (s *Store) XAdd(ctx context.Context, stream string, values map[string]string) (string, error) {
	args := make(map[string]any, len(values))
	for k, v := range values {
		args[k] = v
	}
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: args,
	}).Result()
}

// XRangeAfter returns up to count entries with ids strictly greater than
// afterID, in stream order. afterID "0-0" reads from the earliest entry.
func (s *Store) XRangeAfter(ctx context.Context, stream, afterID string, count int64) ([]StreamEntry, error) {
	start, err := NextID(afterID)
	if err != nil {
		return nil, fmt.Errorf("store: bad stream cursor %q: %w", afterID, err)
	}
	msgs, err := s.rdb.XRangeN(ctx, stream, start, "+", count).Result()
	if err != nil {
		return nil, err
	}
	return convertMessages(msgs), nil
}

// XRangeBefore returns up to count entries with ids at or below beforeID,
// oldest first. Used for age-based trimming.
func (s *Store) XRangeBefore(ctx context.Context, stream, beforeID string, count int64) ([]StreamEntry, error) {
	msgs, err := s.rdb.XRangeN(ctx, stream, "-", beforeID, count).Result()
	if err != nil {
		return nil, err
	}
	return convertMessages(msgs), nil
}

// XDel removes entries by id and returns how many were removed.
func (s *Store) XDel(ctx context.Context, stream string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.rdb.XDel(ctx, stream, ids...).Result()
}

// XLen returns the number of entries in a stream.
func (s *Store) XLen(ctx context.Context, stream string) (int64, error) {
	return s.rdb.XLen(ctx, stream).Result()
}

// XTrimMaxLen trims the stream to at most maxLen entries, dropping the
// oldest. Returns the number of entries removed.
func (s *Store) XTrimMaxLen(ctx context.Context, stream string, maxLen int64) (int64, error) {
	return s.rdb.XTrimMaxLen(ctx, stream, maxLen).Result()
}

// XFirst returns the oldest entry of the stream, or ErrNotFound when empty.
func (s *Store) XFirst(ctx context.Context, stream string) (StreamEntry, error) {
	msgs, err := s.rdb.XRangeN(ctx, stream, "-", "+", 1).Result()
	if err != nil {
		return StreamEntry{}, err
	}
	if len(msgs) == 0 {
		return StreamEntry{}, ErrNotFound
	}
	return convertMessages(msgs)[0], nil
}

// XLast returns the newest entry of the stream, or ErrNotFound when empty.
func (s *Store) XLast(ctx context.Context, stream string) (StreamEntry, error) {
	msgs, err := s.rdb.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		return StreamEntry{}, err
	}
	if len(msgs) == 0 {
		return StreamEntry{}, ErrNotFound
	}
	return convertMessages(msgs)[0], nil
}

func convertMessages(msgs []redis.XMessage) []StreamEntry {
	entries := make([]StreamEntry, 0, len(msgs))
	for _, m := range msgs {
		values := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			if sv, ok := v.(string); ok {
				values[k] = sv
			} else {
				values[k] = fmt.Sprint(v)
			}
		}
		entries = append(entries, StreamEntry{ID: m.ID, Values: values})
	}
	return entries
}

// --- scanning ---

// ScanKeys walks keys matching pattern, invoking fn for each. Iteration
// stops on the first fn error.
func (s *Store) ScanKeys(ctx context.Context, pattern string, fn func(key string) error) error {
	iter := s.rdb.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}

// --- stream id arithmetic ---

// ParseID splits a stream id of the form <ms>-<seq>.
func ParseID(id string) (ms, seq uint64, err error) {
	dash := strings.IndexByte(id, '-')
	if dash < 0 {
		return 0, 0, fmt.Errorf("stream id %q: missing sequence", id)
	}
	ms, err = strconv.ParseUint(id[:dash], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("stream id %q: %w", id, err)
	}
	seq, err = strconv.ParseUint(id[dash+1:], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("stream id %q: %w", id, err)
	}
	return ms, seq, nil
}

// NextID returns the smallest id strictly greater than id; reading a range
// from NextID(cursor) is the exclusive-cursor read XREAD performs on last-ids.
func NextID(id string) (string, error) {
	ms, seq, err := ParseID(id)
	if err != nil {
		return "", err
	}
	if seq == ^uint64(0) {
		return strconv.FormatUint(ms+1, 10) + "-0", nil
	}
	return strconv.FormatUint(ms, 10) + "-" + strconv.FormatUint(seq+1, 10), nil
}

// CutoffID returns the newest id covered by an age-based retention horizon.
func CutoffID(olderThan time.Time) string {
	ms := olderThan.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms, 10) + "-0"
}
