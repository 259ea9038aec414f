// Package journal manages the per-type append-only change logs. Every cache
// mutation lands here as one stream entry; sync clients replay the streams
// from their cursors. Entries are hints, never payloads: readers resolve the
// authoritative value from the cache by id.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tijarahlabs/storesync/internal/entity"
	"github.com/tijarahlabs/storesync/internal/store"
)

// Stream entry field names. Audience lists are JSON-encoded because the
// stream type stores flat strings only.
const (
	fieldEntityID  = "entity_id"
	fieldDataHash  = "data_hash"
	fieldVersion   = "version"
	fieldIdemKey   = "idempotency_key"
	fieldPrevHash  = "prev_hash"
	fieldUserID    = "user_id"
	fieldIsDeleted = "is_deleted"
)

// targetFields are the audience list fields carried on notification entries.
var targetFields = []string{
	"target_users", "target_groups", "target_regions",
	"target_provinces", "target_cities", "target_devices",
}

const fieldNonRegistered = "target_non_registered"

// Entry is the writer-side shape of one journal append.
type Entry struct {
	EntityID       string
	DataHash       string
	Version        int64
	IdempotencyKey string
	PrevHash       string

	// Targets is written on notification entries so the sync processor can
	// audience-filter without a cache read per entry.
	Targets *entity.TargetSet

	// UserID and IsDeleted scope message entries to their owner.
	UserID    string
	IsDeleted bool
}

// Journal wraps the change streams of every entity type.
type Journal struct {
	store     *store.Store
	maxLen    int64
	retention time.Duration
}

// New builds a journal with the given retention bounds. maxLen <= 0 disables
// length trimming; retention <= 0 disables age trimming.
func New(s *store.Store, maxLen int64, retention time.Duration) *Journal {
	return &Journal{store: s, maxLen: maxLen, retention: retention}
}

// Append writes one change entry to the journal of typ and returns the
// store-assigned id.
func (j *Journal) Append(ctx context.Context, typ entity.Type, e Entry) (string, error) {
	values := map[string]string{
		fieldEntityID: e.EntityID,
		fieldDataHash: e.DataHash,
		fieldVersion:  strconv.FormatInt(e.Version, 10),
	}
	if e.IdempotencyKey != "" {
		values[fieldIdemKey] = e.IdempotencyKey
	}
	if e.PrevHash != "" {
		values[fieldPrevHash] = e.PrevHash
	}
	if e.UserID != "" {
		values[fieldUserID] = e.UserID
	}
	if e.IsDeleted {
		values[fieldIsDeleted] = "true"
	}
	if e.Targets != nil {
		if err := encodeTargets(e.Targets, values); err != nil {
			return "", fmt.Errorf("journal: encode targets for %s/%s: %w", typ, e.EntityID, err)
		}
	}

	id, err := j.store.XAdd(ctx, typ.JournalKey(), values)
	if err != nil {
		return "", fmt.Errorf("journal: append %s/%s: %w", typ, e.EntityID, err)
	}
	return id, nil
}

// ReadSince returns up to limit entries with ids strictly after afterID, in
// journal order. afterID entity.EarliestID reads from the start.
func (j *Journal) ReadSince(ctx context.Context, typ entity.Type, afterID string, limit int64) ([]entity.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := j.store.XRangeAfter(ctx, typ.JournalKey(), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: read %s after %s: %w", typ, afterID, err)
	}
	entries := make([]entity.JournalEntry, 0, len(raw))
	for _, r := range raw {
		entries = append(entries, decodeEntry(r))
	}
	return entries, nil
}

// Length returns the number of entries in the journal of typ.
func (j *Journal) Length(ctx context.Context, typ entity.Type) (int64, error) {
	return j.store.XLen(ctx, typ.JournalKey())
}

// Info describes one journal for the sync-status endpoint.
type Info struct {
	Length  int64  `json:"length"`
	FirstID string `json:"firstId,omitempty"`
	LastID  string `json:"lastId,omitempty"`
}

// InfoFor returns length and id bounds of one journal. An empty journal
// yields a zero Info.
func (j *Journal) InfoFor(ctx context.Context, typ entity.Type) (Info, error) {
	key := typ.JournalKey()
	n, err := j.store.XLen(ctx, key)
	if err != nil {
		return Info{}, err
	}
	if n == 0 {
		return Info{}, nil
	}
	first, err := j.store.XFirst(ctx, key)
	if err != nil {
		return Info{}, err
	}
	last, err := j.store.XLast(ctx, key)
	if err != nil {
		return Info{}, err
	}
	return Info{Length: n, FirstID: first.ID, LastID: last.ID}, nil
}

// InfoAll returns Info for every entity type, keyed by journal stream name.
func (j *Journal) InfoAll(ctx context.Context) (map[string]Info, error) {
	out := make(map[string]Info, len(entity.All()))
	for _, typ := range entity.All() {
		info, err := j.InfoFor(ctx, typ)
		if err != nil {
			return nil, fmt.Errorf("journal: info %s: %w", typ, err)
		}
		out[typ.JournalKey()] = info
	}
	return out, nil
}

// Trim applies the retention policy to one journal: entries beyond the length
// bound and entries older than the retention window are removed. The length
// bound is the tighter of the configured maximum and the rate-derived
// estimate. Returns how many entries were removed.
func (j *Journal) Trim(ctx context.Context, typ entity.Type) (int64, error) {
	key := typ.JournalKey()
	var removed int64

	if j.maxLen > 0 {
		bound := j.maxLen
		if est, err := j.estimateMaxLength(ctx, typ); err == nil && est > 0 && est < bound {
			bound = est
		}
		n, err := j.store.XTrimMaxLen(ctx, key, bound)
		if err != nil {
			return removed, fmt.Errorf("journal: trim %s to %d: %w", typ, bound, err)
		}
		removed += n
	}

	if j.retention > 0 {
		cutoff := store.CutoffID(time.Now().Add(-j.retention))
		for {
			old, err := j.store.XRangeBefore(ctx, key, cutoff, 500)
			if err != nil {
				return removed, fmt.Errorf("journal: expire %s: %w", typ, err)
			}
			if len(old) == 0 {
				break
			}
			ids := make([]string, len(old))
			for i, e := range old {
				ids[i] = e.ID
			}
			n, err := j.store.XDel(ctx, key, ids...)
			if err != nil {
				return removed, fmt.Errorf("journal: expire %s: %w", typ, err)
			}
			removed += n
			if int64(len(old)) < 500 {
				break
			}
		}
	}

	return removed, nil
}

// TrimAll trims every journal and returns the total removed. Per-type errors
// are logged and skipped so one sick stream cannot block the rest.
func (j *Journal) TrimAll(ctx context.Context) int64 {
	var total int64
	for _, typ := range entity.All() {
		n, err := j.Trim(ctx, typ)
		if err != nil {
			log.Error().Err(err).Str("entity_type", string(typ)).Msg("journal trim failed")
			continue
		}
		total += n
	}
	if total > 0 {
		log.Info().Int64("removed", total).Msg("journal trim complete")
	}
	return total
}

// estimateMaxLength derives a length bound from the observed append rate:
// entries per day over the journal's id span, scaled to the retention window.
// Returns 0 when the journal is empty or the span is too short to estimate.
func (j *Journal) estimateMaxLength(ctx context.Context, typ entity.Type) (int64, error) {
	if j.retention <= 0 {
		return 0, nil
	}
	info, err := j.InfoFor(ctx, typ)
	if err != nil || info.Length == 0 {
		return 0, err
	}
	firstMs, _, err := store.ParseID(info.FirstID)
	if err != nil {
		return 0, err
	}
	lastMs, _, err := store.ParseID(info.LastID)
	if err != nil {
		return 0, err
	}
	spanDays := float64(lastMs-firstMs) / float64(24*time.Hour/time.Millisecond)
	if spanDays < 1 {
		return 0, nil
	}
	perDay := float64(info.Length) / spanDays
	retentionDays := j.retention.Hours() / 24
	return int64(perDay*retentionDays) + 1, nil
}

func encodeTargets(ts *entity.TargetSet, values map[string]string) error {
	lists := map[string][]string{
		"target_users":     ts.Users,
		"target_groups":    ts.Groups,
		"target_regions":   ts.Regions,
		"target_provinces": ts.Provinces,
		"target_cities":    ts.Cities,
		"target_devices":   ts.Devices,
	}
	for field, list := range lists {
		if len(list) == 0 {
			continue
		}
		b, err := json.Marshal(list)
		if err != nil {
			return err
		}
		values[field] = string(b)
	}
	if ts.NonRegistered {
		values[fieldNonRegistered] = "true"
	}
	return nil
}

func decodeEntry(r store.StreamEntry) entity.JournalEntry {
	e := entity.JournalEntry{
		ID:             r.ID,
		EntityID:       r.Values[fieldEntityID],
		DataHash:       r.Values[fieldDataHash],
		IdempotencyKey: r.Values[fieldIdemKey],
		PrevHash:       r.Values[fieldPrevHash],
		UserID:         r.Values[fieldUserID],
		IsDeleted:      r.Values[fieldIsDeleted] == "true",
	}
	if v, err := strconv.ParseInt(r.Values[fieldVersion], 10, 64); err == nil {
		e.Version = v
	}
	for _, f := range targetFields {
		if v, ok := r.Values[f]; ok {
			if e.RawTargets == nil {
				e.RawTargets = make(map[string]string, 4)
			}
			e.RawTargets[f] = v
		}
	}
	if v, ok := r.Values[fieldNonRegistered]; ok {
		if e.RawTargets == nil {
			e.RawTargets = make(map[string]string, 1)
		}
		e.RawTargets[fieldNonRegistered] = v
	}
	return e
}
