// Package analytics captures sync activity into an events stream and rolls
// it up into daily counters. Capture is best-effort: a sync response never
// fails because the events stream is sick.
package analytics

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tijarahlabs/storesync/internal/apperr"
	"github.com/tijarahlabs/storesync/internal/store"
)

const (
	eventsStream = "analytics:events"
	readBatch    = 500
)

// Analytics owns the events stream and the daily rollup hashes.
type Analytics struct {
	store     *store.Store
	retention time.Duration
}

// New builds the analytics sink. retention bounds both raw events and daily
// hashes.
func New(s *store.Store, retention time.Duration) *Analytics {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Analytics{store: s, retention: retention}
}

// Event is one sync check observation.
type Event struct {
	Device  string
	Tier    string
	Updates int
	InSync  bool
}

// Record appends one observation. Failures are logged and swallowed.
func (a *Analytics) Record(ctx context.Context, e Event) {
	values := map[string]string{
		"updates": strconv.Itoa(e.Updates),
		"in_sync": strconv.FormatBool(e.InSync),
	}
	if e.Device != "" {
		values["device"] = e.Device
	}
	if e.Tier != "" {
		values["tier"] = e.Tier
	}
	if _, err := a.store.XAdd(ctx, eventsStream, values); err != nil {
		log.Warn().Err(err).Msg("analytics event dropped")
	}
}

func dailyKey(day time.Time) string {
	return "analytics:daily:" + day.UTC().Format("2006-01-02")
}

// Aggregate recomputes the counters of one day from the raw events and
// overwrites that day's hash, so re-running is always safe.
func (a *Analytics) Aggregate(ctx context.Context, day time.Time) (map[string]int64, error) {
	day = day.UTC()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	startMs := uint64(dayStart.UnixMilli())
	endMs := uint64(dayStart.AddDate(0, 0, 1).UnixMilli())

	counters := make(map[string]int64)
	devices := make(map[string]bool)
	after := store.CutoffID(dayStart.Add(-time.Millisecond))
	for {
		batch, err := a.store.XRangeAfter(ctx, eventsStream, after, readBatch)
		if err != nil {
			return nil, apperr.Store("read analytics events", err)
		}
		if len(batch) == 0 {
			break
		}
		done := false
		for _, e := range batch {
			ms, _, err := store.ParseID(e.ID)
			if err != nil {
				continue
			}
			if ms < startMs {
				continue
			}
			if ms >= endMs {
				done = true
				break
			}
			counters["requests"]++
			if e.Values["in_sync"] == "true" {
				counters["in_sync"]++
			}
			if n, err := strconv.ParseInt(e.Values["updates"], 10, 64); err == nil {
				counters["updates"] += n
			}
			if tier := e.Values["tier"]; tier != "" {
				counters["tier:"+tier]++
			}
			if d := e.Values["device"]; d != "" {
				devices[d] = true
			}
		}
		after = batch[len(batch)-1].ID
		if done || int64(len(batch)) < readBatch {
			break
		}
	}
	counters["unique_devices"] = int64(len(devices))

	key := dailyKey(dayStart)
	if err := a.store.Del(ctx, key); err != nil {
		return nil, apperr.Store("reset "+key, err)
	}
	fields := make(map[string]string, len(counters))
	for k, v := range counters {
		fields[k] = strconv.FormatInt(v, 10)
	}
	if err := a.store.HSet(ctx, key, fields); err != nil {
		return nil, apperr.Store("write "+key, err)
	}
	if err := a.store.Expire(ctx, key, a.retention); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("daily counters not expiring")
	}
	return counters, nil
}

// Daily reads one day's aggregated counters. A day that was never aggregated
// reads as empty.
func (a *Analytics) Daily(ctx context.Context, day time.Time) (map[string]int64, error) {
	fields, err := a.store.HGetAll(ctx, dailyKey(day))
	if err != nil {
		return nil, apperr.Store("read daily counters", err)
	}
	out := make(map[string]int64, len(fields))
	for k, v := range fields {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
		}
	}
	return out, nil
}

// Cleanup deletes raw events older than the retention horizon and returns
// how many went.
func (a *Analytics) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	cutoff := store.CutoffID(now.Add(-a.retention))
	var removed int64
	for {
		batch, err := a.store.XRangeBefore(ctx, eventsStream, cutoff, readBatch)
		if err != nil {
			return removed, apperr.Store("scan expired analytics events", err)
		}
		if len(batch) == 0 {
			break
		}
		ids := make([]string, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}
		n, err := a.store.XDel(ctx, eventsStream, ids...)
		if err != nil {
			return removed, apperr.Store("trim analytics events", err)
		}
		removed += n
		if int64(len(batch)) < readBatch {
			break
		}
	}
	return removed, nil
}

// RunDaily rolls up yesterday's events and trims expired ones. The scheduler
// calls it once a day; re-runs are harmless.
func (a *Analytics) RunDaily(ctx context.Context, now time.Time) error {
	day := now.UTC().AddDate(0, 0, -1)
	counters, err := a.Aggregate(ctx, day)
	if err != nil {
		return err
	}
	removed, err := a.Cleanup(ctx, now)
	if err != nil {
		return err
	}
	log.Info().
		Str("day", day.Format("2006-01-02")).
		Int64("requests", counters["requests"]).
		Int64("updates", counters["updates"]).
		Int64("removed", removed).
		Msg("analytics rollup complete")
	return nil
}
