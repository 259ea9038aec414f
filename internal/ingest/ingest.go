// Package ingest owns every write into the cache and journal. Webhooks,
// read-through misses and the weekly full refresh all funnel through one
// routine, so the hash-dedup and version invariants are enforced in a single
// place.
package ingest

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/tijarahlabs/storesync/internal/apperr"
	"github.com/tijarahlabs/storesync/internal/cache"
	"github.com/tijarahlabs/storesync/internal/entity"
	"github.com/tijarahlabs/storesync/internal/erp"
	"github.com/tijarahlabs/storesync/internal/hashx"
	"github.com/tijarahlabs/storesync/internal/journal"
	"github.com/tijarahlabs/storesync/internal/metrics"
	"github.com/tijarahlabs/storesync/internal/store"
)

// Ingestor is the write side of the middleware.
type Ingestor struct {
	store       *store.Store
	cache       *cache.Cache
	journal     *journal.Journal
	fetcher     erp.Fetcher
	transformer *erp.Transformer
	idemTTL     time.Duration
	indexer     UserIndexer

	group singleflight.Group
}

// UserIndexer keeps the secondary user sets in step with user writes. Index
// failures never fail the write; the reconciler repairs them.
type UserIndexer interface {
	Apply(ctx context.Context, userID string, prev, cur map[string]any) error
	Remove(ctx context.Context, userID string, prev map[string]any) error
}

// New wires the write side. idemTTL bounds the idempotency-key dedup window
// and should match the journal retention.
func New(s *store.Store, c *cache.Cache, j *journal.Journal, f erp.Fetcher, t *erp.Transformer, idemTTL time.Duration) *Ingestor {
	if idemTTL <= 0 {
		idemTTL = 7 * 24 * time.Hour
	}
	return &Ingestor{
		store:       s,
		cache:       c,
		journal:     j,
		fetcher:     f,
		transformer: t,
		idemTTL:     idemTTL,
	}
}

// UseIndexer attaches the secondary-index maintainer for user writes.
func (i *Ingestor) UseIndexer(ix UserIndexer) {
	i.indexer = ix
}

// Result reports what one write did.
type Result struct {
	EntityType entity.Type `json:"entityType"`
	EntityID   string      `json:"entityId"`
	Changed    bool        `json:"changed"`
	Deleted    bool        `json:"deleted,omitempty"`
	Version    int64       `json:"version,omitempty"`
	Hash       string      `json:"-"`
	JournalID  string      `json:"-"`
}

// writeOpts carries the journal-entry extras of targeted entry kinds.
type writeOpts struct {
	idempotencyKey string
	targets        *entity.TargetSet
	userID         string
	isDeleted      bool
}

// write is the single write routine: hash, compare, conditionally set the
// cache and append the journal entry. Content-identical writes are no-ops
// and never touch the version or the journal.
func (i *Ingestor) write(ctx context.Context, typ entity.Type, id string, payload map[string]any, opts writeOpts) (Result, error) {
	res := Result{EntityType: typ, EntityID: id}

	hash, err := hashx.Sum(payload)
	if err != nil {
		return res, apperr.Internal(fmt.Sprintf("hash %s/%s payload", typ, id), err)
	}
	res.Hash = hash

	prevHash, prevVersion := i.currentHash(ctx, typ, id)
	if prevHash == hash {
		res.Version = prevVersion
		metrics.IngestSkipsTotal.WithLabelValues(string(typ)).Inc()
		return res, nil
	}

	if opts.idempotencyKey != "" {
		fresh, err := i.store.SetNX(ctx, idemKey(typ, opts.idempotencyKey), id, i.idemTTL)
		if err != nil {
			log.Warn().Err(err).Str("entity_type", string(typ)).Msg("idempotency check failed, proceeding")
		} else if !fresh {
			log.Info().
				Str("entity_type", string(typ)).
				Str("entity_id", id).
				Str("idempotency_key", opts.idempotencyKey).
				Msg("duplicate delivery suppressed")
			res.Version = prevVersion
			metrics.IngestSkipsTotal.WithLabelValues(string(typ)).Inc()
			return res, nil
		}
	}

	prevPayload := i.userPayload(ctx, typ, id, prevHash)

	var version int64
	err = retryOnce(ctx, func() error {
		var werr error
		version, werr = i.cache.Set(ctx, typ, id, payload, hash, time.Now().UnixMilli())
		return werr
	})
	if err != nil {
		return res, apperr.Store(fmt.Sprintf("cache write %s/%s", typ, id), err)
	}

	entry := journal.Entry{
		EntityID:       id,
		DataHash:       hash,
		Version:        version,
		IdempotencyKey: opts.idempotencyKey,
		PrevHash:       prevHash,
		Targets:        opts.targets,
		UserID:         opts.userID,
		IsDeleted:      opts.isDeleted,
	}
	var journalID string
	err = retryOnce(ctx, func() error {
		var aerr error
		journalID, aerr = i.journal.Append(ctx, typ, entry)
		return aerr
	})
	if err != nil {
		return res, apperr.Store(fmt.Sprintf("journal append %s/%s", typ, id), err)
	}

	res.Changed = true
	res.Version = version
	res.JournalID = journalID
	metrics.IngestWritesTotal.WithLabelValues(string(typ)).Inc()

	if typ == entity.TypeUser && i.indexer != nil {
		if err := i.indexer.Apply(ctx, id, prevPayload, payload); err != nil {
			log.Warn().Err(err).Str("entity_id", id).
				Msg("user index update failed, reconciler will repair")
		}
	}

	log.Debug().
		Str("entity_type", string(typ)).
		Str("entity_id", id).
		Int64("version", version).
		Str("journal_id", journalID).
		Msg("entity ingested")
	return res, nil
}

// userPayload reads the previous user payload for index transitions. Only
// user writes with an indexer attached pay for the extra read.
func (i *Ingestor) userPayload(ctx context.Context, typ entity.Type, id, prevHash string) map[string]any {
	if typ != entity.TypeUser || i.indexer == nil {
		return nil
	}
	if prevHash == "" || prevHash == entity.TombstoneHash {
		return nil
	}
	old, err := i.cache.Get(ctx, typ, id)
	if err != nil {
		return nil
	}
	return old.Payload
}

// tombstone marks an entity deleted and journals the deletion. Re-deleting
// is a no-op.
func (i *Ingestor) tombstone(ctx context.Context, typ entity.Type, id string) (Result, error) {
	res := Result{EntityType: typ, EntityID: id, Deleted: true}

	prevHash, prevVersion := i.currentHash(ctx, typ, id)
	if prevHash == entity.TombstoneHash || prevHash == "" {
		res.Version = prevVersion
		return res, nil
	}

	prevPayload := i.userPayload(ctx, typ, id, prevHash)

	var version int64
	err := retryOnce(ctx, func() error {
		var werr error
		version, werr = i.cache.Tombstone(ctx, typ, id)
		return werr
	})
	if err != nil {
		return res, apperr.Store(fmt.Sprintf("tombstone %s/%s", typ, id), err)
	}

	var journalID string
	err = retryOnce(ctx, func() error {
		var aerr error
		journalID, aerr = i.journal.Append(ctx, typ, journal.Entry{
			EntityID: id,
			DataHash: entity.TombstoneHash,
			Version:  version,
			PrevHash: prevHash,
		})
		return aerr
	})
	if err != nil {
		return res, apperr.Store(fmt.Sprintf("journal append %s/%s", typ, id), err)
	}

	res.Changed = true
	res.Version = version
	res.JournalID = journalID
	metrics.IngestWritesTotal.WithLabelValues(string(typ)).Inc()

	if typ == entity.TypeUser && i.indexer != nil {
		if err := i.indexer.Remove(ctx, id, prevPayload); err != nil {
			log.Warn().Err(err).Str("entity_id", id).
				Msg("user index removal failed, reconciler will repair")
		}
	}

	log.Info().
		Str("entity_type", string(typ)).
		Str("entity_id", id).
		Int64("version", version).
		Msg("entity tombstoned")
	return res, nil
}

// currentHash reads the cache hash, degrading store errors to a miss so the
// write path keeps working while the read side is sick.
func (i *Ingestor) currentHash(ctx context.Context, typ entity.Type, id string) (string, int64) {
	hash, version, err := i.cache.GetHash(ctx, typ, id)
	if err != nil {
		if err != cache.ErrMiss {
			log.Warn().Err(err).
				Str("entity_type", string(typ)).
				Str("entity_id", id).
				Msg("cache hash read failed, treating as miss")
		}
		return "", 0
	}
	return hash, version
}

func idemKey(typ entity.Type, key string) string {
	return "idem:" + string(typ) + ":" + key
}

// retryOnce runs op and retries a single time after a short jittered pause.
// Store writes get exactly one second chance before the error surfaces.
func retryOnce(ctx context.Context, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	select {
	case <-time.After(time.Duration(50+rand.IntN(100)) * time.Millisecond):
	case <-ctx.Done():
		return err
	}
	return op()
}
