package ingest

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/tijarahlabs/storesync/internal/apperr"
	"github.com/tijarahlabs/storesync/internal/cache"
	"github.com/tijarahlabs/storesync/internal/entity"
	"github.com/tijarahlabs/storesync/internal/erp"
)

// ReadThrough serves one entity from the cache, fetching and ingesting it on
// a miss. Concurrent misses for the same entity collapse into one ERP fetch.
// Tombstoned entities read as not found.
func (i *Ingestor) ReadThrough(ctx context.Context, typ entity.Type, id string) (*entity.CachedEntity, error) {
	if typ.Singleton() {
		id = entity.SingletonID
	}

	ent, err := i.cache.Get(ctx, typ, id)
	switch {
	case err == nil:
		if ent.Tombstoned() {
			return nil, apperr.NotFound(string(typ) + " " + id + " is deleted")
		}
		return ent, nil
	case errors.Is(err, cache.ErrMiss):
	default:
		log.Warn().Err(err).
			Str("entity_type", string(typ)).
			Str("entity_id", id).
			Msg("cache read failed, falling through to erp")
	}

	v, err, _ := i.group.Do(string(typ)+":"+id, func() (any, error) {
		return i.fill(ctx, typ, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*entity.CachedEntity), nil
}

// fill runs the miss path under singleflight: fetch, transform, write, read
// back.
func (i *Ingestor) fill(ctx context.Context, typ entity.Type, id string) (*entity.CachedEntity, error) {
	var res Result
	var err error
	if typ.Singleton() {
		res, err = i.refreshSingleton(ctx, typ)
	} else {
		doctype, ok := erp.Doctype(typ)
		if !ok {
			return nil, apperr.NotFound(string(typ) + " " + id + " not cached")
		}
		var rec erp.Record
		rec, err = i.fetcher.FetchOne(ctx, doctype, id)
		if err == nil {
			res, err = i.ingestRecord(ctx, typ, rec, "")
		}
	}
	if err != nil {
		return nil, err
	}
	if res.Deleted {
		return nil, apperr.NotFound(string(typ) + " " + id + " is deleted")
	}

	ent, err := i.cache.Get(ctx, typ, res.EntityID)
	if err != nil {
		return nil, apperr.Store("read back "+string(typ)+"/"+id, err)
	}
	return ent, nil
}
