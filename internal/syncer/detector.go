package syncer

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/tijarahlabs/storesync/internal/cache"
	"github.com/tijarahlabs/storesync/internal/entity"
)

// Detector reduces a batch of journal entries to the updates a client
// actually needs. Entries are grouped per entity, so a burst of writes to one
// entity collapses into a single update carrying the current cache payload.
type Detector struct {
	cache *cache.Cache
}

// NewDetector builds a detector over the cache.
func NewDetector(c *cache.Cache) *Detector {
	return &Detector{cache: c}
}

// span tracks the earliest and latest journal entry of one entity within a
// batch. The earliest entry's prev hash is the content the client last saw;
// the latest entry's hash is where the entity ended up.
type span struct {
	earliest entity.JournalEntry
	latest   entity.JournalEntry
}

// Detect resolves one type's audience-filtered batch into updates. The batch
// must be in journal order. resumed reports whether the client presented a
// real cursor for this type; a cold client has no prior content, so the
// already-has-it shortcut never applies to it.
func (d *Detector) Detect(ctx context.Context, typ entity.Type, entries []entity.JournalEntry, resumed bool) []entity.Update {
	if len(entries) == 0 {
		return nil
	}

	spans := make(map[string]*span, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		sp, ok := spans[e.EntityID]
		if !ok {
			spans[e.EntityID] = &span{earliest: e, latest: e}
			order = append(order, e.EntityID)
			continue
		}
		sp.latest = e
	}

	updates := make([]entity.Update, 0, len(order))
	for _, id := range order {
		if u, ok := d.resolve(ctx, typ, spans[id], resumed); ok {
			updates = append(updates, u)
		}
	}
	return updates
}

// resolve decides whether one entity's span is worth delivering, and with
// what content.
func (d *Detector) resolve(ctx context.Context, typ entity.Type, sp *span, resumed bool) (entity.Update, bool) {
	latest := sp.latest

	// The span landed back on the content the client already has: the
	// intermediate states are noise.
	if resumed && sp.earliest.PrevHash != "" && latest.DataHash == sp.earliest.PrevHash {
		return entity.Update{}, false
	}

	ent, err := d.cache.Get(ctx, typ, latest.EntityID)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			log.Warn().Err(err).
				Str("entity_type", string(typ)).
				Str("entity_id", latest.EntityID).
				Msg("cache read failed during change detection, treating as miss")
		}
		// Evicted from the cache: only a deletion still means anything.
		if latest.DataHash == entity.TombstoneHash {
			return entity.Update{
				EntityType: typ,
				EntityID:   latest.EntityID,
				Deleted:    true,
				Version:    latest.Version,
			}, true
		}
		return entity.Update{}, false
	}

	if ent.Tombstoned() {
		return entity.Update{
			EntityType: typ,
			EntityID:   ent.ID,
			Deleted:    true,
			Version:    ent.Version,
			UpdatedAt:  ent.UpdatedAt,
		}, true
	}

	return entity.Update{
		EntityType:     typ,
		EntityID:       ent.ID,
		Version:        ent.Version,
		UpdatedAt:      ent.UpdatedAt,
		IdempotencyKey: latest.IdempotencyKey,
		Payload:        ent.Payload,
	}, true
}
