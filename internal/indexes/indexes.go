// Package indexes maintains the secondary user sets: who is where, and who
// never registered. The sets are auxiliary to the cache and never
// authoritative; the reconciler rebuilds them from cached user records.
package indexes

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tijarahlabs/storesync/internal/apperr"
	"github.com/tijarahlabs/storesync/internal/cache"
	"github.com/tijarahlabs/storesync/internal/entity"
	"github.com/tijarahlabs/storesync/internal/store"
)

const nonRegisteredKey = "non_registered:users"

// Indexer owns the location and registration index sets.
type Indexer struct {
	store *store.Store
	cache *cache.Cache
}

// New builds an indexer over the store and the user cache.
func New(s *store.Store, c *cache.Cache) *Indexer {
	return &Indexer{store: s, cache: c}
}

// attrs are the indexed attributes of one cached user payload.
type attrs struct {
	province     string
	city         string
	unregistered bool
}

func attrsFrom(payload map[string]any) attrs {
	str := func(k string) string {
		v, _ := payload[k].(string)
		return v
	}
	return attrs{
		province:     str("province"),
		city:         str("city"),
		unregistered: str("status") == "unregistered",
	}
}

// ProvinceKey is the set of user ids currently in province p.
func ProvinceKey(p string) string {
	return "province:" + p + ":users"
}

// CityKey is the set of user ids currently in city c.
func CityKey(c string) string {
	return "city:" + c + ":users"
}

// Apply moves a user's set memberships from its previous payload to the
// current one. A nil prev means the user was not cached before.
func (x *Indexer) Apply(ctx context.Context, userID string, prev, cur map[string]any) error {
	p, c := attrsFrom(prev), attrsFrom(cur)

	if p.province != "" && p.province != c.province {
		if err := x.store.SRem(ctx, ProvinceKey(p.province), userID); err != nil {
			return err
		}
	}
	if p.city != "" && p.city != c.city {
		if err := x.store.SRem(ctx, CityKey(p.city), userID); err != nil {
			return err
		}
	}
	if p.unregistered && !c.unregistered {
		if err := x.store.SRem(ctx, nonRegisteredKey, userID); err != nil {
			return err
		}
	}

	if c.province != "" {
		if err := x.store.SAdd(ctx, ProvinceKey(c.province), userID); err != nil {
			return err
		}
	}
	if c.city != "" {
		if err := x.store.SAdd(ctx, CityKey(c.city), userID); err != nil {
			return err
		}
	}
	if c.unregistered {
		if err := x.store.SAdd(ctx, nonRegisteredKey, userID); err != nil {
			return err
		}
	}
	return nil
}

// Remove drops a user from every set its previous payload placed it in. With
// an unknown previous payload only the registration set can be cleared; the
// reconciler picks up the rest.
func (x *Indexer) Remove(ctx context.Context, userID string, prev map[string]any) error {
	p := attrsFrom(prev)
	if p.province != "" {
		if err := x.store.SRem(ctx, ProvinceKey(p.province), userID); err != nil {
			return err
		}
	}
	if p.city != "" {
		if err := x.store.SRem(ctx, CityKey(p.city), userID); err != nil {
			return err
		}
	}
	return x.store.SRem(ctx, nonRegisteredKey, userID)
}

// Report are the reconciler counters.
type Report struct {
	Users   int `json:"users"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Sets    int `json:"sets"`
}

// Reconcile rebuilds every index set from the cached user records: stale
// members go, missing members come, emptied sets disappear. After it returns
// without error, set membership equals the cache exactly.
func (x *Indexer) Reconcile(ctx context.Context) (*Report, error) {
	want := make(map[string]map[string]bool)
	mark := func(key, id string) {
		if want[key] == nil {
			want[key] = make(map[string]bool)
		}
		want[key][id] = true
	}

	rep := &Report{}
	const prefix = "hash:" + string(entity.TypeUser) + ":"
	err := x.store.ScanKeys(ctx, prefix+"*", func(key string) error {
		id := strings.TrimPrefix(key, prefix)
		if id == "" {
			return nil
		}
		ent, err := x.cache.Get(ctx, entity.TypeUser, id)
		if err != nil {
			if errors.Is(err, cache.ErrMiss) {
				return nil
			}
			return err
		}
		if ent.Tombstoned() {
			return nil
		}
		rep.Users++
		a := attrsFrom(ent.Payload)
		if a.province != "" {
			mark(ProvinceKey(a.province), id)
		}
		if a.city != "" {
			mark(CityKey(a.city), id)
		}
		if a.unregistered {
			mark(nonRegisteredKey, id)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Store("scan cached users", err)
	}

	keys := map[string]bool{nonRegisteredKey: true}
	for k := range want {
		keys[k] = true
	}
	for _, pattern := range []string{"province:*:users", "city:*:users"} {
		if err := x.store.ScanKeys(ctx, pattern, func(k string) error {
			keys[k] = true
			return nil
		}); err != nil {
			return nil, apperr.Store("scan index sets", err)
		}
	}

	for key := range keys {
		members, err := x.store.SMembers(ctx, key)
		if err != nil {
			return nil, apperr.Store("read "+key, err)
		}
		rep.Sets++
		have := make(map[string]bool, len(members))
		for _, m := range members {
			have[m] = true
			if !want[key][m] {
				if err := x.store.SRem(ctx, key, m); err != nil {
					return nil, apperr.Store("trim "+key, err)
				}
				rep.Removed++
			}
		}
		for m := range want[key] {
			if !have[m] {
				if err := x.store.SAdd(ctx, key, m); err != nil {
					return nil, apperr.Store("fill "+key, err)
				}
				rep.Added++
			}
		}
	}

	log.Info().
		Int("users", rep.Users).
		Int("added", rep.Added).
		Int("removed", rep.Removed).
		Int("sets", rep.Sets).
		Msg("index reconciliation complete")
	return rep, nil
}
