// Package entity defines the closed set of entity types served by the
// middleware and the shared value types that flow between the cache, the
// change journal and the sync processor.
package entity

import (
	"fmt"
	"sort"
)

// Type identifies one of the app-facing entity kinds. The set is closed:
// every journal stream, cache key and sync tier is derived from it.
type Type string

const (
	TypeProduct      Type = "product"
	TypePrice        Type = "price"
	TypeStock        Type = "stock"
	TypeHero         Type = "hero"
	TypeBundle       Type = "bundle"
	TypeHome         Type = "home"
	TypeView         Type = "view"
	TypeComment      Type = "comment"
	TypeUser         Type = "user"
	TypeNotification Type = "notification"
	TypeAnnouncement Type = "announcement"
	TypeMessage      Type = "message"
)

// TombstoneHash is the data_hash value marking a deleted entity. It is
// propagated to clients as a deletion update and never collides with a real
// digest (real digests are lowercase hex).
const TombstoneHash = "__deleted__"

// SingletonID is the fixed entity id of the list-shaped types (hero, bundle,
// home), which cache one document holding the whole collection.
const SingletonID = "main"

// All returns every entity type in stable order.
func All() []Type {
	return []Type{
		TypeProduct, TypePrice, TypeStock, TypeHero, TypeBundle, TypeHome,
		TypeView, TypeComment, TypeUser, TypeNotification, TypeAnnouncement,
		TypeMessage,
	}
}

// Parse validates a wire string against the closed type set.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// Valid reports whether t is a member of the closed type set.
func (t Type) Valid() bool {
	switch t {
	case TypeProduct, TypePrice, TypeStock, TypeHero, TypeBundle, TypeHome,
		TypeView, TypeComment, TypeUser, TypeNotification, TypeAnnouncement,
		TypeMessage:
		return true
	}
	return false
}

// CacheKey is the store key of the transformed entity.
func (t Type) CacheKey(id string) string {
	return "hash:" + string(t) + ":" + id
}

// JournalKey is the store key of the per-type change stream.
func (t Type) JournalKey() string {
	return string(t) + "_changes"
}

// Singleton reports whether t caches one list-shaped document under
// SingletonID rather than one document per id.
func (t Type) Singleton() bool {
	switch t {
	case TypeHero, TypeBundle, TypeHome:
		return true
	}
	return false
}

// Sync frequency tiers. Clients on the fast tier poll often for volatile
// counters; the slow tier covers catalogue data that changes at ERP pace.
var (
	FastTypes   = []Type{TypeView, TypeComment, TypeUser}
	MediumTypes = []Type{TypeStock, TypeNotification, TypeAnnouncement, TypeMessage}
	SlowTypes   = []Type{TypeProduct, TypePrice, TypeHero, TypeHome, TypeBundle}
)

// CachedEntity is one transformed cache record as read back from the store.
type CachedEntity struct {
	Type      Type
	ID        string
	Payload   map[string]any
	DataHash  string
	Version   int64
	UpdatedAt int64 // epoch ms
}

// Tombstoned reports whether the record marks a deleted entity.
func (e *CachedEntity) Tombstoned() bool {
	return e.DataHash == TombstoneHash
}

// TargetSet is the audience of a notification journal entry. Empty lists and
// a false NonRegistered flag together mean broadcast.
type TargetSet struct {
	Users         []string `json:"target_users,omitempty"`
	Groups        []string `json:"target_groups,omitempty"`
	Regions       []string `json:"target_regions,omitempty"`
	Provinces     []string `json:"target_provinces,omitempty"`
	Cities        []string `json:"target_cities,omitempty"`
	Devices       []string `json:"target_devices,omitempty"`
	NonRegistered bool     `json:"target_non_registered,omitempty"`
}

// Empty reports whether no targeting is configured at all.
func (ts *TargetSet) Empty() bool {
	if ts == nil {
		return true
	}
	return len(ts.Users) == 0 && len(ts.Groups) == 0 && len(ts.Regions) == 0 &&
		len(ts.Provinces) == 0 && len(ts.Cities) == 0 && len(ts.Devices) == 0 &&
		!ts.NonRegistered
}

// JournalEntry is one decoded change-stream entry. ID is the store-assigned
// stream id (<ms>-<seq>), totally ordered within a journal.
type JournalEntry struct {
	ID             string
	EntityID       string
	DataHash       string
	Version        int64
	IdempotencyKey string
	PrevHash       string

	// Audience fields of notification entries, kept as stored: JSON-encoded
	// lists keyed by field name. The stream holds flat strings, so decoding
	// belongs to the filter that evaluates them.
	RawTargets map[string]string

	// User scoping, present on message entries only.
	UserID    string
	IsDeleted bool
}

// CallerContext carries the caller attributes evaluated by the audience
// filter. All fields are optional; zero values match nothing.
type CallerContext struct {
	UserID       string   `json:"userId,omitempty"`
	UserGroups   []string `json:"userGroups,omitempty"`
	UserRegion   string   `json:"userRegion,omitempty"`
	UserProvince string   `json:"userProvince,omitempty"`
	UserCity     string   `json:"userCity,omitempty"`
	UserDeviceID string   `json:"userDeviceId,omitempty"`
	IsRegistered bool     `json:"isRegistered,omitempty"`
}

// Cursors maps entity types to the last journal id a client has consumed.
// An absent type means "from the beginning"; EarliestID is the explicit form.
type Cursors map[Type]string

// EarliestID is the pseudo stream id meaning "read from the earliest entry".
const EarliestID = "0-0"

// Get returns the cursor for t, defaulting to EarliestID.
func (c Cursors) Get(t Type) string {
	if c == nil {
		return EarliestID
	}
	if id, ok := c[t]; ok && id != "" {
		return id
	}
	return EarliestID
}

// Types returns the set of types present in the cursor map, in stable order.
func (c Cursors) Types() []Type {
	out := make([]Type, 0, len(c))
	for t := range c {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Update is one sync response item: the authoritative cache payload for a
// changed entity, or a deletion marker.
type Update struct {
	EntityType     Type           `json:"entityType"`
	EntityID       string         `json:"entityId"`
	Deleted        bool           `json:"deleted,omitempty"`
	Version        int64          `json:"version"`
	UpdatedAt      int64          `json:"updatedAt,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}
