// Package audience decides which callers see a targeted journal entry.
// Notification entries carry JSON-encoded target lists; this package owns
// the decode side of that boundary and the matching rules.
package audience

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/tijarahlabs/storesync/internal/entity"
)

// Allows reports whether caller is in the audience of a notification entry.
// Entries whose stored target fields fail to decode are excluded.
func Allows(e entity.JournalEntry, caller entity.CallerContext) bool {
	ts, err := decodeTargets(e.RawTargets)
	if err != nil {
		log.Warn().Err(err).
			Str("entry_id", e.ID).
			Str("entity_id", e.EntityID).
			Msg("audience: malformed targets, excluding entry")
		return false
	}
	return Match(ts, caller)
}

// AllowsMessage reports whether caller owns a message entry. Messages are
// user-scoped: only the addressed, identified caller sees them, and
// soft-deleted messages are hidden from everyone.
func AllowsMessage(e entity.JournalEntry, caller entity.CallerContext) bool {
	return e.UserID != "" && e.UserID == caller.UserID && !e.IsDeleted
}

// Match evaluates the target rules in priority order, first match wins.
func Match(ts *entity.TargetSet, caller entity.CallerContext) bool {
	if ts.NonRegistered && !caller.IsRegistered {
		return true
	}
	if memberOf(caller.UserDeviceID, ts.Devices) {
		return true
	}
	if memberOf(caller.UserProvince, ts.Provinces) {
		return true
	}
	if memberOf(caller.UserCity, ts.Cities) {
		return true
	}
	if memberOf(caller.UserID, ts.Users) {
		return true
	}
	if slices.Contains(ts.Groups, "all") {
		return true
	}
	for _, g := range caller.UserGroups {
		if memberOf(g, ts.Groups) {
			return true
		}
	}
	if slices.Contains(ts.Regions, "all") {
		return true
	}
	if memberOf(caller.UserRegion, ts.Regions) ||
		memberOf(caller.UserProvince, ts.Regions) ||
		memberOf(caller.UserCity, ts.Regions) {
		return true
	}
	// No targeting at all means broadcast.
	return ts.Empty()
}

// memberOf is membership with an empty-value guard: an absent caller
// attribute never matches.
func memberOf(v string, list []string) bool {
	return v != "" && slices.Contains(list, v)
}

func decodeTargets(raw map[string]string) (*entity.TargetSet, error) {
	ts := &entity.TargetSet{}
	if len(raw) == 0 {
		return ts, nil
	}
	lists := map[string]*[]string{
		"target_users":     &ts.Users,
		"target_groups":    &ts.Groups,
		"target_regions":   &ts.Regions,
		"target_provinces": &ts.Provinces,
		"target_cities":    &ts.Cities,
		"target_devices":   &ts.Devices,
	}
	for field, dst := range lists {
		v, ok := raw[field]
		if !ok || v == "" {
			continue
		}
		if err := json.Unmarshal([]byte(v), dst); err != nil {
			return nil, fmt.Errorf("audience: decode %s: %w", field, err)
		}
	}
	ts.NonRegistered = raw["target_non_registered"] == "true"
	return ts, nil
}
