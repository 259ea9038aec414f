// Package syncer implements incremental change delivery. Clients present
// per-type cursors into the change journals; the processor reads past them,
// filters audience-scoped entries, collapses the rest to the minimal update
// set and hands back advanced cursors.
package syncer

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/tijarahlabs/storesync/internal/apperr"
	"github.com/tijarahlabs/storesync/internal/audience"
	"github.com/tijarahlabs/storesync/internal/entity"
	"github.com/tijarahlabs/storesync/internal/journal"
	"github.com/tijarahlabs/storesync/internal/store"
)

// defaultLimit bounds one journal read when the client does not pick a batch
// size.
const defaultLimit = 100

// Request is one sync check. LastSync maps type names to the id of the last
// journal entry the client consumed; an absent type reads from the start.
// The caller attributes feed the audience filter.
type Request struct {
	LastSync    map[string]string `json:"lastSync"`
	EntityTypes []string          `json:"entityTypes,omitempty"`
	Limit       int               `json:"limit,omitempty" validate:"omitempty,min=1,max=1000"`

	entity.CallerContext
}

// Response answers a sync check. InSync means there is nothing to apply;
// LastIDs is present whenever any journal entries were consumed, including
// entries the filters dropped, so the client never re-reads them.
type Response struct {
	InSync  bool              `json:"inSync"`
	Updates []entity.Update   `json:"updates,omitempty"`
	LastIDs map[string]string `json:"lastIds,omitempty"`
}

// Processor runs sync checks against the journals.
type Processor struct {
	journal  *journal.Journal
	detector *Detector
	validate *validator.Validate
}

// NewProcessor wires the read side of the sync protocol.
func NewProcessor(j *journal.Journal, d *Detector) *Processor {
	return &Processor{
		journal:  j,
		detector: d,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Process answers a sync check over the types the request names. With no
// entityTypes the scope is the types present in lastSync.
func (p *Processor) Process(ctx context.Context, req Request) (*Response, error) {
	return p.process(ctx, req, nil)
}

// ProcessFast constrains the check to the fast-churn types.
func (p *Processor) ProcessFast(ctx context.Context, req Request) (*Response, error) {
	return p.process(ctx, req, entity.FastTypes)
}

// ProcessMedium constrains the check to the medium-churn types.
func (p *Processor) ProcessMedium(ctx context.Context, req Request) (*Response, error) {
	return p.process(ctx, req, entity.MediumTypes)
}

// ProcessSlow constrains the check to the slow-churn types.
func (p *Processor) ProcessSlow(ctx context.Context, req Request) (*Response, error) {
	return p.process(ctx, req, entity.SlowTypes)
}

func (p *Processor) process(ctx context.Context, req Request, tier []entity.Type) (*Response, error) {
	if err := p.validate.Struct(req); err != nil {
		return nil, apperr.Validation("invalid sync request", err.Error())
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultLimit
	}

	cursors, err := parseCursors(req.LastSync)
	if err != nil {
		return nil, err
	}
	types, err := resolveTypes(req.EntityTypes, cursors, tier)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return &Response{InSync: true}, nil
	}

	resp := &Response{}
	lastIDs := make(map[string]string)
	for _, typ := range types {
		cursor := cursors.Get(typ)
		batch, err := p.journal.ReadSince(ctx, typ, cursor, int64(limit))
		if err != nil {
			// Abort without cursors: the client retries the same
			// ones safely.
			return nil, apperr.Store("read journal "+string(typ), err)
		}
		if len(batch) == 0 {
			continue
		}
		lastIDs[string(typ)] = batch[len(batch)-1].ID

		filtered := filterAudience(typ, batch, req.CallerContext)
		resumed := cursor != entity.EarliestID
		resp.Updates = append(resp.Updates, p.detector.Detect(ctx, typ, filtered, resumed)...)
	}

	if len(lastIDs) > 0 {
		resp.LastIDs = lastIDs
	}
	resp.InSync = len(resp.Updates) == 0
	return resp, nil
}

// filterAudience drops the entries the caller must not see. Only targeted
// kinds are filtered; everything else is broadcast.
func filterAudience(typ entity.Type, batch []entity.JournalEntry, caller entity.CallerContext) []entity.JournalEntry {
	switch typ {
	case entity.TypeNotification:
		out := make([]entity.JournalEntry, 0, len(batch))
		for _, e := range batch {
			if audience.Allows(e, caller) {
				out = append(out, e)
			}
		}
		return out
	case entity.TypeMessage:
		out := make([]entity.JournalEntry, 0, len(batch))
		for _, e := range batch {
			if audience.AllowsMessage(e, caller) {
				out = append(out, e)
			}
		}
		return out
	default:
		return batch
	}
}

// parseCursors validates the wire cursor map. Unknown types and malformed
// stream ids are client errors, not store errors.
func parseCursors(raw map[string]string) (entity.Cursors, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(entity.Cursors, len(raw))
	for name, id := range raw {
		t, err := entity.Parse(name)
		if err != nil {
			return nil, apperr.Validation("unknown entity type in lastSync", name)
		}
		if id != "" {
			if _, _, err := store.ParseID(id); err != nil {
				return nil, apperr.Validation("malformed cursor", name+": "+id)
			}
		}
		out[t] = id
	}
	return out, nil
}

// resolveTypes decides which journals to read. Explicit entityTypes win;
// otherwise a tiered check covers its whole tier and a plain check covers the
// types the client presented cursors for.
func resolveTypes(names []string, cursors entity.Cursors, tier []entity.Type) ([]entity.Type, error) {
	var requested map[entity.Type]bool
	if len(names) > 0 {
		requested = make(map[entity.Type]bool, len(names))
		for _, n := range names {
			t, err := entity.Parse(n)
			if err != nil {
				return nil, apperr.Validation("unknown entity type", n)
			}
			requested[t] = true
		}
	}

	if tier != nil {
		out := make([]entity.Type, 0, len(tier))
		for _, t := range tier {
			if requested == nil || requested[t] {
				out = append(out, t)
			}
		}
		return out, nil
	}

	if requested != nil {
		out := make([]entity.Type, 0, len(requested))
		for _, t := range entity.All() {
			if requested[t] {
				out = append(out, t)
			}
		}
		return out, nil
	}
	return cursors.Types(), nil
}
