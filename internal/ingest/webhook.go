package ingest

import (
	"context"
	"errors"

	"github.com/tijarahlabs/storesync/internal/apperr"
	"github.com/tijarahlabs/storesync/internal/entity"
	"github.com/tijarahlabs/storesync/internal/erp"
)

// WebhookRequest is the ERP-side change notification. For app-origin types
// the authoritative record travels inline in Payload; for ERP-origin types
// the webhook is only a hint and the record is re-fetched.
type WebhookRequest struct {
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Deleted        bool           `json:"deleted,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Webhook ingests one change notification. A delivery whose content hash
// matches the cache is accepted but writes nothing.
func (i *Ingestor) Webhook(ctx context.Context, req WebhookRequest) (Result, error) {
	typ, err := entity.Parse(req.EntityType)
	if err != nil {
		return Result{}, apperr.Validation("unknown entity_type", err.Error())
	}

	if typ == entity.TypeView {
		return Result{}, apperr.Validation("view counters are not webhook-ingestible", "use the views endpoint")
	}

	if req.Deleted {
		if req.EntityID == "" {
			return Result{}, apperr.Validation("entity_id is required for deletions")
		}
		return i.tombstone(ctx, typ, req.EntityID)
	}

	if typ.Singleton() {
		return i.refreshSingleton(ctx, typ)
	}

	doctype, ok := erp.Doctype(typ)
	if !ok {
		// App-origin record: the webhook body carries the data.
		return i.ingestInline(ctx, typ, req)
	}

	if req.EntityID == "" {
		return Result{}, apperr.Validation("entity_id is required for " + string(typ))
	}

	rec, err := i.fetcher.FetchOne(ctx, doctype, req.EntityID)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Kind == apperr.KindNotFound {
			// The ERP no longer has it: propagate as a deletion.
			return i.tombstone(ctx, typ, req.EntityID)
		}
		return Result{}, err
	}

	return i.ingestRecord(ctx, typ, rec, req.IdempotencyKey)
}

// ingestRecord transforms and writes one ERP record. Notification records
// carry their audience onto the journal entry.
func (i *Ingestor) ingestRecord(ctx context.Context, typ entity.Type, rec erp.Record, idemKey string) (Result, error) {
	payload, err := i.transformer.Transform(ctx, typ, rec)
	if err != nil {
		return Result{}, apperr.Internal("transform "+string(typ), err)
	}

	id := erp.EntityIDFor(typ, rec)
	if id == "" {
		return Result{}, apperr.Validation("record has no identity", string(typ))
	}

	opts := writeOpts{idempotencyKey: idemKey}
	if typ == entity.TypeNotification {
		opts.targets = erp.TargetsFromRecord(rec)
	}
	return i.write(ctx, typ, id, payload, opts)
}

// ingestInline writes an app-origin record delivered in the webhook body.
func (i *Ingestor) ingestInline(ctx context.Context, typ entity.Type, req WebhookRequest) (Result, error) {
	if len(req.Payload) == 0 {
		return Result{}, apperr.Validation("payload is required for " + string(typ))
	}

	rec := erp.Record(req.Payload)
	id := req.EntityID
	if id == "" {
		id = rec.Name()
	}
	if id == "" {
		return Result{}, apperr.Validation("entity_id or payload.name is required")
	}
	if rec.Str("name") == "" {
		rec["name"] = id
	}

	payload, err := i.transformer.Transform(ctx, typ, rec)
	if err != nil {
		return Result{}, apperr.Internal("transform "+string(typ), err)
	}

	opts := writeOpts{idempotencyKey: req.IdempotencyKey}
	if typ == entity.TypeMessage {
		opts.userID = rec.Str("user_id")
		opts.isDeleted = rec.Bool("is_deleted")
	}
	return i.write(ctx, typ, id, payload, opts)
}

// refreshSingleton re-fetches a whole list-shaped collection and writes it
// as one document.
func (i *Ingestor) refreshSingleton(ctx context.Context, typ entity.Type) (Result, error) {
	doctype, ok := erp.Doctype(typ)
	if !ok {
		return Result{}, apperr.Internal("singleton type without doctype", nil)
	}

	recs, err := i.fetcher.FetchPublished(ctx, doctype)
	if err != nil {
		return Result{}, err
	}
	payload, err := i.transformer.TransformList(ctx, typ, recs)
	if err != nil {
		return Result{}, apperr.Internal("transform "+string(typ), err)
	}
	return i.write(ctx, typ, entity.SingletonID, payload, writeOpts{})
}
