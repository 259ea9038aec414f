package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tijarahlabs/storesync/internal/entity"
	"github.com/tijarahlabs/storesync/internal/erp"
)

// maxSummaryErrors bounds the error list carried back to the caller.
const maxSummaryErrors = 25

// refreshableTypes are the ERP-origin types the weekly reconciliation walks.
// App-origin types (view, message) have no ERP listing to reconcile against.
var refreshableTypes = []entity.Type{
	entity.TypeProduct, entity.TypePrice, entity.TypeStock,
	entity.TypeUser, entity.TypeComment,
	entity.TypeAnnouncement, entity.TypeNotification,
	entity.TypeHero, entity.TypeBundle, entity.TypeHome,
}

// RefreshSummary reports what a refresh walk did.
type RefreshSummary struct {
	TotalFetched int      `json:"totalFetched"`
	WithVariants int      `json:"withVariants"`
	Processed    int      `json:"processed"`
	Updated      int      `json:"updated"`
	Failed       int      `json:"failed"`
	Errors       []string `json:"errors,omitempty"`
}

func (s *RefreshSummary) merge(other *RefreshSummary) {
	s.TotalFetched += other.TotalFetched
	s.WithVariants += other.WithVariants
	s.Processed += other.Processed
	s.Updated += other.Updated
	s.Failed += other.Failed
	for _, e := range other.Errors {
		s.addError(e)
	}
}

func (s *RefreshSummary) addError(msg string) {
	if len(s.Errors) < maxSummaryErrors {
		s.Errors = append(s.Errors, msg)
	}
}

// FullRefresh reconciles the whole cache against the ERP: every published
// record is re-fetched, re-transformed and conditionally written, and cache
// entries absent from the ERP listing are tombstoned. Unchanged entities
// append nothing, so idle clients stay in sync for free.
func (i *Ingestor) FullRefresh(ctx context.Context) *RefreshSummary {
	start := time.Now()
	total := &RefreshSummary{}

	for _, typ := range refreshableTypes {
		s := i.RefreshType(ctx, typ, true)
		total.merge(s)
		log.Info().
			Str("entity_type", string(typ)).
			Int("fetched", s.TotalFetched).
			Int("updated", s.Updated).
			Int("failed", s.Failed).
			Msg("refresh pass complete")
	}

	log.Info().
		Int("fetched", total.TotalFetched).
		Int("updated", total.Updated).
		Int("failed", total.Failed).
		Dur("duration", time.Since(start)).
		Msg("full refresh complete")
	return total
}

// RefreshStock re-walks every stock record without touching other types.
func (i *Ingestor) RefreshStock(ctx context.Context) *RefreshSummary {
	return i.RefreshType(ctx, entity.TypeStock, false)
}

// RefreshPrices re-walks every price record without touching other types.
func (i *Ingestor) RefreshPrices(ctx context.Context) *RefreshSummary {
	return i.RefreshType(ctx, entity.TypePrice, false)
}

// RefreshType walks one type. tombstoneMissing additionally tombstones cache
// entries no longer present in the ERP listing; scoped refreshes leave
// deletions to the weekly reconciliation.
func (i *Ingestor) RefreshType(ctx context.Context, typ entity.Type, tombstoneMissing bool) *RefreshSummary {
	s := &RefreshSummary{}

	if typ.Singleton() {
		res, err := i.refreshSingleton(ctx, typ)
		s.TotalFetched = 1
		s.Processed = 1
		if err != nil {
			s.Failed++
			s.addError(fmt.Sprintf("%s: %v", typ, err))
			return s
		}
		if res.Changed {
			s.Updated++
		}
		return s
	}

	doctype, ok := erp.Doctype(typ)
	if !ok {
		s.addError(fmt.Sprintf("%s: no ERP doctype", typ))
		s.Failed++
		return s
	}

	recs, err := i.fetcher.FetchPublished(ctx, doctype)
	if err != nil {
		s.Failed++
		s.addError(fmt.Sprintf("%s: list fetch: %v", typ, err))
		return s
	}
	s.TotalFetched = len(recs)

	seen := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if ctx.Err() != nil {
			s.addError(fmt.Sprintf("%s: aborted: %v", typ, ctx.Err()))
			return s
		}
		id := erp.EntityIDFor(typ, rec)
		if id == "" {
			s.Failed++
			s.addError(fmt.Sprintf("%s: record without identity", typ))
			continue
		}
		seen[id] = true
		if rec.Bool("has_variants") {
			s.WithVariants++
		}

		res, err := i.ingestRecord(ctx, typ, rec, "")
		s.Processed++
		if err != nil {
			s.Failed++
			s.addError(fmt.Sprintf("%s/%s: %v", typ, id, err))
			continue
		}
		if res.Changed {
			s.Updated++
		}
	}

	if tombstoneMissing {
		i.tombstoneMissing(ctx, typ, seen, s)
	}
	return s
}

// tombstoneMissing sweeps the cached ids of typ and tombstones those the ERP
// listing no longer contains.
func (i *Ingestor) tombstoneMissing(ctx context.Context, typ entity.Type, seen map[string]bool, s *RefreshSummary) {
	prefix := "hash:" + string(typ) + ":"
	var stale []string
	err := i.store.ScanKeys(ctx, prefix+"*", func(key string) error {
		id := strings.TrimPrefix(key, prefix)
		if id != "" && !seen[id] {
			stale = append(stale, id)
		}
		return nil
	})
	if err != nil {
		s.addError(fmt.Sprintf("%s: tombstone scan: %v", typ, err))
		return
	}

	for _, id := range stale {
		res, err := i.tombstone(ctx, typ, id)
		if err != nil {
			s.Failed++
			s.addError(fmt.Sprintf("%s/%s: tombstone: %v", typ, id, err))
			continue
		}
		if res.Changed {
			s.Processed++
			s.Updated++
		}
	}
}
