package ingest

import (
	"context"

	"github.com/tijarahlabs/storesync/internal/apperr"
	"github.com/tijarahlabs/storesync/internal/entity"
)

// viewJournalQuantum is the increment stride at which view counts are
// materialised. Intermediate counts live only in the raw counter key.
const viewJournalQuantum = 10

// IncrementView bumps a product's view counter and returns the new count.
// Every viewJournalQuantum-th increment rewrites the view cache entry and
// appends a journal entry, so clients observe view counts in quantised
// jumps rather than one sync event per view.
func (i *Ingestor) IncrementView(ctx context.Context, productID string) (int64, error) {
	count, err := i.store.Incr(ctx, viewCounterKey(productID))
	if err != nil {
		return 0, apperr.Store("view counter "+productID, err)
	}

	if count%viewJournalQuantum == 0 {
		payload := map[string]any{
			"product_id": productID,
			"count":      count,
		}
		if _, err := i.write(ctx, entity.TypeView, productID, payload, writeOpts{}); err != nil {
			return count, err
		}
	}
	return count, nil
}

func viewCounterKey(productID string) string {
	return "views:" + productID
}
