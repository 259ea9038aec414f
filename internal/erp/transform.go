package erp

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tijarahlabs/storesync/internal/entity"
)

// Transformer converts raw ERP records into the app-ready payloads the cache
// stores. It is deterministic for a given record and embedded lookups, so the
// same ERP state always hashes identically regardless of ingest path.
type Transformer struct {
	fetcher Fetcher
}

// NewTransformer builds a transformer over the given fetcher. The fetcher is
// used for derived-field embedding only (prices, images).
func NewTransformer(f Fetcher) *Transformer {
	return &Transformer{fetcher: f}
}

// Transform normalises one record-shaped entity. List-shaped types (hero,
// bundle, home) go through TransformList; view counters never pass through
// here at all.
func (t *Transformer) Transform(ctx context.Context, typ entity.Type, rec Record) (map[string]any, error) {
	switch typ {
	case entity.TypeProduct:
		return t.transformProduct(ctx, rec), nil
	case entity.TypePrice:
		return transformPrice(rec), nil
	case entity.TypeStock:
		return transformStock(rec), nil
	case entity.TypeUser:
		return transformUser(rec), nil
	case entity.TypeComment:
		return transformComment(rec), nil
	case entity.TypeAnnouncement:
		return transformAnnouncement(rec), nil
	case entity.TypeNotification:
		return transformNotification(rec), nil
	case entity.TypeMessage:
		return transformMessage(rec), nil
	case entity.TypeHero, entity.TypeBundle, entity.TypeHome:
		return nil, fmt.Errorf("erp: %s is list-shaped, use TransformList", typ)
	case entity.TypeView:
		return nil, fmt.Errorf("erp: view counters are written by the view ingest path")
	default:
		return nil, fmt.Errorf("erp: unknown entity type %q", typ)
	}
}

// TransformList normalises the singleton list-shaped entities.
func (t *Transformer) TransformList(ctx context.Context, typ entity.Type, recs []Record) (map[string]any, error) {
	switch typ {
	case entity.TypeHero:
		return t.transformHero(ctx, recs), nil
	case entity.TypeBundle:
		return transformBundles(recs), nil
	case entity.TypeHome:
		return transformHome(recs), nil
	default:
		return nil, fmt.Errorf("erp: %s is not a list-shaped type", typ)
	}
}

func (t *Transformer) transformProduct(ctx context.Context, rec Record) map[string]any {
	out := map[string]any{
		"id":           rec.Name(),
		"item_code":    rec.Str("item_code"),
		"item_name":    rec.Str("item_name"),
		"description":  rec.Str("description"),
		"item_group":   rec.Str("item_group"),
		"brand":        rec.Str("brand"),
		"stock_uom":    rec.Str("stock_uom"),
		"published":    rec.Bool("published"),
		"has_variants": rec.Bool("has_variants"),
	}
	if v := rec.Str("variant_of"); v != "" {
		out["variant_of"] = v
	}

	code := rec.Str("item_code")
	if code == "" {
		code = rec.Name()
	}
	prices, err := t.fetcher.FetchFiltered(ctx, "Item Price", "item_code", code)
	if err != nil {
		log.Warn().Err(err).Str("item_code", code).Msg("price lookup failed, caching product without price")
	} else if len(prices) > 0 {
		out["price"] = prices[0].Num("price_list_rate")
		out["currency"] = prices[0].Str("currency")
	}

	if img := rec.Str("website_image"); img != "" {
		out["image"] = t.embedImage(ctx, img)
	}
	return out
}

// embedImage fetches an image as a data URI, degrading to the raw URL when
// the fetch fails.
func (t *Transformer) embedImage(ctx context.Context, fileURL string) string {
	data, err := t.fetcher.FetchImage(ctx, fileURL)
	if err != nil {
		log.Warn().Err(err).Str("image", fileURL).Msg("image fetch failed, keeping url")
		return fileURL
	}
	return data
}

func transformPrice(rec Record) map[string]any {
	return map[string]any{
		"id":         rec.Name(),
		"item_code":  rec.Str("item_code"),
		"price_list": rec.Str("price_list"),
		"rate":       rec.Num("price_list_rate"),
		"currency":   rec.Str("currency"),
		"valid_from": rec.Str("valid_from"),
	}
}

func transformStock(rec Record) map[string]any {
	actual := rec.Num("actual_qty")
	reserved := rec.Num("reserved_qty")
	return map[string]any{
		"item_code":     rec.Str("item_code"),
		"warehouse":     rec.Str("warehouse"),
		"actual_qty":    actual,
		"reserved_qty":  reserved,
		"projected_qty": rec.Num("projected_qty"),
		"in_stock":      actual-reserved > 0,
	}
}

func transformUser(rec Record) map[string]any {
	out := map[string]any{
		"id":        rec.Name(),
		"full_name": rec.Str("customer_name"),
		"mobile":    rec.Str("mobile_no"),
		"email":     rec.Str("email_id"),
		"region":    rec.Str("territory"),
		"province":  rec.Str("custom_province"),
		"city":      rec.Str("custom_city"),
		"status":    userStatus(rec),
	}
	if g := rec.Str("customer_group"); g != "" {
		out["groups"] = []string{g}
	}
	return out
}

// userStatus normalises the registration state. Anything not explicitly
// unregistered counts as registered.
func userStatus(rec Record) string {
	if rec.Str("custom_status") == "unregistered" || rec.Bool("disabled") {
		return "unregistered"
	}
	return "registered"
}

func transformComment(rec Record) map[string]any {
	return map[string]any{
		"id":        rec.Name(),
		"item_code": rec.Str("item"),
		"user":      rec.Str("user"),
		"rating":    rec.Num("rating"),
		"title":     rec.Str("review_title"),
		"comment":   rec.Str("comment"),
		"posted_at": rec.Str("creation"),
	}
}

func transformAnnouncement(rec Record) map[string]any {
	return map[string]any{
		"id":        rec.Name(),
		"title":     rec.Str("title"),
		"message":   rec.Str("message"),
		"starts_on": rec.Str("starts_on"),
		"ends_on":   rec.Str("ends_on"),
		"active":    rec.Bool("active"),
	}
}

func transformNotification(rec Record) map[string]any {
	return map[string]any{
		"id":         rec.Name(),
		"title":      rec.Str("title"),
		"message":    rec.Str("message"),
		"created_at": rec.Str("creation"),
	}
}

func transformMessage(rec Record) map[string]any {
	return map[string]any{
		"id":         rec.Name(),
		"user_id":    rec.Str("user_id"),
		"title":      rec.Str("title"),
		"body":       rec.Str("body"),
		"is_deleted": rec.Bool("is_deleted"),
		"sent_at":    rec.Str("sent_at"),
	}
}

func (t *Transformer) transformHero(ctx context.Context, recs []Record) map[string]any {
	banners := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		b := map[string]any{
			"id":       rec.Name(),
			"title":    rec.Str("title"),
			"subtitle": rec.Str("subtitle"),
			"link":     rec.Str("link"),
			"order":    rec.Num("display_order"),
		}
		if img := rec.Str("image"); img != "" {
			b["image"] = t.embedImage(ctx, img)
		}
		banners = append(banners, b)
	}
	return map[string]any{"banners": banners}
}

func transformBundles(recs []Record) map[string]any {
	bundles := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		items := make([]map[string]any, 0)
		for _, row := range childRows(rec["items"]) {
			items = append(items, map[string]any{
				"item_code": row.Str("item_code"),
				"qty":       row.Num("qty"),
			})
		}
		bundles = append(bundles, map[string]any{
			"id":          rec.Name(),
			"item_code":   rec.Str("new_item_code"),
			"description": rec.Str("description"),
			"items":       items,
		})
	}
	return map[string]any{"bundles": bundles}
}

func transformHome(recs []Record) map[string]any {
	sections := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		sections = append(sections, map[string]any{
			"id":    rec.Name(),
			"title": rec.Str("title"),
			"type":  rec.Str("section_type"),
			"order": rec.Num("display_order"),
			"items": rec.StrList("items"),
		})
	}
	return map[string]any{"sections": sections}
}

// TargetsFromRecord extracts the audience lists of a notification record.
// Returns nil when no targeting is configured, which journals as broadcast.
func TargetsFromRecord(rec Record) *entity.TargetSet {
	ts := &entity.TargetSet{
		Users:         rec.StrList("target_users"),
		Groups:        rec.StrList("target_groups"),
		Regions:       rec.StrList("target_regions"),
		Provinces:     rec.StrList("target_provinces"),
		Cities:        rec.StrList("target_cities"),
		Devices:       rec.StrList("target_devices"),
		NonRegistered: rec.Bool("target_non_registered"),
	}
	if ts.Empty() {
		return nil
	}
	return ts
}

func childRows(v any) []Record {
	rows, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		if m, ok := row.(map[string]any); ok {
			out = append(out, Record(m))
		}
	}
	return out
}
