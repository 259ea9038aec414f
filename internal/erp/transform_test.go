package erp

import (
	"context"
	"errors"
	"testing"

	"github.com/tijarahlabs/storesync/internal/entity"
)

type stubFetcher struct {
	filtered    []Record
	filteredErr error
	image       string
	imageErr    error
}

func (s *stubFetcher) FetchOne(ctx context.Context, doctype, name string) (Record, error) {
	return nil, nil
}
func (s *stubFetcher) FetchPublished(ctx context.Context, doctype string) ([]Record, error) {
	return nil, nil
}
func (s *stubFetcher) FetchFiltered(ctx context.Context, doctype, field, value string) ([]Record, error) {
	return s.filtered, s.filteredErr
}
func (s *stubFetcher) FetchImage(ctx context.Context, fileURL string) (string, error) {
	return s.image, s.imageErr
}
func (s *stubFetcher) Ping(ctx context.Context) error { return nil }

func TestDoctypeMapping(t *testing.T) {
	d, ok := Doctype(entity.TypeProduct)
	if !ok || d != "Website Item" {
		t.Fatalf("Doctype(product) = %q, %v", d, ok)
	}
	if _, ok := Doctype(entity.TypeView); ok {
		t.Error("view has a doctype")
	}
	if _, ok := Doctype(entity.TypeMessage); ok {
		t.Error("message has a doctype")
	}

	typ, ok := TypeForDoctype("Bin")
	if !ok || typ != entity.TypeStock {
		t.Fatalf("TypeForDoctype(Bin) = %q, %v", typ, ok)
	}
	if _, ok := TypeForDoctype("Unknown Doctype"); ok {
		t.Error("unknown doctype resolved")
	}
}

func TestEntityIDFor(t *testing.T) {
	stock := Record{"name": "BIN-0001", "item_code": "WEB-ITM-0002"}
	if id := EntityIDFor(entity.TypeStock, stock); id != "WEB-ITM-0002" {
		t.Errorf("stock id = %q", id)
	}
	price := Record{"name": "PRICE-0001", "item_code": "WEB-ITM-0002"}
	if id := EntityIDFor(entity.TypePrice, price); id != "WEB-ITM-0002" {
		t.Errorf("price id = %q", id)
	}
	product := Record{"name": "WEB-ITM-0002", "item_code": "ITM-0002"}
	if id := EntityIDFor(entity.TypeProduct, product); id != "WEB-ITM-0002" {
		t.Errorf("product id = %q", id)
	}
}

func TestRecordAccessors(t *testing.T) {
	rec := Record{
		"s":      "text",
		"f":      3.5,
		"i":      float64(7),
		"flag1":  float64(1),
		"flag0":  float64(0),
		"flagb":  true,
		"flags":  "1",
		"list":   []any{"a", "b"},
		"listjs": `["x","y"]`,
		"listcs": "p, q",
	}
	if rec.Str("s") != "text" || rec.Str("missing") != "" || rec.Str("f") != "" {
		t.Error("Str")
	}
	if rec.Num("f") != 3.5 || rec.Num("i") != 7 || rec.Num("missing") != 0 {
		t.Error("Num")
	}
	if !rec.Bool("flag1") || rec.Bool("flag0") || !rec.Bool("flagb") || !rec.Bool("flags") {
		t.Error("Bool")
	}
	if got := rec.StrList("list"); len(got) != 2 || got[0] != "a" {
		t.Errorf("StrList(array) = %v", got)
	}
	if got := rec.StrList("listjs"); len(got) != 2 || got[1] != "y" {
		t.Errorf("StrList(json) = %v", got)
	}
	if got := rec.StrList("listcs"); len(got) != 2 || got[0] != "p" || got[1] != "q" {
		t.Errorf("StrList(csv) = %v", got)
	}
	if got := rec.StrList("missing"); got != nil {
		t.Errorf("StrList(missing) = %v", got)
	}
}

func TestTransformProduct(t *testing.T) {
	f := &stubFetcher{
		filtered: []Record{{"price_list_rate": 12.5, "currency": "SAR"}},
		image:    "data:image/png;base64,AAAA",
	}
	tr := NewTransformer(f)

	rec := Record{
		"name":          "WEB-ITM-0002",
		"item_code":     "ITM-0002",
		"item_name":     "Dates 1kg",
		"published":     float64(1),
		"website_image": "/files/dates.png",
	}
	out, err := tr.Transform(context.Background(), entity.TypeProduct, rec)
	if err != nil {
		t.Fatal(err)
	}
	if out["id"] != "WEB-ITM-0002" || out["item_name"] != "Dates 1kg" {
		t.Fatalf("payload = %v", out)
	}
	if out["published"] != true {
		t.Errorf("published = %v", out["published"])
	}
	if out["price"] != 12.5 || out["currency"] != "SAR" {
		t.Errorf("price embedding = %v / %v", out["price"], out["currency"])
	}
	if out["image"] != "data:image/png;base64,AAAA" {
		t.Errorf("image = %v", out["image"])
	}
}

func TestTransformProductDegradesOnLookupFailure(t *testing.T) {
	f := &stubFetcher{
		filteredErr: errors.New("erp down"),
		imageErr:    errors.New("erp down"),
	}
	tr := NewTransformer(f)

	rec := Record{"name": "WEB-ITM-0002", "website_image": "/files/dates.png"}
	out, err := tr.Transform(context.Background(), entity.TypeProduct, rec)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out["price"]; ok {
		t.Error("price present despite lookup failure")
	}
	if out["image"] != "/files/dates.png" {
		t.Errorf("image = %v, want raw url fallback", out["image"])
	}
}

func TestTransformStock(t *testing.T) {
	tr := NewTransformer(&stubFetcher{})
	out, err := tr.Transform(context.Background(), entity.TypeStock, Record{
		"item_code":    "ITM-1",
		"warehouse":    "Main",
		"actual_qty":   float64(10),
		"reserved_qty": float64(4),
	})
	if err != nil {
		t.Fatal(err)
	}
	if out["in_stock"] != true || out["actual_qty"] != float64(10) {
		t.Fatalf("payload = %v", out)
	}

	out, _ = tr.Transform(context.Background(), entity.TypeStock, Record{
		"item_code": "ITM-2", "actual_qty": float64(3), "reserved_qty": float64(3),
	})
	if out["in_stock"] != false {
		t.Errorf("fully reserved stock reported in_stock")
	}
}

func TestTransformUserStatus(t *testing.T) {
	tr := NewTransformer(&stubFetcher{})

	out, err := tr.Transform(context.Background(), entity.TypeUser, Record{
		"name": "u1", "customer_name": "A", "custom_province": "Riyadh",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out["status"] != "registered" || out["province"] != "Riyadh" {
		t.Fatalf("payload = %v", out)
	}

	out, _ = tr.Transform(context.Background(), entity.TypeUser, Record{
		"name": "u2", "custom_status": "unregistered",
	})
	if out["status"] != "unregistered" {
		t.Errorf("status = %v", out["status"])
	}

	out, _ = tr.Transform(context.Background(), entity.TypeUser, Record{
		"name": "u3", "disabled": float64(1),
	})
	if out["status"] != "unregistered" {
		t.Errorf("disabled customer status = %v", out["status"])
	}
}

func TestTransformRejectsWrongShapes(t *testing.T) {
	tr := NewTransformer(&stubFetcher{})

	if _, err := tr.Transform(context.Background(), entity.TypeHero, Record{}); err == nil {
		t.Error("hero accepted as record-shaped")
	}
	if _, err := tr.Transform(context.Background(), entity.TypeView, Record{}); err == nil {
		t.Error("view accepted")
	}
	if _, err := tr.TransformList(context.Background(), entity.TypeProduct, nil); err == nil {
		t.Error("product accepted as list-shaped")
	}
}

func TestTransformHero(t *testing.T) {
	tr := NewTransformer(&stubFetcher{image: "data:image/jpeg;base64,BB"})
	out, err := tr.TransformList(context.Background(), entity.TypeHero, []Record{
		{"name": "HB-1", "title": "Summer", "image": "/files/s.jpg", "display_order": float64(1)},
		{"name": "HB-2", "title": "Eid"},
	})
	if err != nil {
		t.Fatal(err)
	}
	banners, ok := out["banners"].([]map[string]any)
	if !ok || len(banners) != 2 {
		t.Fatalf("banners = %v", out["banners"])
	}
	if banners[0]["image"] != "data:image/jpeg;base64,BB" {
		t.Errorf("banner image = %v", banners[0]["image"])
	}
	if _, ok := banners[1]["image"]; ok {
		t.Error("imageless banner grew an image field")
	}
}

func TestTransformBundles(t *testing.T) {
	tr := NewTransformer(&stubFetcher{})
	out, err := tr.TransformList(context.Background(), entity.TypeBundle, []Record{
		{
			"name":          "BNDL-1",
			"new_item_code": "COMBO-1",
			"items": []any{
				map[string]any{"item_code": "ITM-1", "qty": float64(2)},
				map[string]any{"item_code": "ITM-2", "qty": float64(1)},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	bundles := out["bundles"].([]map[string]any)
	if len(bundles) != 1 || bundles[0]["item_code"] != "COMBO-1" {
		t.Fatalf("bundles = %v", bundles)
	}
	items := bundles[0]["items"].([]map[string]any)
	if len(items) != 2 || items[0]["qty"] != float64(2) {
		t.Fatalf("items = %v", items)
	}
}

func TestTargetsFromRecord(t *testing.T) {
	ts := TargetsFromRecord(Record{
		"target_users":          `["u1","u2"]`,
		"target_provinces":      []any{"Riyadh"},
		"target_non_registered": float64(1),
	})
	if ts == nil {
		t.Fatal("targets = nil")
	}
	if len(ts.Users) != 2 || ts.Users[0] != "u1" {
		t.Errorf("users = %v", ts.Users)
	}
	if len(ts.Provinces) != 1 || ts.Provinces[0] != "Riyadh" {
		t.Errorf("provinces = %v", ts.Provinces)
	}
	if !ts.NonRegistered {
		t.Error("non_registered lost")
	}

	if ts := TargetsFromRecord(Record{"title": "plain"}); ts != nil {
		t.Errorf("untargeted record produced %v", ts)
	}
}
