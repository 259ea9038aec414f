// Package erp talks to the back-office ERP: fetching raw records and
// normalising them into the app-ready payloads the cache stores. Only the
// Fetcher contract leaks out of this package; callers never see the ERP
// wire format.
package erp

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/tijarahlabs/storesync/internal/entity"
)

// ErrNoDoctype marks entity types that originate in the app rather than the
// ERP; there is nothing to fetch for them.
var ErrNoDoctype = errors.New("erp: entity type has no ERP doctype")

// Record is one raw ERP document as decoded from the wire.
type Record map[string]any

// Fetcher pulls raw records from the ERP. The HTTP client implements it;
// tests substitute a stub.
type Fetcher interface {
	// FetchOne retrieves a single document by doctype and name.
	FetchOne(ctx context.Context, doctype, name string) (Record, error)
	// FetchPublished retrieves the full published-document list of a doctype.
	FetchPublished(ctx context.Context, doctype string) ([]Record, error)
	// FetchFiltered retrieves documents matching one field equality.
	FetchFiltered(ctx context.Context, doctype, field, value string) ([]Record, error)
	// FetchImage retrieves a file and returns it as a base64 data URI.
	FetchImage(ctx context.Context, fileURL string) (string, error)
	// Ping verifies the ERP answers at all.
	Ping(ctx context.Context) error
}

// doctypes maps each ERP-origin entity type to its back-office doctype.
// view and message are app-origin and deliberately absent.
var doctypes = map[entity.Type]string{
	entity.TypeProduct:      "Website Item",
	entity.TypePrice:        "Item Price",
	entity.TypeStock:        "Bin",
	entity.TypeBundle:       "Product Bundle",
	entity.TypeUser:         "Customer",
	entity.TypeComment:      "Item Review",
	entity.TypeHero:         "Hero Banner",
	entity.TypeHome:         "Home Layout",
	entity.TypeAnnouncement: "Announcement",
	entity.TypeNotification: "App Notification",
}

// Doctype returns the ERP doctype of t, or ok=false for app-origin types.
func Doctype(t entity.Type) (string, bool) {
	d, ok := doctypes[t]
	return d, ok
}

// TypeForDoctype is the reverse lookup used by the resource read-through
// route, which is addressed by doctype.
func TypeForDoctype(doctype string) (entity.Type, bool) {
	for t, d := range doctypes {
		if d == doctype {
			return t, true
		}
	}
	return "", false
}

// EntityIDFor derives the cache id of a raw record. Stock and price records
// are keyed by the product they describe, everything else by document name.
func EntityIDFor(typ entity.Type, rec Record) string {
	switch typ {
	case entity.TypeStock, entity.TypePrice:
		if code := rec.Str("item_code"); code != "" {
			return code
		}
	}
	return rec.Name()
}

// Name returns the document name, the ERP's primary key.
func (r Record) Name() string {
	return r.Str("name")
}

// Str returns a string field, or "" when absent or differently typed.
func (r Record) Str(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Num returns a numeric field. ERP integers arrive as JSON floats.
func (r Record) Num(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

// Bool reads an ERP truthy field: real booleans, 0/1 numerics, "1"/"true".
func (r Record) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v == "1" || strings.EqualFold(v, "true")
	}
	return false
}

// StrList reads a list-valued field. The ERP serialises lists either as real
// JSON arrays or as JSON-in-a-string; plain scalar strings are treated as a
// single-element list so sloppy fixtures still target someone.
func (r Record) StrList(key string) []string {
	switch v := r[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		var out []string
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
		parts := strings.Split(v, ",")
		out = out[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}
