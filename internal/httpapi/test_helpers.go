package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tijarahlabs/storesync/internal/analytics"
	"github.com/tijarahlabs/storesync/internal/apperr"
	"github.com/tijarahlabs/storesync/internal/cache"
	"github.com/tijarahlabs/storesync/internal/erp"
	"github.com/tijarahlabs/storesync/internal/indexes"
	"github.com/tijarahlabs/storesync/internal/ingest"
	"github.com/tijarahlabs/storesync/internal/journal"
	"github.com/tijarahlabs/storesync/internal/ratelimit"
	"github.com/tijarahlabs/storesync/internal/store"
	"github.com/tijarahlabs/storesync/internal/syncer"
)

// stubFetcher serves canned ERP records: one["<doctype>/<name>"] for single
// reads, published[doctype] for list walks.
type stubFetcher struct {
	one       map[string]erp.Record
	published map[string][]erp.Record
	filtered  map[string][]erp.Record
	pingErr   error

	oneCalls       int
	publishedCalls int
}

func (f *stubFetcher) FetchOne(ctx context.Context, doctype, name string) (erp.Record, error) {
	f.oneCalls++
	if rec, ok := f.one[doctype+"/"+name]; ok {
		return rec, nil
	}
	return nil, apperr.NotFound(doctype + " " + name + " not found")
}

func (f *stubFetcher) FetchPublished(ctx context.Context, doctype string) ([]erp.Record, error) {
	f.publishedCalls++
	return f.published[doctype], nil
}

func (f *stubFetcher) FetchFiltered(ctx context.Context, doctype, field, value string) ([]erp.Record, error) {
	return f.filtered[doctype+"/"+field+"/"+value], nil
}

func (f *stubFetcher) FetchImage(ctx context.Context, fileURL string) (string, error) {
	return "", errors.New("no images in tests")
}

func (f *stubFetcher) Ping(ctx context.Context) error { return f.pingErr }

// testServer is a full core wired to miniredis behind the real router.
type testServer struct {
	srv     *Server
	router  http.Handler
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	store   *store.Store
	cache   *cache.Cache
	journal *journal.Journal
	ingest  *ingest.Ingestor
	indexer *indexes.Indexer
	fetcher *stubFetcher
}

func newTestServer(t *testing.T, f *stubFetcher) *testServer {
	t.Helper()
	if f == nil {
		f = &stubFetcher{}
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := store.NewWithClient(rdb)
	c := cache.New(st)
	j := journal.New(st, 0, 0)
	tr := erp.NewTransformer(f)
	ix := indexes.New(st, c)
	ing := ingest.New(st, c, j, f, tr, time.Hour)
	ing.UseIndexer(ix)

	srv := &Server{
		Store:       st,
		Cache:       c,
		Journal:     j,
		Fetcher:     f,
		Transformer: tr,
		Ingestor:    ing,
		Processor:   syncer.NewProcessor(j, syncer.NewDetector(c)),
		Queries:     cache.NewQueryCache(st, 5*time.Minute),
		Limiter:     ratelimit.New(st, time.Minute, 1000),
		Analytics:   analytics.New(st, 30*24*time.Hour),
	}
	return &testServer{
		srv:     srv,
		router:  srv.Routes(),
		mr:      mr,
		rdb:     rdb,
		store:   st,
		cache:   c,
		journal: j,
		ingest:  ing,
		indexer: ix,
		fetcher: f,
	}
}

// doJSON performs one request with a JSON body and standard headers.
func (ts *testServer) doJSON(t *testing.T, method, path string, body any, device string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if device != "" {
		req.Header.Set("X-Device-ID", device)
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

// syncCheck posts a sync request and decodes the response, failing the test
// on any non-200 answer.
func (ts *testServer) syncCheck(t *testing.T, path string, body any, device string) syncer.Response {
	t.Helper()

	w := ts.doJSON(t, http.MethodPost, path, body, device)
	if w.Code != http.StatusOK {
		t.Fatalf("%s status = %d, body %s", path, w.Code, w.Body.String())
	}
	var resp syncer.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode sync response: %v", err)
	}
	return resp
}

// webhook posts one change notification, failing the test on any non-200.
func (ts *testServer) webhook(t *testing.T, body map[string]any) webhookResponse {
	t.Helper()

	w := ts.doJSON(t, http.MethodPost, "/api/webhooks/erpnext", body, "test-device")
	if w.Code != http.StatusOK {
		t.Fatalf("webhook status = %d, body %s", w.Code, w.Body.String())
	}
	var resp webhookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode webhook response: %v", err)
	}
	return resp
}

func productRecord(name, itemName string) erp.Record {
	return erp.Record{
		"name":      name,
		"item_code": name,
		"item_name": itemName,
		"published": true,
	}
}
