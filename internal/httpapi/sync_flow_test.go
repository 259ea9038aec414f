package httpapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tijarahlabs/storesync/internal/entity"
	"github.com/tijarahlabs/storesync/internal/erp"
	"github.com/tijarahlabs/storesync/internal/indexes"
)

func TestSyncColdClientInSync(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.syncCheck(t, "/api/sync/check", map[string]any{
		"lastSync":    map[string]string{},
		"entityTypes": []string{"product"},
		"limit":       100,
	}, "device-1")

	assert.True(t, resp.InSync)
	assert.Empty(t, resp.Updates)
	assert.Nil(t, resp.LastIDs)
}

func TestWebhookThenSyncDeliversUpdate(t *testing.T) {
	f := &stubFetcher{one: map[string]erp.Record{
		"Website Item/WEB-ITM-0002": productRecord("WEB-ITM-0002", "Mint Tea"),
	}}
	ts := newTestServer(t, f)

	wr := ts.webhook(t, map[string]any{
		"entity_type": "product",
		"entity_id":   "WEB-ITM-0002",
	})
	require.True(t, wr.Success)
	require.True(t, wr.Result.Changed)

	resp := ts.syncCheck(t, "/api/sync/check", map[string]any{
		"lastSync":    map[string]string{},
		"entityTypes": []string{"product"},
		"limit":       100,
	}, "device-1")

	require.False(t, resp.InSync)
	require.Len(t, resp.Updates, 1)
	u := resp.Updates[0]
	assert.Equal(t, entity.TypeProduct, u.EntityType)
	assert.Equal(t, "WEB-ITM-0002", u.EntityID)
	assert.Equal(t, int64(1), u.Version)
	assert.Equal(t, "Mint Tea", u.Payload["item_name"])
	assert.False(t, u.Deleted)

	info, err := ts.journal.InfoFor(context.Background(), entity.TypeProduct)
	require.NoError(t, err)
	assert.Equal(t, info.LastID, resp.LastIDs["product"])
}

func TestSyncReplayWithReturnedCursorIsNoOp(t *testing.T) {
	f := &stubFetcher{one: map[string]erp.Record{
		"Website Item/WEB-ITM-0002": productRecord("WEB-ITM-0002", "Mint Tea"),
	}}
	ts := newTestServer(t, f)

	ts.webhook(t, map[string]any{"entity_type": "product", "entity_id": "WEB-ITM-0002"})

	first := ts.syncCheck(t, "/api/sync/check", map[string]any{
		"lastSync":    map[string]string{},
		"entityTypes": []string{"product"},
	}, "device-1")
	require.False(t, first.InSync)
	require.NotEmpty(t, first.LastIDs)

	second := ts.syncCheck(t, "/api/sync/check", map[string]any{
		"lastSync": first.LastIDs,
	}, "device-1")
	assert.True(t, second.InSync)
	assert.Empty(t, second.Updates)
	assert.Nil(t, second.LastIDs)
}

func TestFullRefreshSkipsUnchangedEntities(t *testing.T) {
	rec := productRecord("WEB-ITM-0002", "Mint Tea")
	f := &stubFetcher{
		one:       map[string]erp.Record{"Website Item/WEB-ITM-0002": rec},
		published: map[string][]erp.Record{"Website Item": {rec}},
	}
	ts := newTestServer(t, f)
	ctx := context.Background()

	ts.webhook(t, map[string]any{"entity_type": "product", "entity_id": "WEB-ITM-0002"})

	cursor := ts.syncCheck(t, "/api/sync/check", map[string]any{
		"entityTypes": []string{"product"},
	}, "device-1")
	require.False(t, cursor.InSync)

	before, err := ts.journal.Length(ctx, entity.TypeProduct)
	require.NoError(t, err)

	summary := ts.ingest.FullRefresh(ctx)
	assert.Zero(t, summary.Failed, "errors: %v", summary.Errors)

	after, err := ts.journal.Length(ctx, entity.TypeProduct)
	require.NoError(t, err)
	assert.Equal(t, before, after, "refresh of unchanged content must not append")

	resp := ts.syncCheck(t, "/api/sync/check", map[string]any{
		"lastSync": cursor.LastIDs,
	}, "device-1")
	assert.True(t, resp.InSync, "idle client saw refresh churn: %+v", resp.Updates)
}

func TestNotificationAudienceOverSync(t *testing.T) {
	f := &stubFetcher{one: map[string]erp.Record{
		"App Notification/NOTIF-1": {
			"name":             "NOTIF-1",
			"title":            "Riyadh flash sale",
			"message":          "Today only.",
			"target_provinces": []any{"Riyadh"},
		},
		"App Notification/NOTIF-2": {
			"name":                  "NOTIF-2",
			"title":                 "Register now",
			"message":               "Create an account.",
			"target_non_registered": true,
		},
	}}
	ts := newTestServer(t, f)

	ts.webhook(t, map[string]any{"entity_type": "notification", "entity_id": "NOTIF-1"})
	ts.webhook(t, map[string]any{"entity_type": "notification", "entity_id": "NOTIF-2"})

	check := func(caller map[string]any) []string {
		t.Helper()
		body := map[string]any{"entityTypes": []string{"notification"}}
		for k, v := range caller {
			body[k] = v
		}
		resp := ts.syncCheck(t, "/api/sync/check", body, "device-1")
		ids := make([]string, 0, len(resp.Updates))
		for _, u := range resp.Updates {
			ids = append(ids, u.EntityID)
		}
		return ids
	}

	assert.Equal(t, []string{"NOTIF-1"},
		check(map[string]any{"userProvince": "Riyadh", "isRegistered": true}))
	assert.Empty(t,
		check(map[string]any{"userProvince": "Makkah", "isRegistered": true}))
	assert.Equal(t, []string{"NOTIF-2"},
		check(map[string]any{"userProvince": "Makkah", "isRegistered": false}))
}

func TestSyncTierRoutes(t *testing.T) {
	f := &stubFetcher{one: map[string]erp.Record{
		"Customer/CUST-0001":        {"name": "CUST-0001", "customer_name": "Aisha"},
		"Website Item/WEB-ITM-0002": productRecord("WEB-ITM-0002", "Mint Tea"),
	}}
	ts := newTestServer(t, f)

	ts.webhook(t, map[string]any{"entity_type": "user", "entity_id": "CUST-0001"})
	ts.webhook(t, map[string]any{"entity_type": "product", "entity_id": "WEB-ITM-0002"})

	fast := ts.syncCheck(t, "/api/sync/check-fast", map[string]any{}, "device-1")
	require.Len(t, fast.Updates, 1)
	assert.Equal(t, entity.TypeUser, fast.Updates[0].EntityType)

	medium := ts.syncCheck(t, "/api/sync/check-medium", map[string]any{}, "device-1")
	assert.True(t, medium.InSync)

	slow := ts.syncCheck(t, "/api/sync/check-slow", map[string]any{}, "device-1")
	require.Len(t, slow.Updates, 1)
	assert.Equal(t, entity.TypeProduct, slow.Updates[0].EntityType)
}

func TestSyncRequestValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"limit above cap", map[string]any{"limit": 2000}},
		{"unknown entity type", map[string]any{"entityTypes": []string{"gadget"}}},
		{"malformed cursor", map[string]any{"lastSync": map[string]string{"product": "garbage"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.doJSON(t, http.MethodPost, "/api/sync/check", tt.body, "device-1")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
		})
	}
}

func TestUserLocationTransitionOverWebhook(t *testing.T) {
	f := &stubFetcher{one: map[string]erp.Record{
		"Customer/CUST-0001": {
			"name":            "CUST-0001",
			"customer_name":   "Aisha",
			"custom_province": "Riyadh",
			"custom_city":     "Riyadh City",
		},
	}}
	ts := newTestServer(t, f)
	ctx := context.Background()

	ts.webhook(t, map[string]any{"entity_type": "user", "entity_id": "CUST-0001"})

	in, err := ts.store.SIsMember(ctx, indexes.ProvinceKey("Riyadh"), "CUST-0001")
	require.NoError(t, err)
	assert.True(t, in)

	// The user moves; the next webhook delivery carries the new province.
	f.one["Customer/CUST-0001"] = erp.Record{
		"name":            "CUST-0001",
		"customer_name":   "Aisha",
		"custom_province": "Makkah",
		"custom_city":     "Jeddah",
	}
	ts.webhook(t, map[string]any{"entity_type": "user", "entity_id": "CUST-0001"})

	in, err = ts.store.SIsMember(ctx, indexes.ProvinceKey("Makkah"), "CUST-0001")
	require.NoError(t, err)
	assert.True(t, in)
	in, err = ts.store.SIsMember(ctx, indexes.ProvinceKey("Riyadh"), "CUST-0001")
	require.NoError(t, err)
	assert.False(t, in)

	// Even if an inline transition is lost, the reconciler restores the
	// invariant from the cache.
	require.NoError(t, ts.store.SAdd(ctx, indexes.ProvinceKey("Riyadh"), "CUST-0001"))
	_, err = ts.indexer.Reconcile(ctx)
	require.NoError(t, err)

	in, err = ts.store.SIsMember(ctx, indexes.ProvinceKey("Riyadh"), "CUST-0001")
	require.NoError(t, err)
	assert.False(t, in)
	in, err = ts.store.SIsMember(ctx, indexes.ProvinceKey("Makkah"), "CUST-0001")
	require.NoError(t, err)
	assert.True(t, in)
}

func TestSyncUsesHeaderDeviceForAudience(t *testing.T) {
	f := &stubFetcher{one: map[string]erp.Record{
		"App Notification/NOTIF-1": {
			"name":           "NOTIF-1",
			"title":          "Device push",
			"target_devices": []any{"device-42"},
		},
	}}
	ts := newTestServer(t, f)

	ts.webhook(t, map[string]any{"entity_type": "notification", "entity_id": "NOTIF-1"})

	// No userDeviceId in the body: the X-Device-ID header fills it in.
	matched := ts.syncCheck(t, "/api/sync/check", map[string]any{
		"entityTypes":  []string{"notification"},
		"isRegistered": true,
	}, "device-42")
	require.Len(t, matched.Updates, 1)

	other := ts.syncCheck(t, "/api/sync/check", map[string]any{
		"entityTypes":  []string{"notification"},
		"isRegistered": true,
	}, "device-7")
	assert.Empty(t, other.Updates)
}
