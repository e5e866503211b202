package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagestream/revenue-engine/api"
	"github.com/pagestream/revenue-engine/settlement"
	"github.com/pagestream/revenue-engine/settlement/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testSecret = "test-secret"

// Runs happen mid-July 2025, so the settlement period is June 2025.
var fixedNow = time.Date(2025, time.July, 15, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine := settlement.NewEngine(mem, settlement.DefaultConfig(), nil).
		WithClock(func() time.Time { return fixedNow })
	handler := api.NewHandler(mem, engine, testSecret, nil)

	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, mem
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// =============================================================================
// SETTLEMENT TRIGGER AUTH
// =============================================================================

func TestTriggerSettlement_MissingToken(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/cron/settle")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTriggerSettlement_WrongToken(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/cron/settle", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTriggerSettlement_UnsetSecretFailsClosed(t *testing.T) {
	// An empty configured secret must reject everything, including an
	// empty bearer token.
	mem := store.NewMemory()
	engine := settlement.NewEngine(mem, settlement.DefaultConfig(), nil)
	handler := api.NewHandler(mem, engine, "", nil)
	srv := httptest.NewServer(api.NewRouter(handler))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/cron/settle", nil)
	req.Header.Set("Authorization", "Bearer ")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// =============================================================================
// SETTLEMENT TRIGGER BEHAVIOR
// =============================================================================

func TestTriggerSettlement_SettlesThenSkips(t *testing.T) {
	// GIVEN: one partner author with June impressions
	srv, mem := newTestServer(t)
	ctx := context.Background()
	inJune := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, mem.SaveProfile(ctx, settlement.Profile{
		ID: "auth-1", CreatedAt: fixedNow.AddDate(-1, 0, 0),
	}))
	require.NoError(t, mem.SaveAuthorTier(ctx, settlement.AuthorTier{
		AuthorID: "auth-1", Tier: settlement.TierPartner,
		RevenueShare: decimal.RequireFromString("0.70"),
	}))
	require.NoError(t, mem.SaveDocument(ctx, settlement.Document{ID: "doc-1", AuthorID: "auth-1"}))
	for i := 0; i < 3; i++ {
		require.NoError(t, mem.RecordImpression(ctx, settlement.AdImpression{
			ID: string(rune('a' + i)), DocumentID: "doc-1", AuthorID: "auth-1",
			AdPosition: settlement.PositionOverlay, CreatedAt: inJune,
		}))
	}

	trigger := func() *http.Response {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/cron/settle", nil)
		req.Header.Set("Authorization", "Bearer "+testSecret)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	// WHEN: the trigger fires
	resp := trigger()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var first api.SettleResponse
	decode(t, resp, &first)

	// THEN: June settles with one author
	assert.Equal(t, "2025-06", first.Month)
	assert.False(t, first.Skipped)
	require.Equal(t, 1, first.Settled)
	assert.Equal(t, "auth-1", first.Results[0].AuthorID)
	assert.Equal(t, int64(3), first.Results[0].AdImpressions)

	// AND: a second trigger is an idempotent skip
	resp = trigger()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var second api.SettleResponse
	decode(t, resp, &second)
	assert.True(t, second.Skipped)
	assert.Equal(t, 0, second.Settled)
}

func TestListRuns_ExposesAuditTrail(t *testing.T) {
	srv, mem := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/cron/settle", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	// No eligible authors: the engine returns early without a run record,
	// so seed one directly.
	require.NoError(t, mem.SaveRun(context.Background(), settlement.RunRecord{
		ID: "run-1", Month: "2025-06", Status: settlement.RunCompleted,
		PeriodStart: time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
		StartedAt:   fixedNow,
	}))

	resp, err = http.Get(srv.URL + "/api/settlement/runs")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var runs []api.RunDTO
	decode(t, resp, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
}

// =============================================================================
// INGEST ENDPOINTS
// =============================================================================

func TestCreateDocument_AndGet(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/documents", api.CreateDocumentRequest{
		AuthorID: "auth-1", Title: "Quarterly Report",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created api.DocumentDTO
	decode(t, resp, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "Quarterly Report", created.Title)

	resp2, err := http.Get(srv.URL + "/api/documents/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var got api.DocumentDTO
	decode(t, resp2, &got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "auth-1", got.AuthorID)
}

func TestCreateDocument_RequiresAuthor(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/documents", api.CreateDocumentRequest{
		Title: "Orphan",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecordImpression_UnknownPositionRejected(t *testing.T) {
	srv, mem := newTestServer(t)
	require.NoError(t, mem.SaveDocument(context.Background(), settlement.Document{
		ID: "doc-1", AuthorID: "auth-1",
	}))

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/impressions", api.RecordImpressionRequest{
		DocumentID: "doc-1", AdPosition: "popup",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecordImpression_StampsOwnership(t *testing.T) {
	srv, mem := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, mem.SaveDocument(ctx, settlement.Document{
		ID: "doc-1", AuthorID: "auth-1",
	}))

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/impressions", api.RecordImpressionRequest{
		DocumentID: "doc-1", AdPosition: "overlay", ViewerID: "viewer-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	count, err := mem.CountImpressions(ctx, []string{"doc-1"}, settlement.RevenuePositions,
		time.Time{}, fixedNow.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestHeartbeat_AccumulatesDocumentReadingTime(t *testing.T) {
	// GIVEN: a session on a document
	srv, mem := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, mem.SaveDocument(ctx, settlement.Document{
		ID: "doc-1", AuthorID: "auth-1",
	}))

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", api.CreateSessionRequest{
		DocumentID: "doc-1", ReaderID: "reader-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sess api.SessionDTO
	decode(t, resp, &sess)

	// WHEN: two heartbeats report cumulative progress
	resp = doJSON(t, http.MethodPut, srv.URL+"/api/sessions/"+sess.ID, api.HeartbeatRequest{
		ReadingSecs: 120, CurrentPage: 3,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPut, srv.URL+"/api/sessions/"+sess.ID, api.HeartbeatRequest{
		ReadingSecs: 180,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated api.SessionDTO
	decode(t, resp, &updated)

	// THEN: the session holds the cumulative figure and the document's
	// lifetime counter received only the deltas
	assert.Equal(t, int64(180), updated.ReadingSecs)

	doc, err := mem.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(180), doc.TotalReadingSecs)
}

func TestHeartbeat_StaleProgressAddsNothing(t *testing.T) {
	srv, mem := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, mem.SaveDocument(ctx, settlement.Document{
		ID: "doc-1", AuthorID: "auth-1",
	}))

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", api.CreateSessionRequest{
		DocumentID: "doc-1",
	})
	var sess api.SessionDTO
	decode(t, resp, &sess)

	resp = doJSON(t, http.MethodPut, srv.URL+"/api/sessions/"+sess.ID, api.HeartbeatRequest{ReadingSecs: 300})
	resp.Body.Close()
	// A replayed or out-of-order heartbeat with lower progress
	resp = doJSON(t, http.MethodPut, srv.URL+"/api/sessions/"+sess.ID, api.HeartbeatRequest{ReadingSecs: 200})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated api.SessionDTO
	decode(t, resp, &updated)

	assert.Equal(t, int64(300), updated.ReadingSecs, "progress never decreases")
	doc, err := mem.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), doc.TotalReadingSecs)
}

// =============================================================================
// PROFILES AND EARNINGS
// =============================================================================

func TestCreateProfile_WithPremium(t *testing.T) {
	srv, _ := newTestServer(t)
	expires := fixedNow.AddDate(0, 1, 0).Format(time.RFC3339)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/profiles", api.CreateProfileRequest{
		ID: "reader-1", DisplayName: "Reader", IsPremium: true, PremiumExpiresAt: &expires,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var p api.ProfileDTO
	decode(t, resp, &p)
	assert.True(t, p.IsPremium)
	require.NotNil(t, p.PremiumExpiresAt)
}

func TestGetEarnings_MinimumPayoutFlag(t *testing.T) {
	srv, mem := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, mem.SaveProfile(ctx, settlement.Profile{
		ID: "auth-1", CreatedAt: fixedNow.AddDate(-1, 0, 0),
	}))
	require.NoError(t, mem.UpdatePendingPayout(ctx, "auth-1", decimal.RequireFromString("9.99")))

	resp, err := http.Get(srv.URL + "/api/authors/auth-1/earnings")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var earnings api.EarningsDTO
	decode(t, resp, &earnings)
	assert.Equal(t, "9.99", earnings.PendingPayout)
	assert.False(t, earnings.PayoutEligible, "below the $10.00 minimum")
	assert.Equal(t, "10.00", earnings.MinimumPayout)

	// Crossing the threshold flips the flag
	require.NoError(t, mem.UpdatePendingPayout(ctx, "auth-1", decimal.RequireFromString("10.00")))
	resp, err = http.Get(srv.URL + "/api/authors/auth-1/earnings")
	require.NoError(t, err)
	decode(t, resp, &earnings)
	assert.True(t, earnings.PayoutEligible)
}

func TestGetEarnings_UnknownAuthor(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/authors/missing/earnings")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
