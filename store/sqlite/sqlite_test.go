package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagestream/revenue-engine/settlement"
	"github.com/pagestream/revenue-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var (
	periodStart = time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	inJune      = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
)

func testRecord(id, authorID, month string) settlement.RevenueRecord {
	return settlement.RevenueRecord{
		ID:                 id,
		AuthorID:           authorID,
		Month:              month,
		Tier:               settlement.TierPartner,
		AdImpressions:      5000,
		AdGrossRevenue:     decimal.RequireFromString("10"),
		AdAuthorShare:      decimal.RequireFromString("7"),
		AdPlatformShare:    decimal.RequireFromString("3"),
		TotalAuthorRevenue: decimal.RequireFromString("7"),
		Status:             settlement.RevenuePending,
		CreatedAt:          inJune,
	}
}

// =============================================================================
// IDEMPOTENCY CONSTRAINT
// =============================================================================

func TestInsertRevenueRecord_DuplicateMonthRejected(t *testing.T) {
	// GIVEN: a record already settled for (auth-1, 2025-06)
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertRevenueRecord(ctx, testRecord("rec-1", "auth-1", "2025-06")))

	// WHEN: inserting a second record for the same author and month
	err := store.InsertRevenueRecord(ctx, testRecord("rec-2", "auth-1", "2025-06"))

	// THEN: the unique constraint surfaces as the duplicate sentinel
	assert.ErrorIs(t, err, settlement.ErrDuplicateSettlement)
}

func TestInsertRevenueRecord_SameAuthorDifferentMonthAllowed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertRevenueRecord(ctx, testRecord("rec-1", "auth-1", "2025-05")))
	require.NoError(t, store.InsertRevenueRecord(ctx, testRecord("rec-2", "auth-1", "2025-06")))

	records, err := store.ListRevenueByAuthor(ctx, "auth-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2025-06", records[0].Month, "newest month first")
}

func TestExistsForMonth(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exists, err := store.ExistsForMonth(ctx, "2025-06")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.InsertRevenueRecord(ctx, testRecord("rec-1", "auth-1", "2025-06")))

	exists, err = store.ExistsForMonth(ctx, "2025-06")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.ExistsForMonth(ctx, "2025-07")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRevenueRecord_DecimalRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("rec-1", "auth-1", "2025-06")
	rec.PremiumAuthorShare = decimal.RequireFromString("19.551")
	require.NoError(t, store.InsertRevenueRecord(ctx, rec))

	records, err := store.ListRevenueByAuthor(ctx, "auth-1", 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].PremiumAuthorShare.Equal(decimal.RequireFromString("19.551")))
	assert.True(t, records[0].AdAuthorShare.Equal(decimal.RequireFromString("7")))
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func TestDocument_ReadingTimeAccumulates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveDocument(ctx, settlement.Document{
		ID: "doc-1", AuthorID: "auth-1", Title: "Paper",
	}))

	require.NoError(t, store.AddReadingTime(ctx, "doc-1", 120))
	require.NoError(t, store.AddReadingTime(ctx, "doc-1", 60))

	doc, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(180), doc.TotalReadingSecs)

	total, err := store.TotalReadingSecsByAuthor(ctx, "auth-1")
	require.NoError(t, err)
	assert.Equal(t, int64(180), total)
}

func TestAddReadingTime_UnknownDocument(t *testing.T) {
	store := newTestStore(t)
	err := store.AddReadingTime(context.Background(), "missing", 60)
	assert.ErrorIs(t, err, settlement.ErrNotFound)
}

func TestListDocumentsByAuthor_FiltersOwnership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveDocument(ctx, settlement.Document{ID: "doc-1", AuthorID: "auth-1"}))
	require.NoError(t, store.SaveDocument(ctx, settlement.Document{ID: "doc-2", AuthorID: "auth-1"}))
	require.NoError(t, store.SaveDocument(ctx, settlement.Document{ID: "doc-3", AuthorID: "auth-2"}))

	docs, err := store.ListDocumentsByAuthor(ctx, "auth-1")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

// =============================================================================
// IMPRESSIONS
// =============================================================================

func TestCountImpressions_FiltersPositionAndWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	save := func(id string, pos settlement.AdPosition, at time.Time) {
		require.NoError(t, store.RecordImpression(ctx, settlement.AdImpression{
			ID: id, DocumentID: "doc-1", AuthorID: "auth-1", AdPosition: pos, CreatedAt: at,
		}))
	}
	save("i1", settlement.PositionOverlay, inJune)
	save("i2", settlement.PositionControlBar, inJune)
	save("i3", settlement.PositionBanner, inJune)                       // presentation-only
	save("i4", settlement.PositionOverlay, periodEnd)                   // first instant of July, excluded
	save("i5", settlement.PositionOverlay, periodStart.Add(-time.Hour)) // May, excluded

	count, err := store.CountImpressions(ctx, []string{"doc-1"}, settlement.RevenuePositions, periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCountImpressions_EmptyDocumentSet(t *testing.T) {
	store := newTestStore(t)

	count, err := store.CountImpressions(context.Background(), nil, settlement.RevenuePositions, periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestTotalReadingMinutes_RoundsPerSession(t *testing.T) {
	// Per-session rounding: 90s -> 2 min, 29s -> 0 min, 3000s -> 50 min.
	// Summed per session, not over total seconds.
	store := newTestStore(t)
	ctx := context.Background()

	save := func(id string, secs int64) {
		require.NoError(t, store.CreateSession(ctx, settlement.ReadingSession{
			ID: id, DocumentID: "doc-1", ReaderID: "r", ReadingSecs: secs, LastReadAt: inJune,
		}))
	}
	save("s1", 90)
	save("s2", 29)
	save("s3", 3000)

	minutes, err := store.TotalReadingMinutes(ctx, periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(52), minutes)
}

func TestSessionsForDocuments_WindowIsHalfOpen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, settlement.ReadingSession{
		ID: "s1", DocumentID: "doc-1", LastReadAt: periodStart,
	}))
	require.NoError(t, store.CreateSession(ctx, settlement.ReadingSession{
		ID: "s2", DocumentID: "doc-1", LastReadAt: periodEnd,
	}))

	sessions, err := store.SessionsForDocuments(ctx, []string{"doc-1"}, periodStart, periodEnd)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
}

func TestUpdateSession_PersistsProgress(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := settlement.ReadingSession{
		ID: "s1", DocumentID: "doc-1", ReaderID: "r1", LastReadAt: inJune, CurrentPage: 1,
	}
	require.NoError(t, store.CreateSession(ctx, sess))

	sess.ReadingSecs = 300
	sess.CurrentPage = 7
	sess.LastReadAt = inJune.Add(5 * time.Minute)
	require.NoError(t, store.UpdateSession(ctx, sess))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.ReadingSecs)
	assert.Equal(t, 7, got.CurrentPage)
}

// =============================================================================
// PROFILES
// =============================================================================

func TestProfile_PremiumFiltering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := inJune

	active := now.Add(30 * 24 * time.Hour)
	lapsed := now.Add(-time.Hour)

	require.NoError(t, store.SaveProfile(ctx, settlement.Profile{
		ID: "p-active", IsPremium: true, PremiumExpiresAt: &active, CreatedAt: now,
	}))
	require.NoError(t, store.SaveProfile(ctx, settlement.Profile{
		ID: "p-lapsed", IsPremium: true, PremiumExpiresAt: &lapsed, CreatedAt: now,
	}))
	require.NoError(t, store.SaveProfile(ctx, settlement.Profile{
		ID: "p-free", CreatedAt: now,
	}))

	count, err := store.CountActivePremium(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	premium, err := store.FilterActivePremium(ctx, []string{"p-active", "p-lapsed", "p-free"}, now)
	require.NoError(t, err)
	assert.True(t, premium["p-active"])
	assert.False(t, premium["p-lapsed"])
	assert.False(t, premium["p-free"])
}

func TestUpdatePendingPayout_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveProfile(ctx, settlement.Profile{ID: "auth-1", CreatedAt: inJune}))
	require.NoError(t, store.UpdatePendingPayout(ctx, "auth-1", decimal.RequireFromString("8.9551")))

	p, err := store.GetProfile(ctx, "auth-1")
	require.NoError(t, err)
	assert.True(t, p.PendingPayout.Equal(decimal.RequireFromString("8.9551")))
}

func TestUpdatePendingPayout_UnknownProfile(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdatePendingPayout(context.Background(), "missing", decimal.Zero)
	assert.ErrorIs(t, err, settlement.ErrNotFound)
}

func TestSaveProfile_UpsertKeepsPayoutAndTier(t *testing.T) {
	// Re-registering a profile must not wipe the settlement-owned fields.
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveProfile(ctx, settlement.Profile{ID: "auth-1", CreatedAt: inJune}))
	require.NoError(t, store.UpdatePendingPayout(ctx, "auth-1", decimal.RequireFromString("25")))
	require.NoError(t, store.SetAuthorTier(ctx, "auth-1", settlement.TierPro))

	require.NoError(t, store.SaveProfile(ctx, settlement.Profile{
		ID: "auth-1", DisplayName: "Renamed", CreatedAt: inJune,
	}))

	p, err := store.GetProfile(ctx, "auth-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.DisplayName)
	assert.True(t, p.PendingPayout.Equal(decimal.RequireFromString("25")))
	assert.Equal(t, settlement.TierPro, p.AuthorTier)
}

// =============================================================================
// TIERS
// =============================================================================

func TestAuthorTier_UpsertAndEligibility(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAuthorTier(ctx, settlement.AuthorTier{
		AuthorID: "auth-0", Tier: settlement.TierNone, RevenueShare: decimal.Zero,
	}))
	require.NoError(t, store.SaveAuthorTier(ctx, settlement.AuthorTier{
		AuthorID: "auth-1", Tier: settlement.TierPartner, RevenueShare: decimal.RequireFromString("0.70"),
	}))
	require.NoError(t, store.SaveAuthorTier(ctx, settlement.AuthorTier{
		AuthorID: "auth-2", Tier: settlement.TierPro, RevenueShare: decimal.RequireFromString("0.80"),
	}))

	eligible, err := store.ListEligibleAuthors(ctx, settlement.TierPartner)
	require.NoError(t, err)
	require.Len(t, eligible, 2)

	// Upsert promotes in place
	require.NoError(t, store.SaveAuthorTier(ctx, settlement.AuthorTier{
		AuthorID: "auth-1", Tier: settlement.TierPro, RevenueShare: decimal.RequireFromString("0.80"),
		TotalReadingHours: decimal.RequireFromString("1050.25"),
	}))
	tier, err := store.GetAuthorTier(ctx, "auth-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.TierPro, tier.Tier)
	assert.True(t, tier.TotalReadingHours.Equal(decimal.RequireFromString("1050.25")))
}

// =============================================================================
// RUNS
// =============================================================================

func TestSaveRun_UpsertLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := settlement.RunRecord{
		ID:          "run-1",
		Month:       "2025-06",
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Status:      settlement.RunRunning,
		StartedAt:   inJune,
	}
	require.NoError(t, store.SaveRun(ctx, run))

	completed := inJune.Add(time.Minute)
	run.Status = settlement.RunCompleted
	run.SettledCount = 3
	run.CompletedAt = &completed
	require.NoError(t, store.SaveRun(ctx, run))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, settlement.RunCompleted, runs[0].Status)
	assert.Equal(t, 3, runs[0].SettledCount)
	require.NotNil(t, runs[0].CompletedAt)
}

func TestListRuns_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, store.SaveRun(ctx, settlement.RunRecord{
			ID: id, Month: "2025-06", PeriodStart: periodStart, PeriodEnd: periodEnd,
			Status: settlement.RunSkipped, StartedAt: inJune.Add(time.Duration(i) * time.Hour),
		}))
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].ID)
	assert.Equal(t, "run-b", runs[1].ID)
}
