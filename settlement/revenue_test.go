package settlement_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/pagestream/revenue-engine/settlement"
)

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func partnerInputs() settlement.AuthorInputs {
	return settlement.AuthorInputs{
		AuthorID:     "auth-1",
		Tier:         settlement.TierPartner,
		RevenueShare: decimal.NewFromFloat(0.70),
	}
}

// =============================================================================
// AD REVENUE TESTS
// =============================================================================

func TestComputeRevenue_AdRevenue(t *testing.T) {
	// GIVEN: 5,000 qualifying impressions at $2.00 CPM, 70% share
	in := partnerInputs()
	in.AdImpressions = 5000
	globals := settlement.NewGlobalAggregates(0, settlement.DefaultPremiumPrice, 1)

	rec := settlement.ComputeRevenue(in, globals, settlement.DefaultCPM)

	// THEN: gross $10.00, author $7.0000, platform $3.0000
	assert.True(t, rec.AdGrossRevenue.Equal(money("10")), "gross %s", rec.AdGrossRevenue)
	assert.True(t, rec.AdAuthorShare.Equal(money("7")), "author %s", rec.AdAuthorShare)
	assert.True(t, rec.AdPlatformShare.Equal(money("3")), "platform %s", rec.AdPlatformShare)
}

func TestComputeRevenue_FractionalImpressionCount(t *testing.T) {
	// Impression counts below 1,000 still earn a proportional amount.
	in := partnerInputs()
	in.AdImpressions = 250
	globals := settlement.NewGlobalAggregates(0, settlement.DefaultPremiumPrice, 1)

	rec := settlement.ComputeRevenue(in, globals, settlement.DefaultCPM)

	// 250/1000 * 2.00 = 0.50; author 0.35
	assert.True(t, rec.AdGrossRevenue.Equal(money("0.5")))
	assert.True(t, rec.AdAuthorShare.Equal(money("0.35")))
}

// =============================================================================
// PREMIUM POOL TESTS
// =============================================================================

func TestNewGlobalAggregates_PoolFormula(t *testing.T) {
	// 100 subscribers * $3.99 * 0.7 = $279.30
	g := settlement.NewGlobalAggregates(100, settlement.DefaultPremiumPrice, 500)

	assert.True(t, g.PremiumPool.Equal(money("279.30")), "pool %s", g.PremiumPool)
	assert.Equal(t, int64(500), g.TotalPremiumMinutes)
}

func TestNewGlobalAggregates_FloorsQuietMonthToOne(t *testing.T) {
	// A month with zero reading minutes must not divide by zero; the floor
	// of 1 makes every share come out zero instead.
	g := settlement.NewGlobalAggregates(100, settlement.DefaultPremiumPrice, 0)

	assert.Equal(t, int64(1), g.TotalPremiumMinutes)
}

func TestComputeRevenue_PremiumShareByMinutes(t *testing.T) {
	// GIVEN: a $279.30 pool, the author holding 50 of 500 minutes, 70% share
	in := partnerInputs()
	in.PremiumMinutes = 50
	g := settlement.NewGlobalAggregates(100, settlement.DefaultPremiumPrice, 500)

	rec := settlement.ComputeRevenue(in, g, settlement.DefaultCPM)

	// THEN: slice = 279.30 * 0.1 = 27.93; author = 27.93 * 0.7 = 19.551
	assert.True(t, rec.PremiumAuthorShare.Equal(money("19.551")), "author %s", rec.PremiumAuthorShare)
	assert.True(t, rec.PremiumPlatformShare.Equal(money("8.379")), "platform %s", rec.PremiumPlatformShare)
	assert.True(t, rec.PremiumTotalPool.Equal(money("279.30")))
}

func TestComputeRevenue_ZeroMinutesEarnsNothing(t *testing.T) {
	in := partnerInputs()
	g := settlement.NewGlobalAggregates(100, settlement.DefaultPremiumPrice, 500)

	rec := settlement.ComputeRevenue(in, g, settlement.DefaultCPM)

	assert.True(t, rec.PremiumAuthorShare.IsZero())
	assert.True(t, rec.TotalAuthorRevenue.IsZero())
}

// =============================================================================
// CONSERVATION AND ROUNDING
// =============================================================================

func TestComputeRevenue_SplitConservation(t *testing.T) {
	// Author and platform shares of each stream sum back to the unsplit
	// amount (within storage rounding).
	in := partnerInputs()
	in.AdImpressions = 12345
	in.PremiumMinutes = 77
	g := settlement.NewGlobalAggregates(41, settlement.DefaultPremiumPrice, 913)

	rec := settlement.ComputeRevenue(in, g, settlement.DefaultCPM)

	adSum := rec.AdAuthorShare.Add(rec.AdPlatformShare)
	assert.True(t, adSum.Sub(rec.AdGrossRevenue).Abs().LessThanOrEqual(money("0.0002")),
		"ad split %s vs gross %s", adSum, rec.AdGrossRevenue)

	totalSum := rec.TotalAuthorRevenue.Add(rec.TotalPlatformRevenue)
	expected := rec.AdGrossRevenue.Add(rec.PremiumAuthorShare).Add(rec.PremiumPlatformShare)
	assert.True(t, totalSum.Sub(expected).Abs().LessThanOrEqual(money("0.0004")))
}

func TestComputeRevenue_RoundsToStoragePrecision(t *testing.T) {
	in := partnerInputs()
	in.PremiumMinutes = 1
	// 3 subscribers, 7 total minutes: shares repeat in decimal
	g := settlement.NewGlobalAggregates(3, settlement.DefaultPremiumPrice, 7)

	rec := settlement.ComputeRevenue(in, g, settlement.DefaultCPM)

	assert.True(t, rec.PremiumAuthorShare.Exponent() >= -settlement.MoneyScale,
		"share %s carries more than %d decimal places", rec.PremiumAuthorShare, settlement.MoneyScale)
}

func TestComputeRevenue_StartsPending(t *testing.T) {
	rec := settlement.ComputeRevenue(partnerInputs(),
		settlement.NewGlobalAggregates(0, settlement.DefaultPremiumPrice, 1), settlement.DefaultCPM)

	assert.Equal(t, settlement.RevenuePending, rec.Status)
}
