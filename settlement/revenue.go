/*
revenue.go - Per-author revenue calculation

PURPOSE:
  Pure arithmetic for one author's monthly settlement. Takes the author's
  period aggregates plus the run-wide aggregates (premium pool, global
  premium minutes) and produces the full revenue breakdown. No I/O here;
  the engine gathers inputs and persists outputs.

REVENUE MODEL:
  Ad:      adGross = impressions / 1000 * CPM, split by the author's
           revenue-share fraction.
  Premium: the author receives poolShare = pool * (authorMinutes /
           totalMinutes) * revenueShare; the platform keeps the
           (1 - revenueShare) complement of the same slice.

  All stored amounts are rounded to 4 decimal places.
*/
package settlement

import (
	"github.com/shopspring/decimal"
)

var thousand = decimal.NewFromInt(1000)

// GlobalAggregates are the run-wide inputs computed once before the
// per-author loop and reused immutably for every author.
type GlobalAggregates struct {
	// PremiumPool is the distributable author pool for the period:
	// activePremiumSubscribers * monthlyPrice * AuthorPoolShare.
	PremiumPool decimal.Decimal

	// TotalPremiumMinutes is the reading-minutes denominator, summed over
	// all sessions in the period and floored to 1 so a quiet month divides
	// cleanly to zero shares.
	TotalPremiumMinutes int64
}

// NewGlobalAggregates computes the run-wide aggregates.
func NewGlobalAggregates(activePremiumCount int64, monthlyPrice decimal.Decimal, totalMinutes int64) GlobalAggregates {
	if totalMinutes < 1 {
		totalMinutes = 1
	}
	pool := decimal.NewFromInt(activePremiumCount).Mul(monthlyPrice).Mul(AuthorPoolShare)
	return GlobalAggregates{
		PremiumPool:         pool,
		TotalPremiumMinutes: totalMinutes,
	}
}

// AuthorInputs are one author's period aggregates.
type AuthorInputs struct {
	AuthorID       string
	Tier           int
	RevenueShare   decimal.Decimal // fraction in [0, 1]
	AdImpressions  int64           // qualifying in-viewer impressions in the period
	PremiumMinutes int64           // reading minutes by active premium subscribers
}

// ComputeRevenue produces the settlement breakdown for one author. All
// monetary fields are rounded to MoneyScale.
func ComputeRevenue(in AuthorInputs, g GlobalAggregates, cpm decimal.Decimal) RevenueRecord {
	platformShare := decimal.NewFromInt(1).Sub(in.RevenueShare)

	adGross := decimal.NewFromInt(in.AdImpressions).Div(thousand).Mul(cpm)
	adAuthor := adGross.Mul(in.RevenueShare)
	adPlatform := adGross.Mul(platformShare)

	minuteShare := decimal.NewFromInt(in.PremiumMinutes).
		Div(decimal.NewFromInt(g.TotalPremiumMinutes))
	premiumSlice := g.PremiumPool.Mul(minuteShare)
	premiumAuthor := premiumSlice.Mul(in.RevenueShare)
	premiumPlatform := premiumSlice.Mul(platformShare)

	return RevenueRecord{
		AuthorID:             in.AuthorID,
		Tier:                 in.Tier,
		AdImpressions:        in.AdImpressions,
		AdGrossRevenue:       RoundMoney(adGross),
		AdAuthorShare:        RoundMoney(adAuthor),
		AdPlatformShare:      RoundMoney(adPlatform),
		PremiumMinutes:       in.PremiumMinutes,
		PremiumTotalPool:     RoundMoney(g.PremiumPool),
		PremiumAuthorShare:   RoundMoney(premiumAuthor),
		PremiumPlatformShare: RoundMoney(premiumPlatform),
		TotalAuthorRevenue:   RoundMoney(adAuthor.Add(premiumAuthor)),
		TotalPlatformRevenue: RoundMoney(adPlatform.Add(premiumPlatform)),
		Status:               RevenuePending,
	}
}
