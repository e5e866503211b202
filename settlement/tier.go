/*
tier.go - Author monetization tier state machine

PURPOSE:
  Evaluates which tier an author qualifies for from lifetime reading hours
  and account age, and promotes tier records. Tiers move only upward:
  states {0, 1, 2}, transitions only to a higher tier, re-evaluated once per
  settlement run. An author keeps earned status even if later inputs would
  compute a lower tier.

TIERS:
  0  none     not monetization-eligible, no revenue share
  1  partner  >= 100 lifetime reading hours and >= 30 days account age, 70%
  2  pro      >= 1000 lifetime reading hours and >= 30 days account age, 80%

SEE ALSO:
  - engine.go: runs the recalculation after the revenue pass
*/
package settlement

import (
	"github.com/shopspring/decimal"
)

// Tier levels.
const (
	TierNone    = 0
	TierPartner = 1
	TierPro     = 2
)

// TierThreshold is one qualification rule. Thresholds are evaluated in
// descending order; first match wins.
type TierThreshold struct {
	Tier           int
	RevenueShare   decimal.Decimal
	MinHours       decimal.Decimal
	MinAccountDays int
}

// Thresholds, highest tier first.
var tierThresholds = []TierThreshold{
	{Tier: TierPro, RevenueShare: decimal.NewFromFloat(0.80), MinHours: decimal.NewFromInt(1000), MinAccountDays: 30},
	{Tier: TierPartner, RevenueShare: decimal.NewFromFloat(0.70), MinHours: decimal.NewFromInt(100), MinAccountDays: 30},
}

// QualifyTier returns the tier and revenue share an author's lifetime
// reading hours and account age qualify for. Returns (TierNone, 0) when no
// threshold matches.
func QualifyTier(totalHours decimal.Decimal, accountAgeDays int) (int, decimal.Decimal) {
	for _, th := range tierThresholds {
		if totalHours.GreaterThanOrEqual(th.MinHours) && accountAgeDays >= th.MinAccountDays {
			return th.Tier, th.RevenueShare
		}
	}
	return TierNone, decimal.Zero
}

// Promotion is the outcome of re-evaluating one author's tier.
type Promotion struct {
	Record   AuthorTier // record after the monotonic merge
	Promoted bool       // true when the newly computed tier exceeds the stored one
}

// Promote merges a newly computed qualification into an existing tier
// record. Tier and revenue share never decrease; the informational fields
// (hours, account age) always reflect the latest computation.
func Promote(current AuthorTier, totalHours decimal.Decimal, accountAgeDays int) Promotion {
	newTier, newShare := QualifyTier(totalHours, accountAgeDays)

	merged := current
	merged.TotalReadingHours = totalHours.Round(2)
	merged.AccountAgeDays = accountAgeDays

	if newTier > merged.Tier {
		merged.Tier = newTier
	}
	if newShare.GreaterThan(merged.RevenueShare) {
		merged.RevenueShare = newShare
	}

	return Promotion{
		Record:   merged,
		Promoted: newTier > current.Tier,
	}
}
