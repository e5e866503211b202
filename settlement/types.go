/*
Package settlement implements the monthly revenue settlement engine for the
content platform.

PURPOSE:
  Once a month, the engine reconciles the prior calendar month: it counts
  in-viewer ad impressions per author, apportions the premium subscription
  pool by reading-time share, writes one revenue record per (author, month),
  credits each author's pending payout balance, and re-evaluates author
  monetization tiers.

KEY CONCEPTS IN THIS FILE (types.go):
  - Document, Profile, AdImpression, ReadingSession: the rows the platform
    writes during the month and the engine reads at settlement time
  - AuthorTier: monetization tier record (monotonic, never demoted)
  - RevenueRecord: one immutable settlement row per (author, month)
  - RunRecord: audit trail of settlement run attempts

DESIGN PRINCIPLES:
  1. Precision: all money uses decimal.Decimal, rounded to 4 places at the
     storage boundary
  2. Idempotency: at most one RevenueRecord per (author, month), enforced by
     a unique constraint in the store
  3. Monotonicity: tiers and revenue shares only ever increase; the pending
     payout balance is only ever credited

SEE ALSO:
  - period.go:  settlement period math
  - tier.go:    tier thresholds and promotion
  - revenue.go: per-author revenue calculation
  - engine.go:  run orchestration
  - store.go:   persistence interfaces
*/
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyScale is the fixed number of decimal places for stored currency values.
const MoneyScale = 4

// RoundMoney rounds a currency amount to the storage precision.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// Defaults, overridable via configuration. The CPM is an estimate pending a
// real ad-network integration; the pool share is the fraction of gross
// premium revenue distributed to authors.
var (
	DefaultCPM          = decimal.NewFromFloat(2.00)
	DefaultPremiumPrice = decimal.NewFromFloat(3.99)
	AuthorPoolShare     = decimal.NewFromFloat(0.7)
	MinimumPayout       = decimal.NewFromFloat(10.00)
)

// =============================================================================
// AD IMPRESSIONS
// =============================================================================

// AdPosition is where an ad was shown.
type AdPosition string

const (
	PositionOverlay    AdPosition = "overlay"
	PositionControlBar AdPosition = "control_bar"
	PositionSidePanel  AdPosition = "side_panel"
	PositionBanner     AdPosition = "banner"
)

// RevenuePositions are the in-viewer placements attributed to an author's
// document. Banner impressions on feed/browse pages are presentation-only
// and never enter revenue.
var RevenuePositions = []AdPosition{PositionOverlay, PositionControlBar, PositionSidePanel}

// Valid reports whether p is a known ad position.
func (p AdPosition) Valid() bool {
	switch p {
	case PositionOverlay, PositionControlBar, PositionSidePanel, PositionBanner:
		return true
	}
	return false
}

// AdImpression is an append-only log entry. Never mutated, only counted.
type AdImpression struct {
	ID         string
	DocumentID string
	AuthorID   string
	ViewerID   string // empty for anonymous viewers
	AdType     string
	AdPosition AdPosition
	PageNumber int
	SessionID  string
	CreatedAt  time.Time
}

// =============================================================================
// DOCUMENTS & READING SESSIONS
// =============================================================================

// Document is the metadata the engine needs about an uploaded document:
// ownership and the lifetime reading-time accumulator (seconds).
type Document struct {
	ID               string
	AuthorID         string
	Title            string
	TotalReadingSecs int64
	CreatedAt        time.Time
}

// ReadingSession records one reader's progress through a document.
// ReadingSecs is cumulative for the session; LastReadAt places the session
// in a settlement period.
type ReadingSession struct {
	ID          string
	DocumentID  string
	ReaderID    string // empty for anonymous readers
	ReadingSecs int64
	CurrentPage int
	LastReadAt  time.Time
	CreatedAt   time.Time
}

// Minutes returns the session's reading time in whole minutes, rounded to
// nearest (half-minute rounds up). Matches how sessions are aggregated
// throughout the platform.
func (s ReadingSession) Minutes() int64 {
	if s.ReadingSecs <= 0 {
		return 0
	}
	return (s.ReadingSecs + 30) / 60
}

// =============================================================================
// PROFILES
// =============================================================================

// Profile holds the account fields the engine reads and writes: premium
// status, the pending payout balance, account age, and the denormalized
// tier shown in the UI.
type Profile struct {
	ID               string
	DisplayName      string
	IsPremium        bool
	PremiumExpiresAt *time.Time
	PendingPayout    decimal.Decimal
	AuthorTier       int
	CreatedAt        time.Time
}

// PremiumActiveAt reports whether the profile counts as an active premium
// subscriber at the given instant: flag set and expiry in the future.
func (p Profile) PremiumActiveAt(at time.Time) bool {
	return p.IsPremium && p.PremiumExpiresAt != nil && p.PremiumExpiresAt.After(at)
}

// AccountAgeDays returns full days elapsed since account creation.
func (p Profile) AccountAgeDays(now time.Time) int {
	if now.Before(p.CreatedAt) {
		return 0
	}
	return int(now.Sub(p.CreatedAt).Hours() / 24)
}

// =============================================================================
// AUTHOR TIERS
// =============================================================================

// AuthorTier is the monetization tier record for one author. Tier and
// RevenueShare are monotonically non-decreasing; only the tier recalculator
// writes this record.
type AuthorTier struct {
	AuthorID          string
	Tier              int
	RevenueShare      decimal.Decimal // fraction in [0, 1]
	TotalReadingHours decimal.Decimal // trailing lifetime hours, informational
	AccountAgeDays    int
	TierUpdatedAt     time.Time
}

// =============================================================================
// REVENUE RECORDS
// =============================================================================

// RevenueStatus is the payout state of a settlement row.
type RevenueStatus string

const (
	RevenuePending RevenueStatus = "pending"
	RevenuePaid    RevenueStatus = "paid"
)

// RevenueRecord is one author's settlement for one month. Created exactly
// once per (author, month); creation is the idempotency boundary.
type RevenueRecord struct {
	ID                   string
	AuthorID             string
	Month                string // period key, "YYYY-MM"
	Tier                 int
	AdImpressions        int64
	AdGrossRevenue       decimal.Decimal
	AdAuthorShare        decimal.Decimal
	AdPlatformShare      decimal.Decimal
	PremiumMinutes       int64
	PremiumTotalPool     decimal.Decimal
	PremiumAuthorShare   decimal.Decimal
	PremiumPlatformShare decimal.Decimal
	TotalAuthorRevenue   decimal.Decimal
	TotalPlatformRevenue decimal.Decimal
	Status               RevenueStatus
	CreatedAt            time.Time
}

// =============================================================================
// RUN RECORDS - audit trail of settlement attempts
// =============================================================================

// RunStatus is the lifecycle state of a settlement run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunSkipped   RunStatus = "skipped"
	RunFailed    RunStatus = "failed"
)

// RunRecord is the audit row for one settlement run attempt. It is not the
// idempotency mechanism; that is the revenue-record existence check plus the
// (author, month) unique constraint.
type RunRecord struct {
	ID           string
	Month        string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Status       RunStatus
	SettledCount int
	Error        string
	StartedAt    time.Time
	CompletedAt  *time.Time
}
