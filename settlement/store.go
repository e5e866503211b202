/*
store.go - Persistence interfaces for the settlement engine's collaborators

PURPOSE:
  Defines the interface between the settlement logic and the database. The
  engine only ever sees these interfaces; implementations live in
  store/sqlite (production) and settlement/store (in-memory, for tests).

COLLABORATORS:
  DocumentStore:   documents + lifetime reading-time accumulator
  ImpressionStore: append-only ad impression log, counted per period
  SessionStore:    reading sessions, queried per period
  ProfileStore:    premium status, pending payout, denormalized tier
  TierStore:       author monetization tiers
  RevenueStore:    settlement records; the (author, month) unique constraint
                   lives here
  RunStore:        settlement run audit trail

IDEMPOTENCY CONTRACT:
  RevenueStore.Insert MUST fail with ErrDuplicateSettlement when a record
  already exists for the same (author, month). The coarse whole-run guard is
  RevenueStore.ExistsForMonth, checked before any writes.

SEE ALSO:
  - store/sqlite/sqlite.go: production implementation
  - settlement/store/memory.go: in-memory implementation
*/
package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store bundles every collaborator interface. Both implementations satisfy
// it with a single concrete type.
type Store interface {
	DocumentStore
	ImpressionStore
	SessionStore
	ProfileStore
	TierStore
	RevenueStore
	RunStore
}

// DocumentStore provides document ownership and lifetime reading time.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context) ([]Document, error)

	// ListDocumentsByAuthor returns all documents owned by the author.
	ListDocumentsByAuthor(ctx context.Context, authorID string) ([]Document, error)

	// AddReadingTime accumulates delta seconds onto the document's lifetime
	// reading-time counter.
	AddReadingTime(ctx context.Context, docID string, deltaSecs int64) error

	// TotalReadingSecsByAuthor sums lifetime reading seconds across all of
	// the author's documents.
	TotalReadingSecsByAuthor(ctx context.Context, authorID string) (int64, error)
}

// ImpressionStore is the append-only ad impression log.
type ImpressionStore interface {
	RecordImpression(ctx context.Context, imp AdImpression) error

	// CountImpressions counts impressions on the given documents at the given
	// positions with CreatedAt inside [from, to).
	CountImpressions(ctx context.Context, docIDs []string, positions []AdPosition, from, to time.Time) (int64, error)
}

// SessionStore holds reading sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s ReadingSession) error
	GetSession(ctx context.Context, id string) (*ReadingSession, error)

	// UpdateSession overwrites the session's progress fields
	// (ReadingSecs, CurrentPage, LastReadAt).
	UpdateSession(ctx context.Context, s ReadingSession) error

	// SessionsForDocuments returns sessions on the given documents with
	// LastReadAt inside [from, to).
	SessionsForDocuments(ctx context.Context, docIDs []string, from, to time.Time) ([]ReadingSession, error)

	// TotalReadingMinutes sums per-session whole minutes across ALL sessions
	// with LastReadAt inside [from, to), regardless of reader premium status.
	TotalReadingMinutes(ctx context.Context, from, to time.Time) (int64, error)
}

// ProfileStore holds account profiles.
type ProfileStore interface {
	SaveProfile(ctx context.Context, p Profile) error
	GetProfile(ctx context.Context, id string) (*Profile, error)

	// CountActivePremium counts profiles with the premium flag set and an
	// expiry after the given instant.
	CountActivePremium(ctx context.Context, at time.Time) (int64, error)

	// FilterActivePremium returns the subset of ids that are active premium
	// subscribers at the given instant.
	FilterActivePremium(ctx context.Context, ids []string, at time.Time) (map[string]bool, error)

	// UpdatePendingPayout overwrites the profile's pending payout balance.
	UpdatePendingPayout(ctx context.Context, id string, balance decimal.Decimal) error

	// SetAuthorTier updates the denormalized tier field shown in the UI.
	SetAuthorTier(ctx context.Context, id string, tier int) error
}

// TierStore holds author monetization tier records.
type TierStore interface {
	SaveAuthorTier(ctx context.Context, t AuthorTier) error
	GetAuthorTier(ctx context.Context, authorID string) (*AuthorTier, error)

	// ListEligibleAuthors returns tier records with Tier >= minTier.
	ListEligibleAuthors(ctx context.Context, minTier int) ([]AuthorTier, error)
}

// RevenueStore holds settlement records.
type RevenueStore interface {
	// InsertRevenueRecord creates the record, failing with
	// ErrDuplicateSettlement if one exists for the same (author, month).
	InsertRevenueRecord(ctx context.Context, rec RevenueRecord) error

	// ExistsForMonth reports whether any revenue record is tagged with the
	// period key (whole-run idempotency guard).
	ExistsForMonth(ctx context.Context, month string) (bool, error)

	// ListRevenueByAuthor returns the author's records, newest month first.
	ListRevenueByAuthor(ctx context.Context, authorID string, limit int) ([]RevenueRecord, error)
}

// RunStore holds the settlement run audit trail.
type RunStore interface {
	SaveRun(ctx context.Context, run RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}
