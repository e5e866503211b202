/*
Package sqlite provides the SQLite-backed implementation of the settlement
storage interfaces.

PURPOSE:
  Implements every collaborator interface (documents, impressions, sessions,
  profiles, tiers, revenue records, runs) on SQLite. The same patterns apply
  to PostgreSQL; only minor SQL dialect differences.

IDEMPOTENCY ENFORCEMENT:
  revenue_records carries UNIQUE(author_id, month). A violation maps to
  settlement.ErrDuplicateSettlement, which the engine treats as the
  idempotency signal. The coarse whole-run guard (ExistsForMonth) is an
  indexed existence query on the month column.

MONEY:
  Monetary columns are stored as decimal strings (shopspring/decimal
  String()/NewFromString round-trip), never as floats.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/pagestream.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := settlement.NewEngine(store, settlement.DefaultConfig(), logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - settlement/store.go: Interface definitions
  - settlement/engine.go: Higher-level engine using Store
  - settlement/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/pagestream/revenue-engine/settlement"
)

// Store implements settlement.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ settlement.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database (useful for tests).
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Documents (ownership + lifetime reading-time accumulator)
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		total_reading_time INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_author
		ON documents(author_id);

	-- Ad impressions (append-only; counted per period at settlement)
	CREATE TABLE IF NOT EXISTS ad_impressions (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		viewer_id TEXT,
		ad_type TEXT NOT NULL DEFAULT '',
		ad_position TEXT NOT NULL,
		page_number INTEGER,
		session_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Hot path: period count filtered by document set and position
	CREATE INDEX IF NOT EXISTS idx_impressions_doc_position_date
		ON ad_impressions(document_id, ad_position, created_at);

	-- Reading sessions (progress per reader per document)
	CREATE TABLE IF NOT EXISTS reading_sessions (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		reader_id TEXT,
		reading_time INTEGER NOT NULL DEFAULT 0,
		current_page INTEGER NOT NULL DEFAULT 1,
		last_read_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_doc_date
		ON reading_sessions(document_id, last_read_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_date
		ON reading_sessions(last_read_at);

	-- Profiles (premium status, payout balance, denormalized tier)
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		is_premium BOOLEAN NOT NULL DEFAULT FALSE,
		premium_expires_at TEXT,
		pending_payout_usd TEXT NOT NULL DEFAULT '0',
		author_tier INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_profiles_premium
		ON profiles(is_premium, premium_expires_at);

	-- Author monetization tiers (monotonic; written by the tier pass only)
	CREATE TABLE IF NOT EXISTS author_tiers (
		author_id TEXT PRIMARY KEY,
		tier INTEGER NOT NULL DEFAULT 0,
		revenue_share TEXT NOT NULL DEFAULT '0',
		total_reading_hours_12m TEXT NOT NULL DEFAULT '0',
		account_age_days INTEGER NOT NULL DEFAULT 0,
		tier_updated_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_author_tiers_tier
		ON author_tiers(tier);

	-- Revenue records: one row per (author, month)
	-- CRITICAL: the unique index is the idempotency boundary
	CREATE TABLE IF NOT EXISTS revenue_records (
		id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL,
		month TEXT NOT NULL,
		tier INTEGER NOT NULL,
		ad_impressions_count INTEGER NOT NULL DEFAULT 0,
		ad_gross_revenue TEXT NOT NULL DEFAULT '0',
		ad_author_share TEXT NOT NULL DEFAULT '0',
		ad_platform_share TEXT NOT NULL DEFAULT '0',
		premium_reading_minutes INTEGER NOT NULL DEFAULT 0,
		premium_total_pool TEXT NOT NULL DEFAULT '0',
		premium_author_share TEXT NOT NULL DEFAULT '0',
		premium_platform_share TEXT NOT NULL DEFAULT '0',
		total_author_revenue TEXT NOT NULL DEFAULT '0',
		total_platform_revenue TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_revenue_author_month
		ON revenue_records(author_id, month);
	CREATE INDEX IF NOT EXISTS idx_revenue_month
		ON revenue_records(month);

	-- Settlement runs (audit trail)
	CREATE TABLE IF NOT EXISTS settlement_runs (
		id TEXT PRIMARY KEY,
		month TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		settled_count INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_settlement_runs_month
		ON settlement_runs(month);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

// SaveDocument inserts or updates a document. The reading-time accumulator
// is only ever changed through AddReadingTime.
func (s *Store) SaveDocument(ctx context.Context, doc settlement.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO documents (id, author_id, title, total_reading_time, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title
	`

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.AuthorID, doc.Title, doc.TotalReadingSecs,
		createdAt.Format(time.RFC3339),
	)
	return err
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*settlement.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc settlement.Document
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, author_id, title, total_reading_time, created_at FROM documents WHERE id = ?",
		id,
	).Scan(&doc.ID, &doc.AuthorID, &doc.Title, &doc.TotalReadingSecs, &createdAt)

	if err == sql.ErrNoRows {
		return nil, settlement.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	doc.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &doc, nil
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]settlement.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryDocuments(ctx,
		"SELECT id, author_id, title, total_reading_time, created_at FROM documents ORDER BY created_at DESC")
}

// ListDocumentsByAuthor returns all documents owned by the author.
func (s *Store) ListDocumentsByAuthor(ctx context.Context, authorID string) ([]settlement.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryDocuments(ctx,
		"SELECT id, author_id, title, total_reading_time, created_at FROM documents WHERE author_id = ? ORDER BY created_at DESC",
		authorID)
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]settlement.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []settlement.Document
	for rows.Next() {
		var doc settlement.Document
		var createdAt string
		if err := rows.Scan(&doc.ID, &doc.AuthorID, &doc.Title, &doc.TotalReadingSecs, &createdAt); err != nil {
			return nil, err
		}
		doc.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// AddReadingTime accumulates seconds onto the document's lifetime counter.
func (s *Store) AddReadingTime(ctx context.Context, docID string, deltaSecs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET total_reading_time = total_reading_time + ? WHERE id = ?",
		deltaSecs, docID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return settlement.ErrNotFound
	}
	return nil
}

// TotalReadingSecsByAuthor sums lifetime reading seconds across the
// author's documents.
func (s *Store) TotalReadingSecsByAuthor(ctx context.Context, authorID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(total_reading_time), 0) FROM documents WHERE author_id = ?",
		authorID,
	).Scan(&total)
	return total, err
}

// =============================================================================
// IMPRESSION STORE
// =============================================================================

// RecordImpression appends an ad impression. Append-only: no update or
// delete path exists for this table.
func (s *Store) RecordImpression(ctx context.Context, imp settlement.AdImpression) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO ad_impressions
		(id, document_id, author_id, viewer_id, ad_type, ad_position, page_number, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := imp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		imp.ID, imp.DocumentID, imp.AuthorID,
		nullString(imp.ViewerID), imp.AdType, string(imp.AdPosition),
		nullInt(imp.PageNumber), nullString(imp.SessionID),
		createdAt.Format(time.RFC3339),
	)
	return err
}

// CountImpressions counts impressions on the documents at the positions
// with created_at inside [from, to).
func (s *Store) CountImpressions(ctx context.Context, docIDs []string, positions []settlement.AdPosition, from, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(docIDs) == 0 || len(positions) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM ad_impressions
		WHERE document_id IN (%s)
		  AND ad_position IN (%s)
		  AND created_at >= ? AND created_at < ?
	`, placeholders(len(docIDs)), placeholders(len(positions)))

	args := make([]any, 0, len(docIDs)+len(positions)+2)
	for _, id := range docIDs {
		args = append(args, id)
	}
	for _, p := range positions {
		args = append(args, string(p))
	}
	args = append(args, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))

	var count int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// =============================================================================
// SESSION STORE
// =============================================================================

// CreateSession inserts a reading session.
func (s *Store) CreateSession(ctx context.Context, sess settlement.ReadingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO reading_sessions
		(id, document_id, reader_id, reading_time, current_page, last_read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	lastReadAt := sess.LastReadAt
	if lastReadAt.IsZero() {
		lastReadAt = now
	}

	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.DocumentID, nullString(sess.ReaderID),
		sess.ReadingSecs, sess.CurrentPage,
		lastReadAt.Format(time.RFC3339), createdAt.Format(time.RFC3339),
	)
	return err
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*settlement.ReadingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess settlement.ReadingSession
	var readerID sql.NullString
	var lastReadAt, createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, reader_id, reading_time, current_page, last_read_at, created_at
		 FROM reading_sessions WHERE id = ?`,
		id,
	).Scan(&sess.ID, &sess.DocumentID, &readerID, &sess.ReadingSecs, &sess.CurrentPage, &lastReadAt, &createdAt)

	if err == sql.ErrNoRows {
		return nil, settlement.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sess.ReaderID = readerID.String
	sess.LastReadAt, _ = time.Parse(time.RFC3339, lastReadAt)
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &sess, nil
}

// UpdateSession overwrites the session's progress fields.
func (s *Store) UpdateSession(ctx context.Context, sess settlement.ReadingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE reading_sessions
		 SET reading_time = ?, current_page = ?, last_read_at = ?
		 WHERE id = ?`,
		sess.ReadingSecs, sess.CurrentPage,
		sess.LastReadAt.UTC().Format(time.RFC3339), sess.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return settlement.ErrNotFound
	}
	return nil
}

// SessionsForDocuments returns sessions on the documents with last_read_at
// inside [from, to).
func (s *Store) SessionsForDocuments(ctx context.Context, docIDs []string, from, to time.Time) ([]settlement.ReadingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(docIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, document_id, reader_id, reading_time, current_page, last_read_at, created_at
		FROM reading_sessions
		WHERE document_id IN (%s)
		  AND last_read_at >= ? AND last_read_at < ?
		ORDER BY last_read_at ASC
	`, placeholders(len(docIDs)))

	args := make([]any, 0, len(docIDs)+2)
	for _, id := range docIDs {
		args = append(args, id)
	}
	args = append(args, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []settlement.ReadingSession
	for rows.Next() {
		var sess settlement.ReadingSession
		var readerID sql.NullString
		var lastReadAt, createdAt string
		if err := rows.Scan(&sess.ID, &sess.DocumentID, &readerID, &sess.ReadingSecs,
			&sess.CurrentPage, &lastReadAt, &createdAt); err != nil {
			return nil, err
		}
		sess.ReaderID = readerID.String
		sess.LastReadAt, _ = time.Parse(time.RFC3339, lastReadAt)
		sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// TotalReadingMinutes sums per-session whole minutes (half-minute rounds
// up) across ALL sessions in [from, to), regardless of reader premium
// status. Integer division matches ReadingSession.Minutes.
func (s *Store) TotalReadingMinutes(ctx context.Context, from, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var minutes int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM((reading_time + 30) / 60), 0)
		 FROM reading_sessions
		 WHERE last_read_at >= ? AND last_read_at < ?`,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339),
	).Scan(&minutes)
	return minutes, err
}

// =============================================================================
// PROFILE STORE
// =============================================================================

// SaveProfile inserts or updates a profile. Payout balance and tier are
// only ever changed through their dedicated update methods.
func (s *Store) SaveProfile(ctx context.Context, p settlement.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO profiles
		(id, display_name, is_premium, premium_expires_at, pending_payout_usd, author_tier, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			is_premium = excluded.is_premium,
			premium_expires_at = excluded.premium_expires_at
	`

	var expiresAt *string
	if p.PremiumExpiresAt != nil {
		t := p.PremiumExpiresAt.UTC().Format(time.RFC3339)
		expiresAt = &t
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.DisplayName, p.IsPremium, expiresAt,
		p.PendingPayout.String(), p.AuthorTier,
		createdAt.Format(time.RFC3339),
	)
	return err
}

// GetProfile retrieves a profile by ID.
func (s *Store) GetProfile(ctx context.Context, id string) (*settlement.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p settlement.Profile
	var expiresAt sql.NullString
	var payout, createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, is_premium, premium_expires_at, pending_payout_usd, author_tier, created_at
		 FROM profiles WHERE id = ?`,
		id,
	).Scan(&p.ID, &p.DisplayName, &p.IsPremium, &expiresAt, &payout, &p.AuthorTier, &createdAt)

	if err == sql.ErrNoRows {
		return nil, settlement.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t, _ := time.Parse(time.RFC3339, expiresAt.String)
		p.PremiumExpiresAt = &t
	}
	p.PendingPayout = mustDecimal(payout)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

// CountActivePremium counts active premium subscribers at the instant.
func (s *Store) CountActivePremium(ctx context.Context, at time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles
		 WHERE is_premium = TRUE AND premium_expires_at > ?`,
		at.UTC().Format(time.RFC3339),
	).Scan(&count)
	return count, err
}

// FilterActivePremium returns which of the ids are active premium
// subscribers at the instant.
func (s *Store) FilterActivePremium(ctx context.Context, ids []string, at time.Time) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(`
		SELECT id FROM profiles
		WHERE id IN (%s)
		  AND is_premium = TRUE AND premium_expires_at > ?
	`, placeholders(len(ids)))

	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, at.UTC().Format(time.RFC3339))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// UpdatePendingPayout overwrites the pending payout balance.
func (s *Store) UpdatePendingPayout(ctx context.Context, id string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE profiles SET pending_payout_usd = ? WHERE id = ?",
		balance.String(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return settlement.ErrNotFound
	}
	return nil
}

// SetAuthorTier updates the denormalized tier field.
func (s *Store) SetAuthorTier(ctx context.Context, id string, tier int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE profiles SET author_tier = ? WHERE id = ?",
		tier, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return settlement.ErrNotFound
	}
	return nil
}

// =============================================================================
// TIER STORE
// =============================================================================

// SaveAuthorTier inserts or updates a tier record.
func (s *Store) SaveAuthorTier(ctx context.Context, t settlement.AuthorTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO author_tiers
		(author_id, tier, revenue_share, total_reading_hours_12m, account_age_days, tier_updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(author_id) DO UPDATE SET
			tier = excluded.tier,
			revenue_share = excluded.revenue_share,
			total_reading_hours_12m = excluded.total_reading_hours_12m,
			account_age_days = excluded.account_age_days,
			tier_updated_at = excluded.tier_updated_at
	`

	var updatedAt *string
	if !t.TierUpdatedAt.IsZero() {
		ts := t.TierUpdatedAt.UTC().Format(time.RFC3339)
		updatedAt = &ts
	}

	_, err := s.db.ExecContext(ctx, query,
		t.AuthorID, t.Tier, t.RevenueShare.String(),
		t.TotalReadingHours.String(), t.AccountAgeDays, updatedAt,
	)
	return err
}

// GetAuthorTier retrieves a tier record.
func (s *Store) GetAuthorTier(ctx context.Context, authorID string) (*settlement.AuthorTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT author_id, tier, revenue_share, total_reading_hours_12m, account_age_days, tier_updated_at
		 FROM author_tiers WHERE author_id = ?`,
		authorID,
	)
	t, err := scanAuthorTier(row.Scan)
	if err == sql.ErrNoRows {
		return nil, settlement.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListEligibleAuthors returns tier records with tier >= minTier.
func (s *Store) ListEligibleAuthors(ctx context.Context, minTier int) ([]settlement.AuthorTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT author_id, tier, revenue_share, total_reading_hours_12m, account_age_days, tier_updated_at
		 FROM author_tiers WHERE tier >= ? ORDER BY author_id`,
		minTier,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []settlement.AuthorTier
	for rows.Next() {
		t, err := scanAuthorTier(rows.Scan)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, *t)
	}
	return tiers, rows.Err()
}

func scanAuthorTier(scan func(...any) error) (*settlement.AuthorTier, error) {
	var t settlement.AuthorTier
	var share, hours string
	var updatedAt sql.NullString

	if err := scan(&t.AuthorID, &t.Tier, &share, &hours, &t.AccountAgeDays, &updatedAt); err != nil {
		return nil, err
	}

	t.RevenueShare = mustDecimal(share)
	t.TotalReadingHours = mustDecimal(hours)
	if updatedAt.Valid {
		t.TierUpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}
	return &t, nil
}

// =============================================================================
// REVENUE STORE
// =============================================================================

// InsertRevenueRecord creates a settlement record. The (author_id, month)
// unique index turns a duplicate into ErrDuplicateSettlement.
func (s *Store) InsertRevenueRecord(ctx context.Context, rec settlement.RevenueRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO revenue_records
		(id, author_id, month, tier, ad_impressions_count,
		 ad_gross_revenue, ad_author_share, ad_platform_share,
		 premium_reading_minutes, premium_total_pool, premium_author_share, premium_platform_share,
		 total_author_revenue, total_platform_revenue, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.AuthorID, rec.Month, rec.Tier, rec.AdImpressions,
		rec.AdGrossRevenue.String(), rec.AdAuthorShare.String(), rec.AdPlatformShare.String(),
		rec.PremiumMinutes, rec.PremiumTotalPool.String(),
		rec.PremiumAuthorShare.String(), rec.PremiumPlatformShare.String(),
		rec.TotalAuthorRevenue.String(), rec.TotalPlatformRevenue.String(),
		string(rec.Status), createdAt.Format(time.RFC3339),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return settlement.ErrDuplicateSettlement
		}
		return fmt.Errorf("failed to insert revenue record: %w", err)
	}
	return nil
}

// ExistsForMonth reports whether any revenue record carries the month tag.
func (s *Store) ExistsForMonth(ctx context.Context, month string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM revenue_records WHERE month = ?",
		month,
	).Scan(&count)
	return count > 0, err
}

// ListRevenueByAuthor returns the author's records, newest month first.
func (s *Store) ListRevenueByAuthor(ctx context.Context, authorID string, limit int) ([]settlement.RevenueRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 12
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, author_id, month, tier, ad_impressions_count,
		        ad_gross_revenue, ad_author_share, ad_platform_share,
		        premium_reading_minutes, premium_total_pool, premium_author_share, premium_platform_share,
		        total_author_revenue, total_platform_revenue, status, created_at
		 FROM revenue_records
		 WHERE author_id = ?
		 ORDER BY month DESC
		 LIMIT ?`,
		authorID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []settlement.RevenueRecord
	for rows.Next() {
		var rec settlement.RevenueRecord
		var adGross, adAuthor, adPlatform, pool, premAuthor, premPlatform, totalAuthor, totalPlatform string
		var status, createdAt string
		if err := rows.Scan(&rec.ID, &rec.AuthorID, &rec.Month, &rec.Tier, &rec.AdImpressions,
			&adGross, &adAuthor, &adPlatform,
			&rec.PremiumMinutes, &pool, &premAuthor, &premPlatform,
			&totalAuthor, &totalPlatform, &status, &createdAt); err != nil {
			return nil, err
		}
		rec.AdGrossRevenue = mustDecimal(adGross)
		rec.AdAuthorShare = mustDecimal(adAuthor)
		rec.AdPlatformShare = mustDecimal(adPlatform)
		rec.PremiumTotalPool = mustDecimal(pool)
		rec.PremiumAuthorShare = mustDecimal(premAuthor)
		rec.PremiumPlatformShare = mustDecimal(premPlatform)
		rec.TotalAuthorRevenue = mustDecimal(totalAuthor)
		rec.TotalPlatformRevenue = mustDecimal(totalPlatform)
		rec.Status = settlement.RevenueStatus(status)
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// =============================================================================
// RUN STORE
// =============================================================================

// SaveRun inserts or updates a settlement run record.
func (s *Store) SaveRun(ctx context.Context, run settlement.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO settlement_runs
		(id, month, period_start, period_end, status, settled_count, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			settled_count = excluded.settled_count,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if run.CompletedAt != nil {
		t := run.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &t
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Month,
		run.PeriodStart.UTC().Format(time.RFC3339), run.PeriodEnd.UTC().Format(time.RFC3339),
		string(run.Status), run.SettledCount, run.Error,
		run.StartedAt.UTC().Format(time.RFC3339), completedAt,
	)
	return err
}

// ListRuns returns run records, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]settlement.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, month, period_start, period_end, status, settled_count, error, started_at, completed_at
		 FROM settlement_runs
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []settlement.RunRecord
	for rows.Next() {
		var run settlement.RunRecord
		var periodStart, periodEnd, status, startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&run.ID, &run.Month, &periodStart, &periodEnd, &status,
			&run.SettledCount, &run.Error, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		run.PeriodStart, _ = time.Parse(time.RFC3339, periodStart)
		run.PeriodEnd, _ = time.Parse(time.RFC3339, periodEnd)
		run.Status = settlement.RunStatus(status)
		run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
