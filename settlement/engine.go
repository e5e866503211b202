/*
engine.go - Settlement run orchestration

PURPOSE:
  Runs the monthly settlement: period guard, run-wide aggregates, the
  per-author revenue loop, and the tier recalculation pass.

RUN SHAPE:
  1. Take the run lock (concurrent triggers fail fast, they don't queue).
  2. Resolve the prior calendar month and check whether any revenue record
     exists for it. If so the whole run is skipped: the batch either fully
     ran for a month or didn't run at all.
  3. Compute the premium pool and the global reading-minutes denominator
     once; they are reused immutably for every author.
  4. Settle each tier-eligible author independently. A failure for one
     author is logged and skipped; it never aborts the others. The
     (author, month) unique constraint in the store backstops the guard.
  5. Re-evaluate every eligible author's tier (monotonic promotion).

FAILURE TAXONOMY:
  - run-level: cannot read the author list or the global aggregates, or the
    context deadline expires mid-loop. Fatal, surfaced to the caller. Authors
    already settled stay settled; there is no rollback.
  - per-author: document/impression/session queries or the record insert
    fail. Logged, author skipped, loop continues.

SEE ALSO:
  - revenue.go: the arithmetic
  - tier.go:    the promotion rules
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config carries the engine's tunable constants.
type Config struct {
	// CPM is the estimated revenue per 1,000 in-viewer ad impressions, in
	// USD. An estimate until a real ad network is integrated.
	CPM decimal.Decimal

	// PremiumPrice is the monthly premium subscription price in USD.
	PremiumPrice decimal.Decimal
}

// DefaultConfig returns the platform defaults ($2.00 CPM, $3.99/month).
func DefaultConfig() Config {
	return Config{CPM: DefaultCPM, PremiumPrice: DefaultPremiumPrice}
}

// Engine executes settlement runs against a Store.
type Engine struct {
	store Store
	cfg   Config
	log   *zap.Logger

	// now is swappable for tests.
	now func() time.Time

	runMu sync.Mutex
}

// NewEngine creates an engine. A nil logger gets zap.NewNop().
func NewEngine(store Store, cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CPM.IsZero() {
		cfg.CPM = DefaultCPM
	}
	if cfg.PremiumPrice.IsZero() {
		cfg.PremiumPrice = DefaultPremiumPrice
	}
	return &Engine{
		store: store,
		cfg:   cfg,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the engine's time source. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// AuthorResult is the per-author line in a run summary.
type AuthorResult struct {
	AuthorID           string
	Tier               int
	AdImpressions      int64
	AdAuthorShare      decimal.Decimal
	PremiumMinutes     int64
	PremiumAuthorShare decimal.Decimal
	Total              decimal.Decimal
}

// Summary is the outcome of one settlement run.
type Summary struct {
	Month   string
	Skipped bool
	Settled int
	Results []AuthorResult
}

// Run executes one settlement run for the prior calendar month. Returns
// ErrRunInProgress when another run holds the lock. Run-level failures are
// returned as errors; per-author failures are logged and absorbed.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	if !e.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer e.runMu.Unlock()

	now := e.now()
	period := PriorMonth(now)
	log := e.log.With(zap.String("period", period.Key()))
	log.Info("settlement run starting",
		zap.Time("period_start", period.Start),
		zap.Time("period_end", period.End))

	settled, err := e.store.ExistsForMonth(ctx, period.Key())
	if err != nil {
		return nil, fmt.Errorf("idempotency check for %s: %w", period.Key(), err)
	}
	if settled {
		log.Info("period already settled, skipping run")
		e.saveRun(ctx, RunRecord{
			ID:          uuid.NewString(),
			Month:       period.Key(),
			PeriodStart: period.Start,
			PeriodEnd:   period.End,
			Status:      RunSkipped,
			StartedAt:   now,
		})
		return &Summary{Month: period.Key(), Skipped: true}, nil
	}

	authors, err := e.store.ListEligibleAuthors(ctx, TierPartner)
	if err != nil {
		return nil, fmt.Errorf("listing eligible authors: %w", err)
	}
	if len(authors) == 0 {
		log.Info("no monetization-eligible authors")
		return &Summary{Month: period.Key()}, nil
	}

	run := RunRecord{
		ID:          uuid.NewString(),
		Month:       period.Key(),
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Status:      RunRunning,
		StartedAt:   now,
	}
	e.saveRun(ctx, run)

	globals, err := e.computeGlobals(ctx, period, now)
	if err != nil {
		e.failRun(ctx, run, err)
		return nil, err
	}
	log.Info("global aggregates computed",
		zap.String("premium_pool", globals.PremiumPool.String()),
		zap.Int64("total_premium_minutes", globals.TotalPremiumMinutes))

	summary := &Summary{Month: period.Key()}
	for _, author := range authors {
		if err := ctx.Err(); err != nil {
			// Deadline breach mid-loop is fatal: a half-finished author loop
			// is not resumable, only the whole period is.
			e.failRun(ctx, run, err)
			return nil, fmt.Errorf("settlement run aborted after %d authors: %w", summary.Settled, err)
		}

		result, err := e.settleAuthor(ctx, author, period, globals, now)
		if err != nil {
			log.Error("author settlement failed, skipping",
				zap.String("author_id", author.AuthorID),
				zap.Error(err))
			continue
		}
		if result == nil {
			continue // author has no documents
		}
		summary.Results = append(summary.Results, *result)
		summary.Settled++
		log.Info("author settled",
			zap.String("author_id", author.AuthorID),
			zap.Int64("ad_impressions", result.AdImpressions),
			zap.String("total", result.Total.StringFixed(2)))
	}

	// Tier pass runs for every eligible author, independent of whether their
	// settlement succeeded.
	for _, author := range authors {
		if err := ctx.Err(); err != nil {
			e.failRun(ctx, run, err)
			return nil, fmt.Errorf("tier recalculation aborted: %w", err)
		}
		if err := e.recalculateTier(ctx, author, now); err != nil {
			log.Error("tier recalculation failed",
				zap.String("author_id", author.AuthorID),
				zap.Error(err))
		}
	}

	completed := e.now()
	run.Status = RunCompleted
	run.SettledCount = summary.Settled
	run.CompletedAt = &completed
	e.saveRun(ctx, run)

	log.Info("settlement run completed", zap.Int("settled", summary.Settled))
	return summary, nil
}

// computeGlobals builds the run-wide aggregates: active premium subscriber
// count (evaluated at settlement time) and the global reading-minutes
// denominator. The denominator spans ALL sessions in the period, premium or
// not, while each author's numerator is premium-only.
func (e *Engine) computeGlobals(ctx context.Context, period Period, now time.Time) (GlobalAggregates, error) {
	premiumCount, err := e.store.CountActivePremium(ctx, now)
	if err != nil {
		return GlobalAggregates{}, fmt.Errorf("counting premium subscribers: %w", err)
	}
	totalMinutes, err := e.store.TotalReadingMinutes(ctx, period.Start, period.End)
	if err != nil {
		return GlobalAggregates{}, fmt.Errorf("summing period reading minutes: %w", err)
	}
	return NewGlobalAggregates(premiumCount, e.cfg.PremiumPrice, totalMinutes), nil
}

// settleAuthor computes and persists one author's revenue record, then
// credits their pending payout. Returns (nil, nil) for authors with no
// documents.
func (e *Engine) settleAuthor(ctx context.Context, author AuthorTier, period Period, globals GlobalAggregates, now time.Time) (*AuthorResult, error) {
	docs, err := e.store.ListDocumentsByAuthor(ctx, author.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	docIDs := make([]string, len(docs))
	for i, d := range docs {
		docIDs[i] = d.ID
	}

	impressions, err := e.store.CountImpressions(ctx, docIDs, RevenuePositions, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("counting impressions: %w", err)
	}

	premiumMinutes, err := e.premiumMinutes(ctx, docIDs, period, now)
	if err != nil {
		return nil, fmt.Errorf("summing premium minutes: %w", err)
	}

	rec := ComputeRevenue(AuthorInputs{
		AuthorID:       author.AuthorID,
		Tier:           author.Tier,
		RevenueShare:   author.RevenueShare,
		AdImpressions:  impressions,
		PremiumMinutes: premiumMinutes,
	}, globals, e.cfg.CPM)
	rec.ID = uuid.NewString()
	rec.Month = period.Key()
	rec.CreatedAt = now

	if err := e.store.InsertRevenueRecord(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateSettlement) {
			// Constraint fired: someone settled this author for this month
			// between the guard and the insert. Not a failure.
			e.log.Warn("revenue record already exists",
				zap.String("author_id", author.AuthorID),
				zap.String("month", period.Key()))
			return nil, nil
		}
		return nil, fmt.Errorf("inserting revenue record: %w", err)
	}

	if err := e.creditPayout(ctx, author.AuthorID, rec.TotalAuthorRevenue); err != nil {
		// The record exists; the balance credit is the part that failed.
		// Surface it loudly but do not abort the run.
		return nil, fmt.Errorf("crediting pending payout (record %s persisted): %w", rec.ID, err)
	}

	return &AuthorResult{
		AuthorID:           author.AuthorID,
		Tier:               author.Tier,
		AdImpressions:      rec.AdImpressions,
		AdAuthorShare:      rec.AdAuthorShare,
		PremiumMinutes:     rec.PremiumMinutes,
		PremiumAuthorShare: rec.PremiumAuthorShare,
		Total:              rec.TotalAuthorRevenue,
	}, nil
}

// premiumMinutes sums reading minutes on the author's documents by readers
// who are active premium subscribers at settlement time. A reader whose
// subscription lapsed between the reading and the run does not count.
func (e *Engine) premiumMinutes(ctx context.Context, docIDs []string, period Period, now time.Time) (int64, error) {
	sessions, err := e.store.SessionsForDocuments(ctx, docIDs, period.Start, period.End)
	if err != nil {
		return 0, err
	}
	if len(sessions) == 0 {
		return 0, nil
	}

	seen := make(map[string]bool)
	var readerIDs []string
	for _, s := range sessions {
		if s.ReaderID == "" || seen[s.ReaderID] {
			continue
		}
		seen[s.ReaderID] = true
		readerIDs = append(readerIDs, s.ReaderID)
	}
	if len(readerIDs) == 0 {
		return 0, nil
	}

	premium, err := e.store.FilterActivePremium(ctx, readerIDs, now)
	if err != nil {
		return 0, err
	}

	var minutes int64
	for _, s := range sessions {
		if premium[s.ReaderID] {
			minutes += s.Minutes()
		}
	}
	return minutes, nil
}

// creditPayout applies the read-modify-write on the author's pending payout
// balance. Only one run executes per period, so the balance update needs no
// further serialization beyond the run lock.
func (e *Engine) creditPayout(ctx context.Context, authorID string, amount decimal.Decimal) error {
	profile, err := e.store.GetProfile(ctx, authorID)
	if err != nil {
		return err
	}
	balance := RoundMoney(profile.PendingPayout.Add(amount))
	return e.store.UpdatePendingPayout(ctx, authorID, balance)
}

// recalculateTier re-evaluates one author's tier from lifetime reading
// hours and account age, promoting monotonically.
func (e *Engine) recalculateTier(ctx context.Context, author AuthorTier, now time.Time) error {
	totalSecs, err := e.store.TotalReadingSecsByAuthor(ctx, author.AuthorID)
	if err != nil {
		return fmt.Errorf("summing lifetime reading time: %w", err)
	}
	totalHours := decimal.NewFromInt(totalSecs).Div(decimal.NewFromInt(3600))

	profile, err := e.store.GetProfile(ctx, author.AuthorID)
	if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}

	promo := Promote(author, totalHours, profile.AccountAgeDays(now))
	promo.Record.TierUpdatedAt = now
	if err := e.store.SaveAuthorTier(ctx, promo.Record); err != nil {
		return fmt.Errorf("saving tier record: %w", err)
	}

	if promo.Promoted {
		if err := e.store.SetAuthorTier(ctx, author.AuthorID, promo.Record.Tier); err != nil {
			return fmt.Errorf("updating profile tier: %w", err)
		}
		e.log.Info("author promoted",
			zap.String("author_id", author.AuthorID),
			zap.Int("from_tier", author.Tier),
			zap.Int("to_tier", promo.Record.Tier))
	}
	return nil
}

// saveRun persists the audit record; failures are logged, never fatal.
func (e *Engine) saveRun(ctx context.Context, run RunRecord) {
	if err := e.store.SaveRun(ctx, run); err != nil {
		e.log.Error("saving run record", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (e *Engine) failRun(ctx context.Context, run RunRecord, cause error) {
	completed := e.now()
	run.Status = RunFailed
	run.Error = cause.Error()
	run.CompletedAt = &completed
	e.saveRun(context.WithoutCancel(ctx), run)
}
