/*
scheduler.go - Automated settlement scheduler

PURPOSE:
  Periodically kicks the settlement engine so the prior month gets settled
  even when no external cron hits the HTTP trigger. The engine's own
  idempotency guard makes the repeated checks harmless: once a month is
  settled, every further attempt for that month is a cheap skip.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each attempt runs under the same deadline as the HTTP trigger
  - An in-progress run (ErrRunInProgress) is ignored, not retried early
  - Run outcomes land in the settlement_runs audit trail

CONFIGURATION:
  - CheckInterval: how often to attempt (default: 6 hours)
  - Enabled: whether the scheduler is active (default: true)

USAGE:
  scheduler := NewSettlementScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSettlement endpoint (manual trigger)
  - settlement/engine.go: the run itself
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagestream/revenue-engine/settlement"
)

// SettlementScheduler triggers settlement runs on a timer.
type SettlementScheduler struct {
	Engine        *settlement.Engine
	CheckInterval time.Duration
	RunTimeout    time.Duration
	Enabled       bool

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSettlementScheduler creates a new scheduler. A nil logger gets
// zap.NewNop().
func NewSettlementScheduler(engine *settlement.Engine, log *zap.Logger) *SettlementScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SettlementScheduler{
		Engine:        engine,
		CheckInterval: 6 * time.Hour,
		RunTimeout:    DefaultRunTimeout,
		Enabled:       true,
		log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (ss *SettlementScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		ss.log.Info("settlement scheduler disabled, not starting")
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.wg.Add(1)

	go ss.run()

	ss.log.Info("settlement scheduler started",
		zap.Duration("check_interval", ss.CheckInterval))
}

// Stop stops the scheduler.
func (ss *SettlementScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		ss.log.Info("settlement scheduler stopped")
	}
}

func (ss *SettlementScheduler) run() {
	defer ss.wg.Done()

	// Attempt immediately on start
	ss.attempt()

	for {
		select {
		case <-ss.ticker.C:
			ss.attempt()
		case <-ss.stop:
			return
		}
	}
}

func (ss *SettlementScheduler) attempt() {
	ctx, cancel := context.WithTimeout(context.Background(), ss.RunTimeout)
	defer cancel()

	summary, err := ss.Engine.Run(ctx)
	if errors.Is(err, settlement.ErrRunInProgress) {
		ss.log.Info("settlement run already in progress, skipping attempt")
		return
	}
	if err != nil {
		ss.log.Error("scheduled settlement run failed", zap.Error(err))
		return
	}
	if summary.Skipped {
		return
	}
	ss.log.Info("scheduled settlement run completed",
		zap.String("month", summary.Month),
		zap.Int("settled", summary.Settled))
}

// RunNow triggers an immediate attempt (for testing/admin).
func (ss *SettlementScheduler) RunNow() {
	ss.attempt()
}
