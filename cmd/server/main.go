/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the revenue settlement engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and environment
  2. Initialize SQLite store
  3. Create the settlement engine
  4. Create API handler and router
  5. Start the settlement scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port            HTTP server port (default: 8080)
  -db              SQLite database path (default: pagestream.db)
                   Use ":memory:" for in-memory database
  -check-interval  Scheduler check interval (default: 6h)
  -no-scheduler    Disable the background settlement scheduler

ENVIRONMENT:
  CRON_SECRET        Bearer secret for the settlement trigger (required
                     for the trigger to work; it fails closed when unset)
  CPM_USD            Override the default $2.00 CPM
  PREMIUM_PRICE_USD  Override the default $3.99 monthly premium price

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  CRON_SECRET=s3cret ./server -db="./data/pagestream.db"

  # Run with in-memory database, no scheduler
  ./server -db=":memory:" -no-scheduler

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Background settlement trigger
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pagestream/revenue-engine/api"
	"github.com/pagestream/revenue-engine/settlement"
	"github.com/pagestream/revenue-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "pagestream.db", "SQLite database path")
	checkInterval := flag.Duration("check-interval", 6*time.Hour, "settlement scheduler check interval")
	noScheduler := flag.Bool("no-scheduler", false, "disable the background settlement scheduler")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Engine configuration, with env overrides
	cfg := settlement.DefaultConfig()
	if v := os.Getenv("CPM_USD"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			logger.Fatal("invalid CPM_USD", zap.String("value", v), zap.Error(err))
		}
		cfg.CPM = d
	}
	if v := os.Getenv("PREMIUM_PRICE_USD"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			logger.Fatal("invalid PREMIUM_PRICE_USD", zap.String("value", v), zap.Error(err))
		}
		cfg.PremiumPrice = d
	}

	engine := settlement.NewEngine(store, cfg, logger)

	cronSecret := os.Getenv("CRON_SECRET")
	if cronSecret == "" {
		logger.Warn("CRON_SECRET not set, the settlement trigger will reject all requests")
	}

	// Initialize handler and router
	handler := api.NewHandler(store, engine, cronSecret, logger)
	router := api.NewRouter(handler)

	// Background settlement scheduler
	scheduler := api.NewSettlementScheduler(engine, logger)
	scheduler.CheckInterval = *checkInterval
	scheduler.Enabled = !*noScheduler
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout: 15 * time.Second,
		// The settlement trigger can legitimately hold a response open for
		// minutes; the engine's own run deadline bounds it.
		WriteTimeout: api.DefaultRunTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.Int("port", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
