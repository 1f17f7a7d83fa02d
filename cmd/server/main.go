/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the policy accounting server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.yaml, POLICYACCT_* env, .env)
  2. Parse command-line flags (override config)
  3. Initialize logger, SQLite store and audit trail
  4. Create API handler, router and cancellation sweeper
  5. Optionally seed demo data
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: server.port)
  -db      SQLite database path (default: database.path)
           Use ":memory:" for in-memory database
  -seed    Reset and load demo data on start (default: seed.on_start)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper (waits for a running sweep)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/policies.db"

  # Run in memory with demo data
  ./server -db=":memory:" -seed

  # Run on different port
  POLICYACCT_SERVER_PORT=3000 ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
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
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/warp/policy-accounting/api"
	"github.com/warp/policy-accounting/audit"
	"github.com/warp/policy-accounting/config"
	"github.com/warp/policy-accounting/logger"
	"github.com/warp/policy-accounting/store/sqlite"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.Int("port", cfg.Server.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.Database.Path, "SQLite database path")
	seed := flag.Bool("seed", cfg.Seed.OnStart, "Reset and load demo data on start")
	flag.Parse()

	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Initialize store
	if *dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
			log.Fatalw("Failed to create database directory", "path", *dbPath, "error", err)
		}
	}
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalw("Failed to initialize database", "path", *dbPath, "error", err)
	}
	defer store.Close()

	// Initialize audit trail
	trail, err := audit.NewFileLogger(cfg.Audit.Dir, cfg.Audit.PurgePassword, log)
	if err != nil {
		log.Fatalw("Failed to initialize audit trail", "dir", cfg.Audit.Dir, "error", err)
	}
	if !cfg.Audit.Enabled {
		trail.Disable()
	}

	handler := api.NewHandler(store, trail, log)

	if *seed {
		resp, err := api.Seed(context.Background(), store, trail, handler.Clock)
		if err != nil {
			log.Fatalw("Failed to seed database", "error", err)
		}
		log.Infow("Demo data loaded", "contacts", resp.Contacts, "policies", resp.Policies, "invoices", resp.Invoices)
	}

	// Start cancellation sweeper
	sweeper := api.NewSweeper(handler, cfg.Sweep.Schedule)
	sweeper.Enabled = cfg.Sweep.Enabled
	if err := sweeper.Start(); err != nil {
		log.Fatalw("Failed to start sweeper", "error", err)
	}

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infow("Server starting", "url", fmt.Sprintf("http://localhost:%d", *port), "db", *dbPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("Shutting down server...")
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorw("Server forced to shutdown", "error", err)
	}

	log.Infow("Server stopped")
}
