/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the library engine HTTP server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment, apply flag overrides
  2. Open the store (SQLite, Postgres or memory) and migrate it
  3. Build the library service with notifier and logger
  4. Create the bootstrap admin account if configured
  5. Start the background scheduler
  6. Start the HTTP server

COMMAND-LINE FLAGS:
  -port      HTTP server port (overrides APP_PORT)
  -driver    sqlite | postgres | memory (overrides DB_DRIVER)
  -dsn       Data source name (overrides DATABASE_URL)
  -no-jobs   Do not start the background scheduler

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler after its current pass
  4. Close the database
  5. Exit

EXAMPLES:
  # Run with a file database
  ./server -dsn="file:./data/library.db?_journal_mode=WAL"

  # Run with Postgres
  DB_DRIVER=postgres DATABASE_URL=postgres://lib@localhost/lib ./server

  # Run in memory on a different port
  ./server -driver=memory -port=3000

ENVIRONMENT:
  See config/config.go for every key and default.

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Background jobs
  - config/config.go: Settings
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/library-engine/api"
	"github.com/warp/library-engine/config"
	"github.com/warp/library-engine/library"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	driver := flag.String("driver", cfg.DBDriver, "storage driver: sqlite, postgres or memory")
	dsn := flag.String("dsn", cfg.DatabaseURL, "data source name")
	noJobs := flag.Bool("no-jobs", false, "do not start the background scheduler")
	flag.Parse()
	cfg.Port, cfg.DBDriver, cfg.DatabaseURL = *port, *driver, *dsn

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := cfg.NewLogger(os.Stderr)
	slog.SetDefault(log)

	ctx := context.Background()

	// Initialize store
	st, closeStore, err := cfg.OpenStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error("close store", "error", err)
		}
	}()

	svc := cfg.NewService(st, log)

	if cfg.BootstrapAdminEmail != "" {
		_, created, err := svc.EnsureUser(ctx, "Administrator", cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword, library.RoleAdmin)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			log.Info("bootstrap admin created", "email", cfg.BootstrapAdminEmail)
		}
	}

	scheduler := api.NewScheduler(svc, api.SchedulerConfig{
		SweepInterval: cfg.SweepInterval,
		ReminderHour:  cfg.ReminderHour,
		Enabled:       !*noJobs,
	}, log)
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(svc, api.NewAuth(cfg.JWTSecret, cfg.AllowRoleHeader), log)
	router := api.NewRouter(handler, api.RouterOptions{RequestTimeout: cfg.RequestTimeout})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", server.Addr, "driver", cfg.DBDriver, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
