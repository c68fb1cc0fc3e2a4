/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the recycle points server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (defaults, -config file, POINTS_* env)
  3. Initialize logger and SQLite store
  4. Apply seed fixtures if -seed is given
  5. Build coordinator, authenticator and router
  6. Start the audit scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database
  -seed    YAML fixtures applied at startup (see seed package)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the audit scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Local demo: header auth, in-memory db, fixtures
  POINTS_AUTH_MODE=header ./server -db=":memory:" -seed=seed.example.yaml

  # Production style
  POINTS_AUTH_JWT_SECRET=... ./server -config=config.yaml

SEE ALSO:
  - config/config.go: Every setting and its default
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/recycle-points/api"
	"github.com/warp/recycle-points/config"
	"github.com/warp/recycle-points/logging"
	"github.com/warp/recycle-points/points"
	"github.com/warp/recycle-points/seed"
	"github.com/warp/recycle-points/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	seedPath := flag.String("seed", "", "YAML fixtures to apply at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *seedPath, log); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

func run(cfg *config.Config, seedPath string, log *logrus.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	coord := points.NewCoordinator(store)
	coord.Log = log
	coord.Limits = points.LimitMode(cfg.Limits.Enforcement)
	coord.Evaluator.DefaultPoints = cfg.Points.DefaultQRPoints
	coord.Evaluator.Location = loc
	coord.Evaluator.PageSize = cfg.Limits.ScanPageSize

	if seedPath != "" {
		fixtures, err := seed.Load(seedPath)
		if err != nil {
			return err
		}
		if err := seed.Apply(context.Background(), store, coord, fixtures); err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		log.WithFields(logrus.Fields{
			"file":    seedPath,
			"users":   len(fixtures.Users),
			"tokens":  len(fixtures.Tokens),
			"rewards": len(fixtures.Rewards),
		}).Info("seed applied")
	}

	handler := api.NewHandler(coord, store, log)
	handler.Auditor.PageSize = cfg.Limits.ScanPageSize

	router := api.NewRouter(handler, api.RouterOptions{
		Auth:           authenticator(cfg, log),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	if cfg.Audit.Enabled {
		scheduler := api.NewAuditScheduler(handler.Auditor, cfg.Audit.Schedule, log)
		if err := scheduler.Start(); err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":   cfg.Server.Port,
			"db":     cfg.Database.Path,
			"auth":   cfg.Auth.Mode,
			"limits": cfg.Limits.Enforcement,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func authenticator(cfg *config.Config, log logrus.FieldLogger) api.Authenticator {
	if cfg.Auth.Mode == "header" {
		log.Warn("auth mode is header: X-User-ID is trusted, do not expose this server")
		return api.HeaderAuthenticator{}
	}
	return &api.JWTAuthenticator{Secret: []byte(cfg.Auth.JWTSecret), Issuer: cfg.Auth.JWTIssuer}
}
