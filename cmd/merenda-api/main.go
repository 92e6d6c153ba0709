// Package main is the entry point for the merenda-api server: the tenant
// lifecycle control plane of the Merenda platform.
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

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/merendalabs/merenda-api/internal/config"
	"github.com/merendalabs/merenda-api/internal/database"
	"github.com/merendalabs/merenda-api/internal/http/handlers"
	"github.com/merendalabs/merenda-api/internal/http/mw"
	"github.com/merendalabs/merenda-api/internal/http/routes"
	"github.com/merendalabs/merenda-api/internal/logging"
	"github.com/merendalabs/merenda-api/internal/repository"
	"github.com/merendalabs/merenda-api/internal/service"
	"github.com/merendalabs/merenda-api/internal/version"
	"github.com/merendalabs/merenda-api/internal/worker"
)

func main() {
	tokenSubject := flag.String("issue-operator-token", "", "print a signed operator token for the given subject and exit")
	tokenRole := flag.String("token-role", "operator", "role claim for -issue-operator-token")
	flag.Parse()

	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	// Log version info first thing
	v := version.Get()
	logger.Info("starting merenda-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Token issuance is an operator convenience; it needs only the JWT
	// settings, so bail out before touching the database.
	if *tokenSubject != "" {
		token, err := mw.IssueOperatorToken(*tokenSubject, *tokenRole, cfg.JWTSecret, cfg.JWTExpiry)
		if err != nil {
			logger.Error("failed to issue token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Run bootstrap migrations for the control plane's own tables
	if err := database.Migrate(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	schemaVersion, err := database.LatestSchemaVersion(db)
	if err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else if schemaVersion != "" {
		logger.Info("database schema ready", "schema_version", schemaVersion)
	}

	// Initialize repositories
	repos := repository.NewRepositories(db)

	// Initialize services
	services, err := service.NewServices(cfg, repos, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	// Fail runs stuck in running from a previous process. Their steps are
	// left where they were so operators can recover or retry them.
	staleCount, err := services.Provisioning.MarkStaleRuns(context.Background(), cfg.StaleRunMaxAge)
	if err != nil {
		logger.Warn("failed to sweep stale runs", "error", err)
	} else if staleCount > 0 {
		logger.Info("marked stale running runs as failed", "count", staleCount)
	}

	// Start the deprovisioning scheduler worker
	schedWorker := worker.New(services.Provisioning, worker.Config{
		PollInterval:        cfg.WorkerPollInterval,
		ShutdownGracePeriod: cfg.WorkerShutdownGracePeriod,
	}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	schedWorker.Start(ctx)

	// Create router
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.VersionHeader)

	// Provisioning runs and migration chains execute synchronously within
	// the request, so those paths get the extended timeout.
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default:          30 * time.Second,
		Extended:         5 * time.Minute,
		ExtendedPatterns: []string{"/provisioning", "/migrations", "/deprovision"},
	}))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "X-API-Version", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request size limit (1MB) - prevent large payload attacks
	router.Use(middleware.RequestSize(1 * 1024 * 1024))

	// Global rate limit by IP (operators also get per-subject limits)
	router.Use(httprate.LimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow))

	// Global concurrency throttle - prevent system overload
	router.Use(middleware.Throttle(100))

	// Huma API with shared route definitions and OpenAPI docs
	api := humachi.New(router, routes.NewHumaConfig(cfg.BaseURL))
	api.UseMiddleware(mw.HumaAuth(api, cfg.JWTSecret))

	h := handlers.New(services, db)
	routes.Register(api, h)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		// Stop the worker first so no new teardown run starts mid-shutdown
		cancel()
		schedWorker.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	// Start server
	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
