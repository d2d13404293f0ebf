package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/resolveit/platform/internal/blob"
	caseapi "github.com/resolveit/platform/internal/case/api"
	"github.com/resolveit/platform/internal/case/domain"
	caseinfra "github.com/resolveit/platform/internal/case/infrastructure"
	"github.com/resolveit/platform/internal/case/query"
	"github.com/resolveit/platform/internal/case/workflow"
	"github.com/resolveit/platform/internal/notification"
	"github.com/resolveit/platform/internal/realtime"
	"github.com/resolveit/platform/internal/shared/auth"
	"github.com/resolveit/platform/internal/shared/config"
	"github.com/resolveit/platform/internal/shared/database"
	"github.com/resolveit/platform/internal/shared/events"
	"github.com/resolveit/platform/internal/shared/logging"
	"github.com/resolveit/platform/internal/shared/metrics"
	secmiddleware "github.com/resolveit/platform/internal/shared/middleware"
	"go.uber.org/zap"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	DB     *database.DB
	Bus    events.EventBus
	Hub    *realtime.Hub
	Logger *zap.Logger
}

func main() {
	ctx := context.Background()

	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Server.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	app := &App{Config: cfg, Logger: logger}

	// Initialize database (optional - run in limited mode if not available)
	repo, db := openRepository(ctx, cfg.Database, database.New, database.Migrate, logger)
	if db != nil {
		app.DB = db
		defer db.Close()
	}

	// Initialize event stream (optional - continue without it)
	bus, err := events.NewEventBus(cfg.Events)
	if err != nil {
		logger.Warn("Event stream not available, continuing without it",
			zap.String("driver", cfg.Events.Driver),
			zap.Error(err),
		)
		bus = events.NopBus{}
	}
	app.Bus = bus
	defer bus.Close()

	blobs, err := blob.NewStore(ctx, cfg.Blob)
	if err != nil {
		logger.Fatal("Failed to initialize blob store", zap.String("driver", cfg.Blob.Driver), zap.Error(err))
	}

	app.Hub = realtime.NewHub(cfg.Realtime.QueueSize, logger)
	defer app.Hub.Close()

	engine := workflow.NewEngine(repo, app.Hub, bus, logger)
	registrar := workflow.NewRegistrar(repo, blobs, app.Hub, bus, logger)
	queries := query.NewService(repo)

	limiter := secmiddleware.NewIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	caseHandler := caseapi.NewHandler(engine, registrar, queries, limiter, logger)
	wsHandler := realtime.NewWebsocketHandler(app.Hub, caseHandler.AuthorizeRoom, cfg.Server.ClientURL, cfg.Realtime.WriteTimeout, logger)

	// Outreach scheduler (optional)
	if cfg.Outreach.Enabled {
		scheduler := notification.NewScheduler(
			repo,
			engine,
			notification.NewEmailProvider(cfg.Mail, logger),
			notification.SchedulerConfig{
				Interval:  cfg.Outreach.Interval,
				BatchSize: cfg.Outreach.BatchSize,
				ClientURL: cfg.Server.ClientURL,
			},
			logger,
		)
		if err := scheduler.Start(); err != nil {
			logger.Error("Outreach scheduler failed to start", zap.Error(err))
		} else {
			defer scheduler.Stop()
		}
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig(cfg.Server.ClientURL)))

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	if local, ok := blobs.(*blob.LocalStore); ok {
		r.Handle(cfg.Blob.PublicURL+"/*", http.StripPrefix(cfg.Blob.PublicURL, http.FileServer(http.Dir(local.Dir()))))
	}

	// Realtime; long-lived, so outside the request timeout
	r.With(auth.Middleware(cfg.Auth)).Handle("/ws", wsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(auth.Middleware(cfg.Auth))

		r.Mount("/cases", caseHandler.Routes())
		r.Mount("/admin", caseHandler.AdminRoutes())
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     r,
		ReadTimeout: 2 * time.Minute,
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("Shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", zap.Error(err))
		}
		close(done)
	}()

	logger.Info("ResolveIt server started",
		zap.String("env", cfg.Server.Env),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("database", app.DB != nil),
		zap.String("events", cfg.Events.Driver),
		zap.String("blob", cfg.Blob.Driver),
		zap.Bool("outreach", cfg.Outreach.Enabled),
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server error", zap.Error(err))
	}

	<-done
	logger.Info("Server stopped")
}

type (
	connectFunc func(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error)
	migrateFunc func(databaseURL string, logger *zap.Logger) error
)

// openRepository connects and migrates Postgres. Without a usable schema
// the service runs in limited mode on seeded in-memory storage.
func openRepository(ctx context.Context, cfg config.DatabaseConfig, connect connectFunc, migrate migrateFunc, logger *zap.Logger) (domain.Repository, *database.DB) {
	db, err := connect(ctx, cfg)
	if err != nil {
		logger.Warn("Database not available, running in limited mode with in-memory storage", zap.Error(err))
		return limitedRepository(), nil
	}

	if err := migrate(cfg.MigrateURL(), logger); err != nil {
		logger.Error("Migration failed, running in limited mode with in-memory storage", zap.Error(err))
		db.Close()
		return limitedRepository(), nil
	}
	return caseinfra.NewPostgresRepository(db.Pool), db
}

func limitedRepository() domain.Repository {
	mem := caseinfra.NewMemoryRepository()
	mem.SeedUsers()
	return mem
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "healthy",
			"subscribers": app.Hub.SubscriberCount(),
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		// Check database
		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		// Check event stream
		if _, ok := app.Bus.(events.NopBus); ok {
			checks["events"] = "not configured"
		} else if err := app.Bus.Health(); err != nil {
			checks["events"] = "not ready: " + err.Error()
		} else {
			checks["events"] = "ready"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
