package admin

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clipfinder/internal/api/handlers"
	"github.com/cloo-solutions/clipfinder/internal/api/middleware"
	"github.com/cloo-solutions/clipfinder/internal/config"
	"github.com/cloo-solutions/clipfinder/internal/jobs"
	"github.com/cloo-solutions/clipfinder/internal/server"
	"github.com/cloo-solutions/clipfinder/internal/telemetry"
)

const (
	shutdownTimeout  = 30 * time.Second
	nightlyPrune     = "0 4 * * *"
	embedCacheMaxAge = 30 * 24 * time.Hour
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the clipfinder API server over the configured media directory",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().String("migrations", "file://migrations", "Migration source URL")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	shutdownTelemetry := initTelemetry(cfg)
	defer shutdownTelemetry()

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	migrations, _ := cmd.Flags().GetString("migrations")
	engine, err := NewEngine(ctx, cfg, EngineOptions{Migrate: !noMigrate, MigrationsSource: migrations})
	if err != nil {
		return err
	}
	defer engine.Close()

	if _, err := engine.Search.Refresh(ctx, true); err != nil {
		return fmt.Errorf("failed to hydrate catalog: %w", err)
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	var transcriptWorker *jobs.Worker
	if engine.Pipeline != nil && cfg.IngestPollInterval > 0 {
		processor := jobs.NewTranscriptWorker(engine.Pipeline, cfg.AutoIngestLimit)
		transcriptWorker = jobs.NewWorker(processor, cfg.IngestPollInterval)
		go transcriptWorker.Start(workerCtx)
		log.Printf("transcript worker started (every %s)", cfg.IngestPollInterval)
	}

	scheduler := jobs.NewScheduler()
	if cfg.RefreshCron != "" {
		err := scheduler.ScheduleCron("catalog-refresh", cfg.RefreshCron, func(ctx context.Context) error {
			_, err := engine.Search.Refresh(ctx, true)
			return err
		})
		if err != nil {
			return fmt.Errorf("invalid REFRESH_CRON %q: %w", cfg.RefreshCron, err)
		}
	}
	if engine.EmbeddingCache != nil {
		if err := schedulePrune(scheduler, "embedding-cache-prune", "cached embeddings", embedCacheMaxAge, engine.EmbeddingCache.Prune); err != nil {
			return err
		}
	}
	if engine.SearchLogs != nil && cfg.SearchLogRetention > 0 {
		if err := schedulePrune(scheduler, "search-log-prune", "search logs", cfg.SearchLogRetention, engine.SearchLogs.Prune); err != nil {
			return err
		}
	}
	scheduler.Start()

	router := server.NewRouter(server.RouterConfig{
		SearchHandler: handlers.NewSearchHandler(engine.Search, engine.SearchLogRepository()),
		VideoHandler:  handlers.NewVideoHandler(engine.Search),
		RateLimiter:   middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		MediaDir:      cfg.MediaDir,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("starting server on port %s (media: %s)", cfg.Port, cfg.MediaDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	scheduler.Stop()
	cancelWorkers()
	if transcriptWorker != nil {
		transcriptWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// initTelemetry starts Sentry when a DSN is configured and returns its flush func.
func initTelemetry(cfg *config.Config) func() {
	if !cfg.HasSentry() {
		return func() {}
	}

	// Default to 10% sampling in production, 100% in development
	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}

	shutdown, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	})
	if err != nil {
		log.Printf("telemetry init failed (continuing without tracing): %v", err)
		return func() {}
	}
	return shutdown
}

// schedulePrune runs prune nightly with a cutoff of maxAge before now.
func schedulePrune(s *jobs.Scheduler, name, what string, maxAge time.Duration, prune func(context.Context, time.Time) (int64, error)) error {
	err := s.ScheduleCron(name, nightlyPrune, func(ctx context.Context) error {
		n, err := prune(ctx, time.Now().Add(-maxAge))
		if err == nil && n > 0 {
			log.Printf("scheduler: pruned %d %s", n, what)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}
