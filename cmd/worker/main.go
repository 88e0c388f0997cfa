// Command worker runs the Gleaner background jobs. It periodically feeds
// every enabled source through its aggregation pipeline, prunes old articles,
// and purges expired sessions and reader tokens.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/dkoeder/gleaner/internal/aggregate"
	"github.com/dkoeder/gleaner/internal/ai"
	"github.com/dkoeder/gleaner/internal/config"
	"github.com/dkoeder/gleaner/internal/db"
	"github.com/dkoeder/gleaner/internal/fetch"
	"github.com/dkoeder/gleaner/internal/images"
	"github.com/dkoeder/gleaner/internal/markdown"
	"github.com/dkoeder/gleaner/internal/models"
	"github.com/dkoeder/gleaner/internal/reddit"
	"github.com/dkoeder/gleaner/internal/storage"
	"github.com/dkoeder/gleaner/internal/youtube"
)

func main() {
	_ = godotenv.Load()

	// Structured JSON logging.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("worker: starting gleaner worker")

	// Load configuration.
	cfg := config.Load()

	// Create a root context that is cancelled on shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the database.
	pool, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		slog.Error("worker: database connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Create stores.
	feedStore := models.NewFeedStore(pool)
	articleStore := models.NewArticleStore(pool)
	settingsStore := models.NewSettingsStore(pool)
	sessionStore := models.NewSessionStore(pool)
	tokenStore := models.NewReaderTokenStore(pool)

	// Aggregation pipeline wiring.
	deps := &aggregate.Deps{
		Config:   cfg,
		Fetch:    fetch.NewClient(cfg.Fetch),
		Scraper:  fetch.NewPageScraper(cfg.Fetch.UserAgent),
		Images:   images.NewService(cfg.Images),
		Markdown: markdown.NewRenderer(),
		Reddit:   reddit.NewClient(cfg.Reddit),
		YouTube:  youtube.NewClient(cfg.YouTube.APIBase),
		Rewriter: ai.NewRewriter(),
		Logger:   logger,
	}
	registry := aggregate.NewRegistry(deps)

	// S3 snapshot client. Unconfigured deployments run without snapshots.
	snapshots, err := storage.NewClient(ctx, cfg.S3)
	if err != nil {
		slog.Warn("worker: S3 storage not available", "err", err)
		snapshots = nil
	}

	runner := aggregate.NewRunner(deps, registry, aggregate.Stores{
		Feeds:    feedStore,
		Articles: articleStore,
		Settings: settingsStore,
	}, snapshots, cfg.Worker.MaxParallelFeeds)

	// Track in-flight jobs for graceful shutdown.
	var wg sync.WaitGroup

	// Set up cron scheduler (standard 5-field cron expressions).
	c := cron.New()

	// Aggregation: every feed, bounded parallelism.
	_, err = c.AddFunc(cfg.Worker.AggregateSchedule, func() {
		wg.Add(1)
		defer wg.Done()

		jobCtx, jobCancel := context.WithTimeout(ctx, 1*time.Hour)
		defer jobCancel()

		slog.Info("cron: aggregation job triggered")
		if err := runner.RunAll(jobCtx); err != nil {
			slog.Error("cron: aggregation job failed", "err", err)
		}
	})
	if err != nil {
		slog.Error("worker: add aggregation cron", "err", err)
		os.Exit(1)
	}

	// Article retention: drop old articles, keeping anything starred.
	_, err = c.AddFunc(cfg.Worker.CleanupSchedule, func() {
		wg.Add(1)
		defer wg.Done()

		jobCtx, jobCancel := context.WithTimeout(ctx, 30*time.Minute)
		defer jobCancel()

		horizon := time.Now().AddDate(0, 0, -cfg.Worker.RetentionDays)
		slog.Info("cron: retention cleanup triggered", "horizon", horizon)
		deleted, err := articleStore.DeleteOlderThan(jobCtx, horizon)
		if err != nil {
			slog.Error("cron: retention cleanup failed", "err", err)
			return
		}
		slog.Info("cron: retention cleanup complete", "deleted", deleted)
	})
	if err != nil {
		slog.Error("worker: add retention cron", "err", err)
		os.Exit(1)
	}

	// Credential purge: expired sessions and reader tokens.
	_, err = c.AddFunc(cfg.Worker.PurgeSchedule, func() {
		wg.Add(1)
		defer wg.Done()

		jobCtx, jobCancel := context.WithTimeout(ctx, 5*time.Minute)
		defer jobCancel()

		sessions, err := sessionStore.DeleteExpired(jobCtx)
		if err != nil {
			slog.Error("cron: session purge failed", "err", err)
		}
		tokens, err := tokenStore.DeleteExpired(jobCtx)
		if err != nil {
			slog.Error("cron: token purge failed", "err", err)
		}
		slog.Info("cron: credential purge complete", "sessions", sessions, "tokens", tokens)
	})
	if err != nil {
		slog.Error("worker: add purge cron", "err", err)
		os.Exit(1)
	}

	// Start the cron scheduler.
	c.Start()
	slog.Info("worker: cron scheduler started", "jobs", len(c.Entries()))

	// Run an initial aggregation on startup so new deployments don't wait for
	// the first tick.
	wg.Add(1)
	go func() {
		defer wg.Done()

		// Small delay to let everything settle.
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return
		}

		jobCtx, jobCancel := context.WithTimeout(ctx, 1*time.Hour)
		defer jobCancel()

		slog.Info("worker: running initial aggregation on startup")
		if err := runner.RunAll(jobCtx); err != nil {
			slog.Error("worker: initial aggregation failed", "err", err)
		}
	}()

	// ── Graceful Shutdown ──────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	slog.Info("worker: received shutdown signal", "signal", sig.String())

	// Stop accepting new cron jobs.
	slog.Info("worker: stopping cron scheduler")
	cronCtx := c.Stop()

	// Cancel the root context to signal all in-flight jobs to stop.
	cancel()

	// Wait for the cron scheduler to finish its currently running jobs.
	select {
	case <-cronCtx.Done():
		slog.Info("worker: cron scheduler stopped")
	case <-time.After(30 * time.Second):
		slog.Warn("worker: cron scheduler stop timed out")
	}

	// Wait for all in-flight goroutines.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("worker: all in-flight jobs complete")
	case <-time.After(60 * time.Second):
		slog.Warn("worker: timed out waiting for in-flight jobs")
	}

	// Close the database pool.
	pool.Close()
	slog.Info("worker: shutdown complete")
}
