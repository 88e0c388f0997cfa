// Command api starts the Gleaner HTTP API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dkoeder/gleaner/internal/aggregate"
	"github.com/dkoeder/gleaner/internal/ai"
	"github.com/dkoeder/gleaner/internal/config"
	"github.com/dkoeder/gleaner/internal/db"
	"github.com/dkoeder/gleaner/internal/fetch"
	"github.com/dkoeder/gleaner/internal/greader"
	"github.com/dkoeder/gleaner/internal/handlers"
	"github.com/dkoeder/gleaner/internal/images"
	"github.com/dkoeder/gleaner/internal/markdown"
	"github.com/dkoeder/gleaner/internal/middleware"
	"github.com/dkoeder/gleaner/internal/models"
	"github.com/dkoeder/gleaner/internal/reddit"
	"github.com/dkoeder/gleaner/internal/storage"
	"github.com/dkoeder/gleaner/internal/youtube"
)

func main() {
	_ = godotenv.Load()

	// Structured logging.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Database connection.
	pool, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Data stores.
	userStore := models.NewUserStore(pool)
	sessionStore := models.NewSessionStore(pool)
	tokenStore := models.NewReaderTokenStore(pool)
	feedStore := models.NewFeedStore(pool)
	groupStore := models.NewFeedGroupStore(pool)
	articleStore := models.NewArticleStore(pool)
	stateStore := models.NewStateStore(pool)
	streamStore := models.NewStreamStore(pool)
	settingsStore := models.NewSettingsStore(pool)

	// Aggregation wiring. The API process needs it for adapter metadata,
	// subscription site URLs, and the manual run trigger.
	fetchClient := fetch.NewClient(cfg.Fetch)
	imageService := images.NewService(cfg.Images)
	deps := &aggregate.Deps{
		Config:   cfg,
		Fetch:    fetchClient,
		Scraper:  fetch.NewPageScraper(cfg.Fetch.UserAgent),
		Images:   imageService,
		Markdown: markdown.NewRenderer(),
		Reddit:   reddit.NewClient(cfg.Reddit),
		YouTube:  youtube.NewClient(cfg.YouTube.APIBase),
		Rewriter: ai.NewRewriter(),
		Logger:   slog.Default(),
	}
	registry := aggregate.NewRegistry(deps)

	// S3 snapshot client (for manually triggered runs).
	snapshots, snapErr := storage.NewClient(ctx, cfg.S3)
	if snapErr != nil {
		slog.Warn("S3 storage not available", "err", snapErr)
		snapshots = nil
	}
	runner := aggregate.NewRunner(deps, registry, aggregate.Stores{
		Feeds:    feedStore,
		Articles: articleStore,
		Settings: settingsStore,
	}, snapshots, cfg.Worker.MaxParallelFeeds)

	readerService := greader.NewService(greader.Stores{
		Users:    userStore,
		Feeds:    feedStore,
		Groups:   groupStore,
		Articles: articleStore,
		States:   stateStore,
		Streams:  streamStore,
		Tokens:   tokenStore,
	}, registry, nil)

	// Handlers.
	healthHandler := &handlers.HealthHandler{DB: pool}
	authHandler := &handlers.AuthHandler{
		Users:    userStore,
		Sessions: sessionStore,
	}
	proxyHandler := &handlers.ProxyHandler{YouTube: cfg.YouTube}
	readerHandler := &handlers.GReaderHandler{Service: readerService}
	adminHandler := &handlers.AdminHandler{
		Feeds:    feedStore,
		Groups:   groupStore,
		Users:    userStore,
		Settings: settingsStore,
		Registry: registry,
		Runner:   runner,
		Fetch:    fetchClient,
		Images:   imageService,
	}

	// Router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes.
	r.Get("/health", healthHandler.Health)
	r.Get("/health/", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/login", authHandler.Login)
	r.Get("/api/youtube-proxy", proxyHandler.YouTubeEmbed)
	r.Get("/api/feeds/{id}/icon", adminHandler.FeedIcon)

	// Session-authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(sessionStore, userStore))

		r.Post("/api/logout", authHandler.Logout)
		r.Get("/api/me", authHandler.Me)

		// Management (admin only).
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Get("/api/admin/feeds", adminHandler.ListFeeds)
			r.Post("/api/admin/feeds", adminHandler.CreateFeed)
			r.Put("/api/admin/feeds/{id}", adminHandler.UpdateFeed)
			r.Patch("/api/admin/feeds/{id}/toggle", adminHandler.ToggleFeed)
			r.Delete("/api/admin/feeds/{id}", adminHandler.DeleteFeed)
			r.Post("/api/admin/feeds/{id}/run", adminHandler.RunFeed)

			r.Get("/api/admin/groups", adminHandler.ListGroups)
			r.Post("/api/admin/groups", adminHandler.CreateGroup)
			r.Delete("/api/admin/groups/{id}", adminHandler.DeleteGroup)

			r.Get("/api/admin/users", adminHandler.ListUsers)
			r.Post("/api/admin/users", adminHandler.CreateUser)
			r.Put("/api/admin/users/{id}/password", adminHandler.UpdateUserPassword)
			r.Delete("/api/admin/users/{id}", adminHandler.DeleteUser)

			r.Get("/api/admin/aggregators", adminHandler.Aggregators)
			r.Get("/api/admin/settings", adminHandler.GetSettings)
			r.Put("/api/admin/settings", adminHandler.UpdateSettings)
			r.Get("/api/admin/providers", adminHandler.ListProviders)
			r.Put("/api/admin/providers", adminHandler.UpsertProvider)
		})
	})

	// Google Reader compatible API.
	r.Route("/api/greader", func(r chi.Router) {
		r.Use(middleware.ReaderMetrics)

		r.HandleFunc("/accounts/ClientLogin", readerHandler.ClientLogin)

		r.Route("/reader/api/0", func(r chi.Router) {
			r.Use(middleware.GReaderAuth(tokenStore, sessionStore, userStore))

			r.Get("/token", readerHandler.Token)
			r.Post("/token", readerHandler.Token)
			r.Get("/user-info", readerHandler.UserInfo)

			r.Get("/subscription/list", readerHandler.SubscriptionList)
			r.Post("/subscription/edit", readerHandler.SubscriptionEdit)
			r.Get("/tag/list", readerHandler.TagList)
			r.Post("/edit-tag", readerHandler.EditTag)
			r.Post("/mark-all-as-read", readerHandler.MarkAllRead)
			r.Get("/unread-count", readerHandler.UnreadCount)

			r.Get("/stream/items/ids", readerHandler.StreamItemIDs)
			r.HandleFunc("/stream/items/contents", readerHandler.StreamContents)
			r.HandleFunc("/stream/contents", readerHandler.StreamContents)
			r.HandleFunc("/stream/contents/*", readerHandler.StreamContents)
		})
	})

	// Start server.
	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	slog.Info("server stopped")
}
