// Alpha Tech site server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/alphatech-ng/alphatech-site/internal/agent"
	"github.com/alphatech-ng/alphatech-site/internal/api"
	"github.com/alphatech-ng/alphatech-site/internal/auth"
	"github.com/alphatech-ng/alphatech-site/internal/catalog"
	"github.com/alphatech-ng/alphatech-site/internal/chat"
	"github.com/alphatech-ng/alphatech-site/internal/config"
	"github.com/alphatech-ng/alphatech-site/internal/identity"
	"github.com/alphatech-ng/alphatech-site/internal/middleware"
	"github.com/alphatech-ng/alphatech-site/internal/realtime"
	"github.com/alphatech-ng/alphatech-site/internal/store"
	"github.com/alphatech-ng/alphatech-site/internal/sweep"
	"github.com/alphatech-ng/alphatech-site/internal/view"
	"github.com/alphatech-ng/alphatech-site/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	repo.SetRetryPolicy(cfg.Retry.DatabaseMaxRetries, cfg.Retry.DatabaseRetryBaseDelay)

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	var profiles store.ProfileStore = repo
	if cfg.Profiles.Backend == config.ProfileBackendFirestore {
		fsProfiles, err := store.NewFirestoreProfiles(context.Background(), cfg.Profiles.FirestoreProject)
		if err != nil {
			slog.Error("Failed to initialize Firestore profile store", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := fsProfiles.Close(); closeErr != nil {
				slog.Error("Failed to close Firestore client", "error", closeErr)
			}
		}()
		profiles = fsProfiles
		slog.Info("Profile documents stored in Firestore", "project", cfg.Profiles.FirestoreProject)
	}

	site, err := catalog.Load()
	if err != nil {
		slog.Error("Failed to load site catalog", "error", err)
		os.Exit(1)
	}

	// Text generation. A backend that cannot start leaves chat answering with
	// the failure fallback rather than stopping the site.
	generation, err := agent.NewService(context.Background(), agent.Config{
		Provider:       cfg.Generation.Provider,
		Model:          cfg.Generation.Model,
		APIKey:         cfg.Generation.APIKey,
		GrpcAddr:       cfg.Generation.GrpcAddr,
		RequestTimeout: cfg.Generation.RequestTimeout,
	}, logger)
	if err != nil {
		slog.Warn("Failed to initialize text generation, chat will use the fallback reply", "provider", cfg.Generation.Provider, "error", err)
		generation, _ = agent.NewService(context.Background(), agent.Config{Provider: agent.ProviderDisabled}, logger)
	}
	defer func() {
		if closeErr := generation.Close(); closeErr != nil {
			slog.Debug("Failed to close generation backend", "error", closeErr)
		}
	}()
	slog.Info("Text generation ready", "provider", generation.GetStats().Provider, "model", generation.Model())

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Debug("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	authService := auth.NewService(repo, auth.Options{BcryptCost: cfg.BcryptCost})
	views := view.NewRegistry(authService, cfg.BannerDelay)
	defer views.Close()
	chats := chat.NewRegistry(generation, chat.Options{
		Model:          cfg.Generation.Model,
		RequestTimeout: cfg.Generation.RequestTimeout,
		Log:            conversationLogger,
	})
	rateLimiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer rateLimiter.Stop()
	conns := realtime.NewConnManager()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, profiles, views, cfg)
	healthHandler := api.NewHealthHandler(repo, generation, cfg)
	siteHandler := api.NewSiteHandler(baseHandler, site)
	authHandler := api.NewAuthHandler(baseHandler, authService)
	viewHandler := api.NewViewHandler(baseHandler)
	profileHandler := api.NewProfileHandler(baseHandler)
	chatHandler := api.NewChatHandler(baseHandler, chats, rateLimiter)
	chatSocket := realtime.NewChatSocket(chats, conns, rateLimiter, repo, cfg.AllowedOrigins, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Everything else is tied to a visitor device and tab.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

		siteHandler.RegisterRoutes(r)
		authHandler.RegisterRoutes(r)
		viewHandler.RegisterRoutes(r)
		profileHandler.RegisterRoutes(r)
		chatHandler.RegisterRoutes(r)

		// WebSocket endpoint.
		r.Get("/ws/chat", chatSocket.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start sweep worker.
	sweep.NewWorker(sweep.Config{
		SessionIdleTTL: cfg.SessionIdleTTL,
		VisitorTTL:     cfg.VisitorTTL,
		MaxRetries:     cfg.Retry.DatabaseMaxRetries,
		RetryBaseDelay: cfg.Retry.DatabaseRetryBaseDelay,
	}, views, chats, repo).Start(ctx)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	conns.CloseAll("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
