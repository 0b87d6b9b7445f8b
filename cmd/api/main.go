package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aetherchat/aether/internal/ai"
	"github.com/aetherchat/aether/internal/api"
	"github.com/aetherchat/aether/internal/audit"
	"github.com/aetherchat/aether/internal/auth"
	"github.com/aetherchat/aether/internal/chats"
	"github.com/aetherchat/aether/internal/config"
	"github.com/aetherchat/aether/internal/database"
	"github.com/aetherchat/aether/internal/events"
	"github.com/aetherchat/aether/internal/gateway"
	"github.com/aetherchat/aether/internal/memory"
	"github.com/aetherchat/aether/internal/middleware"
	"github.com/aetherchat/aether/internal/pipeline"
	iredis "github.com/aetherchat/aether/internal/redis"
	"github.com/aetherchat/aether/internal/server"
	"github.com/aetherchat/aether/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.DB.MigrationsPath != "" {
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
			slog.Error("running migrations", "error", err)
			os.Exit(1)
		}
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS event bus (optional)
	var (
		eventBus  *events.Client
		publisher *events.Publisher
		busHealth func() bool
	)
	if cfg.NATS.Enabled {
		eventBus, err = events.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer eventBus.Close()
		publisher = events.NewPublisher(eventBus.JetStream())
		busHealth = eventBus.Healthy
	}

	// Auth
	jwtManager := auth.NewJWTManager(
		cfg.JWT.AccessSecret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)
	authSvc := auth.NewService(jwtManager, redisClient)
	userRepo := users.NewRepository(pool)
	userSvc := users.NewService(userRepo)
	authHandler := auth.NewHandler(authSvc, userSvc, publisher)

	// Chats
	chatRepo := chats.NewPostgresRepository(pool)
	chatSvc := chats.NewService(chatRepo)
	chatHandler := chats.NewHandler(chatSvc)

	// Long-term memory
	memoryRepo := memory.NewPostgresRepository(pool)

	// Activity trail
	auditRepo := audit.NewRepository(pool)
	auditHandler := audit.NewHandler(auditRepo)

	// Gemini
	gemini, err := ai.NewGeminiClient(ctx, cfg.Gemini, cfg.Pipeline.EmbeddingDim)
	if err != nil {
		slog.Error("creating gemini client", "error", err)
		os.Exit(1)
	}

	// Message pipeline and realtime gateway
	pipe := pipeline.New(chatSvc, memoryRepo, gemini, gemini, publisher, cfg.Pipeline, slog.Default())
	gw := gateway.New(authSvc, userSvc, pipe, cfg.Pipeline.MaxInFlight, cfg.CORS.AllowedOrigins, slog.Default())

	// Audit trail consumer
	if eventBus != nil {
		consumer := audit.NewConsumer(
			auditRepo,
			events.NewConsumerManager(eventBus.JetStream()),
		)
		consumerCtx, stopConsumer := context.WithCancel(ctx)
		defer stopConsumer()
		go func() {
			if err := consumer.Start(consumerCtx); err != nil {
				slog.Error("audit consumer stopped", "error", err)
			}
		}()
	}

	// Rate limiting for auth endpoints
	authLimiter := middleware.NewRateLimiter(redisClient, "ratelimit:auth:", 10, 60)

	// Router
	router := api.NewRouter(pool, api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		AuthRateLimiter:    authLimiter.Middleware,
		EventBusHealthy:    busHealth,
	}, api.HandlerSet{
		Register: authHandler.Register,
		Login:    authHandler.Login,
		Refresh:  authHandler.Refresh,
		Logout:   authHandler.Logout,

		CreateChat:    chatHandler.Create,
		ListChats:     chatHandler.List,
		ListChatTurns: chatHandler.Messages,

		ListActivity: auditHandler.List,

		Connect: gw.Connect,

		AuthMiddleware: auth.Middleware(authSvc),
	})

	// Start server; on shutdown, close the gateway first so no new
	// messages arrive, then let in-flight tail work drain.
	srv := server.New(cfg.Server, router)
	srv.OnShutdown(gw.Close)
	srv.OnShutdown(pipe.Drain)

	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
