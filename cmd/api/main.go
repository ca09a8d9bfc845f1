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
	"github.com/go-chi/cors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	httpAdapter "github.com/soilcycle/compost-backend/internal/adapters/primary/http"
	mw "github.com/soilcycle/compost-backend/internal/adapters/primary/http/middleware"
	"github.com/soilcycle/compost-backend/internal/adapters/primary/websocket"
	"github.com/soilcycle/compost-backend/internal/adapters/secondary/email"
	"github.com/soilcycle/compost-backend/internal/adapters/secondary/postgres"
	"github.com/soilcycle/compost-backend/internal/auth"
	"github.com/soilcycle/compost-backend/internal/config"
	"github.com/soilcycle/compost-backend/internal/core/services"
	"github.com/soilcycle/compost-backend/internal/infrastructure/logging"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Structured Logger
	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})

	logger.Info("starting service",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	// 3. Initialize Database Pool
	ctx := context.Background()
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.Database.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	logger.Info("database connection established")

	if cfg.Database.AutoMigrate {
		if err := runMigrations(cfg.Database.MigrationsPath, cfg.Database.URL); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied", "path", cfg.Database.MigrationsPath)
	}

	// 4. Initialize Security & Real-time Components
	tokenManager := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL)
	hub := websocket.NewHub(cfg.WebSocket.SendTimeout, logger)
	go hub.Run()

	dispatcher := services.NewDispatcher(hub, hub, logger)

	// The feed gets its own connection; LISTEN binds to a session, so it
	// cannot share the pool.
	feed := postgres.NewChangeFeedListener(cfg.Database.URL, postgres.ChangeFeedConfig{
		Channel:             cfg.Relay.Channel,
		HeartbeatInterval:   cfg.Relay.HeartbeatInterval,
		MaxMissedHeartbeats: cfg.Relay.MaxMissedHeartbeats,
		InitialBackoff:      cfg.Relay.InitialBackoff,
		MaxBackoff:          cfg.Relay.MaxBackoff,
	}, hub, logger)

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	go func() {
		if err := feed.Run(relayCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("change feed exited", "error", err)
		}
	}()
	go dispatcher.Run(relayCtx, feed.Events())

	// 5. Initialize Rate Limiters
	var generalRateLimiter, authRateLimiter *mw.RateLimiter
	if cfg.RateLimit.Enabled {
		generalRateLimiter = mw.NewRateLimiter(mw.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
			CleanupInterval:   time.Minute,
			TTL:               3 * time.Minute,
		})

		authRateLimiter = mw.NewRateLimiter(mw.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.AuthRPS,
			BurstSize:         cfg.RateLimit.AuthBurst,
			CleanupInterval:   time.Minute,
			TTL:               5 * time.Minute,
		})
	}
	ingestLimiter := mw.NewRateLimitByKey(cfg.RateLimit.IngestRPS, cfg.RateLimit.IngestBurst)

	// 6. Dependency Injection (Wiring the Hexagon)

	// Error Handler
	errorHandler := httpAdapter.NewErrorHandler(logger)

	// Repositories (Secondary Adapters)
	userRepo := postgres.NewUserRepository(pool)
	machineRepo := postgres.NewMachineRepository(pool)
	notificationRepo := postgres.NewNotificationRepository(pool)
	ticketRepo := postgres.NewTicketRepository(pool)
	messageRepo := postgres.NewMessageRepository(pool)

	// Notifier (Secondary Adapter)
	notifier := email.NewMockSMTPNotifier(userRepo, logger)

	// Services (Core)
	authService := services.NewAuthService(userRepo)
	machineService := services.NewMachineService(machineRepo)
	notificationService := services.NewNotificationService(notificationRepo, machineRepo)
	ticketService := services.NewTicketService(ticketRepo, notifier)
	messageService := services.NewMessageService(messageRepo, ticketService, notifier)

	// Handlers (Primary Adapters)
	authHandler := httpAdapter.NewAuthHandler(authService, tokenManager, errorHandler, logger)
	notificationHandler := httpAdapter.NewNotificationHandler(notificationService, ingestLimiter, errorHandler, logger)
	machineHandler := httpAdapter.NewMachineHandler(machineService, notificationHandler, errorHandler, logger)
	messageHandler := httpAdapter.NewMessageHandler(messageService, errorHandler, logger)
	ticketHandler := httpAdapter.NewTicketHandler(ticketService, messageHandler, errorHandler, logger)
	wsHandler := httpAdapter.NewWebSocketHandler(hub, dispatcher, tokenManager, cfg, logger)
	healthHandler := httpAdapter.NewHealthHandler(pool, hub, cfg.App.Version)

	// 7. Setup Router
	r := chi.NewRouter()

	// Global middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))

	if generalRateLimiter != nil {
		r.Use(generalRateLimiter.Middleware)
	}

	// Health check endpoints (outside /api/v1 for standard probe paths)
	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/health/live", healthHandler.HandleLiveness)
	r.Get("/health/ready", healthHandler.HandleReadiness)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public auth routes with stricter rate limiting
		r.Group(func(r chi.Router) {
			if authRateLimiter != nil {
				r.Use(authRateLimiter.Middleware)
			}
			r.Route("/auth", authHandler.RegisterRoutes)
		})

		// WebSocket route (Authentication is handled inside the handler)
		r.Get("/ws", wsHandler.ServeHTTP)

		// Protected REST routes
		r.Group(func(r chi.Router) {
			r.Use(mw.JWTMiddleware(tokenManager))
			r.Route("/machines", machineHandler.RegisterRoutes)
			r.Route("/tickets", ticketHandler.RegisterRoutes)
		})
	})

	// 8. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	// Stop the relay after the HTTP surface is down so in-flight writes
	// still get their change events delivered.
	stopRelay()

	logger.Info("server shutdown complete")
}

func runMigrations(path, databaseURL string) error {
	mig, err := migrate.New("file://"+path, databaseURL)
	if err != nil {
		return err
	}
	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	srcErr, dbErr := mig.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
