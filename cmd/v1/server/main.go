package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/bitwar/backend/go/internal/v1/auth"
	"github.com/bitwar/backend/go/internal/v1/battle"
	"github.com/bitwar/backend/go/internal/v1/bus"
	"github.com/bitwar/backend/go/internal/v1/config"
	"github.com/bitwar/backend/go/internal/v1/health"
	"github.com/bitwar/backend/go/internal/v1/httpapi"
	"github.com/bitwar/backend/go/internal/v1/judge"
	"github.com/bitwar/backend/go/internal/v1/logging"
	"github.com/bitwar/backend/go/internal/v1/middleware"
	"github.com/bitwar/backend/go/internal/v1/ratelimit"
	"github.com/bitwar/backend/go/internal/v1/reaper"
	"github.com/bitwar/backend/go/internal/v1/rooms"
	"github.com/bitwar/backend/go/internal/v1/store"
	"github.com/bitwar/backend/go/internal/v1/tracing"
	"github.com/bitwar/backend/go/internal/v1/transport"
	"github.com/bitwar/backend/go/internal/v1/types"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode, cfg.LogLevel); err != nil {
		slog.Error("Failed to initialize structured logging", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Token Validator ---
	// HS256 with the shared secret is the default. Auth0 takes over when its
	// credentials are present; SKIP_AUTH swaps in the mock for local work.
	var validator types.TokenValidator
	switch {
	case cfg.SkipAuth:
		slog.Warn("⚠️ Authentication DISABLED for development - DO NOT USE IN PRODUCTION")
		validator = &auth.MockValidator{}
	case cfg.Auth0Domain != "" && cfg.Auth0Audience != "":
		v, err := auth.NewValidator(context.Background(), cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			slog.Error("Failed to create auth validator", "error", err)
			os.Exit(1)
		}
		validator = v
		slog.Info("✅ Auth0 validator initialized", "domain", cfg.Auth0Domain, "audience", cfg.Auth0Audience)
	default:
		v, err := auth.NewHS256Validator(cfg.JWTSecret)
		if err != nil {
			slog.Error("Failed to create HS256 validator", "error", err)
			os.Exit(1)
		}
		validator = v
		slog.Info("✅ HS256 token validator initialized")
	}

	// --- Tracing (Optional) ---
	var tracerProvider *sdktrace.TracerProvider
	if collector := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); collector != "" {
		tp, err := tracing.InitTracer(context.Background(), "bitwar-backend", collector)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			tracerProvider = tp
			slog.Info("✅ OpenTelemetry tracing initialized", "collector", collector)
		}
	}

	// --- Postgres ---
	st, err := store.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}

	// --- Redis Bus Initialization (Optional) ---
	// Redis carries cross-pod pub/sub; without it every room lives on one pod.
	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running in single-instance mode", "error", err)
			busService = bus.NewLocalService()
		} else {
			slog.Info("✅ Redis pub/sub initialized for distributed messaging", "addr", cfg.RedisAddr)
		}
	} else {
		busService = bus.NewLocalService()
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	// --- Judge Client ---
	judgeClient := judge.NewClient(cfg.JudgeURL, cfg.JudgeTimeout)

	// --- Background Reaper ---
	janitor := reaper.New(st, cfg)
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		janitor.Run(reaperCtx)
	}()

	// --- Services ---
	roomService := rooms.NewService(st, busService, janitor)
	battleService := battle.NewService(st, busService, judgeClient, janitor)
	timekeeper := battle.NewTimekeeper(battleService, cfg.TimeUpdateTick)

	// --- Rate Limiting ---
	// Shares the bus's Redis client so limits hold across pods; a nil client
	// (single-instance mode) degrades to per-process limits.
	rateLimiter, err := ratelimit.NewRateLimiter(cfg, busService.Client())
	if err != nil {
		slog.Error("Failed to configure rate limiter", "error", err)
		os.Exit(1)
	}

	// --- WebSocket Hub ---
	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	hub := transport.NewHub(validator, busService, roomService, timekeeper, rateLimiter, allowedOrigins)

	// --- Set up Server ---
	router := gin.Default()

	// Cors
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	// Error handling and observability
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("bitwar-backend"))

	// REST API
	httpapi.Register(router, httpapi.NewHandler(roomService, battleService), validator, rateLimiter)

	// WebSocket routes
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/rooms/", hub.ServeGlobal)
		wsGroup.GET("/room/:roomId/", hub.ServeLobby)
		wsGroup.GET("/battle/:roomId/", hub.ServeBattle)
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(st, busService, judgeClient)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// The context is used to inform the server it has 30 seconds to finish
	// the requests it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close all sockets and stop accepting upgrades before the listener goes.
	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during Hub shutdown:", "error", err)
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Battle clocks run off the hub's context; wait for them to drain.
	timekeeper.Wait()

	// Stop the reaper sweep and its pending purge timers.
	stopReaper()
	<-reaperDone

	// Close Redis connection if it was initialized
	if err := busService.Close(); err != nil {
		slog.Error("Failed to close Redis connection:", "error", err)
	}

	st.Close()

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error("Failed to shut down tracer provider:", "error", err)
		}
	}

	slog.Info("Server exiting")
}
