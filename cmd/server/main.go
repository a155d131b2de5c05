package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/analysis"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/cache"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/ledger"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/plans"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/routes"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	cfg := config.Load()

	// Structured logging (JSON to stdout)
	logging.Setup(cfg.AppEnv)

	if missing := cfg.Validate(); len(missing) > 0 {
		slog.Error("required environment variables are missing", "missing", strings.Join(missing, ", "))
		os.Exit(1)
	}

	// Plan registry: file entries first, env-configured standard plans fill the gaps
	registry, err := plans.LoadFromFile(cfg.PlansConfigPath)
	if err != nil {
		slog.Error("failed to load plan registry", "path", cfg.PlansConfigPath, "error", err)
		os.Exit(1)
	}
	registry.RegisterDefaults(plans.Defaults(cfg.BasicVariantID, cfg.ProVariantID, cfg.PremiumVariantID))
	if cfg.SubscriptionVariantIDs != nil {
		registry.SetSubscriptionVariants(cfg.SubscriptionVariantIDs)
	}
	slog.Info("plan registry loaded", "plans", len(registry.All()))

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}

	if cfg.AutoMigrate {
		if err := database.MigrateUp(database.DB); err != nil {
			slog.Error("migration failed", "error", err)
			os.Exit(1)
		}
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(database.DB)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		logging.NewStdoutHandler(cfg.AppEnv),
		pgLogHandler,
	)))

	// Log cleanup (30-day retention)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	logging.StartCleanup(ctx, database.DB)

	// Redis is optional: without it the webhook lease is skipped and rate
	// limits are per instance.
	redisClient, err := cache.NewClient(cfg)
	if err != nil {
		slog.Error("redis unavailable, continuing without it", "error", err)
		redisClient = nil
	}
	var locker cache.Locker = cache.NopLocker{}
	if redisClient != nil {
		locker = cache.NewRedisLocker(redisClient, cfg.WebhookLeaseTTL)
	}
	var limiterStorage fiber.Storage
	if redisClient != nil {
		limiterStorage = middleware.NewLimiterStorage(cfg)
	}

	// Services
	repo := services.NewRepository(database.DB)
	creditStore := ledger.NewPGStore(database.DB)
	guard := services.NewIdempotencyGuard(repo, locker)
	webhookService := services.NewWebhookService(repo, guard, registry, cfg.SubscriptionRetryDelay)
	creditService := services.NewCreditService(creditStore, repo)
	analyzer := analysis.NewHTTPAnalyzer(cfg.AIAPIURL, cfg.AIAPIKey, cfg.AITimeout)
	if cfg.AIAPIURL == "" {
		slog.Warn("AI_API_URL not set, analysis requests will fail and be refunded")
	}

	// Handlers
	healthHandler := handlers.NewHealthHandler(registry, database.Ping)
	webhookHandler := handlers.NewWebhookHandler(webhookService, cfg.WebhookSecret)
	analysisHandler := handlers.NewAnalysisHandler(creditService, analyzer, cfg.MaxFileSize())
	creditsHandler := handlers.NewCreditsHandler(creditService)

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app; the body limit leaves room for multipart overhead
	app := fiber.New(fiber.Config{
		BodyLimit:    int(cfg.MaxFileSize()) + 1024*1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${locals:requestid}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, limiterStorage, healthHandler, webhookHandler, analysisHandler, creditsHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.AppEnv)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	stop()
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}
	if err := database.Close(); err != nil {
		slog.Error("database close error", "error", err)
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "request_id", c.Locals("requestid"), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
