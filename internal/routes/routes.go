package routes

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	limiterStorage fiber.Storage,
	healthHandler *handlers.HealthHandler,
	webhookHandler *handlers.WebhookHandler,
	analysisHandler *handlers.AnalysisHandler,
	creditsHandler *handlers.CreditsHandler,
) {
	api := app.Group("/api")

	// Health (no limiter, polled by the load balancer)
	api.Get("/health", healthHandler.Check)

	// Webhooks: signature-authenticated, every method answered by the handler
	app.All(middleware.LemonSqueezyWebhookPath, webhookHandler.HandleLemonSqueezy)

	// General API rate limiter: 60 req/min per IP
	general := limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           limiterStorage,
		KeyGenerator:      func(c *fiber.Ctx) string { return "api:ip:" + c.IP() },
	})

	// Credit endpoints: optional bearer token, else device fingerprint
	identity := middleware.OptionalJWT(cfg)

	api.Post("/analyze", general, identity, middleware.AnalyzeRateLimit(cfg, limiterStorage), analysisHandler.Analyze)
	api.Get("/credits", general, identity, creditsHandler.Balance)
	api.Get("/credits/history", general, identity, creditsHandler.History)
}
