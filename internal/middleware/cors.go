package middleware

import (
	"strings"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/config"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// LemonSqueezyWebhookPath answers its own preflight, so the shared CORS
// policy skips it.
const LemonSqueezyWebhookPath = "/api/webhooks/lemonsqueezy"

func CORS(cfg *config.Config) fiber.Handler {
	return cors.New(cors.Config{
		Next: func(c *fiber.Ctx) bool {
			return strings.EqualFold(strings.TrimSuffix(c.Path(), "/"), LemonSqueezyWebhookPath)
		},
		AllowOrigins:     cfg.CORSOrigins,
		AllowHeaders:     "Origin, Content-Type, Authorization, Accept, X-Signature, X-Device-Fingerprint, X-Request-ID",
		AllowMethods:     "GET, POST, OPTIONS",
		ExposeHeaders:    "X-Request-ID",
		AllowCredentials: false,
	})
}
