package middleware

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/dto"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"
)

// NewLimiterStorage shares rate limit windows across instances through
// Redis. Without Redis the limiter keeps its windows in memory.
func NewLimiterStorage(cfg *config.Config) fiber.Storage {
	if !cfg.RedisEnabled() {
		return nil
	}
	return redisstorage.New(redisstorage.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		Database: cfg.RedisDB,
		Reset:    false,
	})
}

// AnalyzeRateLimit limits metered calls per paying identity, falling back to
// the client IP.
func AnalyzeRateLimit(cfg *config.Config, storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:               cfg.RateLimitPerMinute,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           storage,
		KeyGenerator:      rateLimitKey,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.ErrorResponse{
				Error:   true,
				Code:    "RATE_LIMITED",
				Message: "Too many requests, please try again later",
			})
		},
	})
}

func rateLimitKey(c *fiber.Ctx) string {
	id := GetIdentity(c)
	switch {
	case id.UserID != "":
		return "analyze:user:" + id.UserID
	case id.DeviceFingerprint != "":
		return "analyze:device:" + id.DeviceFingerprint
	default:
		return "analyze:ip:" + c.IP()
	}
}
