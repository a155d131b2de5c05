package middleware

import (
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/services"
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
)

const HeaderDeviceFingerprint = "X-Device-Fingerprint"

// OptionalJWT verifies the bearer token when one is sent. Requests without
// an Authorization header pass through as anonymous. A bad token is only
// tolerated when the request also carries a valid device fingerprint, in
// which case it continues as a trial request.
func OptionalJWT(cfg *config.Config) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: []byte(cfg.JWTSecret)},
		Filter: func(c *fiber.Ctx) bool {
			return c.Get(fiber.HeaderAuthorization) == ""
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if services.ValidFingerprint(c.Get(HeaderDeviceFingerprint)) {
				slog.Warn("invalid bearer token, continuing as trial device", "path", c.Path(), "error", err)
				return c.Next()
			}
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error:   true,
				Code:    "UNAUTHORIZED",
				Message: "Unauthorized: invalid or expired token",
			})
		},
	})
}
