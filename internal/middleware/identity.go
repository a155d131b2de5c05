package middleware

import (
	"strings"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// GetUserID returns the sub claim of a verified token, or "".
func GetUserID(c *fiber.Ctx) string {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok || !token.Valid {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return strings.TrimSpace(sub)
}

// GetIdentity resolves who pays for the request. The user wins over the
// device; the result may still be empty and is validated by the service.
func GetIdentity(c *fiber.Ctx) services.Identity {
	if userID := GetUserID(c); userID != "" {
		return services.Identity{UserID: userID}
	}
	return services.Identity{DeviceFingerprint: strings.TrimSpace(c.Get(HeaderDeviceFingerprint))}
}
