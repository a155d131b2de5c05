package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

const HeaderSignature = "X-Signature"

// WebhookProcessor applies a verified event.
type WebhookProcessor interface {
	Process(ctx context.Context, event *services.WebhookEvent, requestID string) error
}

type WebhookHandler struct {
	processor WebhookProcessor
	secret    string
}

func NewWebhookHandler(processor WebhookProcessor, secret string) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		secret:    secret,
	}
}

// HandleLemonSqueezy verifies, decodes and applies one delivery. Nothing is
// read from or written to the database before the signature checks out.
func (h *WebhookHandler) HandleLemonSqueezy(c *fiber.Ctx) error {
	reqID := requestID(c)

	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Set(fiber.HeaderAccessControlAllowMethods, "POST, OPTIONS")
	c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type, X-Signature")

	switch c.Method() {
	case fiber.MethodOptions:
		return c.SendStatus(fiber.StatusOK)
	case fiber.MethodPost:
	default:
		return c.Status(fiber.StatusMethodNotAllowed).JSON(dto.WebhookErrorResponse{Error: "Method not allowed"})
	}

	// c.Body() is only valid until the handler returns.
	body := append([]byte(nil), c.Body()...)

	if !services.VerifySignature(body, c.Get(HeaderSignature), h.secret) {
		slog.Warn("webhook signature verification failed", "request_id", reqID, "ip", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(dto.WebhookErrorResponse{Error: "Invalid signature"})
	}

	event, err := services.ParseWebhookEvent(body)
	if err != nil {
		slog.Warn("invalid webhook payload", "request_id", reqID, "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.WebhookErrorResponse{Error: "Invalid payload structure"})
	}

	err = h.processor.Process(requestContext(c), event, reqID)
	switch {
	case err == nil:
		slog.Info("webhook processed", "request_id", reqID, "event_name", event.Name, "data_id", event.DataID)
		return c.JSON(dto.WebhookResponse{
			Success:   true,
			Message:   "Webhook processed successfully",
			RequestID: reqID,
		})
	case errors.Is(err, services.ErrDuplicateWebhook):
		return c.Status(fiber.StatusConflict).JSON(dto.WebhookErrorResponse{Error: "Duplicate webhook", RequestID: reqID})
	default:
		slog.Error("webhook processing failed",
			"request_id", reqID, "event_name", event.Name, "data_id", event.DataID, "user_id", event.UserID(), "error", err)
		captureError(c, err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.WebhookErrorResponse{
			Error:     "Internal server error",
			RequestID: reqID,
		})
	}
}
