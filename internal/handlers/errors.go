package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/services"
	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
)

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}

// requestContext carries the request's Sentry hub so services can report on
// it.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if hub := sentryfiber.GetHubFromContext(c); hub != nil {
		ctx = sentry.SetHubOnContext(ctx, hub)
	}
	return ctx
}

func captureError(c *fiber.Ctx, err error) {
	if hub := sentryfiber.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

func badRequest(c *fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: true, Code: code, Message: message,
	})
}

// writeCreditError is the single place credit errors become HTTP responses.
func writeCreditError(c *fiber.Ctx, err error) error {
	var (
		validationErr  *services.ValidationError
		calcErr        *services.CreditCalculationError
		insufficient   *services.InsufficientCreditsError
		consumptionErr *services.CreditConsumptionError
		analysisErr    *services.AnalysisError
	)

	switch {
	case errors.As(err, &validationErr):
		return badRequest(c, "INVALID_REQUEST", validationErr.Error())
	case errors.As(err, &calcErr):
		return badRequest(c, "CREDIT_CALCULATION_ERROR", calcErr.Error())
	case errors.As(err, &insufficient):
		return c.Status(fiber.StatusPaymentRequired).JSON(dto.InsufficientCreditsResponse{
			Error:     true,
			Code:      "INSUFFICIENT_CREDITS",
			Message:   "Not enough credits for this request",
			Required:  insufficient.Required,
			Available: insufficient.Available,
			IsTrial:   insufficient.IsTrial,
		})
	case errors.As(err, &consumptionErr):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error: true, Code: "CREDIT_CONSUMPTION_FAILED", Message: "Credits could not be consumed, please retry",
		})
	case errors.As(err, &analysisErr):
		// The refund outcome is logged only; the caller sees the analysis failure.
		slog.Error("analysis failed after credit consumption",
			"request_id", requestID(c), "refunded", analysisErr.Refunded, "error", analysisErr.Err)
		captureError(c, analysisErr.Err)
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: true, Code: "ANALYSIS_FAILED", Message: "Audio analysis failed: " + analysisErr.Err.Error(),
		})
	default:
		slog.Error("credit request failed", "request_id", requestID(c), "path", c.Path(), "error", err)
		captureError(c, err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Code: "INTERNAL_ERROR", Message: "Internal server error",
		})
	}
}
