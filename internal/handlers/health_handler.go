package handlers

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/plans"
	"github.com/gofiber/fiber/v2"
)

type HealthHandler struct {
	registry *plans.Registry
	ping     func() error
}

func NewHealthHandler(registry *plans.Registry, ping func() error) *HealthHandler {
	return &HealthHandler{registry: registry, ping: ping}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	dbStatus := "ok"
	status := "ok"
	if err := h.ping(); err != nil {
		dbStatus = "unhealthy: " + err.Error()
		status = "degraded"
	}

	return c.JSON(dto.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		DB:        dbStatus,
		PlanCount: len(h.registry.All()),
	})
}
