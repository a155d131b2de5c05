package handlers

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

type CreditsHandler struct {
	credits *services.CreditService
}

func NewCreditsHandler(credits *services.CreditService) *CreditsHandler {
	return &CreditsHandler{credits: credits}
}

func (h *CreditsHandler) Balance(c *fiber.Ctx) error {
	id := middleware.GetIdentity(c)
	balance, err := h.credits.Balance(requestContext(c), id)
	if err != nil {
		return writeCreditError(c, err)
	}
	return c.JSON(dto.BalanceResponse{Balance: balance, IsTrial: id.IsTrial()})
}

func (h *CreditsHandler) History(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	txs, err := h.credits.History(requestContext(c), middleware.GetIdentity(c), limit)
	if err != nil {
		return writeCreditError(c, err)
	}

	resp := make([]dto.TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, dto.TransactionResponse{
			Amount:       tx.Amount,
			Source:       tx.Source,
			Description:  tx.Description,
			BalanceAfter: tx.BalanceAfter,
			CreatedAt:    tx.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{"transactions": resp})
}
