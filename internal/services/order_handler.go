package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/ledger"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// handleOrderCreated grants the credits of a one-time purchase. Orders for
// subscription variants are skipped; those credits arrive with each invoice.
func (s *WebhookService) handleOrderCreated(ctx context.Context, event *WebhookEvent) error {
	attrs, ok := event.Attributes.(dto.OrderAttributes)
	if !ok {
		return fmt.Errorf("order_created: unexpected attributes %T", event.Attributes)
	}

	orderID := event.DataID
	userID := event.UserID()
	variantID := attrs.FirstOrderItem.VariantID.String()
	log := slog.With("event_name", event.Name, "order_id", orderID, "user_id", userID, "variant_id", variantID)

	if userID == "" {
		log.Error("order has no user_id in custom data, no credits granted")
		return nil
	}

	if s.plans.IsSubscriptionVariant(variantID) {
		log.Info("order is for a subscription variant, credits are granted per invoice")
		return nil
	}

	plan, found := s.plans.Get(variantID)
	if !found || plan.Credits <= 0 {
		log.Error("unknown variant, no credits granted")
		return nil
	}

	existing, err := s.repo.FindCompletedOrderPayment(ctx, orderID, userID)
	if err != nil {
		return fmt.Errorf("failed to check existing payment: %w", err)
	}
	if existing != nil {
		log.Warn("order already processed, skipping", "payment_id", existing.ID, "credits", existing.CreditsPurchased)
		return nil
	}

	variantName := attrs.FirstOrderItem.VariantName
	if variantName == "" {
		variantName = plan.PlanName
	}

	record := &models.PaymentRecord{
		ID:                uuid.New(),
		UserID:            userID,
		ProviderOrderID:   orderID,
		AmountUSD:         attrs.TotalUSD.Decimal,
		CreditsPurchased:  plan.Credits,
		Status:            models.PaymentCompleted,
		PaymentMethod:     attrs.FirstOrderItem.ProductName + " - " + attrs.FirstOrderItem.VariantName,
		RawWebhookPayload: datatypes.JSON(event.Raw),
		ProcessedAt:       time.Now().UTC(),
	}

	err = s.repo.Transaction(ctx, func(repo BillingRepository, credits ledger.Store) error {
		if err := repo.CreatePaymentRecord(ctx, record); err != nil {
			return err
		}
		return grantCredits(ctx, credits, userID, plan.Credits, ledger.SourcePurchase, "Purchase: "+variantName)
	})
	if errors.Is(err, ErrDuplicatePayment) {
		log.Warn("order recorded concurrently by another instance, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("order %s: %w", orderID, err)
	}

	log.Info("order processed", "credits", plan.Credits, "amount_usd", record.AmountUSD.StringFixed(2))
	return nil
}

func grantCredits(ctx context.Context, credits ledger.Store, userID string, amount int, source ledger.Source, description string) error {
	ok, err := credits.AddCredits(ctx, userID, amount, source, description)
	if err != nil {
		return fmt.Errorf("failed to add credits: %w", err)
	}
	if !ok {
		return errors.New("failed to add credits: ledger refused the grant")
	}
	return nil
}
