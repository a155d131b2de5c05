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

// handleSubscriptionCreated stores the subscription and freezes its plan.
// No credits are granted here.
func (s *WebhookService) handleSubscriptionCreated(ctx context.Context, event *WebhookEvent) error {
	attrs, ok := event.Attributes.(dto.SubscriptionAttributes)
	if !ok {
		return fmt.Errorf("subscription_created: unexpected attributes %T", event.Attributes)
	}

	subscriptionID := event.DataID
	userID := event.UserID()
	variantID := attrs.VariantID.String()
	log := slog.With("event_name", event.Name, "subscription_id", subscriptionID, "user_id", userID, "variant_id", variantID)

	if userID == "" {
		log.Error("subscription has no user_id in custom data")
		return nil
	}

	existing, err := s.repo.FindUserSubscription(ctx, subscriptionID, userID)
	if err != nil {
		return fmt.Errorf("failed to check existing subscription: %w", err)
	}
	if existing != nil {
		log.Warn("subscription already recorded, skipping")
		return nil
	}

	plan, found := s.plans.Get(variantID)
	if !found {
		plan.PlanName = "Unknown Plan"
		log.Error("unknown subscription variant, renewals will grant no credits")
	}

	sub := &models.Subscription{
		ID:                     uuid.New(),
		UserID:                 userID,
		ProviderSubscriptionID: subscriptionID,
		ProviderOrderID:        attrs.OrderID.String(),
		VariantID:              variantID,
		Status:                 models.SubscriptionActive,
		PlanName:               plan.PlanName,
		PlanCredits:            plan.Credits,
		CurrentPeriodStart:     parseProviderTime(attrs.CreatedAt),
		CurrentPeriodEnd:       parseProviderTime(attrs.RenewsAt),
		CancelAtPeriodEnd:      attrs.Cancelled,
	}

	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		if errors.Is(err, ErrDuplicateSubscription) {
			log.Warn("subscription recorded concurrently by another instance, skipping")
			return nil
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	log.Info("subscription created", "plan_name", sub.PlanName, "plan_credits", sub.PlanCredits)
	return nil
}

// handleSubscriptionUpdated overwrites status and period. Renewal credits are
// not granted here; they come with subscription_payment_success.
func (s *WebhookService) handleSubscriptionUpdated(ctx context.Context, event *WebhookEvent) error {
	attrs, ok := event.Attributes.(dto.SubscriptionAttributes)
	if !ok {
		return fmt.Errorf("subscription_updated: unexpected attributes %T", event.Attributes)
	}

	updates := map[string]interface{}{
		"status":               MapSubscriptionStatus(attrs.Status),
		"cancel_at_period_end": attrs.Cancelled,
	}
	if t := parseProviderTime(attrs.CreatedAt); t != nil {
		updates["current_period_start"] = *t
	}
	if t := parseProviderTime(attrs.RenewsAt); t != nil {
		updates["current_period_end"] = *t
	}
	return s.updateSubscription(ctx, event, updates)
}

func (s *WebhookService) handleSubscriptionCancelled(ctx context.Context, event *WebhookEvent) error {
	return s.updateSubscription(ctx, event, map[string]interface{}{
		"status":               models.SubscriptionCancelled,
		"cancel_at_period_end": true,
	})
}

func (s *WebhookService) handleSubscriptionResumed(ctx context.Context, event *WebhookEvent) error {
	return s.updateSubscription(ctx, event, map[string]interface{}{
		"status":               models.SubscriptionActive,
		"cancel_at_period_end": false,
	})
}

func (s *WebhookService) handleSubscriptionExpired(ctx context.Context, event *WebhookEvent) error {
	return s.updateSubscription(ctx, event, map[string]interface{}{
		"status": models.SubscriptionExpired,
	})
}

func (s *WebhookService) handleSubscriptionPaused(ctx context.Context, event *WebhookEvent) error {
	return s.updateSubscription(ctx, event, map[string]interface{}{
		"status": models.SubscriptionPastDue,
	})
}

func (s *WebhookService) handleSubscriptionUnpaused(ctx context.Context, event *WebhookEvent) error {
	return s.updateSubscription(ctx, event, map[string]interface{}{
		"status": models.SubscriptionActive,
	})
}

func (s *WebhookService) updateSubscription(ctx context.Context, event *WebhookEvent, updates map[string]interface{}) error {
	subscriptionID := event.DataID
	n, err := s.repo.UpdateSubscription(ctx, subscriptionID, updates)
	if err != nil {
		return fmt.Errorf("%s: failed to update subscription %s: %w", event.Name, subscriptionID, err)
	}
	if n == 0 {
		slog.Warn("no local subscription to update", "event_name", event.Name, "subscription_id", subscriptionID)
		return nil
	}
	slog.Info("subscription updated", "event_name", event.Name, "subscription_id", subscriptionID, "status", updates["status"])
	return nil
}

// handleSubscriptionPaymentSuccess grants one period of credits per invoice,
// using the plan credits frozen on the subscription.
func (s *WebhookService) handleSubscriptionPaymentSuccess(ctx context.Context, event *WebhookEvent) error {
	attrs, ok := event.Attributes.(dto.SubscriptionInvoiceAttributes)
	if !ok {
		return fmt.Errorf("subscription_payment_success: unexpected attributes %T", event.Attributes)
	}

	invoiceID := event.DataID
	subscriptionID := attrs.SubscriptionID.String()
	userID := event.UserID()
	log := slog.With("event_name", event.Name, "invoice_id", invoiceID, "subscription_id", subscriptionID, "user_id", userID)

	if userID == "" {
		log.Error("invoice has no user_id in custom data, no credits granted")
		return nil
	}
	if subscriptionID == "" {
		log.Error("invoice has no subscription_id, no credits granted")
		return nil
	}

	sub, err := s.findSubscriptionWithRetry(ctx, subscriptionID)
	if err != nil {
		return err
	}

	existing, err := s.repo.FindCompletedInvoicePayment(ctx, subscriptionID, invoiceID, userID)
	if err != nil {
		return fmt.Errorf("failed to check existing invoice payment: %w", err)
	}
	if existing != nil {
		log.Warn("invoice already processed, skipping", "payment_id", existing.ID)
		return nil
	}

	if sub.PlanCredits <= 0 {
		log.Error("subscription has no plan credits, no credits granted", "plan_name", sub.PlanName)
		return nil
	}

	record := &models.PaymentRecord{
		ID:                     uuid.New(),
		UserID:                 userID,
		ProviderOrderID:        sub.ProviderOrderID,
		ProviderSubscriptionID: &subscriptionID,
		ProviderInvoiceID:      &invoiceID,
		AmountUSD:              attrs.TotalUSD.Decimal,
		CreditsPurchased:       sub.PlanCredits,
		Status:                 models.PaymentCompleted,
		PaymentMethod:          "Subscription: " + sub.PlanName,
		RawWebhookPayload:      datatypes.JSON(event.Raw),
		ProcessedAt:            time.Now().UTC(),
	}

	err = s.repo.Transaction(ctx, func(repo BillingRepository, credits ledger.Store) error {
		if err := repo.CreatePaymentRecord(ctx, record); err != nil {
			return err
		}
		return grantCredits(ctx, credits, userID, sub.PlanCredits, ledger.SourceSubscription,
			"Subscription payment: "+sub.PlanName)
	})
	if errors.Is(err, ErrDuplicatePayment) {
		log.Warn("invoice recorded concurrently by another instance, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("invoice %s: %w", invoiceID, err)
	}

	log.Info("subscription payment processed", "credits", sub.PlanCredits, "billing_reason", attrs.BillingReason)
	return nil
}

// findSubscriptionWithRetry covers subscription_payment_success arriving
// before subscription_created has been stored.
func (s *WebhookService) findSubscriptionWithRetry(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	sub, err := s.repo.FindSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub != nil {
		return sub, nil
	}

	if s.retryDelay <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
	}

	slog.Warn("subscription not found yet, retrying once", "subscription_id", subscriptionID, "delay", s.retryDelay)
	timer := time.NewTimer(s.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	sub, err = s.repo.FindSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
	}
	return sub, nil
}

// MapSubscriptionStatus folds provider statuses into the four local ones.
func MapSubscriptionStatus(status string) string {
	switch status {
	case models.SubscriptionActive, models.SubscriptionCancelled, models.SubscriptionExpired:
		return status
	default:
		return models.SubscriptionPastDue
	}
}

func parseProviderTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		slog.Warn("unparseable provider timestamp", "value", s, "error", err)
		return nil
	}
	t = t.UTC()
	return &t
}
