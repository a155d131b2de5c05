package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/plans"
)

var (
	ErrDuplicateWebhook     = errors.New("duplicate webhook")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

type WebhookService struct {
	repo       BillingRepository
	guard      *IdempotencyGuard
	plans      *plans.Registry
	retryDelay time.Duration
}

// NewWebhookService wires the router. retryDelay is how long a payment for a
// not-yet-visible subscription waits before its single retry; zero means fail
// immediately and let the provider redeliver.
func NewWebhookService(repo BillingRepository, guard *IdempotencyGuard, registry *plans.Registry, retryDelay time.Duration) *WebhookService {
	return &WebhookService{
		repo:       repo,
		guard:      guard,
		plans:      registry,
		retryDelay: retryDelay,
	}
}

// Process applies a verified event at most once. It returns
// ErrDuplicateWebhook for deliveries that were already handled.
func (s *WebhookService) Process(ctx context.Context, event *WebhookEvent, requestID string) error {
	release, err := s.guard.Acquire(ctx, event)
	if err != nil {
		return err
	}
	defer release()

	if s.guard.IsAlreadyProcessed(ctx, event) {
		return ErrDuplicateWebhook
	}

	slog.Info("processing webhook event",
		"request_id", requestID,
		"event_name", event.Name,
		"data_id", event.DataID,
		"user_id", event.UserID(),
		"test_mode", event.TestMode,
	)

	if err := s.Dispatch(ctx, event); err != nil {
		return err
	}

	s.guard.RecordProcessed(ctx, event, requestID)
	return nil
}

func (s *WebhookService) Dispatch(ctx context.Context, event *WebhookEvent) error {
	switch event.Name {
	case EventOrderCreated:
		return s.handleOrderCreated(ctx, event)
	case EventSubscriptionCreated:
		return s.handleSubscriptionCreated(ctx, event)
	case EventSubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, event)
	case EventSubscriptionCancelled:
		return s.handleSubscriptionCancelled(ctx, event)
	case EventSubscriptionResumed:
		return s.handleSubscriptionResumed(ctx, event)
	case EventSubscriptionExpired:
		return s.handleSubscriptionExpired(ctx, event)
	case EventSubscriptionPaused:
		return s.handleSubscriptionPaused(ctx, event)
	case EventSubscriptionUnpaused:
		return s.handleSubscriptionUnpaused(ctx, event)
	case EventSubscriptionPaymentSuccess:
		return s.handleSubscriptionPaymentSuccess(ctx, event)
	default:
		slog.Info("unhandled webhook event type", "event_name", event.Name, "data_id", event.DataID)
		return nil
	}
}
