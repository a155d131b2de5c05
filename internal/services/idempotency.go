package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/cache"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// IdempotencyGuard is the fast-path duplicate filter for webhook deliveries.
// It is advisory: the unique indexes behind each handler are what prevent a
// double grant.
type IdempotencyGuard struct {
	repo   IdempotencyRepository
	locker cache.Locker
}

func NewIdempotencyGuard(repo IdempotencyRepository, locker cache.Locker) *IdempotencyGuard {
	if locker == nil {
		locker = cache.NopLocker{}
	}
	return &IdempotencyGuard{repo: repo, locker: locker}
}

// IsAlreadyProcessed fails open: a lookup error lets the event through.
func (g *IdempotencyGuard) IsAlreadyProcessed(ctx context.Context, event *WebhookEvent) bool {
	webhookID := event.WebhookID()
	rec, err := g.repo.FindProcessedWebhook(ctx, webhookID)
	if err != nil {
		slog.Error("failed to check webhook processing log", "webhook_id", webhookID, "error", err)
		return false
	}
	if rec != nil {
		slog.Warn("duplicate webhook delivery", "webhook_id", webhookID, "event_name", event.Name, "first_processed_at", rec.ProcessedAt)
		return true
	}
	return false
}

// Acquire takes a short processing lease on the delivery. ErrDuplicateWebhook
// means another instance is handling the same delivery right now.
func (g *IdempotencyGuard) Acquire(ctx context.Context, event *WebhookEvent) (func(), error) {
	webhookID := event.WebhookID()
	release, err := g.locker.Obtain(ctx, "webhook:"+webhookID)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			slog.Warn("webhook already in flight on another instance", "webhook_id", webhookID)
			return nil, ErrDuplicateWebhook
		}
		slog.Error("webhook lease unavailable, continuing without it", "webhook_id", webhookID, "error", err)
		return func() {}, nil
	}
	return release, nil
}

// RecordProcessed is best effort and only called after the handler succeeded.
func (g *IdempotencyGuard) RecordProcessed(ctx context.Context, event *WebhookEvent, requestID string) {
	rec := &models.ProcessedWebhook{
		ID:          uuid.New(),
		WebhookID:   event.WebhookID(),
		EventName:   string(event.Name),
		DataID:      event.DataID,
		RequestID:   requestID,
		RawPayload:  datatypes.JSON(event.Raw),
		ProcessedAt: time.Now().UTC(),
	}

	created, err := g.repo.CreateProcessedWebhook(ctx, rec)
	if err != nil {
		slog.Error("failed to record processed webhook", "webhook_id", rec.WebhookID, "request_id", requestID, "error", err)
		return
	}
	if !created {
		slog.Warn("webhook recorded concurrently by another instance", "webhook_id", rec.WebhookID, "request_id", requestID)
	}
}
