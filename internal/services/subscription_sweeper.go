package services

import (
	"context"
	"log/slog"
	"time"
)

type SubscriptionExpirer interface {
	ExpireLapsedSubscriptions(ctx context.Context, now time.Time) (int64, error)
}

// SubscriptionSweeper moves cancelled subscriptions whose period has ended to
// expired, for deliveries of subscription_expired that never arrived.
type SubscriptionSweeper struct {
	repo SubscriptionExpirer
	now  func() time.Time
}

func NewSubscriptionSweeper(repo SubscriptionExpirer) *SubscriptionSweeper {
	return &SubscriptionSweeper{repo: repo, now: time.Now}
}

func (s *SubscriptionSweeper) Run(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireLapsedSubscriptions(ctx, s.now().UTC())
	if err != nil {
		slog.Error("subscription expiry sweep failed", "error", err)
		return 0, err
	}
	if n > 0 {
		slog.Info("expired lapsed subscriptions", "count", n)
	}
	return n, nil
}
