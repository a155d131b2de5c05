// Package ledger calls the credit ledger's SQL functions. Each call is one
// atomic statement; balances are never read and written in separate steps.
package ledger

import "context"

type Source string

const (
	SourcePurchase     Source = "purchase"
	SourceSubscription Source = "subscription"
)

type CheckResult struct {
	HasEnough      bool `gorm:"column:has_enough"`
	CurrentBalance int  `gorm:"column:current_balance"`
}

type ConsumeResult struct {
	Success          bool `gorm:"column:success"`
	RemainingBalance int  `gorm:"column:remaining_balance"`
}

// Store is the credit ledger. Trial methods are keyed by device fingerprint.
type Store interface {
	CheckUserCredits(ctx context.Context, userID string, required int) (CheckResult, error)
	ConsumeUserCredits(ctx context.Context, userID string, amount int, description string) (ConsumeResult, error)
	AddCredits(ctx context.Context, userID string, amount int, source Source, description string) (bool, error)
	RefundUserCredits(ctx context.Context, userID string, amount int, reason string) (bool, error)

	CheckTrialCredits(ctx context.Context, fingerprint string, required int) (CheckResult, error)
	ConsumeTrialCredits(ctx context.Context, fingerprint string, amount int, description string) (ConsumeResult, error)
	RefundTrialCredits(ctx context.Context, fingerprint string, amount int, reason string) (bool, error)
}
