package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
	SubscriptionPastDue   = "past_due"
)

// Subscription is the local mirror of a provider subscription. PlanCredits is
// frozen at creation and is what every renewal grants.
type Subscription struct {
	ID                     uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID                 string     `gorm:"size:64;not null;index" json:"user_id"`
	ProviderSubscriptionID string     `gorm:"size:64;not null;uniqueIndex" json:"provider_subscription_id"`
	ProviderOrderID        string     `gorm:"size:64" json:"provider_order_id"`
	VariantID              string     `gorm:"size:64" json:"variant_id"`
	Status                 string     `gorm:"size:20;not null;default:'active'" json:"status"`
	PlanName               string     `gorm:"size:100" json:"plan_name"`
	PlanCredits            int        `gorm:"not null;default:0" json:"plan_credits"`
	CurrentPeriodStart     *time.Time `json:"current_period_start"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd      bool       `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}
