package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const PaymentCompleted = "completed"

// PaymentRecord is append-only. Partial unique indexes in the schema allow a
// single completed row per order, and per subscription invoice.
type PaymentRecord struct {
	ID                     uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID                 string          `gorm:"size:64;not null;index" json:"user_id"`
	ProviderOrderID        string          `gorm:"size:64;not null" json:"provider_order_id"`
	ProviderSubscriptionID *string         `gorm:"size:64" json:"provider_subscription_id,omitempty"`
	ProviderInvoiceID      *string         `gorm:"size:64" json:"provider_invoice_id,omitempty"`
	AmountUSD              decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount_usd"`
	CreditsPurchased       int             `gorm:"not null" json:"credits_purchased"`
	Status                 string          `gorm:"size:20;not null" json:"status"`
	PaymentMethod          string          `gorm:"size:255" json:"payment_method"`
	RawWebhookPayload      datatypes.JSON  `gorm:"type:jsonb" json:"-"`
	ProcessedAt            time.Time       `gorm:"not null" json:"processed_at"`
	CreatedAt              time.Time       `json:"created_at"`
}
