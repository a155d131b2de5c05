package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditTransaction is the audit trail written by the ledger functions.
// The application only reads it.
type CreditTransaction struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID            *string   `gorm:"size:64" json:"user_id,omitempty"`
	DeviceFingerprint *string   `gorm:"size:255" json:"device_fingerprint,omitempty"`
	Amount            int       `json:"amount"`
	Source            string    `gorm:"size:20" json:"source"`
	Description       string    `json:"description"`
	BalanceAfter      int       `json:"balance_after"`
	CreatedAt         time.Time `json:"created_at"`
}
