package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ProcessedWebhook struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	WebhookID   string         `gorm:"size:255;not null;uniqueIndex" json:"webhook_id"`
	EventName   string         `gorm:"size:64;not null" json:"event_name"`
	DataID      string         `gorm:"size:64;not null" json:"data_id"`
	RequestID   string         `gorm:"size:64" json:"request_id"`
	RawPayload  datatypes.JSON `gorm:"type:jsonb" json:"-"`
	ProcessedAt time.Time      `gorm:"not null" json:"processed_at"`
}
