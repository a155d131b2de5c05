package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageLog records one metered analysis attempt.
type UsageLog struct {
	ID                uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID            *string   `gorm:"size:64;index" json:"user_id,omitempty"`
	DeviceFingerprint *string   `gorm:"size:255;index" json:"device_fingerprint,omitempty"`
	AnalysisType      string    `gorm:"size:50;not null" json:"analysis_type"`
	FileSize          int64     `json:"file_size"`
	CreditsConsumed   int       `json:"credits_consumed"`
	ProcessingTimeMs  int64     `json:"processing_time_ms"`
	Success           bool      `json:"success"`
	ErrorMessage      string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
