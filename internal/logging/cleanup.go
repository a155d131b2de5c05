package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/models"
	"gorm.io/gorm"
)

const systemLogRetention = 30 * 24 * time.Hour

// StartCleanup runs a daily goroutine that deletes old system_logs until ctx
// is cancelled.
func StartCleanup(ctx context.Context, db *gorm.DB) {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := DeleteExpiredLogs(ctx, db, time.Now()); err != nil {
					slog.Error("log cleanup failed", "action", "log_cleanup", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func DeleteExpiredLogs(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Where("timestamp < ?", now.Add(-systemLogRetention)).Delete(&models.SystemLog{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		slog.Info("log cleanup completed", "deleted", result.RowsAffected)
	}
	return result.RowsAffected, nil
}
