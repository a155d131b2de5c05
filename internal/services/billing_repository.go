package services

import (
	"context"
	"errors"
	"time"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/ledger"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDuplicatePayment      = errors.New("payment already recorded")
	ErrDuplicateSubscription = errors.New("subscription already exists")
)

// IdempotencyRepository stores the processed-webhook log.
type IdempotencyRepository interface {
	FindProcessedWebhook(ctx context.Context, webhookID string) (*models.ProcessedWebhook, error)
	CreateProcessedWebhook(ctx context.Context, rec *models.ProcessedWebhook) (bool, error)
}

// BillingRepository provides the DB operations the webhook handlers need.
// Find methods return nil, nil when nothing matches.
type BillingRepository interface {
	IdempotencyRepository

	FindCompletedOrderPayment(ctx context.Context, orderID, userID string) (*models.PaymentRecord, error)
	FindCompletedInvoicePayment(ctx context.Context, subscriptionID, invoiceID, userID string) (*models.PaymentRecord, error)
	CreatePaymentRecord(ctx context.Context, rec *models.PaymentRecord) error

	FindSubscription(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error)
	FindUserSubscription(ctx context.Context, providerSubscriptionID, userID string) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscription(ctx context.Context, providerSubscriptionID string, updates map[string]interface{}) (int64, error)
	ExpireLapsedSubscriptions(ctx context.Context, now time.Time) (int64, error)

	// Transaction runs fn with a repository and ledger bound to one DB
	// transaction. Returning an error rolls both back.
	Transaction(ctx context.Context, fn func(repo BillingRepository, credits ledger.Store) error) error
}

// UsageRepository backs the metered endpoints.
type UsageRepository interface {
	CreateUsageLog(ctx context.Context, log *models.UsageLog) error
	ListCreditTransactions(ctx context.Context, userID, fingerprint string, limit int) ([]models.CreditTransaction, error)
}

type GormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) FindProcessedWebhook(ctx context.Context, webhookID string) (*models.ProcessedWebhook, error) {
	var rec models.ProcessedWebhook
	err := r.db.WithContext(ctx).Where("webhook_id = ?", webhookID).First(&rec).Error
	return orNil(&rec, err)
}

func (r *GormRepository) CreateProcessedWebhook(ctx context.Context, rec *models.ProcessedWebhook) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "webhook_id"}},
		DoNothing: true,
	}).Create(rec)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *GormRepository) FindCompletedOrderPayment(ctx context.Context, orderID, userID string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("provider_order_id = ? AND user_id = ? AND status = ? AND provider_invoice_id IS NULL", orderID, userID, models.PaymentCompleted).
		First(&rec).Error
	return orNil(&rec, err)
}

func (r *GormRepository) FindCompletedInvoicePayment(ctx context.Context, subscriptionID, invoiceID, userID string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("provider_subscription_id = ? AND provider_invoice_id = ? AND user_id = ? AND status = ?", subscriptionID, invoiceID, userID, models.PaymentCompleted).
		First(&rec).Error
	return orNil(&rec, err)
}

func (r *GormRepository) CreatePaymentRecord(ctx context.Context, rec *models.PaymentRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePayment
		}
		return err
	}
	return nil
}

func (r *GormRepository) FindSubscription(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("provider_subscription_id = ?", providerSubscriptionID).First(&sub).Error
	return orNil(&sub, err)
}

func (r *GormRepository) FindUserSubscription(ctx context.Context, providerSubscriptionID, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("provider_subscription_id = ? AND user_id = ?", providerSubscriptionID, userID).
		First(&sub).Error
	return orNil(&sub, err)
}

func (r *GormRepository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSubscription
		}
		return err
	}
	return nil
}

func (r *GormRepository) UpdateSubscription(ctx context.Context, providerSubscriptionID string, updates map[string]interface{}) (int64, error) {
	updates["updated_at"] = time.Now().UTC()
	tx := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("provider_subscription_id = ?", providerSubscriptionID).
		Updates(updates)
	return tx.RowsAffected, tx.Error
}

func (r *GormRepository) ExpireLapsedSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status = ? AND current_period_end < ?", models.SubscriptionCancelled, now).
		Updates(map[string]interface{}{
			"status":     models.SubscriptionExpired,
			"updated_at": now,
		})
	return tx.RowsAffected, tx.Error
}

func (r *GormRepository) Transaction(ctx context.Context, fn func(repo BillingRepository, credits ledger.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx}, ledger.NewPGStore(tx))
	})
}

func (r *GormRepository) CreateUsageLog(ctx context.Context, log *models.UsageLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *GormRepository) ListCreditTransactions(ctx context.Context, userID, fingerprint string, limit int) ([]models.CreditTransaction, error) {
	q := r.db.WithContext(ctx).Model(&models.CreditTransaction{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	} else {
		q = q.Where("device_fingerprint = ?", fingerprint)
	}

	var txs []models.CreditTransaction
	err := q.Order("created_at DESC").Limit(limit).Find(&txs).Error
	return txs, err
}

func orNil[T any](v *T, err error) (*T, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
