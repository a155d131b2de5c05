package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/ledger"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/models"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

// Identity is who pays for a metered call: a verified user, or a trial
// device when no user is known.
type Identity struct {
	UserID            string
	DeviceFingerprint string
}

func (i Identity) IsTrial() bool {
	return i.UserID == ""
}

func (i Identity) Validate() error {
	if i.UserID != "" {
		return nil
	}
	if i.DeviceFingerprint == "" {
		return ErrNoIdentity
	}
	if !ValidFingerprint(i.DeviceFingerprint) {
		return &ValidationError{Field: "X-Device-Fingerprint", Message: "invalid device fingerprint"}
	}
	return nil
}

func (i Identity) logAttrs() []any {
	if i.IsTrial() {
		return []any{"device_fingerprint", i.DeviceFingerprint, "is_trial", true}
	}
	return []any{"user_id", i.UserID, "is_trial", false}
}

// Consumption is a completed debit, kept so it can be refunded.
type Consumption struct {
	Identity  Identity
	Credits   int
	Remaining int
}

// RequiredCredits charges one credit per started second.
func RequiredCredits(durationSeconds float64) (int, error) {
	if math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) || durationSeconds <= 0 {
		return 0, &CreditCalculationError{DurationSeconds: durationSeconds}
	}
	credits := math.Ceil(durationSeconds)
	if credits > math.MaxInt32 {
		return 0, &CreditCalculationError{DurationSeconds: durationSeconds}
	}
	return int(credits), nil
}

type CreditService struct {
	store ledger.Store
	usage UsageRepository
}

func NewCreditService(store ledger.Store, usage UsageRepository) *CreditService {
	return &CreditService{store: store, usage: usage}
}

// Balance returns the spendable credits of the identity.
func (s *CreditService) Balance(ctx context.Context, id Identity) (int, error) {
	if err := id.Validate(); err != nil {
		return 0, err
	}
	res, err := s.check(ctx, id, 0)
	if err != nil {
		return 0, err
	}
	return res.CurrentBalance, nil
}

// CheckAndConsume debits required credits. Nothing is debited when the check
// fails, and a refused consume is not retried.
func (s *CreditService) CheckAndConsume(ctx context.Context, id Identity, required int, description string) (*Consumption, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	log := slog.With(id.logAttrs()...)

	check, err := s.check(ctx, id, required)
	if err != nil {
		log.Error("credit check failed", "action", "credit_error", "required", required, "error", err)
		return nil, err
	}
	log.Info("credit check", "action", "credit_check", "required", required, "available", check.CurrentBalance, "has_enough", check.HasEnough)
	if !check.HasEnough {
		return nil, &InsufficientCreditsError{Required: required, Available: check.CurrentBalance, IsTrial: id.IsTrial()}
	}

	var res ledger.ConsumeResult
	if id.IsTrial() {
		res, err = s.store.ConsumeTrialCredits(ctx, id.DeviceFingerprint, required, description)
	} else {
		res, err = s.store.ConsumeUserCredits(ctx, id.UserID, required, description)
	}
	if err != nil {
		log.Error("credit consumption failed", "action", "credit_error", "required", required, "error", err)
		return nil, err
	}
	if !res.Success {
		log.Warn("credit consumption refused", "action", "credit_error", "required", required, "remaining", res.RemainingBalance)
		return nil, &CreditConsumptionError{Required: required, Remaining: res.RemainingBalance, IsTrial: id.IsTrial()}
	}

	log.Info("credits consumed", "action", "credit_consume", "credits", required, "remaining", res.RemainingBalance)
	return &Consumption{Identity: id, Credits: required, Remaining: res.RemainingBalance}, nil
}

// Refund gives back exactly what c debited. Failures are logged and reported,
// never returned: the caller is already on an error path.
func (s *CreditService) Refund(ctx context.Context, c *Consumption, cause error) bool {
	if c == nil || c.Credits <= 0 {
		return false
	}
	// The request may already be cancelled; the refund must still run.
	ctx = context.WithoutCancel(ctx)
	log := slog.With(c.Identity.logAttrs()...)
	reason := "Analysis failed: " + cause.Error()

	var (
		ok  bool
		err error
	)
	if c.Identity.IsTrial() {
		ok, err = s.store.RefundTrialCredits(ctx, c.Identity.DeviceFingerprint, c.Credits, reason)
	} else {
		ok, err = s.store.RefundUserCredits(ctx, c.Identity.UserID, c.Credits, reason)
	}

	if err == nil && !ok {
		err = fmt.Errorf("ledger refused refund of %d credits", c.Credits)
	}
	if err != nil {
		log.Error("credit refund failed", "action", "credit_error", "credits", c.Credits, "reason", reason, "error", err)
		hub := sentry.GetHubFromContext(ctx)
		if hub == nil {
			hub = sentry.CurrentHub()
		}
		hub.CaptureException(fmt.Errorf("refund of %d credits failed: %w", c.Credits, err))
		return false
	}

	log.Warn("credits refunded", "action", "credit_refund", "credits", c.Credits, "reason", reason)
	return true
}

// RunMetered prices durationSeconds, debits it, and runs work. If work fails
// the debit is refunded before the failure is returned as *AnalysisError.
func (s *CreditService) RunMetered(ctx context.Context, id Identity, durationSeconds float64, description string, work func(ctx context.Context) error) (*Consumption, error) {
	required, err := RequiredCredits(durationSeconds)
	if err != nil {
		return nil, err
	}

	c, err := s.CheckAndConsume(ctx, id, required, description)
	if err != nil {
		return nil, err
	}

	if err := work(ctx); err != nil {
		refunded := s.Refund(ctx, c, err)
		return c, &AnalysisError{Err: err, Refunded: refunded}
	}
	return c, nil
}

// RecordUsage is best effort.
func (s *CreditService) RecordUsage(ctx context.Context, id Identity, fileSize int64, credits int, elapsed time.Duration, workErr error) {
	if s.usage == nil {
		return
	}
	entry := &models.UsageLog{
		ID:               uuid.New(),
		AnalysisType:     "audio_analysis",
		FileSize:         fileSize,
		CreditsConsumed:  credits,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Success:          workErr == nil,
	}
	if id.IsTrial() {
		entry.DeviceFingerprint = &id.DeviceFingerprint
	} else {
		entry.UserID = &id.UserID
	}
	if workErr != nil {
		entry.ErrorMessage = workErr.Error()
	}

	if err := s.usage.CreateUsageLog(context.WithoutCancel(ctx), entry); err != nil {
		slog.Warn("failed to record usage", "error", err)
	}
}

// History lists the most recent ledger entries of the identity.
func (s *CreditService) History(ctx context.Context, id Identity, limit int) ([]models.CreditTransaction, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if s.usage == nil {
		return nil, nil
	}
	return s.usage.ListCreditTransactions(ctx, id.UserID, id.DeviceFingerprint, limit)
}

func (s *CreditService) check(ctx context.Context, id Identity, required int) (ledger.CheckResult, error) {
	if id.IsTrial() {
		return s.store.CheckTrialCredits(ctx, id.DeviceFingerprint, required)
	}
	return s.store.CheckUserCredits(ctx, id.UserID, required)
}
