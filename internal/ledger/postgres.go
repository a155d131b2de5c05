package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var ErrNoResult = errors.New("ledger function returned no row")

// PGStore runs the ledger functions through GORM.
type PGStore struct {
	db *gorm.DB
}

func NewPGStore(db *gorm.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) CheckUserCredits(ctx context.Context, userID string, required int) (CheckResult, error) {
	return s.check(ctx, "check_user_credits", userID, required)
}

func (s *PGStore) ConsumeUserCredits(ctx context.Context, userID string, amount int, description string) (ConsumeResult, error) {
	return s.consume(ctx, "consume_user_credits", userID, amount, description)
}

func (s *PGStore) AddCredits(ctx context.Context, userID string, amount int, source Source, description string) (bool, error) {
	var ok bool
	result := s.db.WithContext(ctx).
		Raw("SELECT add_credits(?, ?, ?, ?) AS ok", userID, amount, string(source), description).
		Scan(&ok)
	if result.Error != nil {
		return false, fmt.Errorf("add_credits: %w", result.Error)
	}
	return ok, nil
}

func (s *PGStore) RefundUserCredits(ctx context.Context, userID string, amount int, reason string) (bool, error) {
	return s.refund(ctx, "refund_user_credits", userID, amount, reason)
}

func (s *PGStore) CheckTrialCredits(ctx context.Context, fingerprint string, required int) (CheckResult, error) {
	return s.check(ctx, "check_trial_credits", fingerprint, required)
}

func (s *PGStore) ConsumeTrialCredits(ctx context.Context, fingerprint string, amount int, description string) (ConsumeResult, error) {
	return s.consume(ctx, "consume_trial_credits", fingerprint, amount, description)
}

func (s *PGStore) RefundTrialCredits(ctx context.Context, fingerprint string, amount int, reason string) (bool, error) {
	return s.refund(ctx, "refund_trial_credits", fingerprint, amount, reason)
}

// fn is always one of the constant function names above.
func (s *PGStore) check(ctx context.Context, fn, owner string, required int) (CheckResult, error) {
	var res CheckResult
	result := s.db.WithContext(ctx).
		Raw("SELECT has_enough, current_balance FROM "+fn+"(?, ?)", owner, required).
		Scan(&res)
	if result.Error != nil {
		return CheckResult{}, fmt.Errorf("%s: %w", fn, result.Error)
	}
	if result.RowsAffected == 0 {
		return CheckResult{}, fmt.Errorf("%s: %w", fn, ErrNoResult)
	}
	return res, nil
}

func (s *PGStore) consume(ctx context.Context, fn, owner string, amount int, description string) (ConsumeResult, error) {
	var res ConsumeResult
	result := s.db.WithContext(ctx).
		Raw("SELECT success, remaining_balance FROM "+fn+"(?, ?, ?)", owner, amount, description).
		Scan(&res)
	if result.Error != nil {
		return ConsumeResult{}, fmt.Errorf("%s: %w", fn, result.Error)
	}
	if result.RowsAffected == 0 {
		return ConsumeResult{}, fmt.Errorf("%s: %w", fn, ErrNoResult)
	}
	return res, nil
}

func (s *PGStore) refund(ctx context.Context, fn, owner string, amount int, reason string) (bool, error) {
	var ok bool
	result := s.db.WithContext(ctx).
		Raw("SELECT "+fn+"(?, ?, ?) AS ok", owner, amount, reason).
		Scan(&ok)
	if result.Error != nil {
		return false, fmt.Errorf("%s: %w", fn, result.Error)
	}
	return ok, nil
}
