package services

import "fmt"

// ValidationError is a request the caller has to fix.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

var ErrNoIdentity = &ValidationError{Message: "authentication required: provide a bearer token or a device fingerprint"}

type InsufficientCreditsError struct {
	Required  int
	Available int
	IsTrial   bool
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// CreditConsumptionError means the ledger refused a consume that the
// preceding check allowed, usually a concurrent spend.
type CreditConsumptionError struct {
	Required  int
	Remaining int
	IsTrial   bool
}

func (e *CreditConsumptionError) Error() string {
	return fmt.Sprintf("credit consumption refused: required %d, remaining %d", e.Required, e.Remaining)
}

type CreditCalculationError struct {
	DurationSeconds float64
}

func (e *CreditCalculationError) Error() string {
	return fmt.Sprintf("cannot calculate credits for duration %v", e.DurationSeconds)
}

// AnalysisError wraps a downstream failure that happened after credits were
// consumed.
type AnalysisError struct {
	Err      error
	Refunded bool
}

func (e *AnalysisError) Error() string {
	return "analysis failed: " + e.Err.Error()
}

func (e *AnalysisError) Unwrap() error { return e.Err }
