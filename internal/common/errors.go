// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error kinds returned across the reconciliation boundary. Callers classify
// failures with errors.Is against these sentinels.
var (
	// ErrNotFound indicates an unknown account or reconciliation id.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an active reconciliation already exists for the account.
	ErrConflict = errors.New("active reconciliation already exists")

	// ErrInvalidTransition indicates the requested transition is not legal
	// from the record's current status, or violates maker-checker segregation.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrUnbalanced indicates a terminal transition was attempted while the
	// computed difference exceeds the tolerance.
	ErrUnbalanced = errors.New("reconciliation is not balanced")

	// ErrValidation indicates a missing or malformed input field.
	ErrValidation = errors.New("validation failed")
)

// UnbalancedError reports the numeric difference that blocked a terminal
// transition, so callers can render it without recomputation.
type UnbalancedError struct {
	Difference decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("reconciliation is not balanced: difference %s", e.Difference.StringFixed(2))
}

func (e *UnbalancedError) Unwrap() error {
	return ErrUnbalanced
}

// VarianceError reports an unacknowledged statement-balance anomaly on a
// terminal transition. Advisory variance never blocks a draft save.
type VarianceError struct {
	Amount  decimal.Decimal
	Percent decimal.Decimal
}

func (e *VarianceError) Error() string {
	return fmt.Sprintf("statement balance variance %s (%s%%) requires acknowledgement",
		e.Amount.StringFixed(2), e.Percent.StringFixed(2))
}

func (e *VarianceError) Unwrap() error {
	return ErrValidation
}
