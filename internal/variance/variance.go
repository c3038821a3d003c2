// Package variance flags suspicious jumps in reported statement balances.
// Detection is advisory: it never blocks a draft save, but terminal
// transitions require the caller to acknowledge a flagged anomaly.
package variance

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)

	defaultThresholdPercent  = decimal.NewFromInt(10)
	defaultAbsoluteThreshold = decimal.NewFromInt(1000)
)

// Config controls anomaly detection.
type Config struct {
	// ThresholdPercent flags a new statement balance whose variance from
	// the last reconciled balance exceeds this percentage.
	ThresholdPercent decimal.Decimal

	// AbsoluteThreshold applies when the last reconciled balance is zero,
	// where percent-based detection would divide by zero.
	AbsoluteThreshold decimal.Decimal
}

// DefaultConfig returns the default detection thresholds: 10% against a
// non-zero baseline, 1000.00 absolute against a zero baseline.
func DefaultConfig() Config {
	return Config{
		ThresholdPercent:  defaultThresholdPercent,
		AbsoluteThreshold: defaultAbsoluteThreshold,
	}
}

// Report describes the variance between the last reconciled balance and a
// newly reported statement balance.
type Report struct {
	Amount      decimal.Decimal
	Percent     decimal.Decimal
	IsAnomalous bool
}

// Detect compares a newly reported statement balance against the last
// reconciled balance. With a zero baseline the percent is reported as
// zero and the absolute threshold decides instead.
func Detect(lastReconciled, newStatement decimal.Decimal, cfg Config) Report {
	amount := newStatement.Sub(lastReconciled).Abs()

	if lastReconciled.IsZero() {
		return Report{
			Amount:      amount,
			Percent:     decimal.Zero,
			IsAnomalous: cfg.AbsoluteThreshold.IsPositive() && amount.GreaterThan(cfg.AbsoluteThreshold),
		}
	}

	percent := amount.Div(lastReconciled.Abs()).Mul(hundred)
	return Report{
		Amount:      amount,
		Percent:     percent,
		IsAnomalous: percent.GreaterThan(cfg.ThresholdPercent),
	}
}
