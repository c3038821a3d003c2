// Package model defines the core domain types for bank reconciliation.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BankAccount identifies a bank-held account within the organization.
// BookBalance is derived from the linked ledger and is read-only to this
// subsystem; BankBalance is the last confirmed statement balance and is
// only mutated by a completed reconciliation.
type BankAccount struct {
	ID               string
	Name             string
	Currency         string
	BookBalance      decimal.Decimal
	BankBalance      decimal.Decimal
	IsReconciled     bool
	LastReconciledAt *time.Time
	CreatedAt        time.Time
}
