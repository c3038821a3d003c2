package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerTransaction is an immutable ledger entry for a bank account.
// Entries are never deleted by the reconciliation subsystem; only the
// Cleared mark changes, and only as part of a completed reconciliation.
type LedgerTransaction struct {
	ID           string
	AccountID    string
	Date         time.Time
	Description  string
	Reference    string
	DebitAmount  decimal.Decimal
	CreditAmount decimal.Decimal
	Cleared      bool
	CreatedAt    time.Time
}
