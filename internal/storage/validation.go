// Package storage provides the data persistence layer for the reconciliation engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/parishbooks/reconcile/internal/model"
)

// Validation errors.
var (
	ErrNilContext          = errors.New("context cannot be nil")
	ErrEmptyString         = errors.New("string parameter cannot be empty")
	ErrNilParameter        = errors.New("parameter cannot be nil")
	ErrEmptySlice          = errors.New("slice cannot be empty")
	ErrInvalidAccount      = errors.New("invalid account")
	ErrInvalidTransaction  = errors.New("invalid ledger transaction")
	ErrInvalidRecord       = errors.New("invalid reconciliation")
	ErrInvalidStatusChange = errors.New("invalid status change")
	ErrInvalidRecordStatus = errors.New("invalid reconciliation status")
	ErrNegativeAmount      = errors.New("amount cannot be negative")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateAccount validates a bank account.
func validateAccount(account *model.BankAccount) error {
	if account == nil {
		return fmt.Errorf("%w: account", ErrNilParameter)
	}
	if strings.TrimSpace(account.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidAccount)
	}
	if strings.TrimSpace(account.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidAccount)
	}
	if strings.TrimSpace(account.Currency) == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidAccount)
	}
	return nil
}

// validateLedgerTransactions validates a slice of ledger transactions.
func validateLedgerTransactions(transactions []model.LedgerTransaction) error {
	if transactions == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i, txn := range transactions {
		if err := validateLedgerTransaction(&txn); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateLedgerTransaction validates a single ledger transaction.
func validateLedgerTransaction(txn *model.LedgerTransaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.AccountID == "" {
		return fmt.Errorf("%w: missing account ID", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if txn.Description == "" {
		return fmt.Errorf("%w: missing description", ErrInvalidTransaction)
	}
	if txn.DebitAmount.IsNegative() || txn.CreditAmount.IsNegative() {
		return fmt.Errorf("%w: debit and credit amounts", ErrNegativeAmount)
	}
	return nil
}

// validateReconciliation validates a reconciliation record.
func validateReconciliation(rec *model.Reconciliation) error {
	if rec == nil {
		return fmt.Errorf("%w: reconciliation", ErrNilParameter)
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidRecord)
	}
	if rec.AccountID == "" {
		return fmt.Errorf("%w: missing account ID", ErrInvalidRecord)
	}
	if rec.ReconciliationDate.IsZero() {
		return fmt.Errorf("%w: missing reconciliation date", ErrInvalidRecord)
	}
	if rec.PreparedBy == "" {
		return fmt.Errorf("%w: missing preparer", ErrInvalidRecord)
	}
	if !rec.Status.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidRecordStatus, rec.Status)
	}
	return nil
}

// validateStatusChange validates an audit-trail entry.
func validateStatusChange(change *model.StatusChange) error {
	if change == nil {
		return fmt.Errorf("%w: status change", ErrNilParameter)
	}
	if change.ReconciliationID == "" {
		return fmt.Errorf("%w: missing reconciliation ID", ErrInvalidStatusChange)
	}
	if !change.Status.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidRecordStatus, change.Status)
	}
	if change.ChangedBy == "" {
		return fmt.Errorf("%w: missing changed-by identity", ErrInvalidStatusChange)
	}
	return nil
}
