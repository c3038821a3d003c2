// Package service defines the interfaces for the reconciliation engine's collaborators.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/parishbooks/reconcile/internal/model"
)

// LedgerReader provides read-only access to the general ledger. All
// methods are side-effect free and safe for concurrent use across
// accounts.
type LedgerReader interface {
	// GetBookBalance returns the current book balance for the account.
	// Returns an error wrapping common.ErrNotFound for an unknown account.
	GetBookBalance(ctx context.Context, accountID string) (decimal.Decimal, error)

	// GetOutstandingTransactions returns the account's not-yet-cleared
	// ledger transactions, oldest first.
	GetOutstandingTransactions(ctx context.Context, accountID string) ([]model.LedgerTransaction, error)
}

// Storage defines the contract for the reconciliation persistence layer.
type Storage interface {
	LedgerReader

	// Account operations
	CreateAccount(ctx context.Context, account *model.BankAccount) error
	GetAccount(ctx context.Context, id string) (*model.BankAccount, error)
	ListAccounts(ctx context.Context) ([]model.BankAccount, error)
	// MarkAccountReconciled records a confirmed statement balance on the
	// account after a completed reconciliation.
	MarkAccountReconciled(ctx context.Context, accountID string, bankBalance decimal.Decimal, at time.Time) error

	// Ledger transaction operations
	SaveLedgerTransactions(ctx context.Context, transactions []model.LedgerTransaction) error
	GetLedgerTransactionsByIDs(ctx context.Context, ids []string) ([]model.LedgerTransaction, error)
	MarkTransactionsCleared(ctx context.Context, ids []string) error

	// Reconciliation operations
	CreateReconciliation(ctx context.Context, rec *model.Reconciliation) error
	GetReconciliation(ctx context.Context, id string) (*model.Reconciliation, error)
	UpdateReconciliation(ctx context.Context, rec *model.Reconciliation) error
	// ListReconciliationsByAccount returns the account's reconciliation
	// history ordered by reconciliation date descending.
	ListReconciliationsByAccount(ctx context.Context, accountID string) ([]model.Reconciliation, error)
	HasActiveReconciliation(ctx context.Context, accountID string) (bool, error)

	// Audit trail
	RecordStatusChange(ctx context.Context, change *model.StatusChange) error
	GetStatusHistory(ctx context.Context, reconciliationID string) ([]model.StatusChange, error)

	// Projections, recomputed on demand rather than cached
	GetReconciliationSummary(ctx context.Context) (*ReconciliationSummary, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// ReconciliationSummary is a read-only projection across all accounts.
type ReconciliationSummary struct {
	TotalAccounts      int
	ReconciledAccounts int
	UnreconciledCount  int
	TotalBankBalance   decimal.Decimal
}
