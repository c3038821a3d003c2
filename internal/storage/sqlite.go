package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/parishbooks/reconcile/internal/model"
	"github.com/parishbooks/reconcile/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the service.Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// dbtx abstracts *sql.DB and *sql.Tx so query helpers can run either
// standalone or inside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTransaction) GetBookBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	if err := validateContext(ctx); err != nil {
		return decimal.Zero, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return decimal.Zero, err
	}
	return t.storage.getBookBalanceTx(ctx, t.tx, accountID)
}

func (t *sqliteTransaction) GetOutstandingTransactions(ctx context.Context, accountID string) ([]model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}
	return t.storage.getOutstandingTransactionsTx(ctx, t.tx, accountID)
}

func (t *sqliteTransaction) CreateAccount(ctx context.Context, account *model.BankAccount) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAccount(account); err != nil {
		return err
	}
	return t.storage.createAccountTx(ctx, t.tx, account)
}

func (t *sqliteTransaction) GetAccount(ctx context.Context, id string) (*model.BankAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getAccountTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) ListAccounts(ctx context.Context) ([]model.BankAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listAccountsTx(ctx, t.tx)
}

func (t *sqliteTransaction) MarkAccountReconciled(ctx context.Context, accountID string, bankBalance decimal.Decimal, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return err
	}
	return t.storage.markAccountReconciledTx(ctx, t.tx, accountID, bankBalance, at)
}

func (t *sqliteTransaction) SaveLedgerTransactions(ctx context.Context, transactions []model.LedgerTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateLedgerTransactions(transactions); err != nil {
		return err
	}
	return t.storage.saveLedgerTransactionsTx(ctx, t.tx, transactions)
}

func (t *sqliteTransaction) GetLedgerTransactionsByIDs(ctx context.Context, ids []string) ([]model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getLedgerTransactionsByIDsTx(ctx, t.tx, ids)
}

func (t *sqliteTransaction) MarkTransactionsCleared(ctx context.Context, ids []string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.markTransactionsClearedTx(ctx, t.tx, ids)
}

func (t *sqliteTransaction) CreateReconciliation(ctx context.Context, rec *model.Reconciliation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateReconciliation(rec); err != nil {
		return err
	}
	return t.storage.createReconciliationTx(ctx, t.tx, rec)
}

func (t *sqliteTransaction) GetReconciliation(ctx context.Context, id string) (*model.Reconciliation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getReconciliationTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) UpdateReconciliation(ctx context.Context, rec *model.Reconciliation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateReconciliation(rec); err != nil {
		return err
	}
	return t.storage.updateReconciliationTx(ctx, t.tx, rec)
}

func (t *sqliteTransaction) ListReconciliationsByAccount(ctx context.Context, accountID string) ([]model.Reconciliation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}
	return t.storage.listReconciliationsByAccountTx(ctx, t.tx, accountID)
}

func (t *sqliteTransaction) HasActiveReconciliation(ctx context.Context, accountID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return false, err
	}
	return t.storage.hasActiveReconciliationTx(ctx, t.tx, accountID)
}

func (t *sqliteTransaction) RecordStatusChange(ctx context.Context, change *model.StatusChange) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateStatusChange(change); err != nil {
		return err
	}
	return t.storage.recordStatusChangeTx(ctx, t.tx, change)
}

func (t *sqliteTransaction) GetStatusHistory(ctx context.Context, reconciliationID string) ([]model.StatusChange, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(reconciliationID, "reconciliationID"); err != nil {
		return nil, err
	}
	return t.storage.getStatusHistoryTx(ctx, t.tx, reconciliationID)
}

func (t *sqliteTransaction) GetReconciliationSummary(ctx context.Context) (*service.ReconciliationSummary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getReconciliationSummaryTx(ctx, t.tx)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}
