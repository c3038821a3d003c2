package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/parishbooks/reconcile/internal/common"
	"github.com/parishbooks/reconcile/internal/model"
)

// CreateAccount persists a new bank account.
func (s *SQLiteStorage) CreateAccount(ctx context.Context, account *model.BankAccount) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAccount(account); err != nil {
		return err
	}
	return s.createAccountTx(ctx, s.db, account)
}

func (s *SQLiteStorage) createAccountTx(ctx context.Context, q dbtx, account *model.BankAccount) error {
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (id, name, currency, bank_balance, is_reconciled, last_reconciled_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		account.ID,
		account.Name,
		account.Currency,
		account.BankBalance.String(),
		account.IsReconciled,
		account.LastReconciledAt,
		account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account %s: %w", account.ID, err)
	}
	return nil
}

// GetAccount loads a bank account by id, including its derived book balance.
func (s *SQLiteStorage) GetAccount(ctx context.Context, id string) (*model.BankAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getAccountTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getAccountTx(ctx context.Context, q dbtx, id string) (*model.BankAccount, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, currency, bank_balance, is_reconciled, last_reconciled_at, created_at
		FROM accounts
		WHERE id = ?
	`, id)

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}

	book, err := s.getBookBalanceTx(ctx, q, id)
	if err != nil {
		return nil, err
	}
	account.BookBalance = book

	return account, nil
}

// ListAccounts returns all bank accounts ordered by name.
func (s *SQLiteStorage) ListAccounts(ctx context.Context) ([]model.BankAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listAccountsTx(ctx, s.db)
}

func (s *SQLiteStorage) listAccountsTx(ctx context.Context, q dbtx) ([]model.BankAccount, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, currency, bank_balance, is_reconciled, last_reconciled_at, created_at
		FROM accounts
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.BankAccount
	for rows.Next() {
		account, scanErr := scanAccount(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan account: %w", scanErr)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}

	for i := range accounts {
		book, balErr := s.getBookBalanceTx(ctx, q, accounts[i].ID)
		if balErr != nil {
			return nil, balErr
		}
		accounts[i].BookBalance = book
	}

	return accounts, nil
}

// MarkAccountReconciled records a confirmed statement balance on the account.
func (s *SQLiteStorage) MarkAccountReconciled(ctx context.Context, accountID string, bankBalance decimal.Decimal, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return err
	}
	return s.markAccountReconciledTx(ctx, s.db, accountID, bankBalance, at)
}

func (s *SQLiteStorage) markAccountReconciledTx(ctx context.Context, q dbtx, accountID string, bankBalance decimal.Decimal, at time.Time) error {
	result, err := q.ExecContext(ctx, `
		UPDATE accounts
		SET bank_balance = ?, is_reconciled = 1, last_reconciled_at = ?
		WHERE id = ?
	`, bankBalance.String(), at, accountID)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", accountID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("account %s: %w", accountID, common.ErrNotFound)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*model.BankAccount, error) {
	var (
		account          model.BankAccount
		bankBalance      string
		lastReconciledAt sql.NullTime
	)

	err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Currency,
		&bankBalance,
		&account.IsReconciled,
		&lastReconciledAt,
		&account.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.BankBalance, err = decimal.NewFromString(bankBalance)
	if err != nil {
		return nil, fmt.Errorf("invalid bank balance %q: %w", bankBalance, err)
	}
	if lastReconciledAt.Valid {
		t := lastReconciledAt.Time
		account.LastReconciledAt = &t
	}

	return &account, nil
}
