package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/parishbooks/reconcile/internal/common"
	"github.com/parishbooks/reconcile/internal/model"
)

// GetBookBalance returns the account's book balance, computed from its
// ledger entries as cleared and uncleared debits minus credits. The read
// is side-effect free; this subsystem never posts to the ledger.
func (s *SQLiteStorage) GetBookBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	if err := validateContext(ctx); err != nil {
		return decimal.Zero, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return decimal.Zero, err
	}
	return s.getBookBalanceTx(ctx, s.db, accountID)
}

func (s *SQLiteStorage) getBookBalanceTx(ctx context.Context, q dbtx, accountID string) (decimal.Decimal, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = ?)`, accountID).Scan(&exists)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to check account %s: %w", accountID, err)
	}
	if !exists {
		return decimal.Zero, fmt.Errorf("account %s: %w", accountID, common.ErrNotFound)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT debit_amount, credit_amount
		FROM ledger_transactions
		WHERE account_id = ?
	`, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read ledger for account %s: %w", accountID, err)
	}
	defer func() { _ = rows.Close() }()

	// Summed in Go so amounts stay exact decimals rather than SQLite floats.
	balance := decimal.Zero
	for rows.Next() {
		var debit, credit string
		if scanErr := rows.Scan(&debit, &credit); scanErr != nil {
			return decimal.Zero, fmt.Errorf("failed to scan ledger amounts: %w", scanErr)
		}
		d, parseErr := decimal.NewFromString(debit)
		if parseErr != nil {
			return decimal.Zero, fmt.Errorf("invalid debit amount %q: %w", debit, parseErr)
		}
		c, parseErr := decimal.NewFromString(credit)
		if parseErr != nil {
			return decimal.Zero, fmt.Errorf("invalid credit amount %q: %w", credit, parseErr)
		}
		balance = balance.Add(d).Sub(c)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to iterate ledger: %w", err)
	}

	return balance, nil
}

// GetOutstandingTransactions returns the account's not-yet-cleared ledger
// transactions, oldest first.
func (s *SQLiteStorage) GetOutstandingTransactions(ctx context.Context, accountID string) ([]model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}
	return s.getOutstandingTransactionsTx(ctx, s.db, accountID)
}

func (s *SQLiteStorage) getOutstandingTransactionsTx(ctx context.Context, q dbtx, accountID string) ([]model.LedgerTransaction, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = ?)`, accountID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check account %s: %w", accountID, err)
	}
	if !exists {
		return nil, fmt.Errorf("account %s: %w", accountID, common.ErrNotFound)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, account_id, date, description, reference, debit_amount, credit_amount, cleared, created_at
		FROM ledger_transactions
		WHERE account_id = ? AND cleared = 0
		ORDER BY date, id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outstanding transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanLedgerTransactions(rows)
}

// SaveLedgerTransactions persists ledger entries, skipping ids already present.
func (s *SQLiteStorage) SaveLedgerTransactions(ctx context.Context, transactions []model.LedgerTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateLedgerTransactions(transactions); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveLedgerTransactionsTx(ctx, tx, transactions); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) saveLedgerTransactionsTx(ctx context.Context, q dbtx, transactions []model.LedgerTransaction) error {
	for _, txn := range transactions {
		createdAt := txn.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		_, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO ledger_transactions (
				id, account_id, date, description, reference,
				debit_amount, credit_amount, cleared, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			txn.ID,
			txn.AccountID,
			txn.Date,
			txn.Description,
			txn.Reference,
			txn.DebitAmount.String(),
			txn.CreditAmount.String(),
			txn.Cleared,
			createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
		}
	}
	return nil
}

// idChunkSize keeps each IN clause under SQLite's host-parameter limit,
// which is 999 on older builds.
const idChunkSize = 500

// GetLedgerTransactionsByIDs loads the given ledger entries, oldest first.
// Unknown ids return an error wrapping common.ErrNotFound; a duplicate id
// in the input wraps common.ErrValidation.
func (s *SQLiteStorage) GetLedgerTransactionsByIDs(ctx context.Context, ids []string) ([]model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getLedgerTransactionsByIDsTx(ctx, s.db, ids)
}

func (s *SQLiteStorage) getLedgerTransactionsByIDsTx(ctx context.Context, q dbtx, ids []string) ([]model.LedgerTransaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate transaction id %s: %w", id, common.ErrValidation)
		}
		seen[id] = struct{}{}
	}

	var txns []model.LedgerTransaction
	for start := 0; start < len(ids); start += idChunkSize {
		end := start + idChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.Repeat("?,", len(chunk)-1) + "?"
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := q.QueryContext(ctx, fmt.Sprintf(`
			SELECT id, account_id, date, description, reference, debit_amount, credit_amount, cleared, created_at
			FROM ledger_transactions
			WHERE id IN (%s)
		`, placeholders), args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query transactions by id: %w", err)
		}

		batch, scanErr := scanLedgerTransactions(rows)
		_ = rows.Close()
		if scanErr != nil {
			return nil, scanErr
		}
		txns = append(txns, batch...)
	}

	if len(txns) != len(ids) {
		return nil, fmt.Errorf("ledger transactions: expected %d, found %d: %w", len(ids), len(txns), common.ErrNotFound)
	}

	sort.Slice(txns, func(i, j int) bool {
		if !txns[i].Date.Equal(txns[j].Date) {
			return txns[i].Date.Before(txns[j].Date)
		}
		return txns[i].ID < txns[j].ID
	})

	return txns, nil
}

// MarkTransactionsCleared sets the cleared flag on the given ledger entries.
func (s *SQLiteStorage) MarkTransactionsCleared(ctx context.Context, ids []string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.markTransactionsClearedTx(ctx, s.db, ids)
}

func (s *SQLiteStorage) markTransactionsClearedTx(ctx context.Context, q dbtx, ids []string) error {
	for _, id := range ids {
		result, err := q.ExecContext(ctx, `UPDATE ledger_transactions SET cleared = 1 WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to mark transaction %s cleared: %w", id, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
		}
	}
	return nil
}

func scanLedgerTransactions(rows *sql.Rows) ([]model.LedgerTransaction, error) {
	var txns []model.LedgerTransaction
	for rows.Next() {
		var (
			txn           model.LedgerTransaction
			reference     sql.NullString
			debit, credit string
		)
		err := rows.Scan(
			&txn.ID,
			&txn.AccountID,
			&txn.Date,
			&txn.Description,
			&reference,
			&debit,
			&credit,
			&txn.Cleared,
			&txn.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		txn.Reference = reference.String
		txn.DebitAmount, err = decimal.NewFromString(debit)
		if err != nil {
			return nil, fmt.Errorf("invalid debit amount %q: %w", debit, err)
		}
		txn.CreditAmount, err = decimal.NewFromString(credit)
		if err != nil {
			return nil, fmt.Errorf("invalid credit amount %q: %w", credit, err)
		}

		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txns, nil
}
