package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/parishbooks/reconcile/internal/common"
	"github.com/parishbooks/reconcile/internal/model"
	"github.com/parishbooks/reconcile/internal/service"
)

// CreateReconciliation persists a new reconciliation record and its cleared
// set. The partial unique index on active statuses guarantees at most one
// active reconciliation per account; a second concurrent open loses the
// race and receives common.ErrConflict.
func (s *SQLiteStorage) CreateReconciliation(ctx context.Context, rec *model.Reconciliation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateReconciliation(rec); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.createReconciliationTx(ctx, tx, rec); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) createReconciliationTx(ctx context.Context, q dbtx, rec *model.Reconciliation) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := q.ExecContext(ctx, `
		INSERT INTO reconciliations (
			id, account_id, reconciliation_date, statement_balance, book_balance,
			adjusted_balance, difference, notes, attachment_ref, status,
			prepared_by, approved_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.AccountID,
		rec.ReconciliationDate,
		rec.BankStatementBalance.String(),
		rec.BookBalance.String(),
		rec.AdjustedBalance.String(),
		rec.Difference.String(),
		rec.Notes,
		rec.AttachmentRef,
		string(rec.Status),
		rec.PreparedBy,
		rec.ApprovedBy,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return fmt.Errorf("account %s: %w", rec.AccountID, common.ErrConflict)
		}
		return fmt.Errorf("failed to insert reconciliation %s: %w", rec.ID, err)
	}

	return s.replaceClearedSetTx(ctx, q, rec.ID, rec.ClearedTransactionIDs)
}

// GetReconciliation loads a reconciliation record with its cleared set.
func (s *SQLiteStorage) GetReconciliation(ctx context.Context, id string) (*model.Reconciliation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getReconciliationTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getReconciliationTx(ctx context.Context, q dbtx, id string) (*model.Reconciliation, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, account_id, reconciliation_date, statement_balance, book_balance,
			adjusted_balance, difference, notes, attachment_ref, status,
			prepared_by, approved_by, created_at, updated_at
		FROM reconciliations
		WHERE id = ?
	`, id)

	rec, err := scanReconciliation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reconciliation %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load reconciliation %s: %w", id, err)
	}

	rec.ClearedTransactionIDs, err = s.getClearedSetTx(ctx, q, id)
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// UpdateReconciliation persists the record's mutable fields and replaces
// its cleared set.
func (s *SQLiteStorage) UpdateReconciliation(ctx context.Context, rec *model.Reconciliation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateReconciliation(rec); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.updateReconciliationTx(ctx, tx, rec); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) updateReconciliationTx(ctx context.Context, q dbtx, rec *model.Reconciliation) error {
	rec.UpdatedAt = time.Now().UTC()

	result, err := q.ExecContext(ctx, `
		UPDATE reconciliations
		SET reconciliation_date = ?, statement_balance = ?, book_balance = ?,
			adjusted_balance = ?, difference = ?, notes = ?, attachment_ref = ?,
			status = ?, prepared_by = ?, approved_by = ?, updated_at = ?
		WHERE id = ?
	`,
		rec.ReconciliationDate,
		rec.BankStatementBalance.String(),
		rec.BookBalance.String(),
		rec.AdjustedBalance.String(),
		rec.Difference.String(),
		rec.Notes,
		rec.AttachmentRef,
		string(rec.Status),
		rec.PreparedBy,
		rec.ApprovedBy,
		rec.UpdatedAt,
		rec.ID,
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return fmt.Errorf("account %s: %w", rec.AccountID, common.ErrConflict)
		}
		return fmt.Errorf("failed to update reconciliation %s: %w", rec.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("reconciliation %s: %w", rec.ID, common.ErrNotFound)
	}

	return s.replaceClearedSetTx(ctx, q, rec.ID, rec.ClearedTransactionIDs)
}

// ListReconciliationsByAccount returns the account's reconciliation
// history, most recent reconciliation date first.
func (s *SQLiteStorage) ListReconciliationsByAccount(ctx context.Context, accountID string) ([]model.Reconciliation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}
	return s.listReconciliationsByAccountTx(ctx, s.db, accountID)
}

func (s *SQLiteStorage) listReconciliationsByAccountTx(ctx context.Context, q dbtx, accountID string) ([]model.Reconciliation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, account_id, reconciliation_date, statement_balance, book_balance,
			adjusted_balance, difference, notes, attachment_ref, status,
			prepared_by, approved_by, created_at, updated_at
		FROM reconciliations
		WHERE account_id = ?
		ORDER BY reconciliation_date DESC, created_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []model.Reconciliation
	for rows.Next() {
		rec, scanErr := scanReconciliation(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan reconciliation: %w", scanErr)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reconciliations: %w", err)
	}

	for i := range recs {
		cleared, clrErr := s.getClearedSetTx(ctx, q, recs[i].ID)
		if clrErr != nil {
			return nil, clrErr
		}
		recs[i].ClearedTransactionIDs = cleared
	}

	return recs, nil
}

// HasActiveReconciliation reports whether the account has a reconciliation
// in DRAFT or PENDING_REVIEW.
func (s *SQLiteStorage) HasActiveReconciliation(ctx context.Context, accountID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return false, err
	}
	return s.hasActiveReconciliationTx(ctx, s.db, accountID)
}

func (s *SQLiteStorage) hasActiveReconciliationTx(ctx context.Context, q dbtx, accountID string) (bool, error) {
	var active bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM reconciliations
			WHERE account_id = ? AND status IN ('DRAFT', 'PENDING_REVIEW')
		)
	`, accountID).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("failed to check active reconciliation: %w", err)
	}
	return active, nil
}

// RecordStatusChange appends an entry to the reconciliation's audit trail.
func (s *SQLiteStorage) RecordStatusChange(ctx context.Context, change *model.StatusChange) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateStatusChange(change); err != nil {
		return err
	}
	return s.recordStatusChangeTx(ctx, s.db, change)
}

func (s *SQLiteStorage) recordStatusChangeTx(ctx context.Context, q dbtx, change *model.StatusChange) error {
	if change.ChangedAt.IsZero() {
		change.ChangedAt = time.Now().UTC()
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO reconciliation_history (reconciliation_id, status, changed_by, note, changed_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		change.ReconciliationID,
		string(change.Status),
		change.ChangedBy,
		change.Note,
		change.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record status change: %w", err)
	}

	change.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read history id: %w", err)
	}
	return nil
}

// GetStatusHistory returns the reconciliation's audit trail, oldest first.
func (s *SQLiteStorage) GetStatusHistory(ctx context.Context, reconciliationID string) ([]model.StatusChange, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(reconciliationID, "reconciliationID"); err != nil {
		return nil, err
	}
	return s.getStatusHistoryTx(ctx, s.db, reconciliationID)
}

func (s *SQLiteStorage) getStatusHistoryTx(ctx context.Context, q dbtx, reconciliationID string) ([]model.StatusChange, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, reconciliation_id, status, changed_by, note, changed_at
		FROM reconciliation_history
		WHERE reconciliation_id = ?
		ORDER BY id
	`, reconciliationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var history []model.StatusChange
	for rows.Next() {
		var (
			change model.StatusChange
			status string
			note   sql.NullString
		)
		if scanErr := rows.Scan(&change.ID, &change.ReconciliationID, &status, &change.ChangedBy, &note, &change.ChangedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", scanErr)
		}
		change.Status = model.Status(status)
		change.Note = note.String
		history = append(history, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status history: %w", err)
	}

	return history, nil
}

// GetReconciliationSummary recomputes the cross-account projection from
// the store. Nothing is cached; staleness is not possible.
func (s *SQLiteStorage) GetReconciliationSummary(ctx context.Context) (*service.ReconciliationSummary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getReconciliationSummaryTx(ctx, s.db)
}

func (s *SQLiteStorage) getReconciliationSummaryTx(ctx context.Context, q dbtx) (*service.ReconciliationSummary, error) {
	rows, err := q.QueryContext(ctx, `SELECT bank_balance, is_reconciled FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts for summary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	summary := &service.ReconciliationSummary{TotalBankBalance: decimal.Zero}
	for rows.Next() {
		var (
			bankBalance  string
			isReconciled bool
		)
		if scanErr := rows.Scan(&bankBalance, &isReconciled); scanErr != nil {
			return nil, fmt.Errorf("failed to scan account summary: %w", scanErr)
		}
		balance, parseErr := decimal.NewFromString(bankBalance)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid bank balance %q: %w", bankBalance, parseErr)
		}

		summary.TotalAccounts++
		summary.TotalBankBalance = summary.TotalBankBalance.Add(balance)
		if isReconciled {
			summary.ReconciledAccounts++
		} else {
			summary.UnreconciledCount++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate account summary: %w", err)
	}

	return summary, nil
}

func (s *SQLiteStorage) replaceClearedSetTx(ctx context.Context, q dbtx, reconciliationID string, ids []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM reconciliation_cleared WHERE reconciliation_id = ?`, reconciliationID); err != nil {
		return fmt.Errorf("failed to clear previous cleared set: %w", err)
	}

	for _, txnID := range ids {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO reconciliation_cleared (reconciliation_id, transaction_id)
			VALUES (?, ?)
		`, reconciliationID, txnID); err != nil {
			return fmt.Errorf("failed to record cleared transaction %s: %w", txnID, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) getClearedSetTx(ctx context.Context, q dbtx, reconciliationID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT transaction_id FROM reconciliation_cleared
		WHERE reconciliation_id = ?
		ORDER BY transaction_id
	`, reconciliationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cleared set: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, fmt.Errorf("failed to scan cleared transaction id: %w", scanErr)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cleared set: %w", err)
	}

	return ids, nil
}

func scanReconciliation(row scanner) (*model.Reconciliation, error) {
	var (
		rec           model.Reconciliation
		statement     string
		book          string
		adjusted      string
		difference    string
		notes         sql.NullString
		attachmentRef sql.NullString
		status        string
		approvedBy    sql.NullString
	)

	err := row.Scan(
		&rec.ID,
		&rec.AccountID,
		&rec.ReconciliationDate,
		&statement,
		&book,
		&adjusted,
		&difference,
		&notes,
		&attachmentRef,
		&status,
		&rec.PreparedBy,
		&approvedBy,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Notes = notes.String
	rec.AttachmentRef = attachmentRef.String
	rec.Status = model.Status(status)
	rec.ApprovedBy = approvedBy.String

	for _, field := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&rec.BankStatementBalance, statement},
		{&rec.BookBalance, book},
		{&rec.AdjustedBalance, adjusted},
		{&rec.Difference, difference},
	} {
		*field.dst, err = decimal.NewFromString(field.src)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", field.src, err)
		}
	}

	return &rec, nil
}

// isUniqueConstraint reports whether err is a SQLite unique-index violation.
func isUniqueConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
