package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS accounts (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					currency TEXT NOT NULL DEFAULT 'USD',
					bank_balance TEXT NOT NULL DEFAULT '0',
					is_reconciled INTEGER NOT NULL DEFAULT 0,
					last_reconciled_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS ledger_transactions (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL REFERENCES accounts(id),
					date DATETIME NOT NULL,
					description TEXT NOT NULL,
					reference TEXT,
					debit_amount TEXT NOT NULL DEFAULT '0',
					credit_amount TEXT NOT NULL DEFAULT '0',
					cleared INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_ledger_transactions_account ON ledger_transactions(account_id)`,
				`CREATE INDEX idx_ledger_transactions_date ON ledger_transactions(date)`,

				`CREATE TABLE IF NOT EXISTS reconciliations (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL REFERENCES accounts(id),
					reconciliation_date DATETIME NOT NULL,
					statement_balance TEXT NOT NULL,
					book_balance TEXT NOT NULL,
					adjusted_balance TEXT NOT NULL DEFAULT '0',
					difference TEXT NOT NULL DEFAULT '0',
					notes TEXT,
					status TEXT NOT NULL DEFAULT 'DRAFT',
					prepared_by TEXT NOT NULL,
					approved_by TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_reconciliations_account ON reconciliations(account_id)`,

				`CREATE TABLE IF NOT EXISTS reconciliation_cleared (
					reconciliation_id TEXT NOT NULL REFERENCES reconciliations(id),
					transaction_id TEXT NOT NULL REFERENCES ledger_transactions(id),
					PRIMARY KEY (reconciliation_id, transaction_id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Enforce one active reconciliation per account",
		Up: func(tx *sql.Tx) error {
			// Partial unique index: concurrent opens for the same account
			// race safely with exactly one winner.
			_, err := tx.Exec(`
				CREATE UNIQUE INDEX IF NOT EXISTS idx_reconciliations_active
				ON reconciliations(account_id)
				WHERE status IN ('DRAFT', 'PENDING_REVIEW')
			`)
			return err
		},
	},
	{
		Version:     3,
		Description: "Add status history audit trail and statement attachments",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS reconciliation_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					reconciliation_id TEXT NOT NULL REFERENCES reconciliations(id),
					status TEXT NOT NULL,
					changed_by TEXT NOT NULL,
					note TEXT,
					changed_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX IF NOT EXISTS idx_reconciliation_history_reconciliation
					ON reconciliation_history(reconciliation_id)`,
				`ALTER TABLE reconciliations ADD COLUMN attachment_ref TEXT`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending schema migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
