package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/parishbooks/reconcile/internal/model"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Manage ledger transactions",
		Long:  `Import ledger transactions and inspect which remain outstanding.`,
	}

	cmd.AddCommand(importLedgerCmd())
	cmd.AddCommand(outstandingCmd())

	return cmd
}

func importLedgerCmd() *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import ledger transactions from a CSV file",
		Long: `Import ledger entries for an account from a CSV file with columns:

    date,description,reference,debit,credit

Dates use YYYY-MM-DD. Row ids are derived from the row's content, so
re-importing the same file maps each row to the same ledger entry and
is safe to repeat.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			txns, err := parseLedgerCSV(f, accountID)
			if err != nil {
				return err
			}
			if len(txns) == 0 {
				fmt.Println("No transactions found in file.")
				return nil
			}

			if err := store.SaveLedgerTransactions(ctx, txns); err != nil {
				return fmt.Errorf("failed to save transactions: %w", err)
			}

			fmt.Printf("Imported %d transactions for account %s\n", len(txns), accountID)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "account id to import into")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

// ledgerImportNamespace seeds the content-derived row ids.
var ledgerImportNamespace = uuid.MustParse("5b8c9d4e-2f71-4a36-9c05-7d1e8a64b230")

// ledgerRowID derives a stable id from the row's content, so the
// INSERT OR IGNORE in SaveLedgerTransactions dedupes across imports.
// seq distinguishes identical rows within one file.
func ledgerRowID(accountID string, date time.Time, description, reference string, debit, credit decimal.Decimal, seq int) string {
	key := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d",
		accountID,
		date.Format("2006-01-02"),
		description,
		reference,
		debit.String(),
		credit.String(),
		seq,
	)
	return uuid.NewSHA1(ledgerImportNamespace, []byte(key)).String()
}

// parseLedgerCSV reads ledger rows from r. A header row is detected by a
// non-parseable date in the first column and skipped.
func parseLedgerCSV(r io.Reader, accountID string) ([]model.LedgerTransaction, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 5

	var txns []model.LedgerTransaction
	seen := make(map[string]int)
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		line++

		date, err := time.Parse("2006-01-02", record[0])
		if err != nil {
			if line == 1 {
				continue // header row
			}
			return nil, fmt.Errorf("line %d: invalid date %q: %w", line, record[0], err)
		}

		debit, err := parseAmount(record[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid debit: %w", line, err)
		}
		credit, err := parseAmount(record[4])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid credit: %w", line, err)
		}

		key := fmt.Sprintf("%s|%s|%s|%s|%s", record[0], record[1], record[2], debit.String(), credit.String())
		seq := seen[key]
		seen[key]++

		txns = append(txns, model.LedgerTransaction{
			ID:           ledgerRowID(accountID, date, record[1], record[2], debit, credit, seq),
			AccountID:    accountID,
			Date:         date,
			Description:  record[1],
			Reference:    record[2],
			DebitAmount:  debit,
			CreditAmount: credit,
		})
	}

	return txns, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func outstandingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outstanding <account-id>",
		Short: "List the account's not-yet-cleared transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			txns, err := store.GetOutstandingTransactions(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load outstanding transactions: %w", err)
			}

			if len(txns) == 0 {
				fmt.Println("No outstanding transactions.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer func() { _ = w.Flush() }()

			fmt.Fprintln(w, "ID\tDATE\tDESCRIPTION\tREFERENCE\tDEBIT\tCREDIT")
			for _, txn := range txns {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					txn.ID,
					txn.Date.Format("2006-01-02"),
					txn.Description,
					txn.Reference,
					txn.DebitAmount.StringFixed(2),
					txn.CreditAmount.StringFixed(2),
				)
			}

			return nil
		},
	}
}
