package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/parishbooks/reconcile/internal/model"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage bank accounts",
		Long:  `Add and list the bank accounts available for reconciliation.`,
	}

	cmd.AddCommand(addAccountCmd())
	cmd.AddCommand(listAccountsCmd())
	cmd.AddCommand(summaryCmd())

	return cmd
}

func addAccountCmd() *cobra.Command {
	var (
		accountID string
		currency  string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a bank account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if accountID == "" {
				accountID = uuid.NewString()
			}

			account := &model.BankAccount{
				ID:       accountID,
				Name:     args[0],
				Currency: currency,
			}
			if err := store.CreateAccount(ctx, account); err != nil {
				return fmt.Errorf("failed to create account: %w", err)
			}

			fmt.Printf("Created account %s (%s)\n", account.Name, account.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "id", "", "account id (generated when omitted)")
	cmd.Flags().StringVar(&currency, "currency", "USD", "account currency")

	return cmd
}

func listAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bank accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			accounts, err := store.ListAccounts(ctx)
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}

			if len(accounts) == 0 {
				fmt.Println("No accounts found. Use 'reconcile accounts add' to create one.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer func() { _ = w.Flush() }()

			fmt.Fprintln(w, "ID\tNAME\tCURRENCY\tBOOK BALANCE\tBANK BALANCE\tRECONCILED\tLAST RECONCILED")
			for _, account := range accounts {
				last := "never"
				if account.LastReconciledAt != nil {
					last = account.LastReconciledAt.Format("2006-01-02")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
					account.ID,
					account.Name,
					account.Currency,
					account.BookBalance.StringFixed(2),
					account.BankBalance.StringFixed(2),
					account.IsReconciled,
					last,
				)
			}

			return nil
		},
	}
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show reconciliation status across all accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			summary, err := store.GetReconciliationSummary(ctx)
			if err != nil {
				return fmt.Errorf("failed to compute summary: %w", err)
			}

			fmt.Printf("Accounts:       %d\n", summary.TotalAccounts)
			fmt.Printf("Reconciled:     %d\n", summary.ReconciledAccounts)
			fmt.Printf("Unreconciled:   %d\n", summary.UnreconciledCount)
			fmt.Printf("Total balance:  %s\n", summary.TotalBankBalance.StringFixed(2))

			return nil
		},
	}
}
