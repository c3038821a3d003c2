package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/parishbooks/reconcile/internal/common"
	"github.com/parishbooks/reconcile/internal/model"
	"github.com/parishbooks/reconcile/internal/workflow"
)

func reconCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recon",
		Short: "Manage reconciliations",
		Long: `Open reconciliation drafts, walk them through review, and finish
them once the adjusted book balance matches the statement.`,
	}

	cmd.AddCommand(openReconCmd())
	cmd.AddCommand(updateReconCmd())
	cmd.AddCommand(submitReconCmd())
	cmd.AddCommand(approveReconCmd())
	cmd.AddCommand(rejectReconCmd())
	cmd.AddCommand(finishReconCmd())
	cmd.AddCommand(voidReconCmd())
	cmd.AddCommand(annotateReconCmd())
	cmd.AddCommand(showReconCmd())
	cmd.AddCommand(listReconCmd())

	return cmd
}

// draftFlags holds the flag values shared by open and update.
type draftFlags struct {
	date       string
	statement  string
	cleared    []string
	notes      string
	attachment string
	user       string
}

func (f *draftFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", time.Now().Format("2006-01-02"), "statement date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.statement, "statement", "", "bank statement ending balance")
	cmd.Flags().StringSliceVar(&f.cleared, "clear", nil, "ledger transaction ids cleared by the statement")
	cmd.Flags().StringVar(&f.notes, "notes", "", "free-form notes")
	cmd.Flags().StringVar(&f.attachment, "attachment", "", "reference to the statement document")
	cmd.Flags().StringVar(&f.user, "user", "", "identity of the preparer")
	_ = cmd.MarkFlagRequired("statement")
	_ = cmd.MarkFlagRequired("user")
}

func (f *draftFlags) input(accountID string) (workflow.DraftInput, error) {
	date, err := time.Parse("2006-01-02", f.date)
	if err != nil {
		return workflow.DraftInput{}, fmt.Errorf("invalid date %q: %w", f.date, err)
	}
	statement, err := decimal.NewFromString(f.statement)
	if err != nil {
		return workflow.DraftInput{}, fmt.Errorf("invalid statement balance %q: %w", f.statement, err)
	}

	return workflow.DraftInput{
		AccountID:             accountID,
		ReconciliationDate:    date,
		StatementBalance:      statement,
		ClearedTransactionIDs: f.cleared,
		Notes:                 f.notes,
		AttachmentRef:         f.attachment,
		PreparedBy:            f.user,
	}, nil
}

func openReconCmd() *cobra.Command {
	var flags draftFlags

	cmd := &cobra.Command{
		Use:   "open <account-id>",
		Short: "Open a reconciliation draft for an account",
		Long: `Open a new reconciliation draft. The account's book balance is
snapshotted at this point; only one draft or pending-review
reconciliation may exist per account at a time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, store, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			input, err := flags.input(args[0])
			if err != nil {
				return err
			}

			draft, err := engine.SaveDraft(ctx, "", input)
			if err != nil {
				return describeWorkflowErr("open reconciliation", err)
			}

			printDraft(draft)
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

func updateReconCmd() *cobra.Command {
	var flags draftFlags

	cmd := &cobra.Command{
		Use:   "update <reconciliation-id> <account-id>",
		Short: "Update a reconciliation draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, store, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			input, err := flags.input(args[1])
			if err != nil {
				return err
			}

			draft, err := engine.SaveDraft(ctx, args[0], input)
			if err != nil {
				return describeWorkflowErr("update reconciliation", err)
			}

			printDraft(draft)
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

func submitReconCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "submit <reconciliation-id>",
		Short: "Submit a draft for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, store, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rec, err := engine.SubmitForReview(ctx, args[0], user)
			if err != nil {
				return describeWorkflowErr("submit reconciliation", err)
			}

			fmt.Printf("Reconciliation %s submitted for review by %s\n", rec.ID, rec.PreparedBy)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "identity of the preparer")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func approveReconCmd() *cobra.Command {
	var (
		user        string
		ackVariance bool
	)

	cmd := &cobra.Command{
		Use:   "approve <reconciliation-id>",
		Short: "Approve and finalize a reconciliation under review",
		Long: `Approve a pending reconciliation. The approver must differ from
the preparer. On success the cleared transactions are marked, the
account's bank balance is confirmed, and the record becomes
immutable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, store, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			outcome, err := engine.Approve(ctx, args[0], user, ackVariance)
			if err != nil {
				return describeWorkflowErr("approve reconciliation", err)
			}

			printOutcome(outcome)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "identity of the approver")
	cmd.Flags().BoolVar(&ackVariance, "ack-variance", false, "acknowledge a flagged statement variance")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func rejectReconCmd() *cobra.Command {
	var (
		user   string
		reason string
	)

	cmd := &cobra.Command{
		Use:   "reject <reconciliation-id>",
		Short: "Reject a reconciliation under review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, store, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rec, err := engine.Reject(ctx, args[0], user, reason)
			if err != nil {
				return describeWorkflowErr("reject reconciliation", err)
			}

			fmt.Printf("Reconciliation %s rejected. Open a new draft to retry.\n", rec.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "identity of the reviewer")
	cmd.Flags().StringVar(&reason, "reason", "", "why the reconciliation was rejected")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func finishReconCmd() *cobra.Command {
	var (
		user        string
		ackVariance bool
	)

	cmd := &cobra.Command{
		Use:   "finish <reconciliation-id>",
		Short: "Finalize a draft directly, skipping review",
		Long: `Move a draft straight to reconciled without the review chain.
Rejected when workflow.require_review is set in the configuration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, store, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			outcome, err := engine.ReconcileDirect(ctx, args[0], user, ackVariance)
			if err != nil {
				return describeWorkflowErr("finish reconciliation", err)
			}

			printOutcome(outcome)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "identity of the reconciler")
	cmd.Flags().BoolVar(&ackVariance, "ack-variance", false, "acknowledge a flagged statement variance")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func voidReconCmd() *cobra.Command {
	var (
		user   string
		reason string
	)

	cmd := &cobra.Command{
		Use:   "void <reconciliation-id>",
		Short: "Void a reconciliation that has not been finalized",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, store, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rec, err := engine.Void(ctx, args[0], user, reason)
			if err != nil {
				return describeWorkflowErr("void reconciliation", err)
			}

			fmt.Printf("Reconciliation %s voided\n", rec.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "identity of the administrator")
	cmd.Flags().StringVar(&reason, "reason", "", "why the reconciliation was voided")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func annotateReconCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "annotate <reconciliation-id> <note>",
		Short: "Append an audit note to a reconciliation",
		Long: `Append a note to the reconciliation's audit history. This works in
every status, including finalized ones, and never changes the
record itself.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, store, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := engine.Annotate(ctx, args[0], user, args[1]); err != nil {
				return describeWorkflowErr("annotate reconciliation", err)
			}

			fmt.Println("Note recorded.")
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "identity of the author")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func showReconCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <reconciliation-id>",
		Short: "Show a reconciliation and its audit history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rec, err := store.GetReconciliation(ctx, args[0])
			if err != nil {
				return describeWorkflowErr("show reconciliation", err)
			}

			history, err := store.GetStatusHistory(ctx, rec.ID)
			if err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}

			printReconciliation(rec)

			if len(history) > 0 {
				fmt.Println("\nHistory:")
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				defer func() { _ = w.Flush() }()
				for _, change := range history {
					fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
						change.ChangedAt.Format(time.RFC3339),
						change.Status,
						change.ChangedBy,
						change.Note,
					)
				}
			}

			return nil
		},
	}
}

func listReconCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <account-id>",
		Short: "List an account's reconciliations, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			recs, err := store.ListReconciliationsByAccount(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to list reconciliations: %w", err)
			}

			if len(recs) == 0 {
				fmt.Println("No reconciliations found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer func() { _ = w.Flush() }()

			fmt.Fprintln(w, "ID\tDATE\tSTATUS\tSTATEMENT\tDIFFERENCE\tPREPARED BY")
			for _, rec := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					rec.ID,
					rec.ReconciliationDate.Format("2006-01-02"),
					rec.Status,
					rec.BankStatementBalance.StringFixed(2),
					rec.Difference.StringFixed(2),
					rec.PreparedBy,
				)
			}

			return nil
		},
	}
}

func printDraft(draft *workflow.Draft) {
	printReconciliation(draft.Reconciliation)
	if draft.Variance.IsAnomalous {
		fmt.Printf("\nWarning: statement balance moved %s (%s%%) from the last reconciled balance.\n",
			draft.Variance.Amount.StringFixed(2), draft.Variance.Percent.StringFixed(1))
		fmt.Println("Finalizing will require --ack-variance.")
	}
}

func printOutcome(outcome *workflow.Outcome) {
	printReconciliation(outcome.Reconciliation)
	fmt.Printf("\nAccount %s reconciled. Bank balance confirmed at %s.\n",
		outcome.Account.ID, outcome.Account.BankBalance.StringFixed(2))
}

func printReconciliation(rec *model.Reconciliation) {
	fmt.Printf("Reconciliation:  %s\n", rec.ID)
	fmt.Printf("Account:         %s\n", rec.AccountID)
	fmt.Printf("Date:            %s\n", rec.ReconciliationDate.Format("2006-01-02"))
	fmt.Printf("Status:          %s\n", rec.Status)
	fmt.Printf("Statement:       %s\n", rec.BankStatementBalance.StringFixed(2))
	fmt.Printf("Book balance:    %s\n", rec.BookBalance.StringFixed(2))
	fmt.Printf("Adjusted:        %s\n", rec.AdjustedBalance.StringFixed(2))
	fmt.Printf("Difference:      %s\n", rec.Difference.StringFixed(2))
	fmt.Printf("Cleared items:   %d\n", len(rec.ClearedTransactionIDs))
	if rec.Notes != "" {
		fmt.Printf("Notes:           %s\n", rec.Notes)
	}
	if rec.AttachmentRef != "" {
		fmt.Printf("Attachment:      %s\n", rec.AttachmentRef)
	}
	if rec.PreparedBy != "" {
		fmt.Printf("Prepared by:     %s\n", rec.PreparedBy)
	}
	if rec.ApprovedBy != "" {
		fmt.Printf("Approved by:     %s\n", rec.ApprovedBy)
	}
}

// describeWorkflowErr rewrites the common failure modes into actionable
// CLI messages; anything else passes through wrapped.
func describeWorkflowErr(op string, err error) error {
	var unbalanced *common.UnbalancedError
	if errors.As(err, &unbalanced) {
		return fmt.Errorf("%s: adjusted balance differs from the statement by %s; clear the missing transactions or correct the statement balance",
			op, unbalanced.Difference.StringFixed(2))
	}

	var varianceErr *common.VarianceError
	if errors.As(err, &varianceErr) {
		return fmt.Errorf("%s: statement balance moved %s (%s%%) from the last reconciled balance; re-run with --ack-variance to confirm",
			op, varianceErr.Amount.StringFixed(2), varianceErr.Percent.StringFixed(1))
	}

	switch {
	case errors.Is(err, common.ErrNotFound):
		return fmt.Errorf("%s: not found", op)
	case errors.Is(err, common.ErrConflict):
		return fmt.Errorf("%s: the account already has an open reconciliation; finish or void it first", op)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
