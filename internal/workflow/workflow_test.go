package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parishbooks/reconcile/internal/common"
	"github.com/parishbooks/reconcile/internal/model"
	"github.com/parishbooks/reconcile/internal/storage"
)

func newTestEngine(t *testing.T, cfg ...Config) (*Engine, *storage.SQLiteStorage) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := storage.NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	if len(cfg) > 0 {
		return NewWithConfig(store, cfg[0]), store
	}
	return New(store), store
}

// seedAccount creates an account whose ledger yields a 10,000.00 book
// balance, with a 500.00 debit and a 200.00 credit outstanding, and a
// last reconciled bank balance of 10,000.00.
func seedAccount(t *testing.T, store *storage.SQLiteStorage, accountID string) (debitID, creditID string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, &model.BankAccount{
		ID:       accountID,
		Name:     "Operating " + accountID,
		Currency: "USD",
	}))

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	txns := []model.LedgerTransaction{
		{
			ID:          accountID + "-base",
			AccountID:   accountID,
			Date:        base,
			Description: "Opening position",
			DebitAmount: decimal.RequireFromString("9700.00"),
			Cleared:     true,
		},
		{
			ID:          accountID + "-debit",
			AccountID:   accountID,
			Date:        base.Add(24 * time.Hour),
			Description: "Offering deposit",
			Reference:   "DEP-114",
			DebitAmount: decimal.RequireFromString("500.00"),
		},
		{
			ID:           accountID + "-credit",
			AccountID:    accountID,
			Date:         base.Add(48 * time.Hour),
			Description:  "Utilities payment",
			Reference:    "CHK-2041",
			CreditAmount: decimal.RequireFromString("200.00"),
		},
	}
	require.NoError(t, store.SaveLedgerTransactions(ctx, txns))

	require.NoError(t, store.MarkAccountReconciled(ctx, accountID,
		decimal.RequireFromString("10000.00"), base))

	return accountID + "-debit", accountID + "-credit"
}

func draftInput(accountID, statement string, clearedIDs ...string) DraftInput {
	return DraftInput{
		AccountID:             accountID,
		ReconciliationDate:    time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		StatementBalance:      decimal.RequireFromString(statement),
		ClearedTransactionIDs: clearedIDs,
		PreparedBy:            "treasurer",
	}
}

func TestSaveDraftComputesBalances(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	debitID, creditID := seedAccount(t, store, "acc1")

	draft, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10300.00", debitID, creditID))
	require.NoError(t, err)

	rec := draft.Reconciliation
	assert.Equal(t, model.StatusDraft, rec.Status)
	assert.True(t, rec.BookBalance.Equal(decimal.RequireFromString("10000.00")),
		"book = %s", rec.BookBalance)
	assert.True(t, rec.AdjustedBalance.Equal(decimal.RequireFromString("10300.00")),
		"adjusted = %s", rec.AdjustedBalance)
	assert.True(t, rec.Difference.IsZero(), "difference = %s", rec.Difference)
	assert.False(t, draft.Variance.IsAnomalous)

	// Drafts never touch account balances.
	account, err := store.GetAccount(ctx, "acc1")
	require.NoError(t, err)
	assert.True(t, account.BankBalance.Equal(decimal.RequireFromString("10000.00")))
}

func TestSaveDraftEmptyClearedSet(t *testing.T) {
	engine, store := newTestEngine(t)
	seedAccount(t, store, "acc1")

	draft, err := engine.SaveDraft(context.Background(), "", draftInput("acc1", "10000.00"))
	require.NoError(t, err)
	assert.True(t, draft.Reconciliation.AdjustedBalance.Equal(draft.Reconciliation.BookBalance))
	assert.True(t, draft.Reconciliation.Difference.IsZero())
}

func TestSaveDraftConflict(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, store, "acc1")

	_, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10000.00"))
	require.NoError(t, err)

	_, err = engine.SaveDraft(ctx, "", draftInput("acc1", "10000.00"))
	require.ErrorIs(t, err, common.ErrConflict)
}

func TestSaveDraftUnknownAccount(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.SaveDraft(context.Background(), "", draftInput("missing", "100.00"))
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSaveDraftMissingFields(t *testing.T) {
	engine, store := newTestEngine(t)
	seedAccount(t, store, "acc1")

	input := draftInput("acc1", "10000.00")
	input.PreparedBy = ""
	_, err := engine.SaveDraft(context.Background(), "", input)
	require.ErrorIs(t, err, common.ErrValidation)

	input = draftInput("acc1", "10000.00")
	input.ReconciliationDate = time.Time{}
	_, err = engine.SaveDraft(context.Background(), "", input)
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestSaveDraftUpdate(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	debitID, creditID := seedAccount(t, store, "acc1")

	draft, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10600.00", debitID))
	require.NoError(t, err)
	assert.False(t, draft.Reconciliation.Difference.IsZero())

	updated, err := engine.SaveDraft(ctx, draft.Reconciliation.ID, draftInput("acc1", "10300.00", debitID, creditID))
	require.NoError(t, err)
	assert.Equal(t, draft.Reconciliation.ID, updated.Reconciliation.ID)
	assert.True(t, updated.Reconciliation.Difference.IsZero())
	assert.ElementsMatch(t, []string{debitID, creditID}, updated.Reconciliation.ClearedTransactionIDs)
}

func TestSaveDraftRejectsForeignTransactions(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, store, "acc1")
	otherDebit, _ := seedAccount(t, store, "acc2")

	_, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10000.00", otherDebit))
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestSaveDraftRejectsAlreadyClearedTransactions(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	debitID, _ := seedAccount(t, store, "acc1")

	require.NoError(t, store.MarkTransactionsCleared(ctx, []string{debitID}))

	_, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10000.00", debitID))
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestSaveDraftVarianceWarningDoesNotBlock(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, store, "acc1")

	// 20% jump against the 10,000.00 baseline with a 10% threshold.
	draft, err := engine.SaveDraft(ctx, "", draftInput("acc1", "12000.00"))
	require.NoError(t, err)
	assert.True(t, draft.Variance.IsAnomalous)
	assert.True(t, draft.Variance.Amount.Equal(decimal.RequireFromString("2000.00")))
	assert.True(t, draft.Variance.Percent.Equal(decimal.RequireFromString("20")))
}

func TestSubmitForReview(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	debitID, creditID := seedAccount(t, store, "acc1")

	draft, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10300.00", debitID, creditID))
	require.NoError(t, err)

	rec, err := engine.SubmitForReview(ctx, draft.Reconciliation.ID, "treasurer")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, rec.Status)
	assert.Equal(t, "treasurer", rec.PreparedBy)

	// A pending-review record cannot be redrafted or resubmitted.
	_, err = engine.SaveDraft(ctx, rec.ID, draftInput("acc1", "10300.00"))
	require.ErrorIs(t, err, common.ErrInvalidTransition)
	_, err = engine.SubmitForReview(ctx, rec.ID, "treasurer")
	require.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestApprove(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	debitID, creditID := seedAccount(t, store, "acc1")

	draft, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10300.00", debitID, creditID))
	require.NoError(t, err)
	_, err = engine.SubmitForReview(ctx, draft.Reconciliation.ID, "treasurer")
	require.NoError(t, err)

	outcome, err := engine.Approve(ctx, draft.Reconciliation.ID, "elder", false)
	require.NoError(t, err)

	assert.Equal(t, model.StatusReconciled, outcome.Reconciliation.Status)
	assert.Equal(t, "elder", outcome.Reconciliation.ApprovedBy)
	assert.True(t, outcome.Account.IsReconciled)
	assert.True(t, outcome.Account.BankBalance.Equal(decimal.RequireFromString("10300.00")))
	require.NotNil(t, outcome.Account.LastReconciledAt)

	// Cleared marks are persisted on the ledger.
	outstanding, err := store.GetOutstandingTransactions(ctx, "acc1")
	require.NoError(t, err)
	assert.Empty(t, outstanding)

	// The audit trail shows the full chain.
	history, err := store.GetStatusHistory(ctx, draft.Reconciliation.ID)
	require.NoError(t, err)
	statuses := make([]model.Status, len(history))
	for i, change := range history {
		statuses[i] = change.Status
	}
	assert.Equal(t, []model.Status{
		model.StatusDraft,
		model.StatusPendingReview,
		model.StatusApproved,
		model.StatusReconciled,
	}, statuses)
}

func TestApproveMakerCheckerSegregation(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	debitID, creditID := seedAccount(t, store, "acc1")

	draft, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10300.00", debitID, creditID))
	require.NoError(t, err)
	_, err = engine.SubmitForReview(ctx, draft.Reconciliation.ID, "treasurer")
	require.NoError(t, err)

	_, err = engine.Approve(ctx, draft.Reconciliation.ID, "treasurer", false)
	require.ErrorIs(t, err, common.ErrInvalidTransition)

	// Nothing was persisted.
	rec, err := store.GetReconciliation(ctx, draft.Reconciliation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, rec.Status)
	account, err := store.GetAccount(ctx, "acc1")
	require.NoError(t, err)
	assert.True(t, account.BankBalance.Equal(decimal.RequireFromString("10000.00")))
}

func TestApproveUnbalanced(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	debitID, creditID := seedAccount(t, store, "acc1")

	draft, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10250.00", debitID, creditID))
	require.NoError(t, err)
	_, err = engine.SubmitForReview(ctx, draft.Reconciliation.ID, "treasurer")
	require.NoError(t, err)

	_, err = engine.Approve(ctx, draft.Reconciliation.ID, "elder", false)
	require.ErrorIs(t, err, common.ErrUnbalanced)

	var unbalanced *common.UnbalancedError
	require.ErrorAs(t, err, &unbalanced)
	assert.True(t, unbalanced.Difference.Equal(decimal.RequireFromString("50.00")),
		"difference = %s", unbalanced.Difference)
}

func TestReject(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	debitID, creditID := seedAccount(t, store, "acc1")

	draft, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10300.00", debitID, creditID))
	require.NoError(t, err)
	_, err = engine.SubmitForReview(ctx, draft.Reconciliation.ID, "treasurer")
	require.NoError(t, err)

	rec, err := engine.Reject(ctx, draft.Reconciliation.ID, "elder", "cleared set looks wrong")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, rec.Status)

	// No account mutation, ledger untouched.
	account, err := store.GetAccount(ctx, "acc1")
	require.NoError(t, err)
	assert.True(t, account.BankBalance.Equal(decimal.RequireFromString("10000.00")))
	outstanding, err := store.GetOutstandingTransactions(ctx, "acc1")
	require.NoError(t, err)
	assert.Len(t, outstanding, 2)

	// A rejected reconciliation does not resume; a new one may be opened.
	_, err = engine.SubmitForReview(ctx, rec.ID, "treasurer")
	require.ErrorIs(t, err, common.ErrInvalidTransition)
	_, err = engine.SaveDraft(ctx, "", draftInput("acc1", "10300.00", debitID, creditID))
	require.NoError(t, err)
}

func TestReconcileDirect(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	debitID, creditID := seedAccount(t, store, "acc1")

	draft, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10300.00", debitID, creditID))
	require.NoError(t, err)

	outcome, err := engine.ReconcileDirect(ctx, draft.Reconciliation.ID, "treasurer", false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReconciled, outcome.Reconciliation.Status)
	assert.Empty(t, outcome.Reconciliation.ApprovedBy)
	assert.True(t, outcome.Account.BankBalance.Equal(decimal.RequireFromString("10300.00")))

	history, err := store.GetStatusHistory(ctx, draft.Reconciliation.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.StatusDraft, history[0].Status)
	assert.Equal(t, model.StatusReconciled, history[1].Status)
}

func TestReconcileDirectUnbalanced(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	debitID, creditID := seedAccount(t, store, "acc1")

	draft, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10250.00", debitID, creditID))
	require.NoError(t, err)

	_, err = engine.ReconcileDirect(ctx, draft.Reconciliation.ID, "treasurer", false)
	require.ErrorIs(t, err, common.ErrUnbalanced)

	var unbalanced *common.UnbalancedError
	require.ErrorAs(t, err, &unbalanced)
	assert.True(t, unbalanced.Difference.Equal(decimal.RequireFromString("50.00")))

	// The failed transition persisted nothing.
	rec, err := store.GetReconciliation(ctx, draft.Reconciliation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, rec.Status)
	account, err := store.GetAccount(ctx, "acc1")
	require.NoError(t, err)
	assert.True(t, account.BankBalance.Equal(decimal.RequireFromString("10000.00")))
}

func TestReconcileDirectBlockedWhenReviewRequired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireReview = true
	engine, store := newTestEngine(t, cfg)
	ctx := context.Background()
	debitID, creditID := seedAccount(t, store, "acc1")

	draft, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10300.00", debitID, creditID))
	require.NoError(t, err)

	_, err = engine.ReconcileDirect(ctx, draft.Reconciliation.ID, "treasurer", false)
	require.ErrorIs(t, err, common.ErrInvalidTransition)

	// The review chain still works.
	_, err = engine.SubmitForReview(ctx, draft.Reconciliation.ID, "treasurer")
	require.NoError(t, err)
	_, err = engine.Approve(ctx, draft.Reconciliation.ID, "elder", false)
	require.NoError(t, err)
}

func TestTerminalTransitionRequiresVarianceAcknowledgement(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, store, "acc2")

	// Book balance 10,000.00 with an outstanding 2,000.00 deposit; the
	// statement agrees, but jumps 20% from the last reconciled balance.
	bigDeposit := model.LedgerTransaction{
		ID:          "acc2-big",
		AccountID:   "acc2",
		Date:        time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		Description: "Building fund transfer",
		DebitAmount: decimal.RequireFromString("2000.00"),
	}
	require.NoError(t, store.SaveLedgerTransactions(ctx, []model.LedgerTransaction{bigDeposit}))

	draft, err := engine.SaveDraft(ctx, "", draftInput("acc2", "14000.00", "acc2-big"))
	require.NoError(t, err)
	require.True(t, draft.Variance.IsAnomalous)
	require.True(t, draft.Reconciliation.Difference.IsZero())

	_, err = engine.ReconcileDirect(ctx, draft.Reconciliation.ID, "treasurer", false)
	require.ErrorIs(t, err, common.ErrValidation)

	var varianceErr *common.VarianceError
	require.ErrorAs(t, err, &varianceErr)
	assert.True(t, varianceErr.Percent.GreaterThan(decimal.RequireFromString("10")))

	// Acknowledged, the transition proceeds.
	outcome, err := engine.ReconcileDirect(ctx, draft.Reconciliation.ID, "treasurer", true)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReconciled, outcome.Reconciliation.Status)
}

func TestVoid(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	debitID, creditID := seedAccount(t, store, "acc1")

	draft, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10300.00", debitID, creditID))
	require.NoError(t, err)

	rec, err := engine.Void(ctx, draft.Reconciliation.ID, "admin", "opened in error")
	require.NoError(t, err)
	assert.Equal(t, model.StatusVoided, rec.Status)

	// Account untouched; a new reconciliation may now be opened.
	account, err := store.GetAccount(ctx, "acc1")
	require.NoError(t, err)
	assert.True(t, account.BankBalance.Equal(decimal.RequireFromString("10000.00")))
	_, err = engine.SaveDraft(ctx, "", draftInput("acc1", "10300.00", debitID, creditID))
	require.NoError(t, err)
}

func TestVoidFromPendingReview(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	debitID, creditID := seedAccount(t, store, "acc1")

	draft, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10300.00", debitID, creditID))
	require.NoError(t, err)
	_, err = engine.SubmitForReview(ctx, draft.Reconciliation.ID, "treasurer")
	require.NoError(t, err)

	rec, err := engine.Void(ctx, draft.Reconciliation.ID, "admin", "statement superseded")
	require.NoError(t, err)
	assert.Equal(t, model.StatusVoided, rec.Status)
}

func TestTerminalRecordsAreImmutable(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	debitID, creditID := seedAccount(t, store, "acc1")

	draft, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10300.00", debitID, creditID))
	require.NoError(t, err)
	_, err = engine.ReconcileDirect(ctx, draft.Reconciliation.ID, "treasurer", false)
	require.NoError(t, err)

	id := draft.Reconciliation.ID
	for name, attempt := range map[string]func() error{
		"save draft": func() error {
			_, err := engine.SaveDraft(ctx, id, draftInput("acc1", "10300.00"))
			return err
		},
		"submit": func() error {
			_, err := engine.SubmitForReview(ctx, id, "treasurer")
			return err
		},
		"approve": func() error {
			_, err := engine.Approve(ctx, id, "elder", false)
			return err
		},
		"reject": func() error {
			_, err := engine.Reject(ctx, id, "elder", "no")
			return err
		},
		"reconcile direct": func() error {
			_, err := engine.ReconcileDirect(ctx, id, "treasurer", false)
			return err
		},
		"void": func() error {
			_, err := engine.Void(ctx, id, "admin", "no")
			return err
		},
	} {
		assert.ErrorIs(t, attempt(), common.ErrInvalidTransition, "operation %q", name)
	}

	// Audit annotation remains possible.
	require.NoError(t, engine.Annotate(ctx, id, "auditor", "verified against statement"))

	history, err := store.GetStatusHistory(ctx, id)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, "auditor", last.ChangedBy)
	assert.Equal(t, "verified against statement", last.Note)
	assert.Equal(t, model.StatusReconciled, last.Status)
}

func TestPerCurrencyTolerance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tolerances = map[string]decimal.Decimal{"JPY": decimal.NewFromInt(1)}
	engine, store := newTestEngine(t, cfg)
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, &model.BankAccount{
		ID:       "acc-jpy",
		Name:     "Yen account",
		Currency: "JPY",
	}))
	require.NoError(t, store.SaveLedgerTransactions(ctx, []model.LedgerTransaction{{
		ID:           "acc-jpy-txn",
		AccountID:    "acc-jpy",
		Date:         time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Description:  "Opening position",
		DebitAmount:  decimal.RequireFromString("100000"),
		CreditAmount: decimal.Zero,
		Cleared:      true,
	}}))

	// Half a yen off is inside the whole-unit tolerance.
	draft, err := engine.SaveDraft(ctx, "", DraftInput{
		AccountID:          "acc-jpy",
		ReconciliationDate: time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		StatementBalance:   decimal.RequireFromString("100000.5"),
		PreparedBy:         "treasurer",
	})
	require.NoError(t, err)

	outcome, err := engine.ReconcileDirect(ctx, draft.Reconciliation.ID, "treasurer", true)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReconciled, outcome.Reconciliation.Status)
}

func TestAnnotateRequiresNote(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	debitID, creditID := seedAccount(t, store, "acc1")

	draft, err := engine.SaveDraft(ctx, "", draftInput("acc1", "10300.00", debitID, creditID))
	require.NoError(t, err)

	err = engine.Annotate(ctx, draft.Reconciliation.ID, "auditor", "")
	require.ErrorIs(t, err, common.ErrValidation)
	err = engine.Annotate(ctx, draft.Reconciliation.ID, "", "note")
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestConcurrentOpensRaceSafely(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, store, "acc1")

	const attempts = 8
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		go func(n int) {
			input := draftInput("acc1", "10000.00")
			input.Notes = fmt.Sprintf("attempt %d", n)
			_, err := engine.SaveDraft(ctx, "", input)
			errs <- err
		}(i)
	}

	var winners, conflicts int
	for i := 0; i < attempts; i++ {
		err := <-errs
		switch {
		case err == nil:
			winners++
		default:
			require.ErrorIs(t, err, common.ErrConflict, "unexpected error: %v", err)
			conflicts++
		}
	}

	assert.Equal(t, 1, winners)
	assert.Equal(t, attempts-1, conflicts)
}
