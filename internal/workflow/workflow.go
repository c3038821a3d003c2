// Package workflow owns the reconciliation lifecycle: it validates
// requested state transitions, enforces who may trigger them, and
// persists their side effects atomically through the storage layer.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/parishbooks/reconcile/internal/balance"
	"github.com/parishbooks/reconcile/internal/common"
	"github.com/parishbooks/reconcile/internal/model"
	"github.com/parishbooks/reconcile/internal/service"
	"github.com/parishbooks/reconcile/internal/variance"
)

// Config holds configuration options for the workflow engine.
type Config struct {
	// RequireReview forces every reconciliation through the
	// maker-checker review chain; the self-certified ReconcileDirect
	// shortcut is rejected while it is set.
	RequireReview bool

	// Variance configures statement-balance anomaly detection.
	Variance variance.Config

	// Tolerances maps a currency code to its balanced/unbalanced
	// epsilon. Currencies not listed use balance.DefaultTolerance.
	Tolerances map[string]decimal.Decimal
}

// DefaultConfig returns the default workflow configuration.
func DefaultConfig() Config {
	return Config{
		RequireReview: false,
		Variance:      variance.DefaultConfig(),
	}
}

// Engine orchestrates reconciliation state transitions.
type Engine struct {
	storage service.Storage
	cfg     Config
}

// New creates a workflow engine with the default configuration.
func New(storage service.Storage) *Engine {
	return NewWithConfig(storage, DefaultConfig())
}

// NewWithConfig creates a workflow engine with custom configuration.
func NewWithConfig(storage service.Storage, cfg Config) *Engine {
	if cfg.Variance.ThresholdPercent.IsZero() && cfg.Variance.AbsoluteThreshold.IsZero() {
		cfg.Variance = variance.DefaultConfig()
	}
	return &Engine{
		storage: storage,
		cfg:     cfg,
	}
}

// DraftInput carries the caller-supplied fields for a draft save.
type DraftInput struct {
	AccountID             string
	ReconciliationDate    time.Time
	StatementBalance      decimal.Decimal
	ClearedTransactionIDs []string
	Notes                 string
	AttachmentRef         string
	PreparedBy            string
}

// Draft is the result of a draft save: the persisted record plus the
// advisory variance report. A flagged variance never fails the save; it
// must be acknowledged before a terminal transition.
type Draft struct {
	Reconciliation *model.Reconciliation
	Variance       variance.Report
}

// Outcome is the result of a terminal transition: the finalized record
// and the updated account snapshot.
type Outcome struct {
	Reconciliation *model.Reconciliation
	Account        *model.BankAccount
}

// SaveDraft creates a reconciliation draft, or updates the existing one
// when id is non-empty. Snapshot fields are persisted and the adjusted
// balance and difference recomputed; account balances are not touched.
func (e *Engine) SaveDraft(ctx context.Context, id string, input DraftInput) (*Draft, error) {
	if err := validateDraftInput(input); err != nil {
		return nil, err
	}

	account, err := e.storage.GetAccount(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}

	cleared, err := e.loadClearedSet(ctx, e.storage, input.AccountID, input.ClearedTransactionIDs)
	if err != nil {
		return nil, err
	}

	report := variance.Detect(account.BankBalance, input.StatementBalance, e.cfg.Variance)
	if report.IsAnomalous {
		slog.Warn("Statement balance variance flagged",
			"account_id", input.AccountID,
			"variance_amount", report.Amount.String(),
			"variance_percent", report.Percent.StringFixed(2))
	}

	if id == "" {
		rec, createErr := e.createDraft(ctx, account, input, cleared)
		if createErr != nil {
			return nil, createErr
		}
		return &Draft{Reconciliation: rec, Variance: report}, nil
	}

	rec, err := e.storage.GetReconciliation(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusDraft {
		return nil, fmt.Errorf("save draft on %s record: %w", rec.Status, common.ErrInvalidTransition)
	}
	if rec.AccountID != input.AccountID {
		return nil, fmt.Errorf("reconciliation %s belongs to account %s: %w", rec.ID, rec.AccountID, common.ErrValidation)
	}

	// Book balance stays the snapshot taken at creation.
	result := balance.ComputeWithTolerance(rec.BookBalance, input.StatementBalance, cleared, e.toleranceFor(account.Currency))

	rec.ReconciliationDate = input.ReconciliationDate
	rec.BankStatementBalance = input.StatementBalance
	rec.AdjustedBalance = result.AdjustedBalance
	rec.Difference = result.Difference
	rec.ClearedTransactionIDs = input.ClearedTransactionIDs
	rec.Notes = input.Notes
	rec.AttachmentRef = input.AttachmentRef

	if err := e.storage.UpdateReconciliation(ctx, rec); err != nil {
		return nil, err
	}

	slog.Info("Reconciliation draft updated",
		"reconciliation_id", rec.ID,
		"account_id", rec.AccountID,
		"difference", rec.Difference.String())

	return &Draft{Reconciliation: rec, Variance: report}, nil
}

func (e *Engine) createDraft(ctx context.Context, account *model.BankAccount, input DraftInput, cleared []model.LedgerTransaction) (*model.Reconciliation, error) {
	// The partial unique index is the authoritative guard; this check
	// surfaces the conflict before any insert is attempted.
	active, err := e.storage.HasActiveReconciliation(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("account %s: %w", input.AccountID, common.ErrConflict)
	}

	book, err := e.storage.GetBookBalance(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}

	result := balance.ComputeWithTolerance(book, input.StatementBalance, cleared, e.toleranceFor(account.Currency))

	rec := &model.Reconciliation{
		ID:                    uuid.NewString(),
		AccountID:             input.AccountID,
		ReconciliationDate:    input.ReconciliationDate,
		BankStatementBalance:  input.StatementBalance,
		BookBalance:           book,
		AdjustedBalance:       result.AdjustedBalance,
		Difference:            result.Difference,
		ClearedTransactionIDs: input.ClearedTransactionIDs,
		Notes:                 input.Notes,
		AttachmentRef:         input.AttachmentRef,
		Status:                model.StatusDraft,
		PreparedBy:            input.PreparedBy,
	}

	if err := e.storage.CreateReconciliation(ctx, rec); err != nil {
		return nil, err
	}

	if err := e.storage.RecordStatusChange(ctx, &model.StatusChange{
		ReconciliationID: rec.ID,
		Status:           model.StatusDraft,
		ChangedBy:        input.PreparedBy,
		Note:             "draft created",
	}); err != nil {
		return nil, err
	}

	slog.Info("Reconciliation draft created",
		"reconciliation_id", rec.ID,
		"account_id", rec.AccountID,
		"book_balance", rec.BookBalance.String(),
		"difference", rec.Difference.String())

	return rec, nil
}

// SubmitForReview moves a draft into the maker-checker review chain and
// records the submitting user as preparer.
func (e *Engine) SubmitForReview(ctx context.Context, id, userID string) (*model.Reconciliation, error) {
	if err := validateIdentity(userID); err != nil {
		return nil, err
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := tx.GetReconciliation(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusDraft {
		return nil, fmt.Errorf("submit for review from %s: %w", rec.Status, common.ErrInvalidTransition)
	}

	rec.Status = model.StatusPendingReview
	rec.PreparedBy = userID

	if err := tx.UpdateReconciliation(ctx, rec); err != nil {
		return nil, err
	}
	if err := tx.RecordStatusChange(ctx, &model.StatusChange{
		ReconciliationID: rec.ID,
		Status:           model.StatusPendingReview,
		ChangedBy:        userID,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit submission: %w", err)
	}

	slog.Info("Reconciliation submitted for review",
		"reconciliation_id", rec.ID,
		"prepared_by", userID)

	return rec, nil
}

// Approve finalizes a reconciliation under review. The approver must
// differ from the preparer, the record must be balanced, and a flagged
// variance must be acknowledged. The status change, cleared marks, and
// account balance update commit in one transaction.
func (e *Engine) Approve(ctx context.Context, id, approverID string, ackVariance bool) (*Outcome, error) {
	if err := validateIdentity(approverID); err != nil {
		return nil, err
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := tx.GetReconciliation(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusPendingReview {
		return nil, fmt.Errorf("approve from %s: %w", rec.Status, common.ErrInvalidTransition)
	}
	if approverID == rec.PreparedBy {
		return nil, fmt.Errorf("approver must differ from preparer %s: %w", rec.PreparedBy, common.ErrInvalidTransition)
	}

	rec.ApprovedBy = approverID
	outcome, err := e.finalize(ctx, tx, rec, approverID, ackVariance, true)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit approval: %w", err)
	}

	slog.Info("Reconciliation approved",
		"reconciliation_id", rec.ID,
		"approved_by", approverID,
		"bank_balance", outcome.Account.BankBalance.String())

	return outcome, nil
}

// Reject exits the review chain without touching account balances. A
// rejected reconciliation does not resume; a new one must be opened.
func (e *Engine) Reject(ctx context.Context, id, reviewerID, reason string) (*model.Reconciliation, error) {
	if err := validateIdentity(reviewerID); err != nil {
		return nil, err
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := tx.GetReconciliation(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusPendingReview {
		return nil, fmt.Errorf("reject from %s: %w", rec.Status, common.ErrInvalidTransition)
	}

	rec.Status = model.StatusRejected
	if err := tx.UpdateReconciliation(ctx, rec); err != nil {
		return nil, err
	}
	if err := tx.RecordStatusChange(ctx, &model.StatusChange{
		ReconciliationID: rec.ID,
		Status:           model.StatusRejected,
		ChangedBy:        reviewerID,
		Note:             reason,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit rejection: %w", err)
	}

	slog.Info("Reconciliation rejected",
		"reconciliation_id", rec.ID,
		"rejected_by", reviewerID)

	return rec, nil
}

// ReconcileDirect is the self-certified shortcut from draft to
// reconciled, bypassing review. Rejected while RequireReview is set.
func (e *Engine) ReconcileDirect(ctx context.Context, id, userID string, ackVariance bool) (*Outcome, error) {
	if err := validateIdentity(userID); err != nil {
		return nil, err
	}
	if e.cfg.RequireReview {
		return nil, fmt.Errorf("review chain is required: %w", common.ErrInvalidTransition)
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := tx.GetReconciliation(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusDraft {
		return nil, fmt.Errorf("reconcile direct from %s: %w", rec.Status, common.ErrInvalidTransition)
	}

	outcome, err := e.finalize(ctx, tx, rec, userID, ackVariance, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reconciliation: %w", err)
	}

	slog.Info("Reconciliation completed directly",
		"reconciliation_id", rec.ID,
		"reconciled_by", userID,
		"bank_balance", outcome.Account.BankBalance.String())

	return outcome, nil
}

// Void administratively cancels any non-terminal reconciliation. No
// account mutation occurs.
func (e *Engine) Void(ctx context.Context, id, userID, reason string) (*model.Reconciliation, error) {
	if err := validateIdentity(userID); err != nil {
		return nil, err
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := tx.GetReconciliation(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		return nil, fmt.Errorf("void from %s: %w", rec.Status, common.ErrInvalidTransition)
	}

	rec.Status = model.StatusVoided
	if err := tx.UpdateReconciliation(ctx, rec); err != nil {
		return nil, err
	}
	if err := tx.RecordStatusChange(ctx, &model.StatusChange{
		ReconciliationID: rec.ID,
		Status:           model.StatusVoided,
		ChangedBy:        userID,
		Note:             reason,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit void: %w", err)
	}

	slog.Info("Reconciliation voided",
		"reconciliation_id", rec.ID,
		"voided_by", userID)

	return rec, nil
}

// Annotate appends an audit note to a reconciliation's history. This is
// the only mutation a terminal record accepts.
func (e *Engine) Annotate(ctx context.Context, id, userID, note string) error {
	if err := validateIdentity(userID); err != nil {
		return err
	}
	if note == "" {
		return fmt.Errorf("note is required: %w", common.ErrValidation)
	}

	rec, err := e.storage.GetReconciliation(ctx, id)
	if err != nil {
		return err
	}

	return e.storage.RecordStatusChange(ctx, &model.StatusChange{
		ReconciliationID: rec.ID,
		Status:           rec.Status,
		ChangedBy:        userID,
		Note:             note,
	})
}

// finalize performs the shared terminal-transition work inside tx: it
// recomputes the balance from the stored snapshot, enforces the balanced
// and variance guards, marks the cleared set on the ledger, and confirms
// the statement balance on the account.
func (e *Engine) finalize(ctx context.Context, tx service.Transaction, rec *model.Reconciliation, userID string, ackVariance, viaReview bool) (*Outcome, error) {
	account, err := tx.GetAccount(ctx, rec.AccountID)
	if err != nil {
		return nil, err
	}

	cleared, err := tx.GetLedgerTransactionsByIDs(ctx, rec.ClearedTransactionIDs)
	if err != nil {
		return nil, err
	}

	result := balance.ComputeWithTolerance(rec.BookBalance, rec.BankStatementBalance, cleared, e.toleranceFor(account.Currency))
	if !result.IsBalanced {
		return nil, &common.UnbalancedError{Difference: result.Difference}
	}

	report := variance.Detect(account.BankBalance, rec.BankStatementBalance, e.cfg.Variance)
	if report.IsAnomalous && !ackVariance {
		return nil, &common.VarianceError{Amount: report.Amount, Percent: report.Percent}
	}

	now := time.Now().UTC()
	rec.AdjustedBalance = result.AdjustedBalance
	rec.Difference = result.Difference
	rec.Status = model.StatusReconciled

	if err := tx.UpdateReconciliation(ctx, rec); err != nil {
		return nil, err
	}
	if len(rec.ClearedTransactionIDs) > 0 {
		if err := tx.MarkTransactionsCleared(ctx, rec.ClearedTransactionIDs); err != nil {
			return nil, err
		}
	}
	if err := tx.MarkAccountReconciled(ctx, rec.AccountID, rec.BankStatementBalance, now); err != nil {
		return nil, err
	}

	if viaReview {
		// Record the intermediate approval so the audit trail shows the
		// full chain even though the transition commits as one unit.
		if err := tx.RecordStatusChange(ctx, &model.StatusChange{
			ReconciliationID: rec.ID,
			Status:           model.StatusApproved,
			ChangedBy:        userID,
		}); err != nil {
			return nil, err
		}
	}
	if err := tx.RecordStatusChange(ctx, &model.StatusChange{
		ReconciliationID: rec.ID,
		Status:           model.StatusReconciled,
		ChangedBy:        userID,
	}); err != nil {
		return nil, err
	}

	account.BankBalance = rec.BankStatementBalance
	account.IsReconciled = true
	account.LastReconciledAt = &now

	return &Outcome{Reconciliation: rec, Account: account}, nil
}

// loadClearedSet loads the cleared transactions and verifies each belongs
// to the account and has not already been cleared by a prior pass.
func (e *Engine) loadClearedSet(ctx context.Context, store service.Storage, accountID string, ids []string) ([]model.LedgerTransaction, error) {
	cleared, err := store.GetLedgerTransactionsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, txn := range cleared {
		if txn.AccountID != accountID {
			return nil, fmt.Errorf("transaction %s belongs to account %s: %w", txn.ID, txn.AccountID, common.ErrValidation)
		}
		if txn.Cleared {
			return nil, fmt.Errorf("transaction %s already cleared: %w", txn.ID, common.ErrValidation)
		}
	}
	return cleared, nil
}

func (e *Engine) toleranceFor(currency string) decimal.Decimal {
	if epsilon, ok := e.cfg.Tolerances[currency]; ok && epsilon.IsPositive() {
		return epsilon
	}
	return balance.DefaultTolerance
}

func validateDraftInput(input DraftInput) error {
	if input.AccountID == "" {
		return fmt.Errorf("account id is required: %w", common.ErrValidation)
	}
	if input.ReconciliationDate.IsZero() {
		return fmt.Errorf("reconciliation date is required: %w", common.ErrValidation)
	}
	if input.PreparedBy == "" {
		return fmt.Errorf("preparer identity is required: %w", common.ErrValidation)
	}
	return nil
}

func validateIdentity(userID string) error {
	if userID == "" {
		return fmt.Errorf("user identity is required: %w", common.ErrValidation)
	}
	return nil
}
