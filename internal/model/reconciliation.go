package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a reconciliation record.
type Status string

// Reconciliation statuses.
const (
	StatusDraft         Status = "DRAFT"
	StatusPendingReview Status = "PENDING_REVIEW"
	StatusApproved      Status = "APPROVED"
	StatusReconciled    Status = "RECONCILED"
	StatusRejected      Status = "REJECTED"
	StatusVoided        Status = "VOIDED"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPendingReview, StatusApproved,
		StatusReconciled, StatusRejected, StatusVoided:
		return true
	}
	return false
}

// IsTerminal reports whether s permits no further transitions.
// Terminal records accept audit annotations only.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusReconciled, StatusRejected, StatusVoided:
		return true
	}
	return false
}

// IsActive reports whether a reconciliation in this status blocks opening
// a new one for the same account.
func (s Status) IsActive() bool {
	return s == StatusDraft || s == StatusPendingReview
}

// transitions maps each status to the statuses legally reachable from it.
// Void is handled separately: it is legal from any non-terminal status.
var transitions = map[Status][]Status{
	StatusDraft:         {StatusDraft, StatusPendingReview, StatusReconciled},
	StatusPendingReview: {StatusApproved, StatusReconciled, StatusRejected},
	StatusApproved:      {StatusReconciled},
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusVoided {
		return true
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Reconciliation is the unit of work: one pass of matching a bank
// statement balance against the ledger's book balance for an account.
// BookBalance is snapshotted at creation; AdjustedBalance and Difference
// are recomputed on every save and before any terminal transition.
type Reconciliation struct {
	ID                    string
	AccountID             string
	ReconciliationDate    time.Time
	BankStatementBalance  decimal.Decimal
	BookBalance           decimal.Decimal
	AdjustedBalance       decimal.Decimal
	Difference            decimal.Decimal
	ClearedTransactionIDs []string
	Notes                 string
	AttachmentRef         string
	Status                Status
	PreparedBy            string
	ApprovedBy            string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// StatusChange is one audit-trail entry in a reconciliation's history.
type StatusChange struct {
	ID               int64
	ReconciliationID string
	Status           Status
	ChangedBy        string
	Note             string
	ChangedAt        time.Time
}
