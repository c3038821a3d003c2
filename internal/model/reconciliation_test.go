package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{name: "draft can be resaved", from: StatusDraft, to: StatusDraft, want: true},
		{name: "draft to pending review", from: StatusDraft, to: StatusPendingReview, want: true},
		{name: "draft direct to reconciled", from: StatusDraft, to: StatusReconciled, want: true},
		{name: "draft to voided", from: StatusDraft, to: StatusVoided, want: true},
		{name: "draft cannot be approved", from: StatusDraft, to: StatusApproved, want: false},
		{name: "draft cannot be rejected", from: StatusDraft, to: StatusRejected, want: false},
		{name: "pending review to approved", from: StatusPendingReview, to: StatusApproved, want: true},
		{name: "pending review to reconciled", from: StatusPendingReview, to: StatusReconciled, want: true},
		{name: "pending review to rejected", from: StatusPendingReview, to: StatusRejected, want: true},
		{name: "pending review to voided", from: StatusPendingReview, to: StatusVoided, want: true},
		{name: "pending review cannot return to draft", from: StatusPendingReview, to: StatusDraft, want: false},
		{name: "approved to reconciled", from: StatusApproved, to: StatusReconciled, want: true},
		{name: "approved to voided", from: StatusApproved, to: StatusVoided, want: true},
		{name: "approved cannot be rejected", from: StatusApproved, to: StatusRejected, want: false},
		{name: "reconciled is terminal", from: StatusReconciled, to: StatusVoided, want: false},
		{name: "rejected is terminal", from: StatusRejected, to: StatusDraft, want: false},
		{name: "rejected does not resume", from: StatusRejected, to: StatusPendingReview, want: false},
		{name: "voided is terminal", from: StatusVoided, to: StatusDraft, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusDraft.IsTerminal())
	assert.False(t, StatusPendingReview.IsTerminal())
	assert.False(t, StatusApproved.IsTerminal())
	assert.True(t, StatusReconciled.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusVoided.IsTerminal())
}

func TestStatusIsActive(t *testing.T) {
	assert.True(t, StatusDraft.IsActive())
	assert.True(t, StatusPendingReview.IsActive())
	assert.False(t, StatusApproved.IsActive())
	assert.False(t, StatusReconciled.IsActive())
	assert.False(t, StatusRejected.IsActive())
	assert.False(t, StatusVoided.IsActive())
}

func TestStatusIsValid(t *testing.T) {
	for _, s := range []Status{
		StatusDraft, StatusPendingReview, StatusApproved,
		StatusReconciled, StatusRejected, StatusVoided,
	} {
		assert.True(t, s.IsValid(), "status %s", s)
	}
	assert.False(t, Status("OPEN").IsValid())
	assert.False(t, Status("").IsValid())
}
