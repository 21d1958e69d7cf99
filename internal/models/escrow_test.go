package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsValidEscrowTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{EscrowStatusDraft, EscrowStatusAwaitingAcceptance, true},
		{EscrowStatusAwaitingAcceptance, EscrowStatusAwaitingFunding, true},
		{EscrowStatusAwaitingFunding, EscrowStatusFunded, true},
		{EscrowStatusFunded, EscrowStatusInProgress, true},
		{EscrowStatusInProgress, EscrowStatusCompleted, true},

		// Dispute paths
		{EscrowStatusFunded, EscrowStatusDisputed, true},
		{EscrowStatusInProgress, EscrowStatusDisputed, true},
		{EscrowStatusDisputed, EscrowStatusInProgress, true},
		{EscrowStatusDisputed, EscrowStatusRefunded, true},
		{EscrowStatusDisputed, EscrowStatusCompleted, true},

		// Cancellation paths
		{EscrowStatusDraft, EscrowStatusCancelled, true},
		{EscrowStatusAwaitingAcceptance, EscrowStatusCancelled, true},
		{EscrowStatusAwaitingFunding, EscrowStatusCancelled, true},
		{EscrowStatusFunded, EscrowStatusCancelled, true},
		{EscrowStatusInProgress, EscrowStatusCancelled, true},

		// Invalid transitions
		{EscrowStatusDraft, EscrowStatusFunded, false},
		{EscrowStatusDraft, EscrowStatusAwaitingFunding, false},
		{EscrowStatusAwaitingAcceptance, EscrowStatusFunded, false},
		{EscrowStatusAwaitingFunding, EscrowStatusInProgress, false},
		{EscrowStatusAwaitingFunding, EscrowStatusDisputed, false},
		{EscrowStatusFunded, EscrowStatusCompleted, false},
		{EscrowStatusDisputed, EscrowStatusCancelled, false},
		{EscrowStatusCompleted, EscrowStatusDisputed, false},
		{EscrowStatusCompleted, EscrowStatusCancelled, false},
		{EscrowStatusCancelled, EscrowStatusDraft, false},
		{EscrowStatusRefunded, EscrowStatusCompleted, false},
		{"nonexistent", EscrowStatusDraft, false},
		{EscrowStatusDraft, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidEscrowTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidEscrowTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllEscrowStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		EscrowStatusDraft, EscrowStatusAwaitingAcceptance, EscrowStatusAwaitingFunding,
		EscrowStatusFunded, EscrowStatusInProgress, EscrowStatusDisputed,
		EscrowStatusCompleted, EscrowStatusCancelled, EscrowStatusRefunded,
	}

	for _, status := range allStatuses {
		if _, ok := ValidEscrowTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidEscrowTransitions map", status)
		}
	}
}

func TestTerminalEscrowStatuses(t *testing.T) {
	terminal := []string{EscrowStatusCompleted, EscrowStatusCancelled, EscrowStatusRefunded}
	for _, status := range terminal {
		if !IsTerminalEscrowStatus(status) {
			t.Errorf("status %q should be terminal", status)
		}
		if transitions := ValidEscrowTransitions[status]; len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}

	nonTerminal := []string{
		EscrowStatusDraft, EscrowStatusAwaitingAcceptance, EscrowStatusAwaitingFunding,
		EscrowStatusFunded, EscrowStatusInProgress, EscrowStatusDisputed,
	}
	for _, status := range nonTerminal {
		if IsTerminalEscrowStatus(status) {
			t.Errorf("status %q should not be terminal", status)
		}
	}
}

func TestIsValidMilestoneTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{MilestoneStatusPending, MilestoneStatusAwaitingFunding, true},
		{MilestoneStatusAwaitingFunding, MilestoneStatusFunded, true},
		{MilestoneStatusFunded, MilestoneStatusUnderReview, true},
		{MilestoneStatusUnderReview, MilestoneStatusReleased, true},

		// Release without review
		{MilestoneStatusFunded, MilestoneStatusReleased, true},

		// Dispute from non-terminal states
		{MilestoneStatusPending, MilestoneStatusDisputed, true},
		{MilestoneStatusAwaitingFunding, MilestoneStatusDisputed, true},
		{MilestoneStatusFunded, MilestoneStatusDisputed, true},
		{MilestoneStatusUnderReview, MilestoneStatusDisputed, true},

		// Dispute resolution return paths
		{MilestoneStatusDisputed, MilestoneStatusFunded, true},
		{MilestoneStatusDisputed, MilestoneStatusAwaitingFunding, true},
		{MilestoneStatusDisputed, MilestoneStatusReleased, true},
		{MilestoneStatusDisputed, MilestoneStatusCancelled, true},

		// Invalid transitions
		{MilestoneStatusPending, MilestoneStatusFunded, false},
		{MilestoneStatusPending, MilestoneStatusReleased, false},
		{MilestoneStatusAwaitingFunding, MilestoneStatusUnderReview, false},
		{MilestoneStatusReleased, MilestoneStatusDisputed, false},
		{MilestoneStatusReleased, MilestoneStatusFunded, false},
		{MilestoneStatusCancelled, MilestoneStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidMilestoneTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidMilestoneTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestMilestoneIsFunded(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		funded   string
		expected bool
	}{
		{"fully funded", "300", "300", true},
		{"partially funded", "300", "150", false},
		{"unfunded", "300", "0", false},
		{"fractional match", "99.99", "99.99", true},
		{"fractional short by a cent", "100.00", "99.99", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Milestone{
				Amount:       decimal.RequireFromString(tt.amount),
				AmountFunded: decimal.RequireFromString(tt.funded),
			}
			if got := m.IsFunded(); got != tt.expected {
				t.Errorf("IsFunded() with %s/%s = %v, want %v", tt.funded, tt.amount, got, tt.expected)
			}
		})
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := NewInvalidTransition("escrow", EscrowStatusDraft, EscrowStatusFunded)
	want := "invalid escrow transition from draft to funded"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
