package models

import (
	"errors"
	"fmt"
)

// Named error kinds for every business-rule and validation failure the
// engine can return. Callers branch on these with errors.Is / errors.As.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrEscrowNotFound    = errors.New("escrow not found")
	ErrMilestoneNotFound = errors.New("milestone not found")
	ErrDisputeNotFound   = errors.New("dispute not found")
	ErrRuleNotFound      = errors.New("fee rule not found")
	ErrTransferNotFound  = errors.New("transfer not found")

	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrCurrencyMismatch     = errors.New("currency mismatch")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrDailyLimitExceeded   = errors.New("daily transfer limit exceeded")
	ErrMonthlyLimitExceeded = errors.New("monthly transfer limit exceeded")
	ErrOverFunding          = errors.New("funding exceeds milestone amount")
	ErrDisputeAlreadyOpen   = errors.New("an open dispute already exists")
	ErrNotParty             = errors.New("user is not a party to this escrow")
	ErrPermissionDenied     = errors.New("role is not allowed to perform this action")
	ErrAlreadyAccepted      = errors.New("party already accepted")

	// ErrStorageUnavailable wraps infrastructure failures (lock timeout,
	// connection loss). The atomic section guarantees no partial commit
	// happened, so the whole operation is safe to retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// InvalidTransitionError is returned for any state-machine edge not
// listed in the transition maps. The aggregate is left unchanged.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition from %s to %s", e.Entity, e.From, e.To)
}

func NewInvalidTransition(entity, from, to string) error {
	return &InvalidTransitionError{Entity: entity, From: from, To: to}
}
