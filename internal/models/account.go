package models

import (
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account kinds
const (
	AccountKindUser   = "user"
	AccountKindEscrow = "escrow"
)

// Account is a balance-holding entity. Balances are mutated only through
// the transfer service; the non-negativity invariant is checked under a
// row lock and backed by a DB CHECK constraint.
type Account struct {
	ID           uuid.UUID        `json:"id"`
	UserID       uuid.UUID        `json:"user_id"`
	Currency     string           `json:"currency"`
	Balance      decimal.Decimal  `json:"balance"`
	Kind         string           `json:"kind"` // user / escrow
	DailyLimit   *decimal.Decimal `json:"daily_limit,omitempty"`
	MonthlyLimit *decimal.Decimal `json:"monthly_limit,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Ledger entry types
const (
	EntryTypeDebit  = "debit"
	EntryTypeCredit = "credit"
)

// Ledger entry reference types
const (
	ReferenceTypeTransfer = "transfer"
	ReferenceTypeEscrow   = "escrow"
)

// LedgerEntry is one immutable record of a balance movement. Entries are
// appended in matched debit/credit pairs whose amounts sum to zero and
// are never updated or deleted.
type LedgerEntry struct {
	ID            uuid.UUID       `json:"id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"` // negative = debit, positive = credit
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	EntryType     string          `json:"entry_type"` // debit / credit
	Description   string          `json:"description"`
	ReferenceType *string         `json:"reference_type,omitempty"`
	ReferenceID   *uuid.UUID      `json:"reference_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Transfer statuses
const (
	TransferStatusPending   = "pending"
	TransferStatusCompleted = "completed"
	TransferStatusFailed    = "failed"
)

// Transfer types
const (
	TransferTypeInternal      = "internal_transfer"
	TransferTypeEscrowFunding = "escrow_funding"
	TransferTypeEscrowRelease = "escrow_release"
	TransferTypeEscrowRefund  = "escrow_refund"
	TransferTypeFee           = "fee"
)

// Transfer is a single point-to-point money movement. The idempotency
// key identifies at most one transfer; replays return the original row.
type Transfer struct {
	ID             uuid.UUID       `json:"id"`
	FromAccountID  uuid.UUID       `json:"from_account_id"`
	ToAccountID    uuid.UUID       `json:"to_account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	Type           string          `json:"type"`
	IdempotencyKey string          `json:"idempotency_key"`
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	Description    *string         `json:"description,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// IsValidCurrency reports whether s looks like an ISO 4217 code.
func IsValidCurrency(s string) bool {
	return currencyRe.MatchString(s)
}

var idempotencyKeyRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// IsValidIdempotencyKey validates a client-supplied key. Derived keys
// (sha256 hex) always satisfy this.
func IsValidIdempotencyKey(s string) bool {
	return idempotencyKeyRe.MatchString(s)
}
