package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Escrow statuses
const (
	EscrowStatusDraft              = "draft"
	EscrowStatusAwaitingAcceptance = "awaiting_acceptance"
	EscrowStatusAwaitingFunding    = "awaiting_funding"
	EscrowStatusFunded             = "funded"
	EscrowStatusInProgress         = "in_progress"
	EscrowStatusDisputed           = "disputed"
	EscrowStatusCompleted          = "completed"
	EscrowStatusCancelled          = "cancelled"
	EscrowStatusRefunded           = "refunded"
)

// Valid escrow state transitions: from -> []to
var ValidEscrowTransitions = map[string][]string{
	EscrowStatusDraft:              {EscrowStatusAwaitingAcceptance, EscrowStatusCancelled},
	EscrowStatusAwaitingAcceptance: {EscrowStatusAwaitingFunding, EscrowStatusCancelled},
	EscrowStatusAwaitingFunding:    {EscrowStatusFunded, EscrowStatusCancelled},
	EscrowStatusFunded:             {EscrowStatusInProgress, EscrowStatusDisputed, EscrowStatusCancelled},
	EscrowStatusInProgress:         {EscrowStatusCompleted, EscrowStatusDisputed, EscrowStatusCancelled},
	EscrowStatusDisputed:           {EscrowStatusInProgress, EscrowStatusRefunded, EscrowStatusCompleted},
	EscrowStatusCompleted:          {},
	EscrowStatusCancelled:          {},
	EscrowStatusRefunded:           {},
}

func IsValidEscrowTransition(from, to string) bool {
	allowed, ok := ValidEscrowTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalEscrowStatus reports whether no further transitions exist.
func IsTerminalEscrowStatus(status string) bool {
	allowed, ok := ValidEscrowTransitions[status]
	return ok && len(allowed) == 0
}

// Milestone statuses
const (
	MilestoneStatusPending         = "pending"
	MilestoneStatusAwaitingFunding = "awaiting_funding"
	MilestoneStatusFunded          = "funded"
	MilestoneStatusUnderReview     = "under_review"
	MilestoneStatusReleased        = "released"
	MilestoneStatusDisputed        = "disputed"
	MilestoneStatusCancelled       = "cancelled"
)

// Valid milestone transitions. disputed/cancelled are reachable from any
// non-terminal state; disputed returns to a funding state when a dispute
// resolves with the escrow continuing.
var ValidMilestoneTransitions = map[string][]string{
	MilestoneStatusPending:         {MilestoneStatusAwaitingFunding, MilestoneStatusDisputed, MilestoneStatusCancelled},
	MilestoneStatusAwaitingFunding: {MilestoneStatusFunded, MilestoneStatusDisputed, MilestoneStatusCancelled},
	MilestoneStatusFunded:          {MilestoneStatusUnderReview, MilestoneStatusReleased, MilestoneStatusDisputed, MilestoneStatusCancelled},
	MilestoneStatusUnderReview:     {MilestoneStatusReleased, MilestoneStatusDisputed, MilestoneStatusCancelled},
	MilestoneStatusDisputed:        {MilestoneStatusFunded, MilestoneStatusAwaitingFunding, MilestoneStatusReleased, MilestoneStatusCancelled},
	MilestoneStatusReleased:        {},
	MilestoneStatusCancelled:       {},
}

func IsValidMilestoneTransition(from, to string) bool {
	allowed, ok := ValidMilestoneTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Party roles
const (
	RoleBuyer    = "buyer"
	RoleSeller   = "seller"
	RoleMediator = "mediator"
)

// Escrow is a multi-party conditional-payment agreement. Funds held by
// the escrow live in a dedicated holding account so that every movement
// produces an ordinary debit/credit ledger pair.
type Escrow struct {
	ID                   uuid.UUID       `json:"id"`
	Title                string          `json:"title"`
	Description          *string         `json:"description,omitempty"`
	Status               string          `json:"status"`
	Currency             string          `json:"currency"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	PlatformFeeAmount    decimal.Decimal `json:"platform_fee_amount"`
	PlatformFeePercent   decimal.Decimal `json:"platform_fee_percent"`
	AutoReleaseEnabled   bool            `json:"auto_release_enabled"`
	AutoReleaseAfterDays int             `json:"auto_release_after_days"`
	ExpiresAt            *time.Time      `json:"expires_at,omitempty"`
	HoldingAccountID     uuid.UUID       `json:"holding_account_id"`
	CreatedBy            uuid.UUID       `json:"created_by"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Party is one participant of an escrow. UserID is filled when the party
// accepts by matching email.
type Party struct {
	ID         uuid.UUID  `json:"id"`
	EscrowID   uuid.UUID  `json:"escrow_id"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Email      string     `json:"email"`
	Role       string     `json:"role"` // buyer / seller / mediator
	Accepted   bool       `json:"accepted"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

// Milestone is one funded-and-released unit of an escrow. AmountFunded
// is non-decreasing and never exceeds Amount; the milestone is funded
// exactly when the two are equal.
type Milestone struct {
	ID              uuid.UUID       `json:"id"`
	EscrowID        uuid.UUID       `json:"escrow_id"`
	Ord             int             `json:"ord"` // 1-based release order
	Title           string          `json:"title"`
	Amount          decimal.Decimal `json:"amount"`
	AmountFunded    decimal.Decimal `json:"amount_funded"`
	Status          string          `json:"status"`
	DeliverableURL  *string         `json:"deliverable_url,omitempty"`
	DeliverableNote *string         `json:"deliverable_note,omitempty"`
	FundedAt        *time.Time      `json:"funded_at,omitempty"`
	SubmittedAt     *time.Time      `json:"submitted_at,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	ReleasedAt      *time.Time      `json:"released_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// IsFunded reports whether the milestone has reached its full amount.
func (m *Milestone) IsFunded() bool {
	return m.AmountFunded.Equal(m.Amount)
}

// Dispute statuses
const (
	DisputeStatusOpen     = "open"
	DisputeStatusResolved = "resolved"
)

// Dispute resolutions
const (
	ResolutionRefundBuyer   = "refund_buyer"
	ResolutionReleaseSeller = "release_seller"
	ResolutionCustomSplit   = "custom_split"
)

// Dispute is raised against an escrow. At most one open dispute exists
// per escrow at a time.
type Dispute struct {
	ID             uuid.UUID        `json:"id"`
	EscrowID       uuid.UUID        `json:"escrow_id"`
	MilestoneID    *uuid.UUID       `json:"milestone_id,omitempty"`
	RaisedByUserID uuid.UUID        `json:"raised_by_user_id"`
	RaisedByRole   string           `json:"raised_by_role"`
	Reason         string           `json:"reason"`
	Description    *string          `json:"description,omitempty"`
	EvidenceURLs   []string         `json:"evidence_urls,omitempty"`
	Status         string           `json:"status"`
	Resolution     *string          `json:"resolution,omitempty"`
	RefundAmount   *decimal.Decimal `json:"refund_amount,omitempty"`
	ReleaseAmount  *decimal.Decimal `json:"release_amount,omitempty"`
	RespondBy      time.Time        `json:"respond_by"`
	ResolvedBy     *uuid.UUID       `json:"resolved_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
}

// EscrowDetail aggregates an escrow with its parties and milestones for
// read paths, avoiding N+1 fetches in handlers.
type EscrowDetail struct {
	Escrow
	Parties    []Party     `json:"parties"`
	Milestones []Milestone `json:"milestones"`
}
