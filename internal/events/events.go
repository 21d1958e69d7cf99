package events

import "context"

// Streams
const (
	StreamTransfer = "events:transfer"
	StreamEscrow   = "events:escrow"
)

// Event types
const (
	EventTransferCompleted   = "transfer_completed"
	EventAccountCreated      = "account_created"
	EventEscrowStatusChanged = "escrow_status_changed"
	EventEscrowInvitation    = "escrow_invitation"
	EventMilestoneFunded     = "milestone_funded"
	EventMilestoneSubmitted  = "milestone_submitted"
	EventMilestoneReleased   = "milestone_released"
	EventDisputeRaised       = "dispute_raised"
	EventDisputeResolved     = "dispute_resolved"
	EventDisputeOverdue      = "dispute_response_overdue"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Publisher delivery is fire-and-forget: a publish failure must never
// fail or roll back the operation that produced the event.
type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
