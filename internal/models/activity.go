package models

import (
	"time"

	"github.com/google/uuid"
)

// Activity is one audit-trail record. Every state transition and money
// movement writes one; delivery to external consumers is fire-and-forget.
type Activity struct {
	ID          uuid.UUID  `json:"id"`
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty"`
	ActorType   string     `json:"actor_type"` // user/admin/system
	Action      string     `json:"action"`
	EntityType  string     `json:"entity_type"` // transfer/account/escrow/milestone/dispute/fee_rule
	EntityID    *uuid.UUID `json:"entity_id,omitempty"`
	Meta        any        `json:"meta,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
