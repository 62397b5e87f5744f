package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PendingBid is the optimistic bid the local user is waiting on.
// ID doubles as the idempotency key sent to the server.
type PendingBid struct {
	ID          uuid.UUID       `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	SubmittedAt time.Time       `json:"submitted_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// IdempotencyKey returns the key the server uses to deduplicate retries.
func (p PendingBid) IdempotencyKey() string {
	return p.ID.String()
}

// BidOutcome describes how a pending bid left the armed state.
type BidOutcome string

const (
	BidOutcomeConfirmed  BidOutcome = "confirmed"
	BidOutcomeRejected   BidOutcome = "rejected"
	BidOutcomeOutbid     BidOutcome = "outbid"
	BidOutcomeTimedOut   BidOutcome = "timed_out"
	BidOutcomeFailed     BidOutcome = "failed"
	BidOutcomeSuperseded BidOutcome = "superseded"
	BidOutcomeCancelled  BidOutcome = "cancelled"
)

// BidResult is what the request/response bid endpoint returns on success.
type BidResult struct {
	CurrentPrice    decimal.Decimal `json:"current_price"`
	WinnerID        *string         `json:"winner_id,omitempty"`
	ServerTimestamp time.Time       `json:"server_timestamp"`
}

// BidAck is the scoped acknowledgment for a place_bid channel message.
type BidAck struct {
	MessageID string `json:"id"`
	Accepted  bool   `json:"ok"`
	Reason    string `json:"reason,omitempty"`
}
