package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mcdev12/bazaar/go/internal/models"
)

// StatePayload is a full auction snapshot.
type StatePayload struct {
	AuctionID    string               `json:"auction_id"`
	Status       models.AuctionStatus `json:"status"`
	CurrentPrice decimal.Decimal      `json:"current_price"`
	MinIncrement decimal.Decimal      `json:"min_increment"`
	EndAt        time.Time            `json:"end_at"`
	WinnerID     *string              `json:"winner_id,omitempty"`
	FinalPrice   *decimal.Decimal     `json:"final_price,omitempty"`
}

// PriceUpdatePayload is a partial merge after an accepted bid.
type PriceUpdatePayload struct {
	CurrentPrice *decimal.Decimal `json:"current_price,omitempty"`
	EndAt        *time.Time       `json:"end_at,omitempty"`
	WinnerID     *string          `json:"winner_id,omitempty"`
}

// ExtendedPayload moves the end of the auction.
type ExtendedPayload struct {
	EndAt time.Time `json:"end_at"`
}

// ErrorPayload is a room-scoped error.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// EndedPayload closes the auction.
type EndedPayload struct {
	WinnerID   *string          `json:"winner_id,omitempty"`
	FinalPrice *decimal.Decimal `json:"final_price,omitempty"`
}

// AckPayload acknowledges a place_bid message.
type AckPayload struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// PlaceBidPayload is the body of an outbound bid.
type PlaceBidPayload struct {
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
}
