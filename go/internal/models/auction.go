package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus defines the lifecycle status of an auction.
type AuctionStatus string

const (
	AuctionStatusScheduled AuctionStatus = "scheduled"
	AuctionStatusLive      AuctionStatus = "live"
	AuctionStatusEnded     AuctionStatus = "ended"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionStatusScheduled, AuctionStatusLive, AuctionStatusEnded, AuctionStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further bidding or countdown can happen.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionStatusEnded || s == AuctionStatusCancelled
}

// AuctionSnapshot is a full, self-consistent view of an auction at ServerTimestamp.
// EndAt is an instant on the server's clock and must be compared against
// server time, never against the local wall clock.
type AuctionSnapshot struct {
	AuctionID       string           `json:"auction_id"`
	Status          AuctionStatus    `json:"status"`
	CurrentPrice    decimal.Decimal  `json:"current_price"`
	MinIncrement    decimal.Decimal  `json:"min_increment"`
	EndAt           time.Time        `json:"end_at"`
	WinnerID        *string          `json:"winner_id,omitempty"`
	FinalPrice      *decimal.Decimal `json:"final_price,omitempty"`
	ServerTimestamp time.Time        `json:"server_timestamp"`
}

// MinimumNextBid is the lowest amount the client will offer for submission.
// It is advisory only, the server decides.
func (s AuctionSnapshot) MinimumNextBid() decimal.Decimal {
	return s.CurrentPrice.Add(s.MinIncrement)
}

// IsWinner reports whether userID is the current leader.
func (s AuctionSnapshot) IsWinner(userID string) bool {
	return s.WinnerID != nil && userID != "" && *s.WinnerID == userID
}

// AuctionSummary is a row of the paginated auction listing.
type AuctionSummary struct {
	AuctionID    string          `json:"id"`
	Title        string          `json:"title"`
	Status       AuctionStatus   `json:"status"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	EndAt        time.Time       `json:"endAt"`
}

// AuctionPage is one page of auction summaries.
type AuctionPage struct {
	Items    []AuctionSummary `json:"items"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Total    int              `json:"total"`
}
