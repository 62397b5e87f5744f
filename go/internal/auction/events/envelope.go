package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MessageType is the wire name of a channel message.
type MessageType string

const (
	// Outbound
	MessageJoin     MessageType = "join"
	MessageLeave    MessageType = "leave"
	MessagePlaceBid MessageType = "place_bid"

	// Inbound
	MessageState       MessageType = "state"
	MessagePriceUpdate MessageType = "price_update"
	MessageExtended    MessageType = "extended"
	MessageError       MessageType = "error"
	MessageEnded       MessageType = "ended"
	MessageAck         MessageType = "ack"
)

// Envelope is the JSON frame exchanged on the live channel in both directions.
// Timestamp is the server's clock when the server produced the message.
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	AuctionID string          `json:"auction_id"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ServerTime returns the envelope timestamp or the zero time.
func (e Envelope) ServerTime() time.Time {
	if e.Timestamp == nil {
		return time.Time{}
	}
	return *e.Timestamp
}

// JoinMessage asks the gateway to start delivering room events.
func JoinMessage(auctionID string) Envelope {
	return Envelope{ID: uuid.NewString(), Type: MessageJoin, AuctionID: auctionID}
}

// LeaveMessage stops delivery of room events.
func LeaveMessage(auctionID string) Envelope {
	return Envelope{ID: uuid.NewString(), Type: MessageLeave, AuctionID: auctionID}
}

// PlaceBidMessage builds a bid submission. The envelope id equals the
// idempotency key so the gateway's ack can be correlated to it.
func PlaceBidMessage(auctionID string, amount decimal.Decimal, idempotencyKey string) (Envelope, error) {
	data, err := json.Marshal(PlaceBidPayload{Amount: amount, IdempotencyKey: idempotencyKey})
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal place_bid payload: %w", err)
	}
	return Envelope{ID: idempotencyKey, Type: MessagePlaceBid, AuctionID: auctionID, Data: data}, nil
}
