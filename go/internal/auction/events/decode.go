package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/bazaar/go/internal/models"
)

// ErrUnknownType is returned for envelopes that are not inbound room events.
var ErrUnknownType = errors.New("unknown event type")

// Decode converts an inbound envelope into its event. Ack envelopes are not
// events and return ErrUnknownType; the channel handles them itself.
func Decode(env Envelope) (Event, error) {
	header := Header{AuctionID: env.AuctionID, ServerTimestamp: env.ServerTime()}

	switch env.Type {
	case MessageState:
		var p StatePayload
		if err := unmarshal(env, &p); err != nil {
			return nil, err
		}
		if p.AuctionID == "" {
			p.AuctionID = env.AuctionID
		}
		if !p.Status.Valid() {
			return nil, fmt.Errorf("state event: invalid status %q", p.Status)
		}
		return StateEvent{
			Header: header,
			Snapshot: models.AuctionSnapshot{
				AuctionID:       p.AuctionID,
				Status:          p.Status,
				CurrentPrice:    p.CurrentPrice,
				MinIncrement:    p.MinIncrement,
				EndAt:           p.EndAt,
				WinnerID:        p.WinnerID,
				FinalPrice:      p.FinalPrice,
				ServerTimestamp: header.ServerTimestamp,
			},
		}, nil

	case MessagePriceUpdate:
		var p PriceUpdatePayload
		if err := unmarshal(env, &p); err != nil {
			return nil, err
		}
		if p.CurrentPrice == nil && p.EndAt == nil && p.WinnerID == nil {
			return nil, fmt.Errorf("price_update event: no fields to merge")
		}
		return PriceUpdateEvent{Header: header, CurrentPrice: p.CurrentPrice, EndAt: p.EndAt, WinnerID: p.WinnerID}, nil

	case MessageExtended:
		var p ExtendedPayload
		if err := unmarshal(env, &p); err != nil {
			return nil, err
		}
		if p.EndAt.IsZero() {
			return nil, fmt.Errorf("extended event: missing end_at")
		}
		return ExtendedEvent{Header: header, EndAt: p.EndAt}, nil

	case MessageError:
		var p ErrorPayload
		if err := unmarshal(env, &p); err != nil {
			return nil, err
		}
		return ErrorEvent{Header: header, Message: p.Message, Code: p.Code}, nil

	case MessageEnded:
		var p EndedPayload
		if err := unmarshal(env, &p); err != nil {
			return nil, err
		}
		return EndedEvent{Header: header, WinnerID: p.WinnerID, FinalPrice: p.FinalPrice}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}
}

func unmarshal(env Envelope, v interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s event: empty payload", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s event: unmarshal payload: %w", env.Type, err)
	}
	return nil
}
