// Package events defines the closed set of inbound live-channel events.
//
// Every event kind has a method on Handler; consumers implement Handler and
// call Event.Dispatch, so adding or removing a kind breaks every handler at
// compile time instead of silently falling through a string switch.
package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mcdev12/bazaar/go/internal/models"
)

// Kind names an inbound event.
type Kind string

const (
	KindState       Kind = Kind(MessageState)
	KindPriceUpdate Kind = Kind(MessagePriceUpdate)
	KindExtended    Kind = Kind(MessageExtended)
	KindError       Kind = Kind(MessageError)
	KindEnded       Kind = Kind(MessageEnded)
)

// Event is one of StateEvent, PriceUpdateEvent, ExtendedEvent, ErrorEvent, EndedEvent.
type Event interface {
	Kind() Kind
	Room() string
	// ServerTime is the server timestamp carried by the message, or zero.
	ServerTime() time.Time
	Dispatch(h Handler)
	sealed()
}

// Handler receives each event kind.
type Handler interface {
	HandleState(StateEvent)
	HandlePriceUpdate(PriceUpdateEvent)
	HandleExtended(ExtendedEvent)
	HandleError(ErrorEvent)
	HandleEnded(EndedEvent)
}

// Header carries the fields common to all events.
type Header struct {
	AuctionID       string
	ServerTimestamp time.Time
}

func (h Header) Room() string          { return h.AuctionID }
func (h Header) ServerTime() time.Time { return h.ServerTimestamp }

// StateEvent replaces the whole snapshot.
type StateEvent struct {
	Header
	Snapshot models.AuctionSnapshot
}

func (StateEvent) Kind() Kind           { return KindState }
func (e StateEvent) Dispatch(h Handler) { h.HandleState(e) }
func (StateEvent) sealed()              {}

// PriceUpdateEvent merges whichever of price, end time and leader it carries.
type PriceUpdateEvent struct {
	Header
	CurrentPrice *decimal.Decimal
	EndAt        *time.Time
	WinnerID     *string
}

func (PriceUpdateEvent) Kind() Kind           { return KindPriceUpdate }
func (e PriceUpdateEvent) Dispatch(h Handler) { h.HandlePriceUpdate(e) }
func (PriceUpdateEvent) sealed()              {}

// ExtendedEvent moves EndAt, typically after a late bid.
type ExtendedEvent struct {
	Header
	EndAt time.Time
}

func (ExtendedEvent) Kind() Kind           { return KindExtended }
func (e ExtendedEvent) Dispatch(h Handler) { h.HandleExtended(e) }
func (ExtendedEvent) sealed()              {}

// ErrorEvent is a room-scoped error from the gateway.
type ErrorEvent struct {
	Header
	Message string
	Code    string
}

func (ErrorEvent) Kind() Kind           { return KindError }
func (e ErrorEvent) Dispatch(h Handler) { h.HandleError(e) }
func (ErrorEvent) sealed()              {}

// EndedEvent is terminal and the only authoritative end signal.
type EndedEvent struct {
	Header
	WinnerID   *string
	FinalPrice *decimal.Decimal
}

func (EndedEvent) Kind() Kind           { return KindEnded }
func (e EndedEvent) Dispatch(h Handler) { h.HandleEnded(e) }
func (EndedEvent) sealed()              {}
