package store

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bazaar/go/internal/models"
)

// UpdateKind tells a view why it is being notified.
type UpdateKind string

const (
	UpdateState      UpdateKind = "state"
	UpdateTick       UpdateKind = "tick"
	UpdateExtended   UpdateKind = "extended"
	UpdateEnded      UpdateKind = "ended"
	UpdateConnection UpdateKind = "connection"
	UpdateBidArmed   UpdateKind = "bid_armed"
	UpdateBidOutcome UpdateKind = "bid_outcome"
	UpdateError      UpdateKind = "error"
)

// View is a read-only copy of everything a view renders.
type View struct {
	AuctionID   string                  `json:"auction_id"`
	Snapshot    *models.AuctionSnapshot `json:"snapshot,omitempty"`
	PendingBid  *models.PendingBid      `json:"pending_bid,omitempty"`
	Connection  models.ConnectionState  `json:"connection"`
	RemainingMs int64                   `json:"remaining_ms"`
	// DisplayEnded is set when the local countdown reached zero while the
	// server still reports the auction live.
	DisplayEnded bool `json:"display_ended"`
	CanBid       bool `json:"can_bid"`
	// Stale means the live channel is down and the data may lag.
	Stale bool `json:"stale"`
}

// Remaining returns RemainingMs as a duration.
func (v View) Remaining() time.Duration {
	return time.Duration(v.RemainingMs) * time.Millisecond
}

// Update is one store notification.
type Update struct {
	Kind    UpdateKind        `json:"kind"`
	View    View              `json:"view"`
	Outcome models.BidOutcome `json:"outcome,omitempty"`
	Message string            `json:"message,omitempty"`
}

const defaultSubscriberBuffer = 64

// Subscribe registers a listener. Slow listeners lose updates rather than
// blocking the store; the latest View is always available from Store.View.
func (s *Store) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Update, buffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
}

// publish fans updates out without blocking. Caller must not hold s.mu.
func (s *Store) publish(updates []Update) {
	if len(updates) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		for id, ch := range s.subscribers {
			select {
			case ch <- u:
			default:
				log.Warn().
					Str("auction_id", s.auctionID).
					Uint64("subscriber", id).
					Str("kind", string(u.Kind)).
					Msg("subscriber buffer full, dropping update")
			}
		}
	}
}

func (s *Store) viewLocked() View {
	v := View{
		AuctionID:    s.auctionID,
		Connection:   s.connection,
		RemainingMs:  s.remaining.Milliseconds(),
		DisplayEnded: s.displayEnded,
		Stale:        s.connection != models.ConnectionConnected,
	}
	if s.snapshot != nil {
		snap := *s.snapshot
		v.Snapshot = &snap
	}
	if bid, ok := s.pending.current(); ok {
		v.PendingBid = &bid
	}
	v.CanBid = s.snapshot != nil &&
		s.snapshot.Status == models.AuctionStatusLive &&
		!s.displayEnded &&
		!s.pending.active()
	return v
}
