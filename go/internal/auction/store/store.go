// Package store holds the authoritative client-side state of one auction
// room: the last snapshot, the pending bid, connection status and the
// countdown. All mutation goes through serialized merge methods; listeners
// and callbacks run after the lock is released.
//
// Push events and resync snapshots are applied in arrival order with no
// sequencing, so a slow resync response can overwrite a newer push.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/bazaar/go/internal/auction/auctionerr"
	"github.com/mcdev12/bazaar/go/internal/auction/clocksync"
	"github.com/mcdev12/bazaar/go/internal/auction/countdown"
	"github.com/mcdev12/bazaar/go/internal/auction/events"
	"github.com/mcdev12/bazaar/go/internal/models"
)

// DefaultBidTTL is how long a pending bid may stay unresolved.
const DefaultBidTTL = 8 * time.Second

// RoomErrorHandler is called when a room error arrives while a bid is pending,
// before the error is published to listeners.
type RoomErrorHandler func(ev events.ErrorEvent, pending models.PendingBid)

// Store is the state of one auction room as seen by one user.
type Store struct {
	auctionID string
	userID    string
	clock     clockwork.Clock
	clockSync *clocksync.ClockSync
	bidTTL    time.Duration

	mu           sync.Mutex
	snapshot     *models.AuctionSnapshot
	pending      pendingSlot
	connection   models.ConnectionState
	remaining    time.Duration
	displayEnded bool
	closed       bool
	onRoomError  RoomErrorHandler
	subscribers  map[uint64]chan Update
	nextSubID    uint64
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for pending-bid expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithBidTTL overrides DefaultBidTTL.
func WithBidTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.bidTTL = ttl
		}
	}
}

// New creates an empty store for auctionID. cs is updated from every
// server timestamp the store sees.
func New(auctionID, userID string, cs *clocksync.ClockSync, opts ...Option) *Store {
	s := &Store{
		auctionID:   auctionID,
		userID:      userID,
		clockSync:   cs,
		bidTTL:      DefaultBidTTL,
		subscribers: make(map[uint64]chan Update),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.clockSync == nil {
		s.clockSync = clocksync.New(s.clock)
	}
	return s
}

func (s *Store) AuctionID() string                { return s.auctionID }
func (s *Store) UserID() string                   { return s.userID }
func (s *Store) ClockSync() *clocksync.ClockSync { return s.clockSync }

// SetRoomErrorHandler installs the hook run on room errors while a bid is pending.
func (s *Store) SetRoomErrorHandler(h RoomErrorHandler) {
	s.mu.Lock()
	s.onRoomError = h
	s.mu.Unlock()
}

// View returns a copy of the current state.
func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Snapshot returns the last known snapshot, if seeded.
func (s *Store) Snapshot() (models.AuctionSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return models.AuctionSnapshot{}, false
	}
	return *s.snapshot, true
}

// PendingBid returns the outstanding bid, if any.
func (s *Store) PendingBid() (models.PendingBid, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.current()
}

type txn struct {
	updates []Update
	after   []func()
}

func (t *txn) emit(u Update) {
	t.updates = append(t.updates, u)
}

// mutate runs fn under the lock, then runs deferred callbacks and publishes.
// It reports false when the store is closed and fn did not run.
func (s *Store) mutate(fn func(tx *txn)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	var tx txn
	fn(&tx)
	if len(tx.updates) > 0 {
		v := s.viewLocked()
		for i := range tx.updates {
			tx.updates[i].View = v
		}
	}
	s.mu.Unlock()

	for _, f := range tx.after {
		f()
	}
	s.publish(tx.updates)
	return true
}

// Apply merges one live-channel event.
func (s *Store) Apply(ev events.Event) {
	if ev.Room() != s.auctionID {
		log.Warn().
			Str("auction_id", s.auctionID).
			Str("event_auction_id", ev.Room()).
			Str("kind", string(ev.Kind())).
			Msg("dropping event for another auction")
		return
	}

	s.clockSync.UpdateFromServerTime(ev.ServerTime())
	s.mutate(func(tx *txn) {
		ev.Dispatch(applier{s: s, tx: tx})
	})
}

// ApplySnapshot replaces the snapshot with one fetched over REST.
func (s *Store) ApplySnapshot(snap models.AuctionSnapshot) {
	s.clockSync.UpdateFromServerTime(snap.ServerTimestamp)
	s.mutate(func(tx *txn) {
		s.mergeSnapshotLocked(tx, snap)
	})
}

// ReportSyncError surfaces a persistent resync failure. The last snapshot
// stays visible.
func (s *Store) ReportSyncError(err error) {
	s.mutate(func(tx *txn) {
		tx.emit(Update{Kind: UpdateError, Message: fmt.Sprintf("auction sync failing: %v", err)})
	})
}

// SetConnectionState records the live channel status for display.
func (s *Store) SetConnectionState(state models.ConnectionState) {
	s.mutate(func(tx *txn) {
		if s.connection == state {
			return
		}
		s.connection = state
		tx.emit(Update{Kind: UpdateConnection})
	})
}

// Deadline exposes the countdown inputs.
func (s *Store) Deadline() (time.Time, models.AuctionStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return time.Time{}, "", false
	}
	return s.snapshot.EndAt, s.snapshot.Status, true
}

// PublishRemaining stores a countdown tick.
func (s *Store) PublishRemaining(remaining time.Duration) {
	s.mutate(func(tx *txn) {
		if s.snapshot == nil {
			return
		}
		if s.snapshot.Status.Terminal() {
			remaining = 0
		}
		s.setRemainingLocked(remaining)
		tx.emit(Update{Kind: UpdateTick})
	})
}

// ArmPendingBid installs a new pending bid for amount and starts its expiry
// timer. An outstanding bid is replaced and resolved as superseded.
func (s *Store) ArmPendingBid(amount decimal.Decimal) (models.PendingBid, error) {
	var (
		bid models.PendingBid
		err error
	)

	ran := s.mutate(func(tx *txn) {
		if s.snapshot == nil || s.snapshot.Status != models.AuctionStatusLive {
			err = auctionerr.ErrAuctionNotLive
			return
		}

		now := s.clock.Now()
		bid = models.PendingBid{
			ID:          uuid.New(),
			Amount:      amount,
			SubmittedAt: now,
			ExpiresAt:   now.Add(s.bidTTL),
		}
		id := bid.ID
		timer := s.clock.AfterFunc(s.bidTTL, func() {
			s.ResolvePendingBid(id, models.BidOutcomeTimedOut, "no confirmation before expiry")
		})

		if prev, replaced := s.pending.arm(bid, timer); replaced {
			log.Info().
				Str("auction_id", s.auctionID).
				Str("bid_id", prev.ID.String()).
				Str("replaced_by", id.String()).
				Msg("pending bid superseded")
			tx.emit(Update{Kind: UpdateBidOutcome, Outcome: models.BidOutcomeSuperseded})
		}

		log.Debug().
			Str("auction_id", s.auctionID).
			Str("bid_id", id.String()).
			Str("amount", amount.String()).
			Msg("pending bid armed")
		tx.emit(Update{Kind: UpdateBidArmed})
	})
	if !ran {
		return models.PendingBid{}, auctionerr.ErrRoomClosed
	}
	return bid, err
}

// AcknowledgePendingBid marks bid id as accepted by the gateway. The bid
// stays pending until the price update confirms it.
func (s *Store) AcknowledgePendingBid(id uuid.UUID) bool {
	var ok bool
	s.mutate(func(tx *txn) {
		ok = s.pending.ack(id)
	})
	return ok
}

// ResolvePendingBid clears bid id with outcome. It reports false when id is
// no longer the pending bid, which makes every clearing path idempotent.
func (s *Store) ResolvePendingBid(id uuid.UUID, outcome models.BidOutcome, reason string) bool {
	var ok bool
	s.mutate(func(tx *txn) {
		ok = s.resolveLocked(tx, id, outcome, reason)
	})
	return ok
}

// MergeBidResult applies the response of the request/response bid endpoint
// for bid id. The returned price is server state and is always merged; bid
// id is confirmed only if it still holds the pending slot, so a result that
// lands after expiry still updates the price.
func (s *Store) MergeBidResult(id uuid.UUID, res models.BidResult) {
	s.clockSync.UpdateFromServerTime(res.ServerTimestamp)
	s.mutate(func(tx *txn) {
		if s.snapshot == nil {
			log.Warn().
				Str("auction_id", s.auctionID).
				Str("bid_id", id.String()).
				Msg("bid result before initial snapshot, dropping")
			return
		}
		if !s.pending.holds(id) {
			log.Debug().
				Str("auction_id", s.auctionID).
				Str("bid_id", id.String()).
				Msg("merging bid result for bid that is no longer pending")
		}

		prevWinner := s.snapshot.WinnerID
		winner := s.userID
		if res.WinnerID != nil {
			winner = *res.WinnerID
		}
		s.snapshot.CurrentPrice = res.CurrentPrice
		s.snapshot.WinnerID = &winner
		if !res.ServerTimestamp.IsZero() {
			s.snapshot.ServerTimestamp = res.ServerTimestamp
		}

		// The server accepted this bid even if it did not move the price.
		s.resolveLocked(tx, id, models.BidOutcomeConfirmed, "")
		s.reconcileLocked(tx, prevWinner, true)
		s.recomputeLocked()
		tx.emit(Update{Kind: UpdateState})
	})
}

// Close cancels the pending bid and its timer and closes every listener.
// It is idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	var tx txn
	if bid, ok := s.pending.current(); ok {
		s.resolveLocked(&tx, bid.ID, models.BidOutcomeCancelled, "room closed")
	}
	s.closed = true

	v := s.viewLocked()
	for id, ch := range s.subscribers {
		for _, u := range tx.updates {
			u.View = v
			select {
			case ch <- u:
			default:
			}
		}
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Store) resolveLocked(tx *txn, id uuid.UUID, outcome models.BidOutcome, reason string) bool {
	bid, ok := s.pending.resolve(id)
	if !ok {
		return false
	}

	log.Info().
		Str("auction_id", s.auctionID).
		Str("bid_id", bid.ID.String()).
		Str("amount", bid.Amount.String()).
		Str("outcome", string(outcome)).
		Str("reason", reason).
		Msg("pending bid resolved")
	tx.emit(Update{Kind: UpdateBidOutcome, Outcome: outcome, Message: reason})
	return true
}

func (s *Store) mergeSnapshotLocked(tx *txn, snap models.AuctionSnapshot) {
	if snap.AuctionID != "" && snap.AuctionID != s.auctionID {
		log.Warn().
			Str("auction_id", s.auctionID).
			Str("snapshot_auction_id", snap.AuctionID).
			Msg("dropping snapshot for another auction")
		return
	}
	snap.AuctionID = s.auctionID

	var prevWinner *string
	wasTerminal := false
	if s.snapshot != nil {
		prevWinner = s.snapshot.WinnerID
		wasTerminal = s.snapshot.Status.Terminal()
	}

	s.snapshot = &snap
	s.reconcileLocked(tx, prevWinner, true)
	s.recomputeLocked()

	tx.emit(Update{Kind: UpdateState})
	if snap.Status.Terminal() && !wasTerminal {
		tx.emit(Update{Kind: UpdateEnded})
	}
}

// reconcileLocked clears the pending bid when the snapshot settles it:
// the local user leads at or above the bid, another user took the lead, or
// the auction is over. winnerReported is false when the merged message said
// nothing about the leader.
func (s *Store) reconcileLocked(tx *txn, prevWinner *string, winnerReported bool) {
	bid, ok := s.pending.current()
	if !ok || s.snapshot == nil {
		return
	}

	snap := s.snapshot
	price := snap.CurrentPrice
	if snap.FinalPrice != nil {
		price = *snap.FinalPrice
	}
	covers := price.GreaterThanOrEqual(bid.Amount)

	switch {
	case snap.IsWinner(s.userID):
		if covers {
			s.resolveLocked(tx, bid.ID, models.BidOutcomeConfirmed, "")
			return
		}
	case !winnerReported:
		if s.pending.phase == bidAcked && covers {
			s.resolveLocked(tx, bid.ID, models.BidOutcomeConfirmed, "")
			return
		}
	case snap.WinnerID != nil:
		// A leader we were already trying to beat is not news.
		if !sameUser(prevWinner, snap.WinnerID) || covers {
			s.resolveLocked(tx, bid.ID, models.BidOutcomeOutbid, fmt.Sprintf("outbid by %s", *snap.WinnerID))
			return
		}
	}

	if snap.Status.Terminal() {
		s.resolveLocked(tx, bid.ID, models.BidOutcomeFailed, "auction "+string(snap.Status))
	}
}

func (s *Store) recomputeLocked() {
	if s.snapshot == nil || s.snapshot.Status.Terminal() {
		s.remaining = 0
		s.displayEnded = false
		return
	}
	s.setRemainingLocked(countdown.Remaining(s.snapshot.EndAt, s.clockSync.ServerNow()))
}

func (s *Store) setRemainingLocked(remaining time.Duration) {
	s.remaining = remaining
	s.displayEnded = remaining == 0 && s.snapshot != nil && s.snapshot.Status == models.AuctionStatusLive
}

func sameUser(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// applier merges events with s.mu held.
type applier struct {
	s  *Store
	tx *txn
}

func (a applier) HandleState(ev events.StateEvent) {
	a.s.mergeSnapshotLocked(a.tx, ev.Snapshot)
}

func (a applier) HandlePriceUpdate(ev events.PriceUpdateEvent) {
	s := a.s
	if s.snapshot == nil {
		log.Warn().Str("auction_id", s.auctionID).Msg("price update before initial snapshot, dropping")
		return
	}

	prevWinner := s.snapshot.WinnerID
	if ev.CurrentPrice != nil {
		s.snapshot.CurrentPrice = *ev.CurrentPrice
	}
	if ev.EndAt != nil {
		s.snapshot.EndAt = *ev.EndAt
	}
	if ev.WinnerID != nil {
		winner := *ev.WinnerID
		s.snapshot.WinnerID = &winner
	}
	if !ev.ServerTimestamp.IsZero() {
		s.snapshot.ServerTimestamp = ev.ServerTimestamp
	}

	s.reconcileLocked(a.tx, prevWinner, ev.WinnerID != nil)
	s.recomputeLocked()
	a.tx.emit(Update{Kind: UpdateState})
}

func (a applier) HandleExtended(ev events.ExtendedEvent) {
	s := a.s
	if s.snapshot == nil {
		log.Warn().Str("auction_id", s.auctionID).Msg("extension before initial snapshot, dropping")
		return
	}

	s.snapshot.EndAt = ev.EndAt
	s.recomputeLocked()

	log.Info().
		Str("auction_id", s.auctionID).
		Time("end_at", ev.EndAt).
		Dur("remaining", s.remaining).
		Msg("auction extended")
	a.tx.emit(Update{Kind: UpdateExtended, Message: "auction extended until " + ev.EndAt.Format(time.RFC3339)})
}

func (a applier) HandleError(ev events.ErrorEvent) {
	s := a.s
	log.Warn().
		Str("auction_id", s.auctionID).
		Str("code", ev.Code).
		Str("message", ev.Message).
		Msg("room error")

	if bid, ok := s.pending.current(); ok && s.onRoomError != nil {
		hook := s.onRoomError
		a.tx.after = append(a.tx.after, func() { hook(ev, bid) })
	}
	a.tx.emit(Update{Kind: UpdateError, Message: ev.Message})
}

func (a applier) HandleEnded(ev events.EndedEvent) {
	s := a.s
	if s.snapshot == nil {
		s.snapshot = &models.AuctionSnapshot{AuctionID: s.auctionID}
	}

	prevWinner := s.snapshot.WinnerID
	s.snapshot.Status = models.AuctionStatusEnded
	s.snapshot.WinnerID = nil
	if ev.WinnerID != nil {
		winner := *ev.WinnerID
		s.snapshot.WinnerID = &winner
	}
	if ev.FinalPrice != nil {
		final := *ev.FinalPrice
		s.snapshot.FinalPrice = &final
		s.snapshot.CurrentPrice = final
	}
	if !ev.ServerTimestamp.IsZero() {
		s.snapshot.ServerTimestamp = ev.ServerTimestamp
	}

	s.reconcileLocked(a.tx, prevWinner, true)
	s.recomputeLocked()

	log.Info().
		Str("auction_id", s.auctionID).
		Str("final_price", s.snapshot.CurrentPrice.String()).
		Msg("auction ended")
	a.tx.emit(Update{Kind: UpdateEnded})
}
