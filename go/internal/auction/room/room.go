// Package room ties one auction subscription together: clock sync, store,
// live channel, bid submitter, resync loop and countdown, with a single
// teardown path.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/bazaar/go/internal/auction/bidding"
	"github.com/mcdev12/bazaar/go/internal/auction/channel"
	"github.com/mcdev12/bazaar/go/internal/auction/clocksync"
	"github.com/mcdev12/bazaar/go/internal/auction/countdown"
	"github.com/mcdev12/bazaar/go/internal/auction/snapshot"
	"github.com/mcdev12/bazaar/go/internal/auction/store"
	"github.com/mcdev12/bazaar/go/internal/models"
)

// Snapshots is the request/response side of a room.
type Snapshots interface {
	Fetch(ctx context.Context, auctionID string) (models.AuctionSnapshot, error)
	SubmitBid(ctx context.Context, auctionID string, amount decimal.Decimal, idempotencyKey string) (models.BidResult, error)
	ResyncOnInterval(ctx context.Context, auctionID string, interval time.Duration, sink snapshot.Sink)
}

// Deps is what every room of a process shares.
type Deps struct {
	Snapshots Snapshots
	// Dialer may be nil to run on resync polling and fallback bids only.
	Dialer         channel.Dialer
	Credentials    channel.Credentials
	Channel        channel.Config
	ResyncInterval time.Duration
	TickInterval   time.Duration
	BidTTL         time.Duration
	RequestTimeout time.Duration
	Clock          clockwork.Clock
}

// Room is an open auction subscription.
type Room struct {
	auctionID string
	deps      Deps

	clockSync *clocksync.ClockSync
	store     *store.Store
	channel   *channel.Channel
	submitter *bidding.Submitter
	ticker    *countdown.Ticker

	cancel    context.CancelFunc
	ctx       context.Context
	wg        sync.WaitGroup
	started   atomic.Bool
	closeOnce sync.Once
}

// Open fetches the initial snapshot and starts the room. If the initial
// fetch fails the room is not opened and the typed fetch error is returned.
// A channel that fails to connect is not fatal: the room serves the
// snapshot as stale while the channel keeps retrying.
func Open(ctx context.Context, deps Deps, auctionID string) (*Room, error) {
	if auctionID == "" {
		return nil, errors.New("auction id is required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	r := &Room{auctionID: auctionID, deps: deps}
	r.clockSync = clocksync.New(deps.Clock)
	r.store = store.New(auctionID, deps.Credentials.UserID, r.clockSync,
		store.WithClock(deps.Clock),
		store.WithBidTTL(deps.BidTTL),
	)

	snap, err := deps.Snapshots.Fetch(ctx, auctionID)
	if err != nil {
		r.store.Close()
		return nil, fmt.Errorf("open auction room %s: %w", auctionID, err)
	}
	r.store.ApplySnapshot(snap)

	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		deps.Snapshots.ResyncOnInterval(r.ctx, auctionID, deps.ResyncInterval, r.store)
	}()

	var bidChannel bidding.Channel
	if deps.Dialer != nil {
		r.channel = channel.New(auctionID, deps.Credentials, deps.Dialer, r.store, deps.Channel,
			channel.WithClock(deps.Clock),
			channel.WithStateObserver(r.onConnectionState),
		)
		bidChannel = r.channel
	}

	r.submitter = bidding.NewSubmitter(r.store, bidChannel, deps.Snapshots)
	r.store.SetRoomErrorHandler(r.submitter.HandleRoomError)

	if r.channel != nil {
		if err := r.channel.Connect(r.ctx); err != nil {
			log.Warn().Err(err).Str("auction_id", auctionID).Msg("live channel unavailable, continuing on resync")
		}
	}
	r.started.Store(true)

	r.ticker = countdown.NewTicker(deps.Clock, r.clockSync, r.store, deps.TickInterval)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.ticker.Run(r.ctx)
	}()

	log.Info().
		Str("auction_id", auctionID).
		Str("status", string(snap.Status)).
		Str("current_price", snap.CurrentPrice.String()).
		Msg("auction room opened")
	return r, nil
}

func (r *Room) AuctionID() string    { return r.auctionID }
func (r *Room) Store() *store.Store { return r.store }
func (r *Room) View() store.View    { return r.store.View() }

// Subscribe registers a view on the room's store.
func (r *Room) Subscribe(buffer int) (<-chan store.Update, func()) {
	return r.store.Subscribe(buffer)
}

// PlaceBid submits a bid in this room.
func (r *Room) PlaceBid(ctx context.Context, amount decimal.Decimal) (bidding.Receipt, error) {
	return r.submitter.PlaceBid(ctx, amount)
}

// ConnectionState returns the live channel state, Disconnected without one.
func (r *Room) ConnectionState() models.ConnectionState {
	if r.channel == nil {
		return models.ConnectionDisconnected
	}
	return r.channel.State()
}

// Close stops polling and the countdown, leaves the room and disconnects,
// then cancels the pending bid. Safe to call more than once.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		if r.channel != nil {
			r.channel.Disconnect()
		}
		r.wg.Wait()
		r.submitter.Wait()
		r.store.Close()
		log.Info().Str("auction_id", r.auctionID).Msg("auction room closed")
	})
}

// Switch closes r and opens a room for auctionID with the same dependencies.
func (r *Room) Switch(ctx context.Context, auctionID string) (*Room, error) {
	r.Close()
	return Open(ctx, r.deps, auctionID)
}

func (r *Room) onConnectionState(state models.ConnectionState) {
	r.store.SetConnectionState(state)
	if state != models.ConnectionConnected {
		return
	}
	// The connect inside Open follows the initial fetch; any later one needs
	// a resync to cover whatever was missed while down.
	if r.started.Load() {
		r.resyncNow()
	}
}

func (r *Room) resyncNow() {
	if r.ctx == nil || r.ctx.Err() != nil {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx := r.ctx
		if r.deps.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.deps.RequestTimeout)
			defer cancel()
		}

		snap, err := r.deps.Snapshots.Fetch(ctx, r.auctionID)
		if err != nil {
			if r.ctx.Err() == nil {
				log.Warn().Err(err).Str("auction_id", r.auctionID).Msg("resync after reconnect failed")
			}
			return
		}
		r.store.ApplySnapshot(snap)
		log.Debug().Str("auction_id", r.auctionID).Msg("resynced after reconnect")
	}()
}
