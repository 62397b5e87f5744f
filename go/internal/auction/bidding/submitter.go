// Package bidding places bids with at most one in flight per room: over the
// live channel when it is connected, falling back to the request/response
// endpoint with the same idempotency key when it is not.
package bidding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/bazaar/go/internal/auction/auctionerr"
	"github.com/mcdev12/bazaar/go/internal/auction/events"
	"github.com/mcdev12/bazaar/go/internal/models"
)

// DefaultFallbackTimeout bounds fallback calls started by a room error.
const DefaultFallbackTimeout = 8 * time.Second

var errRoomError = errors.New("room error while awaiting acknowledgment")

// Channel is the live-channel side of a bid.
type Channel interface {
	State() models.ConnectionState
	PlaceBid(ctx context.Context, amount decimal.Decimal, idempotencyKey string) (models.BidAck, error)
}

// Fallback is the request/response side of a bid.
type Fallback interface {
	SubmitBid(ctx context.Context, auctionID string, amount decimal.Decimal, idempotencyKey string) (models.BidResult, error)
}

// Store is the pending-bid slot and snapshot a Submitter works against.
type Store interface {
	AuctionID() string
	Snapshot() (models.AuctionSnapshot, bool)
	PendingBid() (models.PendingBid, bool)
	ArmPendingBid(amount decimal.Decimal) (models.PendingBid, error)
	AcknowledgePendingBid(id uuid.UUID) bool
	ResolvePendingBid(id uuid.UUID, outcome models.BidOutcome, reason string) bool
	MergeBidResult(id uuid.UUID, res models.BidResult)
}

// Path is how a bid reached the server.
type Path string

const (
	PathChannel  Path = "channel"
	PathFallback Path = "fallback"
)

// Receipt describes a submitted bid. A channel receipt means the gateway
// accepted the message; the price itself arrives as a price update.
type Receipt struct {
	Bid    models.PendingBid `json:"bid"`
	Path   Path              `json:"path"`
	Ack    *models.BidAck    `json:"ack,omitempty"`
	Result *models.BidResult `json:"result,omitempty"`
}

type attemptPhase int

const (
	phaseAwaitingAck attemptPhase = iota
	phaseFallback
)

type attempt struct {
	phase  attemptPhase
	cancel context.CancelCauseFunc
}

// Submitter places bids for one room.
type Submitter struct {
	store           Store
	channel         Channel
	fallback        Fallback
	fallbackTimeout time.Duration

	mu       sync.Mutex
	attempts map[uuid.UUID]*attempt
	wg       sync.WaitGroup
}

// NewSubmitter creates a Submitter. channel may be nil, in which case every
// bid goes through fallback.
func NewSubmitter(store Store, channel Channel, fallback Fallback) *Submitter {
	return &Submitter{
		store:           store,
		channel:         channel,
		fallback:        fallback,
		fallbackTimeout: DefaultFallbackTimeout,
		attempts:        make(map[uuid.UUID]*attempt),
	}
}

// PlaceBid arms a pending bid for amount and submits it.
func (s *Submitter) PlaceBid(ctx context.Context, amount decimal.Decimal) (Receipt, error) {
	snap, ok := s.store.Snapshot()
	if !ok || snap.Status != models.AuctionStatusLive {
		return Receipt{}, auctionerr.ErrAuctionNotLive
	}
	if minimum := snap.MinimumNextBid(); amount.LessThan(minimum) {
		return Receipt{}, &auctionerr.BelowMinimumError{Amount: amount, Minimum: minimum}
	}

	bid, err := s.store.ArmPendingBid(amount)
	if err != nil {
		return Receipt{}, fmt.Errorf("arm bid: %w", err)
	}

	logger := log.With().
		Str("auction_id", s.store.AuctionID()).
		Str("bid_id", bid.ID.String()).
		Str("amount", amount.String()).
		Logger()

	s.track(bid.ID, phaseAwaitingAck, nil)
	defer s.untrack(bid.ID)

	path := PathFallback
	if s.channel != nil && s.channel.State() == models.ConnectionConnected {
		path = PathChannel
		ack, err := s.sendOverChannel(ctx, bid)
		switch {
		case err == nil && ack.Accepted:
			s.store.AcknowledgePendingBid(bid.ID)
			logger.Debug().Msg("bid acknowledged over live channel")
			return Receipt{Bid: bid, Path: PathChannel, Ack: &ack}, nil

		case err == nil:
			rejected := &auctionerr.BidRejectedError{Amount: amount, Reason: ack.Reason}
			s.store.ResolvePendingBid(bid.ID, models.BidOutcomeRejected, ack.Reason)
			logger.Info().Str("reason", ack.Reason).Msg("bid rejected over live channel")
			return Receipt{Bid: bid, Path: PathChannel, Ack: &ack}, rejected

		case ctx.Err() != nil:
			// The caller gave up; the bid may still land and expiry clears it otherwise.
			return Receipt{Bid: bid, Path: PathChannel}, ctx.Err()

		case !shouldFallBack(err):
			s.store.ResolvePendingBid(bid.ID, models.BidOutcomeFailed, err.Error())
			return Receipt{Bid: bid, Path: PathChannel}, err
		}

		logger.Warn().Err(err).Msg("live channel bid unconfirmed, falling back to request/response")
	}

	if s.replaced(bid.ID) {
		logger.Info().Msg("bid superseded before reaching the server, skipping fallback")
		return Receipt{Bid: bid, Path: path}, auctionerr.ErrBidSuperseded
	}

	s.track(bid.ID, phaseFallback, nil)
	return s.submitFallback(ctx, bid)
}

// HandleRoomError is installed as the store's room error hook. An attempt
// still waiting for its ack abandons the wait and falls back; a bid that
// was already acknowledged is resubmitted through fallback in the
// background with the same idempotency key.
func (s *Submitter) HandleRoomError(ev events.ErrorEvent, pending models.PendingBid) {
	s.mu.Lock()
	a, ok := s.attempts[pending.ID]
	s.mu.Unlock()

	if ok {
		if a.phase == phaseAwaitingAck && a.cancel != nil {
			a.cancel(errRoomError)
		}
		return
	}

	log.Info().
		Str("auction_id", s.store.AuctionID()).
		Str("bid_id", pending.ID.String()).
		Str("room_error", ev.Message).
		Msg("room error with pending bid, confirming through fallback")

	s.track(pending.ID, phaseFallback, nil)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(pending.ID)

		if s.replaced(pending.ID) {
			log.Debug().Str("bid_id", pending.ID.String()).Msg("bid superseded, skipping background fallback")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.fallbackTimeout)
		defer cancel()
		if _, err := s.submitFallback(ctx, pending); err != nil {
			log.Warn().Err(err).Str("bid_id", pending.ID.String()).Msg("background fallback bid failed")
		}
	}()
}

// Wait blocks until background fallbacks started by HandleRoomError finish.
func (s *Submitter) Wait() {
	s.wg.Wait()
}

func (s *Submitter) sendOverChannel(ctx context.Context, bid models.PendingBid) (models.BidAck, error) {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.track(bid.ID, phaseAwaitingAck, cancel)

	ack, err := s.channel.PlaceBid(attemptCtx, bid.Amount, bid.IdempotencyKey())
	if err != nil && ctx.Err() == nil && errors.Is(context.Cause(attemptCtx), errRoomError) {
		return models.BidAck{}, errRoomError
	}
	return ack, err
}

func (s *Submitter) submitFallback(ctx context.Context, bid models.PendingBid) (Receipt, error) {
	receipt := Receipt{Bid: bid, Path: PathFallback}

	res, err := s.fallback.SubmitBid(ctx, s.store.AuctionID(), bid.Amount, bid.IdempotencyKey())
	if err != nil {
		outcome := models.BidOutcomeFailed
		var rejected *auctionerr.BidRejectedError
		if errors.As(err, &rejected) {
			outcome = models.BidOutcomeRejected
		}
		s.store.ResolvePendingBid(bid.ID, outcome, err.Error())
		return receipt, err
	}

	s.store.MergeBidResult(bid.ID, res)
	receipt.Result = &res
	return receipt, nil
}

// replaced reports whether a newer bid holds the pending slot. A bid that
// only expired is not replaced and still falls back.
func (s *Submitter) replaced(id uuid.UUID) bool {
	current, ok := s.store.PendingBid()
	return ok && current.ID != id
}

func (s *Submitter) track(id uuid.UUID, phase attemptPhase, cancel context.CancelCauseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[id] = &attempt{phase: phase, cancel: cancel}
}

func (s *Submitter) untrack(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, id)
}

func shouldFallBack(err error) bool {
	return errors.Is(err, errRoomError) ||
		errors.Is(err, auctionerr.ErrNotConnected) ||
		auctionerr.IsRetriable(err)
}
