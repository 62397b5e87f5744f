// Package snapshot performs the request/response side of auction sync:
// authoritative snapshots, the periodic resync poll, the fallback bid call
// and the auction listing.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/bazaar/go/clients"
	"github.com/mcdev12/bazaar/go/clients/marketplace_client"
	"github.com/mcdev12/bazaar/go/internal/auction/auctionerr"
	"github.com/mcdev12/bazaar/go/internal/models"
)

// Client is the subset of the marketplace REST client the fetcher uses.
type Client interface {
	GetAuction(ctx context.Context, auctionID string) (*marketplace_client.AuctionResponse, error)
	PlaceBid(ctx context.Context, auctionID string, req marketplace_client.BidRequest) (*marketplace_client.BidResponse, error)
	ListAuctions(ctx context.Context, status string, page, pageSize int) (*marketplace_client.ListResponse, error)
}

// Sink receives resync results.
type Sink interface {
	ApplySnapshot(snapshot models.AuctionSnapshot)
	// ReportSyncError is called once failures have persisted across
	// FailureThreshold consecutive polls, or on a non-retryable failure.
	ReportSyncError(err error)
}

// Config holds request/response sync settings.
type Config struct {
	ResyncInterval   time.Duration
	RequestTimeout   time.Duration
	FailureThreshold int
}

// DefaultConfig returns the default resync configuration.
func DefaultConfig() Config {
	return Config{
		ResyncInterval:   10 * time.Second,
		RequestTimeout:   5 * time.Second,
		FailureThreshold: 3,
	}
}

// ListQuery selects a page of the auction listing.
type ListQuery struct {
	Status   models.AuctionStatus
	Page     int
	PageSize int
}

// Fetcher wraps the REST client with the error taxonomy and resync loop.
type Fetcher struct {
	client Client
	clock  clockwork.Clock
	config Config
}

// NewFetcher creates a snapshot fetcher.
func NewFetcher(client Client, clock clockwork.Clock, config Config) *Fetcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.ResyncInterval <= 0 {
		config.ResyncInterval = DefaultConfig().ResyncInterval
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	return &Fetcher{client: client, clock: clock, config: config}
}

// Fetch returns the authoritative snapshot for auctionID.
func (f *Fetcher) Fetch(ctx context.Context, auctionID string) (models.AuctionSnapshot, error) {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	resp, err := f.client.GetAuction(ctx, auctionID)
	if err != nil {
		return models.AuctionSnapshot{}, fmt.Errorf("fetch auction %s: %w", auctionID, classify("fetch", err))
	}

	status := models.AuctionStatus(resp.Status)
	if !status.Valid() {
		return models.AuctionSnapshot{}, fmt.Errorf("fetch auction %s: invalid status %q", auctionID, resp.Status)
	}

	id := resp.ID
	if id == "" {
		id = auctionID
	}

	return models.AuctionSnapshot{
		AuctionID:       id,
		Status:          status,
		CurrentPrice:    resp.CurrentPrice,
		MinIncrement:    resp.MinIncrement,
		EndAt:           resp.EndAt,
		WinnerID:        resp.WinnerID,
		FinalPrice:      resp.FinalPrice,
		ServerTimestamp: resp.ServerTimestamp(),
	}, nil
}

// SubmitBid is the request/response fallback for placing a bid.
func (f *Fetcher) SubmitBid(ctx context.Context, auctionID string, amount decimal.Decimal, idempotencyKey string) (models.BidResult, error) {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	resp, err := f.client.PlaceBid(ctx, auctionID, marketplace_client.BidRequest{
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return models.BidResult{}, fmt.Errorf("submit bid for auction %s: %w", auctionID, classifyBid(amount, err))
	}

	result := models.BidResult{
		CurrentPrice: resp.CurrentPrice,
		WinnerID:     resp.WinnerID,
	}
	if resp.ServerTime != nil {
		result.ServerTimestamp = resp.ServerTime.Time
	}
	return result, nil
}

// List returns one page of auctions for browsing views.
func (f *Fetcher) List(ctx context.Context, q ListQuery) (models.AuctionPage, error) {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	resp, err := f.client.ListAuctions(ctx, string(q.Status), q.Page, q.PageSize)
	if err != nil {
		return models.AuctionPage{}, fmt.Errorf("list auctions: %w", classify("list", err))
	}

	page := models.AuctionPage{
		Items:    make([]models.AuctionSummary, 0, len(resp.Items)),
		Page:     resp.Page,
		PageSize: resp.PageSize,
		Total:    resp.Total,
	}
	for _, item := range resp.Items {
		page.Items = append(page.Items, models.AuctionSummary{
			AuctionID:    item.ID,
			Title:        item.Title,
			Status:       models.AuctionStatus(item.Status),
			CurrentPrice: item.CurrentPrice,
			EndAt:        item.EndAt,
		})
	}
	return page, nil
}

// ResyncOnInterval re-fetches the snapshot every interval until ctx is done,
// independent of the live channel's state. A wedged channel that still looks
// connected is corrected here. It returns early only on a non-retryable error.
func (f *Fetcher) ResyncOnInterval(ctx context.Context, auctionID string, interval time.Duration, sink Sink) {
	if interval <= 0 {
		interval = f.config.ResyncInterval
	}

	ticker := f.clock.NewTicker(interval)
	defer ticker.Stop()

	log.Debug().
		Str("auction_id", auctionID).
		Dur("interval", interval).
		Msg("resync loop started")

	failures := 0
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("auction_id", auctionID).Msg("resync loop stopped")
			return
		case <-ticker.Chan():
		}

		snap, err := f.Fetch(ctx, auctionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if auctionerr.IsTerminal(err) {
				log.Error().Err(err).Str("auction_id", auctionID).Msg("resync stopped on non-retryable error")
				sink.ReportSyncError(err)
				return
			}

			failures++
			log.Warn().
				Err(err).
				Str("auction_id", auctionID).
				Int("consecutive_failures", failures).
				Msg("resync failed")
			if failures == f.config.FailureThreshold {
				sink.ReportSyncError(err)
			}
			continue
		}

		if failures > 0 {
			log.Info().Str("auction_id", auctionID).Int("after_failures", failures).Msg("resync recovered")
		}
		failures = 0
		sink.ApplySnapshot(snap)
	}
}

func (f *Fetcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.config.RequestTimeout)
}

// classify maps a REST client error into the auction error taxonomy.
func classify(op string, err error) error {
	var statusErr *clients.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized:
			return auctionerr.ErrUnauthorized
		case http.StatusForbidden:
			return auctionerr.ErrForbidden
		case http.StatusNotFound:
			return auctionerr.ErrNotFound
		}
		if statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests {
			return auctionerr.NewNetworkError(op, err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return auctionerr.NewNetworkError(op, err)
}

// classifyBid is classify plus server-side bid rejections.
func classifyBid(amount decimal.Decimal, err error) error {
	var statusErr *clients.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
			return &auctionerr.BidRejectedError{Amount: amount, Reason: rejectionReason(statusErr)}
		}
	}
	return classify("bid", err)
}

// rejectionReason reads the server's reason from an error body, falling back
// to the raw body when it is not the JSON error shape.
func rejectionReason(statusErr *clients.StatusError) string {
	var body marketplace_client.ErrorResponse
	if err := json.Unmarshal(statusErr.Body, &body); err != nil {
		log.Debug().Err(err).Int("status", statusErr.StatusCode).Msg("bid rejection body is not JSON")
		return strings.TrimSpace(string(statusErr.Body))
	}
	return body.Reason()
}
