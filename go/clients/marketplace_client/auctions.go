package marketplace_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AuctionResponse is the GET /auction/{id} payload. The server clock sample
// arrives as serverTime or serverNow, either RFC3339 or epoch milliseconds.
type AuctionResponse struct {
	ID           string           `json:"id"`
	Status       string           `json:"status"`
	CurrentPrice decimal.Decimal  `json:"currentPrice"`
	MinIncrement decimal.Decimal  `json:"minIncrement"`
	EndAt        time.Time        `json:"endAt"`
	WinnerID     *string          `json:"winnerId,omitempty"`
	FinalPrice   *decimal.Decimal `json:"finalPrice,omitempty"`
	ServerTime   *ServerTime      `json:"serverTime,omitempty"`
	ServerNow    *ServerTime      `json:"serverNow,omitempty"`
}

// ServerTimestamp returns whichever server clock field was present, or zero.
func (r AuctionResponse) ServerTimestamp() time.Time {
	if r.ServerTime != nil {
		return r.ServerTime.Time
	}
	if r.ServerNow != nil {
		return r.ServerNow.Time
	}
	return time.Time{}
}

// BidRequest is the POST /auction/{id}/bid body.
type BidRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// BidResponse is returned after an accepted fallback bid.
type BidResponse struct {
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	WinnerID     *string         `json:"winnerId,omitempty"`
	ServerTime   *ServerTime     `json:"serverTime,omitempty"`
}

// ErrorResponse is the body of a 4xx/5xx answer.
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Reason picks the human readable part of an error body.
func (e ErrorResponse) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// AuctionSummary is a listing row.
type AuctionSummary struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Status       string          `json:"status"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	EndAt        time.Time       `json:"endAt"`
}

// ListResponse is the GET /auction payload.
type ListResponse struct {
	Items    []AuctionSummary `json:"items"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Total    int              `json:"total"`
}

// ServerTime decodes either an RFC3339 string or epoch milliseconds.
type ServerTime struct {
	time.Time
}

func (t *ServerTime) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.Time = time.UnixMilli(ms).UTC()
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse server time %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("parse server time %s: %w", raw, err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

func (c *MarketplaceClient) GetAuction(ctx context.Context, auctionID string) (*AuctionResponse, error) {
	endpoint := fmt.Sprintf("%s/%s", AuctionsEndpoint, url.PathEscape(auctionID))
	body, err := c.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}

	var response AuctionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}

	return &response, nil
}

func (c *MarketplaceClient) PlaceBid(ctx context.Context, auctionID string, req BidRequest) (*BidResponse, error) {
	endpoint := fmt.Sprintf("%s/%s/bid", AuctionsEndpoint, url.PathEscape(auctionID))
	body, err := c.PostJSON(ctx, endpoint, req)
	if err != nil {
		return nil, fmt.Errorf("failed to place bid: %w", err)
	}

	var response BidResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}

	return &response, nil
}

func (c *MarketplaceClient) ListAuctions(ctx context.Context, status string, page, pageSize int) (*ListResponse, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if page <= 0 {
		page = 1
	}

	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	query.Set("page", strconv.Itoa(page))
	query.Set("pageSize", strconv.Itoa(pageSize))

	body, err := c.Get(ctx, AuctionsEndpoint+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}

	var response ListResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}

	return &response, nil
}
