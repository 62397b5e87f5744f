package auctionerr

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when the auction does not exist. Terminal for the view.
	ErrNotFound = errors.New("auction not found")

	// ErrUnauthorized is returned when the session is missing or expired. Never retried.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the user may not access or bid on the auction. Never retried.
	ErrForbidden = errors.New("forbidden")

	// ErrAckTimeout is returned when a channel acknowledgment did not arrive in time.
	// Callers treat it as retryable through the request/response fallback.
	ErrAckTimeout = errors.New("acknowledgment timed out")

	// ErrNotConnected is returned when a channel operation needs a live connection.
	ErrNotConnected = errors.New("live channel not connected")

	// ErrAuctionNotLive is returned when a bid is attempted outside the live window.
	ErrAuctionNotLive = errors.New("auction is not live")

	// ErrBidSuperseded is returned when a newer bid took the pending slot
	// before this one reached the server.
	ErrBidSuperseded = errors.New("bid superseded by a newer bid")

	// ErrRoomClosed is returned by operations on a room that has been torn down.
	ErrRoomClosed = errors.New("auction room closed")
)

// RetriableError is implemented by errors that may succeed on retry.
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable reports whether err, or anything it wraps, may succeed on retry.
func IsRetriable(err error) bool {
	if errors.Is(err, ErrAckTimeout) {
		return true
	}
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError is a transport-level failure. It drives reconnection and resync.
type NetworkError struct {
	Op  string // "fetch", "dial", "read", "write", "bid"
	Err error
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return true
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError wraps err as a retryable network failure.
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err}
}

// BidRejectedError is a server-authoritative rejection of a bid. Not retried.
type BidRejectedError struct {
	Amount decimal.Decimal
	Reason string
}

func (e *BidRejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("bid %s rejected", e.Amount)
	}
	return fmt.Sprintf("bid %s rejected: %s", e.Amount, e.Reason)
}

// BelowMinimumError is the client-side advisory check on the minimum increment.
type BelowMinimumError struct {
	Amount  decimal.Decimal
	Minimum decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("bid %s is below the minimum of %s", e.Amount, e.Minimum)
}

// IsTerminal reports whether the error ends the view's interest in the auction.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
