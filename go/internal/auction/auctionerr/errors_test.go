package auctionerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network error", NewNetworkError("fetch", errors.New("connection reset")), true},
		{"wrapped network error", fmt.Errorf("resync: %w", NewNetworkError("fetch", errors.New("eof"))), true},
		{"ack timeout", ErrAckTimeout, true},
		{"wrapped ack timeout", fmt.Errorf("place bid: %w", ErrAckTimeout), true},
		{"unauthorized", ErrUnauthorized, false},
		{"not found", ErrNotFound, false},
		{"bid rejected", &BidRejectedError{Amount: decimal.NewFromInt(10), Reason: "too low"}, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetriable(tt.err))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(fmt.Errorf("fetch: %w", ErrNotFound)))
	assert.True(t, IsTerminal(ErrForbidden))
	assert.False(t, IsTerminal(NewNetworkError("fetch", errors.New("timeout"))))
}

func TestBidRejectedError_Message(t *testing.T) {
	err := &BidRejectedError{Amount: decimal.NewFromInt(110), Reason: "outbid"}
	assert.Equal(t, "bid 110 rejected: outbid", err.Error())

	var target *BidRejectedError
	assert.True(t, errors.As(fmt.Errorf("place bid: %w", err), &target))
	assert.Equal(t, "outbid", target.Reason)
}
