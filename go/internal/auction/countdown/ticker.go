// Package countdown recomputes an auction's remaining time once per second
// from its deadline and the estimated server clock. It never does I/O.
package countdown

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bazaar/go/internal/models"
)

// DefaultInterval is the countdown refresh rate.
const DefaultInterval = time.Second

// Remaining returns max(0, endAt - serverNow).
func Remaining(endAt, serverNow time.Time) time.Duration {
	if endAt.IsZero() {
		return 0
	}
	if d := endAt.Sub(serverNow); d > 0 {
		return d
	}
	return 0
}

// ServerClock maps local instants onto the server's clock.
type ServerClock interface {
	ToServerNow(local time.Time) time.Time
}

// Source provides the deadline and receives the computed remaining time.
type Source interface {
	Deadline() (endAt time.Time, status models.AuctionStatus, ok bool)
	PublishRemaining(remaining time.Duration)
}

// Ticker drives periodic countdown recomputation for one room.
type Ticker struct {
	clock    clockwork.Clock
	server   ServerClock
	source   Source
	interval time.Duration
}

// NewTicker creates a countdown ticker.
func NewTicker(clock clockwork.Clock, server ServerClock, source Source, interval time.Duration) *Ticker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{clock: clock, server: server, source: source, interval: interval}
}

// Tick computes and publishes the remaining time once. It reports false
// once the auction reached a terminal status and no more ticks are needed.
func (t *Ticker) Tick() (time.Duration, bool) {
	endAt, status, ok := t.source.Deadline()
	if !ok {
		return 0, true
	}
	if status.Terminal() {
		t.source.PublishRemaining(0)
		return 0, false
	}

	remaining := Remaining(endAt, t.server.ToServerNow(t.clock.Now()))
	t.source.PublishRemaining(remaining)
	return remaining, true
}

// Run ticks immediately and then every interval until ctx is done or the
// auction reaches a terminal status.
func (t *Ticker) Run(ctx context.Context) {
	if _, more := t.Tick(); !more {
		return
	}

	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, more := t.Tick(); !more {
				log.Debug().Msg("countdown stopped on terminal status")
				return
			}
		}
	}
}
