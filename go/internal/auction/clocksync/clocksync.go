// Package clocksync estimates the offset between the local clock and the
// auction server's clock from server-stamped messages.
//
// The offset is overwritten by every sample rather than smoothed: auction
// countdowns care about seconds, and latency is assumed small and symmetric.
package clocksync

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ClockSync holds offset = localNow - serverNow. Zero until the first sample.
type ClockSync struct {
	clock clockwork.Clock

	mu      sync.RWMutex
	offset  time.Duration
	samples int
}

// New creates a ClockSync reading local time from clock.
func New(clock clockwork.Clock) *ClockSync {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ClockSync{clock: clock}
}

// UpdateFromServerTime records a server timestamp observed now.
// A zero timestamp carries no information and leaves the offset unchanged.
func (c *ClockSync) UpdateFromServerTime(serverTimestamp time.Time) {
	if serverTimestamp.IsZero() {
		return
	}

	offset := c.clock.Now().Sub(serverTimestamp)

	c.mu.Lock()
	c.offset = offset
	c.samples++
	c.mu.Unlock()

	log.Debug().
		Dur("offset", offset).
		Time("server_timestamp", serverTimestamp).
		Msg("clock offset updated")
}

// ToServerNow converts a local instant to the server's clock.
func (c *ClockSync) ToServerNow(localInstant time.Time) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return localInstant.Add(-c.offset)
}

// ServerNow is the current instant on the server's clock.
func (c *ClockSync) ServerNow() time.Time {
	return c.ToServerNow(c.clock.Now())
}

// Offset returns the current local-minus-server offset.
func (c *ClockSync) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Synced reports whether at least one server timestamp has been observed.
func (c *ClockSync) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.samples > 0
}
