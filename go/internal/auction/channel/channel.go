// Package channel owns the persistent, room-scoped connection to the
// real-time gateway. One Channel serves exactly one auction room.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/bazaar/go/internal/auction/auctionerr"
	"github.com/mcdev12/bazaar/go/internal/auction/events"
	"github.com/mcdev12/bazaar/go/internal/models"
)

// errConnectionLost fails ack waiters when the connection drops under them.
var errConnectionLost = errors.New("connection lost")

// Credentials identify the user on the gateway.
type Credentials struct {
	UserID string
	Token  string
}

// Conn is one established transport connection carrying envelopes.
type Conn interface {
	Send(env events.Envelope) error
	// Receive blocks until the next envelope or until the connection fails or is closed.
	Receive() (events.Envelope, error)
	Close() error
}

// Dialer opens transport connections that already carry the user's identity.
type Dialer interface {
	Dial(ctx context.Context, auctionID string, creds Credentials) (Conn, error)
}

// Sink receives decoded room events.
type Sink interface {
	Apply(ev events.Event)
}

// Config holds the channel's timing policy.
type Config struct {
	AckTimeout           time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// DefaultConfig returns the default channel policy.
func DefaultConfig() Config {
	return Config{
		AckTimeout:           8 * time.Second,
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// Channel is the live connection for one auction room.
type Channel struct {
	auctionID string
	creds     Credentials
	dialer    Dialer
	clock     clockwork.Clock
	config    Config
	sink      Sink
	onState   func(models.ConnectionState)

	mu     sync.Mutex
	state  models.ConnectionState
	conn   Conn
	joined bool
	acks   map[string]chan ackResult
	cancel context.CancelFunc
	done   chan struct{}
}

type ackResult struct {
	ack models.BidAck
	err error
}

// Option configures a Channel.
type Option func(*Channel)

// WithClock overrides the clock used for ack timeouts and reconnect delays.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Channel) { c.clock = clock }
}

// WithStateObserver registers a callback for connection state changes.
func WithStateObserver(fn func(models.ConnectionState)) Option {
	return func(c *Channel) { c.onState = fn }
}

// New creates a disconnected channel for auctionID.
func New(auctionID string, creds Credentials, dialer Dialer, sink Sink, config Config, opts ...Option) *Channel {
	c := &Channel{
		auctionID: auctionID,
		creds:     creds,
		dialer:    dialer,
		clock:     clockwork.NewRealClock(),
		config:    config,
		sink:      sink,
		state:     models.ConnectionDisconnected,
		acks:      make(map[string]chan ackResult),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Channel) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the gateway and joins the room. The first attempt is made
// synchronously; if it fails the channel keeps retrying in the background
// under the reconnection policy and the dial error is returned.
// Callers must have seeded room state before calling Connect.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != models.ConnectionDisconnected {
		c.mu.Unlock()
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.setState(models.ConnectionConnecting)

	conn, err := c.dialer.Dial(runCtx, c.auctionID, c.creds)
	if err == nil {
		err = c.attach(runCtx, conn)
	}
	if err != nil {
		log.Warn().
			Err(err).
			Str("auction_id", c.auctionID).
			Msg("initial connect failed, retrying in background")
		go c.run(runCtx, nil)
		return auctionerr.NewNetworkError("dial", err)
	}

	go c.run(runCtx, conn)
	return nil
}

// Disconnect leaves the room if joined and tears the connection down.
// Safe to call at any time, including when already disconnected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return
	}
	conn, joined := c.conn, c.joined
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if conn != nil && joined {
		if err := conn.Send(events.LeaveMessage(c.auctionID)); err != nil {
			log.Debug().Err(err).Str("auction_id", c.auctionID).Msg("failed to send leave")
		}
	}

	cancel()
	if conn != nil {
		conn.Close()
	}
	<-done

	c.setState(models.ConnectionDisconnected)
	log.Info().Str("auction_id", c.auctionID).Msg("live channel disconnected")
}

// PlaceBid submits a bid and waits for its scoped acknowledgment.
// It returns ErrNotConnected unless the channel is connected and
// ErrAckTimeout if no ack arrives within AckTimeout.
func (c *Channel) PlaceBid(ctx context.Context, amount decimal.Decimal, idempotencyKey string) (models.BidAck, error) {
	env, err := events.PlaceBidMessage(c.auctionID, amount, idempotencyKey)
	if err != nil {
		return models.BidAck{}, err
	}

	c.mu.Lock()
	if c.state != models.ConnectionConnected || c.conn == nil {
		c.mu.Unlock()
		return models.BidAck{}, auctionerr.ErrNotConnected
	}
	conn := c.conn
	ch := make(chan ackResult, 1)
	c.acks[env.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.acks[env.ID] == ch {
			delete(c.acks, env.ID)
		}
		c.mu.Unlock()
	}()

	timer := c.clock.NewTimer(c.config.AckTimeout)
	defer timer.Stop()

	if err := conn.Send(env); err != nil {
		return models.BidAck{}, auctionerr.NewNetworkError("write", err)
	}

	select {
	case res := <-ch:
		return res.ack, res.err
	case <-timer.Chan():
		log.Warn().
			Str("auction_id", c.auctionID).
			Str("idempotency_key", idempotencyKey).
			Dur("ack_timeout", c.config.AckTimeout).
			Msg("bid acknowledgment timed out")
		return models.BidAck{}, auctionerr.ErrAckTimeout
	case <-ctx.Done():
		return models.BidAck{}, ctx.Err()
	}
}

// run owns the connection for its lifetime: read until failure, then
// reconnect under the fixed-delay policy until attempts are exhausted.
func (c *Channel) run(ctx context.Context, conn Conn) {
	defer close(c.done)

	for {
		if conn != nil {
			err := c.readLoop(conn)
			c.detach(conn)
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("auction_id", c.auctionID).Msg("live channel lost")
		}

		conn = c.reconnect(ctx)
		if conn == nil {
			if ctx.Err() == nil {
				c.setState(models.ConnectionDisconnected)
				log.Error().
					Str("auction_id", c.auctionID).
					Int("attempts", c.config.MaxReconnectAttempts).
					Msg("reconnect attempts exhausted, relying on resync")
			}
			return
		}
	}
}

func (c *Channel) reconnect(ctx context.Context) Conn {
	for attempt := 1; attempt <= c.config.MaxReconnectAttempts; attempt++ {
		c.setState(models.ConnectionReconnecting)

		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(c.config.ReconnectDelay):
		}

		conn, err := c.dialer.Dial(ctx, c.auctionID, c.creds)
		if err == nil {
			err = c.attach(ctx, conn)
		}
		if err == nil {
			log.Info().
				Str("auction_id", c.auctionID).
				Int("attempt", attempt).
				Msg("live channel reconnected")
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}

		log.Warn().
			Err(err).
			Str("auction_id", c.auctionID).
			Int("attempt", attempt).
			Int("max_attempts", c.config.MaxReconnectAttempts).
			Msg("reconnect attempt failed")
	}
	return nil
}

// attach installs conn as the live connection and joins the room.
func (c *Channel) attach(ctx context.Context, conn Conn) error {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return ctx.Err()
	}
	c.conn = conn
	c.mu.Unlock()

	c.setState(models.ConnectionConnected)

	if err := conn.Send(events.JoinMessage(c.auctionID)); err != nil {
		c.detach(conn)
		conn.Close()
		return fmt.Errorf("join room: %w", err)
	}

	c.mu.Lock()
	if c.conn == conn {
		c.joined = true
	}
	c.mu.Unlock()

	log.Info().Str("auction_id", c.auctionID).Msg("joined auction room")
	return nil
}

// detach forgets conn and fails any acks still waiting on it.
func (c *Channel) detach(conn Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.joined = false
	for id, ch := range c.acks {
		ch <- ackResult{err: auctionerr.NewNetworkError("read", errConnectionLost)}
		delete(c.acks, id)
	}
	c.mu.Unlock()
}

func (c *Channel) readLoop(conn Conn) error {
	for {
		env, err := conn.Receive()
		if err != nil {
			return err
		}
		c.handle(env)
	}
}

func (c *Channel) handle(env events.Envelope) {
	if env.AuctionID != "" && env.AuctionID != c.auctionID {
		log.Warn().
			Str("auction_id", c.auctionID).
			Str("message_auction_id", env.AuctionID).
			Str("type", string(env.Type)).
			Msg("dropping message for another room")
		return
	}

	if env.Type == events.MessageAck {
		c.resolveAck(env)
		return
	}

	ev, err := events.Decode(env)
	if err != nil {
		log.Warn().Err(err).Str("auction_id", c.auctionID).Msg("dropping undecodable message")
		return
	}
	c.sink.Apply(ev)
}

func (c *Channel) resolveAck(env events.Envelope) {
	var p events.AckPayload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Warn().Err(err).Str("auction_id", c.auctionID).Msg("malformed ack")
			return
		}
	}

	c.mu.Lock()
	ch, ok := c.acks[env.ID]
	if ok {
		delete(c.acks, env.ID)
	}
	c.mu.Unlock()

	if !ok {
		log.Debug().Str("message_id", env.ID).Msg("ack for unknown or expired request")
		return
	}
	ch <- ackResult{ack: models.BidAck{MessageID: env.ID, Accepted: p.OK, Reason: p.Reason}}
}

func (c *Channel) setState(next models.ConnectionState) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	if prev == next {
		return
	}
	log.Debug().
		Str("auction_id", c.auctionID).
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("connection state changed")
	if c.onState != nil {
		c.onState(next)
	}
}
