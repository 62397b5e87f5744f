package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bazaar/go/internal/auction/events"
)

var errNATSClosed = errors.New("nats connection closed")

// NATSConfig holds configuration for the NATS transport.
type NATSConfig struct {
	URL            string
	SubjectPrefix  string // room events on <prefix>.<id>.events, commands on <prefix>.<id>.commands
	ConnectTimeout time.Duration
	BufferSize     int
}

// DefaultNATSConfig returns default NATS transport settings.
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:            url,
		SubjectPrefix:  "auction",
		ConnectTimeout: 5 * time.Second,
		BufferSize:     256,
	}
}

// NATSDialer reaches the gateway through a NATS server. Acks come back on a
// per-connection inbox used as the reply subject of every command.
type NATSDialer struct {
	config NATSConfig
}

// NewNATSDialer creates a NATS dialer.
func NewNATSDialer(config NATSConfig) *NATSDialer {
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = "auction"
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	return &NATSDialer{config: config}
}

// EventsSubject is where the gateway publishes a room's events.
func (d *NATSDialer) EventsSubject(auctionID string) string {
	return fmt.Sprintf("%s.%s.events", d.config.SubjectPrefix, auctionID)
}

// CommandsSubject is where clients publish join, leave and place_bid.
func (d *NATSDialer) CommandsSubject(auctionID string) string {
	return fmt.Sprintf("%s.%s.commands", d.config.SubjectPrefix, auctionID)
}

// Dial connects to NATS and subscribes to the room. NATS' own reconnect is
// disabled; the Channel's reconnection policy decides.
func (d *NATSDialer) Dial(ctx context.Context, auctionID string, creds Credentials) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn := &natsConn{
		commands: d.CommandsSubject(auctionID),
		userID:   creds.UserID,
		msgs:     make(chan *nats.Msg, d.config.BufferSize),
		closed:   make(chan struct{}),
	}

	opts := []nats.Option{
		nats.Name("bazaar-auction-" + auctionID),
		nats.Timeout(d.config.ConnectTimeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Str("auction_id", auctionID).Msg("NATS disconnected")
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			conn.markClosed()
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Str("auction_id", auctionID).Msg("NATS error")
		}),
	}
	if creds.Token != "" {
		opts = append(opts, nats.Token(creds.Token))
	}

	nc, err := nats.Connect(d.config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	conn.nc = nc
	conn.inbox = nc.NewRespInbox()

	if _, err := nc.ChanSubscribe(d.EventsSubject(auctionID), conn.msgs); err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe room events: %w", err)
	}
	if _, err := nc.ChanSubscribe(conn.inbox, conn.msgs); err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe ack inbox: %w", err)
	}

	log.Debug().
		Str("auction_id", auctionID).
		Str("url", nc.ConnectedUrl()).
		Msg("NATS connection established")

	return conn, nil
}

type natsConn struct {
	nc       *nats.Conn
	commands string
	inbox    string
	userID   string

	msgs      chan *nats.Msg
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *natsConn) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *natsConn) Send(env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := nats.NewMsg(c.commands)
	msg.Reply = c.inbox
	msg.Data = data
	if c.userID != "" {
		msg.Header.Set("User-Id", c.userID)
	}
	return c.nc.PublishMsg(msg)
}

func (c *natsConn) Receive() (events.Envelope, error) {
	for {
		select {
		case <-c.closed:
			return events.Envelope{}, errNATSClosed
		case msg := <-c.msgs:
			var env events.Envelope
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed NATS message")
				continue
			}
			return env, nil
		}
	}
}

func (c *natsConn) Close() error {
	c.nc.Close()
	c.markClosed()
	return nil
}
