package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bazaar/go/internal/auction/events"
)

// WebSocketConfig holds configuration for gateway websocket connections.
type WebSocketConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
}

// DefaultWebSocketConfig returns default websocket settings.
func DefaultWebSocketConfig(gatewayURL string) WebSocketConfig {
	return WebSocketConfig{
		URL:              gatewayURL,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   64 * 1024,
	}
}

// WebSocketDialer dials the real-time gateway over websocket.
type WebSocketDialer struct {
	config WebSocketConfig
	dialer websocket.Dialer
}

// NewWebSocketDialer creates a websocket dialer.
func NewWebSocketDialer(config WebSocketConfig) *WebSocketDialer {
	return &WebSocketDialer{
		config: config,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}
}

// Dial opens a connection for auctionID, identified by creds.
func (d *WebSocketDialer) Dial(ctx context.Context, auctionID string, creds Credentials) (Conn, error) {
	u, err := url.Parse(d.config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("auction_id", auctionID)
	u.RawQuery = q.Encode()

	header := make(http.Header)
	if creds.Token != "" {
		header.Set("Authorization", "Bearer "+creds.Token)
	}
	if creds.UserID != "" {
		header.Set("X-User-ID", creds.UserID)
	}

	ws, resp, err := d.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	conn := &wsConn{
		ws:     ws,
		config: d.config,
		done:   make(chan struct{}),
	}
	conn.start()

	log.Debug().
		Str("auction_id", auctionID).
		Str("url", u.Host).
		Msg("websocket connection established")

	return conn, nil
}

// wsConn adapts a gorilla websocket connection to Conn.
type wsConn struct {
	ws     *websocket.Conn
	config WebSocketConfig

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) start() {
	if c.config.MaxMessageSize > 0 {
		c.ws.SetReadLimit(c.config.MaxMessageSize)
	}
	c.extendReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	if c.config.PingInterval > 0 {
		go c.pingLoop()
	}
}

func (c *wsConn) extendReadDeadline() {
	if c.config.ReadTimeout > 0 {
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.config.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *wsConn) Send(env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Receive() (events.Envelope, error) {
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("unexpected websocket close")
			}
			return events.Envelope{}, err
		}
		c.extendReadDeadline()

		var env events.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Warn().Err(err).Msg("dropping malformed websocket frame")
			continue
		}
		return env, nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		writeErr := c.ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		if writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
			log.Debug().Err(writeErr).Msg("failed to send close frame")
		}

		err = c.ws.Close()
	})
	return err
}
