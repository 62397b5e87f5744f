package viewhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/bazaar/go/internal/auction/auctionerr"
	"github.com/mcdev12/bazaar/go/internal/auction/bidding"
	"github.com/mcdev12/bazaar/go/internal/auction/room"
	"github.com/mcdev12/bazaar/go/internal/auction/store"
)

// Message types sent to view clients.
const (
	MessageUpdate    = "update"
	MessageBidResult = "bid_result"
	MessageError     = "error"
)

// OutboundMessage is what view clients receive.
type OutboundMessage struct {
	Type    string           `json:"type"`
	Update  *store.Update    `json:"update,omitempty"`
	Receipt *bidding.Receipt `json:"receipt,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// InboundMessage is a command from a view client.
type InboundMessage struct {
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

// ConnectionManager tracks view connections per auction and relays each
// room's store updates to them.
type ConnectionManager struct {
	rooms *room.Registry

	auctionConnections map[string]map[*Connection]bool
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
}

// Connection is one view client.
type Connection struct {
	ID        string
	AuctionID string
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	room        *room.Room
	release     func()
	unsubscribe func()
	closeOnce   sync.Once

	ConnectedAt time.Time
}

// ConnectionConfig holds view connection settings.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	BidTimeout      time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default view connection settings.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		BidTimeout:      20 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a manager serving rooms from registry.
func NewConnectionManager(rooms *room.Registry, config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		rooms:              rooms,
		auctionConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// UpgradeConnection opens (or joins) the auction's room and upgrades the
// request. Room errors are reported as HTTP errors before upgrading.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, auctionID string) error {
	rm, release, err := cm.rooms.Acquire(r.Context(), auctionID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return fmt.Errorf("failed to open room: %w", err)
	}

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		release()
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.New().String(),
		AuctionID:   auctionID,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		room:        rm,
		release:     release,
		ConnectedAt: time.Now(),
	}

	updates, unsubscribe := rm.Subscribe(cm.config.SendBufferSize)
	c.unsubscribe = unsubscribe

	cm.registerConnection(c)
	c.enqueue(OutboundMessage{Type: MessageUpdate, Update: &store.Update{Kind: store.UpdateState, View: rm.View()}})

	go c.relay(updates)
	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("auction_id", auctionID).
		Msg("view connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.auctionConnections[c.AuctionID] == nil {
		cm.auctionConnections[c.AuctionID] = make(map[*Connection]bool)
	}
	cm.auctionConnections[c.AuctionID][c] = true

	log.Debug().
		Str("connection_id", c.ID).
		Str("auction_id", c.AuctionID).
		Int("total_connections", len(cm.auctionConnections[c.AuctionID])).
		Msg("connection registered")
}

// unregisterConnection removes c and releases its room reference once.
func (cm *ConnectionManager) unregisterConnection(c *Connection) {
	c.closeOnce.Do(func() {
		cm.mu.Lock()
		if connections, ok := cm.auctionConnections[c.AuctionID]; ok {
			delete(connections, c)
			if len(connections) == 0 {
				delete(cm.auctionConnections, c.AuctionID)
			}
		}
		close(c.Send)
		cm.mu.Unlock()

		c.unsubscribe()
		c.release()

		log.Info().
			Str("connection_id", c.ID).
			Str("auction_id", c.AuctionID).
			Msg("view connection unregistered")
	})
}

// CloseAll disconnects every view client.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.auctionConnections {
		for c := range connections {
			all = append(all, c)
		}
	}
	cm.mu.RUnlock()

	for _, c := range all {
		cm.unregisterConnection(c)
		c.Conn.Close()
	}
}

// Stats summarizes active view connections.
type Stats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveAuctions     int            `json:"active_auctions"`
	AuctionConnections map[string]int `json:"auction_connections"`
}

// GetConnectionStats returns statistics about active connections.
func (cm *ConnectionManager) GetConnectionStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{AuctionConnections: make(map[string]int)}
	for auctionID, connections := range cm.auctionConnections {
		stats.TotalConnections += len(connections)
		stats.AuctionConnections[auctionID] = len(connections)
	}
	stats.ActiveAuctions = len(cm.auctionConnections)
	return stats
}

// enqueue marshals msg onto the send buffer. A full buffer means the client
// is too slow and the connection is dropped.
func (c *Connection) enqueue(msg OutboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal view message")
		return
	}

	c.Manager.mu.RLock()
	defer c.Manager.mu.RUnlock()
	if !c.Manager.auctionConnections[c.AuctionID][c] {
		return
	}

	select {
	case c.Send <- data:
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("auction_id", c.AuctionID).
			Msg("connection send buffer full, closing connection")
		go func() {
			c.Manager.unregisterConnection(c)
			c.Conn.Close()
		}()
	}
}

// relay forwards store updates until the subscription closes.
func (c *Connection) relay(updates <-chan store.Update) {
	for u := range updates {
		c.enqueue(OutboundMessage{Type: MessageUpdate, Update: &u})
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage runs view commands. Bids run off the read loop so
// pongs keep flowing while the bid waits for its ack.
func (c *Connection) handleClientMessage(message []byte) {
	var in InboundMessage
	if err := json.Unmarshal(message, &in); err != nil {
		c.enqueue(OutboundMessage{Type: MessageError, Error: "malformed message"})
		return
	}

	switch in.Type {
	case "place_bid":
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.Manager.config.BidTimeout)
			defer cancel()

			receipt, err := c.room.PlaceBid(ctx, in.Amount)
			out := OutboundMessage{Type: MessageBidResult, Receipt: &receipt}
			if err != nil {
				out.Error = err.Error()
			}
			c.enqueue(out)
		}()
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("type", in.Type).
			Msg("ignoring unknown client message")
		c.enqueue(OutboundMessage{Type: MessageError, Error: "unknown message type " + in.Type})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auctionerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auctionerr.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, auctionerr.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}
