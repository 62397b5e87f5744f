// Package viewhub serves local views: it relays room store updates to view
// clients over websocket and answers state queries over HTTP. Views never
// talk to the auction backend directly.
package viewhub

import (
	"net/http"
	"slices"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/bazaar/go/internal/auction/room"
)

// Config holds configuration for the view hub.
type Config struct {
	Addr             string
	AllowedOrigins   []string
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the view hub.
func DefaultConfig() Config {
	return Config{
		Addr:             ":8090",
		AllowedOrigins:   []string{"*"},
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// Hub is the local view server.
type Hub struct {
	config            Config
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
}

// NewHub creates a hub serving rooms from registry.
func NewHub(config Config, rooms *room.Registry, provider StateProvider) *Hub {
	config.ConnectionConfig.CheckOrigin = originChecker(config.AllowedOrigins)
	cm := NewConnectionManager(rooms, config.ConnectionConfig)

	return &Hub{
		config:            config,
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm),
		stateHandler:      NewStateHandler(rooms, provider),
	}
}

// RegisterRoutes registers the hub's HTTP routes.
func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	h.wsHandler.RegisterRoutes(mux)
	h.stateHandler.RegisterStateRoutes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	log.Info().Msg("view hub routes registered")
}

// Handler returns the routed handler wrapped with CORS and h2c.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: h.config.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

// Server returns an HTTP server for the hub.
func (h *Hub) Server() *http.Server {
	return &http.Server{
		Addr:              h.config.Addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Stats returns view connection statistics.
func (h *Hub) Stats() Stats {
	return h.connectionManager.GetConnectionStats()
}

// Close disconnects every view.
func (h *Hub) Close() {
	h.connectionManager.CloseAll()
	log.Info().Msg("view hub stopped")
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
