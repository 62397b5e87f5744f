package viewhub

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bazaar/go/internal/auction/countdown"
	"github.com/mcdev12/bazaar/go/internal/auction/room"
	"github.com/mcdev12/bazaar/go/internal/auction/snapshot"
	"github.com/mcdev12/bazaar/go/internal/auction/store"
	"github.com/mcdev12/bazaar/go/internal/models"
)

// StateProvider answers state requests for auctions no view has open.
type StateProvider interface {
	Fetch(ctx context.Context, auctionID string) (models.AuctionSnapshot, error)
	List(ctx context.Context, q snapshot.ListQuery) (models.AuctionPage, error)
}

// StateHandler serves auction state over plain HTTP.
type StateHandler struct {
	rooms         *room.Registry
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler.
func NewStateHandler(rooms *room.Registry, provider StateProvider) *StateHandler {
	return &StateHandler{rooms: rooms, stateProvider: provider}
}

// HandleGetAuctionState handles GET /api/auctions/{id}/state. An open room
// answers from its store; otherwise the snapshot is fetched once and
// reported as stale.
func (h *StateHandler) HandleGetAuctionState(w http.ResponseWriter, r *http.Request) {
	auctionID := r.PathValue("id")
	if auctionID == "" {
		http.Error(w, "auction id is required", http.StatusBadRequest)
		return
	}

	if rm, ok := h.rooms.Get(auctionID); ok {
		writeJSON(w, rm.View())
		return
	}

	snap, err := h.stateProvider.Fetch(r.Context(), auctionID)
	if err != nil {
		log.Error().Err(err).Str("auction_id", auctionID).Msg("failed to get auction state")
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	serverNow := snap.ServerTimestamp
	if serverNow.IsZero() {
		serverNow = time.Now()
	}
	view := store.View{
		AuctionID:  auctionID,
		Snapshot:   &snap,
		Connection: models.ConnectionDisconnected,
		Stale:      true,
	}
	if !snap.Status.Terminal() {
		view.RemainingMs = countdown.Remaining(snap.EndAt, serverNow).Milliseconds()
	}
	writeJSON(w, view)
}

// HandleListAuctions handles GET /api/auctions?status=&page=&page_size=.
func (h *StateHandler) HandleListAuctions(w http.ResponseWriter, r *http.Request) {
	q := snapshot.ListQuery{Status: models.AuctionStatus(r.URL.Query().Get("status"))}
	if q.Status != "" && !q.Status.Valid() {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}
	q.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	q.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))

	page, err := h.stateProvider.List(r.Context(), q)
	if err != nil {
		log.Error().Err(err).Msg("failed to list auctions")
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, page)
}

// RegisterStateRoutes registers state-related HTTP routes.
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/auctions", h.HandleListAuctions)
	mux.HandleFunc("GET /api/auctions/{id}/state", h.HandleGetAuctionState)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
