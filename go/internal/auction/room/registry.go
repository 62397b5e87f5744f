package room

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bazaar/go/internal/auction/auctionerr"
)

// entry is a room in the registry. room is nil until ready is closed.
type entry struct {
	room  *Room
	err   error
	refs  int
	ready chan struct{}
}

// Registry shares one Room per auction among local views. A room is opened
// by its first Acquire and closed when its last holder releases it.
type Registry struct {
	deps Deps

	mu     sync.Mutex
	rooms  map[string]*entry
	closed bool
}

// NewRegistry creates a registry that opens rooms with deps.
func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, rooms: make(map[string]*entry)}
}

// Acquire returns the room for auctionID, opening it if needed, and a
// release func that must be called exactly once when the caller is done.
//
// The room is opened without holding the registry lock. Concurrent callers
// for the same auction wait for the first caller's open and share its result.
func (g *Registry) Acquire(ctx context.Context, auctionID string) (*Room, func(), error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, nil, auctionerr.ErrRoomClosed
	}
	e, ok := g.rooms[auctionID]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		g.rooms[auctionID] = e
	}
	e.refs++
	g.mu.Unlock()

	if !ok {
		g.open(ctx, auctionID, e)
	} else {
		select {
		case <-e.ready:
		case <-ctx.Done():
			g.release(auctionID, e)
			return nil, nil, ctx.Err()
		}
	}

	if e.err != nil {
		g.release(auctionID, e)
		return nil, nil, e.err
	}

	var once sync.Once
	return e.room, func() { once.Do(func() { g.release(auctionID, e) }) }, nil
}

func (g *Registry) open(ctx context.Context, auctionID string, e *entry) {
	r, err := Open(ctx, g.deps, auctionID)

	g.mu.Lock()
	if err == nil && g.closed {
		err = auctionerr.ErrRoomClosed
	}
	if err != nil && g.rooms[auctionID] == e {
		delete(g.rooms, auctionID)
	}
	if err == nil {
		e.room = r
	}
	e.err = err
	close(e.ready)
	g.mu.Unlock()

	if err != nil && r != nil {
		r.Close()
	}
}

func (g *Registry) release(auctionID string, e *entry) {
	g.mu.Lock()
	e.refs--
	last := e.refs == 0 && e.room != nil
	if last && g.rooms[auctionID] == e {
		delete(g.rooms, auctionID)
	}
	g.mu.Unlock()

	if last {
		log.Debug().Str("auction_id", auctionID).Msg("last view left, closing room")
		e.room.Close()
	}
}

// Get returns an open room without taking a reference. Rooms still being
// opened are not reported.
func (g *Registry) Get(auctionID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.rooms[auctionID]
	if !ok || e.room == nil {
		return nil, false
	}
	return e.room, true
}

// Len returns the number of open rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, e := range g.rooms {
		if e.room != nil {
			n++
		}
	}
	return n
}

// Close closes every open room regardless of holders. Opens still in flight
// finish with ErrRoomClosed.
func (g *Registry) Close() {
	g.mu.Lock()
	g.closed = true
	rooms := make([]*Room, 0, len(g.rooms))
	for id, e := range g.rooms {
		if e.room != nil {
			rooms = append(rooms, e.room)
			delete(g.rooms, id)
		}
	}
	g.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
}
