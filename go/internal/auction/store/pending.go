package store

import (
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/bazaar/go/internal/models"
)

type bidPhase int

const (
	bidIdle bidPhase = iota
	// bidArmed: submitted, nothing heard back yet.
	bidArmed
	// bidAcked: the gateway accepted the message; waiting for the price update.
	bidAcked
)

func (p bidPhase) String() string {
	switch p {
	case bidIdle:
		return "idle"
	case bidArmed:
		return "armed"
	case bidAcked:
		return "acked"
	default:
		return "unknown"
	}
}

// pendingSlot is the single pending-bid slot of a room. Every way out of
// armed/acked goes through resolve, which only acts on the bid it was asked
// about, so a late timer or response for an older bid is a no-op.
type pendingSlot struct {
	phase bidPhase
	bid   models.PendingBid
	timer clockwork.Timer
}

func (p *pendingSlot) active() bool {
	return p.phase != bidIdle
}

func (p *pendingSlot) holds(id uuid.UUID) bool {
	return p.active() && p.bid.ID == id
}

// arm installs bid and returns the bid it replaced, if any.
func (p *pendingSlot) arm(bid models.PendingBid, timer clockwork.Timer) (models.PendingBid, bool) {
	prev, hadPrev := p.bid, p.active()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.phase = bidArmed
	p.bid = bid
	p.timer = timer
	return prev, hadPrev
}

func (p *pendingSlot) ack(id uuid.UUID) bool {
	if p.phase != bidArmed || p.bid.ID != id {
		return false
	}
	p.phase = bidAcked
	return true
}

// resolve is the one clearing transition.
func (p *pendingSlot) resolve(id uuid.UUID) (models.PendingBid, bool) {
	if !p.holds(id) {
		return models.PendingBid{}, false
	}
	bid := p.bid
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.phase = bidIdle
	p.bid = models.PendingBid{}
	return bid, true
}

func (p *pendingSlot) current() (models.PendingBid, bool) {
	if !p.active() {
		return models.PendingBid{}, false
	}
	return p.bid, true
}
