package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/bazaar/go/internal/auction/auctionerr"
	"github.com/mcdev12/bazaar/go/internal/auction/events"
	"github.com/mcdev12/bazaar/go/internal/models"
)

var errPipeClosed = errors.New("pipe closed")

// pipeConn is an in-memory Conn; the test plays the gateway.
type pipeConn struct {
	in     chan events.Envelope
	out    chan events.Envelope
	closed chan struct{}
	once   sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan events.Envelope, 16),
		out:    make(chan events.Envelope, 16),
		closed: make(chan struct{}),
	}
}

func (p *pipeConn) Send(env events.Envelope) error {
	select {
	case <-p.closed:
		return errPipeClosed
	case p.out <- env:
		return nil
	}
}

func (p *pipeConn) Receive() (events.Envelope, error) {
	select {
	case <-p.closed:
		return events.Envelope{}, errPipeClosed
	case env := <-p.in:
		return env, nil
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeConn) expectSent(t *testing.T, typ events.MessageType) events.Envelope {
	t.Helper()
	select {
	case env := <-p.out:
		require.Equal(t, typ, env.Type)
		return env
	case <-time.After(time.Second):
		t.Fatalf("expected %s to be sent", typ)
		return events.Envelope{}
	}
}

// fakeDialer hands out queued connections; an empty queue fails the dial.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*pipeConn
	dials int
}

func (d *fakeDialer) push(c *pipeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, c)
}

func (d *fakeDialer) Dial(ctx context.Context, auctionID string, creds Credentials) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *sinkRecorder) Apply(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sinkRecorder) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []models.ConnectionState
}

func (r *stateRecorder) observe(s models.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) snapshot() []models.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ConnectionState(nil), r.states...)
}

func newTestChannel(dialer Dialer, clock clockwork.Clock, sink Sink, states *stateRecorder) *Channel {
	return New("a-1", Credentials{UserID: "u-1", Token: "tok"}, dialer, sink, DefaultConfig(),
		WithClock(clock), WithStateObserver(states.observe))
}

func ack(id string, ok bool, reason string) events.Envelope {
	data, _ := json.Marshal(events.AckPayload{OK: ok, Reason: reason})
	return events.Envelope{ID: id, Type: events.MessageAck, AuctionID: "a-1", Data: data}
}

func TestConnect_JoinsRoom(t *testing.T) {
	conn := newPipeConn()
	dialer := &fakeDialer{}
	dialer.push(conn)
	states := &stateRecorder{}
	ch := newTestChannel(dialer, clockwork.NewFakeClock(), &sinkRecorder{}, states)

	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()

	join := conn.expectSent(t, events.MessageJoin)
	assert.Equal(t, "a-1", join.AuctionID)
	assert.Equal(t, models.ConnectionConnected, ch.State())
	assert.Equal(t, []models.ConnectionState{models.ConnectionConnecting, models.ConnectionConnected}, states.snapshot())
}

func TestInboundEvents_DeliveredToSink(t *testing.T) {
	conn := newPipeConn()
	dialer := &fakeDialer{}
	dialer.push(conn)
	sink := &sinkRecorder{}
	ch := newTestChannel(dialer, clockwork.NewFakeClock(), sink, &stateRecorder{})

	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()
	conn.expectSent(t, events.MessageJoin)

	conn.in <- events.Envelope{Type: events.MessageExtended, AuctionID: "other", Data: json.RawMessage(`{"end_at":"2026-03-01T12:00:00Z"}`)}
	conn.in <- events.Envelope{Type: events.MessageExtended, AuctionID: "a-1", Data: json.RawMessage(`{"end_at":"2026-03-01T12:00:00Z"}`)}

	require.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, events.KindExtended, sink.events[0].Kind())
}

func TestPlaceBid_AckAcceptedAndRejected(t *testing.T) {
	conn := newPipeConn()
	dialer := &fakeDialer{}
	dialer.push(conn)
	ch := newTestChannel(dialer, clockwork.NewFakeClock(), &sinkRecorder{}, &stateRecorder{})

	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()
	conn.expectSent(t, events.MessageJoin)

	go func() {
		bid := conn.expectSent(t, events.MessagePlaceBid)
		conn.in <- ack(bid.ID, true, "")
		bid = conn.expectSent(t, events.MessagePlaceBid)
		conn.in <- ack(bid.ID, false, "below current price")
	}()

	got, err := ch.PlaceBid(context.Background(), decimal.NewFromInt(110), "k-1")
	require.NoError(t, err)
	assert.True(t, got.Accepted)
	assert.Equal(t, "k-1", got.MessageID)

	got, err = ch.PlaceBid(context.Background(), decimal.NewFromInt(90), "k-2")
	require.NoError(t, err)
	assert.False(t, got.Accepted)
	assert.Equal(t, "below current price", got.Reason)
}

func TestPlaceBid_AckTimeout(t *testing.T) {
	conn := newPipeConn()
	dialer := &fakeDialer{}
	dialer.push(conn)
	clock := clockwork.NewFakeClock()
	ch := newTestChannel(dialer, clock, &sinkRecorder{}, &stateRecorder{})

	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()
	conn.expectSent(t, events.MessageJoin)

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.PlaceBid(context.Background(), decimal.NewFromInt(110), "k-1")
		errCh <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(8 * time.Second)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, auctionerr.ErrAckTimeout)
	case <-time.After(time.Second):
		t.Fatal("PlaceBid did not time out")
	}
}

func TestPlaceBid_NotConnected(t *testing.T) {
	ch := newTestChannel(&fakeDialer{}, clockwork.NewFakeClock(), &sinkRecorder{}, &stateRecorder{})

	_, err := ch.PlaceBid(context.Background(), decimal.NewFromInt(110), "k-1")
	assert.ErrorIs(t, err, auctionerr.ErrNotConnected)
}

func TestPlaceBid_FailsWhenConnectionDrops(t *testing.T) {
	conn := newPipeConn()
	dialer := &fakeDialer{}
	dialer.push(conn)
	ch := newTestChannel(dialer, clockwork.NewFakeClock(), &sinkRecorder{}, &stateRecorder{})

	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()
	conn.expectSent(t, events.MessageJoin)

	go func() {
		conn.expectSent(t, events.MessagePlaceBid)
		conn.Close()
	}()

	_, err := ch.PlaceBid(context.Background(), decimal.NewFromInt(110), "k-1")
	require.Error(t, err)
	assert.True(t, auctionerr.IsRetriable(err))
}

func TestReconnect_RejoinsAfterDrop(t *testing.T) {
	first, second := newPipeConn(), newPipeConn()
	dialer := &fakeDialer{}
	dialer.push(first)
	clock := clockwork.NewFakeClock()
	states := &stateRecorder{}
	ch := newTestChannel(dialer, clock, &sinkRecorder{}, states)

	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()
	first.expectSent(t, events.MessageJoin)

	dialer.push(second)
	first.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, models.ConnectionReconnecting, ch.State())

	clock.Advance(2 * time.Second)
	second.expectSent(t, events.MessageJoin)

	require.Eventually(t, func() bool { return ch.State() == models.ConnectionConnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestReconnect_GivesUpAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{}
	clock := clockwork.NewFakeClock()
	ch := newTestChannel(dialer, clock, &sinkRecorder{}, &stateRecorder{})

	err := ch.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, auctionerr.IsRetriable(err))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < DefaultConfig().MaxReconnectAttempts; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(2 * time.Second)
	}

	require.Eventually(t, func() bool {
		return dialer.dialCount() == 1+DefaultConfig().MaxReconnectAttempts && ch.State() == models.ConnectionDisconnected
	}, time.Second, 5*time.Millisecond)

	ch.Disconnect()
	assert.Equal(t, models.ConnectionDisconnected, ch.State())
}

func TestDisconnect_LeavesRoomAndIsIdempotent(t *testing.T) {
	conn := newPipeConn()
	dialer := &fakeDialer{}
	dialer.push(conn)
	ch := newTestChannel(dialer, clockwork.NewFakeClock(), &sinkRecorder{}, &stateRecorder{})

	ch.Disconnect()

	require.NoError(t, ch.Connect(context.Background()))
	conn.expectSent(t, events.MessageJoin)

	ch.Disconnect()
	conn.expectSent(t, events.MessageLeave)
	assert.Equal(t, models.ConnectionDisconnected, ch.State())

	ch.Disconnect()
	assert.Equal(t, models.ConnectionDisconnected, ch.State())
}
