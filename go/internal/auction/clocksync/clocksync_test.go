package clocksync

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestClockSync_ZeroBeforeFirstSample(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cs := New(clock)

	assert.False(t, cs.Synced())
	assert.Equal(t, time.Duration(0), cs.Offset())
	assert.Equal(t, clock.Now(), cs.ServerNow())
}

func TestClockSync_OffsetCorrectness(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cs := New(clock)

	// Server runs 3s behind the local clock.
	serverTime := clock.Now().Add(-3 * time.Second)
	cs.UpdateFromServerTime(serverTime)

	assert.True(t, cs.Synced())
	assert.Equal(t, 3*time.Second, cs.Offset())
	assert.True(t, cs.ToServerNow(clock.Now()).Equal(serverTime))

	clock.Advance(5 * time.Second)
	assert.True(t, cs.ServerNow().Equal(serverTime.Add(5*time.Second)))
}

func TestClockSync_LatestSampleOverwrites(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cs := New(clock)

	cs.UpdateFromServerTime(clock.Now().Add(10 * time.Second))
	assert.Equal(t, -10*time.Second, cs.Offset())

	cs.UpdateFromServerTime(clock.Now().Add(-2 * time.Second))
	assert.Equal(t, 2*time.Second, cs.Offset(), "offset is replaced, not averaged")
}

func TestClockSync_ZeroTimestampIgnored(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cs := New(clock)

	cs.UpdateFromServerTime(clock.Now().Add(-time.Second))
	cs.UpdateFromServerTime(time.Time{})

	assert.Equal(t, time.Second, cs.Offset())
}
