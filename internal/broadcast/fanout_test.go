package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/mission-game-backend/internal/engine"
)

func delta(v int, events ...engine.Envelope) engine.Delta {
	return engine.Delta{Version: v, Events: events}
}

func recvFrame(t *testing.T, ch <-chan Frame) Frame {
	t.Helper()
	select {
	case f, ok := <-ch:
		require.True(t, ok, "channel closed")
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func TestPublishKeepsCommitOrderPerConnection(t *testing.T) {
	f := New(8, zaptest.NewLogger(t))
	a := f.Subscribe("c1", "p1")
	b := f.Subscribe("c2", "p2")

	for v := 1; v <= 3; v++ {
		assert.Empty(t, f.Publish(delta(v)))
	}
	for _, sub := range []Subscription{a, b} {
		for v := 1; v <= 3; v++ {
			fr := recvFrame(t, sub.Frames)
			require.NotNil(t, fr.Delta)
			assert.Equal(t, v, fr.Delta.Version)
		}
	}
}

func TestPublishRedactsPerPlayer(t *testing.T) {
	f := New(4, zaptest.NewLogger(t))
	seer := f.Subscribe("c1", "p1")
	spectator := f.Subscribe("c2", "")

	f.Publish(delta(1,
		engine.Envelope{Event: engine.ReadyChanged{PlayerID: "p1", Ready: true}},
		engine.Envelope{To: "p1", Event: engine.RoleRevealed{Role: engine.RoleSeer, Team: engine.TeamGood}},
		engine.Envelope{To: "p2", Event: engine.RoleRevealed{Role: engine.RoleAssassin, Team: engine.TeamEvil}},
	))

	got := recvFrame(t, seer.Frames).Delta
	require.Len(t, got.Events, 2)
	assert.Equal(t, engine.RoleSeer, got.Events[1].Event.(engine.RoleRevealed).Role)

	assert.Len(t, recvFrame(t, spectator.Frames).Delta.Events, 1)
}

func TestSlowConnectionIsDegradedNotDropped(t *testing.T) {
	f := New(2, zaptest.NewLogger(t))
	slow := f.Subscribe("slow", "p1")
	fast := f.Subscribe("fast", "p2")

	assert.Empty(t, f.Publish(delta(1)))
	assert.Empty(t, f.Publish(delta(2)))
	// Drain the fast reader so only the slow one overflows.
	recvFrame(t, fast.Frames)
	recvFrame(t, fast.Frames)

	assert.Equal(t, []string{"slow"}, f.Publish(delta(3)))
	assert.True(t, f.Degraded("slow"))
	assert.False(t, f.Degraded("fast"))
	assert.Equal(t, 3, recvFrame(t, fast.Frames).Delta.Version)

	select {
	case <-slow.Lagged:
	default:
		t.Fatal("slow connection was not signalled")
	}

	// Degraded connections are skipped until they catch up.
	assert.Empty(t, f.Publish(delta(4)))
	assert.Equal(t, 2, f.Len())

	view := engine.View{Version: 4}
	resumed := Resumed{Version: 4, Discarded: []string{"a-1"}}
	require.True(t, f.Deliver("slow", Frame{Snapshot: &view}, Frame{Resumed: &resumed}))
	assert.False(t, f.Degraded("slow"))

	fr := recvFrame(t, slow.Frames)
	require.NotNil(t, fr.Snapshot)
	assert.Equal(t, 4, fr.Snapshot.Version)
	assert.Equal(t, []string{"a-1"}, recvFrame(t, slow.Frames).Resumed.Discarded)

	f.Publish(delta(5))
	assert.Equal(t, 5, recvFrame(t, slow.Frames).Delta.Version)
}

func TestDeliverTooManyFramesStaysDegraded(t *testing.T) {
	f := New(2, zaptest.NewLogger(t))
	sub := f.Subscribe("c1", "p1")

	d1, d2, d3 := delta(1), delta(2), delta(3)
	assert.False(t, f.Deliver("c1", Frame{Delta: &d1}, Frame{Delta: &d2}, Frame{Delta: &d3}))
	assert.True(t, f.Degraded("c1"))
	<-sub.Lagged

	assert.False(t, f.Deliver("missing"))
}

func TestUnsubscribeClosesQueue(t *testing.T) {
	f := New(1, zaptest.NewLogger(t))
	a := f.Subscribe("c1", "p1")
	f.Subscribe("c2", "p1")
	assert.Equal(t, 2, f.Connections("p1"))

	assert.True(t, f.Unsubscribe("c1"))
	assert.False(t, f.Unsubscribe("c1"))
	_, ok := <-a.Frames
	assert.False(t, ok)
	assert.Equal(t, 1, f.Connections("p1"))

	f.Close()
	assert.Equal(t, 0, f.Len())
}
