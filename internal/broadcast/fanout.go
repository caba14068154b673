package broadcast

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/mission-game-backend/internal/engine"
)

// Frame is one unit queued for a connection. Exactly one field is set.
type Frame struct {
	Delta    *engine.Delta
	Snapshot *engine.View
	// Resumed closes a catch-up sequence.
	Resumed *Resumed
}

// Resumed tells a reconnecting client which of its pending actions were
// committed and which it must drop.
type Resumed struct {
	Version   int
	Confirmed []string
	Discarded []string
}

// Subscription is the receiving end handed to a transport.
type Subscription struct {
	ConnID   string
	PlayerID string
	// Frames is closed when the subscription ends.
	Frames <-chan Frame
	// Lagged fires when frames were dropped because the queue was full. The
	// holder should ask the room to resume from the last version it wrote.
	Lagged <-chan struct{}
}

type subscriber struct {
	playerID string
	frames   chan Frame
	lagged   chan struct{}
	degraded bool
}

// Fanout delivers committed deltas of one room to its connections. It is
// owned by the room's writer goroutine and is not safe for concurrent use;
// sends never block.
type Fanout struct {
	subs  map[string]*subscriber
	depth int
	log   *zap.Logger
}

// New returns a Fanout with per-connection queues of depth frames. A queue
// always fits a snapshot and its Resumed frame.
func New(depth int, log *zap.Logger) *Fanout {
	if depth < 2 {
		depth = 2
	}
	return &Fanout{subs: make(map[string]*subscriber), depth: depth, log: log}
}

// Subscribe registers connID. Re-subscribing an existing connID replaces it.
func (f *Fanout) Subscribe(connID, playerID string) Subscription {
	f.Unsubscribe(connID)
	s := &subscriber{
		playerID: playerID,
		frames:   make(chan Frame, f.depth),
		lagged:   make(chan struct{}, 1),
	}
	f.subs[connID] = s
	return Subscription{ConnID: connID, PlayerID: playerID, Frames: s.frames, Lagged: s.lagged}
}

// Unsubscribe closes connID's queue. It reports whether connID was
// subscribed.
func (f *Fanout) Unsubscribe(connID string) bool {
	s, ok := f.subs[connID]
	if !ok {
		return false
	}
	close(s.frames)
	delete(f.subs, connID)
	return true
}

// Publish queues d, redacted per player, on every healthy connection. A
// connection whose queue is full is marked degraded and signalled instead of
// being dropped. The newly degraded connection ids are returned.
func (f *Fanout) Publish(d engine.Delta) []string {
	var degraded []string
	for id, s := range f.subs {
		if s.degraded {
			continue
		}
		view := d.For(s.playerID)
		select {
		case s.frames <- Frame{Delta: &view}:
		default:
			f.degrade(id, s)
			degraded = append(degraded, id)
		}
	}
	return degraded
}

// Deliver replaces whatever is still queued for connID with frames and
// clears its degraded mark. It is the catch-up path: queued frames are
// superseded by the frames computed from the connection's last known version.
func (f *Fanout) Deliver(connID string, frames ...Frame) bool {
	s, ok := f.subs[connID]
	if !ok {
		return false
	}
	drain(s.frames)
	if len(frames) > cap(s.frames) {
		f.degrade(connID, s)
		return false
	}
	for _, fr := range frames {
		s.frames <- fr
	}
	s.degraded = false
	return true
}

func (f *Fanout) degrade(connID string, s *subscriber) {
	if !s.degraded {
		f.log.Warn("connection degraded",
			zap.String("conn", connID),
			zap.String("player", s.playerID),
			zap.Int("queued", len(s.frames)))
	}
	s.degraded = true
	select {
	case s.lagged <- struct{}{}:
	default:
	}
}

func (f *Fanout) Degraded(connID string) bool {
	s, ok := f.subs[connID]
	return ok && s.degraded
}

// PlayerOf returns the player connID was subscribed for.
func (f *Fanout) PlayerOf(connID string) (string, bool) {
	s, ok := f.subs[connID]
	if !ok {
		return "", false
	}
	return s.playerID, true
}

// Each calls fn for every connection.
func (f *Fanout) Each(fn func(connID, playerID string)) {
	for id, s := range f.subs {
		fn(id, s.playerID)
	}
}

// Connections counts the live connections of playerID.
func (f *Fanout) Connections(playerID string) int {
	n := 0
	for _, s := range f.subs {
		if s.playerID == playerID {
			n++
		}
	}
	return n
}

func (f *Fanout) Len() int { return len(f.subs) }

// Close ends every subscription.
func (f *Fanout) Close() {
	for id := range f.subs {
		f.Unsubscribe(id)
	}
}

func drain(ch chan Frame) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
