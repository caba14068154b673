package recovery

import (
	"slices"

	"github.com/DoyleJ11/mission-game-backend/internal/engine"
)

// Plan is what a reconnecting client needs to become current. Exactly one of
// Snapshot and Deltas is set when the client is behind; neither when it is
// already current.
type Plan struct {
	Snapshot *engine.View
	Deltas   []engine.Delta

	// Confirmed lists the client's pending action ids that were committed.
	// Discarded lists the ones that never were; the client drops them.
	Confirmed []string
	Discarded []string
}

type Coordinator struct {
	log       *Log
	threshold int
}

// NewCoordinator replays at most threshold-1 deltas; clients further behind
// get a snapshot.
func NewCoordinator(log *Log, threshold int) *Coordinator {
	if threshold < 1 {
		threshold = 1
	}
	return &Coordinator{log: log, threshold: threshold}
}

// Plan brings a client of playerID from lastKnown up to room. A negative
// lastKnown means the client has no state at all.
func (c *Coordinator) Plan(room engine.Room, playerID string, lastKnown int, pending []string) Plan {
	var p Plan

	missing, ok := c.log.Since(lastKnown)
	behind := room.Version - lastKnown
	switch {
	case lastKnown < 0 || lastKnown > room.Version:
		ok = false
	case behind == 0:
	case !ok || behind >= c.threshold || len(missing) != behind:
		ok = false
	default:
		p.Deltas = make([]engine.Delta, 0, len(missing))
		for _, d := range missing {
			p.Deltas = append(p.Deltas, d.For(playerID))
		}
	}
	if !ok && behind != 0 {
		view := engine.ViewFor(room, playerID)
		p.Snapshot = &view
	}

	committed := map[string]bool{}
	for _, d := range missing {
		if d.Cause.PlayerID == playerID && d.Cause.ActionID != "" {
			committed[d.Cause.ActionID] = true
		}
	}
	for _, id := range slices.Compact(slices.Sorted(slices.Values(pending))) {
		if committed[id] {
			p.Confirmed = append(p.Confirmed, id)
		} else {
			p.Discarded = append(p.Discarded, id)
		}
	}
	return p
}
