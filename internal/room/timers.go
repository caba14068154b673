package room

import (
	"time"

	"github.com/DoyleJ11/mission-game-backend/internal/engine"
)

// timers holds the room's scheduled work. Fields are touched only by the
// actor goroutine; the AfterFunc callbacks only post messages.
type timers struct {
	send func(Msg)

	phase  *time.Timer
	absent map[string]absentTimer
	gen    int
	idle   *time.Timer
}

type absentTimer struct {
	t   *time.Timer
	gen int
}

func newTimers(send func(Msg)) *timers {
	return &timers{send: send, absent: make(map[string]absentTimer)}
}

// armPhase schedules the timeout of the phase entered at phaseVersion. The
// identity travels with the message so a late fire is recognisably stale.
func (t *timers) armPhase(phase engine.Phase, phaseVersion int, d time.Duration) {
	t.stopPhase()
	t.phase = time.AfterFunc(d, func() {
		t.send(timerFired{phase: phase, phaseVersion: phaseVersion})
	})
}

func (t *timers) stopPhase() {
	if t.phase != nil {
		t.phase.Stop()
		t.phase = nil
	}
}

func (t *timers) armAbsent(playerID string, d time.Duration) {
	t.stopAbsent(playerID)
	t.gen++
	gen := t.gen
	t.absent[playerID] = absentTimer{
		t:   time.AfterFunc(d, func() { t.send(absentFired{playerID: playerID, gen: gen}) }),
		gen: gen,
	}
}

func (t *timers) stopAbsent(playerID string) {
	if a, ok := t.absent[playerID]; ok {
		a.t.Stop()
		delete(t.absent, playerID)
	}
}

// claimAbsent reports whether a fired absentee timer is still the current one
// for playerID, and forgets it if so.
func (t *timers) claimAbsent(playerID string, gen int) bool {
	a, ok := t.absent[playerID]
	if !ok || a.gen != gen {
		return false
	}
	delete(t.absent, playerID)
	return true
}

func (t *timers) armIdle(d time.Duration) {
	if t.idle != nil {
		t.idle.Stop()
	}
	t.idle = time.AfterFunc(d, func() { t.send(idleFired{}) })
}

func (t *timers) stopGame() {
	t.stopPhase()
	for id := range t.absent {
		t.stopAbsent(id)
	}
}

func (t *timers) stopAll() {
	t.stopGame()
	if t.idle != nil {
		t.idle.Stop()
		t.idle = nil
	}
}
