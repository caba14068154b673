package room

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/mission-game-backend/internal/broadcast"
	"github.com/DoyleJ11/mission-game-backend/internal/engine"
	"github.com/DoyleJ11/mission-game-backend/internal/store"
)

// maxFillRounds bounds how many consecutive phases fillAbsentees may drive
// forward in one go. A full game never needs more.
const maxFillRounds = 128

// submit runs a client command. Commands the server issues on its own are
// refused.
func (r *Room) submit(cmd engine.Command) error {
	switch cmd.Type {
	case engine.CmdTimeout, engine.CmdAbsentTimeout, engine.CmdAbort, engine.CmdConnection:
		return &engine.ValidationError{Err: engine.ErrUnsupportedCommand}
	}

	_, err := r.commit(cmd)
	switch {
	case err == nil:
	case engine.IsValidation(err):
		r.logger.Debug("action rejected",
			zap.String("player", cmd.PlayerID),
			zap.String("type", string(cmd.Type)),
			zap.Error(err))
	default:
		r.logger.Error("commit failed",
			zap.String("player", cmd.PlayerID),
			zap.String("type", string(cmd.Type)),
			zap.Error(err))
	}
	return err
}

// commit applies cmd, persists the result against the version it was computed
// from and publishes the delta. A version conflict in the store means another
// writer got there first: the room is reloaded and the command retried.
func (r *Room) commit(cmd engine.Command) (engine.Delta, error) {
	attempts := max(r.cfg.CommitAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		next, d, applyErr := engine.Apply(r.state, cmd, time.Now())
		if applyErr != nil {
			if engine.IsFatal(applyErr) {
				r.fatal(applyErr, cmd)
			}
			return engine.Delta{}, applyErr
		}
		if d.Version == r.state.Version {
			return d, nil
		}

		saveErr := r.store.SaveRoom(r.ctx, next, r.state.Version)
		if saveErr == nil {
			r.state = next
			r.published(d)
			return d, nil
		}
		if !errors.Is(saveErr, store.ErrConflict) {
			return engine.Delta{}, fmt.Errorf("save room: %w", saveErr)
		}

		err = &engine.StaleTransitionError{Expected: r.state.Version, Err: saveErr}
		r.logger.Warn("stale transition",
			zap.String("type", string(cmd.Type)),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if loadErr := r.reload(); loadErr != nil {
			if !engine.IsFatal(loadErr) {
				return engine.Delta{}, loadErr
			}
			if cmd.Type == engine.CmdAbort {
				// Retry on top of the adopted version.
				err = loadErr
				continue
			}
			r.fatal(loadErr, cmd)
			return engine.Delta{}, loadErr
		}
	}
	return engine.Delta{}, err
}

// fatal aborts the game after an unreachable transition.
func (r *Room) fatal(err error, cmd engine.Command) {
	r.logger.Error("fatal state", zap.String("type", string(cmd.Type)), zap.Error(err))
	if cmd.Type == engine.CmdAbort || r.state.Phase == engine.PhaseGameOver {
		return
	}
	if _, abortErr := r.commit(engine.Command{Type: engine.CmdAbort, Reason: err.Error()}); abortErr != nil {
		r.logger.Error("abort failed", zap.Error(abortErr))
	}
}

func (r *Room) published(d engine.Delta) {
	r.log.Append(d)
	for _, connID := range r.fanout.Publish(d) {
		r.logger.Debug("connection lagging", zap.String("conn", connID), zap.Int("version", d.Version))
	}
	if engine.ContainsEvent(d, engine.EvtPhaseChanged) {
		r.armPhaseTimer()
	}
}

// reload replaces the in-memory room with the stored one and resyncs every
// connection from a snapshot. A stored room that fails validation is not
// adopted: the last good state takes over its version so the abort that
// follows overwrites the corrupt record.
func (r *Room) reload() error {
	fresh, err := r.store.LoadRoom(r.ctx, r.state.Code)
	if err != nil {
		return fmt.Errorf("reload room: %w", err)
	}
	if err := fresh.Validate(); err != nil {
		r.state.Version = fresh.Version
		r.resync()
		return &engine.FatalStateError{From: fresh.Phase, To: fresh.Phase, Reason: err.Error()}
	}

	r.state = fresh
	r.resync()
	r.armPhaseTimer()
	return nil
}

// resync drops the delta log and sends every connection a fresh snapshot.
func (r *Room) resync() {
	r.log.Reset()
	r.fanout.Each(func(connID, playerID string) {
		view := engine.ViewFor(r.state, playerID)
		r.fanout.Deliver(connID,
			broadcast.Frame{Snapshot: &view},
			broadcast.Frame{Resumed: &broadcast.Resumed{Version: r.state.Version}})
	})
}

func (r *Room) armPhaseTimer() {
	switch {
	case r.state.Phase == engine.PhaseGameOver:
		r.timers.stopGame()
	case r.state.PhaseDeadline.IsZero():
		r.timers.stopPhase()
	default:
		r.timers.armPhase(r.state.Phase, r.state.PhaseVersion, time.Until(r.state.PhaseDeadline))
	}
}

func (r *Room) phaseTimeout(msg timerFired) {
	_, err := r.commit(engine.Command{
		Type:         engine.CmdTimeout,
		Phase:        msg.phase,
		PhaseVersion: msg.phaseVersion,
	})
	switch {
	case err == nil:
		r.logger.Info("phase timed out, fallback applied",
			zap.String("phase", string(msg.phase)),
			zap.Int("phase_version", msg.phaseVersion))
	case errors.Is(err, engine.ErrStaleTimer), engine.IsValidation(err):
		r.logger.Debug("stale timer ignored",
			zap.String("phase", string(msg.phase)),
			zap.Int("phase_version", msg.phaseVersion))
	default:
		r.logger.Error("phase timeout", zap.Error(err))
	}
}

// absentTimeout fires when a disconnected player's grace period ran out. In the
// lobby the player is removed; in a game they go offline and the current phase
// stops waiting for them.
func (r *Room) absentTimeout(msg absentFired) {
	if !r.timers.claimAbsent(msg.playerID, msg.gen) {
		return
	}
	cmd := engine.Command{Type: engine.CmdAbsentTimeout, PlayerID: msg.playerID}
	if r.state.Phase == engine.PhaseLobby {
		cmd = engine.Command{Type: engine.CmdLeave, PlayerID: msg.playerID}
	}

	_, err := r.commit(cmd)
	switch {
	case err == nil:
		r.logger.Info("player absent", zap.String("player", msg.playerID))
	case errors.Is(err, engine.ErrStaleTimer), engine.IsValidation(err):
		r.logger.Debug("absent timer ignored", zap.String("player", msg.playerID), zap.Error(err))
	default:
		r.logger.Error("absent timeout", zap.String("player", msg.playerID), zap.Error(err))
	}
}

// fillAbsentees applies the absent fallback for every offline player once per
// phase, so a game never waits on someone who is gone.
func (r *Room) fillAbsentees() {
	for range maxFillRounds {
		if r.state.Phase == engine.PhaseLobby || r.state.Phase == engine.PhaseGameOver {
			return
		}
		if r.filledAt == r.state.PhaseVersion {
			return
		}
		r.filledAt = r.state.PhaseVersion

		var offline []string
		for _, p := range r.state.Players {
			if p.Connection == engine.ConnOffline {
				offline = append(offline, p.ID)
			}
		}
		for _, id := range offline {
			_, err := r.commit(engine.Command{Type: engine.CmdAbsentTimeout, PlayerID: id})
			if err != nil && !errors.Is(err, engine.ErrStaleTimer) {
				r.logger.Debug("absent fallback", zap.String("player", id), zap.Error(err))
			}
			if r.state.PhaseVersion != r.filledAt {
				break
			}
		}
	}
}

// connected marks playerID online when its first connection attaches.
func (r *Room) connected(playerID string) {
	if playerID == "" {
		return
	}
	r.timers.stopAbsent(playerID)
	p, ok := r.state.Player(playerID)
	if !ok || p.Connection == engine.ConnOnline {
		return
	}
	if _, err := r.commit(engine.Command{Type: engine.CmdConnection, PlayerID: playerID, Connection: engine.ConnOnline}); err != nil {
		r.logger.Error("mark online", zap.String("player", playerID), zap.Error(err))
	}
}

// unsubscribe detaches connID. When the player's last connection goes they
// are marked reconnecting and get ReconnectGrace to come back.
func (r *Room) unsubscribe(connID string) {
	playerID, ok := r.fanout.PlayerOf(connID)
	r.fanout.Unsubscribe(connID)
	if !ok || playerID == "" || r.fanout.Connections(playerID) > 0 {
		return
	}
	if _, ok := r.state.Player(playerID); !ok {
		return
	}

	if _, err := r.commit(engine.Command{Type: engine.CmdConnection, PlayerID: playerID, Connection: engine.ConnReconnecting}); err != nil {
		r.logger.Error("mark reconnecting", zap.String("player", playerID), zap.Error(err))
	}
	if r.state.Phase != engine.PhaseGameOver {
		r.timers.armAbsent(playerID, r.state.Rules.ReconnectGrace)
	}
}

// catchUp brings connID from lastVersion to the current version and ends the
// sequence with a Resumed frame.
func (r *Room) catchUp(connID, playerID string, lastVersion int, pending []string) {
	plan := r.coord.Plan(r.state, playerID, lastVersion, pending)
	resumed := &broadcast.Resumed{
		Version:   r.state.Version,
		Confirmed: plan.Confirmed,
		Discarded: plan.Discarded,
	}

	frames := make([]broadcast.Frame, 0, len(plan.Deltas)+2)
	if plan.Snapshot != nil {
		frames = append(frames, broadcast.Frame{Snapshot: plan.Snapshot})
	}
	for i := range plan.Deltas {
		frames = append(frames, broadcast.Frame{Delta: &plan.Deltas[i]})
	}
	frames = append(frames, broadcast.Frame{Resumed: resumed})
	if r.fanout.Deliver(connID, frames...) {
		return
	}

	view := engine.ViewFor(r.state, playerID)
	r.fanout.Deliver(connID, broadcast.Frame{Snapshot: &view}, broadcast.Frame{Resumed: resumed})
}

func (r *Room) resume(msg Resume) {
	playerID, ok := r.fanout.PlayerOf(msg.ConnID)
	if !ok {
		return
	}
	r.logger.Debug("resuming connection",
		zap.String("conn", msg.ConnID),
		zap.Int("last_version", msg.LastVersion),
		zap.Int("version", r.state.Version))
	r.catchUp(msg.ConnID, playerID, msg.LastVersion, msg.Pending)
}

// restore runs once when the actor starts, possibly after a server restart.
// Nobody is connected yet, so every player still marked online is moved to
// reconnecting and given the grace period.
func (r *Room) restore() {
	if err := r.state.Validate(); err != nil {
		r.fatal(&engine.FatalStateError{From: r.state.Phase, To: r.state.Phase, Reason: err.Error()}, engine.Command{})
		return
	}
	if r.state.Phase != engine.PhaseGameOver {
		for _, p := range r.state.Players {
			if p.Connection == engine.ConnOffline {
				continue
			}
			if p.Connection == engine.ConnOnline {
				cmd := engine.Command{Type: engine.CmdConnection, PlayerID: p.ID, Connection: engine.ConnReconnecting}
				if _, err := r.commit(cmd); err != nil {
					r.logger.Error("mark reconnecting", zap.String("player", p.ID), zap.Error(err))
				}
			}
			r.timers.armAbsent(p.ID, r.state.Rules.ReconnectGrace)
		}
	}
	r.armPhaseTimer()
	r.fillAbsentees()
}
