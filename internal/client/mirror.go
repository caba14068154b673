// Package client keeps a player's local copy of a room in step with the
// server. The authoritative layer only ever changes through committed deltas
// and snapshots; optimistic predictions sit in an overlay above it until the
// server confirms or overrides them.
package client

import (
	"errors"
	"slices"
	"time"

	"github.com/DoyleJ11/mission-game-backend/internal/engine"
)

var ErrMissingActionID = errors.New("prediction needs an action id")

var now = time.Now

// Resolution reports what happened to pending predictions in one update.
type Resolution struct {
	Confirmed  []string
	RolledBack []string
}

func (r Resolution) Empty() bool { return len(r.Confirmed) == 0 && len(r.RolledBack) == 0 }

type prediction struct {
	cmd          engine.Command
	phaseVersion int
	expires      time.Time
}

// Mirror is one client's view of a room. It is not safe for concurrent use.
type Mirror struct {
	base    engine.View
	pending []prediction
	ttl     time.Duration
}

func NewMirror(snapshot engine.View, ttl time.Duration) *Mirror {
	return &Mirror{base: snapshot.Clone(), ttl: ttl}
}

func (m *Mirror) Version() int { return m.base.Version }

// Authoritative returns the committed state only.
func (m *Mirror) Authoritative() engine.View { return m.base.Clone() }

// View returns the committed state with every live prediction applied on top.
func (m *Mirror) View() engine.View {
	v := m.base.Clone()
	t := now()
	for _, p := range m.pending {
		if t.Before(p.expires) {
			overlay(&v, p.cmd)
		}
	}
	return v
}

// Pending lists the action ids still awaiting the server, oldest first.
func (m *Mirror) Pending() []string {
	ids := make([]string, len(m.pending))
	for i, p := range m.pending {
		ids[i] = p.cmd.ActionID
	}
	return ids
}

// Predict applies cmd locally before the server has seen it.
func (m *Mirror) Predict(cmd engine.Command) error {
	if cmd.ActionID == "" {
		return ErrMissingActionID
	}
	m.pending = append(m.pending, prediction{
		cmd:          cmd,
		phaseVersion: m.base.PhaseVersion,
		expires:      now().Add(m.ttl),
	})
	return nil
}

// ApplyDelta folds a committed delta into the authoritative layer. Duplicate
// deltas are ignored. A gap returns engine.ErrVersionGap; the caller should
// resume from Version.
func (m *Mirror) ApplyDelta(d engine.Delta) (Resolution, error) {
	next, err := engine.Reduce(m.base, d)
	if errors.Is(err, engine.ErrStaleDelta) {
		return Resolution{}, nil
	}
	if err != nil {
		return Resolution{}, err
	}
	m.base = next

	var res Resolution
	if d.Cause.ActionID != "" && d.Cause.PlayerID == m.base.Self {
		res.Confirmed = m.drop(func(p prediction) bool { return p.cmd.ActionID == d.Cause.ActionID })
	}
	res.RolledBack = m.drop(m.superseded)
	return res, nil
}

// ApplySnapshot replaces the authoritative layer. Predictions made in an
// earlier phase are rolled back; the rest wait for the Resumed that follows.
func (m *Mirror) ApplySnapshot(v engine.View) Resolution {
	m.base = v.Clone()
	return Resolution{RolledBack: m.drop(m.superseded)}
}

// Resume settles pending predictions after a catch-up sequence.
func (m *Mirror) Resume(confirmed, discarded []string) Resolution {
	return Resolution{
		Confirmed:  m.drop(func(p prediction) bool { return slices.Contains(confirmed, p.cmd.ActionID) }),
		RolledBack: m.drop(func(p prediction) bool { return slices.Contains(discarded, p.cmd.ActionID) }),
	}
}

// Reject drops a prediction the server refused.
func (m *Mirror) Reject(actionID string) Resolution {
	return Resolution{RolledBack: m.drop(func(p prediction) bool { return p.cmd.ActionID == actionID })}
}

// Expire drops predictions older than the TTL.
func (m *Mirror) Expire() Resolution {
	t := now()
	return Resolution{RolledBack: m.drop(func(p prediction) bool { return !t.Before(p.expires) })}
}

func (m *Mirror) superseded(p prediction) bool {
	return p.phaseVersion != m.base.PhaseVersion || m.base.Phase == engine.PhaseGameOver
}

func (m *Mirror) drop(match func(prediction) bool) []string {
	var ids []string
	m.pending = slices.DeleteFunc(m.pending, func(p prediction) bool {
		if match(p) {
			ids = append(ids, p.cmd.ActionID)
			return true
		}
		return false
	})
	return ids
}

// overlay is the optimistic effect of cmd as seen by its sender.
func overlay(v *engine.View, cmd engine.Command) {
	switch cmd.Type {
	case engine.CmdSetReady:
		for i := range v.Players {
			if v.Players[i].ID == v.Self {
				v.Players[i].Ready = cmd.Ready
			}
		}
	case engine.CmdUpdateSettings:
		if cmd.Settings != nil {
			v.Settings = engine.Settings{OptionalRoles: slices.Clone(cmd.Settings.OptionalRoles)}
		}
	case engine.CmdProposeTeam:
		if m := currentMission(v); m != nil {
			m.Team = slices.Clone(cmd.Team)
		}
	case engine.CmdCastVote:
		if !slices.Contains(v.Voted, v.Self) {
			v.Voted = append(v.Voted, v.Self)
		}
	case engine.CmdSubmitBallot:
		if m := currentMission(v); m != nil && !slices.Contains(m.Submitted, v.Self) {
			m.Submitted = append(m.Submitted, v.Self)
		}
	case engine.CmdEliminate:
		v.EliminationTarget = cmd.Target
	}
}

func currentMission(v *engine.View) *engine.MissionView {
	for i := range v.Missions {
		if v.Missions[i].Number == v.Mission {
			return &v.Missions[i]
		}
	}
	return nil
}
