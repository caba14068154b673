package engine

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

func NewRoom(id, code string, rules Rules, now time.Time) Room {
	return Room{
		ID:           id,
		Code:         code,
		Phase:        PhaseLobby,
		Rules:        rules,
		LastActivity: now,
		CreatedAt:    now,
	}
}

func ContainsEvent(d Delta, kind EventKind) bool {
	for _, e := range d.Events {
		if e.Event.Kind() == kind {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of r.
func (r Room) Clone() Room {
	out := r
	out.Players = slices.Clone(r.Players)
	out.Settings.OptionalRoles = slices.Clone(r.Settings.OptionalRoles)
	out.Game.Votes = slices.Clone(r.Game.Votes)
	out.Game.LastVote = maps.Clone(r.Game.LastVote)
	out.Game.Missions = slices.Clone(r.Game.Missions)
	for i := range out.Game.Missions {
		out.Game.Missions[i].Team = slices.Clone(r.Game.Missions[i].Team)
		out.Game.Missions[i].Ballots = slices.Clone(r.Game.Missions[i].Ballots)
	}
	return out
}

// Validate checks the invariants a persisted room must satisfy. A room that
// fails is corrupt and cannot be resumed.
func (r Room) Validate() error {
	if r.Phase == PhaseLobby {
		if len(r.Players) > MaxPlayers {
			return fmt.Errorf("%w: %d players in lobby", ErrInvalidPlayerCount, len(r.Players))
		}
		return nil
	}
	if _, ok := evilCount[len(r.Players)]; !ok && r.Game.Outcome != OutcomeAborted {
		return fmt.Errorf("%w: %d players in %s", ErrInvalidPlayerCount, len(r.Players), r.Phase)
	}
	if specFor(r.Phase).enter == nil {
		return fmt.Errorf("unknown phase %q", r.Phase)
	}
	if r.Game.Rejections < 0 || r.Game.Rejections > r.Rules.MaxRejections {
		return fmt.Errorf("rejection counter %d out of range", r.Game.Rejections)
	}
	if r.Phase == PhaseGameOver {
		return nil
	}

	roles := make([]Role, 0, len(r.Players))
	for _, p := range r.Players {
		roles = append(roles, p.Role)
	}
	if err := ValidateRoleSet(len(r.Players), roles); err != nil {
		return err
	}
	if len(r.Game.Missions) != MissionCount || r.Game.Mission < 1 || r.Game.Mission > MissionCount {
		return fmt.Errorf("mission %d of %d out of range", r.Game.Mission, len(r.Game.Missions))
	}
	if r.Game.Leader < 0 || r.Game.Leader >= len(r.Players) {
		return fmt.Errorf("leader index %d out of range", r.Game.Leader)
	}
	m := r.currentMission()
	if len(m.Team) > m.TeamSize || len(m.Ballots) > len(m.Team) {
		return fmt.Errorf("mission %d holds %d members and %d ballots", m.Number, len(m.Team), len(m.Ballots))
	}
	return nil
}

func (r *Room) playerIndex(id string) int {
	return slices.IndexFunc(r.Players, func(p Player) bool { return p.ID == id })
}

// Player returns the player with id, if present.
func (r Room) Player(id string) (Player, bool) {
	i := r.playerIndex(id)
	if i < 0 {
		return Player{}, false
	}
	return r.Players[i], true
}

func (r *Room) isHost(id string) bool {
	i := r.playerIndex(id)
	return i >= 0 && r.Players[i].Host
}

func (r *Room) playerIDs() []string {
	ids := make([]string, len(r.Players))
	for i, p := range r.Players {
		ids[i] = p.ID
	}
	return ids
}

func (r *Room) leaderID() string {
	if r.Game.Leader < 0 || r.Game.Leader >= len(r.Players) {
		return ""
	}
	return r.Players[r.Game.Leader].ID
}

func (r *Room) currentMission() *Mission {
	i := r.Game.Mission - 1
	if i < 0 || i >= len(r.Game.Missions) {
		return nil
	}
	return &r.Game.Missions[i]
}

func (r *Room) hasVoted(id string) bool {
	return slices.ContainsFunc(r.Game.Votes, func(v Vote) bool { return v.PlayerID == id })
}

func (m *Mission) hasBallot(id string) bool {
	return slices.ContainsFunc(m.Ballots, func(b MissionVote) bool { return b.PlayerID == id })
}

func (r *Room) holderOf(role Role) string {
	for _, p := range r.Players {
		if p.Role == role {
			return p.ID
		}
	}
	return ""
}

func (r *Room) roleOf(id string) Role {
	if i := r.playerIndex(id); i >= 0 {
		return r.Players[i].Role
	}
	return ""
}

// roleTable maps player ids to roles, or nil before assignment.
func (r *Room) roleTable() map[string]Role {
	var table map[string]Role
	for _, p := range r.Players {
		if p.Role == "" {
			continue
		}
		if table == nil {
			table = make(map[string]Role, len(r.Players))
		}
		table[p.ID] = p.Role
	}
	return table
}

func (g GameState) score() (succeeded, failed int) {
	for _, m := range g.Missions {
		switch m.Outcome {
		case MissionSuccess:
			succeeded++
		case MissionFailure:
			failed++
		}
	}
	return succeeded, failed
}

func (p Player) info() PlayerInfo {
	return PlayerInfo{ID: p.ID, Name: p.Name, Host: p.Host, Ready: p.Ready, Connection: p.Connection}
}

func missionInfos(ms []Mission) []MissionInfo {
	out := make([]MissionInfo, len(ms))
	for i, m := range ms {
		out[i] = MissionInfo{Number: m.Number, TeamSize: m.TeamSize, FailsRequired: m.FailsRequired}
	}
	return out
}
