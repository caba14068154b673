package engine

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// View is what one player is allowed to know about a room. It doubles as the
// catch-up snapshot sent to a reconnecting client.
type View struct {
	RoomID       string       `json:"room_id"`
	Code         string       `json:"code"`
	Self         string       `json:"self,omitempty"`
	Version      int          `json:"version"`
	Phase        Phase        `json:"phase"`
	PhaseVersion int          `json:"phase_version"`
	Deadline     time.Time    `json:"deadline,omitzero"`
	Players      []PlayerInfo `json:"players"`
	Settings     Settings     `json:"settings"`

	Role      Role       `json:"role,omitempty"`
	Team      Team       `json:"team,omitempty"`
	Sightings []Sighting `json:"sightings,omitempty"`

	Mission    int             `json:"mission"`
	Leader     int             `json:"leader"`
	Rejections int             `json:"rejections"`
	Missions   []MissionView   `json:"missions,omitempty"`
	Voted      []string        `json:"voted,omitempty"`
	LastVote   map[string]bool `json:"last_vote,omitempty"`

	Eliminator        string `json:"eliminator,omitempty"`
	EliminationTarget string `json:"elimination_target,omitempty"`

	Outcome Outcome         `json:"outcome,omitempty"`
	Reason  EndReason       `json:"reason,omitempty"`
	Detail  string          `json:"detail,omitempty"`
	Roles   map[string]Role `json:"roles,omitempty"`
}

// MissionView lists who submitted a ballot but never what they chose.
type MissionView struct {
	Number        int            `json:"number"`
	TeamSize      int            `json:"team_size"`
	FailsRequired int            `json:"fails_required"`
	Team          []string       `json:"team,omitempty"`
	Submitted     []string       `json:"submitted,omitempty"`
	Outcome       MissionOutcome `json:"outcome,omitempty"`
	Fails         int            `json:"fails,omitempty"`
}

// ViewFor redacts r for playerID. An empty or unknown playerID yields the
// public view.
func ViewFor(r Room, playerID string) View {
	v := View{
		RoomID:       r.ID,
		Code:         r.Code,
		Self:         playerID,
		Version:      r.Version,
		Phase:        r.Phase,
		PhaseVersion: r.PhaseVersion,
		Deadline:     r.PhaseDeadline,
		Players:      make([]PlayerInfo, len(r.Players)),
		Settings:     Settings{OptionalRoles: slices.Clone(r.Settings.OptionalRoles)},

		Mission:           r.Game.Mission,
		Leader:            r.Game.Leader,
		Rejections:        r.Game.Rejections,
		LastVote:          maps.Clone(r.Game.LastVote),
		Eliminator:        r.Game.Eliminator,
		EliminationTarget: r.Game.EliminationTarget,
		Outcome:           r.Game.Outcome,
		Reason:            r.Game.Reason,
		Detail:            r.Game.Detail,
	}
	for i, p := range r.Players {
		v.Players[i] = p.info()
	}
	for _, vote := range r.Game.Votes {
		v.Voted = append(v.Voted, vote.PlayerID)
	}
	for _, m := range r.Game.Missions {
		mv := MissionView{
			Number:        m.Number,
			TeamSize:      m.TeamSize,
			FailsRequired: m.FailsRequired,
			Team:          slices.Clone(m.Team),
			Outcome:       m.Outcome,
			Fails:         m.Fails,
		}
		for _, b := range m.Ballots {
			mv.Submitted = append(mv.Submitted, b.PlayerID)
		}
		v.Missions = append(v.Missions, mv)
	}

	table := r.roleTable()
	if role, ok := table[playerID]; ok {
		v.Role = role
		v.Team = role.Team()
		v.Sightings = Sightings(table, playerID)
	}
	if r.Phase == PhaseGameOver {
		v.Roles = table
	}
	return v
}

func (v View) Clone() View {
	out := v
	out.Players = slices.Clone(v.Players)
	out.Settings.OptionalRoles = slices.Clone(v.Settings.OptionalRoles)
	out.Sightings = slices.Clone(v.Sightings)
	out.Voted = slices.Clone(v.Voted)
	out.LastVote = maps.Clone(v.LastVote)
	out.Roles = maps.Clone(v.Roles)
	out.Missions = slices.Clone(v.Missions)
	for i := range out.Missions {
		out.Missions[i].Team = slices.Clone(v.Missions[i].Team)
		out.Missions[i].Submitted = slices.Clone(v.Missions[i].Submitted)
	}
	return out
}

// Reduce applies the next committed delta to v. A delta at or below v's
// version returns ErrStaleDelta and v unchanged, so duplicate delivery is
// harmless. A delta that skips versions returns ErrVersionGap.
func Reduce(v View, d Delta) (View, error) {
	switch {
	case d.Version <= v.Version:
		return v, ErrStaleDelta
	case d.Version > v.Version+1:
		return v, fmt.Errorf("%w: have %d, got %d", ErrVersionGap, v.Version, d.Version)
	}

	out := v.Clone()
	for _, e := range d.Events {
		if e.To != "" && e.To != v.Self {
			continue
		}
		if err := out.apply(e.Event); err != nil {
			return v, err
		}
	}
	out.Version = d.Version
	return out, nil
}

func (v *View) apply(e Event) error {
	switch ev := e.(type) {
	case PlayerJoined:
		v.Players = append(v.Players, ev.Player)
	case PlayerLeft:
		v.Players = slices.DeleteFunc(v.Players, func(p PlayerInfo) bool { return p.ID == ev.PlayerID })
	case HostChanged:
		for i := range v.Players {
			v.Players[i].Host = v.Players[i].ID == ev.PlayerID
		}
	case ReadyChanged:
		if p := v.player(ev.PlayerID); p != nil {
			p.Ready = ev.Ready
		}
	case ConnectionChanged:
		if p := v.player(ev.PlayerID); p != nil {
			p.Connection = ev.Connection
		}
	case SettingsChanged:
		v.Settings = Settings{OptionalRoles: slices.Clone(ev.Settings.OptionalRoles)}
	case PhaseChanged:
		v.enter(ev)
	case PhaseTimedOut:
	case RolesAssigned:
		v.Missions = make([]MissionView, len(ev.Missions))
		for i, m := range ev.Missions {
			v.Missions[i] = MissionView{Number: m.Number, TeamSize: m.TeamSize, FailsRequired: m.FailsRequired}
		}
	case RoleRevealed:
		v.Role = ev.Role
		v.Team = ev.Team
		v.Sightings = slices.Clone(ev.Sightings)
	case TeamProposed:
		if m := v.mission(ev.Mission); m != nil {
			m.Team = slices.Clone(ev.Team)
		}
	case VoteCast:
		v.Voted = append(v.Voted, ev.PlayerID)
	case VoteResolved:
		v.LastVote = maps.Clone(ev.Votes)
		v.Rejections = ev.Rejections
	case BallotCast:
		if m := v.mission(v.Mission); m != nil {
			m.Submitted = append(m.Submitted, ev.PlayerID)
		}
	case MissionResolved:
		if m := v.mission(ev.Mission); m != nil {
			m.Outcome = ev.Outcome
			m.Fails = ev.Fails
		}
	case EliminationResolved:
		v.EliminationTarget = ev.Target
	case GameEnded:
		v.Outcome = ev.Outcome
		v.Reason = ev.Reason
		v.Detail = ev.Detail
		v.Roles = maps.Clone(ev.Roles)
	default:
		return fmt.Errorf("unhandled event %T", e)
	}
	return nil
}

// enter mirrors the state preparation the engine does on phase entry.
func (v *View) enter(ev PhaseChanged) {
	v.Phase = ev.To
	v.PhaseVersion = ev.PhaseVersion
	v.Deadline = ev.Deadline
	v.Mission = ev.Mission
	v.Leader = ev.Leader
	v.Rejections = ev.Rejections

	switch ev.To {
	case PhaseRoleReveal:
		for i := range v.Players {
			v.Players[i].Ready = false
		}
		v.Missions = nil
		v.Voted = nil
		v.LastVote = nil
		v.Eliminator, v.EliminationTarget = "", ""
		v.Outcome, v.Reason, v.Detail = "", "", ""
	case PhaseTeamProposal:
		v.Voted = nil
		if m := v.mission(v.Mission); m != nil {
			m.Team = nil
			m.Submitted = nil
		}
	case PhaseTeamVote:
		v.Voted = nil
	case PhaseMissionExecution:
		if m := v.mission(v.Mission); m != nil {
			m.Submitted = nil
		}
	case PhaseEliminationAttempt:
		v.Eliminator = ev.Eliminator
		v.EliminationTarget = ""
	}
}

func (v *View) player(id string) *PlayerInfo {
	i := slices.IndexFunc(v.Players, func(p PlayerInfo) bool { return p.ID == id })
	if i < 0 {
		return nil
	}
	return &v.Players[i]
}

func (v *View) mission(n int) *MissionView {
	if n < 1 || n > len(v.Missions) {
		return nil
	}
	return &v.Missions[n-1]
}
