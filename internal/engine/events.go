package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventKind string

const (
	EvtPlayerJoined        EventKind = "PlayerJoined"
	EvtPlayerLeft          EventKind = "PlayerLeft"
	EvtHostChanged         EventKind = "HostChanged"
	EvtReadyChanged        EventKind = "ReadyChanged"
	EvtConnectionChanged   EventKind = "ConnectionChanged"
	EvtSettingsChanged     EventKind = "SettingsChanged"
	EvtPhaseChanged        EventKind = "PhaseChanged"
	EvtPhaseTimedOut       EventKind = "PhaseTimedOut"
	EvtRolesAssigned       EventKind = "RolesAssigned"
	EvtRoleRevealed        EventKind = "RoleRevealed"
	EvtTeamProposed        EventKind = "TeamProposed"
	EvtVoteCast            EventKind = "VoteCast"
	EvtVoteResolved        EventKind = "VoteResolved"
	EvtBallotCast          EventKind = "BallotCast"
	EvtMissionResolved     EventKind = "MissionResolved"
	EvtEliminationResolved EventKind = "EliminationResolved"
	EvtGameEnded           EventKind = "GameEnded"
)

// Event is the closed set of things a committed transition can report.
// Only types in this file implement it.
type Event interface {
	Kind() EventKind
	isEvent()
}

type PlayerInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Host       bool      `json:"host"`
	Ready      bool      `json:"ready"`
	Connection ConnState `json:"connection"`
}

type MissionInfo struct {
	Number        int `json:"number"`
	TeamSize      int `json:"team_size"`
	FailsRequired int `json:"fails_required"`
}

type PlayerJoined struct {
	Player PlayerInfo `json:"player"`
}

type PlayerLeft struct {
	PlayerID string `json:"player_id"`
	Kicked   bool   `json:"kicked,omitempty"`
}

type HostChanged struct {
	PlayerID string `json:"player_id"`
}

type ReadyChanged struct {
	PlayerID string `json:"player_id"`
	Ready    bool   `json:"ready"`
}

type ConnectionChanged struct {
	PlayerID   string    `json:"player_id"`
	Connection ConnState `json:"connection"`
}

type SettingsChanged struct {
	Settings Settings `json:"settings"`
}

type PhaseChanged struct {
	From         Phase     `json:"from"`
	To           Phase     `json:"to"`
	PhaseVersion int       `json:"phase_version"`
	Deadline     time.Time `json:"deadline,omitzero"`
	Mission      int       `json:"mission"`
	Leader       int       `json:"leader"`
	Rejections   int       `json:"rejections"`
	Eliminator   string    `json:"eliminator,omitempty"`
}

type PhaseTimedOut struct {
	Phase        Phase `json:"phase"`
	PhaseVersion int   `json:"phase_version"`
}

type RolesAssigned struct {
	PlayerCount int           `json:"player_count"`
	Missions    []MissionInfo `json:"missions"`
}

// RoleRevealed is private to the player it is addressed to.
type RoleRevealed struct {
	Role      Role       `json:"role"`
	Team      Team       `json:"team"`
	Sightings []Sighting `json:"sightings,omitempty"`
}

type TeamProposed struct {
	Mission int      `json:"mission"`
	Leader  string   `json:"leader"`
	Team    []string `json:"team"`
}

// VoteCast announces that a player voted, not how.
type VoteCast struct {
	PlayerID string `json:"player_id"`
	Fallback bool   `json:"fallback,omitempty"`
}

type VoteResolved struct {
	Approved   bool            `json:"approved"`
	Votes      map[string]bool `json:"votes"`
	Rejections int             `json:"rejections"`
}

type BallotCast struct {
	PlayerID string `json:"player_id"`
	Fallback bool   `json:"fallback,omitempty"`
}

// MissionResolved carries only the fail count; who failed stays secret.
type MissionResolved struct {
	Mission int            `json:"mission"`
	Outcome MissionOutcome `json:"outcome"`
	Fails   int            `json:"fails"`
}

type EliminationResolved struct {
	Eliminator string `json:"eliminator"`
	Target     string `json:"target,omitempty"`
	Hit        bool   `json:"hit"`
	Forfeited  bool   `json:"forfeited,omitempty"`
}

type GameEnded struct {
	Outcome Outcome         `json:"outcome"`
	Reason  EndReason       `json:"reason"`
	Detail  string          `json:"detail,omitempty"`
	Roles   map[string]Role `json:"roles,omitempty"`
}

func (PlayerJoined) Kind() EventKind        { return EvtPlayerJoined }
func (PlayerLeft) Kind() EventKind          { return EvtPlayerLeft }
func (HostChanged) Kind() EventKind         { return EvtHostChanged }
func (ReadyChanged) Kind() EventKind        { return EvtReadyChanged }
func (ConnectionChanged) Kind() EventKind   { return EvtConnectionChanged }
func (SettingsChanged) Kind() EventKind     { return EvtSettingsChanged }
func (PhaseChanged) Kind() EventKind        { return EvtPhaseChanged }
func (PhaseTimedOut) Kind() EventKind       { return EvtPhaseTimedOut }
func (RolesAssigned) Kind() EventKind       { return EvtRolesAssigned }
func (RoleRevealed) Kind() EventKind        { return EvtRoleRevealed }
func (TeamProposed) Kind() EventKind        { return EvtTeamProposed }
func (VoteCast) Kind() EventKind            { return EvtVoteCast }
func (VoteResolved) Kind() EventKind        { return EvtVoteResolved }
func (BallotCast) Kind() EventKind          { return EvtBallotCast }
func (MissionResolved) Kind() EventKind     { return EvtMissionResolved }
func (EliminationResolved) Kind() EventKind { return EvtEliminationResolved }
func (GameEnded) Kind() EventKind           { return EvtGameEnded }

func (PlayerJoined) isEvent()        {}
func (PlayerLeft) isEvent()          {}
func (HostChanged) isEvent()         {}
func (ReadyChanged) isEvent()        {}
func (ConnectionChanged) isEvent()   {}
func (SettingsChanged) isEvent()     {}
func (PhaseChanged) isEvent()        {}
func (PhaseTimedOut) isEvent()       {}
func (RolesAssigned) isEvent()       {}
func (RoleRevealed) isEvent()        {}
func (TeamProposed) isEvent()        {}
func (VoteCast) isEvent()            {}
func (VoteResolved) isEvent()        {}
func (BallotCast) isEvent()          {}
func (MissionResolved) isEvent()     {}
func (EliminationResolved) isEvent() {}
func (GameEnded) isEvent()           {}

// Envelope addresses an event. An empty To means every subscriber.
type Envelope struct {
	To    string
	Event Event
}

// Cause names the client action a delta commits, if any.
type Cause struct {
	PlayerID string `json:"player_id,omitempty"`
	ActionID string `json:"action_id,omitempty"`
}

// Delta is one committed transition of a room.
type Delta struct {
	Version int
	Cause   Cause
	At      time.Time
	Events  []Envelope
}

// For returns the part of d that playerID is allowed to see.
func (d Delta) For(playerID string) Delta {
	out := d
	out.Events = make([]Envelope, 0, len(d.Events))
	for _, e := range d.Events {
		if e.To == "" || (playerID != "" && e.To == playerID) {
			out.Events = append(out.Events, e)
		}
	}
	return out
}

type wireEvent struct {
	Kind EventKind       `json:"kind"`
	To   string          `json:"to,omitempty"`
	Data json.RawMessage `json:"data"`
}

type wireDelta struct {
	Version int         `json:"version"`
	Cause   Cause       `json:"cause"`
	At      time.Time   `json:"at"`
	Events  []wireEvent `json:"events"`
}

func (d Delta) MarshalJSON() ([]byte, error) {
	w := wireDelta{Version: d.Version, Cause: d.Cause, At: d.At, Events: make([]wireEvent, 0, len(d.Events))}
	for _, e := range d.Events {
		data, err := json.Marshal(e.Event)
		if err != nil {
			return nil, err
		}
		w.Events = append(w.Events, wireEvent{Kind: e.Event.Kind(), To: e.To, Data: data})
	}
	return json.Marshal(w)
}

func (d *Delta) UnmarshalJSON(b []byte) error {
	var w wireDelta
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	d.Version, d.Cause, d.At = w.Version, w.Cause, w.At
	d.Events = make([]Envelope, 0, len(w.Events))
	for _, we := range w.Events {
		ev, err := decodeEvent(we.Kind, we.Data)
		if err != nil {
			return err
		}
		d.Events = append(d.Events, Envelope{To: we.To, Event: ev})
	}
	return nil
}

func decodeEvent(kind EventKind, data json.RawMessage) (Event, error) {
	switch kind {
	case EvtPlayerJoined:
		return decodeAs[PlayerJoined](data)
	case EvtPlayerLeft:
		return decodeAs[PlayerLeft](data)
	case EvtHostChanged:
		return decodeAs[HostChanged](data)
	case EvtReadyChanged:
		return decodeAs[ReadyChanged](data)
	case EvtConnectionChanged:
		return decodeAs[ConnectionChanged](data)
	case EvtSettingsChanged:
		return decodeAs[SettingsChanged](data)
	case EvtPhaseChanged:
		return decodeAs[PhaseChanged](data)
	case EvtPhaseTimedOut:
		return decodeAs[PhaseTimedOut](data)
	case EvtRolesAssigned:
		return decodeAs[RolesAssigned](data)
	case EvtRoleRevealed:
		return decodeAs[RoleRevealed](data)
	case EvtTeamProposed:
		return decodeAs[TeamProposed](data)
	case EvtVoteCast:
		return decodeAs[VoteCast](data)
	case EvtVoteResolved:
		return decodeAs[VoteResolved](data)
	case EvtBallotCast:
		return decodeAs[BallotCast](data)
	case EvtMissionResolved:
		return decodeAs[MissionResolved](data)
	case EvtEliminationResolved:
		return decodeAs[EliminationResolved](data)
	case EvtGameEnded:
		return decodeAs[GameEnded](data)
	}
	return nil, fmt.Errorf("unknown event kind %q", kind)
}

func decodeAs[E Event](data json.RawMessage) (Event, error) {
	var e E
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}
