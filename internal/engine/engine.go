package engine

import (
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	MinPlayers    = 5
	MaxPlayers    = 10
	MissionCount  = 5
	maxNameLength = 24
)

type Phase string

const (
	PhaseLobby              Phase = "lobby"
	PhaseRoleReveal         Phase = "roleReveal"
	PhaseTeamProposal       Phase = "teamProposal"
	PhaseTeamVote           Phase = "teamVote"
	PhaseMissionExecution   Phase = "missionExecution"
	PhaseEliminationAttempt Phase = "eliminationAttempt"
	PhaseGameOver           Phase = "gameOver"
)

type Team string

const (
	TeamGood Team = "good"
	TeamEvil Team = "evil"
)

type ConnState string

const (
	ConnOnline       ConnState = "online"
	ConnReconnecting ConnState = "reconnecting"
	ConnOffline      ConnState = "offline"
)

type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeGoodVictory Outcome = "goodVictory"
	OutcomeEvilVictory Outcome = "evilVictory"
	OutcomeAborted     Outcome = "aborted"
)

type EndReason string

const (
	ReasonMissions          EndReason = "missions"
	ReasonRejections        EndReason = "rejections"
	ReasonEliminationHit    EndReason = "eliminationHit"
	ReasonEliminationMissed EndReason = "eliminationMissed"
	ReasonAborted           EndReason = "aborted"
)

type MissionOutcome string

const (
	MissionPending MissionOutcome = ""
	MissionSuccess MissionOutcome = "success"
	MissionFailure MissionOutcome = "failure"
)

type Settings struct {
	OptionalRoles []Role `json:"optional_roles"`
}

type Player struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Host        bool      `json:"host"`
	Ready       bool      `json:"ready"`
	Role        Role      `json:"role,omitempty"`
	Connection  ConnState `json:"connection"`
	TokenDigest string    `json:"token_digest,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Vote is a team-approval ballot. Fallback marks votes filled in by a timeout.
type Vote struct {
	PlayerID string    `json:"player_id"`
	Approve  bool      `json:"approve"`
	At       time.Time `json:"at"`
	Fallback bool      `json:"fallback,omitempty"`
}

type MissionVote struct {
	PlayerID string    `json:"player_id"`
	Success  bool      `json:"success"`
	At       time.Time `json:"at"`
	Fallback bool      `json:"fallback,omitempty"`
}

type Mission struct {
	Number        int            `json:"number"`
	TeamSize      int            `json:"team_size"`
	FailsRequired int            `json:"fails_required"`
	Team          []string       `json:"team,omitempty"`
	Ballots       []MissionVote  `json:"ballots,omitempty"`
	Outcome       MissionOutcome `json:"outcome,omitempty"`
	Fails         int            `json:"fails,omitempty"`
}

type GameState struct {
	Mission    int       `json:"mission"`
	Leader     int       `json:"leader"`
	Missions   []Mission `json:"missions,omitempty"`
	Votes      []Vote    `json:"votes,omitempty"`
	Rejections int       `json:"rejections"`
	Outcome    Outcome   `json:"outcome,omitempty"`
	Reason     EndReason `json:"reason,omitempty"`
	Detail     string    `json:"detail,omitempty"`

	// LastVote is the most recent resolved team vote, by player.
	LastVote map[string]bool `json:"last_vote,omitempty"`

	Eliminator         string `json:"eliminator,omitempty"`
	EliminationTarget  string `json:"elimination_target,omitempty"`
	EliminationForfeit bool   `json:"elimination_forfeit,omitempty"`
}

// Room is the authoritative state of one game room. Apply never mutates its
// input; it works on a Clone.
type Room struct {
	ID            string    `json:"id"`
	Code          string    `json:"code"`
	Players       []Player  `json:"players"`
	Phase         Phase     `json:"phase"`
	Game          GameState `json:"game"`
	Settings      Settings  `json:"settings"`
	Rules         Rules     `json:"rules"`
	Version       int       `json:"version"`
	PhaseVersion  int       `json:"phase_version"`
	PhaseDeadline time.Time `json:"phase_deadline"`
	LastActivity  time.Time `json:"last_activity"`
	CreatedAt     time.Time `json:"created_at"`
}

type CommandType string

const (
	CmdJoin           CommandType = "Join"
	CmdLeave          CommandType = "Leave"
	CmdKick           CommandType = "Kick"
	CmdSetReady       CommandType = "SetReady"
	CmdUpdateSettings CommandType = "UpdateSettings"
	CmdProposeTeam    CommandType = "ProposeTeam"
	CmdCastVote       CommandType = "CastVote"
	CmdSubmitBallot   CommandType = "SubmitBallot"
	CmdEliminate      CommandType = "Eliminate"
	CmdConnection     CommandType = "Connection"
	CmdTimeout        CommandType = "Timeout"
	CmdAbsentTimeout  CommandType = "AbsentTimeout"
	CmdAbort          CommandType = "Abort"
)

/*
	CmdJoin / CmdLeave / CmdKick -> PlayerJoined | PlayerLeft (+ HostChanged)
	CmdSetReady                  -> ReadyChanged, lobby -> roleReveal once everyone is ready
	CmdProposeTeam               -> TeamProposed -> PhaseChanged(teamVote)
	CmdCastVote                  -> VoteCast, last vote -> VoteResolved -> PhaseChanged
	CmdSubmitBallot              -> BallotCast, last ballot -> MissionResolved -> PhaseChanged
	CmdTimeout                   -> PhaseTimedOut + fallback votes/ballots, then the usual resolution
	CmdAbsentTimeout             -> same fallback, only for one disconnected player
	CmdAbort                     -> GameEnded(aborted)
*/

type Command struct {
	Type     CommandType
	PlayerID string
	ActionID string

	Name        string
	TokenDigest string
	Ready       bool
	Approve     bool
	Success     bool
	Team        []string
	Target      string
	Settings    *Settings
	Connection  ConnState

	// Timer identity for CmdTimeout.
	Phase        Phase
	PhaseVersion int

	Reason string
}

// Apply validates cmd against r and returns the next committed room together
// with the delta describing the change. A command that changes nothing returns
// a delta with no events and an unchanged version.
func Apply(r Room, cmd Command, now time.Time) (Room, Delta, error) {
	if r.Phase == PhaseGameOver && cmd.Type != CmdConnection {
		return r, Delta{}, reject(ErrGameAlreadyCompleted)
	}

	next := r.Clone()
	tx := &txn{room: &next, now: now, version: r.Version + 1}

	if err := tx.dispatch(cmd); err != nil {
		var fatal *FatalStateError
		if errors.As(err, &fatal) || errors.Is(err, ErrStaleTimer) {
			return r, Delta{}, err
		}
		return r, Delta{}, reject(err)
	}
	if err := tx.settle(); err != nil {
		return r, Delta{}, err
	}
	if len(tx.events) == 0 {
		return r, Delta{Version: r.Version}, nil
	}

	next.Version = tx.version
	next.LastActivity = now
	return next, Delta{
		Version: next.Version,
		Cause:   Cause{PlayerID: cmd.PlayerID, ActionID: cmd.ActionID},
		At:      now,
		Events:  tx.events,
	}, nil
}

// Abort force-ends the game. It is the recovery edge used after a
// FatalStateError and is valid from every non-terminal phase.
func Abort(r Room, reason string, now time.Time) (Room, Delta, error) {
	return Apply(r, Command{Type: CmdAbort, Reason: reason}, now)
}

type txn struct {
	room    *Room
	now     time.Time
	version int
	events  []Envelope
}

func (tx *txn) emit(e Event) {
	tx.events = append(tx.events, Envelope{Event: e})
}

func (tx *txn) emitTo(playerID string, e Event) {
	tx.events = append(tx.events, Envelope{To: playerID, Event: e})
}

func (tx *txn) dispatch(cmd Command) error {
	r := tx.room

	switch cmd.Type {
	case CmdJoin:
		return tx.join(cmd)

	case CmdLeave:
		if r.Phase != PhaseLobby {
			return ErrWrongPhase
		}
		if r.playerIndex(cmd.PlayerID) < 0 {
			return ErrUnknownPlayer
		}
		tx.removePlayer(cmd.PlayerID, false)
		return nil

	case CmdKick:
		if r.Phase != PhaseLobby {
			return ErrWrongPhase
		}
		if !r.isHost(cmd.PlayerID) {
			return ErrNotHost
		}
		if cmd.Target == cmd.PlayerID || r.playerIndex(cmd.Target) < 0 {
			return ErrInvalidTarget
		}
		tx.removePlayer(cmd.Target, true)
		return nil

	case CmdSetReady:
		i := r.playerIndex(cmd.PlayerID)
		if i < 0 {
			return ErrUnknownPlayer
		}
		switch r.Phase {
		case PhaseLobby:
		case PhaseRoleReveal:
			// Acknowledging a role cannot be taken back.
			if !cmd.Ready {
				return ErrWrongPhase
			}
		default:
			return ErrWrongPhase
		}
		if r.Players[i].Ready == cmd.Ready {
			return nil
		}
		r.Players[i].Ready = cmd.Ready
		if r.Phase == PhaseLobby && allReady(r) {
			// This ready would start the game.
			if err := r.rolesFit(r.Settings.OptionalRoles); err != nil {
				return err
			}
		}
		tx.emit(ReadyChanged{PlayerID: cmd.PlayerID, Ready: cmd.Ready})
		return nil

	case CmdUpdateSettings:
		if r.Phase != PhaseLobby {
			return ErrWrongPhase
		}
		if !r.isHost(cmd.PlayerID) {
			return ErrNotHost
		}
		if cmd.Settings == nil {
			return ErrInvalidSettings
		}
		if err := ValidateOptionalRoles(cmd.Settings.OptionalRoles); err != nil {
			return err
		}
		if err := r.rolesFit(cmd.Settings.OptionalRoles); err != nil {
			return err
		}
		r.Settings = Settings{OptionalRoles: slices.Clone(cmd.Settings.OptionalRoles)}
		tx.emit(SettingsChanged{Settings: r.Settings})
		return nil

	case CmdProposeTeam:
		return tx.proposeTeam(cmd)

	case CmdCastVote:
		return tx.castVote(cmd)

	case CmdSubmitBallot:
		return tx.submitBallot(cmd)

	case CmdEliminate:
		if r.Phase != PhaseEliminationAttempt {
			return ErrWrongPhase
		}
		if cmd.PlayerID != r.Game.Eliminator {
			return ErrNotEliminator
		}
		if cmd.Target == cmd.PlayerID || r.playerIndex(cmd.Target) < 0 {
			return ErrInvalidTarget
		}
		r.Game.EliminationTarget = cmd.Target
		return nil

	case CmdConnection:
		i := r.playerIndex(cmd.PlayerID)
		if i < 0 {
			return ErrUnknownPlayer
		}
		if r.Players[i].Connection == cmd.Connection {
			return nil
		}
		r.Players[i].Connection = cmd.Connection
		tx.emit(ConnectionChanged{PlayerID: cmd.PlayerID, Connection: cmd.Connection})
		return nil

	case CmdTimeout:
		if cmd.Phase != r.Phase || cmd.PhaseVersion != r.PhaseVersion {
			return ErrStaleTimer
		}
		spec := specFor(r.Phase)
		if spec.fallback == nil {
			return ErrStaleTimer
		}
		tx.emit(PhaseTimedOut{Phase: r.Phase, PhaseVersion: r.PhaseVersion})
		return spec.fallback(tx, "")

	case CmdAbsentTimeout:
		i := r.playerIndex(cmd.PlayerID)
		if i < 0 {
			return ErrUnknownPlayer
		}
		if r.Players[i].Connection == ConnOnline {
			return ErrStaleTimer
		}
		if r.Players[i].Connection != ConnOffline {
			r.Players[i].Connection = ConnOffline
			tx.emit(ConnectionChanged{PlayerID: cmd.PlayerID, Connection: ConnOffline})
		}
		if spec := specFor(r.Phase); spec.fallback != nil {
			return spec.fallback(tx, cmd.PlayerID)
		}
		return nil

	case CmdAbort:
		r.Game.Detail = cmd.Reason
		return tx.transition(step{to: PhaseGameOver, outcome: OutcomeAborted, reason: ReasonAborted})

	default:
		return ErrUnsupportedCommand
	}
}

// rolesFit reports why optional cannot be dealt to the current players.
// Player counts outside the playable range are not checked.
func (r *Room) rolesFit(optional []Role) error {
	n := len(r.Players)
	if n < MinPlayers || n > MaxPlayers {
		return nil
	}
	_, err := DefaultRoleSet(n, optional)
	return err
}

func (tx *txn) join(cmd Command) error {
	r := tx.room
	if r.Phase != PhaseLobby {
		return ErrWrongPhase
	}
	if cmd.PlayerID == "" {
		return ErrUnknownPlayer
	}
	if r.playerIndex(cmd.PlayerID) >= 0 {
		return ErrAlreadyJoined
	}
	if len(r.Players) >= MaxPlayers {
		return ErrRoomFull
	}
	name, ok := NormalizeName(cmd.Name)
	if !ok {
		return ErrInvalidName
	}
	for _, p := range r.Players {
		if strings.EqualFold(p.Name, name) {
			return ErrNameTaken
		}
	}

	p := Player{
		ID:          cmd.PlayerID,
		Name:        name,
		Host:        len(r.Players) == 0,
		Connection:  ConnOnline,
		TokenDigest: cmd.TokenDigest,
		JoinedAt:    tx.now,
	}
	r.Players = append(r.Players, p)
	tx.emit(PlayerJoined{Player: p.info()})
	return nil
}

func (tx *txn) removePlayer(id string, kicked bool) {
	r := tx.room
	i := r.playerIndex(id)
	wasHost := r.Players[i].Host
	r.Players = slices.Delete(r.Players, i, i+1)
	tx.emit(PlayerLeft{PlayerID: id, Kicked: kicked})

	if wasHost && len(r.Players) > 0 {
		r.Players[0].Host = true
		tx.emit(HostChanged{PlayerID: r.Players[0].ID})
	}
}

func (tx *txn) proposeTeam(cmd Command) error {
	r := tx.room
	if r.Phase != PhaseTeamProposal {
		return ErrWrongPhase
	}
	if r.leaderID() != cmd.PlayerID {
		return ErrNotLeader
	}
	m := r.currentMission()
	if m == nil {
		return &FatalStateError{From: r.Phase, To: r.Phase, Reason: "no current mission"}
	}
	if len(m.Team) > 0 {
		return ErrAlreadyProposed
	}
	if len(cmd.Team) != m.TeamSize {
		return ErrInvalidTeam
	}
	seen := make(map[string]bool, len(cmd.Team))
	for _, id := range cmd.Team {
		if seen[id] || r.playerIndex(id) < 0 {
			return ErrInvalidTeam
		}
		seen[id] = true
	}

	m.Team = slices.Clone(cmd.Team)
	tx.emit(TeamProposed{Mission: m.Number, Leader: cmd.PlayerID, Team: slices.Clone(m.Team)})
	return nil
}

func (tx *txn) castVote(cmd Command) error {
	r := tx.room
	if r.Phase != PhaseTeamVote {
		return ErrWrongPhase
	}
	if r.playerIndex(cmd.PlayerID) < 0 {
		return ErrUnknownPlayer
	}
	if r.hasVoted(cmd.PlayerID) {
		return ErrAlreadyVoted
	}
	tx.recordVote(cmd.PlayerID, cmd.Approve, false)
	return nil
}

func (tx *txn) recordVote(playerID string, approve, fallback bool) {
	r := tx.room
	r.Game.Votes = append(r.Game.Votes, Vote{PlayerID: playerID, Approve: approve, At: tx.now, Fallback: fallback})
	tx.emit(VoteCast{PlayerID: playerID, Fallback: fallback})
}

func (tx *txn) submitBallot(cmd Command) error {
	r := tx.room
	if r.Phase != PhaseMissionExecution {
		return ErrWrongPhase
	}
	i := r.playerIndex(cmd.PlayerID)
	if i < 0 {
		return ErrUnknownPlayer
	}
	m := r.currentMission()
	if m == nil || !slices.Contains(m.Team, cmd.PlayerID) {
		return ErrNotOnTeam
	}
	if m.hasBallot(cmd.PlayerID) {
		return ErrAlreadyVoted
	}
	if !cmd.Success && r.Players[i].Role.Team() == TeamGood {
		return ErrGoodMustSucceed
	}
	tx.recordBallot(cmd.PlayerID, cmd.Success, false)
	return nil
}

func (tx *txn) recordBallot(playerID string, success, fallback bool) {
	m := tx.room.currentMission()
	m.Ballots = append(m.Ballots, MissionVote{PlayerID: playerID, Success: success, At: tx.now, Fallback: fallback})
	tx.emit(BallotCast{PlayerID: playerID, Fallback: fallback})
}

// NormalizeName returns the NFC form of a display name with surrounding space
// trimmed, and whether it is acceptable.
func NormalizeName(s string) (string, bool) {
	name := strings.TrimSpace(norm.NFC.String(s))
	n := utf8.RuneCountInString(name)
	return name, n > 0 && n <= maxNameLength
}
