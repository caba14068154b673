// Package types is the wire protocol shared by the websocket and HTTP
// transports.
//
// Client -> server (websocket, JSON text frames):
//
//	hello:  {type, player_id?, token?, last_version?, pending?}   first frame, once
//	action: {type, action: {type, action_id, ...payload}}
//	resume: {type, last_version, pending?}                        after a gap
//
// Server -> client:
//
//	snapshot: {type, snapshot}        full redacted view
//	delta:    {type, delta}           next committed delta, redacted
//	resumed:  {type, version, confirmed?, discarded?}
//	ack:      {type, action_id}       action accepted
//	error:    {type, action_id?, error: {code, message}}
package types

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/mission-game-backend/internal/broadcast"
	"github.com/DoyleJ11/mission-game-backend/internal/engine"
	"github.com/DoyleJ11/mission-game-backend/internal/room"
	"github.com/DoyleJ11/mission-game-backend/internal/session"
	"github.com/DoyleJ11/mission-game-backend/internal/store"
)

var ErrUnknownAction = errors.New("unknown action type")

const (
	MsgHello  = "hello"
	MsgAction = "action"
	MsgResume = "resume"

	MsgSnapshot = "snapshot"
	MsgDelta    = "delta"
	MsgResumed  = "resumed"
	MsgAck      = "ack"
	MsgError    = "error"
)

type ClientMessage struct {
	Type string `json:"type"`

	PlayerID    string   `json:"player_id,omitempty"`
	Token       string   `json:"token,omitempty"`
	LastVersion *int     `json:"last_version,omitempty"`
	Pending     []string `json:"pending,omitempty"`

	Action *Action `json:"action,omitempty"`
}

// Action is a player command as sent by a client, over either transport.
type Action struct {
	Type     string           `json:"type"`
	ActionID string           `json:"action_id,omitempty"`
	Ready    bool             `json:"ready,omitempty"`
	Approve  bool             `json:"approve,omitempty"`
	Success  bool             `json:"success,omitempty"`
	Team     []string         `json:"team,omitempty"`
	Target   string           `json:"target,omitempty"`
	Settings *engine.Settings `json:"settings,omitempty"`
}

var actionTypes = map[string]engine.CommandType{
	"leave":           engine.CmdLeave,
	"kick":            engine.CmdKick,
	"set_ready":       engine.CmdSetReady,
	"update_settings": engine.CmdUpdateSettings,
	"propose_team":    engine.CmdProposeTeam,
	"cast_vote":       engine.CmdCastVote,
	"submit_ballot":   engine.CmdSubmitBallot,
	"eliminate":       engine.CmdEliminate,
}

// Command turns a into the engine command playerID is issuing.
func (a Action) Command(playerID string) (engine.Command, error) {
	typ, ok := actionTypes[a.Type]
	if !ok {
		return engine.Command{}, fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}
	return engine.Command{
		Type:     typ,
		PlayerID: playerID,
		ActionID: a.ActionID,
		Ready:    a.Ready,
		Approve:  a.Approve,
		Success:  a.Success,
		Team:     a.Team,
		Target:   a.Target,
		Settings: a.Settings,
	}, nil
}

type ServerMessage struct {
	Type      string        `json:"type"`
	Snapshot  *engine.View  `json:"snapshot,omitempty"`
	Delta     *engine.Delta `json:"delta,omitempty"`
	Version   int           `json:"version,omitempty"`
	Confirmed []string      `json:"confirmed,omitempty"`
	Discarded []string      `json:"discarded,omitempty"`
	ActionID  string        `json:"action_id,omitempty"`
	Error     *ErrorBody    `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FromFrame encodes one queued broadcast frame.
func FromFrame(f broadcast.Frame) ServerMessage {
	switch {
	case f.Snapshot != nil:
		return ServerMessage{Type: MsgSnapshot, Snapshot: f.Snapshot}
	case f.Delta != nil:
		return ServerMessage{Type: MsgDelta, Delta: f.Delta}
	case f.Resumed != nil:
		return ServerMessage{
			Type:      MsgResumed,
			Version:   f.Resumed.Version,
			Confirmed: f.Resumed.Confirmed,
			Discarded: f.Resumed.Discarded,
		}
	}
	return ServerMessage{Type: MsgError, Error: &ErrorBody{Code: "internal", Message: "empty frame"}}
}

// ErrorMessage reports err for the action actionID.
func ErrorMessage(actionID string, err error) ServerMessage {
	body := ErrorFor(err)
	return ServerMessage{Type: MsgError, ActionID: actionID, Error: &body}
}

var errorCodes = []struct {
	err  error
	code string
}{
	{engine.ErrInvalidPlayerCount, "invalid_player_count"},
	{engine.ErrInvalidRoleConfiguration, "invalid_role_configuration"},
	{engine.ErrUnsupportedConfiguration, "unsupported_configuration"},
	{engine.ErrWrongPhase, "wrong_phase"},
	{engine.ErrUnknownPlayer, "unknown_player"},
	{engine.ErrNotHost, "not_host"},
	{engine.ErrNotLeader, "not_leader"},
	{engine.ErrAlreadyProposed, "already_proposed"},
	{engine.ErrInvalidTeam, "invalid_team"},
	{engine.ErrAlreadyVoted, "already_voted"},
	{engine.ErrNotOnTeam, "not_on_team"},
	{engine.ErrGoodMustSucceed, "good_must_succeed"},
	{engine.ErrNotEliminator, "not_eliminator"},
	{engine.ErrInvalidTarget, "invalid_target"},
	{engine.ErrInvalidSettings, "invalid_settings"},
	{engine.ErrRoomFull, "room_full"},
	{engine.ErrInvalidName, "invalid_name"},
	{engine.ErrNameTaken, "name_taken"},
	{engine.ErrAlreadyJoined, "already_joined"},
	{engine.ErrUnsupportedCommand, "unsupported_command"},
	{engine.ErrGameAlreadyCompleted, "game_completed"},
	{ErrUnknownAction, "unknown_action"},
	{session.ErrInvalidToken, "unauthorized"},
	{store.ErrNotFound, "room_not_found"},
	{room.ErrClosed, "room_not_found"},
}

// ErrorFor gives err a stable code a UI can render. Anything unclassified is
// reported as internal without its details.
func ErrorFor(err error) ErrorBody {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return ErrorBody{Code: c.code, Message: err.Error()}
		}
	}
	if engine.IsValidation(err) {
		return ErrorBody{Code: "rejected", Message: err.Error()}
	}
	return ErrorBody{Code: "internal", Message: "internal error"}
}
