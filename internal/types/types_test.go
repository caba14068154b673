package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/mission-game-backend/internal/broadcast"
	"github.com/DoyleJ11/mission-game-backend/internal/engine"
	"github.com/DoyleJ11/mission-game-backend/internal/session"
	"github.com/DoyleJ11/mission-game-backend/internal/store"
)

func TestActionCommand(t *testing.T) {
	cases := []struct {
		name   string
		action Action
		want   engine.Command
	}{
		{
			name:   "vote",
			action: Action{Type: "cast_vote", ActionID: "a-1", Approve: true},
			want:   engine.Command{Type: engine.CmdCastVote, PlayerID: "p1", ActionID: "a-1", Approve: true},
		},
		{
			name:   "proposal",
			action: Action{Type: "propose_team", Team: []string{"p1", "p2"}},
			want:   engine.Command{Type: engine.CmdProposeTeam, PlayerID: "p1", Team: []string{"p1", "p2"}},
		},
		{
			name:   "kick",
			action: Action{Type: "kick", Target: "p4"},
			want:   engine.Command{Type: engine.CmdKick, PlayerID: "p1", Target: "p4"},
		},
		{
			name:   "settings",
			action: Action{Type: "update_settings", Settings: &engine.Settings{OptionalRoles: []engine.Role{engine.RoleGuardian}}},
			want:   engine.Command{Type: engine.CmdUpdateSettings, PlayerID: "p1", Settings: &engine.Settings{OptionalRoles: []engine.Role{engine.RoleGuardian}}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.action.Command("p1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, typ := range []string{"", "timeout", "Join", "abort"} {
		_, err := Action{Type: typ}.Command("p1")
		assert.ErrorIs(t, err, ErrUnknownAction, "type %q", typ)
	}
}

func TestErrorFor(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{&engine.ValidationError{Err: engine.ErrNotLeader}, "not_leader"},
		{&engine.ValidationError{Err: fmt.Errorf("%w: duplicate seer", engine.ErrInvalidRoleConfiguration)}, "invalid_role_configuration"},
		{&engine.ValidationError{Err: errors.New("something new")}, "rejected"},
		{session.ErrInvalidToken, "unauthorized"},
		{fmt.Errorf("load: %w", store.ErrNotFound), "room_not_found"},
		{errors.New("disk on fire"), "internal"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, ErrorFor(tc.err).Code, tc.err.Error())
	}
	assert.Equal(t, "internal error", ErrorFor(errors.New("disk on fire")).Message)
}

func TestFromFrame(t *testing.T) {
	d := engine.Delta{Version: 3}
	assert.Equal(t, MsgDelta, FromFrame(broadcast.Frame{Delta: &d}).Type)

	v := engine.View{Version: 3}
	assert.Equal(t, MsgSnapshot, FromFrame(broadcast.Frame{Snapshot: &v}).Type)

	msg := FromFrame(broadcast.Frame{Resumed: &broadcast.Resumed{Version: 3, Confirmed: []string{"a"}, Discarded: []string{"b"}}})
	assert.Equal(t, ServerMessage{Type: MsgResumed, Version: 3, Confirmed: []string{"a"}, Discarded: []string{"b"}}, msg)
}

func TestHelloDecoding(t *testing.T) {
	var fresh, back ClientMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"hello","player_id":"p1","token":"tok"}`), &fresh))
	assert.Nil(t, fresh.LastVersion)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"hello","player_id":"p1","token":"tok","last_version":0,"pending":["a-1"]}`), &back))
	require.NotNil(t, back.LastVersion)
	assert.Equal(t, 0, *back.LastVersion)
	assert.Equal(t, []string{"a-1"}, back.Pending)
}
