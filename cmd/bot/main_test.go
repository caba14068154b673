package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DoyleJ11/mission-game-backend/internal/engine"
)

func TestChoose(t *testing.T) {
	players := []engine.PlayerInfo{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}}
	missions := []engine.MissionView{{Number: 1, TeamSize: 2, Team: []string{"b", "c"}}}

	cases := []struct {
		name string
		view engine.View
		want string
		ok   bool
	}{
		{
			name: "lobby not ready",
			view: engine.View{Self: "a", Phase: engine.PhaseLobby, Players: players},
			want: "set_ready", ok: true,
		},
		{
			name: "leader proposes",
			view: engine.View{Self: "b", Phase: engine.PhaseTeamProposal, Players: players, Leader: 1, Mission: 1, Missions: missions},
			want: "propose_team", ok: true,
		},
		{
			name: "not leader",
			view: engine.View{Self: "a", Phase: engine.PhaseTeamProposal, Players: players, Leader: 1, Mission: 1, Missions: missions},
		},
		{
			name: "on the team",
			view: engine.View{Self: "c", Phase: engine.PhaseMissionExecution, Players: players, Mission: 1, Missions: missions},
			want: "submit_ballot", ok: true,
		},
		{
			name: "off the team",
			view: engine.View{Self: "a", Phase: engine.PhaseMissionExecution, Players: players, Mission: 1, Missions: missions},
		},
		{
			name: "eliminator",
			view: engine.View{Self: "a", Phase: engine.PhaseEliminationAttempt, Players: players, Eliminator: "a"},
			want: "eliminate", ok: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, ok := choose(tc.view)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, a.Type)
		})
	}
}

func TestChooseTeamStartsAtLeader(t *testing.T) {
	v := engine.View{
		Self:     "e",
		Phase:    engine.PhaseTeamProposal,
		Players:  []engine.PlayerInfo{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}},
		Leader:   4,
		Mission:  2,
		Missions: []engine.MissionView{{Number: 1, TeamSize: 2}, {Number: 2, TeamSize: 3}},
	}
	a, ok := choose(v)
	assert.True(t, ok)
	assert.Equal(t, []string{"e", "a", "b"}, a.Team)
}

func TestChooseEliminationSkipsKnownEvil(t *testing.T) {
	v := engine.View{
		Self:       "a",
		Phase:      engine.PhaseEliminationAttempt,
		Players:    []engine.PlayerInfo{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Eliminator: "a",
		Sightings:  []engine.Sighting{{PlayerID: "b"}},
	}
	a, ok := choose(v)
	assert.True(t, ok)
	assert.Equal(t, "c", a.Target)
}
