package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissionRequirementIsTotal(t *testing.T) {
	for players := MinPlayers; players <= MaxPlayers; players++ {
		for mission := 1; mission <= MissionCount; mission++ {
			req, err := MissionRequirement(players, mission)
			require.NoError(t, err, "%d players, mission %d", players, mission)
			assert.Positive(t, req.TeamSize)
			assert.Less(t, req.TeamSize, players)

			wantFails := 1
			if mission == 4 && players >= 7 {
				wantFails = 2
			}
			assert.Equal(t, wantFails, req.FailsRequired, "%d players, mission %d", players, mission)
		}
	}
}

func TestMissionRequirementLookup(t *testing.T) {
	cases := []struct {
		name    string
		players int
		mission int
		want    Requirement
		wantErr bool
	}{
		{name: "5 players mission 1", players: 5, mission: 1, want: Requirement{TeamSize: 2, FailsRequired: 1}},
		{name: "6 players mission 3", players: 6, mission: 3, want: Requirement{TeamSize: 4, FailsRequired: 1}},
		{name: "7 players mission 4", players: 7, mission: 4, want: Requirement{TeamSize: 4, FailsRequired: 2}},
		{name: "6 players mission 4", players: 6, mission: 4, want: Requirement{TeamSize: 3, FailsRequired: 1}},
		{name: "10 players mission 5", players: 10, mission: 5, want: Requirement{TeamSize: 5, FailsRequired: 1}},
		{name: "4 players", players: 4, mission: 1, wantErr: true},
		{name: "11 players", players: 11, mission: 1, wantErr: true},
		{name: "mission 0", players: 5, mission: 0, wantErr: true},
		{name: "mission 6", players: 5, mission: 6, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MissionRequirement(tc.players, tc.mission)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrUnsupportedConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
