package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tracker replays every delta into each player's view and checks the result
// against a fresh redaction of the authoritative room.
type tracker struct {
	t     *testing.T
	room  Room
	views map[string]View
}

func track(t *testing.T, r Room) *tracker {
	tr := &tracker{t: t, room: r, views: map[string]View{}}
	for _, p := range r.Players {
		tr.views[p.ID] = ViewFor(r, p.ID)
	}
	tr.views[""] = ViewFor(r, "")
	return tr
}

func (tr *tracker) apply(cmd Command) {
	tr.t.Helper()
	next, d := mustApply(tr.t, tr.room, cmd)
	for id, v := range tr.views {
		got, err := Reduce(v, d.For(id))
		require.NoError(tr.t, err, "reduce for %q", id)
		require.Equal(tr.t, ViewFor(next, id), got, "view for %q after %s", id, cmd.Type)
		tr.views[id] = got
	}
	tr.room = next
}

func TestReduceTracksAuthoritativeState(t *testing.T) {
	stubRandom(t)
	r := lobbyWith(t, 5)
	tr := track(t, r)

	tr.apply(Command{Type: CmdUpdateSettings, PlayerID: "p1", Settings: &Settings{}})
	tr.apply(Command{Type: CmdConnection, PlayerID: "p3", Connection: ConnReconnecting})
	tr.apply(Command{Type: CmdConnection, PlayerID: "p3", Connection: ConnOnline})
	for i := 1; i <= 5; i++ {
		tr.apply(Command{Type: CmdSetReady, PlayerID: pid(i), Ready: true})
	}
	require.Equal(t, PhaseRoleReveal, tr.room.Phase)
	tr.apply(Command{Type: CmdTimeout, Phase: tr.room.Phase, PhaseVersion: tr.room.PhaseVersion})

	// Rejected proposal, then a failed mission, then an approved one.
	tr.apply(Command{Type: CmdProposeTeam, PlayerID: "p1", Team: []string{"p1", "p2"}})
	for i := 1; i <= 5; i++ {
		tr.apply(Command{Type: CmdCastVote, PlayerID: pid(i), Approve: i == 1})
	}
	tr.apply(Command{Type: CmdProposeTeam, PlayerID: "p2", Team: []string{"p2", "p3"}})
	for i := 1; i <= 5; i++ {
		tr.apply(Command{Type: CmdCastVote, PlayerID: pid(i), Approve: true})
	}
	tr.apply(Command{Type: CmdSubmitBallot, PlayerID: "p2", Success: false})
	tr.apply(Command{Type: CmdSubmitBallot, PlayerID: "p3", Success: false})
	require.Equal(t, MissionFailure, tr.room.Game.Missions[0].Outcome)

	tr.apply(Command{Type: CmdProposeTeam, PlayerID: "p3", Team: []string{"p1", "p4", "p5"}})
	tr.apply(Command{Type: CmdTimeout, Phase: tr.room.Phase, PhaseVersion: tr.room.PhaseVersion})
	require.Equal(t, PhaseTeamProposal, tr.room.Phase)

	tr.apply(Command{Type: CmdAbort, Reason: "host closed the room"})

	seer := tr.views["p1"]
	assert.Equal(t, RoleSeer, seer.Role)
	assert.Equal(t, OutcomeAborted, seer.Outcome)
	assert.Len(t, seer.Roles, 5)
	assert.Equal(t, []string{"p2", "p3"}, seer.Missions[0].Submitted)
	assert.Equal(t, 2, seer.Missions[0].Fails)
}

func TestViewHidesSecrets(t *testing.T) {
	r := startedGame(t, 5)
	r, _ = mustApply(t, r, Command{Type: CmdProposeTeam, PlayerID: "p1", Team: []string{"p1", "p2"}})
	r = voteAll(t, r, true)
	r, _ = mustApply(t, r, Command{Type: CmdSubmitBallot, PlayerID: "p2", Success: false})

	loyal := ViewFor(r, "p4")
	assert.Equal(t, RoleLoyal, loyal.Role)
	assert.Empty(t, loyal.Sightings)
	assert.Nil(t, loyal.Roles)
	assert.Equal(t, []string{"p2"}, loyal.Missions[0].Submitted)
	assert.Equal(t, MissionPending, loyal.Missions[0].Outcome)

	public := ViewFor(r, "")
	assert.Empty(t, public.Role)
	assert.Empty(t, public.Sightings)

	minion := ViewFor(r, "p3")
	assert.Equal(t, TeamEvil, minion.Team)
	assert.Equal(t, []Sighting{{PlayerID: "p2", Appearance: AppearsEvil}}, minion.Sightings)
}

func TestReduceIsIdempotent(t *testing.T) {
	r := lobbyWith(t, 3)
	v := ViewFor(r, "p2")

	_, d := mustApply(t, r, Command{Type: CmdSetReady, PlayerID: "p1", Ready: true})
	once, err := Reduce(v, d)
	require.NoError(t, err)
	assert.True(t, once.Players[0].Ready)

	twice, err := Reduce(once, d)
	require.ErrorIs(t, err, ErrStaleDelta)
	assert.Equal(t, once, twice)
}

func TestReduceDetectsGaps(t *testing.T) {
	r := lobbyWith(t, 3)
	v := ViewFor(r, "p2")

	r, _ = mustApply(t, r, Command{Type: CmdSetReady, PlayerID: "p1", Ready: true})
	_, d := mustApply(t, r, Command{Type: CmdSetReady, PlayerID: "p3", Ready: true})

	got, err := Reduce(v, d)
	require.ErrorIs(t, err, ErrVersionGap)
	assert.Equal(t, v, got)
}
