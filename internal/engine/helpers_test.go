package engine

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

// stubRandom makes role assignment and leader choice deterministic: roles are
// dealt in DefaultRoleSet order and the first player leads.
func stubRandom(t *testing.T) {
	t.Helper()
	origShuffle, origLeader := shuffle, pickLeader
	shuffle = func(int, func(i, j int)) error { return nil }
	pickLeader = func(int) (int, error) { return 0, nil }
	t.Cleanup(func() {
		shuffle, pickLeader = origShuffle, origLeader
	})
}

func pid(i int) string { return fmt.Sprintf("p%d", i) }

func mustApply(t *testing.T, r Room, cmd Command) (Room, Delta) {
	t.Helper()
	next, d, err := Apply(r, cmd, t0)
	require.NoError(t, err, "apply %s", cmd.Type)
	return next, d
}

func lobbyWith(t *testing.T, n int) Room {
	t.Helper()
	r := NewRoom("room-1", "QWERTY", DefaultRules(), t0)
	for i := 1; i <= n; i++ {
		r, _ = mustApply(t, r, Command{Type: CmdJoin, PlayerID: pid(i), Name: fmt.Sprintf("Player %d", i)})
	}
	return r
}

func readyAll(t *testing.T, r Room) Room {
	t.Helper()
	for _, p := range slices.Clone(r.Players) {
		if !p.Ready {
			r, _ = mustApply(t, r, Command{Type: CmdSetReady, PlayerID: p.ID, Ready: true})
		}
	}
	return r
}

// startedGame returns a room in teamProposal for mission 1 with p1 leading.
// With n == 5 the roles are p1 seer, p2 assassin, p3 minion, p4 and p5 loyal.
func startedGame(t *testing.T, n int) Room {
	t.Helper()
	stubRandom(t)
	r := readyAll(t, lobbyWith(t, n))
	require.Equal(t, PhaseRoleReveal, r.Phase)
	r = readyAll(t, r)
	require.Equal(t, PhaseTeamProposal, r.Phase)
	return r
}

func voteAll(t *testing.T, r Room, approve bool) Room {
	t.Helper()
	for _, p := range slices.Clone(r.Players) {
		r, _ = mustApply(t, r, Command{Type: CmdCastVote, PlayerID: p.ID, Approve: approve})
	}
	return r
}

// playMission proposes team, approves it and submits ballots. Members listed
// in fails sabotage.
func playMission(t *testing.T, r Room, team []string, fails ...string) Room {
	t.Helper()
	r, _ = mustApply(t, r, Command{Type: CmdProposeTeam, PlayerID: r.leaderID(), Team: team})
	require.Equal(t, PhaseTeamVote, r.Phase)
	r = voteAll(t, r, true)
	require.Equal(t, PhaseMissionExecution, r.Phase)
	for _, id := range team {
		r, _ = mustApply(t, r, Command{Type: CmdSubmitBallot, PlayerID: id, Success: !slices.Contains(fails, id)})
	}
	return r
}

func eventsOf[E Event](d Delta) []E {
	var out []E
	for _, e := range d.Events {
		if ev, ok := e.Event.(E); ok {
			out = append(out, ev)
		}
	}
	return out
}
