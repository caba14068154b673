package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/mission-game-backend/internal/engine"
)

var t0 = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

func newSQLite(t *testing.T) *Gorm {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	s, err := Open(dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStores(t *testing.T) {
	stores := []struct {
		name string
		new  func(t *testing.T) Store
	}{
		{name: "memory", new: func(*testing.T) Store { return NewMemory() }},
		{name: "sqlite", new: func(t *testing.T) Store { return newSQLite(t) }},
	}

	for _, s := range stores {
		t.Run(s.name, func(t *testing.T) {
			t.Run("round trip", func(t *testing.T) { testRoundTrip(t, s.new(t)) })
			t.Run("optimistic concurrency", func(t *testing.T) { testConflicts(t, s.new(t)) })
			t.Run("delete", func(t *testing.T) { testDelete(t, s.new(t)) })
			t.Run("active codes", func(t *testing.T) { testActiveCodes(t, s.new(t)) })
		})
	}
}

// playedRoom is a room in teamVote with votes, roles and a proposed team.
func playedRoom(t *testing.T, code string) engine.Room {
	t.Helper()
	r := engine.NewRoom(uuid.NewString(), code, engine.DefaultRules(), t0)
	apply := func(cmd engine.Command) {
		var err error
		r, _, err = engine.Apply(r, cmd, t0)
		require.NoError(t, err)
	}
	for i := 1; i <= 5; i++ {
		apply(engine.Command{Type: engine.CmdJoin, PlayerID: fmt.Sprintf("p%d", i), Name: fmt.Sprintf("Player %d", i), TokenDigest: "digest"})
	}
	for pass := 0; pass < 2; pass++ {
		for i := 1; i <= 5; i++ {
			apply(engine.Command{Type: engine.CmdSetReady, PlayerID: fmt.Sprintf("p%d", i), Ready: true})
		}
	}
	require.Equal(t, engine.PhaseTeamProposal, r.Phase)

	leader := r.Players[r.Game.Leader].ID
	other := r.Players[(r.Game.Leader+1)%5].ID
	apply(engine.Command{Type: engine.CmdProposeTeam, PlayerID: leader, Team: []string{leader, other}})
	apply(engine.Command{Type: engine.CmdCastVote, PlayerID: "p3", Approve: true})
	return r
}

func testRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	want := playedRoom(t, "ROUND1")

	require.NoError(t, s.SaveRoom(ctx, want, 0))
	got, err := s.LoadRoom(ctx, "ROUND1")
	require.NoError(t, err)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Phase, got.Phase)
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.PhaseVersion, got.PhaseVersion)
	assert.True(t, want.PhaseDeadline.Equal(got.PhaseDeadline))
	assert.True(t, want.LastActivity.Equal(got.LastActivity))
	assert.Equal(t, want.Rules, got.Rules)
	assert.Equal(t, want.Game.Missions, got.Game.Missions)
	assert.Equal(t, want.Game.Leader, got.Game.Leader)
	require.Len(t, got.Game.Votes, 1)
	assert.Equal(t, "p3", got.Game.Votes[0].PlayerID)

	require.Len(t, got.Players, 5)
	for i, p := range want.Players {
		assert.Equal(t, p.ID, got.Players[i].ID, "seat order")
		assert.Equal(t, p.Role, got.Players[i].Role)
		assert.Equal(t, p.Host, got.Players[i].Host)
		assert.Equal(t, p.TokenDigest, got.Players[i].TokenDigest)
	}
	require.NoError(t, got.Validate())

	_, err = s.LoadRoom(ctx, "MISSING")
	require.ErrorIs(t, err, ErrNotFound)
}

func testConflicts(t *testing.T, s Store) {
	ctx := context.Background()
	r := engine.NewRoom(uuid.NewString(), "CONFL1", engine.DefaultRules(), t0)
	require.NoError(t, s.SaveRoom(ctx, r, 0))

	next, _, err := engine.Apply(r, engine.Command{Type: engine.CmdJoin, PlayerID: "p1", Name: "Ann"}, t0)
	require.NoError(t, err)
	require.NoError(t, s.SaveRoom(ctx, next, r.Version))

	// A writer still holding version 0 loses.
	stale, _, err := engine.Apply(r, engine.Command{Type: engine.CmdJoin, PlayerID: "p2", Name: "Bob"}, t0)
	require.NoError(t, err)
	err = s.SaveRoom(ctx, stale, r.Version)
	require.ErrorIs(t, err, ErrConflict)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 0, conflict.Expected)
	assert.Equal(t, 1, conflict.Actual)

	got, err := s.LoadRoom(ctx, "CONFL1")
	require.NoError(t, err)
	require.Len(t, got.Players, 1)
	assert.Equal(t, "Ann", got.Players[0].Name)

	// A second room cannot take the same code.
	dup := engine.NewRoom(uuid.NewString(), "CONFL1", engine.DefaultRules(), t0)
	require.ErrorIs(t, s.SaveRoom(ctx, dup, 0), ErrConflict)
}

func testDelete(t *testing.T, s Store) {
	ctx := context.Background()
	r := playedRoom(t, "DELETE")
	require.NoError(t, s.SaveRoom(ctx, r, 0))

	require.NoError(t, s.DeleteRoom(ctx, r.ID))
	_, err := s.LoadRoom(ctx, "DELETE")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.DeleteRoom(ctx, r.ID), ErrNotFound)
}

func testActiveCodes(t *testing.T, s Store) {
	ctx := context.Background()
	live := playedRoom(t, "LIVE01")
	require.NoError(t, s.SaveRoom(ctx, live, 0))

	done := playedRoom(t, "DONE01")
	require.NoError(t, s.SaveRoom(ctx, done, 0))
	ended, _, err := engine.Abort(done, "host closed the room", t0)
	require.NoError(t, err)
	require.NoError(t, s.SaveRoom(ctx, ended, done.Version))

	codes, err := s.ActiveCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"LIVE01"}, codes)
}
