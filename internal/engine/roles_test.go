package engine

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = pid(i + 1)
	}
	return out
}

func sortedRoles(rs []Role) []Role {
	out := slices.Clone(rs)
	slices.Sort(out)
	return out
}

func TestAssignRolesIsBijection(t *testing.T) {
	cases := []struct {
		name     string
		players  int
		optional []Role
	}{
		{name: "5 players default", players: 5},
		{name: "6 players default", players: 6},
		{name: "7 players guardian", players: 7, optional: []Role{RoleGuardian}},
		{name: "8 players guardian mimic", players: 8, optional: []Role{RoleGuardian, RoleMimic}},
		{name: "9 players shade", players: 9, optional: []Role{RoleShade}},
		{name: "10 players loner", players: 10, optional: []Role{RoleGuardian, RoleMimic, RoleLoner}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			roles, err := DefaultRoleSet(tc.players, tc.optional)
			require.NoError(t, err)
			require.NoError(t, ValidateRoleSet(tc.players, roles))

			table, err := AssignRoles(ids(tc.players), roles)
			require.NoError(t, err)
			require.Len(t, table, tc.players)

			var got []Role
			for _, id := range ids(tc.players) {
				r, ok := table[id]
				require.True(t, ok, "player %s has no role", id)
				got = append(got, r)
			}
			assert.Equal(t, sortedRoles(roles), sortedRoles(got))
		})
	}
}

func TestAssignRolesRepeatedSevenPlayers(t *testing.T) {
	roles, err := DefaultRoleSet(7, []Role{RoleGuardian, RoleMimic})
	require.NoError(t, err)
	want := sortedRoles(roles)
	players := ids(7)
	seerSeats := map[string]bool{}

	for range 10000 {
		table, err := AssignRoles(players, roles)
		require.NoError(t, err)

		got := make([]Role, 0, len(players))
		for _, id := range players {
			got = append(got, table[id])
			if table[id] == RoleSeer {
				seerSeats[id] = true
			}
		}
		if !slices.Equal(want, sortedRoles(got)) {
			t.Fatalf("role multiset changed: got %v, want %v", got, want)
		}
	}
	// 10k crypto shuffles put the seer on every seat.
	assert.Len(t, seerSeats, 7)
}

func TestAssignRolesRejects(t *testing.T) {
	cases := []struct {
		name    string
		players []string
		roles   []Role
		wantErr error
	}{
		{
			name:    "too few players",
			players: ids(4),
			roles:   []Role{RoleSeer, RoleAssassin, RoleLoyal, RoleLoyal},
			wantErr: ErrInvalidPlayerCount,
		},
		{
			name:    "too many players",
			players: ids(11),
			roles:   nil,
			wantErr: ErrInvalidPlayerCount,
		},
		{
			name:    "role-set size mismatch",
			players: ids(5),
			roles:   []Role{RoleSeer, RoleAssassin, RoleMinion, RoleLoyal},
			wantErr: ErrInvalidRoleConfiguration,
		},
		{
			name:    "seer without assassin",
			players: ids(5),
			roles:   []Role{RoleSeer, RoleMinion, RoleMinion, RoleLoyal, RoleLoyal},
			wantErr: ErrInvalidRoleConfiguration,
		},
		{
			name:    "mimic without guardian",
			players: ids(7),
			roles:   []Role{RoleSeer, RoleAssassin, RoleMimic, RoleMinion, RoleLoyal, RoleLoyal, RoleLoyal},
			wantErr: ErrInvalidRoleConfiguration,
		},
		{
			name:    "loner with shade",
			players: ids(7),
			roles:   []Role{RoleSeer, RoleAssassin, RoleShade, RoleLoner, RoleLoyal, RoleLoyal, RoleLoyal},
			wantErr: ErrInvalidRoleConfiguration,
		},
		{
			name:    "duplicate seer",
			players: ids(6),
			roles:   []Role{RoleSeer, RoleSeer, RoleAssassin, RoleMinion, RoleLoyal, RoleLoyal},
			wantErr: ErrInvalidRoleConfiguration,
		},
		{
			name:    "wrong evil count",
			players: ids(5),
			roles:   []Role{RoleSeer, RoleAssassin, RoleLoyal, RoleLoyal, RoleLoyal},
			wantErr: ErrInvalidRoleConfiguration,
		},
		{
			name:    "unknown role",
			players: ids(5),
			roles:   []Role{RoleSeer, RoleAssassin, RoleMinion, RoleLoyal, "jester"},
			wantErr: ErrInvalidRoleConfiguration,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			table, err := AssignRoles(tc.players, tc.roles)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("AssignRoles: got err %v, want %v", err, tc.wantErr)
			}
			assert.Nil(t, table)
		})
	}
}

func TestValidateRoleSetReportsEveryViolation(t *testing.T) {
	roles := []Role{RoleSeer, RoleSeer, RoleMimic, RoleShade, RoleLoner, RoleLoyal, RoleLoyal}
	err := ValidateRoleSet(7, roles)
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{
		`"seer" must be unique`,
		`"seer" requires "assassin"`,
		`"mimic" requires "guardian"`,
		`"shade" conflicts with "loner"`,
	} {
		assert.Contains(t, msg, want)
	}
}

func TestDefaultRoleSet(t *testing.T) {
	cases := []struct {
		name     string
		players  int
		optional []Role
		want     []Role
		wantErr  error
	}{
		{
			name:    "five players",
			players: 5,
			want:    []Role{RoleSeer, RoleAssassin, RoleMinion, RoleLoyal, RoleLoyal},
		},
		{
			name:     "seven players with guardian and mimic",
			players:  7,
			optional: []Role{RoleMimic, RoleGuardian},
			want:     []Role{RoleSeer, RoleGuardian, RoleAssassin, RoleMimic, RoleMinion, RoleLoyal, RoleLoyal},
		},
		{
			name:     "optional evil roles exceed evil count",
			players:  5,
			optional: []Role{RoleGuardian, RoleMimic, RoleShade},
			wantErr:  ErrInvalidRoleConfiguration,
		},
		{
			name:     "mandatory role is not optional",
			players:  5,
			optional: []Role{RoleSeer},
			wantErr:  ErrInvalidRoleConfiguration,
		},
		{
			name:    "unsupported count",
			players: 12,
			wantErr: ErrInvalidPlayerCount,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DefaultRoleSet(tc.players, tc.optional)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSightings(t *testing.T) {
	table := map[string]Role{
		"seer":     RoleSeer,
		"guardian": RoleGuardian,
		"loyal":    RoleLoyal,
		"assassin": RoleAssassin,
		"mimic":    RoleMimic,
		"shade":    RoleShade,
		"loner":    RoleLoner,
	}

	cases := []struct {
		viewer string
		want   []Sighting
	}{
		{
			viewer: "seer",
			want: []Sighting{
				{PlayerID: "assassin", Appearance: AppearsEvil},
				{PlayerID: "loner", Appearance: AppearsEvil},
				{PlayerID: "mimic", Appearance: AppearsEvil},
			},
		},
		{
			viewer: "guardian",
			want: []Sighting{
				{PlayerID: "mimic", Appearance: AppearsSeer},
				{PlayerID: "seer", Appearance: AppearsSeer},
			},
		},
		{viewer: "loyal", want: nil},
		{
			viewer: "assassin",
			want: []Sighting{
				{PlayerID: "mimic", Appearance: AppearsEvil},
				{PlayerID: "shade", Appearance: AppearsEvil},
			},
		},
		{viewer: "loner", want: nil},
		{viewer: "nobody", want: nil},
	}

	for _, tc := range cases {
		t.Run(tc.viewer, func(t *testing.T) {
			assert.Equal(t, tc.want, Sightings(table, tc.viewer))
		})
	}
}
