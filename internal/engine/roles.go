package engine

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"go.uber.org/multierr"
)

type Role string

const (
	RoleSeer     Role = "seer"
	RoleGuardian Role = "guardian"
	RoleLoyal    Role = "loyal"
	RoleMinion   Role = "minion"
	RoleAssassin Role = "assassin"
	RoleMimic    Role = "mimic"
	RoleShade    Role = "shade"
	RoleLoner    Role = "loner"
)

// Appearance is how a sighted player shows up to the viewer.
type Appearance string

const (
	AppearsEvil Appearance = "evil"
	AppearsSeer Appearance = "seer"
)

type Sighting struct {
	PlayerID   string     `json:"player_id"`
	Appearance Appearance `json:"appearance"`
}

type roleSpec struct {
	team      Team
	requires  []Role
	conflicts []Role
	unique    bool
	optional  bool
}

var catalog = map[Role]roleSpec{
	RoleSeer:     {team: TeamGood, requires: []Role{RoleAssassin}, unique: true},
	RoleGuardian: {team: TeamGood, requires: []Role{RoleSeer}, unique: true, optional: true},
	RoleLoyal:    {team: TeamGood},
	RoleMinion:   {team: TeamEvil},
	RoleAssassin: {team: TeamEvil, requires: []Role{RoleSeer}, unique: true},
	RoleMimic:    {team: TeamEvil, requires: []Role{RoleGuardian}, unique: true, optional: true},
	RoleShade:    {team: TeamEvil, conflicts: []Role{RoleLoner}, unique: true, optional: true},
	RoleLoner:    {team: TeamEvil, conflicts: []Role{RoleShade}, unique: true, optional: true},
}

// Order in which specials are listed in a default role-set.
var catalogOrder = []Role{RoleSeer, RoleGuardian, RoleAssassin, RoleMimic, RoleShade, RoleLoner}

var evilCount = map[int]int{5: 2, 6: 2, 7: 3, 8: 3, 9: 3, 10: 4}

func (r Role) Team() Team { return catalog[r].team }

func (r Role) Known() bool {
	_, ok := catalog[r]
	return ok
}

// DefaultRoleSet builds the role multiset for playerCount: seer and assassin,
// any enabled optional roles, then loyal and minion fillers.
func DefaultRoleSet(playerCount int, optional []Role) ([]Role, error) {
	evil, ok := evilCount[playerCount]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPlayerCount, playerCount)
	}
	if err := ValidateOptionalRoles(optional); err != nil {
		return nil, err
	}

	roles := make([]Role, 0, playerCount)
	for _, r := range catalogOrder {
		if !catalog[r].optional || slices.Contains(optional, r) {
			roles = append(roles, r)
		}
	}

	var good, bad int
	for _, r := range roles {
		if r.Team() == TeamEvil {
			bad++
		} else {
			good++
		}
	}
	if bad > evil || good > playerCount-evil {
		return nil, fmt.Errorf("%w: %d special roles do not fit %d players", ErrInvalidRoleConfiguration, len(roles), playerCount)
	}
	for ; bad < evil; bad++ {
		roles = append(roles, RoleMinion)
	}
	for ; good < playerCount-evil; good++ {
		roles = append(roles, RoleLoyal)
	}

	if err := ValidateRoleSet(playerCount, roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// ValidateOptionalRoles checks a settings role list on its own, before the
// player count is known.
func ValidateOptionalRoles(optional []Role) error {
	var err error
	seen := map[Role]bool{}
	for _, r := range optional {
		spec, ok := catalog[r]
		switch {
		case !ok || !spec.optional:
			err = multierr.Append(err, fmt.Errorf("%w: %q is not an optional role", ErrInvalidRoleConfiguration, r))
		case seen[r]:
			err = multierr.Append(err, fmt.Errorf("%w: %q listed twice", ErrInvalidRoleConfiguration, r))
		}
		seen[r] = true
	}
	if err != nil {
		return err
	}
	// Seer and assassin are always present.
	return checkConstraints(append([]Role{RoleSeer, RoleAssassin}, optional...))
}

// ValidateRoleSet reports every violated constraint of roles for playerCount.
func ValidateRoleSet(playerCount int, roles []Role) error {
	evil, ok := evilCount[playerCount]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidPlayerCount, playerCount)
	}

	var err error
	if len(roles) != playerCount {
		err = multierr.Append(err, fmt.Errorf("%w: %d roles for %d players", ErrInvalidRoleConfiguration, len(roles), playerCount))
	}

	bad := 0
	counts := map[Role]int{}
	for _, r := range roles {
		spec, ok := catalog[r]
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%w: unknown role %q", ErrInvalidRoleConfiguration, r))
			continue
		}
		counts[r]++
		if spec.unique && counts[r] == 2 {
			err = multierr.Append(err, fmt.Errorf("%w: %q must be unique", ErrInvalidRoleConfiguration, r))
		}
		if spec.team == TeamEvil {
			bad++
		}
	}
	if bad != evil {
		err = multierr.Append(err, fmt.Errorf("%w: %d evil roles, want %d", ErrInvalidRoleConfiguration, bad, evil))
	}
	return multierr.Append(err, checkConstraints(roles))
}

func checkConstraints(roles []Role) error {
	var err error
	for _, r := range roles {
		spec := catalog[r]
		for _, dep := range spec.requires {
			if !slices.Contains(roles, dep) {
				err = multierr.Append(err, fmt.Errorf("%w: %q requires %q", ErrInvalidRoleConfiguration, r, dep))
			}
		}
		for _, c := range spec.conflicts {
			if slices.Contains(roles, c) {
				err = multierr.Append(err, fmt.Errorf("%w: %q conflicts with %q", ErrInvalidRoleConfiguration, r, c))
			}
		}
	}
	return err
}

// shuffle and pickLeader are swapped out in tests.
var shuffle = secureShuffle

var pickLeader = func(n int) (int, error) {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(i.Int64()), nil
}

// secureShuffle is a Fisher-Yates shuffle driven by crypto/rand. Role secrecy
// depends on the assignment not being predictable.
func secureShuffle(n int, swap func(i, j int)) error {
	for i := n - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		swap(i, int(j.Int64()))
	}
	return nil
}

// AssignRoles returns a random bijection from players to roles. Nothing is
// assigned unless the whole role-set validates.
func AssignRoles(players []string, roles []Role) (map[string]Role, error) {
	if _, ok := evilCount[len(players)]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPlayerCount, len(players))
	}
	if err := ValidateRoleSet(len(players), roles); err != nil {
		return nil, err
	}

	deck := slices.Clone(roles)
	if err := shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] }); err != nil {
		return nil, fmt.Errorf("shuffle roles: %w", err)
	}

	table := make(map[string]Role, len(players))
	for i, id := range players {
		if _, dup := table[id]; dup {
			return nil, fmt.Errorf("%w: duplicate player %q", ErrInvalidPlayerCount, id)
		}
		table[id] = deck[i]
	}
	return table, nil
}

// sees reports whether a viewer holding viewer can see a player holding
// target, and how that player appears.
func sees(viewer, target Role) (Appearance, bool) {
	switch viewer {
	case RoleSeer:
		if target.Team() == TeamEvil && target != RoleShade {
			return AppearsEvil, true
		}
	case RoleGuardian:
		if target == RoleSeer || target == RoleMimic {
			return AppearsSeer, true
		}
	case RoleMinion, RoleAssassin, RoleMimic, RoleShade:
		if target.Team() == TeamEvil && target != RoleLoner {
			return AppearsEvil, true
		}
	}
	return "", false
}

// Sightings lists what viewer knows about the other players, ordered by
// player id so the list leaks nothing about seating.
func Sightings(table map[string]Role, viewer string) []Sighting {
	own, ok := table[viewer]
	if !ok {
		return nil
	}
	var out []Sighting
	for id, r := range table {
		if id == viewer {
			continue
		}
		if a, ok := sees(own, r); ok {
			out = append(out, Sighting{PlayerID: id, Appearance: a})
		}
	}
	slices.SortFunc(out, func(a, b Sighting) int { return strings.Compare(a.PlayerID, b.PlayerID) })
	return out
}
