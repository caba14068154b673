package engine

import (
	"slices"
	"time"
)

const (
	missionsToWin         = 3
	maxChainedTransitions = 8
)

// step is the result of a phase's next-phase function.
type step struct {
	to      Phase
	outcome Outcome
	reason  EndReason
}

type phaseSpec struct {
	// complete is the completion predicate. A nil predicate never completes.
	complete func(r *Room) bool
	// next decides the following phase. It runs once, right before commit,
	// and may record tallies.
	next func(tx *txn) step
	// enter prepares state on phase entry.
	enter func(tx *txn, from Phase, st step) error
	// fallback fills in whatever the phase is still waiting for. An empty
	// playerID means everyone; otherwise only that player's part.
	fallback func(tx *txn, playerID string) error
}

var transitions = map[Phase][]Phase{
	PhaseLobby:              {PhaseRoleReveal},
	PhaseRoleReveal:         {PhaseTeamProposal},
	PhaseTeamProposal:       {PhaseTeamVote, PhaseTeamProposal},
	PhaseTeamVote:           {PhaseMissionExecution, PhaseTeamProposal},
	PhaseMissionExecution:   {PhaseTeamProposal, PhaseEliminationAttempt},
	PhaseEliminationAttempt: {},
}

// CanTransition reports whether to is reachable from from in one step.
// gameOver is reachable from every other phase.
func CanTransition(from, to Phase) bool {
	if from == PhaseGameOver {
		return false
	}
	if to == PhaseGameOver {
		return true
	}
	return slices.Contains(transitions[from], to)
}

func specFor(p Phase) phaseSpec {
	switch p {
	case PhaseLobby:
		return phaseSpec{complete: lobbyComplete, next: constant(PhaseRoleReveal)}
	case PhaseRoleReveal:
		return phaseSpec{complete: allReady, next: constant(PhaseTeamProposal), enter: enterRoleReveal, fallback: fallbackReveal}
	case PhaseTeamProposal:
		return phaseSpec{complete: teamProposed, next: constant(PhaseTeamVote), enter: enterTeamProposal, fallback: fallbackProposal}
	case PhaseTeamVote:
		return phaseSpec{complete: allVoted, next: resolveTeamVote, enter: enterTeamVote, fallback: fallbackVotes}
	case PhaseMissionExecution:
		return phaseSpec{complete: allBalloted, next: resolveMission, enter: enterMission, fallback: fallbackBallots}
	case PhaseEliminationAttempt:
		return phaseSpec{complete: eliminationDone, next: resolveElimination, enter: enterElimination, fallback: fallbackElimination}
	case PhaseGameOver:
		return phaseSpec{enter: enterGameOver}
	}
	return phaseSpec{}
}

func constant(p Phase) func(*txn) step {
	return func(*txn) step { return step{to: p} }
}

// settle advances the room for as long as the current phase's completion
// predicate holds. The predicate is evaluated against the state about to be
// committed, so a transition never fires on a condition that no longer holds.
func (tx *txn) settle() error {
	for range maxChainedTransitions {
		spec := specFor(tx.room.Phase)
		if spec.complete == nil || !spec.complete(tx.room) {
			return nil
		}
		if err := tx.transition(spec.next(tx)); err != nil {
			return err
		}
	}
	return &FatalStateError{From: tx.room.Phase, To: tx.room.Phase, Reason: "transition loop"}
}

func (tx *txn) transition(st step) error {
	r := tx.room
	from := r.Phase
	if !CanTransition(from, st.to) {
		return &FatalStateError{From: from, To: st.to, Reason: "unreachable phase"}
	}

	r.Phase = st.to
	r.PhaseVersion = tx.version
	r.PhaseDeadline = time.Time{}
	if d := r.Rules.Timeout(st.to); d > 0 {
		r.PhaseDeadline = tx.now.Add(d)
	}

	mark := len(tx.events)
	if enter := specFor(st.to).enter; enter != nil {
		if err := enter(tx, from, st); err != nil {
			return err
		}
	}

	changed := PhaseChanged{
		From:         from,
		To:           st.to,
		PhaseVersion: r.PhaseVersion,
		Deadline:     r.PhaseDeadline,
		Mission:      r.Game.Mission,
		Leader:       r.Game.Leader,
		Rejections:   r.Game.Rejections,
	}
	if st.to == PhaseEliminationAttempt {
		changed.Eliminator = r.Game.Eliminator
	}
	tx.events = slices.Insert(tx.events, mark, Envelope{Event: changed})
	return nil
}

// Completion predicates.

func lobbyComplete(r *Room) bool {
	n := len(r.Players)
	if n < MinPlayers || n > MaxPlayers || !allReady(r) {
		return false
	}
	_, err := DefaultRoleSet(n, r.Settings.OptionalRoles)
	return err == nil
}

func allReady(r *Room) bool {
	for _, p := range r.Players {
		if !p.Ready {
			return false
		}
	}
	return len(r.Players) > 0
}

func teamProposed(r *Room) bool {
	m := r.currentMission()
	return m != nil && m.TeamSize > 0 && len(m.Team) == m.TeamSize
}

func allVoted(r *Room) bool {
	return len(r.Players) > 0 && len(r.Game.Votes) == len(r.Players)
}

func allBalloted(r *Room) bool {
	m := r.currentMission()
	return m != nil && len(m.Team) > 0 && len(m.Ballots) == m.TeamSize
}

func eliminationDone(r *Room) bool {
	return r.Game.EliminationTarget != "" || r.Game.EliminationForfeit
}

// Phase entry.

func enterRoleReveal(tx *txn, from Phase, _ step) error {
	r := tx.room
	ids := r.playerIDs()

	roles, err := DefaultRoleSet(len(ids), r.Settings.OptionalRoles)
	if err != nil {
		return &FatalStateError{From: from, To: PhaseRoleReveal, Reason: err.Error()}
	}
	table, err := AssignRoles(ids, roles)
	if err != nil {
		return &FatalStateError{From: from, To: PhaseRoleReveal, Reason: err.Error()}
	}
	leader, err := pickLeader(len(ids))
	if err != nil {
		return &FatalStateError{From: from, To: PhaseRoleReveal, Reason: err.Error()}
	}

	missions := make([]Mission, 0, MissionCount)
	for n := 1; n <= MissionCount; n++ {
		req, err := MissionRequirement(len(ids), n)
		if err != nil {
			return &FatalStateError{From: from, To: PhaseRoleReveal, Reason: err.Error()}
		}
		missions = append(missions, Mission{Number: n, TeamSize: req.TeamSize, FailsRequired: req.FailsRequired})
	}

	for i := range r.Players {
		r.Players[i].Role = table[r.Players[i].ID]
		r.Players[i].Ready = false
	}
	r.Game = GameState{Mission: 1, Leader: leader, Missions: missions}

	tx.emit(RolesAssigned{PlayerCount: len(ids), Missions: missionInfos(missions)})
	for _, p := range r.Players {
		tx.emitTo(p.ID, RoleRevealed{Role: p.Role, Team: p.Role.Team(), Sightings: Sightings(table, p.ID)})
	}
	return nil
}

func enterTeamProposal(tx *txn, from Phase, _ step) error {
	g := &tx.room.Game
	n := len(tx.room.Players)

	switch from {
	case PhaseTeamVote, PhaseTeamProposal:
		g.Rejections++
		g.Leader = nextLeader(g.Leader, n)
	case PhaseMissionExecution:
		g.Mission++
		g.Leader = nextLeader(g.Leader, n)
	}

	g.Votes = nil
	if m := tx.room.currentMission(); m != nil {
		m.Team = nil
		m.Ballots = nil
	}
	return nil
}

func enterTeamVote(tx *txn, _ Phase, _ step) error {
	tx.room.Game.Votes = nil
	return nil
}

func enterMission(tx *txn, _ Phase, _ step) error {
	tx.room.Game.Rejections = 0
	if m := tx.room.currentMission(); m != nil {
		m.Ballots = nil
	}
	return nil
}

func enterElimination(tx *txn, from Phase, _ step) error {
	id := tx.room.holderOf(RoleAssassin)
	if id == "" {
		return &FatalStateError{From: from, To: PhaseEliminationAttempt, Reason: "no eliminator in role table"}
	}
	tx.room.Game.Eliminator = id
	tx.room.Game.EliminationTarget = ""
	tx.room.Game.EliminationForfeit = false
	return nil
}

func enterGameOver(tx *txn, _ Phase, st step) error {
	g := &tx.room.Game
	g.Outcome = st.outcome
	g.Reason = st.reason
	if st.reason == ReasonRejections {
		g.Rejections = tx.room.Rules.MaxRejections
	}
	tx.emit(GameEnded{Outcome: g.Outcome, Reason: g.Reason, Detail: g.Detail, Roles: tx.room.roleTable()})
	return nil
}

// Next-phase functions.

func resolveTeamVote(tx *txn) step {
	r := tx.room
	res := TallyApproval(r.Game.Votes, len(r.Players), r.Game.Leader, r.Game.Rejections, r.Rules.MaxRejections)

	votes := make(map[string]bool, len(r.Game.Votes))
	for _, v := range r.Game.Votes {
		votes[v.PlayerID] = v.Approve
	}
	r.Game.LastVote = votes
	tx.emit(VoteResolved{Approved: res.Approved, Votes: votes, Rejections: res.Rejections})

	if res.NextPhase == PhaseGameOver {
		return step{to: PhaseGameOver, outcome: OutcomeEvilVictory, reason: ReasonRejections}
	}
	return step{to: res.NextPhase}
}

func resolveMission(tx *txn) step {
	r := tx.room
	m := r.currentMission()
	m.Outcome = TallyMission(m.Ballots, m.FailsRequired)
	m.Fails = CountFails(m.Ballots)
	tx.emit(MissionResolved{Mission: m.Number, Outcome: m.Outcome, Fails: m.Fails})

	succeeded, failed := r.Game.score()
	switch {
	case failed >= missionsToWin:
		return step{to: PhaseGameOver, outcome: OutcomeEvilVictory, reason: ReasonMissions}
	case succeeded >= missionsToWin:
		if r.holderOf(RoleAssassin) != "" && r.holderOf(RoleSeer) != "" {
			return step{to: PhaseEliminationAttempt}
		}
		return step{to: PhaseGameOver, outcome: OutcomeGoodVictory, reason: ReasonMissions}
	}
	return step{to: PhaseTeamProposal}
}

func resolveElimination(tx *txn) step {
	g := &tx.room.Game
	ev := EliminationResolved{Eliminator: g.Eliminator, Target: g.EliminationTarget, Forfeited: g.EliminationForfeit}

	if !g.EliminationForfeit {
		ev.Hit = tx.room.roleOf(g.EliminationTarget) == RoleSeer
	}
	tx.emit(ev)

	if ev.Hit {
		return step{to: PhaseGameOver, outcome: OutcomeEvilVictory, reason: ReasonEliminationHit}
	}
	return step{to: PhaseGameOver, outcome: OutcomeGoodVictory, reason: ReasonEliminationMissed}
}

// Timeout fallbacks.

func fallbackReveal(tx *txn, playerID string) error {
	r := tx.room
	for i := range r.Players {
		p := &r.Players[i]
		if p.Ready || (playerID != "" && p.ID != playerID) {
			continue
		}
		p.Ready = true
		tx.emit(ReadyChanged{PlayerID: p.ID, Ready: true})
	}
	return nil
}

// fallbackProposal treats an unresponsive leader's proposal as rejected.
func fallbackProposal(tx *txn, playerID string) error {
	r := tx.room
	if playerID != "" && playerID != r.leaderID() {
		return nil
	}
	res := TallyApproval(nil, len(r.Players), r.Game.Leader, r.Game.Rejections, r.Rules.MaxRejections)
	if res.NextPhase == PhaseGameOver {
		return tx.transition(step{to: PhaseGameOver, outcome: OutcomeEvilVictory, reason: ReasonRejections})
	}
	return tx.transition(step{to: PhaseTeamProposal})
}

// fallbackVotes records a reject for every player who has not voted.
func fallbackVotes(tx *txn, playerID string) error {
	for _, p := range tx.room.Players {
		if playerID != "" && p.ID != playerID {
			continue
		}
		if !tx.room.hasVoted(p.ID) {
			tx.recordVote(p.ID, false, true)
		}
	}
	return nil
}

// fallbackBallots records a success for every team member who has not
// submitted. Sabotage always requires an explicit ballot.
func fallbackBallots(tx *txn, playerID string) error {
	m := tx.room.currentMission()
	if m == nil {
		return nil
	}
	for _, id := range slices.Clone(m.Team) {
		if playerID != "" && id != playerID {
			continue
		}
		if !m.hasBallot(id) {
			tx.recordBallot(id, true, true)
		}
	}
	return nil
}

func fallbackElimination(tx *txn, playerID string) error {
	g := &tx.room.Game
	if playerID != "" && playerID != g.Eliminator {
		return nil
	}
	if g.EliminationTarget == "" {
		g.EliminationForfeit = true
	}
	return nil
}
