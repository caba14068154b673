package engine

// ApprovalResult is the outcome of a team-approval round. Rejections is the
// counter value after the round.
type ApprovalResult struct {
	Approved   bool
	Approvals  int
	Rejects    int
	Rejections int
	NextPhase  Phase
	NextLeader int
}

// TallyApproval approves a team iff approvals are a strict majority of
// totalPlayers. Missing votes count as rejections. A rejection that brings the
// counter to maxRejections ends the game.
func TallyApproval(votes []Vote, totalPlayers, leader, rejections, maxRejections int) ApprovalResult {
	res := ApprovalResult{NextLeader: leader, Rejections: rejections}
	for _, v := range votes {
		if v.Approve {
			res.Approvals++
		}
	}
	res.Rejects = totalPlayers - res.Approvals

	if 2*res.Approvals > totalPlayers {
		res.Approved = true
		res.NextPhase = PhaseMissionExecution
		return res
	}

	res.Rejections = rejections + 1
	if res.Rejections >= maxRejections {
		res.NextPhase = PhaseGameOver
		return res
	}
	res.NextPhase = PhaseTeamProposal
	res.NextLeader = nextLeader(leader, totalPlayers)
	return res
}

// TallyMission fails a mission iff the fail ballots reach failsRequired.
func TallyMission(ballots []MissionVote, failsRequired int) MissionOutcome {
	if CountFails(ballots) >= failsRequired {
		return MissionFailure
	}
	return MissionSuccess
}

func CountFails(ballots []MissionVote) int {
	n := 0
	for _, b := range ballots {
		if !b.Success {
			n++
		}
	}
	return n
}

func nextLeader(leader, players int) int {
	if players <= 0 {
		return 0
	}
	return (leader + 1) % players
}
