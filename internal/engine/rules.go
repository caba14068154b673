package engine

import "time"

// Rules holds every tunable game constant in one place.
type Rules struct {
	MaxRejections      int           `json:"max_rejections"`
	RoleRevealTimeout  time.Duration `json:"role_reveal_timeout"`
	ProposalTimeout    time.Duration `json:"proposal_timeout"`
	VoteTimeout        time.Duration `json:"vote_timeout"`
	MissionTimeout     time.Duration `json:"mission_timeout"`
	EliminationTimeout time.Duration `json:"elimination_timeout"`
	ReconnectGrace     time.Duration `json:"reconnect_grace"`
}

func DefaultRules() Rules {
	return Rules{
		MaxRejections:      5,
		RoleRevealTimeout:  30 * time.Second,
		ProposalTimeout:    90 * time.Second,
		VoteTimeout:        45 * time.Second,
		MissionTimeout:     45 * time.Second,
		EliminationTimeout: 120 * time.Second,
		ReconnectGrace:     60 * time.Second,
	}
}

// Timeout is the time allowed in phase p. Zero means the phase never times
// out.
func (r Rules) Timeout(p Phase) time.Duration {
	switch p {
	case PhaseRoleReveal:
		return r.RoleRevealTimeout
	case PhaseTeamProposal:
		return r.ProposalTimeout
	case PhaseTeamVote:
		return r.VoteTimeout
	case PhaseMissionExecution:
		return r.MissionTimeout
	case PhaseEliminationAttempt:
		return r.EliminationTimeout
	}
	return 0
}
