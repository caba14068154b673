package engine

import (
	"testing"
)

func votes(choices ...bool) []Vote {
	out := make([]Vote, len(choices))
	for i, c := range choices {
		out[i] = Vote{PlayerID: pid(i + 1), Approve: c}
	}
	return out
}

func ballots(choices ...bool) []MissionVote {
	out := make([]MissionVote, len(choices))
	for i, c := range choices {
		out[i] = MissionVote{PlayerID: pid(i + 1), Success: c}
	}
	return out
}

func TestTallyApproval(t *testing.T) {
	cases := []struct {
		name       string
		votes      []Vote
		total      int
		leader     int
		rejections int
		want       ApprovalResult
	}{
		{
			name:  "3 approve 2 reject",
			votes: votes(true, true, true, false, false),
			total: 5, leader: 2,
			want: ApprovalResult{Approved: true, Approvals: 3, Rejects: 2, NextPhase: PhaseMissionExecution, NextLeader: 2},
		},
		{
			name:  "2 approve 3 reject rotates leader",
			votes: votes(true, true, false, false, false),
			total: 5, leader: 2,
			want: ApprovalResult{Approvals: 2, Rejects: 3, Rejections: 1, NextPhase: PhaseTeamProposal, NextLeader: 3},
		},
		{
			name:  "leader wraps around",
			votes: votes(false, false, false, false, false),
			total: 5, leader: 4, rejections: 2,
			want: ApprovalResult{Rejects: 5, Rejections: 3, NextPhase: PhaseTeamProposal, NextLeader: 0},
		},
		{
			name:  "tie is not a majority",
			votes: votes(true, true, true, false, false, false),
			total: 6, leader: 0,
			want: ApprovalResult{Approvals: 3, Rejects: 3, Rejections: 1, NextPhase: PhaseTeamProposal, NextLeader: 1},
		},
		{
			name:  "missing votes count against",
			votes: votes(true, true),
			total: 5, leader: 0,
			want: ApprovalResult{Approvals: 2, Rejects: 3, Rejections: 1, NextPhase: PhaseTeamProposal, NextLeader: 1},
		},
		{
			name:  "fifth rejection ends the game",
			votes: votes(true, false, false, false, false),
			total: 5, leader: 1, rejections: 4,
			want: ApprovalResult{Approvals: 1, Rejects: 4, Rejections: 5, NextPhase: PhaseGameOver, NextLeader: 1},
		},
		{
			name:  "approval keeps counter",
			votes: votes(true, true, true, true, true),
			total: 5, leader: 1, rejections: 4,
			want: ApprovalResult{Approved: true, Approvals: 5, Rejections: 4, NextPhase: PhaseMissionExecution, NextLeader: 1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TallyApproval(tc.votes, tc.total, tc.leader, tc.rejections, 5)
			if got != tc.want {
				t.Fatalf("TallyApproval: got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestTallyMission(t *testing.T) {
	cases := []struct {
		name          string
		ballots       []MissionVote
		failsRequired int
		want          MissionOutcome
	}{
		{name: "one fail sinks a one-fail mission", ballots: ballots(false, true, true), failsRequired: 1, want: MissionFailure},
		{name: "all success", ballots: ballots(true, true, true), failsRequired: 1, want: MissionSuccess},
		{name: "one fail survives a two-fail mission", ballots: ballots(true, false, true, true), failsRequired: 2, want: MissionSuccess},
		{name: "two fails sink a two-fail mission", ballots: ballots(false, false, true, true), failsRequired: 2, want: MissionFailure},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TallyMission(tc.ballots, tc.failsRequired); got != tc.want {
				t.Fatalf("TallyMission: got %q, want %q", got, tc.want)
			}
		})
	}
}
