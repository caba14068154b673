package engine

import "fmt"

// missionTeamSizes[playerCount][mission-1] is the team size for that mission.
var missionTeamSizes = map[int][MissionCount]int{
	5:  {2, 3, 2, 3, 3},
	6:  {2, 3, 4, 3, 4},
	7:  {2, 3, 3, 4, 4},
	8:  {3, 4, 4, 5, 5},
	9:  {3, 4, 4, 5, 5},
	10: {3, 4, 4, 5, 5},
}

type Requirement struct {
	TeamSize      int `json:"team_size"`
	FailsRequired int `json:"fails_required"`
}

// MissionRequirement looks up the team size and the number of fail ballots
// needed to sink mission for a game of playerCount.
func MissionRequirement(playerCount, mission int) (Requirement, error) {
	sizes, ok := missionTeamSizes[playerCount]
	if !ok || mission < 1 || mission > MissionCount {
		return Requirement{}, fmt.Errorf("%w: %d players, mission %d", ErrUnsupportedConfiguration, playerCount, mission)
	}
	req := Requirement{TeamSize: sizes[mission-1], FailsRequired: 1}
	if mission == 4 && playerCount >= 7 {
		req.FailsRequired = 2
	}
	return req, nil
}
