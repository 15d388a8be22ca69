package match

import "fmt"

// Result is one participant's outcome.
type Result string

// Results.
const (
	ResultWin  Result = "WIN"
	ResultDraw Result = "DRAW"
	ResultLoss Result = "LOSS"
)

// Participant is a player's team and outcome in a played match.
type Participant struct {
	UserID string `json:"userId"`
	Team   string `json:"team"`
	Result Result `json:"result"`
}

// ValidateResult checks a participant list:
// at least two participants spanning exactly two teams; when anyone drew,
// everyone drew; otherwise all winners share one team and all losers share one team.
func ValidateResult(participants []Participant) error {
	if len(participants) < 2 {
		return newValidationError(ErrInvalidResult, "participants",
			fmt.Sprintf("need at least 2 participants, got %d", len(participants)))
	}

	teams := make(map[string]struct{})
	winTeams := make(map[string]struct{})
	lossTeams := make(map[string]struct{})
	draws := 0
	for _, p := range participants {
		switch p.Result {
		case ResultWin:
			winTeams[p.Team] = struct{}{}
		case ResultLoss:
			lossTeams[p.Team] = struct{}{}
		case ResultDraw:
			draws++
		default:
			return newValidationError(ErrInvalidResult, "result",
				fmt.Sprintf("unknown result %q for %s", p.Result, p.UserID))
		}
		teams[p.Team] = struct{}{}
	}

	if len(teams) != 2 {
		return newValidationError(ErrInvalidResult, "team",
			fmt.Sprintf("participants must span exactly 2 teams, got %d", len(teams)))
	}
	if draws > 0 && draws != len(participants) {
		return newValidationError(ErrInvalidResult, "result", "a draw must apply to all participants")
	}
	if len(winTeams) > 1 {
		return newValidationError(ErrInvalidResult, "result", "winners belong to more than one team")
	}
	if len(lossTeams) > 1 {
		return newValidationError(ErrInvalidResult, "result", "losers belong to more than one team")
	}
	return nil
}
