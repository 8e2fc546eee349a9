package app

import (
	"sort"

	"exam-live-service/internal/domain"
)

// TeamStandings derives team rollups from a registry snapshot: summed score,
// member count and finished count per configured team, sorted by score
// descending. Ties keep the configured team order.
func TeamStandings(teams []string, participants []domain.Participant) []domain.TeamRollup {
	if len(teams) == 0 {
		return nil
	}

	index := make(map[string]int, len(teams))
	rollups := make([]domain.TeamRollup, len(teams))
	for i, name := range teams {
		index[name] = i
		rollups[i] = domain.TeamRollup{Name: name}
	}

	for _, p := range participants {
		i, ok := index[p.Team]
		if !ok {
			continue
		}
		rollups[i].Score += p.Score
		rollups[i].Members++
		if p.Status == domain.StatusFinished {
			rollups[i].Finished++
		}
	}

	sort.SliceStable(rollups, func(i, j int) bool {
		return rollups[i].Score > rollups[j].Score
	})
	return rollups
}
