package app

import (
	"testing"

	"exam-live-service/internal/domain"
)

func TestTeamStandingsRankBySummedScore(t *testing.T) {
	participants := []domain.Participant{
		{ID: "s1", Team: "A", Score: 4},
		{ID: "s2", Team: "A", Score: 6, Status: domain.StatusFinished},
		{ID: "s3", Team: "B", Score: 15},
	}

	standings := TeamStandings([]string{"A", "B"}, participants)
	if len(standings) != 2 {
		t.Fatalf("expected 2 teams, got %d", len(standings))
	}
	if standings[0].Name != "B" || standings[0].Score != 15 || standings[0].Members != 1 {
		t.Fatalf("expected B first with 15, got %+v", standings[0])
	}
	if standings[1].Name != "A" || standings[1].Score != 10 || standings[1].Members != 2 || standings[1].Finished != 1 {
		t.Fatalf("unexpected rollup for A: %+v", standings[1])
	}
}

func TestTeamStandingsTiesKeepConfiguredOrder(t *testing.T) {
	participants := []domain.Participant{
		{ID: "s1", Team: "Blue", Score: 5},
		{ID: "s2", Team: "Red", Score: 5},
	}

	standings := TeamStandings([]string{"Red", "Blue"}, participants)
	if standings[0].Name != "Red" || standings[1].Name != "Blue" {
		t.Fatalf("tie must keep team index order, got %s, %s", standings[0].Name, standings[1].Name)
	}
}

func TestTeamStandingsIgnoreUnassigned(t *testing.T) {
	participants := []domain.Participant{
		{ID: "s1", Team: "", Score: 9},
		{ID: "s2", Team: "Ghost", Score: 9},
		{ID: "s3", Team: "A", Score: 1},
	}

	standings := TeamStandings([]string{"A"}, participants)
	if len(standings) != 1 || standings[0].Score != 1 || standings[0].Members != 1 {
		t.Fatalf("unassigned participants must not count: %+v", standings)
	}
}

func TestTeamStandingsNilWithoutTeams(t *testing.T) {
	if got := TeamStandings(nil, []domain.Participant{{ID: "s1", Score: 3}}); got != nil {
		t.Fatalf("expected nil rollups in individual mode, got %+v", got)
	}
}
