package app

import (
	"fmt"

	"exam-live-service/internal/domain"
)

// RosterDirectory resolves roster identifiers to student profiles. It is an
// external collaborator; a miss is not an error, admission synthesizes a
// minimal profile instead.
type RosterDirectory interface {
	Lookup(id string) (domain.Profile, bool)
}

// Admission validates join requests against the allow-list snapshot taken at
// lobby entry. The snapshot is immutable: roster edits made after the room
// opened are never observed.
type Admission struct {
	allowed     map[string]struct{}
	admitAnyone bool
	roster      RosterDirectory
	teams       []string
	assignments map[string]int // identifier -> team index
}

// NewAdmission freezes the allow-list. An empty list admits anyone only when
// admitOnEmpty is set; otherwise it admits no one.
func NewAdmission(allowList []string, admitOnEmpty bool, roster RosterDirectory, teams []string, assignments map[string]int) *Admission {
	allowed := make(map[string]struct{}, len(allowList))
	for _, id := range allowList {
		allowed[id] = struct{}{}
	}
	return &Admission{
		allowed:     allowed,
		admitAnyone: len(allowed) == 0 && admitOnEmpty,
		roster:      roster,
		teams:       teams,
		assignments: assignments,
	}
}

// Admit checks the identifier against the frozen allow-list and resolves a
// profile plus team assignment. It is free of side effects; the room inserts
// the result into the registry.
func (a *Admission) Admit(id string) (domain.Profile, string, error) {
	if _, ok := a.allowed[id]; !ok && !a.admitAnyone {
		return domain.Profile{}, "", domain.ErrNotAllowed
	}

	profile, found := domain.Profile{}, false
	if a.roster != nil {
		profile, found = a.roster.Lookup(id)
	}
	if !found {
		profile = domain.Profile{
			ID:     id,
			Name:   "Student " + id,
			Avatar: fmt.Sprintf("https://ui-avatars.com/api/?name=%s", id),
		}
	}

	team := ""
	if idx, ok := a.assignments[id]; ok && idx >= 0 && idx < len(a.teams) {
		team = a.teams[idx]
	}
	return profile, team, nil
}
