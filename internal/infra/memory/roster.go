package memory

import "exam-live-service/internal/domain"

// StaticRoster resolves identifiers from a fixed map. The real roster lives
// with the (external) class-management collaborator.
type StaticRoster map[string]domain.Profile

func (r StaticRoster) Lookup(id string) (domain.Profile, bool) {
	profile, ok := r[id]
	return profile, ok
}
