package app

import (
	"sync"
	"time"

	"exam-live-service/internal/domain"
)

// Registry is the authoritative in-memory store of participant state for one
// room. Every inbound event path writes it synchronously; the moderator view
// never reads it per event, only through Snapshot (see the room materializer).
// Rows are never deleted while the room is live.
type Registry struct {
	mu           sync.RWMutex
	participants map[string]*domain.Participant
	order        []string // join order, for stable snapshots
	frozen       bool
	now          func() time.Time
}

// Patch carries the fields of a participant to merge. Nil fields are left
// untouched, so concurrent messages touching different fields never lose
// each other's updates.
type Patch struct {
	Name       *string
	Avatar     *string
	Team       *string
	Score      *int
	Progress   *int
	Violations *int
	Status     *domain.ParticipantStatus
}

func NewRegistry() *Registry {
	return newRegistryWithClock(time.Now)
}

func newRegistryWithClock(now func() time.Time) *Registry {
	return &Registry{
		participants: make(map[string]*domain.Participant),
		now:          now,
	}
}

// Upsert merges a partial state patch into the participant row, creating it
// on first sight. Returns ErrRoomFinished once the registry is frozen.
func (r *Registry) Upsert(id string, patch Patch) (domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return domain.Participant{}, domain.ErrRoomFinished
	}

	p, ok := r.participants[id]
	if !ok {
		p = &domain.Participant{
			ID:       id,
			Status:   domain.StatusOnline,
			JoinedAt: r.now(),
		}
		r.participants[id] = p
		r.order = append(r.order, id)
	}
	applyPatch(p, patch)
	return *p, nil
}

func applyPatch(p *domain.Participant, patch Patch) {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Avatar != nil {
		p.Avatar = *patch.Avatar
	}
	if patch.Team != nil {
		p.Team = *patch.Team
	}
	if patch.Score != nil {
		p.Score = *patch.Score
	}
	if patch.Progress != nil {
		p.Progress = *patch.Progress
	}
	if patch.Violations != nil {
		p.Violations = *patch.Violations
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
}

// ForceFinish marks a participant finished with full progress without
// requiring a SUBMIT message. Used for the moderator cutoff.
func (r *Registry) ForceFinish(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return domain.ErrRoomFinished
	}
	p, ok := r.participants[id]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.Status = domain.StatusFinished
	p.Progress = 100
	return nil
}

// Get returns a copy of one participant row.
func (r *Registry) Get(id string) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// Snapshot returns a point-in-time copy of all rows in join order. The stable
// order keeps the moderator UI and test assertions deterministic.
func (r *Registry) Snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.participants[id])
	}
	return out
}

// Len reports the number of admitted participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Freeze rejects all further mutations. Called on the Live -> Finished
// transition; there is no thaw.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}
