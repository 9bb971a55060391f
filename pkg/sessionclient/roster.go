package sessionclient

import (
	"sync"

	"lessonlive/internal/core/domain"
)

// RosterView is the client's copy of a room roster. Every update replaces it
// wholesale, so duplicate or reordered participants-update events converge.
type RosterView struct {
	mu           sync.RWMutex
	participants []domain.Participant
}

func NewRosterView() *RosterView {
	return &RosterView{}
}

func (r *RosterView) Replace(roster []domain.Participant) {
	next := make([]domain.Participant, len(roster))
	copy(next, roster)

	r.mu.Lock()
	r.participants = next
	r.mu.Unlock()
}

func (r *RosterView) Participants() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, len(r.participants))
	copy(out, r.participants)
	return out
}

func (r *RosterView) Find(identity domain.Identity) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.participants {
		if p.Identity == identity {
			return p, true
		}
	}
	return domain.Participant{}, false
}

func (r *RosterView) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func (r *RosterView) Clear() {
	r.mu.Lock()
	r.participants = nil
	r.mu.Unlock()
}
