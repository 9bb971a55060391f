package services

import (
	"time"

	"lessonlive/internal/core/domain"
)

// handQueue keeps pending requests to speak, oldest first. Entries never
// expire; they leave on lower or when the participant leaves.
type handQueue struct {
	items []domain.HandRaise
}

func newHandQueue() *handQueue {
	return &handQueue{}
}

// raise appends identity unless it is already queued.
func (q *handQueue) raise(identity domain.Identity, displayName string, at time.Time) bool {
	if q.contains(identity) {
		return false
	}
	q.items = append(q.items, domain.HandRaise{Identity: identity, DisplayName: displayName, RaisedAt: at})
	return true
}

func (q *handQueue) remove(identity domain.Identity) bool {
	for i, item := range q.items {
		if item.Identity == identity {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *handQueue) contains(identity domain.Identity) bool {
	for _, item := range q.items {
		if item.Identity == identity {
			return true
		}
	}
	return false
}

func (q *handQueue) entries() []domain.HandRaise {
	out := make([]domain.HandRaise, len(q.items))
	copy(out, q.items)
	return out
}

func (q *handQueue) len() int {
	return len(q.items)
}

// raiseHand applies a participant's own raise or lower. Hosts and moderators
// never hold a place in the queue, and their requests are dropped silently.
func (a *roomActor) raiseHand(connID domain.ConnectionID, raised bool) {
	st := a.state
	p, ok := st.participants[connID]
	if !ok || p.Role != domain.RoleParticipant {
		return
	}

	var changed bool
	if raised {
		changed = st.hands.raise(p.Identity, p.DisplayName, time.Now())
	} else {
		changed = st.hands.remove(p.Identity)
	}
	if !changed {
		return
	}
	p.IsHandRaised = raised

	a.broadcast(domain.EventHandRaised, domain.HandRaisedPayload{Identity: p.Identity, IsRaised: raised})
	a.publishHandQueue()
	a.broadcastRoster()
}

func (a *roomActor) handQueue(connID domain.ConnectionID) ([]domain.HandRaise, error) {
	p, ok := a.state.participants[connID]
	if !ok {
		return nil, domain.ErrNotInRoom
	}
	if !p.Role.Privileged() {
		return nil, domain.ErrUnauthorized
	}
	return a.state.hands.entries(), nil
}
