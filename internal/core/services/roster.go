package services

import (
	"sort"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"
)

// roomState is the authoritative in-memory model of a live room. Only the
// room's actor touches it.
type roomState struct {
	id   domain.RoomID
	room *domain.Room

	participants map[domain.ConnectionID]*domain.Participant
	byIdentity   map[domain.Identity]domain.ConnectionID

	banned map[domain.Identity]*domain.ModerationRecord
	kicked map[domain.Identity]*domain.ModerationRecord

	hands *handQueue
	note  *domain.NoteDocument
	chat  *chatHistory

	// sharers in grant order; the last one is the active screen-share owner.
	sharers []domain.ConnectionID

	lease         ports.RoomLease
	loadErr       error
	pendingCreate bool
	live          bool
	closed        bool
}

func newRoomState(id domain.RoomID, chatHistorySize int) *roomState {
	return &roomState{
		id:           id,
		participants: make(map[domain.ConnectionID]*domain.Participant),
		byIdentity:   make(map[domain.Identity]domain.ConnectionID),
		banned:       make(map[domain.Identity]*domain.ModerationRecord),
		kicked:       make(map[domain.Identity]*domain.ModerationRecord),
		hands:        newHandQueue(),
		chat:         newChatHistory(chatHistorySize),
	}
}

func (s *roomState) idle() bool {
	return len(s.participants) == 0
}

func (s *roomState) applyRecord(rec *domain.ModerationRecord) {
	if rec.IsPermanent {
		s.banned[rec.Identity] = rec
		delete(s.kicked, rec.Identity)
		return
	}
	if _, banned := s.banned[rec.Identity]; !banned {
		s.kicked[rec.Identity] = rec
	}
}

// admissionFor checks bans, kicks and capacity for identity with role.
func (s *roomState) admissionFor(identity domain.Identity, role domain.Role) (domain.RejectReason, bool) {
	if _, ok := s.banned[identity]; ok {
		return domain.RejectBanned, false
	}
	if _, ok := s.kicked[identity]; ok {
		return domain.RejectKicked, false
	}
	if _, present := s.byIdentity[identity]; present {
		return "", true
	}
	if role != domain.RoleHost && !s.room.Unlimited() && s.nonHostCount() >= s.room.ParticipantLimit {
		return domain.RejectRoomFull, false
	}
	return "", true
}

// nonHostCount is what the participant limit is measured against.
func (s *roomState) nonHostCount() int {
	n := 0
	for _, p := range s.participants {
		if p.Role != domain.RoleHost {
			n++
		}
	}
	return n
}

func (s *roomState) add(p *domain.Participant) {
	s.participants[p.ConnectionID] = p
	s.byIdentity[p.Identity] = p.ConnectionID
}

func (s *roomState) remove(connID domain.ConnectionID) *domain.Participant {
	p, ok := s.participants[connID]
	if !ok {
		return nil
	}
	delete(s.participants, connID)
	if s.byIdentity[p.Identity] == connID {
		delete(s.byIdentity, p.Identity)
	}
	return p
}

func (s *roomState) byIdentityLookup(identity domain.Identity) *domain.Participant {
	connID, ok := s.byIdentity[identity]
	if !ok {
		return nil
	}
	return s.participants[connID]
}

// sortedParticipants orders hosts, then moderators, then participants; ties by
// join time, then identity.
func (s *roomState) sortedParticipants() []*domain.Participant {
	list := make([]*domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Role.Rank() != b.Role.Rank() {
			return a.Role.Rank() > b.Role.Rank()
		}
		if !a.JoinTime.Equal(b.JoinTime) {
			return a.JoinTime.Before(b.JoinTime)
		}
		return a.Identity < b.Identity
	})
	return list
}

// roster returns a fresh snapshot; callers may hand it to other goroutines.
func (s *roomState) roster() []domain.Participant {
	sorted := s.sortedParticipants()
	out := make([]domain.Participant, 0, len(sorted))
	for _, p := range sorted {
		out = append(out, p.Snapshot())
	}
	return out
}

func (s *roomState) connectionIDs() []domain.ConnectionID {
	sorted := s.sortedParticipants()
	ids := make([]domain.ConnectionID, 0, len(sorted))
	for _, p := range sorted {
		ids = append(ids, p.ConnectionID)
	}
	return ids
}

func (s *roomState) privilegedConnectionIDs() []domain.ConnectionID {
	var ids []domain.ConnectionID
	for _, p := range s.sortedParticipants() {
		if p.Role.Privileged() {
			ids = append(ids, p.ConnectionID)
		}
	}
	return ids
}

func (s *roomState) addSharer(connID domain.ConnectionID) {
	s.removeSharer(connID)
	s.sharers = append(s.sharers, connID)
}

func (s *roomState) removeSharer(connID domain.ConnectionID) {
	for i, id := range s.sharers {
		if id == connID {
			s.sharers = append(s.sharers[:i], s.sharers[i+1:]...)
			return
		}
	}
}

// activeScreenShareOwner is the most recently granted sharer still sharing.
func (s *roomState) activeScreenShareOwner() (domain.Identity, bool) {
	if len(s.sharers) == 0 {
		return "", false
	}
	p, ok := s.participants[s.sharers[len(s.sharers)-1]]
	if !ok {
		return "", false
	}
	return p.Identity, true
}
