package memory

import (
	"context"
	"sync"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"
)

type MemoryRoleStore struct {
	roles map[domain.RoomID]map[domain.Identity]domain.Role
	mu    sync.RWMutex
}

func NewMemoryRoleStore() ports.RoleStore {
	return &MemoryRoleStore{
		roles: make(map[domain.RoomID]map[domain.Identity]domain.Role),
	}
}

func (s *MemoryRoleStore) Get(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (domain.Role, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[roomID][identity]
	return role, ok, nil
}

func (s *MemoryRoleStore) Assign(ctx context.Context, roomID domain.RoomID, identity domain.Identity, role domain.Role) error {
	if !role.Valid() {
		return domain.ErrInvalidRoleChange
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.roles[roomID]
	if !ok {
		room = make(map[domain.Identity]domain.Role)
		s.roles[roomID] = room
	}
	room[identity] = role
	return nil
}

func (s *MemoryRoleStore) ListByRoom(ctx context.Context, roomID domain.RoomID) (map[domain.Identity]domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.Identity]domain.Role, len(s.roles[roomID]))
	for identity, role := range s.roles[roomID] {
		out[identity] = role
	}
	return out, nil
}
