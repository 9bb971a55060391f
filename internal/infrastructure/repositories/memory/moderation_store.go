package memory

import (
	"context"
	"sort"
	"sync"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"
)

type moderationKey struct {
	room     domain.RoomID
	identity domain.Identity
}

type MemoryModerationStore struct {
	records map[moderationKey]domain.ModerationRecord
	mu      sync.RWMutex
}

func NewMemoryModerationStore() ports.ModerationStore {
	return &MemoryModerationStore{
		records: make(map[moderationKey]domain.ModerationRecord),
	}
}

func (s *MemoryModerationStore) Put(ctx context.Context, record *domain.ModerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[moderationKey{record.RoomID, record.Identity}] = *record
	return nil
}

func (s *MemoryModerationStore) Get(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.ModerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[moderationKey{roomID, identity}]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &rec, nil
}

func (s *MemoryModerationStore) ListByRoom(ctx context.Context, roomID domain.RoomID) ([]*domain.ModerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ModerationRecord
	for key, rec := range s.records {
		if key.room != roomID {
			continue
		}
		rec := rec
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (s *MemoryModerationStore) ClearKick(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := moderationKey{roomID, identity}
	if rec, ok := s.records[key]; ok && !rec.IsPermanent {
		delete(s.records, key)
	}
	return nil
}

func (s *MemoryModerationStore) ClearKicks(ctx context.Context, roomID domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, rec := range s.records {
		if key.room == roomID && !rec.IsPermanent {
			delete(s.records, key)
		}
	}
	return nil
}

func (s *MemoryModerationStore) Lift(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, moderationKey{roomID, identity})
	return nil
}
