package memory

import (
	"context"
	"sync"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"
)

type MemoryNoteStore struct {
	notes map[domain.RoomID]domain.NoteDocument
	mu    sync.RWMutex
}

func NewMemoryNoteStore() ports.NoteStore {
	return &MemoryNoteStore{
		notes: make(map[domain.RoomID]domain.NoteDocument),
	}
}

func (s *MemoryNoteStore) Get(ctx context.Context, roomID domain.RoomID) (*domain.NoteDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.notes[roomID]
	if !ok {
		return nil, domain.ErrNoteNotFound
	}
	return &doc, nil
}

func (s *MemoryNoteStore) Save(ctx context.Context, doc *domain.NoteDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notes[doc.RoomID] = *doc
	return nil
}

func (s *MemoryNoteStore) Delete(ctx context.Context, roomID domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notes[roomID]; !ok {
		return domain.ErrNoteNotFound
	}
	delete(s.notes, roomID)
	return nil
}
