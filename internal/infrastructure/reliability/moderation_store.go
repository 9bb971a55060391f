package reliability

import (
	"context"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"
)

// ModerationStore guards every call of the wrapped store. Join admission reads
// moderation records on the hot path, so a flapping backend fails fast
// instead of stalling the room actor.
type ModerationStore struct {
	next  ports.ModerationStore
	guard *Guard
}

func NewModerationStore(next ports.ModerationStore, guard *Guard) ports.ModerationStore {
	return &ModerationStore{next: next, guard: guard}
}

func (s *ModerationStore) Put(ctx context.Context, record *domain.ModerationRecord) error {
	return s.guard.call(ctx, "put", memberAttrs(record.RoomID, record.Identity), func(ctx context.Context) error {
		return s.next.Put(ctx, record)
	})
}

func (s *ModerationStore) Get(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.ModerationRecord, error) {
	return guardResult(ctx, s.guard, "get", memberAttrs(roomID, identity), func(ctx context.Context) (*domain.ModerationRecord, error) {
		return s.next.Get(ctx, roomID, identity)
	})
}

func (s *ModerationStore) ListByRoom(ctx context.Context, roomID domain.RoomID) ([]*domain.ModerationRecord, error) {
	return guardResult(ctx, s.guard, "list", roomAttrs(roomID), func(ctx context.Context) ([]*domain.ModerationRecord, error) {
		return s.next.ListByRoom(ctx, roomID)
	})
}

func (s *ModerationStore) ClearKick(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error {
	return s.guard.call(ctx, "clear_kick", memberAttrs(roomID, identity), func(ctx context.Context) error {
		return s.next.ClearKick(ctx, roomID, identity)
	})
}

func (s *ModerationStore) ClearKicks(ctx context.Context, roomID domain.RoomID) error {
	return s.guard.call(ctx, "clear_kicks", roomAttrs(roomID), func(ctx context.Context) error {
		return s.next.ClearKicks(ctx, roomID)
	})
}

func (s *ModerationStore) Lift(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error {
	return s.guard.call(ctx, "lift", memberAttrs(roomID, identity), func(ctx context.Context) error {
		return s.next.Lift(ctx, roomID, identity)
	})
}

// NoteStore guards the note backend the same way.
type NoteStore struct {
	next  ports.NoteStore
	guard *Guard
}

func NewNoteStore(next ports.NoteStore, guard *Guard) ports.NoteStore {
	return &NoteStore{next: next, guard: guard}
}

func (s *NoteStore) Get(ctx context.Context, roomID domain.RoomID) (*domain.NoteDocument, error) {
	return guardResult(ctx, s.guard, "get", roomAttrs(roomID), func(ctx context.Context) (*domain.NoteDocument, error) {
		return s.next.Get(ctx, roomID)
	})
}

func (s *NoteStore) Save(ctx context.Context, doc *domain.NoteDocument) error {
	return s.guard.call(ctx, "save", roomAttrs(doc.RoomID), func(ctx context.Context) error {
		return s.next.Save(ctx, doc)
	})
}

func (s *NoteStore) Delete(ctx context.Context, roomID domain.RoomID) error {
	return s.guard.call(ctx, "delete", roomAttrs(roomID), func(ctx context.Context) error {
		return s.next.Delete(ctx, roomID)
	})
}
