package ports

import (
	"context"

	"lessonlive/internal/core/domain"
)

type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Delete(ctx context.Context, id domain.RoomID) error
	List(ctx context.Context) ([]*domain.Room, error)
}

// ModerationStore persists kick and ban records per (room, identity).
type ModerationStore interface {
	Put(ctx context.Context, record *domain.ModerationRecord) error
	Get(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.ModerationRecord, error)
	ListByRoom(ctx context.Context, roomID domain.RoomID) ([]*domain.ModerationRecord, error)
	// ClearKick removes a non-permanent record; bans are left untouched.
	ClearKick(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error
	// ClearKicks removes every non-permanent record of the room.
	ClearKicks(ctx context.Context, roomID domain.RoomID) error
	// Lift removes any record, ban included.
	Lift(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error
}

type NoteStore interface {
	Get(ctx context.Context, roomID domain.RoomID) (*domain.NoteDocument, error)
	Save(ctx context.Context, doc *domain.NoteDocument) error
	Delete(ctx context.Context, roomID domain.RoomID) error
}

// RoleStore holds the role assignments the resolver reads from.
type RoleStore interface {
	Get(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (domain.Role, bool, error)
	Assign(ctx context.Context, roomID domain.RoomID, identity domain.Identity, role domain.Role) error
	ListByRoom(ctx context.Context, roomID domain.RoomID) (map[domain.Identity]domain.Role, error)
}
