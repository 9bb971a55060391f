package ports

import (
	"context"
	"time"

	"lessonlive/internal/core/domain"
)

// Coordinator is the live session coordinator. Every mutation of a room is
// serialized through that room's actor.
type Coordinator interface {
	CreateRoom(ctx context.Context, room *domain.Room, hosts []domain.Identity) (*domain.Room, error)
	GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.Room, error)

	Join(ctx context.Context, req domain.JoinRequest) (*domain.JoinResult, error)
	Leave(ctx context.Context, connID domain.ConnectionID) error
	Disconnect(ctx context.Context, connID domain.ConnectionID)
	GetRoster(ctx context.Context, roomID domain.RoomID) ([]domain.Participant, error)
	CheckAdmission(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.Admission, error)

	SetMedia(ctx context.Context, connID domain.ConnectionID, update domain.MediaUpdate) error
	RaiseHand(ctx context.Context, connID domain.ConnectionID, raised bool) error
	HandQueue(ctx context.Context, connID domain.ConnectionID) ([]domain.HandRaise, error)

	RequestScreenShare(ctx context.Context, connID domain.ConnectionID) error
	ReleaseScreenShare(ctx context.Context, connID domain.ConnectionID) error
	HandleTransportStop(ctx context.Context, connID domain.ConnectionID) error

	Moderate(ctx context.Context, roomID domain.RoomID, acting domain.Identity, req domain.ModerationRequest) error
	ClearKick(ctx context.Context, roomID domain.RoomID, target, acting domain.Identity, admin bool) error
	LiftBan(ctx context.Context, roomID domain.RoomID, target domain.Identity) error
	ListModeration(ctx context.Context, roomID domain.RoomID, acting domain.Identity, admin bool) ([]*domain.ModerationRecord, error)
	TeardownRoom(ctx context.Context, roomID domain.RoomID, acting domain.Identity, admin bool) error

	EditNote(ctx context.Context, connID domain.ConnectionID, content string) (*domain.NoteDocument, error)
	GetNote(ctx context.Context, roomID domain.RoomID) (*domain.NoteDocument, error)
	SendChat(ctx context.Context, connID domain.ConnectionID, text string) error

	// ApplyRemoteCommand applies an admin command published by another instance.
	ApplyRemoteCommand(ctx context.Context, cmd RemoteCommand) error
	Shutdown(ctx context.Context) error
}

// RoleResolver maps a stable identity to its role in a room. It is the only
// source of roles; client claims are never consulted.
type RoleResolver interface {
	Resolve(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (domain.Role, error)
}

// EventSink delivers events to live connections. Delivery is asynchronous and
// ordered per connection; Deliver never blocks on the network.
type EventSink interface {
	Deliver(connIDs []domain.ConnectionID, event domain.Event)
	// Close flushes what was queued for the connection, then closes it.
	Close(connID domain.ConnectionID, reason string)
}

// MediaTransport is the external publish/subscribe track service. Calls for one
// connection are issued in order.
type MediaTransport interface {
	SetPublication(ctx context.Context, roomID domain.RoomID, connID domain.ConnectionID, kind domain.PublicationKind, publish bool) error
}

// EventMirror copies room events to observers outside this process.
type EventMirror interface {
	Mirror(ctx context.Context, event domain.Event) error
}

type RemoteCommandType string

const (
	CommandKickCleared  RemoteCommandType = "kick-cleared"
	CommandBanLifted    RemoteCommandType = "ban-lifted"
	CommandRoomTeardown RemoteCommandType = "room-teardown"
)

type RemoteCommand struct {
	Type     RemoteCommandType `json:"type"`
	RoomID   domain.RoomID     `json:"room_id"`
	Identity domain.Identity   `json:"identity,omitempty"`
}

// CommandPublisher broadcasts admin commands to the other instances.
type CommandPublisher interface {
	PublishCommand(ctx context.Context, cmd RemoteCommand) error
}

// RoomLeaser grants exclusive ownership of a live room to one instance.
type RoomLeaser interface {
	Acquire(ctx context.Context, roomID domain.RoomID) (RoomLease, error)
}

type RoomLease interface {
	// Lost is closed when ownership was taken over or expired while held.
	Lost() <-chan struct{}
	Release(ctx context.Context) error
}

type SessionMetrics interface {
	RoomOpened(roomID domain.RoomID)
	RoomClosed(roomID domain.RoomID)
	ParticipantJoined(roomID domain.RoomID, role domain.Role)
	ParticipantLeft(roomID domain.RoomID, role domain.Role)
	JoinRejected(reason domain.RejectReason)
	ModerationApplied(action domain.ModerationAction)
	ScreenShareChanged(roomID domain.RoomID, sharing bool)
	ObserveOperation(op string, d time.Duration)
}
