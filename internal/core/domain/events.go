package domain

import "time"

type EventType string

// Outbound signaling events.
const (
	EventJoined             EventType = "joined"
	EventJoinRejected       EventType = "join-rejected"
	EventParticipantsUpdate EventType = "participants-update"
	EventHandRaised         EventType = "hand-raised"
	EventHandQueue          EventType = "hand-queue"
	EventScreenShareStatus  EventType = "screen-share-status"
	EventScreenShareDenied  EventType = "screen-share-denied"
	EventPublication        EventType = "publication"
	EventKicked             EventType = "kicked"
	EventPromoted           EventType = "promote-participant"
	EventForceMuted         EventType = "force-muted"
	EventNoteUpdated        EventType = "note-updated"
	EventChatMessage        EventType = "chat-message"
	EventRoomClosed         EventType = "room-closed"
	EventSessionReplaced    EventType = "session-replaced"
	EventError              EventType = "error"
)

// Event is what the room actor hands to the event sink. Payload is one of the
// structs below and is marshalled by the transport.
type Event struct {
	Type    EventType   `json:"type"`
	RoomID  RoomID      `json:"room_id"`
	Payload interface{} `json:"payload,omitempty"`
}

type JoinedPayload struct {
	ConnectionID ConnectionID  `json:"connection_id"`
	Role         Role          `json:"role"`
	Roster       []Participant `json:"roster"`
	Note         *NoteDocument `json:"note,omitempty"`
	HandQueue    []HandRaise   `json:"hand_queue,omitempty"`
	RecentChat   []ChatMessage `json:"recent_chat,omitempty"`
	Replaced     bool          `json:"replaced,omitempty"`
}

type JoinRejectedPayload struct {
	Reason RejectReason `json:"reason"`
}

// ParticipantsUpdatePayload always carries the full roster, so duplicates and
// reordering self-correct on the receiving side.
type ParticipantsUpdatePayload struct {
	Roster []Participant `json:"roster"`
}

type HandRaisedPayload struct {
	Identity Identity `json:"identity"`
	IsRaised bool     `json:"is_raised"`
}

type HandQueuePayload struct {
	Entries []HandRaise `json:"entries"`
}

type ScreenShareStatusPayload struct {
	Identity  Identity `json:"identity"`
	IsSharing bool     `json:"is_sharing"`
}

type ScreenShareDeniedPayload struct {
	Reason RejectReason `json:"reason"`
}

type PublicationKind string

const (
	PublicationCamera PublicationKind = "camera"
	PublicationScreen PublicationKind = "screen"
)

// PublicationPayload instructs the client's media transport to publish or
// unpublish one track.
type PublicationPayload struct {
	Kind    PublicationKind `json:"kind"`
	Publish bool            `json:"publish"`
}

type KickedPayload struct {
	RoomID   RoomID `json:"room_id"`
	Reason   string `json:"reason,omitempty"`
	IsBanned bool   `json:"is_banned"`
}

type PromotedPayload struct {
	Identity Identity `json:"identity"`
	NewRole  Role     `json:"new_role"`
}

type ForceMutedPayload struct {
	By Identity `json:"by"`
}

type NoteUpdatedPayload struct {
	Content    string    `json:"content"`
	Version    int64     `json:"version"`
	LastWriter Identity  `json:"last_writer"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type RoomClosedPayload struct {
	RoomID RoomID `json:"room_id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
