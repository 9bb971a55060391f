package domain

import (
	"time"
)

type RoomID string
type Identity string
type ConnectionID string

type RoomKind string

const (
	RoomKindLiveSession RoomKind = "live-session"
	RoomKindOfficeHours RoomKind = "office-hours"
)

// Room is the persisted description of a live session scope. Live state
// (roster, queue, sharers) is owned by the room actor and never stored here.
type Room struct {
	ID               RoomID    `json:"id"`
	Kind             RoomKind  `json:"kind"`
	ParticipantLimit int       `json:"participant_limit"` // 0 = unlimited, hosts excluded
	CreatedBy        Identity  `json:"created_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Unlimited reports whether the room accepts any number of non-host members.
func (r *Room) Unlimited() bool {
	return r.ParticipantLimit <= 0
}

// Admission is the answer to a pre-join check made without a connection.
type Admission struct {
	RoomID           RoomID       `json:"room_id"`
	Identity         Identity     `json:"identity"`
	RoomExists       bool         `json:"room_exists"`
	Live             bool         `json:"live"`
	ParticipantLimit int          `json:"participant_limit"`
	ParticipantCount int          `json:"participant_count"`
	Admissible       bool         `json:"admissible"`
	Reason           RejectReason `json:"reason,omitempty"`
}
