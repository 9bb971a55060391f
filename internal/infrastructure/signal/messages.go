package signal

import (
	"encoding/json"

	"lessonlive/internal/core/domain"
)

// Inbound message types.
const (
	TypeJoin               = "join"
	TypeLeave              = "leave"
	TypeRaiseHand          = "raise-hand"
	TypeSetMedia           = "set-media"
	TypeRequestScreenShare = "request-screen-share"
	TypeReleaseScreenShare = "release-screen-share"
	TypeScreenShareEnded   = "screen-share-ended"
	TypeModerate           = "moderate"
	TypeEditNote           = "edit-note"
	TypeChat               = "chat"
	TypeHandQueue          = "hand-queue"
	TypeEndRoom            = "end-room"
)

// Message is the envelope of every inbound frame. Outbound frames are
// domain.Event, which marshals to the same shape.
type Message struct {
	Type    string          `json:"type"`
	RoomID  domain.RoomID   `json:"room_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	DisplayName string             `json:"display_name"`
	Role        domain.Role        `json:"role,omitempty"`
	Media       domain.MediaUpdate `json:"media"`
}

// RaiseHandPayload lowers the hand when Raised is false; a missing field
// raises it.
type RaiseHandPayload struct {
	Raised *bool `json:"raised,omitempty"`
}

type EditNotePayload struct {
	Content string `json:"content"`
}

type ChatPayload struct {
	Text string `json:"text"`
}
