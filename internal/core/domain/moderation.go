package domain

import "time"

type ModerationAction string

const (
	ActionKick    ModerationAction = "kick"
	ActionBan     ModerationAction = "ban"
	ActionPromote ModerationAction = "promote"
	ActionDemote  ModerationAction = "demote"
	ActionMute    ModerationAction = "mute"
)

func (a ModerationAction) Valid() bool {
	switch a {
	case ActionKick, ActionBan, ActionPromote, ActionDemote, ActionMute:
		return true
	}
	return false
}

// ModerationRecord is a kick (IsPermanent=false, blocks rejoin until cleared)
// or a ban (IsPermanent=true). Records outlive the room.
type ModerationRecord struct {
	RoomID      RoomID    `json:"room_id"`
	Identity    Identity  `json:"identity"`
	Reason      string    `json:"reason,omitempty"`
	IssuedBy    Identity  `json:"issued_by"`
	IssuedAt    time.Time `json:"issued_at"`
	IsPermanent bool      `json:"is_permanent"`
}

type ModerationRequest struct {
	Target  Identity         `json:"target"`
	Action  ModerationAction `json:"action"`
	NewRole Role             `json:"new_role,omitempty"`
	Reason  string           `json:"reason,omitempty"`
}
