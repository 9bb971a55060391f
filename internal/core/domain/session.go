package domain

type JoinRequest struct {
	RoomID       RoomID
	Identity     Identity
	DisplayName  string
	ConnectionID ConnectionID
	// RequestedRole is what the client claims. It is logged and never trusted.
	RequestedRole Role
	Media         MediaUpdate
}

type JoinResult struct {
	ConnectionID ConnectionID
	Role         Role
	Roster       []Participant
	// Replaced is the previous connection of the same identity, if any.
	Replaced ConnectionID
}

// MediaUpdate carries the toggles a participant sends for their own tracks;
// nil fields are left as they are.
type MediaUpdate struct {
	MicMuted     *bool `json:"mic_muted,omitempty"`
	VideoEnabled *bool `json:"video_enabled,omitempty"`
}
