package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomExists         = errors.New("room already exists")
	ErrNoteNotFound       = errors.New("note not found")
	ErrRecordNotFound     = errors.New("moderation record not found")
	ErrNotInRoom          = errors.New("connection is not in a room")
	ErrInvalidRoleChange  = errors.New("invalid role change")
	ErrInvalidAction      = errors.New("invalid moderation action")
	ErrSelfModeration     = errors.New("cannot moderate yourself")
	ErrContentTooLarge    = errors.New("content too large")
	ErrRoomHeldElsewhere  = errors.New("room is owned by another instance")
	ErrRoomClosed         = errors.New("room closed")
	ErrAlreadyInOtherRoom = errors.New("connection already joined another room")
	ErrConnectionInUse    = errors.New("connection is bound to another identity")
)

type RejectReason string

const (
	RejectBanned       RejectReason = "banned"
	RejectKicked       RejectReason = "kicked"
	RejectRoomFull     RejectReason = "room_full"
	RejectUnauthorized RejectReason = "unauthorized"
	RejectUnknownRoom  RejectReason = "unknown_room"
)

// Rejection is a terminal request-level failure. It never says more than the
// reason, so an unauthorized caller learns nothing about other members' roles.
type Rejection struct {
	Reason RejectReason
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected: %s", r.Reason)
}

// Is lets errors.Is match on reason, e.g. errors.Is(err, domain.Rejected(domain.RejectBanned)).
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Reason == r.Reason
}

func Rejected(reason RejectReason) error {
	return &Rejection{Reason: reason}
}

// RejectionReason extracts the reason from err, if it is a rejection.
func RejectionReason(err error) (RejectReason, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

var (
	ErrBanned       = Rejected(RejectBanned)
	ErrKicked       = Rejected(RejectKicked)
	ErrRoomFull     = Rejected(RejectRoomFull)
	ErrUnauthorized = Rejected(RejectUnauthorized)
	ErrUnknownRoom  = Rejected(RejectUnknownRoom)
)
