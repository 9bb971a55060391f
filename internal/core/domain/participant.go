package domain

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleHost        Role = "host"
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
)

// Rank orders roles for roster grouping and authority checks; higher wins.
func (r Role) Rank() int {
	switch r {
	case RoleHost:
		return 3
	case RoleModerator:
		return 2
	case RoleParticipant:
		return 1
	default:
		return 0
	}
}

func (r Role) Valid() bool {
	return r.Rank() > 0
}

// Privileged roles see the hand-raise queue.
func (r Role) Privileged() bool {
	return r == RoleHost || r == RoleModerator
}

func ParseRole(s string) (Role, error) {
	role := Role(s)
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return role, nil
}

// MediaState holds the per-participant publication flags. The room actor is
// the only writer.
type MediaState struct {
	MicMuted           bool `json:"mic_muted"`
	VideoEnabled       bool `json:"video_enabled"`
	IsHandRaised       bool `json:"is_hand_raised"`
	IsPublishingScreen bool `json:"is_publishing_screen"`
}

type Participant struct {
	ConnectionID ConnectionID `json:"connection_id"`
	Identity     Identity     `json:"identity"`
	DisplayName  string       `json:"display_name"`
	Role         Role         `json:"role"`
	JoinTime     time.Time    `json:"join_time"`
	MediaState

	// resumeCamera remembers whether the camera was on before a screen share
	// took the video slot.
	resumeCamera bool
}

func (p *Participant) ResumeCamera() bool {
	return p.resumeCamera
}

func (p *Participant) SetResumeCamera(v bool) {
	p.resumeCamera = v
}

// Snapshot returns a copy safe to hand outside the room actor.
func (p *Participant) Snapshot() Participant {
	cp := *p
	cp.resumeCamera = false
	return cp
}

type HandRaise struct {
	Identity    Identity  `json:"identity"`
	DisplayName string    `json:"display_name"`
	RaisedAt    time.Time `json:"raised_at"`
}
