package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lessonlive/internal/core/domain"
)

func (a *roomActor) join(ctx context.Context, req domain.JoinRequest) (*domain.JoinResult, error) {
	st := a.state
	c := a.c
	if st.loadErr != nil {
		return nil, st.loadErr
	}

	// A repeated join on the same connection is answered from current state.
	// A connection never changes identity in place.
	if p, ok := st.participants[req.ConnectionID]; ok {
		if p.Identity != req.Identity {
			return nil, domain.ErrConnectionInUse
		}
		return &domain.JoinResult{ConnectionID: p.ConnectionID, Role: p.Role, Roster: st.roster()}, nil
	}

	role, err := c.resolver.Resolve(ctx, a.id, req.Identity)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role: %w", err)
	}
	if req.RequestedRole != "" && req.RequestedRole != role {
		c.logger.Infow("ignoring client role claim",
			"room_id", a.id,
			"identity", req.Identity,
			"claimed", req.RequestedRole,
			"resolved", role,
		)
	}

	if reason, ok := st.admissionFor(req.Identity, role); !ok {
		return nil, domain.Rejected(reason)
	}

	if st.pendingCreate {
		if err := c.rooms.Create(ctx, st.room); err != nil && !errors.Is(err, domain.ErrRoomExists) {
			return nil, fmt.Errorf("failed to create room: %w", err)
		}
		st.pendingCreate = false
	}

	var replaced domain.ConnectionID
	if prev, ok := st.byIdentity[req.Identity]; ok && prev != req.ConnectionID {
		replaced = prev
		a.send(prev, domain.EventSessionReplaced, domain.RoomClosedPayload{RoomID: a.id})
		a.removeParticipant(prev)
		c.sink.Close(prev, "replaced by a newer connection")
	}

	p := &domain.Participant{
		ConnectionID: req.ConnectionID,
		Identity:     req.Identity,
		DisplayName:  req.DisplayName,
		Role:         role,
		JoinTime:     time.Now(),
		MediaState:   domain.MediaState{MicMuted: true},
	}
	if req.Media.MicMuted != nil {
		p.MicMuted = *req.Media.MicMuted
	}
	if req.Media.VideoEnabled != nil {
		p.VideoEnabled = *req.Media.VideoEnabled
	}
	st.add(p)
	c.bind(req.ConnectionID, a.id)
	c.metrics.ParticipantJoined(a.id, role)

	roster := st.roster()
	joined := domain.JoinedPayload{
		ConnectionID: p.ConnectionID,
		Role:         role,
		Roster:       roster,
		Note:         noteCopy(st.note),
		RecentChat:   st.chat.messages(),
		Replaced:     replaced != "",
	}
	if role.Privileged() {
		joined.HandQueue = st.hands.entries()
	}
	a.send(p.ConnectionID, domain.EventJoined, joined)
	a.broadcastRoster()

	c.logger.Infow("participant joined",
		"room_id", a.id,
		"identity", req.Identity,
		"connection_id", req.ConnectionID,
		"role", role,
		"replaced", replaced,
	)

	return &domain.JoinResult{
		ConnectionID: p.ConnectionID,
		Role:         role,
		Roster:       roster,
		Replaced:     replaced,
	}, nil
}

// leave is Leave and transport disconnect alike. Unknown connections are a
// no-op: duplicate or late leaves are expected.
func (a *roomActor) leave(connID domain.ConnectionID) bool {
	p := a.removeParticipant(connID)
	if p == nil {
		return false
	}
	a.broadcastRoster()
	a.c.logger.Infow("participant left",
		"room_id", a.id,
		"identity", p.Identity,
		"connection_id", connID,
	)
	return true
}

// removeParticipant drops the connection from the roster, releases its screen
// share and clears its hand-raise entry without a lowered event. It does not
// broadcast the roster.
func (a *roomActor) removeParticipant(connID domain.ConnectionID) *domain.Participant {
	st := a.state
	p, ok := st.participants[connID]
	if !ok {
		return nil
	}

	if p.IsPublishingScreen {
		a.releaseScreen(context.Background(), p, false)
	}
	hadHand := st.hands.remove(p.Identity)
	p.IsHandRaised = false

	st.remove(connID)
	a.c.unbind(connID)
	a.c.metrics.ParticipantLeft(a.id, p.Role)

	if hadHand {
		a.publishHandQueue()
	}
	return p
}

func (a *roomActor) admission(ctx context.Context, identity domain.Identity) (*domain.Admission, error) {
	st := a.state
	if st.loadErr != nil {
		if errors.Is(st.loadErr, domain.ErrUnknownRoom) {
			return &domain.Admission{
				RoomID:   a.id,
				Identity: identity,
				Reason:   domain.RejectUnknownRoom,
			}, nil
		}
		return nil, st.loadErr
	}

	role, err := a.c.resolver.Resolve(ctx, a.id, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role: %w", err)
	}

	adm := &domain.Admission{
		RoomID:           a.id,
		Identity:         identity,
		RoomExists:       !st.pendingCreate,
		Live:             !st.idle(),
		ParticipantLimit: st.room.ParticipantLimit,
		ParticipantCount: st.nonHostCount(),
	}
	reason, ok := st.admissionFor(identity, role)
	adm.Admissible = ok
	adm.Reason = reason
	return adm, nil
}

func noteCopy(doc *domain.NoteDocument) *domain.NoteDocument {
	if doc == nil {
		return nil
	}
	cp := *doc
	return &cp
}
