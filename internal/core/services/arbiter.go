package services

import (
	"context"
	"fmt"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"
)

// A participant has one video slot: camera or screen, never both. Several
// participants may share their screens at the same time.

func (a *roomActor) requestScreenShare(ctx context.Context, connID domain.ConnectionID) error {
	st := a.state
	c := a.c
	p, ok := st.participants[connID]
	if !ok {
		return domain.ErrNotInRoom
	}
	if !c.cfg.screenShareAllowed(p.Role) {
		a.send(connID, domain.EventScreenShareDenied, domain.ScreenShareDeniedPayload{Reason: domain.RejectUnauthorized})
		return domain.ErrUnauthorized
	}
	if p.IsPublishingScreen {
		return nil
	}

	// Unpublish the camera before the screen goes out.
	cameraWasOn := p.VideoEnabled
	if cameraWasOn {
		if err := c.media.SetPublication(ctx, a.id, connID, domain.PublicationCamera, false); err != nil {
			return fmt.Errorf("failed to unpublish camera: %w", err)
		}
		p.VideoEnabled = false
	}
	if err := c.media.SetPublication(ctx, a.id, connID, domain.PublicationScreen, true); err != nil {
		if cameraWasOn {
			if rerr := c.media.SetPublication(ctx, a.id, connID, domain.PublicationCamera, true); rerr == nil {
				p.VideoEnabled = true
			}
		}
		return fmt.Errorf("failed to publish screen: %w", err)
	}

	p.SetResumeCamera(cameraWasOn)
	p.IsPublishingScreen = true
	st.addSharer(connID)
	c.metrics.ScreenShareChanged(a.id, true)

	a.broadcast(domain.EventScreenShareStatus, domain.ScreenShareStatusPayload{Identity: p.Identity, IsSharing: true})
	a.broadcastRoster()
	return nil
}

// releaseScreenShare is the single release path, used for explicit release and
// for transport-initiated stops. Releasing a slot that is not held is a no-op.
func (a *roomActor) releaseScreenShare(ctx context.Context, connID domain.ConnectionID) {
	p, ok := a.state.participants[connID]
	if !ok || !p.IsPublishingScreen {
		return
	}
	a.releaseScreen(ctx, p, true)
	a.broadcastRoster()
}

// releaseScreen clears the flag and, for a connection that stays in the room,
// restores the camera if it was on before the share.
func (a *roomActor) releaseScreen(ctx context.Context, p *domain.Participant, stays bool) {
	st := a.state
	c := a.c

	p.IsPublishingScreen = false
	st.removeSharer(p.ConnectionID)

	if stays {
		if err := c.media.SetPublication(ctx, a.id, p.ConnectionID, domain.PublicationScreen, false); err != nil {
			c.logger.Warnw("failed to unpublish screen", "room_id", a.id, "connection_id", p.ConnectionID, "error", err)
		}
		if p.ResumeCamera() {
			if err := c.media.SetPublication(ctx, a.id, p.ConnectionID, domain.PublicationCamera, true); err != nil {
				c.logger.Warnw("failed to restore camera", "room_id", a.id, "connection_id", p.ConnectionID, "error", err)
			} else {
				p.VideoEnabled = true
			}
		}
	}
	p.SetResumeCamera(false)
	c.metrics.ScreenShareChanged(a.id, false)

	a.broadcast(domain.EventScreenShareStatus, domain.ScreenShareStatusPayload{Identity: p.Identity, IsSharing: false})
}

// setMedia applies the participant's own mic and camera toggles. Turning the
// camera on during a screen share only records the wish.
func (a *roomActor) setMedia(connID domain.ConnectionID, update domain.MediaUpdate) {
	p, ok := a.state.participants[connID]
	if !ok {
		return
	}
	changed := false
	if update.MicMuted != nil && p.MicMuted != *update.MicMuted {
		p.MicMuted = *update.MicMuted
		changed = true
	}
	if update.VideoEnabled != nil {
		if p.IsPublishingScreen {
			p.SetResumeCamera(*update.VideoEnabled)
		} else if p.VideoEnabled != *update.VideoEnabled {
			p.VideoEnabled = *update.VideoEnabled
			changed = true
		}
	}
	if changed {
		a.broadcastRoster()
	}
}

// sinkMediaTransport drives the client's own media transport with publication
// directives sent over the signaling connection.
type sinkMediaTransport struct {
	sink ports.EventSink
}

func NewSignalingMediaTransport(sink ports.EventSink) ports.MediaTransport {
	return &sinkMediaTransport{sink: sink}
}

func (t *sinkMediaTransport) SetPublication(_ context.Context, roomID domain.RoomID, connID domain.ConnectionID, kind domain.PublicationKind, publish bool) error {
	t.sink.Deliver([]domain.ConnectionID{connID}, domain.Event{
		Type:    domain.EventPublication,
		RoomID:  roomID,
		Payload: domain.PublicationPayload{Kind: kind, Publish: publish},
	})
	return nil
}
