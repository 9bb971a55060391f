package services

import (
	"context"
	"errors"
	"testing"

	"lessonlive/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func participant(t *testing.T, h *harness, roomID domain.RoomID, connID domain.ConnectionID) domain.Participant {
	t.Helper()
	roster, err := h.c.GetRoster(context.Background(), roomID)
	require.NoError(t, err)
	for _, p := range roster {
		if p.ConnectionID == connID {
			return p
		}
	}
	t.Fatalf("connection %s not in roster", connID)
	return domain.Participant{}
}

func TestScreenShare_SwapsCameraForScreen(t *testing.T) {
	media := new(MockMediaTransport)
	h := newHarness(t, func(deps *CoordinatorDeps, _ *CoordinatorConfig) {
		deps.Media = media
	})
	ctx := context.Background()

	_, err := h.c.Join(ctx, domain.JoinRequest{
		RoomID: "r1", Identity: "alice", ConnectionID: "c-alice",
		Media: domain.MediaUpdate{VideoEnabled: boolPtr(true)},
	})
	require.NoError(t, err)
	h.join(t, "r1", "bob", "c-bob")

	camOff := media.On("SetPublication", mock.Anything, domain.RoomID("r1"), domain.ConnectionID("c-alice"), domain.PublicationCamera, false).Return(nil).Once()
	media.On("SetPublication", mock.Anything, domain.RoomID("r1"), domain.ConnectionID("c-alice"), domain.PublicationScreen, true).Return(nil).Once().NotBefore(camOff)

	require.NoError(t, h.c.RequestScreenShare(ctx, "c-alice"))

	p := participant(t, h, "r1", "c-alice")
	assert.True(t, p.IsPublishingScreen)
	assert.False(t, p.VideoEnabled)

	ev, ok := h.sink.last("c-bob", domain.EventScreenShareStatus)
	require.True(t, ok)
	assert.Equal(t, domain.ScreenShareStatusPayload{Identity: "alice", IsSharing: true}, ev.Payload)

	// A second request while sharing is a no-op.
	require.NoError(t, h.c.RequestScreenShare(ctx, "c-alice"))

	screenOff := media.On("SetPublication", mock.Anything, domain.RoomID("r1"), domain.ConnectionID("c-alice"), domain.PublicationScreen, false).Return(nil).Once()
	media.On("SetPublication", mock.Anything, domain.RoomID("r1"), domain.ConnectionID("c-alice"), domain.PublicationCamera, true).Return(nil).Once().NotBefore(screenOff)

	require.NoError(t, h.c.ReleaseScreenShare(ctx, "c-alice"))

	p = participant(t, h, "r1", "c-alice")
	assert.False(t, p.IsPublishingScreen)
	assert.True(t, p.VideoEnabled)

	// Releasing again touches nothing.
	require.NoError(t, h.c.ReleaseScreenShare(ctx, "c-alice"))
	media.AssertExpectations(t)
}

func TestScreenShare_CameraWishDuringShare(t *testing.T) {
	media := new(MockMediaTransport)
	media.On("SetPublication", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	h := newHarness(t, func(deps *CoordinatorDeps, _ *CoordinatorConfig) {
		deps.Media = media
	})
	ctx := context.Background()
	h.join(t, "r1", "alice", "c-alice")

	require.NoError(t, h.c.RequestScreenShare(ctx, "c-alice"))
	require.NoError(t, h.c.SetMedia(ctx, "c-alice", domain.MediaUpdate{VideoEnabled: boolPtr(true)}))
	assert.False(t, participant(t, h, "r1", "c-alice").VideoEnabled)

	require.NoError(t, h.c.HandleTransportStop(ctx, "c-alice"))
	p := participant(t, h, "r1", "c-alice")
	assert.False(t, p.IsPublishingScreen)
	assert.True(t, p.VideoEnabled)
	media.AssertCalled(t, "SetPublication", mock.Anything, domain.RoomID("r1"), domain.ConnectionID("c-alice"), domain.PublicationCamera, true)
}

func TestScreenShare_ConcurrentSharers(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.join(t, "r1", "alice", "c-alice")
	h.join(t, "r1", "bob", "c-bob")

	require.NoError(t, h.c.RequestScreenShare(ctx, "c-alice"))
	require.NoError(t, h.c.RequestScreenShare(ctx, "c-bob"))

	assert.True(t, participant(t, h, "r1", "c-alice").IsPublishingScreen)
	assert.True(t, participant(t, h, "r1", "c-bob").IsPublishingScreen)

	// The default transport drives the client over the signaling connection.
	ev, ok := h.sink.last("c-bob", domain.EventPublication)
	require.True(t, ok)
	assert.Equal(t, domain.PublicationPayload{Kind: domain.PublicationScreen, Publish: true}, ev.Payload)

	// Leaving releases the share without a publication directive.
	require.NoError(t, h.c.Leave(ctx, "c-bob"))
	status, ok := h.sink.last("c-alice", domain.EventScreenShareStatus)
	require.True(t, ok)
	assert.Equal(t, domain.ScreenShareStatusPayload{Identity: "bob", IsSharing: false}, status.Payload)
}

func TestScreenShare_DeniedByRole(t *testing.T) {
	h := newHarness(t, func(_ *CoordinatorDeps, cfg *CoordinatorConfig) {
		cfg.ScreenShareRoles = []domain.Role{domain.RoleHost}
	})
	h.createRoom(t, "r1", 0, "teacher")
	h.join(t, "r1", "teacher", "c-teacher")
	h.join(t, "r1", "student", "c-student")

	err := h.c.RequestScreenShare(context.Background(), "c-student")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	ev, ok := h.sink.last("c-student", domain.EventScreenShareDenied)
	require.True(t, ok)
	assert.Equal(t, domain.RejectUnauthorized, ev.Payload.(domain.ScreenShareDeniedPayload).Reason)

	require.NoError(t, h.c.RequestScreenShare(context.Background(), "c-teacher"))
}

func TestScreenShare_TransportFailureRestoresCamera(t *testing.T) {
	media := new(MockMediaTransport)
	h := newHarness(t, func(deps *CoordinatorDeps, _ *CoordinatorConfig) {
		deps.Media = media
	})
	ctx := context.Background()
	_, err := h.c.Join(ctx, domain.JoinRequest{
		RoomID: "r1", Identity: "alice", ConnectionID: "c-alice",
		Media: domain.MediaUpdate{VideoEnabled: boolPtr(true)},
	})
	require.NoError(t, err)

	media.On("SetPublication", mock.Anything, domain.RoomID("r1"), domain.ConnectionID("c-alice"), domain.PublicationCamera, false).Return(nil).Once()
	media.On("SetPublication", mock.Anything, domain.RoomID("r1"), domain.ConnectionID("c-alice"), domain.PublicationScreen, true).Return(errors.New("sfu unavailable")).Once()
	media.On("SetPublication", mock.Anything, domain.RoomID("r1"), domain.ConnectionID("c-alice"), domain.PublicationCamera, true).Return(nil).Once()

	err = h.c.RequestScreenShare(ctx, "c-alice")
	require.Error(t, err)

	p := participant(t, h, "r1", "c-alice")
	assert.False(t, p.IsPublishingScreen)
	assert.True(t, p.VideoEnabled)
	media.AssertExpectations(t)
}

func TestScreenShare_NotInRoom(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.c.RequestScreenShare(context.Background(), "ghost"), domain.ErrNotInRoom)
	assert.NoError(t, h.c.ReleaseScreenShare(context.Background(), "ghost"))
}
