package services

import (
	"context"
	"sync"
	"testing"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestModerationPolicy(t *testing.T) {
	defaults := NewModerationPolicy(false, false, true)
	strict := NewModerationPolicy(false, false, false)
	open := NewModerationPolicy(true, true, true)

	tests := []struct {
		name   string
		policy ModerationPolicy
		role   domain.Role
		action domain.ModerationAction
		want   bool
	}{
		{"host kicks", defaults, domain.RoleHost, domain.ActionKick, true},
		{"host bans", defaults, domain.RoleHost, domain.ActionBan, true},
		{"moderator mutes", defaults, domain.RoleModerator, domain.ActionMute, true},
		{"moderator kick off by default", defaults, domain.RoleModerator, domain.ActionKick, false},
		{"moderator never promotes", open, domain.RoleModerator, domain.ActionPromote, false},
		{"moderator kicks when enabled", open, domain.RoleModerator, domain.ActionKick, true},
		{"moderator bans when enabled", open, domain.RoleModerator, domain.ActionBan, true},
		{"moderator mute disabled", strict, domain.RoleModerator, domain.ActionMute, false},
		{"participant nothing", open, domain.RoleParticipant, domain.ActionMute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Allows(tt.role, tt.action))
		})
	}

	assert.True(t, defaults.CanActOn(domain.RoleHost, domain.RoleHost))
	assert.True(t, defaults.CanActOn(domain.RoleModerator, domain.RoleParticipant))
	assert.False(t, defaults.CanActOn(domain.RoleModerator, domain.RoleModerator))
	assert.False(t, defaults.CanActOn(domain.RoleModerator, domain.RoleHost))
}

func moderationRoom(t *testing.T, configure func(*CoordinatorDeps, *CoordinatorConfig)) *harness {
	t.Helper()
	h := newHarness(t, configure)
	h.createRoom(t, "r1", 0, "teacher")
	h.join(t, "r1", "teacher", "c-teacher")
	h.join(t, "r1", "student", "c-student")
	return h
}

func TestModerate_Validation(t *testing.T) {
	h := moderationRoom(t, nil)
	ctx := context.Background()

	err := h.c.Moderate(ctx, "r1", "teacher", domain.ModerationRequest{Target: "student", Action: "vaporize"})
	assert.ErrorIs(t, err, domain.ErrInvalidAction)

	err = h.c.Moderate(ctx, "r1", "teacher", domain.ModerationRequest{Target: "teacher", Action: domain.ActionKick})
	assert.ErrorIs(t, err, domain.ErrSelfModeration)

	err = h.c.Moderate(ctx, "r1", "student", domain.ModerationRequest{Target: "teacher", Action: domain.ActionKick})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// A non-host aiming a host-only action at themselves is still unauthorized.
	for _, action := range []domain.ModerationAction{domain.ActionKick, domain.ActionBan, domain.ActionPromote} {
		err = h.c.Moderate(ctx, "r1", "student", domain.ModerationRequest{Target: "student", Action: action, NewRole: domain.RoleHost})
		assert.ErrorIs(t, err, domain.ErrUnauthorized, action)
	}

	err = h.c.Moderate(ctx, "unknown-room", "teacher", domain.ModerationRequest{Target: "student", Action: domain.ActionKick})
	assert.ErrorIs(t, err, domain.ErrUnknownRoom)
}

func TestModerate_KickThenClear(t *testing.T) {
	h := moderationRoom(t, nil)
	ctx := context.Background()

	require.NoError(t, h.c.Moderate(ctx, "r1", "teacher", domain.ModerationRequest{
		Target: "student", Action: domain.ActionKick, Reason: "spam",
	}))

	ev, ok := h.sink.last("c-student", domain.EventKicked)
	require.True(t, ok)
	payload := ev.Payload.(domain.KickedPayload)
	assert.Equal(t, "spam", payload.Reason)
	assert.False(t, payload.IsBanned)
	assert.True(t, h.sink.wasClosed("c-student"))

	roster, err := h.c.GetRoster(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Identity{"teacher"}, identities(roster))

	_, err = h.c.Join(ctx, domain.JoinRequest{RoomID: "r1", Identity: "student", ConnectionID: "c-student-2"})
	reason, rejected := domain.RejectionReason(err)
	require.True(t, rejected)
	assert.Equal(t, domain.RejectKicked, reason)

	err = h.c.ClearKick(ctx, "r1", "student", "student", false)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, h.c.ClearKick(ctx, "r1", "student", "teacher", false))
	h.join(t, "r1", "student", "c-student-3")
}

func TestModerate_KickAbsentIdentityIsRecorded(t *testing.T) {
	h := moderationRoom(t, nil)
	ctx := context.Background()

	require.NoError(t, h.c.Moderate(ctx, "r1", "teacher", domain.ModerationRequest{Target: "latecomer", Action: domain.ActionKick}))

	rec, err := h.moderation.Get(ctx, "r1", "latecomer")
	require.NoError(t, err)
	assert.False(t, rec.IsPermanent)
	assert.Equal(t, domain.Identity("teacher"), rec.IssuedBy)
}

func TestModerate_BanOutlivesTeardown(t *testing.T) {
	h := moderationRoom(t, nil)
	ctx := context.Background()

	require.NoError(t, h.c.Moderate(ctx, "r1", "teacher", domain.ModerationRequest{Target: "student", Action: domain.ActionBan}))
	ev, ok := h.sink.last("c-student", domain.EventKicked)
	require.True(t, ok)
	assert.True(t, ev.Payload.(domain.KickedPayload).IsBanned)

	// A kick on top of a ban never downgrades it.
	require.NoError(t, h.c.Moderate(ctx, "r1", "teacher", domain.ModerationRequest{Target: "student", Action: domain.ActionKick}))
	rec, err := h.moderation.Get(ctx, "r1", "student")
	require.NoError(t, err)
	assert.True(t, rec.IsPermanent)

	require.NoError(t, h.c.TeardownRoom(ctx, "r1", "teacher", false))
	assert.Eventually(t, func() bool { return h.liveActors() == 0 }, timeout, tick)

	h.createRoom(t, "r1", 0, "teacher")
	_, err = h.c.Join(ctx, domain.JoinRequest{RoomID: "r1", Identity: "student", ConnectionID: "c-student-2"})
	reason, rejected := domain.RejectionReason(err)
	require.True(t, rejected)
	assert.Equal(t, domain.RejectBanned, reason)

	// Clearing a kick does not lift a ban.
	require.NoError(t, h.c.ClearKick(ctx, "r1", "student", "teacher", false))
	_, err = h.c.Join(ctx, domain.JoinRequest{RoomID: "r1", Identity: "student", ConnectionID: "c-student-3"})
	assert.ErrorIs(t, err, domain.ErrBanned)

	require.NoError(t, h.c.LiftBan(ctx, "r1", "student"))
	h.join(t, "r1", "student", "c-student-4")
}

func TestModerate_PromoteAndDemoteSurviveReconnect(t *testing.T) {
	h := moderationRoom(t, nil)
	ctx := context.Background()

	require.NoError(t, h.c.Moderate(ctx, "r1", "teacher", domain.ModerationRequest{
		Target: "student", Action: domain.ActionPromote, NewRole: domain.RoleModerator,
	}))
	ev, ok := h.sink.last("c-teacher", domain.EventPromoted)
	require.True(t, ok)
	assert.Equal(t, domain.PromotedPayload{Identity: "student", NewRole: domain.RoleModerator}, ev.Payload)

	// A promoted moderator gets the hand queue right away.
	_, ok = h.sink.last("c-student", domain.EventHandQueue)
	assert.True(t, ok)

	require.NoError(t, h.c.Leave(ctx, "c-student"))
	res := h.join(t, "r1", "student", "c-student-2")
	assert.Equal(t, domain.RoleModerator, res.Role)

	err := h.c.Moderate(ctx, "r1", "teacher", domain.ModerationRequest{
		Target: "student", Action: domain.ActionPromote, NewRole: domain.RoleParticipant,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRoleChange)

	require.NoError(t, h.c.Moderate(ctx, "r1", "teacher", domain.ModerationRequest{
		Target: "student", Action: domain.ActionDemote, NewRole: domain.RoleParticipant,
	}))
	require.NoError(t, h.c.Leave(ctx, "c-student-2"))
	res = h.join(t, "r1", "student", "c-student-3")
	assert.Equal(t, domain.RoleParticipant, res.Role)
}

func TestModerate_ModeratorMutesParticipant(t *testing.T) {
	h := moderationRoom(t, nil)
	ctx := context.Background()
	require.NoError(t, h.roles.Assign(ctx, "r1", "ta", domain.RoleModerator))
	h.join(t, "r1", "ta", "c-ta")
	require.NoError(t, h.c.SetMedia(ctx, "c-student", domain.MediaUpdate{MicMuted: boolPtr(false)}))

	require.NoError(t, h.c.Moderate(ctx, "r1", "ta", domain.ModerationRequest{Target: "student", Action: domain.ActionMute}))
	ev, ok := h.sink.last("c-student", domain.EventForceMuted)
	require.True(t, ok)
	assert.Equal(t, domain.Identity("ta"), ev.Payload.(domain.ForceMutedPayload).By)

	roster, err := h.c.GetRoster(ctx, "r1")
	require.NoError(t, err)
	for _, p := range roster {
		if p.Identity == "student" {
			assert.True(t, p.MicMuted)
		}
	}

	// Moderators cannot kick by default, nor act on the host.
	err = h.c.Moderate(ctx, "r1", "ta", domain.ModerationRequest{Target: "student", Action: domain.ActionKick})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	err = h.c.Moderate(ctx, "r1", "ta", domain.ModerationRequest{Target: "teacher", Action: domain.ActionMute})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestListModeration(t *testing.T) {
	h := moderationRoom(t, nil)
	ctx := context.Background()
	require.NoError(t, h.c.Moderate(ctx, "r1", "teacher", domain.ModerationRequest{Target: "student", Action: domain.ActionBan}))

	_, err := h.c.ListModeration(ctx, "r1", "student", false)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	records, err := h.c.ListModeration(ctx, "r1", "teacher", false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.Identity("student"), records[0].Identity)

	records, err = h.c.ListModeration(ctx, "r1", "someone", true)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestClearKick_PublishesCommand(t *testing.T) {
	publisher := new(MockCommandPublisher)
	h := moderationRoom(t, func(deps *CoordinatorDeps, _ *CoordinatorConfig) {
		deps.Commands = publisher
	})
	publisher.On("PublishCommand", mock.Anything, ports.RemoteCommand{
		Type: ports.CommandKickCleared, RoomID: "r1", Identity: "student",
	}).Return(nil).Once()
	publisher.On("PublishCommand", mock.Anything, ports.RemoteCommand{
		Type: ports.CommandBanLifted, RoomID: "r1", Identity: "student",
	}).Return(nil).Once()

	require.NoError(t, h.c.ClearKick(context.Background(), "r1", "student", "", true))
	require.NoError(t, h.c.LiftBan(context.Background(), "r1", "student"))
	publisher.AssertExpectations(t)
}

func TestConcurrentBanAndJoin(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := moderationRoom(t, nil)
		ctx := context.Background()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = h.c.Join(ctx, domain.JoinRequest{RoomID: "r1", Identity: "intruder", ConnectionID: "c-intruder"})
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, h.c.Moderate(ctx, "r1", "teacher", domain.ModerationRequest{Target: "intruder", Action: domain.ActionBan}))
		}()
		wg.Wait()

		roster, err := h.c.GetRoster(ctx, "r1")
		require.NoError(t, err)
		assert.NotContains(t, identities(roster), domain.Identity("intruder"))
	}
}
