package services

import (
	"context"
	"testing"
	"time"

	"lessonlive/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandQueue_Ordering(t *testing.T) {
	q := newHandQueue()
	now := time.Now()

	assert.True(t, q.raise("a", "A", now))
	assert.True(t, q.raise("b", "B", now.Add(time.Second)))
	assert.False(t, q.raise("a", "A", now.Add(2*time.Second)))
	assert.Equal(t, 2, q.len())

	assert.True(t, q.remove("a"))
	assert.False(t, q.remove("a"))

	entries := q.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.Identity("b"), entries[0].Identity)

	// entries is a copy.
	entries[0].Identity = "mutated"
	assert.True(t, q.contains("b"))
}

func TestRaiseHand_VisibleToPrivilegedOnly(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.createRoom(t, "r1", 0, "teacher")
	h.join(t, "r1", "teacher", "c-teacher")
	h.join(t, "r1", "alice", "c-alice")
	h.join(t, "r1", "bob", "c-bob")

	require.NoError(t, h.c.RaiseHand(ctx, "c-alice", true))
	require.NoError(t, h.c.RaiseHand(ctx, "c-bob", true))

	raised, ok := h.sink.last("c-bob", domain.EventHandRaised)
	require.True(t, ok)
	assert.Equal(t, domain.HandRaisedPayload{Identity: "bob", IsRaised: true}, raised.Payload)

	queue, ok := h.sink.last("c-teacher", domain.EventHandQueue)
	require.True(t, ok)
	entries := queue.Payload.(domain.HandQueuePayload).Entries
	require.Len(t, entries, 2)
	assert.Equal(t, domain.Identity("alice"), entries[0].Identity)
	assert.Equal(t, domain.Identity("bob"), entries[1].Identity)

	assert.Empty(t, h.sink.events("c-alice", domain.EventHandQueue))

	_, err := h.c.HandQueue(ctx, "c-alice")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := h.c.HandQueue(ctx, "c-teacher")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	assert.True(t, participant(t, h, "r1", "c-alice").IsHandRaised)
}

func TestRaiseHand_HostRequestIgnored(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.createRoom(t, "r1", 0, "teacher")
	h.join(t, "r1", "teacher", "c-teacher")

	require.NoError(t, h.c.RaiseHand(ctx, "c-teacher", true))
	assert.Empty(t, h.sink.events("c-teacher", domain.EventHandRaised))

	got, err := h.c.HandQueue(ctx, "c-teacher")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRaiseHand_ClearedOnLeaveAndPromotion(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.createRoom(t, "r1", 0, "teacher")
	h.join(t, "r1", "teacher", "c-teacher")
	h.join(t, "r1", "alice", "c-alice")
	h.join(t, "r1", "bob", "c-bob")

	require.NoError(t, h.c.RaiseHand(ctx, "c-alice", true))
	require.NoError(t, h.c.RaiseHand(ctx, "c-bob", true))

	require.NoError(t, h.c.Leave(ctx, "c-alice"))
	// Leaving drops the hand silently; only the queue snapshot changes.
	for _, ev := range h.sink.events("c-teacher", domain.EventHandRaised) {
		assert.NotEqual(t, domain.HandRaisedPayload{Identity: "alice", IsRaised: false}, ev.Payload)
	}
	got, err := h.c.HandQueue(ctx, "c-teacher")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.Identity("bob"), got[0].Identity)

	require.NoError(t, h.c.Moderate(ctx, "r1", "teacher", domain.ModerationRequest{
		Target: "bob", Action: domain.ActionPromote, NewRole: domain.RoleModerator,
	}))
	got, err = h.c.HandQueue(ctx, "c-teacher")
	require.NoError(t, err)
	assert.Empty(t, got)

	lowered, ok := h.sink.last("c-teacher", domain.EventHandRaised)
	require.True(t, ok)
	assert.Equal(t, domain.HandRaisedPayload{Identity: "bob", IsRaised: false}, lowered.Payload)
}

func TestRaiseHand_Lower(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.join(t, "r1", "alice", "c-alice")

	require.NoError(t, h.c.RaiseHand(ctx, "c-alice", false))
	assert.Empty(t, h.sink.events("c-alice", domain.EventHandRaised))

	require.NoError(t, h.c.RaiseHand(ctx, "c-alice", true))
	require.NoError(t, h.c.RaiseHand(ctx, "c-alice", false))
	assert.Len(t, h.sink.events("c-alice", domain.EventHandRaised), 2)
	assert.False(t, participant(t, h, "r1", "c-alice").IsHandRaised)
}
