package services

import (
	"context"
	"testing"
	"time"

	"lessonlive/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	auth := NewAuthService("secret", "lessonlive", time.Hour)

	token, err := auth.GenerateToken("alice", "Alice", true)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("alice"), claims.Identity)
	assert.Equal(t, "Alice", claims.DisplayName)
	assert.True(t, claims.Admin)
	assert.Equal(t, "alice", claims.Subject)
}

func TestAuthService_Rejects(t *testing.T) {
	auth := NewAuthService("secret", "lessonlive", time.Hour)

	other, err := NewAuthService("other-secret", "lessonlive", time.Hour).GenerateToken("alice", "", false)
	require.NoError(t, err)
	_, err = auth.ValidateToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := NewAuthService("secret", "someone-else", time.Hour).GenerateToken("alice", "", false)
	require.NoError(t, err)
	_, err = auth.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewAuthService("secret", "lessonlive", -time.Minute).GenerateToken("alice", "", false)
	require.NoError(t, err)
	_, err = auth.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	anonymous, err := auth.GenerateToken("", "", false)
	require.NoError(t, err)
	_, err = auth.ValidateToken(anonymous)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = auth.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRoleResolver(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.roles.Assign(context.Background(), "r1", "ta", domain.RoleModerator))

	resolver := NewRoleResolver(h.roles, "")
	role, err := resolver.Resolve(context.Background(), "r1", "ta")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleModerator, role)

	role, err = resolver.Resolve(context.Background(), "r1", "stranger")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleParticipant, role)

	role, err = NewRoleResolver(nil, domain.RoleModerator).Resolve(context.Background(), "r1", "anyone")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleModerator, role)
}
