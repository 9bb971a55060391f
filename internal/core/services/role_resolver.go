package services

import (
	"context"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"
)

type storeRoleResolver struct {
	roles       ports.RoleStore
	defaultRole domain.Role
}

// NewRoleResolver resolves roles from assignments in the store. Identities
// without an assignment get defaultRole.
func NewRoleResolver(roles ports.RoleStore, defaultRole domain.Role) ports.RoleResolver {
	if !defaultRole.Valid() {
		defaultRole = domain.RoleParticipant
	}
	return &storeRoleResolver{roles: roles, defaultRole: defaultRole}
}

func (r *storeRoleResolver) Resolve(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (domain.Role, error) {
	if r.roles == nil {
		return r.defaultRole, nil
	}
	role, ok, err := r.roles.Get(ctx, roomID, identity)
	if err != nil {
		return "", err
	}
	if !ok || !role.Valid() {
		return r.defaultRole, nil
	}
	return role, nil
}
