package redis

import (
	"context"
	"fmt"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisRoleStore struct {
	client redis.UniversalClient
	keys   keys
}

func NewRedisRoleStore(client redis.UniversalClient, prefix string) ports.RoleStore {
	return &RedisRoleStore{client: client, keys: newKeys(prefix)}
}

func (s *RedisRoleStore) Get(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (domain.Role, bool, error) {
	v, err := s.client.HGet(ctx, s.keys.roles(string(roomID)), string(identity)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get role from Redis: %w", err)
	}
	return domain.Role(v), true, nil
}

func (s *RedisRoleStore) Assign(ctx context.Context, roomID domain.RoomID, identity domain.Identity, role domain.Role) error {
	if !role.Valid() {
		return domain.ErrInvalidRoleChange
	}
	if err := s.client.HSet(ctx, s.keys.roles(string(roomID)), string(identity), string(role)).Err(); err != nil {
		return fmt.Errorf("failed to assign role in Redis: %w", err)
	}
	return nil
}

func (s *RedisRoleStore) ListByRoom(ctx context.Context, roomID domain.RoomID) (map[domain.Identity]domain.Role, error) {
	all, err := s.client.HGetAll(ctx, s.keys.roles(string(roomID))).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list roles from Redis: %w", err)
	}
	out := make(map[domain.Identity]domain.Role, len(all))
	for identity, role := range all {
		out[domain.Identity(identity)] = domain.Role(role)
	}
	return out, nil
}
