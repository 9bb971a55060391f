package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisRoomRepository struct {
	client redis.UniversalClient
	keys   keys
}

func NewRedisRoomRepository(client redis.UniversalClient, prefix string) ports.RoomRepository {
	return &RedisRoomRepository{client: client, keys: newKeys(prefix)}
}

func (r *RedisRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.keys.room(string(room.ID)), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store room in Redis: %w", err)
	}
	if !ok {
		return domain.ErrRoomExists
	}
	if err := r.client.SAdd(ctx, r.keys.rooms(), string(room.ID)).Err(); err != nil {
		return fmt.Errorf("failed to index room: %w", err)
	}
	return nil
}

func (r *RedisRoomRepository) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	data, err := r.client.Get(ctx, r.keys.room(string(id))).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &room, nil
}

func (r *RedisRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.keys.room(string(id)))
		pipe.SRem(ctx, r.keys.rooms(), string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete room from Redis: %w", err)
	}
	if del.Val() == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (r *RedisRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	ids, err := r.client.SMembers(ctx, r.keys.rooms()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms from Redis: %w", err)
	}
	sort.Strings(ids)

	rooms := make([]*domain.Room, 0, len(ids))
	for _, id := range ids {
		room, err := r.GetByID(ctx, domain.RoomID(id))
		if err == domain.ErrRoomNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}
