package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisNoteStore struct {
	client redis.UniversalClient
	keys   keys
}

func NewRedisNoteStore(client redis.UniversalClient, prefix string) ports.NoteStore {
	return &RedisNoteStore{client: client, keys: newKeys(prefix)}
}

func (s *RedisNoteStore) Get(ctx context.Context, roomID domain.RoomID) (*domain.NoteDocument, error) {
	data, err := s.client.Get(ctx, s.keys.note(string(roomID))).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note from Redis: %w", err)
	}

	var doc domain.NoteDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal note: %w", err)
	}
	return &doc, nil
}

func (s *RedisNoteStore) Save(ctx context.Context, doc *domain.NoteDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal note: %w", err)
	}
	if err := s.client.Set(ctx, s.keys.note(string(doc.RoomID)), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save note in Redis: %w", err)
	}
	return nil
}

func (s *RedisNoteStore) Delete(ctx context.Context, roomID domain.RoomID) error {
	n, err := s.client.Del(ctx, s.keys.note(string(roomID))).Result()
	if err != nil {
		return fmt.Errorf("failed to delete note from Redis: %w", err)
	}
	if n == 0 {
		return domain.ErrNoteNotFound
	}
	return nil
}
