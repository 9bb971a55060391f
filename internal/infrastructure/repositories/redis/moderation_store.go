package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

// RedisModerationStore keeps one hash per room, field = identity, value =
// JSON record.
type RedisModerationStore struct {
	client redis.UniversalClient
	keys   keys
}

func NewRedisModerationStore(client redis.UniversalClient, prefix string) ports.ModerationStore {
	return &RedisModerationStore{client: client, keys: newKeys(prefix)}
}

func (s *RedisModerationStore) Put(ctx context.Context, record *domain.ModerationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal moderation record: %w", err)
	}
	if err := s.client.HSet(ctx, s.keys.moderation(string(record.RoomID)), string(record.Identity), data).Err(); err != nil {
		return fmt.Errorf("failed to store moderation record: %w", err)
	}
	return nil
}

func (s *RedisModerationStore) Get(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.ModerationRecord, error) {
	data, err := s.client.HGet(ctx, s.keys.moderation(string(roomID)), string(identity)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get moderation record: %w", err)
	}
	return decodeRecord(data)
}

func (s *RedisModerationStore) ListByRoom(ctx context.Context, roomID domain.RoomID) ([]*domain.ModerationRecord, error) {
	all, err := s.client.HGetAll(ctx, s.keys.moderation(string(roomID))).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list moderation records: %w", err)
	}
	out := make([]*domain.ModerationRecord, 0, len(all))
	for _, raw := range all {
		rec, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

// ClearKick deletes the field only if it still holds a kick. WATCH makes a
// concurrent ban win.
func (s *RedisModerationStore) ClearKick(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error {
	key := s.keys.moderation(string(roomID))
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, key, string(identity)).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return err
		}
		if rec.IsPermanent {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, string(identity))
			return nil
		})
		return err
	})
}

func (s *RedisModerationStore) ClearKicks(ctx context.Context, roomID domain.RoomID) error {
	key := s.keys.moderation(string(roomID))
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		all, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		var kicks []string
		for identity, raw := range all {
			rec, err := decodeRecord([]byte(raw))
			if err != nil {
				return err
			}
			if !rec.IsPermanent {
				kicks = append(kicks, identity)
			}
		}
		if len(kicks) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, kicks...)
			return nil
		})
		return err
	})
}

func (s *RedisModerationStore) Lift(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error {
	if err := s.client.HDel(ctx, s.keys.moderation(string(roomID)), string(identity)).Err(); err != nil {
		return fmt.Errorf("failed to lift moderation record: %w", err)
	}
	return nil
}

func (s *RedisModerationStore) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to update moderation records: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to update moderation records: %w", redis.TxFailedErr)
}

func decodeRecord(data []byte) (*domain.ModerationRecord, error) {
	var rec domain.ModerationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal moderation record: %w", err)
	}
	return &rec, nil
}
