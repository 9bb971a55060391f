package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, client redis.UniversalClient, k keys) error
}

func migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "rebuild room index from room records",
			Up:          rebuildRoomIndex,
		},
	}
}

// Migrate applies every migration newer than the stored schema version.
func Migrate(ctx context.Context, client redis.UniversalClient, prefix string, logger *zap.SugaredLogger) error {
	k := newKeys(prefix)

	current, err := client.Get(ctx, k.schemaVersion()).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, m := range migrations() {
		if m.Version <= current {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", m.Version, "description", m.Description)
		}
		if err := m.Up(ctx, client, k); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if err := client.Set(ctx, k.schemaVersion(), m.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
		current = m.Version
	}

	if logger != nil {
		logger.Infow("schema is up to date", "version", current)
	}
	return nil
}

func rebuildRoomIndex(ctx context.Context, client redis.UniversalClient, k keys) error {
	base := k.room("")
	iter := client.Scan(ctx, 0, base+"*", 200).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), base)
		if id == "" || strings.Contains(id, ":") {
			continue
		}
		if err := client.SAdd(ctx, k.rooms(), id).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
