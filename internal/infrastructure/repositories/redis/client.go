package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type ClientOptions struct {
	Address   string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// NewRedisClient connects, pings and brings the key schema up to date.
func NewRedisClient(opts ClientOptions, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if err := Migrate(ctx, client, opts.KeyPrefix, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if logger != nil {
		logger.Infow("connected to Redis",
			"address", opts.Address,
			"db", opts.DB,
			"pool_size", opts.PoolSize,
		)
	}
	return client, nil
}

// keys builds every key this package touches so the layout lives in one place.
type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = "lessonlive"
	}
	return keys{prefix: prefix}
}

func (k keys) rooms() string               { return k.prefix + ":rooms" }
func (k keys) room(id string) string       { return k.prefix + ":room:" + id }
func (k keys) moderation(id string) string { return k.room(id) + ":moderation" }
func (k keys) roles(id string) string      { return k.room(id) + ":roles" }
func (k keys) note(id string) string       { return k.room(id) + ":note" }
func (k keys) schemaVersion() string       { return k.prefix + ":schema:version" }
