package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lessonlive/internal/core/ports"
	"lessonlive/internal/infrastructure/repositories/memory"
	"lessonlive/internal/infrastructure/repositories/postgres"
	redisrepo "lessonlive/internal/infrastructure/repositories/redis"
	"lessonlive/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory builds the stores selected by configuration. Without the
// distributed mode a failed redis connection falls back to memory stores.
type RepositoryFactory struct {
	useRedis    bool
	redisClient redis.UniversalClient
	keyPrefix   string
	db          *sql.DB

	rooms      ports.RoomRepository
	moderation ports.ModerationStore
	notes      ports.NoteStore
	roles      ports.RoleStore

	logger *zap.SugaredLogger
}

func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	f := &RepositoryFactory{
		keyPrefix: cfg.Storage.Redis.KeyPrefix,
		logger:    logger,
	}

	wantRedis := cfg.Storage.Driver == "redis" || cfg.Storage.ModerationDriver == "redis"
	if wantRedis {
		client, err := redisrepo.NewRedisClient(redisrepo.ClientOptions{
			Address:   cfg.Storage.Redis.Address,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			PoolSize:  cfg.Storage.Redis.PoolSize,
			KeyPrefix: cfg.Storage.Redis.KeyPrefix,
		}, logger)
		switch {
		case err != nil && cfg.Distributed.Enabled:
			return nil, fmt.Errorf("redis is required in distributed mode: %w", err)
		case err != nil:
			logger.Warnw("failed to connect to Redis, falling back to memory repositories", "error", err)
		default:
			f.useRedis = true
			f.redisClient = client
		}
	}

	if f.useRedis && cfg.Storage.Driver == "redis" {
		f.rooms = redisrepo.NewRedisRoomRepository(f.redisClient, f.keyPrefix)
		f.notes = redisrepo.NewRedisNoteStore(f.redisClient, f.keyPrefix)
		f.roles = redisrepo.NewRedisRoleStore(f.redisClient, f.keyPrefix)
		logger.Info("using Redis repositories")
	} else {
		f.rooms = memory.NewMemoryRoomRepository()
		f.notes = memory.NewMemoryNoteStore()
		f.roles = memory.NewMemoryRoleStore()
		logger.Info("using memory repositories")
	}

	moderationDriver := cfg.Storage.ModerationDriver
	if moderationDriver == "" {
		moderationDriver = cfg.Storage.Driver
	}
	switch {
	case moderationDriver == "postgres":
		db, err := postgres.Open(ctx, postgres.Options{
			DSN:             cfg.Storage.Postgres.DSN,
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		f.db = db
		f.moderation = postgres.NewModerationStore(db)
		logger.Info("using Postgres moderation store")
	case moderationDriver == "redis" && f.useRedis:
		f.moderation = redisrepo.NewRedisModerationStore(f.redisClient, f.keyPrefix)
	default:
		f.moderation = memory.NewMemoryModerationStore()
	}

	return f, nil
}

func (f *RepositoryFactory) RoomRepository() ports.RoomRepository   { return f.rooms }
func (f *RepositoryFactory) ModerationStore() ports.ModerationStore { return f.moderation }
func (f *RepositoryFactory) NoteStore() ports.NoteStore             { return f.notes }
func (f *RepositoryFactory) RoleStore() ports.RoleStore             { return f.roles }

// RedisClient is nil when redis is not in use.
func (f *RepositoryFactory) RedisClient() redis.UniversalClient {
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	var errs []error
	if f.redisClient != nil {
		errs = append(errs, f.redisClient.Close())
	}
	if f.db != nil {
		errs = append(errs, f.db.Close())
	}
	return errors.Join(errs...)
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		if err := f.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if f.db != nil {
		if err := f.db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}
